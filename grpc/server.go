package grpc

import (
	"crypto/tls"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/artie-robot/artie/logging"
)

// ServerOptions configures NewServer.
type ServerOptions struct {
	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
	// Interceptors run after the timeout, caller, and request ID interceptors.
	Interceptors []grpc.UnaryServerInterceptor
}

// NewServer returns a gRPC server with the standard interceptor chain installed.
func NewServer(opts ServerOptions) (*grpc.Server, error) {
	interceptors := append([]grpc.UnaryServerInterceptor{
		EnsureTimeoutUnaryServerInterceptor,
		CallerUnaryServerInterceptor,
		logging.UnaryServerInterceptor,
	}, opts.Interceptors...)
	serverOpts := []grpc.ServerOption{grpc.ChainUnaryInterceptor(interceptors...)}

	if opts.CertFile != "" || opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "loading TLS key pair")
		}
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(&tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})))
	}
	return grpc.NewServer(serverOpts...), nil
}
