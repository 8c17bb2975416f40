package grpc

import (
	"crypto/tls"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/artie-robot/artie/logging"
)

// DialOptions configures Dial.
type DialOptions struct {
	// Caller is attached to every request, see GetCaller.
	Caller string
	// TLS enables transport security. InsecureSkipVerify accepts the self-signed certificates
	// the drivers generate.
	TLS                bool
	InsecureSkipVerify bool
	// Extra options, such as a bufconn dialer in tests.
	Extra []grpc.DialOption
}

// Dial creates a client connection to a driver service at address. The connection is established
// lazily on the first call.
func Dial(address string, opts DialOptions) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if opts.TLS {
		//nolint:gosec
		creds = credentials.NewTLS(&tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify, MinVersion: tls.VersionTLS12})
	}
	callerInts := &CallerInterceptors{Caller: opts.Caller}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithChainUnaryInterceptor(
			EnsureTimeoutUnaryClientInterceptor,
			callerInts.UnaryClientInterceptor,
			logging.UnaryClientInterceptor,
		),
	}, opts.Extra...)

	// passthrough leaves name resolution to the dialer, as grpc.Dial does.
	conn, err := grpc.NewClient("passthrough:///"+address, dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", address)
	}
	return conn, nil
}
