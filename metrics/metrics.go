// Package metrics builds the Prometheus registry each process exposes and serves it over HTTP.
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"goji.io"
	"goji.io/pat"

	"github.com/artie-robot/artie/logging"
)

// NewRegistry returns a registry with the Go runtime collector and, where procfs is available, the
// process usage collector.
func NewRegistry(logger logging.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	sys, err := newSelfSysCollector()
	if err != nil {
		logger.Debugw("process usage metrics unavailable", "error", err)
		return reg
	}
	reg.MustRegister(sys)
	return reg
}

// Handler returns the /metrics handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Server serves /metrics until its context is cancelled.
type Server struct {
	httpServer *http.Server
	logger     logging.Logger
}

// NewServer builds a metrics server listening on port.
func NewServer(port int, reg *prometheus.Registry, logger logging.Logger) *Server {
	mux := goji.NewMux()
	mux.Handle(pat.Get("/metrics"), Handler(reg))
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Serve accepts connections on listener until ctx is done. A nil listener listens on the
// configured port.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", s.httpServer.Addr)
		if err != nil {
			return err
		}
	}
	s.logger.Infow("serving metrics", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
