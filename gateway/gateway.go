// Package gateway serves the HTTP API of the driver services. Handlers only check their query
// parameters; everything else is left to the services behind the client.
package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/cors"
	"goji.io"
	"goji.io/pat"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/artie-robot/artie/boardconfig"
	"github.com/artie-robot/artie/client"
	"github.com/artie-robot/artie/logging"
	"github.com/artie-robot/artie/metrics"
)

// DefaultPort is the port the gateway listens on.
const DefaultPort = 8782

// Query parameters and envelope keys.
const (
	ArtieIDParam = "artie-id"
	IDParam      = "id"
	StateParam   = "state"
	DisplayParam = "display"
	SideKey      = "eyebrow-side"
	ErrorKey     = "error"
	FailedKey    = "failed"

	unknown = "Unknown"
)

// RequestIDHeader carries the request ID in and out of the gateway.
const RequestIDHeader = "X-Request-Id"

// Server routes HTTP requests to the driver services.
type Server struct {
	client   *client.Client
	board    *boardconfig.Config
	registry *prometheus.Registry
	logger   logging.Logger

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	httpServer *http.Server
}

// New returns a Server calling the services through c. Metrics are registered on, and served
// from, reg.
func New(c *client.Client, board *boardconfig.Config, reg *prometheus.Registry, port int, logger logging.Logger) *Server {
	factory := promauto.With(reg)
	s := &Server{
		client:   c,
		board:    board,
		registry: reg,
		logger:   logger,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "artie_api_requests_total",
			Help: "Number of API requests by route and status code.",
		}, []string{"route", "code"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "artie_api_request_seconds",
			Help:    "Time spent serving API requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routes of the API.
func (s *Server) Handler() http.Handler {
	mux := goji.NewMux()
	mux.Use(s.withRequestID)

	route := func(p *pat.Pattern, name string, h handlerFunc) {
		mux.Handle(p, s.instrument(name, h))
	}

	route(pat.Post("/reset/mcu"), "reset_mcu", s.resetMCU)
	route(pat.Post("/reset/sbc"), "reset_sbc", s.resetSBC)
	route(pat.Get("/reset/status"), "reset_status", s.status(client.Reset))
	route(pat.Get("/reset/self-test"), "reset_self_test", s.selfTest(client.Reset))
	route(pat.Post("/reset/self-test"), "reset_self_test", s.selfTest(client.Reset))

	route(pat.Post("/mouth/led"), "set_mouth_led", s.setMouthLED)
	route(pat.Get("/mouth/led"), "get_mouth_led", s.getMouthLED)
	route(pat.Post("/mouth/lcd/test"), "test_mouth_display", s.mouthLCD(func(ctx context.Context, m *client.MouthClient) error {
		return m.LcdTest(ctx)
	}))
	route(pat.Post("/mouth/lcd/off"), "clear_mouth_display", s.mouthLCD(func(ctx context.Context, m *client.MouthClient) error {
		return m.LcdOff(ctx)
	}))
	route(pat.Post("/mouth/lcd"), "set_mouth_display", s.setMouthDisplay)
	route(pat.Get("/mouth/lcd"), "get_mouth_display", s.getMouthDisplay)
	route(pat.Post("/mouth/fw"), "reload_mouth_fw", s.firmwareLoad(client.Mouth))
	route(pat.Get("/mouth/status"), "get_mouth_status", s.status(client.Mouth))
	route(pat.Get("/mouth/self-test"), "mouth_self_test", s.selfTest(client.Mouth))
	route(pat.Post("/mouth/self-test"), "mouth_self_test", s.selfTest(client.Mouth))

	route(pat.Post("/eyebrows/led/:side"), "set_eyebrows_led", s.setEyebrowsLED)
	route(pat.Get("/eyebrows/led/:side"), "get_eyebrows_led", s.getEyebrowsLED)
	route(pat.Post("/eyebrows/lcd/:side/test"), "test_eyebrows_display", s.eyebrowsLCD(eyebrowsLcdTest))
	route(pat.Post("/eyebrows/lcd/:side/off"), "clear_eyebrows_display", s.eyebrowsLCD(eyebrowsLcdOff))
	route(pat.Post("/eyebrows/lcd/:side"), "set_eyebrows_display", s.setEyebrowsDisplay)
	route(pat.Get("/eyebrows/lcd/:side"), "get_eyebrows_display", s.getEyebrowsDisplay)
	route(pat.Post("/eyebrows/fw"), "reload_eyebrows_fw", s.firmwareLoad(client.Eyebrows))
	route(pat.Get("/eyebrows/status"), "get_eyebrows_status", s.status(client.Eyebrows))
	route(pat.Get("/eyebrows/self-test"), "eyebrows_self_test", s.selfTest(client.Eyebrows))
	route(pat.Post("/eyebrows/self-test"), "eyebrows_self_test", s.selfTest(client.Eyebrows))

	mux.Handle(pat.Get("/metrics"), metrics.Handler(s.registry))

	return cors.AllowAll().Handler(mux)
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
	s.logger.Infow("serving API", "address", listener.Addr().String())

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
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// envelope is the JSON body of every response.
type envelope map[string]interface{}

func (e envelope) artieID() string {
	id, _ := e[ArtieIDParam].(string)
	return id
}

// reply is what a handler answers with.
type reply struct {
	code int
	body envelope
}

type handlerFunc func(r *http.Request) reply

func ok(env envelope) reply {
	return reply{code: http.StatusOK, body: env}
}

func fail(code int, env envelope, msg string) reply {
	env[ErrorKey] = msg
	return reply{code: code, body: env}
}

// params collects the artie-id and names query parameters into an envelope, reporting the
// missing ones as Unknown. The returned reply is non-nil when one was missing.
func params(r *http.Request, names ...string) (envelope, *reply) {
	q := r.URL.Query()
	env := envelope{}
	var missing string
	for _, name := range append([]string{ArtieIDParam}, names...) {
		if !q.Has(name) {
			env[name] = unknown
			if missing == "" {
				missing = name
			}
			continue
		}
		env[name] = q.Get(name)
	}
	if missing != "" {
		rep := fail(http.StatusBadRequest, env, "Missing "+missing+" parameter.")
		return env, &rep
	}
	return env, nil
}

// backendFailure maps an error returned through the client to a reply.
func backendFailure(env envelope, err error) reply {
	var timeout *client.TimeoutError
	switch {
	case errors.As(err, &timeout):
		return fail(http.StatusGatewayTimeout, env, err.Error())
	case status.Code(errors.Cause(err)) == codes.InvalidArgument:
		return fail(http.StatusBadRequest, env, status.Convert(errors.Cause(err)).Message())
	default:
		return fail(http.StatusInternalServerError, env, err.Error())
	}
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithRequestID(r.Context(), r.Header.Get(RequestIDHeader))
		w.Header().Set(RequestIDHeader, logging.GetRequestID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) instrument(route string, h handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rep := h(r)
		s.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.requests.WithLabelValues(route, strconv.Itoa(rep.code)).Inc()

		if rep.code >= http.StatusInternalServerError {
			s.logger.CWarnw(r.Context(), "request failed", "route", route, "code", rep.code, "error", rep.body[ErrorKey])
		} else {
			s.logger.CDebugw(r.Context(), "request served", "route", route, "code", rep.code)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rep.code)
		if err := json.NewEncoder(w).Encode(rep.body); err != nil {
			s.logger.CDebugw(r.Context(), "writing response", "route", route, "error", err)
		}
	})
}

func lower(env envelope, key string) string {
	v, _ := env[key].(string)
	return strings.ToLower(v)
}
