// Package driver implements the command service every peripheral driver is built on. A Service
// holds a table of named commands. Commands that touch hardware are queued onto a single worker
// and run in the order they were received; queries are answered inline.
package driver

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	goutils "go.viam.com/utils"

	"github.com/artie-robot/artie/config"
	"github.com/artie-robot/artie/logging"
)

var (
	// ErrNotStarted is returned for commands received before Start or after Close.
	ErrNotStarted = errors.New("service not started")
	// ErrUnknownCommand is returned for commands missing from the table.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidArgument marks errors caused by the caller's input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// CommandKey is the DoCommand map key holding the command name.
const CommandKey = "command"

// ResultKey is the DoCommand result map key holding a command's return value.
const ResultKey = "result"

// Handler runs one command. The returned value must be representable as a protobuf Value:
// nil, bool, numbers, strings, []interface{}, or map[string]interface{}.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Command is an entry of the command table.
type Command struct {
	Name string
	// Queued commands run on the service worker. Queries that do no I/O leave it unset.
	Queued  bool
	Handler Handler
}

type job struct {
	// ctx runs the command and is never cancelled. caller is the requester's context; a job whose
	// caller is gone before the worker reaches it is skipped.
	ctx    context.Context
	caller context.Context
	cmd    Command
	args map[string]interface{}
	done chan jobResult
}

type jobResult struct {
	value interface{}
	err   error
}

// Option configures a Service.
type Option func(*Service)

// WithRegisterer registers the service metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Service) { s.registerer = reg }
}

// WithQueueSize overrides the number of commands that may wait for the worker.
func WithQueueSize(n int) Option {
	return func(s *Service) { s.queueSize = n }
}

// Service is a driver's command table and worker.
type Service struct {
	name   string
	logger logging.Logger

	// gate is held for reading while a job is enqueued and for writing by Close.
	gate sync.RWMutex

	mu        sync.Mutex
	commands  map[string]Command
	started   bool
	closed    bool
	queueSize int
	queue     chan job
	workers   *goutils.StoppableWorkers

	registerer prometheus.Registerer
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewService returns a service called name, such as "mouth-driver". Commands are added with
// Register and the service accepts them once Start is called.
func NewService(name string, logger logging.Logger, opts ...Option) *Service {
	s := &Service{
		name:      name,
		logger:    logger,
		commands:  map[string]Command{},
		queueSize: 64,
	}
	for _, opt := range opts {
		opt(s)
	}
	factory := promauto.With(s.registerer)
	s.requests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "artie_driver_requests_total",
		Help: "Number of commands handled by a driver service.",
	}, []string{"service", "command", "outcome"})
	s.latency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name: "artie_driver_request_seconds",
		Help: "Time spent handling a driver command, including time waiting for the worker.",
	}, []string{"service", "command"})
	return s
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.name
}

// Whoami is the name and version reported to liveness probes.
func (s *Service) Whoami() string {
	return "artie-" + s.name + ":" + config.GetGitTag()
}

// Register adds commands to the table. It fails on duplicate names.
func (s *Service) Register(cmds ...Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cmd := range cmds {
		if cmd.Name == "" || cmd.Handler == nil {
			return errors.Errorf("command %q must have a name and a handler", cmd.Name)
		}
		if _, dup := s.commands[cmd.Name]; dup {
			return errors.Errorf("command %q registered twice", cmd.Name)
		}
		s.commands[cmd.Name] = cmd
	}
	return nil
}

// Commands returns the registered command names, sorted.
func (s *Service) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches the worker. Calling it twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.queue = make(chan job, s.queueSize)
	s.workers = goutils.NewBackgroundStoppableWorkers(s.work)
	s.started = true
	s.logger.CInfow(ctx, "service started", "service", s.name, "commands", len(s.commands))
}

func (s *Service) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if err := j.caller.Err(); err != nil {
				j.done <- jobResult{err: err}
				continue
			}
			value, err := s.invoke(j.ctx, j.cmd, j.args)
			j.done <- jobResult{value: value, err: err}
		}
	}
}

func (s *Service) invoke(ctx context.Context, cmd Command, args map[string]interface{}) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("command %s panicked: %v", cmd.Name, r)
		}
	}()
	return cmd.Handler(ctx, args)
}

// Execute runs the named command. Queued commands wait for the worker; if ctx ends first the
// caller gets ctx.Err() and the command is skipped if it has not started yet. A command the worker
// has started always runs to completion.
func (s *Service) Execute(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	start := time.Now()
	value, err := s.execute(ctx, name, args)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.logger.CWarnw(ctx, "command failed", "service", s.name, "command", name, "error", err)
	}
	s.requests.WithLabelValues(s.name, name, outcome).Inc()
	s.latency.WithLabelValues(s.name, name).Observe(time.Since(start).Seconds())
	return value, err
}

func (s *Service) execute(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	s.gate.RLock()
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		s.gate.RUnlock()
		return nil, errors.Wrapf(ErrNotStarted, "%s cannot run %q", s.name, name)
	}
	cmd, ok := s.commands[name]
	queue := s.queue
	s.mu.Unlock()
	if !ok || !cmd.Queued {
		s.gate.RUnlock()
	}
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCommand, "%q", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	s.logger.CDebugw(ctx, "command received", "service", s.name, "command", name, "queued", cmd.Queued)

	if !cmd.Queued {
		return s.invoke(ctx, cmd, args)
	}

	j := job{
		ctx:    context.WithoutCancel(ctx),
		caller: ctx,
		cmd:    cmd,
		args:   args,
		done:   make(chan jobResult, 1),
	}
	select {
	case queue <- j:
		s.gate.RUnlock()
	case <-ctx.Done():
		s.gate.RUnlock()
		return nil, ctx.Err()
	}
	select {
	case res := <-j.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close waits for the running command, if any, and stops the worker. Commands still queued fail
// with ErrNotStarted.
func (s *Service) Close() error {
	s.gate.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.gate.Unlock()
		return nil
	}
	s.closed = true
	workers, queue := s.workers, s.queue
	s.mu.Unlock()
	s.gate.Unlock()

	if workers == nil {
		return nil
	}
	workers.Stop()
	for {
		select {
		case j := <-queue:
			j.done <- jobResult{err: errors.Wrapf(ErrNotStarted, "%s closed before running %q", s.name, j.cmd.Name)}
		default:
			return nil
		}
	}
}
