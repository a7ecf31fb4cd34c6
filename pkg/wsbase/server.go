// Package wsbase is the connection registry and lifecycle dispatch layer of a WebSocket server.
//
// A Server owns the set of live connections and their state (an outbound queue and string
// values). It is driven by a single goroutine calling Run or Wait; every Handler callback and
// every Server method other than Stop and Shutdown must be called from that goroutine.
package wsbase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/e-zhydzetski/go-wsbase/pkg/xwebsocket"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	cfg       Config
	handler   Handler
	transport Transport
	reg       *registry

	log      *slog.Logger
	metrics  *metrics
	tracer   trace.Tracer
	now      func() time.Time
	reporter func(error)

	stopped atomic.Bool
	closed  atomic.Bool
}

// New validates cfg, builds the transport and starts listening.
// Nothing is started when cfg is invalid.
func New(ctx context.Context, cfg Config, h Handler, opts ...Option) (*Server, error) {
	if h == nil {
		return nil, ErrNoHandler
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	t := o.transport
	if t == nil {
		xt, err := xwebsocket.New(xwebsocket.Config{
			Addr:     cfg.Addr(),
			CertFile: cfg.CertPath,
			KeyFile:  cfg.KeyPath,
			Path:     cfg.Path,
			Origins:  cfg.Origins,
			Routes:   o.routes,
		})
		if err != nil {
			return nil, err
		}
		t = xt
	}

	s := &Server{
		cfg:       cfg,
		handler:   h,
		transport: t,
		reg:       newRegistry(),
		log:       o.logger,
		metrics:   newMetrics(o.registry, o.namespace),
		tracer:    o.tracer,
		now:       o.now,
		reporter:  o.reporter,
	}
	if err := t.Start(ctx); err != nil {
		return nil, fmt.Errorf("start transport: %w", err)
	}
	s.log.Info("server started", "port", s.Port(), "tls", cfg.TLS())
	return s, nil
}

// Port is the bound port when the transport reports it, the configured one otherwise.
func (s *Server) Port() int {
	if p, ok := s.transport.(interface{ Port() int }); ok {
		if port := p.Port(); port != 0 {
			return port
		}
	}
	return s.cfg.Port
}

// Run services I/O until ctx is done, Stop is called or the server is shut down, waiting at most
// timeout for activity on each iteration. A negative timeout waits without limit.
func (s *Server) Run(ctx context.Context, timeout time.Duration) error {
	for {
		if s.stopped.CompareAndSwap(true, false) {
			return nil
		}
		if err := s.Wait(ctx, timeout); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrServerClosed) {
				return nil
			}
			return err
		}
	}
}

// Wait runs exactly one poll iteration: waits up to timeout for activity and dispatches every
// resulting event.
func (s *Server) Wait(ctx context.Context, timeout time.Duration) error {
	events, err := s.transport.Poll(ctx, timeout)
	if err != nil {
		if errors.Is(err, xwebsocket.ErrClosed) {
			s.purge(ctx)
			if s.closed.Load() {
				return ErrServerClosed
			}
		}
		return err
	}
	for _, ev := range events {
		s.dispatch(ctx, ev)
	}
	return nil
}

// Stop makes Run return after the current iteration. Safe to call from any goroutine.
func (s *Server) Stop() {
	s.stopped.Store(true)
}

// Shutdown closes the transport and every connection. Connections still registered get their
// OnDisconnect on the next Wait of the driving goroutine. Safe to call from any goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.transport.Shutdown(ctx)
}

// NumberOfConnections returns the number of live connections.
func (s *Server) NumberOfConnections() int {
	return s.reg.count()
}

// Conns returns the live connection ids in ascending order.
func (s *Server) Conns() []ConnID {
	return s.reg.snapshot()
}

// ConnectedAt returns the registration time of id.
func (s *Server) ConnectedAt(id ConnID) (time.Time, error) {
	c, ok := s.reg.get(id)
	if !ok {
		return time.Time{}, fmt.Errorf("connected at %d: %w", id, ErrConnNotFound)
	}
	return c.createdAt, nil
}

// GetValue returns the value stored under key for id, "" when either is unknown.
func (s *Server) GetValue(id ConnID, key string) string {
	v, _, _ := s.LookupValue(id, key)
	return v
}

// LookupValue tells an unknown connection (ErrConnNotFound) from an unset key (false).
func (s *Server) LookupValue(id ConnID, key string) (string, bool, error) {
	c, ok := s.reg.get(id)
	if !ok {
		return "", false, fmt.Errorf("lookup %d: %w", id, ErrConnNotFound)
	}
	v, ok := c.values[key]
	return v, ok, nil
}

func (s *Server) SetValue(id ConnID, key, value string) error {
	c, ok := s.reg.get(id)
	if !ok {
		err := fmt.Errorf("set value on %d: %w", id, ErrConnNotFound)
		s.report(reportSetMiss, slog.LevelDebug, id, err)
		return err
	}
	c.values[key] = value
	return nil
}

// CloseConn closes id once everything queued for it so far has been handed to the transport.
// The connection stays registered until the transport reports the disconnect.
func (s *Server) CloseConn(id ConnID) error {
	c, ok := s.reg.get(id)
	if !ok {
		err := fmt.Errorf("close %d: %w", id, ErrConnNotFound)
		s.report(reportCloseMiss, slog.LevelDebug, id, err)
		return err
	}
	if c.closing {
		return nil
	}
	c.closing = true
	if c.pending() > 0 {
		s.transport.RequestWritable(id) // drain closes it
		return nil
	}
	return s.closeTransport(id, c)
}

func (s *Server) closeTransport(id ConnID, c *conn) error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := s.transport.Close(id); err != nil {
		return fmt.Errorf("close %d: %w", id, err)
	}
	return nil
}

func (s *Server) report(kind string, level slog.Level, id ConnID, err error) {
	s.metrics.reportsTotal.WithLabelValues(kind).Inc()
	s.log.Log(context.Background(), level, "reported", "kind", kind, "conn", id, "error", err)
	if s.reporter != nil {
		s.reporter(err)
	}
}
