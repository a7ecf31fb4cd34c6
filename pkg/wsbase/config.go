package wsbase

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/e-zhydzetski/go-wsbase/pkg/xwebsocket"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type ConnID = xwebsocket.ConnID

type Event = xwebsocket.Event

// Transport is the socket layer a Server drives. Poll is called from the driving goroutine only,
// events for one connection must come in Connect, Message/Error..., Disconnect order.
type Transport interface {
	Start(ctx context.Context) error
	Poll(ctx context.Context, timeout time.Duration) ([]Event, error)
	// RequestWritable asks for an EventWritable for id on a following Poll.
	RequestWritable(id ConnID)
	// Write hands data over for transmission, xwebsocket.ErrBackpressure means "not now".
	Write(id ConnID, data []byte) error
	// Close starts closing id, the Disconnect event follows later.
	Close(id ConnID) error
	Shutdown(ctx context.Context) error
}

type Config struct {
	Port int
	// Host to bind, all interfaces when empty.
	Host string
	// CertPath and KeyPath enable TLS, both or none must be set.
	CertPath string
	KeyPath  string
	// Path of the WebSocket endpoint, "/" by default.
	Path    string
	Origins []string
}

func (c Config) Validate() error {
	if (c.CertPath == "") != (c.KeyPath == "") {
		return ErrTLSConfig
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", errInvalidConfig, c.Port)
	}
	return nil
}

func (c Config) TLS() bool {
	return c.CertPath != "" && c.KeyPath != ""
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type options struct {
	transport Transport
	logger    *slog.Logger
	registry  prometheus.Registerer
	namespace string
	tracer    trace.Tracer
	now       func() time.Time
	reporter  func(error)
	routes    func(r chi.Router)
}

func defaultOptions() options {
	return options{
		logger:    slog.Default().With("component", "wsbase"),
		namespace: "wsbase",
		tracer:    otel.Tracer("github.com/e-zhydzetski/go-wsbase/pkg/wsbase"),
		now:       time.Now,
	}
}

type Option func(o *options)

// WithTransport replaces the default gobwas/ws transport.
func WithTransport(t Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics registers the server collectors in reg under namespace.
// Without it the collectors exist but are not registered anywhere.
func WithMetrics(reg prometheus.Registerer, namespace string) Option {
	return func(o *options) {
		o.registry = reg
		if namespace != "" {
			o.namespace = namespace
		}
	}
}

func WithTracer(tr trace.Tracer) Option {
	return func(o *options) {
		if tr != nil {
			o.tracer = tr
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithReporter receives every reported error: transport contract violations,
// operational misses and hook failures.
func WithReporter(fn func(error)) Option {
	return func(o *options) {
		o.reporter = fn
	}
}

// WithRoutes mounts extra HTTP handlers on the default transport, e.g. a metrics endpoint.
func WithRoutes(fn func(r chi.Router)) Option {
	return func(o *options) {
		o.routes = fn
	}
}
