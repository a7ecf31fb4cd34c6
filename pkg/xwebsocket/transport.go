package xwebsocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e-zhydzetski/go-wsbase/pkg/xchan"
	"github.com/e-zhydzetski/go-wsbase/pkg/xhttp"
	"github.com/go-chi/chi/v5"
	"github.com/gobwas/ws"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Addr     string
	CertFile string
	KeyFile  string
	// Path of the upgrade endpoint, "/" by default.
	Path string
	// Origins allowed to upgrade, any origin when empty.
	Origins []string

	WriteTimeout   time.Duration
	WriteQueueSize int
	EventBuffer    int
	MaxBatch       int
	OpCode         ws.OpCode

	// Routes mounts additional handlers next to the upgrade endpoint, e.g. metrics.
	Routes func(r chi.Router)
	Logger *slog.Logger
}

func (c Config) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("xwebsocket: certificate and key must be set together")
	}
	if c.OpCode != 0 && c.OpCode != ws.OpText && c.OpCode != ws.OpBinary {
		return errors.New("xwebsocket: op code must be text or binary")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = time.Second
	}
	if c.WriteQueueSize <= 0 {
		c.WriteQueueSize = 64
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 128
	}
	if c.OpCode == 0 {
		c.OpCode = ws.OpText
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "xwebsocket")
	}
	return c
}

// Transport accepts WebSocket connections and turns their activity into Events consumed by Poll.
// Poll, Write, Close and RequestWritable are meant to be called from a single driving goroutine,
// socket I/O happens on per-connection goroutines.
type Transport struct {
	cfg    Config
	log    *slog.Logger
	events *xchan.Safe[Event]

	seq atomic.Uint64

	mx       sync.Mutex
	conns    map[ConnID]*conn
	writable map[ConnID]struct{}
	wake     chan struct{}

	closed  atomic.Bool
	started atomic.Bool
	cancel  context.CancelFunc
	g       *errgroup.Group
	wg      sync.WaitGroup
	srv     *xhttp.Server
}

func New(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &Transport{
		cfg:      cfg,
		log:      cfg.Logger,
		events:   xchan.MakeSafe[Event](xchan.WithBuffer(cfg.EventBuffer)),
		conns:    map[ConnID]*conn{},
		writable: map[ConnID]struct{}{},
		wake:     make(chan struct{}, 1),
	}, nil
}

// Start binds the listener and begins accepting upgrades in background.
func (t *Transport) Start(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return errors.New("xwebsocket: already started")
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.g, ctx = errgroup.WithContext(ctx)

	r := chi.NewRouter()
	r.Use(xhttp.AllowOrigins(t.cfg.Origins...))
	r.Get(t.cfg.Path, t.upgrade)
	if t.cfg.Routes != nil {
		t.cfg.Routes(r)
	}

	var opts []xhttp.ServerOption
	if t.cfg.CertFile != "" {
		opts = append(opts, xhttp.WithTLS(t.cfg.CertFile, t.cfg.KeyFile))
	}
	srv, err := xhttp.StartServer(ctx, t.g, t.cfg.Addr, r, opts...)
	if err != nil {
		t.cancel()
		return err
	}
	t.srv = srv
	t.log.Info("listening", "addr", srv.Addr(), "tls", srv.TLS(), "path", t.cfg.Path)
	return nil
}

// Port is the bound port, 0 before Start.
func (t *Transport) Port() int {
	if t.srv == nil {
		return 0
	}
	return t.srv.Port()
}

func (t *Transport) upgrade(w http.ResponseWriter, r *http.Request) {
	if t.closed.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	raw, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		t.log.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := ConnID(t.seq.Add(1)) // unique ID of the connection
	wrapped := connWithTimeout{
		Conn: raw,
		wt:   t.cfg.WriteTimeout,
		rt:   0, // idle connections are legal, no read timeout
	}
	var src io.Reader
	if rw != nil && rw.Reader.Buffered() > 0 { // frames sent right behind the handshake
		src = rw.Reader
	}
	c := newConn(id, wrapped, src, t.cfg, t.markWritable)

	t.mx.Lock()
	if t.closed.Load() {
		t.mx.Unlock()
		_ = raw.Close()
		return
	}
	t.conns[id] = c
	t.wg.Add(1)
	t.mx.Unlock()

	go func() {
		defer t.wg.Done()
		t.serveConn(c)
	}()
}

// serveConn emits Connect, Message..., optional Error and Disconnect for c, in that order.
func (t *Transport) serveConn(c *conn) {
	go c.writeLoop()

	var readErr error
	if t.events.Send(Event{Kind: EventConnect, Conn: c.id}) {
		for {
			data, _, err := readData(c.src, c.raw, &c.wmx, ws.StateServerSide)
			if err != nil {
				readErr = err
				break
			}
			if !t.events.Send(Event{Kind: EventMessage, Conn: c.id, Data: data}) {
				readErr = ErrClosed
				break
			}
		}
	} else {
		readErr = ErrClosed
	}

	_ = c.raw.Close()
	c.readerDone()
	<-c.done

	t.mx.Lock()
	delete(t.conns, c.id)
	delete(t.writable, c.id)
	t.mx.Unlock()

	if err := c.failure(readErr); err != nil {
		t.events.Send(Event{Kind: EventError, Conn: c.id, Err: err.Error()})
	}
	t.events.Send(Event{Kind: EventDisconnect, Conn: c.id})
}

func (t *Transport) markWritable(id ConnID) {
	t.mx.Lock()
	if _, ok := t.conns[id]; ok {
		t.writable[id] = struct{}{}
	}
	t.mx.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Transport) takeWritable(events []Event) []Event {
	t.mx.Lock()
	ids := make([]ConnID, 0, len(t.writable))
	for id := range t.writable {
		if _, ok := t.conns[id]; ok {
			ids = append(ids, id)
		}
	}
	clear(t.writable)
	t.mx.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		events = append(events, Event{Kind: EventWritable, Conn: id})
	}
	return events
}

// Poll waits up to timeout for activity and returns every event ready by then, at most MaxBatch
// plus pending writable notifications. A negative timeout waits without limit.
func (t *Transport) Poll(ctx context.Context, timeout time.Duration) ([]Event, error) {
	events := t.takeWritable(nil)
	if len(events) == 0 {
		var timer <-chan time.Time
		if timeout >= 0 {
			tm := time.NewTimer(timeout)
			defer tm.Stop()
			timer = tm.C
		}
		select {
		case ev, ok := <-t.events.Ch():
			if !ok {
				return nil, ErrClosed
			}
			events = append(events, ev)
		case <-t.wake:
			events = t.takeWritable(events)
		case <-timer:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for n := 0; n < t.cfg.MaxBatch; n++ {
		ev, ok := t.events.TryRecv()
		if !ok {
			break
		}
		events = append(events, ev)
	}
	return events, nil
}

// RequestWritable schedules a writable event for id on the next Poll.
func (t *Transport) RequestWritable(id ConnID) {
	t.markWritable(id)
}

func (t *Transport) lookup(id ConnID) *conn {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.conns[id]
}

// Write queues data for id without blocking, ErrBackpressure means retry after the next
// writable event.
func (t *Transport) Write(id ConnID, data []byte) error {
	c := t.lookup(id)
	if c == nil {
		return ErrConnClosed
	}
	return c.enqueue(data)
}

// Close starts a graceful close of id: queued data is flushed, then a close frame is sent.
// The Disconnect event follows asynchronously.
func (t *Transport) Close(id ConnID) error {
	c := t.lookup(id)
	if c == nil {
		return ErrConnClosed
	}
	c.requestClose()
	return nil
}

func (t *Transport) Shutdown(ctx context.Context) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.cancel != nil {
		t.cancel()
	}

	t.mx.Lock()
	for _, c := range t.conns {
		_ = c.raw.Close()
	}
	t.mx.Unlock()
	t.events.Close()

	done := make(chan error, 1)
	go func() {
		t.wg.Wait()
		if t.g != nil {
			done <- t.g.Wait()
			return
		}
		done <- nil
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
