package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/e-zhydzetski/go-wsbase/pkg/ratelimit"
	"github.com/e-zhydzetski/go-wsbase/pkg/wsbase"
	"github.com/e-zhydzetski/go-wsbase/pkg/xwebsocket"
	"gotest.tools/assert"
)

// transport replays queued events and records closes.
type transport struct {
	queued []wsbase.Event
	closed []wsbase.ConnID
}

func (t *transport) Start(context.Context) error { return nil }

func (t *transport) Poll(context.Context, time.Duration) ([]wsbase.Event, error) {
	events := t.queued
	t.queued = nil
	return events, nil
}

func (t *transport) RequestWritable(wsbase.ConnID) {}

func (t *transport) Write(wsbase.ConnID, []byte) error { return nil }

func (t *transport) Close(id wsbase.ConnID) error {
	t.closed = append(t.closed, id)
	return nil
}

func (t *transport) Shutdown(context.Context) error { return nil }

type failingStrategy struct{}

func (failingStrategy) Run(context.Context, *ratelimit.Request) (*ratelimit.Result, error) {
	return nil, errors.New("redis down")
}

func setup(t *testing.T, s ratelimit.Strategy, cfg ratelimit.Config) (*wsbase.Server, *transport, *[]string, *[]error) {
	t.Helper()
	tr := &transport{}
	var got []string
	var reported []error
	h := ratelimit.Messages(wsbase.HandlerFuncs{
		Message: func(_ *wsbase.Server, _ wsbase.ConnID, data []byte) error {
			got = append(got, string(data))
			return nil
		},
	}, s, cfg)
	srv, err := wsbase.New(context.Background(), wsbase.Config{}, h,
		wsbase.WithTransport(tr),
		wsbase.WithReporter(func(err error) {
			reported = append(reported, err)
		}),
	)
	assert.NilError(t, err)
	tr.queued = append(tr.queued, wsbase.Event{Kind: xwebsocket.EventConnect, Conn: 1})
	return srv, tr, &got, &reported
}

func message(id wsbase.ConnID, data string) wsbase.Event {
	return wsbase.Event{Kind: xwebsocket.EventMessage, Conn: id, Data: []byte(data)}
}

func TestMessagesDropsOverLimit(t *testing.T) {
	now := time.Unix(1000, 0)
	srv, tr, got, reported := setup(t, ratelimit.NewMemoryStrategy(func() time.Time { return now }),
		ratelimit.Config{Limit: 2, Window: time.Second})

	tr.queued = append(tr.queued, message(1, "a"), message(1, "b"), message(1, "c"))
	assert.NilError(t, srv.Wait(context.Background(), 0))

	assert.DeepEqual(t, *got, []string{"a", "b"})
	assert.Equal(t, len(*reported), 1)
	assert.Assert(t, errors.Is((*reported)[0], ratelimit.ErrLimited))
	assert.Assert(t, errors.Is((*reported)[0], wsbase.ErrHookFailed))
	assert.Equal(t, len(tr.closed), 0)
	assert.Equal(t, srv.NumberOfConnections(), 1)

	now = now.Add(2 * time.Second)
	tr.queued = append(tr.queued, message(1, "d"))
	assert.NilError(t, srv.Wait(context.Background(), 0))
	assert.DeepEqual(t, *got, []string{"a", "b", "d"})
}

func TestMessagesCloseOnDeny(t *testing.T) {
	srv, tr, got, _ := setup(t, ratelimit.NewMemoryStrategy(nil),
		ratelimit.Config{Limit: 1, Window: time.Minute, CloseOnDeny: true})

	tr.queued = append(tr.queued, message(1, "a"), message(1, "b"))
	assert.NilError(t, srv.Wait(context.Background(), 0))

	assert.DeepEqual(t, *got, []string{"a"})
	assert.DeepEqual(t, tr.closed, []wsbase.ConnID{1})
}

func TestMessagesFailOpen(t *testing.T) {
	srv, tr, got, reported := setup(t, failingStrategy{}, ratelimit.Config{Limit: 1, Window: time.Second})

	tr.queued = append(tr.queued, message(1, "a"), message(1, "b"))
	assert.NilError(t, srv.Wait(context.Background(), 0))

	assert.DeepEqual(t, *got, []string{"a", "b"})
	assert.Equal(t, len(*reported), 2)
	assert.ErrorContains(t, (*reported)[0], "redis down")
}
