package wsbase_test

import (
	"context"
	"slices"
	"time"

	"github.com/e-zhydzetski/go-wsbase/pkg/wsbase"
	"github.com/e-zhydzetski/go-wsbase/pkg/xwebsocket"
)

// fakeTransport is driven by the test goroutine: queued events are returned by the next Poll,
// writes are recorded per connection.
type fakeTransport struct {
	queued   []wsbase.Event
	writable map[wsbase.ConnID]bool
	written  map[wsbase.ConnID][]string
	closed   []wsbase.ConnID
	// room limits accepted writes per connection until refilled, unlimited when absent
	room     map[wsbase.ConnID]int
	started  bool
	shutdown bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		writable: map[wsbase.ConnID]bool{},
		written:  map[wsbase.ConnID][]string{},
		room:     map[wsbase.ConnID]int{},
	}
}

func (f *fakeTransport) push(events ...wsbase.Event) {
	f.queued = append(f.queued, events...)
}

func (f *fakeTransport) connect(ids ...wsbase.ConnID) {
	for _, id := range ids {
		f.push(wsbase.Event{Kind: xwebsocket.EventConnect, Conn: id})
	}
}

func (f *fakeTransport) disconnect(ids ...wsbase.ConnID) {
	for _, id := range ids {
		f.push(wsbase.Event{Kind: xwebsocket.EventDisconnect, Conn: id})
	}
}

func (f *fakeTransport) message(id wsbase.ConnID, data string) {
	f.push(wsbase.Event{Kind: xwebsocket.EventMessage, Conn: id, Data: []byte(data)})
}

// refill gives id room for n more writes and signals writability like a real socket would.
func (f *fakeTransport) refill(id wsbase.ConnID, n int) {
	f.room[id] = n
	f.writable[id] = true
}

func (f *fakeTransport) Start(context.Context) error {
	f.started = true
	return nil
}

func (f *fakeTransport) Poll(ctx context.Context, _ time.Duration) ([]wsbase.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var events []wsbase.Event
	ids := make([]wsbase.ConnID, 0, len(f.writable))
	for id := range f.writable {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		events = append(events, wsbase.Event{Kind: xwebsocket.EventWritable, Conn: id})
	}
	clear(f.writable)
	events = append(events, f.queued...)
	f.queued = nil
	if len(events) == 0 && f.shutdown {
		return nil, xwebsocket.ErrClosed
	}
	return events, nil
}

func (f *fakeTransport) RequestWritable(id wsbase.ConnID) {
	f.writable[id] = true
}

func (f *fakeTransport) Write(id wsbase.ConnID, data []byte) error {
	if room, limited := f.room[id]; limited {
		if room == 0 {
			return xwebsocket.ErrBackpressure
		}
		f.room[id] = room - 1
	}
	f.written[id] = append(f.written[id], string(data))
	return nil
}

func (f *fakeTransport) Close(id wsbase.ConnID) error {
	f.closed = append(f.closed, id)
	return nil
}

func (f *fakeTransport) Shutdown(context.Context) error {
	f.shutdown = true
	return nil
}
