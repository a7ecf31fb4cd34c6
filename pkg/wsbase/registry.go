package wsbase

import (
	"fmt"
	"slices"
	"time"

	"github.com/eapache/queue"
)

// conn is the state kept for one live connection.
type conn struct {
	outbox    *queue.Queue // of []byte, FIFO
	values    map[string]string
	createdAt time.Time
	// closing is set by CloseConn, the transport close follows once the outbox is drained
	closing bool
	closed  bool
}

func (c *conn) push(data []byte) {
	c.outbox.Add(data)
}

func (c *conn) front() ([]byte, bool) {
	if c.outbox.Length() == 0 {
		return nil, false
	}
	return c.outbox.Peek().([]byte), true
}

func (c *conn) pop() {
	c.outbox.Remove()
}

func (c *conn) pending() int {
	return c.outbox.Length()
}

// registry maps connection ids to their records. It is owned by the driving goroutine and not
// synchronized.
type registry struct {
	conns map[ConnID]*conn
}

func newRegistry() *registry {
	return &registry{
		conns: map[ConnID]*conn{},
	}
}

func (r *registry) insert(id ConnID, now time.Time) error {
	if _, ok := r.conns[id]; ok {
		return fmt.Errorf("insert %d: %w", id, ErrConnExists)
	}
	r.conns[id] = &conn{
		outbox:    queue.New(),
		values:    map[string]string{},
		createdAt: now,
	}
	return nil
}

func (r *registry) remove(id ConnID) error {
	if _, ok := r.conns[id]; !ok {
		return fmt.Errorf("remove %d: %w", id, ErrConnNotFound)
	}
	delete(r.conns, id)
	return nil
}

// get returns a borrowed record, callers must not keep it past the current dispatch step.
func (r *registry) get(id ConnID) (*conn, bool) {
	c, ok := r.conns[id]
	return c, ok
}

func (r *registry) count() int {
	return len(r.conns)
}

// snapshot returns the live ids in ascending order in a fresh slice.
func (r *registry) snapshot() []ConnID {
	ids := make([]ConnID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
