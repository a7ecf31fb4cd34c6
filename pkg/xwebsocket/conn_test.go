package xwebsocket

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"gotest.tools/assert"
)

func TestConnBackpressure(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	writable := make(chan ConnID, 1)
	cfg := Config{WriteQueueSize: 1}.withDefaults()
	c := newConn(7, connWithTimeout{Conn: server}, nil, cfg, func(id ConnID) {
		writable <- id
	})

	assert.NilError(t, c.enqueue([]byte("a")))
	assert.Assert(t, errors.Is(c.enqueue([]byte("b")), ErrBackpressure))
	assert.Assert(t, c.blocked.Load())

	go c.writeLoop()
	data, op, err := wsutil.ReadServerData(client)
	assert.NilError(t, err)
	assert.Equal(t, op, ws.OpText)
	assert.Equal(t, string(data), "a")

	select {
	case id := <-writable:
		assert.Equal(t, id, ConnID(7))
	case <-time.After(5 * time.Second):
		t.Fatal("no writable notification")
	}
	assert.NilError(t, c.enqueue([]byte("b")))
	data, _, err = wsutil.ReadServerData(client)
	assert.NilError(t, err)
	assert.Equal(t, string(data), "b")

	c.requestClose()
	assert.Assert(t, errors.Is(c.enqueue([]byte("c")), ErrConnClosed))
	_, _, err = wsutil.ReadServerData(client)
	assert.Assert(t, err != nil) // close frame
	<-c.done
}

func TestIsCleanClose(t *testing.T) {
	assert.Assert(t, isCleanClose(net.ErrClosed))
	assert.Assert(t, isCleanClose(wsutil.ClosedError{Code: ws.StatusNormalClosure}))
	assert.Assert(t, !isCleanClose(wsutil.ClosedError{Code: ws.StatusProtocolError}))
	assert.Assert(t, !isCleanClose(errors.New("connection reset")))
}
