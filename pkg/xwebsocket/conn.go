package xwebsocket

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var errPeerClosed = errors.New("closed by peer")

type connWithTimeout struct {
	net.Conn
	wt time.Duration
	rt time.Duration
}

func (c connWithTimeout) Write(b []byte) (int, error) {
	if c.wt > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.wt)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

func (c connWithTimeout) Read(b []byte) (int, error) {
	if c.rt > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.rt)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

// conn is the transport side of one upgraded socket: a bounded queue drained by a writer goroutine
// and a reader loop run by Transport.serveConn.
type conn struct {
	id  ConnID
	raw connWithTimeout
	src io.Reader
	op  ws.OpCode

	wmx      sync.Mutex // whole frames only, shared by data writes and control replies
	out      chan []byte
	closeReq chan struct{}
	stop     chan struct{} // reader finished
	done     chan struct{} // writer finished

	closeOnce sync.Once
	stopOnce  sync.Once
	blocked   atomic.Bool

	errMx    sync.Mutex
	writeErr error

	onWritable func(ConnID)
}

func newConn(id ConnID, raw connWithTimeout, src io.Reader, cfg Config, onWritable func(ConnID)) *conn {
	if src == nil {
		src = raw
	}
	return &conn{
		id:         id,
		raw:        raw,
		src:        src,
		op:         cfg.OpCode,
		out:        make(chan []byte, cfg.WriteQueueSize),
		closeReq:   make(chan struct{}),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		onWritable: onWritable,
	}
}

// enqueue never blocks. A full queue flags the connection so the writer reports
// writability once it frees a slot.
func (c *conn) enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	case <-c.closeReq:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
	}
	c.blocked.Store(true)
	select { // the writer may have drained between the attempts
	case c.out <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *conn) requestClose() {
	c.closeOnce.Do(func() {
		close(c.closeReq)
	})
}

func (c *conn) readerDone() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *conn) writeLoop() {
	defer close(c.done)
	for {
		select {
		case data := <-c.out:
			if err := c.writeFrame(c.op, data); err != nil {
				c.fail(err)
				return
			}
			if c.blocked.CompareAndSwap(true, false) {
				c.onWritable(c.id)
			}
		case <-c.closeReq:
			if err := c.flush(); err != nil {
				c.fail(err)
				return
			}
			_ = c.writeFrame(ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
			_ = c.raw.Close()
			return
		case <-c.stop:
			return
		}
	}
}

func (c *conn) flush() error {
	for {
		select {
		case data := <-c.out:
			if err := c.writeFrame(c.op, data); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (c *conn) writeFrame(op ws.OpCode, data []byte) error {
	c.wmx.Lock()
	defer c.wmx.Unlock()
	return wsutil.WriteServerMessage(c.raw, op, data)
}

func (c *conn) fail(err error) {
	c.errMx.Lock()
	if c.writeErr == nil {
		c.writeErr = err
	}
	c.errMx.Unlock()
	_ = c.raw.Close()
}

// failure picks the error worth reporting for a finished connection, nil for a clean close.
func (c *conn) failure(readErr error) error {
	c.errMx.Lock()
	defer c.errMx.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	if readErr == nil || isCleanClose(readErr) {
		return nil
	}
	return readErr
}

func isCleanClose(err error) bool {
	var closed wsutil.ClosedError
	switch {
	case errors.Is(err, io.EOF):
		return true
	case errors.Is(err, net.ErrClosed), errors.Is(err, ErrClosed), errors.Is(err, errPeerClosed):
		return true
	case errors.As(err, &closed):
		return closed.Code == ws.StatusNormalClosure || closed.Code == ws.StatusGoingAway || closed.Code == ws.StatusNoStatusRcvd
	}
	return false
}

// readData reads the next text or binary message. Control frames are answered under wmx,
// so replies never interleave with frames written by another goroutine.
func readData(src io.Reader, dst io.Writer, wmx *sync.Mutex, state ws.State) ([]byte, ws.OpCode, error) {
	ctl := wsutil.ControlFrameHandler(dst, state)
	locked := func(h ws.Header, r io.Reader) error {
		wmx.Lock()
		defer wmx.Unlock()
		err := ctl(h, r)
		var closed wsutil.ClosedError
		if h.OpCode == ws.OpClose && err != nil && !errors.As(err, &closed) {
			// the peer started the close, failing to answer it is not a connection error
			return fmt.Errorf("%w: %v", errPeerClosed, err)
		}
		return err
	}
	rd := &wsutil.Reader{
		Source:         src,
		State:          state,
		CheckUTF8:      true,
		OnIntermediate: locked,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, 0, err
		}
		if hdr.OpCode.IsControl() {
			if err := locked(hdr, rd); err != nil {
				return nil, 0, err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return nil, 0, err
			}
			continue
		}
		data, err := io.ReadAll(rd)
		return data, hdr.OpCode, err
	}
}
