package xwebsocket

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/e-zhydzetski/go-wsbase/pkg/xchan"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type ClientOption func(dialer *ws.Dialer)

func ClientTLSConfig(tc *tls.Config) ClientOption {
	return func(dialer *ws.Dialer) {
		dialer.TLSConfig = tc
	}
}

// Client is a minimal text client, mostly for probes and tests.
type Client struct {
	conn     connWithTimeout
	wmx      sync.Mutex
	messages *xchan.Safe[[]byte]

	errMx sync.Mutex
	err   error
}

func Dial(ctx context.Context, connectAddr string, opts ...ClientOption) (*Client, error) {
	dialer := ws.Dialer{}
	for _, opt := range opts {
		opt(&dialer)
	}
	conn, bfr, _, err := dialer.Dial(ctx, connectAddr)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn: connWithTimeout{
			Conn: conn,
			wt:   1 * time.Second,
			rt:   0, // can't use read timeout in wait model (without events)
		},
		messages: xchan.MakeSafe[[]byte](xchan.WithBuffer(64)),
	}
	var src io.Reader = c.conn
	if bfr != nil {
		// frames sent right behind the handshake, https://github.com/gobwas/ws/issues/19
		src = bfr
	}

	closedCh := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-closedCh:
		}
	}()

	go func() {
		defer close(closedCh)
		defer c.messages.Close()
		for {
			data, _, err := readData(src, c.conn, &c.wmx, ws.StateClientSide)
			if err != nil {
				c.setErr(err)
				return
			}
			if !c.messages.Send(data) {
				return
			}
		}
	}()
	return c, nil
}

// Messages delivers received data frames, the channel is closed when the connection ends.
func (c *Client) Messages() <-chan []byte {
	return c.messages.Ch()
}

func (c *Client) Send(data []byte) error {
	c.wmx.Lock()
	defer c.wmx.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// Receive waits for the next message.
func (c *Client) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-c.messages.Ch():
		if !ok {
			if err := c.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err is the reason the read side stopped, nil for a clean close.
func (c *Client) Err() error {
	c.errMx.Lock()
	defer c.errMx.Unlock()
	return c.err
}

func (c *Client) setErr(err error) {
	if isCleanClose(err) {
		err = nil
	}
	c.errMx.Lock()
	c.err = err
	c.errMx.Unlock()
}

// Close sends a normal closure frame and closes the socket, should be idempotent.
func (c *Client) Close() error {
	c.wmx.Lock()
	_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	c.wmx.Unlock()
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
