package wsbase

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/e-zhydzetski/go-wsbase/pkg/xwebsocket"
)

// Send queues data for id and asks the transport for a writable notification.
// data must not be modified afterwards. An unknown id is an expected race with disconnect:
// ErrConnNotFound is returned and nothing happens.
func (s *Server) Send(id ConnID, data []byte) error {
	c, ok := s.reg.get(id)
	if !ok {
		err := fmt.Errorf("send to %d: %w", id, ErrConnNotFound)
		s.report(reportSendMiss, slog.LevelDebug, id, err)
		return err
	}
	if c.closed {
		err := fmt.Errorf("send to %d: %w", id, xwebsocket.ErrConnClosed)
		s.report(reportSendMiss, slog.LevelDebug, id, err)
		return err
	}
	c.push(data)
	s.transport.RequestWritable(id)
	return nil
}

func (s *Server) SendString(id ConnID, data string) error {
	return s.Send(id, []byte(data))
}

// Broadcast queues data for every connection live at call time and returns how many got it.
// Connections registered or removed by hooks meanwhile do not affect this call.
func (s *Server) Broadcast(data []byte) int {
	n := 0
	for _, id := range s.reg.snapshot() {
		if s.Send(id, data) == nil {
			n++
		}
	}
	return n
}

func (s *Server) BroadcastString(data string) int {
	return s.Broadcast([]byte(data))
}

// Pending is the number of messages queued for id and not yet handed to the transport.
func (s *Server) Pending(id ConnID) int {
	c, ok := s.reg.get(id)
	if !ok {
		return 0
	}
	return c.pending()
}

// drain hands queued messages to the transport in order until the queue is empty or the
// transport pushes back. A message leaves the queue only after a successful write.
// A connection marked by CloseConn is closed once its queue is empty.
func (s *Server) drain(id ConnID) {
	c, ok := s.reg.get(id)
	if !ok {
		s.log.Debug("writable for unknown connection", "conn", id)
		return
	}
	for {
		data, ok := c.front()
		if !ok {
			if c.closing {
				if err := s.closeTransport(id, c); err != nil {
					s.report(reportWriteFailed, slog.LevelWarn, id, err)
				}
			}
			return
		}
		err := s.transport.Write(id, data)
		switch {
		case err == nil:
			c.pop()
			s.metrics.sentTotal.Inc()
		case errors.Is(err, xwebsocket.ErrBackpressure):
			return
		default:
			s.report(reportWriteFailed, slog.LevelWarn, id, fmt.Errorf("write to %d: %w", id, err))
			return
		}
	}
}
