package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/e-zhydzetski/go-wsbase/pkg/wsbase"
)

var ErrLimited = errors.New("message rate limit exceeded")

type Config struct {
	// Limit messages per Window for every connection.
	Limit  uint64
	Window time.Duration
	// KeyPrefix separates servers sharing one redis, the connection id is appended.
	KeyPrefix string
	// Timeout bounds a single strategy call, unbounded when zero.
	Timeout time.Duration
	// CloseOnDeny closes a connection on its first limited message.
	CloseOnDeny bool
}

// Messages wraps next so OnMessage is only called for messages within the rate.
// Denied messages are dropped and ErrLimited is returned to the server to report.
// When the strategy fails the message passes.
func Messages(next wsbase.Handler, s Strategy, cfg Config) wsbase.Handler {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ws:msg:"
	}
	return &limitedHandler{
		Handler:  next,
		strategy: s,
		cfg:      cfg,
	}
}

type limitedHandler struct {
	wsbase.Handler
	strategy Strategy
	cfg      Config
}

func (h *limitedHandler) OnMessage(s *wsbase.Server, id wsbase.ConnID, data []byte) error {
	ctx := context.Background()
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}
	res, err := h.strategy.Run(ctx, &Request{
		Key:      h.cfg.KeyPrefix + id.String(),
		Limit:    h.cfg.Limit,
		Duration: h.cfg.Window,
	})
	if err != nil {
		return errors.Join(fmt.Errorf("rate limit of %d: %w", id, err), h.Handler.OnMessage(s, id, data))
	}
	if res.State == Deny {
		if h.cfg.CloseOnDeny {
			_ = s.CloseConn(id)
		}
		return fmt.Errorf("%w: %d messages from %d", ErrLimited, res.TotalRequests, id)
	}
	return h.Handler.OnMessage(s, id, data)
}
