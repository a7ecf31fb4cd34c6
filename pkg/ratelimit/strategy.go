// Package ratelimit implements sliding window rate limiting and a wsbase.Handler wrapper applying
// it to inbound messages.
package ratelimit

import (
	"context"
	"time"
)

type State int

const (
	Deny State = iota
	Allow
)

func (s State) String() string {
	if s == Allow {
		return "allow"
	}
	return "deny"
}

// Request asks whether one more hit on Key fits into Limit hits per Duration.
type Request struct {
	Key      string
	Limit    uint64
	Duration time.Duration
}

type Result struct {
	State State
	// TotalRequests counted in the window, including this one when allowed.
	TotalRequests uint64
	ExpiresAt     time.Time
}

type Strategy interface {
	Run(ctx context.Context, r *Request) (*Result, error)
}
