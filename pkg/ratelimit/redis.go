package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// slidingWindow trims the window, then adds the hit only when it fits, in one atomic step.
// KEYS[1] hit set; ARGV now ms, window start ms, limit, window ms, member.
// Returns {allowed 0|1, hits in window}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
local hits = redis.call('ZCARD', key)
if hits >= tonumber(ARGV[3]) then
	return {0, hits}
end
redis.call('ZADD', key, ARGV[1], ARGV[5])
redis.call('PEXPIRE', key, ARGV[4])
return {1, hits + 1}
`)

// NewRedisStrategy keeps a sorted set of hit timestamps per key, shared by every process using
// the same redis. Denied requests are not recorded, same as the memory strategy.
func NewRedisStrategy(client redis.UniversalClient, now func() time.Time) Strategy {
	if now == nil {
		now = time.Now
	}
	return &redisStrategy{
		client: client,
		now:    now,
	}
}

type redisStrategy struct {
	client redis.UniversalClient
	now    func() time.Time
}

func (s *redisStrategy) Run(ctx context.Context, r *Request) (*Result, error) {
	now := s.now()
	windowMs := r.Duration.Milliseconds()
	if windowMs <= 0 {
		return nil, fmt.Errorf("rate limit window %v for key %v: below a millisecond", r.Duration, r.Key)
	}

	reply, err := slidingWindow.Run(ctx, s.client, []string{r.Key},
		now.UnixMilli(),
		strconv.FormatInt(now.Add(-r.Duration).UnixMilli(), 10),
		r.Limit,
		windowMs,
		uuid.NewString(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("sliding window for key %v: %w", r.Key, err)
	}
	res, err := parseWindowReply(reply)
	if err != nil {
		return nil, fmt.Errorf("sliding window for key %v: %w", r.Key, err)
	}
	res.ExpiresAt = now.Add(r.Duration)
	return res, nil
}

func parseWindowReply(reply interface{}) (*Result, error) {
	values, ok := reply.([]interface{})
	if !ok || len(values) != 2 {
		return nil, fmt.Errorf("unexpected reply %v", reply)
	}
	allowed, ok1 := values[0].(int64)
	hits, ok2 := values[1].(int64)
	if !ok1 || !ok2 || hits < 0 {
		return nil, fmt.Errorf("unexpected reply %v", reply)
	}
	state := Deny
	if allowed == 1 {
		state = Allow
	}
	return &Result{
		State:         state,
		TotalRequests: uint64(hits),
	}, nil
}
