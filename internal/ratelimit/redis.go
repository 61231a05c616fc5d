package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window counter shared by every API instance.
type Redis struct {
	client redis.Cmdable
	rule   Rule
	prefix string
}

func NewRedis(client redis.Cmdable, rule Rule) *Redis {
	return &Redis{client: client, rule: rule, prefix: "rl:" + rule.Name + ":"}
}

func (r *Redis) Rule() Rule { return r.rule }

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	k := r.prefix + key

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", r.rule.Name, err)
	}

	count := int(incr.Val())
	reset := ttl.Val()
	if reset < 0 {
		if err := r.client.PExpire(ctx, k, r.rule.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit %s expire: %w", r.rule.Name, err)
		}
		reset = r.rule.Window
	}

	remaining := r.rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:    count <= r.rule.Limit,
		Limit:      r.rule.Limit,
		Remaining:  remaining,
		ResetAfter: reset,
	}, nil
}
