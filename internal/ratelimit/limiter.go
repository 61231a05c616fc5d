// Package ratelimit provides per-key request limiters backed by Redis or by
// process memory.
package ratelimit

import (
	"context"
	"time"
)

// Rule allows Limit requests per Window for each key.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Rule() Rule
}
