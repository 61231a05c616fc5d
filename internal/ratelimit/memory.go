package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Memory is a per-key token bucket local to this process. The bucket holds
// Limit tokens and refills one every Window/Limit.
type Memory struct {
	rule     Rule
	interval time.Duration
	mu       sync.Mutex
	buckets  map[string]*keyLimiter
	idleTTL  time.Duration
	stopCh   chan struct{}
	once     sync.Once
}

func NewMemory(rule Rule, cleanupInterval time.Duration) *Memory {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	m := &Memory{
		rule:     rule,
		interval: rule.Window / time.Duration(max(rule.Limit, 1)),
		buckets:  make(map[string]*keyLimiter),
		idleTTL:  max(rule.Window, 2*cleanupInterval),
		stopCh:   make(chan struct{}),
	}
	go m.cleanupLoop(cleanupInterval)
	return m
}

func (m *Memory) Rule() Rule { return m.rule }

func (m *Memory) Stop() {
	m.once.Do(func() { close(m.stopCh) })
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := time.Now()
	limiter := m.bucket(key, now)

	allowed := limiter.AllowN(now, 1)
	remaining := int(limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}

	reset := time.Duration(0)
	if !allowed || remaining == 0 {
		reset = m.interval
	}

	return Decision{
		Allowed:    allowed,
		Limit:      m.rule.Limit,
		Remaining:  remaining,
		ResetAfter: reset,
	}, nil
}

func (m *Memory) bucket(key string, now time.Time) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.buckets[key]; ok {
		b.lastAccess = now
		return b.limiter
	}
	b := &keyLimiter{
		limiter:    rate.NewLimiter(rate.Every(m.interval), m.rule.Limit),
		lastAccess: now,
	}
	m.buckets[key] = b
	return b.limiter
}

func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

func (m *Memory) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup(time.Now())
		case <-m.stopCh:
			return
		}
	}
}

func (m *Memory) cleanup(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, b := range m.buckets {
		if now.Sub(b.lastAccess) > m.idleTTL {
			delete(m.buckets, key)
		}
	}
}
