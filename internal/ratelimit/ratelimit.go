// Package ratelimit implements fixed-window rate limiting for websocket
// actions. Buckets are process-local and keyed by "action|subject"; each
// action carries its own points budget so e.g. typing never competes with
// sending messages.
package ratelimit

import (
	"sync"
	"time"
)

// Rule configures a fixed-window budget for one action.
type Rule struct {
	Points int
	Window time.Duration
}

// Result is the outcome of a single consumption attempt.
type Result struct {
	OK           bool
	Limit        int
	Remaining    int
	RetryAfterMs int64
}

type bucket struct {
	remaining int
	resetAt   time.Time
}

// Limiter tracks fixed-window buckets for a set of actions.
type Limiter struct {
	mu      sync.Mutex
	rules   map[string]Rule
	buckets map[string]*bucket
	now     func() time.Time
}

// New builds a Limiter from per-action rules.
func New(rules map[string]Rule) *Limiter {
	return &Limiter{
		rules:   rules,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Consume takes one point from the bucket for (action, key). Actions with
// no configured rule are never limited.
func (l *Limiter) Consume(action, key string) Result {
	rule, ok := l.rules[action]
	if !ok {
		return Result{OK: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	id := action + "|" + key
	b, ok := l.buckets[id]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{remaining: rule.Points, resetAt: now.Add(rule.Window)}
		l.buckets[id] = b
	}

	if b.remaining <= 0 {
		retry := b.resetAt.Sub(now).Milliseconds()
		if retry < 1 {
			retry = 1
		}
		return Result{Limit: rule.Points, RetryAfterMs: retry}
	}

	b.remaining--
	return Result{OK: true, Limit: rule.Points, Remaining: b.remaining}
}

// Cleanup drops buckets whose window has expired. Callers run it
// periodically to keep the map from growing with one-off keys.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, id)
		}
	}
}
