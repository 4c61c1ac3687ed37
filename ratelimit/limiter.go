// Package ratelimit paces provider requests against per-minute token and
// request budgets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// Window is the length of the rolling usage window.
	Window = 60 * time.Second
	// Cooldown is how long a mid-turn pause lasts.
	Cooldown = 60 * time.Second

	PreflightThreshold = 0.70
	PauseThreshold     = 0.80
)

// Policy is a model's provider limits. Zero disables the corresponding check.
type Policy struct {
	MaxContext        int
	TokensPerMinute   int
	RequestsPerMinute int
}

// Usage is a snapshot of the current window.
type Usage struct {
	WindowStart time.Time
	Tokens      int
	Requests    int
}

// PausedError is returned by Preflight when a new turn must wait.
type PausedError struct {
	TokensPercent   int
	RequestsPercent int
	Policy          Policy
	ResumeAt        time.Time
}

func (e *PausedError) Error() string {
	if e.TokensPercent >= e.RequestsPercent {
		return fmt.Sprintf("⏸ Rate limit approaching (%d%% of %d TPM). Message queued - will send when limit resets.", e.TokensPercent, e.Policy.TokensPerMinute)
	}
	return fmt.Sprintf("⏸ Rate limit approaching (%d%% of %d RPM). Message queued - will send when limit resets.", e.RequestsPercent, e.Policy.RequestsPerMinute)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleep replaces the context-aware sleep used for pauses.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// WithDisabled turns every check into a no-op while still counting usage.
func WithDisabled() Option {
	return func(l *Limiter) { l.disabled = true }
}

// Limiter tracks usage for one session. It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	disabled bool

	windowStart time.Time
	tokens      int
	requests    int
}

func New(opts ...Option) *Limiter {
	l := &Limiter{now: time.Now, sleep: sleepContext}
	for _, opt := range opts {
		opt(l)
	}
	l.windowStart = l.now()
	return l
}

// Preflight rejects a new turn when either counter has reached 70% of its
// limit.
func (l *Limiter) Preflight(p Policy) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	if l.disabled {
		return nil
	}
	tp, rp := l.percentLocked(p)
	if !reached(tp, rp, PreflightThreshold) {
		return nil
	}
	return &PausedError{
		TokensPercent:   percent(l.tokens, p.TokensPerMinute),
		RequestsPercent: percent(l.requests, p.RequestsPerMinute),
		Policy:          p,
		ResumeAt:        l.windowStart.Add(Window),
	}
}

// Wait runs before each request inside a turn. At 80% of either limit it
// calls onPause, sleeps for Cooldown, resets the window and calls onResume.
// It returns early with the context's error if ctx ends during the pause.
func (l *Limiter) Wait(ctx context.Context, p Policy, onPause func(time.Duration), onResume func()) error {
	l.mu.Lock()
	l.rollLocked()
	tp, rp := l.percentLocked(p)
	pause := !l.disabled && reached(tp, rp, PauseThreshold)
	l.mu.Unlock()
	if !pause {
		return nil
	}

	if onPause != nil {
		onPause(Cooldown)
	}
	if err := l.sleep(ctx, Cooldown); err != nil {
		return err
	}
	l.Reset()
	if onResume != nil {
		onResume()
	}
	return nil
}

// RecordRequest counts one request attempt.
func (l *Limiter) RecordRequest() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	l.requests++
}

// RecordUsage adds an authoritative token count reported by the provider.
func (l *Limiter) RecordUsage(tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	l.tokens += tokens
}

// Reset starts a fresh window now.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetLocked()
}

// Usage returns the current window.
func (l *Limiter) Usage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return Usage{WindowStart: l.windowStart, Tokens: l.tokens, Requests: l.requests}
}

func (l *Limiter) rollLocked() {
	if l.now().Sub(l.windowStart) >= Window {
		l.resetLocked()
	}
}

func (l *Limiter) resetLocked() {
	l.windowStart = l.now()
	l.tokens = 0
	l.requests = 0
}

func (l *Limiter) percentLocked(p Policy) (tokens, requests float64) {
	if p.TokensPerMinute > 0 {
		tokens = float64(l.tokens) / float64(p.TokensPerMinute)
	}
	if p.RequestsPerMinute > 0 {
		requests = float64(l.requests) / float64(p.RequestsPerMinute)
	}
	return tokens, requests
}

func percent(used, limit int) int {
	if limit <= 0 {
		return 0
	}
	return used * 100 / limit
}

func reached(tokens, requests, threshold float64) bool {
	return tokens >= threshold || requests >= threshold
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
