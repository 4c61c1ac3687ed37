package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now    time.Time
	slept  []time.Duration
	sleepE error
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	if c.sleepE != nil {
		return c.sleepE
	}
	c.now = c.now.Add(d)
	return nil
}

func newLimiter(c *fakeClock, opts ...Option) *Limiter {
	return New(append([]Option{WithClock(c.Now), WithSleep(c.Sleep)}, opts...)...)
}

var policy = Policy{MaxContext: 1000, TokensPerMinute: 1000, RequestsPerMinute: 10}

func TestPreflightThresholds(t *testing.T) {
	c := newFakeClock()
	l := newLimiter(c)

	l.RecordUsage(699)
	assert.NoError(t, l.Preflight(policy))

	l.RecordUsage(1)
	err := l.Preflight(policy)
	require.Error(t, err)
	var paused *PausedError
	require.ErrorAs(t, err, &paused)
	assert.Equal(t, 70, paused.TokensPercent)
	assert.Equal(t, c.now.Add(Window), paused.ResumeAt)
	assert.Equal(t, "⏸ Rate limit approaching (70% of 1000 TPM). Message queued - will send when limit resets.", err.Error())
}

func TestPreflightRequests(t *testing.T) {
	l := newLimiter(newFakeClock())
	for i := 0; i < 7; i++ {
		l.RecordRequest()
	}
	err := l.Preflight(policy)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "70% of 10 RPM")
}

func TestWindowResetsAfterAMinute(t *testing.T) {
	c := newFakeClock()
	l := newLimiter(c)
	l.RecordUsage(900)
	l.RecordRequest()
	require.Error(t, l.Preflight(policy))

	c.now = c.now.Add(Window)
	assert.NoError(t, l.Preflight(policy))
	u := l.Usage()
	assert.Zero(t, u.Tokens)
	assert.Zero(t, u.Requests)
	assert.Equal(t, c.now, u.WindowStart)
}

func TestWaitPausesAt80Percent(t *testing.T) {
	c := newFakeClock()
	l := newLimiter(c)
	l.RecordUsage(850)

	var events []string
	err := l.Wait(context.Background(), policy,
		func(d time.Duration) { events = append(events, "pause "+d.String()) },
		func() { events = append(events, "resume") })
	require.NoError(t, err)

	assert.Equal(t, []string{"pause 1m0s", "resume"}, events)
	assert.Equal(t, []time.Duration{Cooldown}, c.slept)
	assert.Zero(t, l.Usage().Tokens)
}

func TestWaitBelowThresholdDoesNotSleep(t *testing.T) {
	c := newFakeClock()
	l := newLimiter(c)
	l.RecordUsage(790)
	require.NoError(t, l.Wait(context.Background(), policy, nil, nil))
	assert.Empty(t, c.slept)
}

func TestWaitCancelled(t *testing.T) {
	c := newFakeClock()
	c.sleepE = context.Canceled
	l := newLimiter(c)
	l.RecordUsage(999)

	resumed := false
	err := l.Wait(context.Background(), policy, nil, func() { resumed = true })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, resumed)
	assert.Equal(t, 999, l.Usage().Tokens)
}

func TestZeroLimitsAndDisabled(t *testing.T) {
	c := newFakeClock()
	l := newLimiter(c)
	l.RecordUsage(1 << 20)
	assert.NoError(t, l.Preflight(Policy{}))

	d := newLimiter(c, WithDisabled())
	d.RecordUsage(1 << 20)
	assert.NoError(t, d.Preflight(policy))
	assert.NoError(t, d.Wait(context.Background(), policy, nil, nil))
	assert.Empty(t, c.slept)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
