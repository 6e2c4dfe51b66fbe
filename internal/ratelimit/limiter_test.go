package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLimiter() *Limiter {
	return New(Config{
		MinDelay:            time.Second,
		MaxDelay:            30 * time.Second,
		BackoffMultiplier:   2,
		ResetAfterSuccesses: 3,
	})
}

func TestLimiterBackoffSequence(t *testing.T) {
	t.Parallel()

	l := newTestLimiter()
	require.Equal(t, time.Second, l.CurrentDelay())

	l.ReportFailure(0)
	require.Equal(t, 2*time.Second, l.CurrentDelay())
	l.ReportFailure(0)
	require.Equal(t, 4*time.Second, l.CurrentDelay())
	l.ReportFailure(0)
	require.Equal(t, 8*time.Second, l.CurrentDelay())
}

func TestLimiterBackoffCappedAtMax(t *testing.T) {
	t.Parallel()

	l := newTestLimiter()
	for range 10 {
		l.ReportFailure(0)
	}
	require.Equal(t, 30*time.Second, l.CurrentDelay())
}

func TestLimiterStatusPenalties(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		want   time.Duration
	}{
		{name: "plain failure", status: 0, want: 2 * time.Second},
		{name: "429 doubles again", status: 429, want: 4 * time.Second},
		{name: "5xx adds half", status: 503, want: 3 * time.Second},
		{name: "404 is a plain failure", status: 404, want: 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l := newTestLimiter()
			l.ReportFailure(tt.status)
			require.Equal(t, tt.want, l.CurrentDelay())
		})
	}
}

func TestLimiterSuccessStreakShrinksDelay(t *testing.T) {
	t.Parallel()

	l := newTestLimiter()
	l.ReportFailure(0)
	l.ReportFailure(0)
	require.Equal(t, 4*time.Second, l.CurrentDelay())

	l.ReportSuccess()
	l.ReportSuccess()
	require.Equal(t, 4*time.Second, l.CurrentDelay(), "delay holds until the streak completes")
	l.ReportSuccess()
	require.Equal(t, 2*time.Second, l.CurrentDelay())

	// Flooring at the minimum.
	for range 9 {
		l.ReportSuccess()
	}
	require.Equal(t, time.Second, l.CurrentDelay())
}

func TestLimiterFailureResetsSuccessStreak(t *testing.T) {
	t.Parallel()

	l := newTestLimiter()
	l.ReportFailure(0)
	l.ReportSuccess()
	l.ReportSuccess()
	l.ReportFailure(0)
	require.Equal(t, 4*time.Second, l.CurrentDelay())

	st := l.Stats()
	require.Zero(t, st.ConsecutiveSuccesses)
	require.Equal(t, 1, st.ConsecutiveFailures)
}

func TestLimiterRobotsDelayOnlyRaises(t *testing.T) {
	t.Parallel()

	l := newTestLimiter()
	l.SetMinDelayFromRobots(5 * time.Second)
	require.Equal(t, 5*time.Second, l.CurrentDelay())

	// A smaller robots delay must not lower the floor.
	l.SetMinDelayFromRobots(2 * time.Second)
	require.Equal(t, 5*time.Second, l.CurrentDelay())

	// Successes can no longer shrink below the raised floor.
	for range 12 {
		l.ReportSuccess()
	}
	require.Equal(t, 5*time.Second, l.CurrentDelay())
}

func TestLimiterReset(t *testing.T) {
	t.Parallel()

	l := newTestLimiter()
	l.ReportFailure(429)
	require.NoError(t, l.Wait(context.Background()))

	l.Reset()
	st := l.Stats()
	require.Equal(t, time.Second, st.CurrentDelay)
	require.Zero(t, st.TotalRequests)
	require.Zero(t, st.TotalWaitTime)
	require.Zero(t, st.ConsecutiveFailures)
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := newTestLimiter()
	for range 5 {
		l.ReportFailure(429)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// First token is immediate; the second must wait for the (large) delay
	// and should be cut short by the context.
	require.NoError(t, l.Wait(ctx))
	require.Error(t, l.Wait(ctx))
}
