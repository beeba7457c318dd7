package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type transientErr struct{ transient bool }

func (e transientErr) Error() string   { return "boom" }
func (e transientErr) Transient() bool { return e.transient }

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewPolicy(3, time.Millisecond, time.Second)

	require.False(t, p.ShouldRetry(nil, 0))
	require.True(t, p.ShouldRetry(errors.New("boom"), 0))
	require.False(t, p.ShouldRetry(errors.New("boom"), 2), "attempt ceiling reached")
	require.False(t, p.ShouldRetry(context.Canceled, 0))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 0))
	require.True(t, p.ShouldRetry(transientErr{transient: true}, 0))
	require.False(t, p.ShouldRetry(transientErr{transient: false}, 0))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := NewPolicy(10, 100*time.Millisecond, time.Second)

	for attempt := 0; attempt < 8; attempt++ {
		d := p.Backoff(attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}
}

func TestSleepHonorsContext(t *testing.T) {
	t.Parallel()

	p := NewPolicy(5, time.Minute, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, p.Sleep(ctx, 3), context.Canceled)
}
