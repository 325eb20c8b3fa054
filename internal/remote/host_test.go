package remote

import (
	"context"
	"testing"
	"time"

	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultSuccess(t *testing.T) {
	assert.True(t, Result{}.Success())
	assert.False(t, Result{ExitCode: 1}.Success())
}

func TestSleepReturnsAfterDuration(t *testing.T) {
	err := Sleep(context.Background(), time.Millisecond)
	assert.NoError(t, err)
}

func TestSleepHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleep(ctx, time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitPingStopsOnAnswer(t *testing.T) {
	polls := 0
	ping := func(_ context.Context, _ string) bool {
		polls++
		return polls >= 2
	}

	err := WaitPing(context.Background(), ping, "192.0.2.1", time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, polls)
}

func TestWaitPingHonorsCancellation(t *testing.T) {
	ping := func(_ context.Context, _ string) bool { return false }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := WaitPing(ctx, ping, "192.0.2.1", time.Millisecond, time.Minute)
	require.Error(t, err)
}

func TestWaitPingGivesUpAfterBudget(t *testing.T) {
	polls := 0
	ping := func(_ context.Context, _ string) bool {
		polls++
		return false
	}

	err := WaitPing(context.Background(), ping, "192.0.2.1", time.Millisecond, 10*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTimeout)
	assert.Positive(t, polls)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'/work/url'", shellQuote("/work/url"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
