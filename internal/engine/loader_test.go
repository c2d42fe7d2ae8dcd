package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainAll(t *testing.T, l *loader, n int) []loadResult {
	t.Helper()
	var out []loadResult
	deadline := time.Now().Add(5 * time.Second)
	for len(out) < n {
		require.False(t, time.Now().After(deadline), "loads did not finish")
		out = append(out, l.drain(10*time.Millisecond)...)
	}
	return out
}

func TestLoaderDeliversResults(t *testing.T) {
	l := newLoader(2, slog.Default())
	defer l.close()

	boom := errors.New("boom")
	l.submit(job{kind: jobSource, source: "a", gen: 1}, func(context.Context) (any, error) { return 42, nil })
	l.submit(job{kind: jobSource, source: "b", gen: 2}, func(context.Context) (any, error) { return nil, boom })
	assert.Equal(t, 2, l.outstanding)

	results := drainAll(t, l, 2)
	assert.Equal(t, 0, l.outstanding)

	bySource := map[string]loadResult{}
	for _, r := range results {
		bySource[r.source] = r
	}
	assert.Equal(t, 42, bySource["a"].value)
	assert.Equal(t, uint64(1), bySource["a"].gen)
	assert.ErrorIs(t, bySource["b"].err, boom)
	assert.Equal(t, int64(1), l.totalCompleted.Load())
	assert.Equal(t, int64(1), l.totalFailed.Load())
}

func TestLoaderDrainDoesNotWaitWhenIdle(t *testing.T) {
	l := newLoader(1, slog.Default())
	defer l.close()

	start := time.Now()
	assert.Empty(t, l.drain(time.Second))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLoaderCloseCancelsRunningLoads(t *testing.T) {
	l := newLoader(1, slog.Default())
	started := make(chan struct{})
	l.submit(job{kind: jobTile}, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started
	l.close()

	results := l.take()
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].err, context.Canceled)
}
