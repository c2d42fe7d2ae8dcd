package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/renderdiff/internal/tile"
)

// job identifies what a load belongs to. Results whose generation no longer
// matches the owner are dropped when applied.
type job struct {
	kind   jobKind
	source string
	gen    uint64
	coords tile.Coords
}

type jobKind int

const (
	jobSource jobKind = iota
	jobTile
	jobSprite
)

type loadResult struct {
	job
	value any
	err   error
	took  time.Duration
}

// loader runs resource loads on background goroutines. Completed loads are
// collected in a list that only the scene's goroutine drains, so results are
// applied in RunOnce and never concurrently with rendering.
type loader struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	mu    sync.Mutex
	done  []loadResult
	ready chan struct{}

	// outstanding is owned by the scene goroutine.
	outstanding int

	totalCompleted atomic.Int64
	totalFailed    atomic.Int64
}

func newLoader(workers int, logger *slog.Logger) *loader {
	if workers < 1 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &loader{
		ctx:    ctx,
		cancel: cancel,
		sem:    make(chan struct{}, workers),
		ready:  make(chan struct{}, 1),
		logger: logger,
	}
}

// submit starts fn in the background.
func (l *loader) submit(j job, fn func(ctx context.Context) (any, error)) {
	l.outstanding++
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		select {
		case l.sem <- struct{}{}:
		case <-l.ctx.Done():
			l.finish(loadResult{job: j, err: l.ctx.Err()})
			return
		}
		defer func() { <-l.sem }()

		start := time.Now()
		value, err := fn(l.ctx)
		l.finish(loadResult{job: j, value: value, err: err, took: time.Since(start)})
	}()
}

func (l *loader) finish(r loadResult) {
	if r.err != nil {
		l.totalFailed.Add(1)
	} else {
		l.totalCompleted.Add(1)
	}

	l.mu.Lock()
	l.done = append(l.done, r)
	l.mu.Unlock()

	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// drain returns the completed loads, waiting up to wait for the first one
// when loads are still outstanding.
func (l *loader) drain(wait time.Duration) []loadResult {
	results := l.take()
	if len(results) == 0 && l.outstanding > 0 && wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-l.ready:
		case <-timer.C:
		}
		timer.Stop()
		results = l.take()
	}
	l.outstanding -= len(results)
	return results
}

func (l *loader) take() []loadResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	results := l.done
	l.done = nil
	return results
}

// close cancels running loads and waits for their goroutines.
func (l *loader) close() {
	l.cancel()
	l.wg.Wait()
	l.logger.Debug("Loader stopped",
		"completed", l.totalCompleted.Load(),
		"failed", l.totalFailed.Load(),
	)
}
