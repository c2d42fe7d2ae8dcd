package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/renderdiff/internal/descriptor"
	"github.com/MeKo-Tech/renderdiff/internal/runner"
)

// mockExecutor simulates test runs
type mockExecutor struct {
	delay     time.Duration
	failTests map[string]bool
	callCount atomic.Int32
	running   atomic.Int32
	peak      atomic.Int32
}

func (m *mockExecutor) Run(ctx context.Context, d *descriptor.Descriptor) runner.Result {
	m.callCount.Add(1)
	n := m.running.Add(1)
	defer m.running.Add(-1)
	for {
		peak := m.peak.Load()
		if n <= peak || m.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	name := d.Name("/suite")
	select {
	case <-ctx.Done():
		return runner.Result{Name: name, Outcome: runner.Errored, Reason: ctx.Err().Error()}
	case <-time.After(m.delay):
	}

	if m.failTests[name] {
		return runner.Result{Name: name, Outcome: runner.Failed, Score: 0.5}
	}
	return runner.Result{Name: name, Outcome: runner.Passed}
}

func makeTasks(n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		name := fmt.Sprintf("test-%02d", i)
		tasks[i] = Task{
			Index:      i,
			Name:       name,
			Descriptor: descriptor.Defaults("/suite/"+name+"/style.json", nil),
		}
	}
	return tasks
}

func TestPool_BasicExecution(t *testing.T) {
	exec := &mockExecutor{delay: 10 * time.Millisecond}

	pool := New(Config{
		Workers:  2,
		Executor: exec,
	})

	tasks := makeTasks(3)
	results := pool.Run(context.Background(), tasks)

	if len(results) != len(tasks) {
		t.Fatalf("Expected %d results, got %d", len(tasks), len(results))
	}

	for i, r := range results {
		if r.Failed() {
			t.Errorf("Unexpected failure for %s: %s", r.Name, r.Reason)
		}
		if r.Task.Index != i {
			t.Errorf("Expected results in task order, got index %d at %d", r.Task.Index, i)
		}
		if r.Name != tasks[i].Name {
			t.Errorf("Expected name %s, got %s", tasks[i].Name, r.Name)
		}
	}

	if exec.callCount.Load() != int32(len(tasks)) {
		t.Errorf("Expected %d executor calls, got %d", len(tasks), exec.callCount.Load())
	}
}

func TestPool_Parallelism(t *testing.T) {
	exec := &mockExecutor{delay: 50 * time.Millisecond}

	pool := New(Config{
		Workers:  4,
		Executor: exec,
	})

	results := pool.Run(context.Background(), makeTasks(8))

	if len(results) != 8 {
		t.Errorf("Expected 8 results, got %d", len(results))
	}
	if peak := exec.peak.Load(); peak < 2 || peak > 4 {
		t.Errorf("Expected between 2 and 4 concurrent runs, got %d", peak)
	}
}

func TestPool_FailuresDoNotStopTheSuite(t *testing.T) {
	exec := &mockExecutor{
		delay:     5 * time.Millisecond,
		failTests: map[string]bool{"test-01": true},
	}

	pool := New(Config{
		Workers:  2,
		Executor: exec,
	})

	results := pool.Run(context.Background(), makeTasks(3))

	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}

	var failCount int
	for _, r := range results {
		if r.Failed() {
			failCount++
			if r.Name != "test-01" {
				t.Errorf("Unexpected failure for %s", r.Name)
			}
		}
	}
	if failCount != 1 {
		t.Errorf("Expected 1 failure, got %d", failCount)
	}
}

func TestPool_Cancellation(t *testing.T) {
	exec := &mockExecutor{delay: 100 * time.Millisecond}

	pool := New(Config{
		Workers:  2,
		Executor: exec,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	tasks := makeTasks(10)
	start := time.Now()
	results := pool.Run(ctx, tasks)
	elapsed := time.Since(start)

	if elapsed > 500*time.Millisecond {
		t.Errorf("Expected early cancellation, took %v", elapsed)
	}
	if len(results) != len(tasks) {
		t.Fatalf("Expected a result for every task, got %d", len(results))
	}

	var errored int
	for _, r := range results {
		if r.Outcome == runner.Errored {
			errored++
		}
	}
	if errored != len(tasks) {
		t.Errorf("Expected all %d tasks to report cancellation, got %d", len(tasks), errored)
	}
}

func TestPool_ProgressCallback(t *testing.T) {
	exec := &mockExecutor{
		delay:     5 * time.Millisecond,
		failTests: map[string]bool{"test-02": true},
	}

	var progressCalls atomic.Int32
	var last Tally

	pool := New(Config{
		Workers:  2,
		Executor: exec,
		OnProgress: func(t Tally) {
			progressCalls.Add(1)
			last = t
		},
	})

	pool.Run(context.Background(), makeTasks(3))

	if progressCalls.Load() != 3 {
		t.Errorf("Expected 3 progress callbacks, got %d", progressCalls.Load())
	}
	if last.Completed() != 3 || last.Total != 3 {
		t.Errorf("Expected final progress 3/3, got %d/%d", last.Completed(), last.Total)
	}
	if last.Passed != 2 || last.Failed != 1 {
		t.Errorf("Expected 2 passed and 1 failed, got %+v", last)
	}
}

func TestTally_Add(t *testing.T) {
	var tally Tally
	for _, o := range []runner.Outcome{runner.Passed, runner.Failed, runner.Skipped, runner.Errored, runner.Passed} {
		tally.Add(o)
	}

	want := Tally{Passed: 2, Failed: 1, Errored: 1, Skipped: 1}
	if tally != want {
		t.Errorf("Tally = %+v, want %+v", tally, want)
	}
	if tally.Completed() != 5 {
		t.Errorf("Completed() = %d, want 5", tally.Completed())
	}
}

func TestPool_EmptyTasks(t *testing.T) {
	exec := &mockExecutor{}

	pool := New(Config{
		Workers:  2,
		Executor: exec,
	})

	results := pool.Run(context.Background(), nil)

	if len(results) != 0 {
		t.Errorf("Expected 0 results for empty tasks, got %d", len(results))
	}
	if exec.callCount.Load() != 0 {
		t.Errorf("Expected 0 executor calls for empty tasks, got %d", exec.callCount.Load())
	}
}
