// Package worker runs render tests in parallel.
package worker

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/MeKo-Tech/renderdiff/internal/descriptor"
	"github.com/MeKo-Tech/renderdiff/internal/runner"
)

// Executor runs a single test.
// This matches the signature of runner.Runner.Run.
type Executor interface {
	Run(ctx context.Context, d *descriptor.Descriptor) runner.Result
}

// Task is one test to run. Index is its position in the run order.
type Task struct {
	Index      int
	Name       string
	Descriptor *descriptor.Descriptor
}

// Result is the outcome of a task.
type Result struct {
	Task Task
	runner.Result
}

// Failed reports whether the test did not pass.
func (r Result) Failed() bool {
	return r.Outcome != runner.Passed
}

// Tally counts finished tests by outcome.
type Tally struct {
	Total   int
	Passed  int
	Failed  int
	Errored int
	Skipped int
}

// Completed is the number of tests with an outcome.
func (t Tally) Completed() int {
	return t.Passed + t.Failed + t.Errored + t.Skipped
}

// Add records one outcome.
func (t *Tally) Add(o runner.Outcome) {
	switch o {
	case runner.Passed:
		t.Passed++
	case runner.Failed:
		t.Failed++
	case runner.Skipped:
		t.Skipped++
	default:
		t.Errored++
	}
}

// ProgressFunc is called after each task completes.
type ProgressFunc func(Tally)

// Config configures the worker pool.
type Config struct {
	Workers    int
	Executor   Executor
	OnProgress ProgressFunc
}

// Pool runs tests in parallel.
type Pool struct {
	workers    int
	executor   Executor
	onProgress ProgressFunc
}

// New creates a new worker pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pool{
		workers:    workers,
		executor:   cfg.Executor,
		onProgress: cfg.OnProgress,
	}
}

// Run executes all tasks and returns their results ordered by task index.
// Every task yields a result; tasks not started before the context is
// cancelled report the context error.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	taskCh := make(chan Task, len(tasks))
	resultCh := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, taskCh, resultCh)
		}()
	}

	for _, task := range tasks {
		taskCh <- task
	}
	close(taskCh)

	results := make([]Result, 0, len(tasks))
	done := make(chan struct{})

	go func() {
		tally := Tally{Total: len(tasks)}
		for result := range resultCh {
			results = append(results, result)

			tally.Add(result.Outcome)
			if p.onProgress != nil {
				p.onProgress(tally)
			}
		}
		close(done)
	}()

	wg.Wait()
	close(resultCh)
	<-done

	sort.Slice(results, func(i, j int) bool { return results[i].Task.Index < results[j].Task.Index })
	return results
}

// worker processes tasks from the task channel and sends results to the result channel.
func (p *Pool) worker(ctx context.Context, tasks <-chan Task, results chan<- Result) {
	for task := range tasks {
		if err := ctx.Err(); err != nil {
			results <- Result{Task: task, Result: runner.Result{
				Name:    task.Name,
				Dir:     task.Descriptor.Dir(),
				Outcome: runner.Errored,
				Score:   math.Inf(1),
				Allowed: task.Descriptor.Allowed,
				Reason:  err.Error(),
			}}
			continue
		}

		results <- Result{Task: task, Result: p.executor.Run(ctx, task.Descriptor)}
	}
}
