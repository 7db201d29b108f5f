package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"memories_restore/internal/logger"
	"memories_restore/internal/manifest"
)

// Processor handles one manifest entry.
type Processor interface {
	Process(ctx context.Context, index int, entry manifest.Entry, progress func(string)) ItemResult
}

// RunState is how a run ended.
type RunState int

const (
	Completed RunState = iota
	CompletedWithErrors
	Stopped
)

func (s RunState) String() string {
	switch s {
	case Completed:
		return "Completed"
	case CompletedWithErrors:
		return "Completed with errors"
	default:
		return "Stopped"
	}
}

// Summary tallies a run.
type Summary struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	Cancelled int
	OutputDir string
	State     RunState
	Elapsed   time.Duration
}

func (s Summary) String() string {
	return fmt.Sprintf("%s: %d succeeded, %d skipped, %d failed, %d cancelled of %d in %v (output: %s)",
		s.State, s.Succeeded, s.Skipped, s.Failed, s.Cancelled, s.Total, s.Elapsed.Round(time.Second), s.OutputDir)
}

func (s *Summary) add(r ItemResult) {
	switch r.Status {
	case StatusSuccess:
		s.Succeeded++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	default:
		s.Cancelled++
	}
}

// Observer receives progress from a run. Both callbacks may be nil.
// OnMessage is called from worker goroutines; OnResult is called from
// the goroutine running Run, once per item, with the number of items
// completed so far.
type Observer struct {
	OnMessage func(index int, msg string)
	OnResult  func(r ItemResult, completed, total int)
}

type job struct {
	index int
	entry manifest.Entry
}

// Pool runs a Processor over manifest entries with a fixed number of
// workers. Entries are queued in manifest order; completion order is not
// guaranteed.
type Pool struct {
	workers   int
	processor Processor
	outputDir string
}

func NewPool(workers int, processor Processor, outputDir string) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers, processor: processor, outputDir: outputDir}
}

// Run blocks until every entry has been handled or the run is stopped.
// Cancelling ctx stops queueing; queued entries come back cancelled and
// in-flight entries finish their current step.
func (p *Pool) Run(ctx context.Context, entries []manifest.Entry, obs Observer) Summary {
	start := time.Now()
	summary := Summary{Total: len(entries), OutputDir: p.outputDir}

	jobs := make(chan job, p.workers*2)
	results := make(chan ItemResult, p.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go p.worker(ctx, jobs, results, obs, &wg)
	}

	go func() {
		defer close(jobs)
		for i, e := range entries {
			if ctx.Err() != nil {
				return
			}
			select {
			case jobs <- job{index: i + 1, entry: e}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for r := range results {
		completed++
		summary.add(r)
		if obs.OnResult != nil {
			obs.OnResult(r, completed, summary.Total)
		}
	}

	// Entries never queued count as cancelled.
	if missing := summary.Total - completed; missing > 0 {
		summary.Cancelled += missing
		logger.Info.Printf("%d item(s) not started", missing)
	}

	switch {
	case ctx.Err() != nil:
		summary.State = Stopped
	case summary.Failed > 0:
		summary.State = CompletedWithErrors
	default:
		summary.State = Completed
	}
	summary.Elapsed = time.Since(start)
	logger.Info.Printf("Run finished: %s", summary)
	return summary
}

func (p *Pool) worker(ctx context.Context, jobs <-chan job, results chan<- ItemResult, obs Observer, wg *sync.WaitGroup) {
	defer wg.Done()

	for j := range jobs {
		if ctx.Err() != nil {
			results <- ItemResult{Index: j.index, Status: StatusCancelled, Message: "stopped before start", Err: ctx.Err()}
			continue
		}
		var progress func(string)
		if obs.OnMessage != nil {
			index := j.index
			progress = func(msg string) { obs.OnMessage(index, msg) }
		}
		results <- p.processor.Process(ctx, j.index, j.entry, progress)
	}
}
