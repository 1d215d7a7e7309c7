package worker

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Batch processes a slice of jobs in parallel while preserving result
// order; small batches run sequentially.
type Batch struct {
	processor Processor
	workers   int
}

// NewBatch creates a batch runner.
func NewBatch(processor Processor, workers int) *Batch {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Batch{processor: processor, workers: workers}
}

// Run processes all jobs; cancellation is honored between jobs.
func (b *Batch) Run(ctx context.Context, jobs []Job) *BatchResult {
	if len(jobs) == 0 {
		return &BatchResult{Results: []*JobResult{}}
	}
	if len(jobs) <= 2 {
		return b.runSequential(ctx, jobs)
	}
	return b.runParallel(ctx, jobs)
}

func (b *Batch) runSequential(ctx context.Context, jobs []Job) *BatchResult {
	br := &BatchResult{TotalJobs: len(jobs)}
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return br
		default:
		}
		br.Results = append(br.Results, b.runOne(ctx, job))
		br.CompletedJobs++
	}
	b.tally(br)
	return br
}

func (b *Batch) runParallel(ctx context.Context, jobs []Job) *BatchResult {
	results := make([]*JobResult, len(jobs))
	slots := make(chan struct{}, b.workers)
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(idx int, job Job) {
			defer wg.Done()
			slots <- struct{}{}
			defer func() { <-slots }()
			select {
			case <-ctx.Done():
				results[idx] = &JobResult{ID: job.ID, Err: ctx.Err()}
				return
			default:
			}
			results[idx] = b.runOne(ctx, job)
		}(i, job)
	}
	wg.Wait()
	br := &BatchResult{Results: results, TotalJobs: len(jobs), CompletedJobs: len(jobs)}
	b.tally(br)
	return br
}

func (b *Batch) runOne(ctx context.Context, job Job) *JobResult {
	start := time.Now()
	outcome, err := b.processor.Process(ctx, job)
	return &JobResult{
		ID:       job.ID,
		Outcome:  outcome,
		Err:      err,
		Duration: time.Since(start).Nanoseconds(),
	}
}

func (b *Batch) tally(br *BatchResult) {
	for _, r := range br.Results {
		if r == nil {
			continue
		}
		br.TotalDuration += r.Duration
		if r.Err != nil || (r.Outcome != nil && r.Outcome.Failed()) {
			br.FailedJobs++
		}
	}
}
