package validation

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"sleepstage/domain/model"
	"sleepstage/internal"
)

// gridJob evaluates one hyperparameter combination.
type gridJob struct {
	index  int
	params model.Hyperparameters
}

// gridExecutor runs grid points concurrently, bounded by a weighted
// semaphore. Jobs share nothing mutable: every fold gets its own model copy
// and classifier session.
type gridExecutor struct {
	sem    *semaphore.Weighted
	logger *internal.Logger
}

func newGridExecutor(workers int, logger *internal.Logger) *gridExecutor {
	if workers < 1 {
		workers = 1
	}
	return &gridExecutor{sem: semaphore.NewWeighted(int64(workers)), logger: logger}
}

// run evaluates every job with eval and returns results in job order.
func (e *gridExecutor) run(ctx context.Context, jobs []gridJob, eval func(context.Context, model.Hyperparameters) (GridResult, error)) ([]GridResult, error) {
	results := make([]GridResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)

	for _, job := range jobs {
		job := job
		if err := e.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer e.sem.Release(1)
			start := time.Now()
			res, err := eval(gctx, job.params)
			if err != nil {
				return err
			}
			results[job.index] = res
			e.logger.Debug("[GridExecutor] point %d (s=%.2f hr=%.2f hrv=%.2f) score %.3f in %v",
				job.index, job.params.TemporalSmoothingStrength, job.params.HRWeight, job.params.HRVWeight,
				res.Score, time.Since(start))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
