package pipeline

import (
	"context"
	"log/slog"
)

// Runner ties the pool, aggregator, and merge gate together: it
// dispatches one task per chunk descriptor, waits for every outcome, and
// gates the final merge on the aggregated verdict.
type Runner struct {
	denoiser Denoiser
	merger   Merger
	logger   *slog.Logger

	workers          int
	keepFailedChunks bool
	onOutcome        func(ChunkOutcome)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithWorkers sets the worker pool size. Non-positive values fall back
// to runtime.NumCPU().
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) {
		r.workers = n
	}
}

// WithRunnerKeepFailedChunks controls chunk temp retention on a failed
// verdict, forwarded to the merge gate.
func WithRunnerKeepFailedChunks(keep bool) RunnerOption {
	return func(r *Runner) {
		r.keepFailedChunks = keep
	}
}

// WithProgress registers a callback invoked once per resolved chunk
// outcome, in resolution order.
func WithProgress(fn func(ChunkOutcome)) RunnerOption {
	return func(r *Runner) {
		r.onOutcome = fn
	}
}

// NewRunner creates a Runner around the two external collaborators.
func NewRunner(denoiser Denoiser, merger Merger, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		denoiser:         denoiser,
		merger:           merger,
		logger:           logger,
		keepFailedChunks: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes every chunk concurrently and merges the results into
// outputPath. The returned Verdict always accounts for every dispatched
// chunk, whatever err is.
//
// err is nil on full success, a *ChunkFailureError when any chunk
// failed (the merge is skipped), and a *MergeError when all chunks
// succeeded but the merge collaborator failed.
func (r *Runner) Run(ctx context.Context, chunks []ChunkDescriptor, outputPath string) (Verdict, error) {
	r.logger.Info("dispatching chunks",
		slog.Int("chunks", len(chunks)),
		slog.Int("workers", r.workers),
	)

	pool := NewWorkerPool(r.workers)

	handles := make([]*Handle, 0, len(chunks))
	for _, desc := range chunks {
		handles = append(handles, pool.Submit(ctx, NewChunkTask(desc, r.denoiser)))
	}

	var aggOpts []AggregatorOption
	if r.onOutcome != nil {
		aggOpts = append(aggOpts, WithOutcomeCallback(r.onOutcome))
	}
	verdict := NewAggregator(r.logger, aggOpts...).Collect(handles)

	// All handles resolved; the pool is idle and can be released before
	// the single-threaded merge step.
	pool.Shutdown()

	gate := NewMergeGate(r.merger, r.logger, WithKeepFailedChunks(r.keepFailedChunks))
	if err := gate.Finalize(ctx, verdict, chunks, outputPath); err != nil {
		return verdict, err
	}

	return verdict, nil
}
