package pipeline

import "log/slog"

// Aggregator collects every chunk's outcome and reduces them into one
// Verdict. It is the single consumer of all worker handles: the
// wait-for-all step is a join over N completion messages, never a race
// to the first finisher.
type Aggregator struct {
	logger *slog.Logger
	// onOutcome, if set, is called once per resolved handle. Used by the
	// caller for progress reporting.
	onOutcome func(ChunkOutcome)
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithOutcomeCallback registers a callback invoked as each handle
// resolves. The callback runs on the aggregating goroutine.
func WithOutcomeCallback(fn func(ChunkOutcome)) AggregatorOption {
	return func(a *Aggregator) {
		a.onOutcome = fn
	}
}

// NewAggregator creates an Aggregator.
func NewAggregator(logger *slog.Logger, opts ...AggregatorOption) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Collect waits on every handle and reduces the outcomes into a Verdict.
//
// It never short-circuits on the first observed failure: every handle is
// resolved so that every chunk's diagnostic is captured and ownership of
// every temp file is settled before cleanup decisions are made. An empty
// handle set yields a vacuously successful verdict.
func (a *Aggregator) Collect(handles []*Handle) Verdict {
	outcomes := make([]ChunkOutcome, 0, len(handles))
	for _, h := range handles {
		o := h.Wait()
		if !o.Succeeded {
			a.logger.Warn("chunk failed",
				slog.Int("chunk", o.Index),
				slog.String("diagnostic", o.Diagnostic),
			)
		}
		if a.onOutcome != nil {
			a.onOutcome(o)
		}
		outcomes = append(outcomes, o)
	}

	verdict := Reduce(outcomes)

	a.logger.Info("pipeline verdict",
		slog.Bool("overall_success", verdict.OverallSuccess),
		slog.Int("chunks", len(verdict.PerChunk)),
		slog.Int("failed", len(verdict.FailedIndices)),
	)

	return verdict
}
