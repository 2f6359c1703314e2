// Package pipeline implements the concurrent chunk-processing engine:
// a fixed-size worker pool that denoises audio chunks in parallel, an
// aggregator that folds every chunk outcome into a single verdict, and a
// merge gate that reassembles the processed chunks in temporal order.
package pipeline

import "slices"

// ChunkDescriptor identifies one audio chunk to be processed.
// Index is 0-based, dense, and defines the temporal order of the chunk
// within the source recording. Descriptors are created by the splitter
// before dispatch and never mutated afterwards.
type ChunkDescriptor struct {
	// Index is the position of the chunk in the source audio.
	Index int
	// InputPath is the path to the raw chunk audio file.
	InputPath string
	// OutputPath is the path the denoised chunk is written to.
	OutputPath string
}

// ChunkOutcome is the result of processing one chunk. Exactly one outcome
// is produced per dispatched task, by the worker that ran it.
type ChunkOutcome struct {
	// Index is the chunk index this outcome belongs to.
	Index int
	// Succeeded is true only if the denoiser reported success and the
	// output file exists non-empty.
	Succeeded bool
	// Diagnostic describes the failure cause. Empty on success.
	Diagnostic string
}

// Verdict is the pipeline-wide conclusion derived from all chunk outcomes.
// It is computed once per run by Reduce and immutable after construction.
type Verdict struct {
	// OverallSuccess is true iff every chunk succeeded.
	// Zero chunks is vacuously successful.
	OverallSuccess bool
	// PerChunk holds every outcome sorted ascending by chunk index,
	// regardless of the order in which workers finished.
	PerChunk []ChunkOutcome
	// FailedIndices lists the indices of failed chunks, sorted ascending.
	FailedIndices []int
}

// Reduce folds a fully collected outcome set into a Verdict.
//
// OverallSuccess is an explicit AND over every element. The fold is
// commutative and associative, so the arrival order of outcomes never
// changes the result. A running variable updated by plain assignment
// would forget an early failure whenever a later chunk succeeds; the
// scan below inspects every outcome.
func Reduce(outcomes []ChunkOutcome) Verdict {
	perChunk := make([]ChunkOutcome, len(outcomes))
	copy(perChunk, outcomes)
	slices.SortFunc(perChunk, func(a, b ChunkOutcome) int {
		return a.Index - b.Index
	})

	overall := true
	var failed []int
	for _, o := range perChunk {
		overall = overall && o.Succeeded
		if !o.Succeeded {
			failed = append(failed, o.Index)
		}
	}

	return Verdict{
		OverallSuccess: overall,
		PerChunk:       perChunk,
		FailedIndices:  failed,
	}
}

// Diagnostics returns the diagnostic messages of all failed chunks,
// keyed by chunk index.
func (v Verdict) Diagnostics() map[int]string {
	diags := make(map[int]string)
	for _, o := range v.PerChunk {
		if !o.Succeeded {
			diags[o.Index] = o.Diagnostic
		}
	}
	return diags
}
