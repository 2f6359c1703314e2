package pipeline

import (
	"fmt"
	"strings"
)

// ChunkFailureError reports a run in which one or more chunks failed to
// process. It names every failed chunk and its diagnostic, never just
// "failed": an early failure must not be masked by later successes.
type ChunkFailureError struct {
	// FailedIndices lists the failed chunk indices, sorted ascending.
	FailedIndices []int
	// Diagnostics maps each failed index to its diagnostic message.
	Diagnostics map[int]string
}

// newChunkFailureError builds a ChunkFailureError from a failed verdict.
func newChunkFailureError(verdict Verdict) *ChunkFailureError {
	return &ChunkFailureError{
		FailedIndices: verdict.FailedIndices,
		Diagnostics:   verdict.Diagnostics(),
	}
}

func (e *ChunkFailureError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d chunk(s) failed:", len(e.FailedIndices))
	for _, idx := range e.FailedIndices {
		fmt.Fprintf(&b, "\n  chunk %d: %s", idx, e.Diagnostics[idx])
	}
	return b.String()
}

// MergeError reports a failure of the merge collaborator. It occurs only
// when every chunk individually succeeded, and is surfaced distinctly
// from a chunk-processing failure.
type MergeError struct {
	OutputPath string
	Err        error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge to %s failed: %v", e.OutputPath, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}
