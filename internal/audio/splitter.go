// Package audio provides the splitter collaborator that divides a long
// recording into an ordered sequence of chunk descriptors.
package audio

import (
	"context"

	"github.com/maauso/denoise-api/internal/pipeline"
)

// SplitOpts configures the behavior of audio splitting.
type SplitOpts struct {
	// ChunkTargetSec is the target duration for each audio chunk in seconds.
	// Audio will be split at silence boundaries close to this duration.
	// Default: 45 seconds.
	ChunkTargetSec int

	// MinSilenceMs is the minimum silence duration in milliseconds
	// to consider for a split point.
	// Default: 500 milliseconds.
	MinSilenceMs int

	// SilenceThreshDB is the volume threshold in dBFS below which
	// audio is considered silence.
	// Default: -40 dBFS.
	SilenceThreshDB float64
}

// DefaultSplitOpts returns the default options for audio splitting.
func DefaultSplitOpts() SplitOpts {
	return SplitOpts{
		ChunkTargetSec:  45,
		MinSilenceMs:    500,
		SilenceThreshDB: -40,
	}
}

// Splitter defines the interface for splitting audio files at silence
// boundaries.
type Splitter interface {
	// Split divides an audio file into chunks at silence boundaries and
	// returns one descriptor per chunk, with dense 0-based indices in
	// temporal order. Each descriptor carries a pre-existing input file
	// (written by Split) and a not-yet-existing output path, disjoint
	// per index, both under workDir.
	//
	// If the audio is shorter than or equal to ChunkTargetSec, a single
	// descriptor pointing to a copy of the input is returned. The caller
	// owns cleanup of the generated files.
	Split(ctx context.Context, inputWav, workDir string, opts SplitOpts) ([]pipeline.ChunkDescriptor, error)
}
