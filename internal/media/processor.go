// Package media provides the merge collaborator that reassembles
// processed audio chunks into a single output file.
package media

import "context"

// Merger defines the interface for concatenating ordered audio files.
// Implementations must preserve the order of inputPaths exactly: the
// caller passes chunks in temporal order, and reordering them would
// scramble the audio.
type Merger interface {
	// Merge concatenates inputPaths, in the order given, into outputPath.
	// It first attempts a fast stream copy (no re-encoding) and falls
	// back to re-encoding if the copy fails due to incompatible formats.
	Merge(ctx context.Context, inputPaths []string, outputPath string) error
}

// DurationProber reads the playing time of an audio file. A Merger may
// additionally implement it so callers can report the length of the
// merged output.
type DurationProber interface {
	// GetMediaDuration returns the duration of path in seconds.
	GetMediaDuration(ctx context.Context, path string) (float64, error)
}
