package pipeline

import (
	"context"
	"log/slog"
	"os"
	"slices"
)

// Merger is the external merge collaborator. It concatenates the given
// files strictly in the order they are passed.
type Merger interface {
	Merge(ctx context.Context, inputPaths []string, outputPath string) error
}

// MergeGate decides, from a Verdict, whether the processed chunks are
// merged into the final output or the run is aborted with a
// partial-failure report.
type MergeGate struct {
	merger Merger
	logger *slog.Logger
	// keepFailedChunks preserves per-chunk temp files on a failed
	// verdict for inspection. Files are always preserved on a merge
	// collaborator failure regardless of this setting.
	keepFailedChunks bool
}

// GateOption configures a MergeGate.
type GateOption func(*MergeGate)

// WithKeepFailedChunks controls whether chunk temp files survive a
// failed verdict. Default is true.
func WithKeepFailedChunks(keep bool) GateOption {
	return func(g *MergeGate) {
		g.keepFailedChunks = keep
	}
}

// NewMergeGate creates a MergeGate around the merge collaborator.
func NewMergeGate(merger Merger, logger *slog.Logger, opts ...GateOption) *MergeGate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &MergeGate{
		merger:           merger,
		logger:           logger,
		keepFailedChunks: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Finalize inspects the verdict and either merges the chunk outputs into
// outputPath or returns a failure report.
//
// On a failed verdict the merge collaborator is never invoked and a
// *ChunkFailureError naming every failed chunk is returned. On a
// successful verdict the merger is invoked exactly once with the chunk
// output paths in ascending index order; merging out of order would
// scramble the audio even though every chunk succeeded. After a
// successful merge the chunk temp files are removed. If the merger
// fails, the temp files are preserved and a *MergeError is returned.
func (g *MergeGate) Finalize(ctx context.Context, verdict Verdict, chunks []ChunkDescriptor, outputPath string) error {
	if !verdict.OverallSuccess {
		g.logger.Error("skipping merge: chunk failures",
			slog.Any("failed_indices", verdict.FailedIndices),
		)
		if !g.keepFailedChunks {
			g.removeChunkFiles(chunks)
		}
		return newChunkFailureError(verdict)
	}

	if len(chunks) == 0 {
		// Vacuously successful run: nothing to merge.
		return nil
	}

	paths := orderedOutputPaths(chunks)
	if err := g.merger.Merge(ctx, paths, outputPath); err != nil {
		g.logger.Error("merge failed",
			slog.String("output", outputPath),
			slog.String("error", err.Error()),
		)
		return &MergeError{OutputPath: outputPath, Err: err}
	}

	g.removeChunkFiles(chunks)

	g.logger.Info("merge completed",
		slog.Int("chunks", len(chunks)),
		slog.String("output", outputPath),
	)
	return nil
}

// orderedOutputPaths returns the chunk output paths sorted ascending by
// index, independent of the slice order the caller happened to pass.
func orderedOutputPaths(chunks []ChunkDescriptor) []string {
	byIndex := make([]ChunkDescriptor, len(chunks))
	copy(byIndex, chunks)
	slices.SortFunc(byIndex, func(a, b ChunkDescriptor) int {
		return a.Index - b.Index
	})

	paths := make([]string, len(byIndex))
	for i, c := range byIndex {
		paths[i] = c.OutputPath
	}
	return paths
}

// removeChunkFiles deletes per-chunk temp files, continuing past
// individual failures.
func (g *MergeGate) removeChunkFiles(chunks []ChunkDescriptor) {
	for _, c := range chunks {
		for _, path := range []string{c.InputPath, c.OutputPath} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				g.logger.Warn("failed to remove chunk file",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
