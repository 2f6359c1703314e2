package pipeline

import (
	"context"
	"fmt"
	"os"
)

// Denoiser is the external noise-suppression collaborator, invoked once
// per chunk with disjoint input/output paths.
type Denoiser interface {
	// Denoise reads inputPath, suppresses noise, and writes outputPath.
	Denoise(ctx context.Context, inputPath, outputPath string) error
}

// ChunkTask processes a single chunk through the denoiser collaborator.
// It performs no retries; retry policy, if any, belongs to the caller.
type ChunkTask struct {
	desc     ChunkDescriptor
	denoiser Denoiser
}

// NewChunkTask creates a task for one chunk descriptor.
func NewChunkTask(desc ChunkDescriptor, denoiser Denoiser) *ChunkTask {
	return &ChunkTask{desc: desc, denoiser: denoiser}
}

// Index implements Task.
func (t *ChunkTask) Index() int {
	return t.desc.Index
}

// Run invokes the denoiser and verifies the output. The chunk succeeds
// only if the collaborator reports success AND the output file exists
// non-empty afterwards; a collaborator that reports success but writes
// nothing (disk full, broken filter) is still a failure.
func (t *ChunkTask) Run(ctx context.Context) ChunkOutcome {
	if err := t.denoiser.Denoise(ctx, t.desc.InputPath, t.desc.OutputPath); err != nil {
		return t.failure(fmt.Sprintf("denoise chunk %d: %v", t.desc.Index, err))
	}

	info, err := os.Stat(t.desc.OutputPath)
	if err != nil {
		return t.failure(fmt.Sprintf("chunk %d: output missing after denoise: %v", t.desc.Index, err))
	}
	if info.Size() == 0 {
		return t.failure(fmt.Sprintf("chunk %d: output file %s is empty", t.desc.Index, t.desc.OutputPath))
	}

	return ChunkOutcome{Index: t.desc.Index, Succeeded: true}
}

func (t *ChunkTask) failure(diagnostic string) ChunkOutcome {
	return ChunkOutcome{
		Index:      t.desc.Index,
		Succeeded:  false,
		Diagnostic: diagnostic,
	}
}
