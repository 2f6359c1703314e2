package job

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/maauso/denoise-api/internal/audio"
	"github.com/maauso/denoise-api/internal/media"
	"github.com/maauso/denoise-api/internal/pipeline"
	"github.com/maauso/denoise-api/internal/storage"
)

// ProcessInput contains the input parameters for a denoise run.
type ProcessInput struct {
	// AudioBase64 is the base64-encoded source recording.
	AudioBase64 string
	// PushToS3 indicates whether to upload the denoised audio to S3.
	PushToS3 bool
}

// ProcessOutput contains the result of a denoise run.
type ProcessOutput struct {
	// JobID is the unique identifier for the job.
	JobID string
	// Status is the final job status.
	Status Status
	// AudioPath is the local path to the denoised audio (if not pushed to S3).
	AudioPath string
	// AudioURL is the S3 URL of the denoised audio (if pushed to S3).
	AudioURL string
	// DurationSec is the merged output length in seconds, when known.
	DurationSec float64
	// Error contains any error message if processing failed.
	Error string
	// FailedChunks lists the failed chunk indices, ascending.
	FailedChunks []int
}

// DenoiseService orchestrates the denoise workflow: it saves the input
// recording, splits it into chunks, runs the concurrent pipeline, and
// stores the merged result locally or on S3.
type DenoiseService struct {
	repo     Repository
	splitter audio.Splitter
	denoiser pipeline.Denoiser
	merger   pipeline.Merger
	store    storage.Storage
	logger   *slog.Logger

	workers          int
	splitOpts        audio.SplitOpts
	keepFailedChunks bool
}

// ServiceOption configures a DenoiseService.
type ServiceOption func(*DenoiseService)

// WithWorkers sets the number of concurrent chunk workers.
func WithWorkers(n int) ServiceOption {
	return func(s *DenoiseService) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithSplitOpts overrides the audio split options.
func WithSplitOpts(opts audio.SplitOpts) ServiceOption {
	return func(s *DenoiseService) {
		s.splitOpts = opts
	}
}

// WithKeepFailedChunks controls whether chunk temp files are kept for
// inspection when a run fails. Default is true.
func WithKeepFailedChunks(keep bool) ServiceOption {
	return func(s *DenoiseService) {
		s.keepFailedChunks = keep
	}
}

// NewDenoiseService creates a new DenoiseService.
func NewDenoiseService(
	repo Repository,
	splitter audio.Splitter,
	denoiser pipeline.Denoiser,
	merger pipeline.Merger,
	store storage.Storage,
	logger *slog.Logger,
	opts ...ServiceOption,
) *DenoiseService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &DenoiseService{
		repo:             repo,
		splitter:         splitter,
		denoiser:         denoiser,
		merger:           merger,
		store:            store,
		logger:           logger,
		splitOpts:        audio.DefaultSplitOpts(),
		keepFailedChunks: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob creates a new job and persists it to the repository.
// The job is created in IN_QUEUE status, ready for processing.
func (s *DenoiseService) CreateJob(ctx context.Context, input ProcessInput) (*Job, error) {
	job := New()
	job.PushToS3 = input.PushToS3

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.Bool("push_to_s3", input.PushToS3),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return job, nil
}

// GetJob retrieves a job by ID.
func (s *DenoiseService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all jobs, oldest first.
func (s *DenoiseService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// Process creates a job and runs the complete denoise workflow.
func (s *DenoiseService) Process(ctx context.Context, input ProcessInput) (*ProcessOutput, error) {
	job, err := s.CreateJob(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.ProcessExistingJob(ctx, job.ID, input)
}

// ProcessExistingJob runs the denoise workflow for an already-created
// job:
//
//  1. Decode and save the input recording.
//  2. Split it into chunk descriptors at silence boundaries.
//  3. Denoise all chunks concurrently and aggregate the outcomes.
//  4. Merge in temporal order if every chunk succeeded.
//  5. Store the result locally or on S3 and update the job.
//
// Chunk-level failures never abort sibling chunks; the job fails with a
// report naming every failed chunk. A merge failure is reported
// distinctly from chunk failures.
func (s *DenoiseService) ProcessExistingJob(ctx context.Context, jobID string, input ProcessInput) (*ProcessOutput, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := job.Start(); err != nil {
		return nil, fmt.Errorf("start job %s: %w", jobID, err)
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}

	output, err := s.runPipeline(ctx, job, input)
	if err != nil {
		s.failJob(ctx, job, err)
		return &ProcessOutput{
			JobID:        job.ID,
			Status:       job.GetStatus(),
			Error:        err.Error(),
			FailedChunks: failedIndices(err),
		}, err
	}

	if err := job.Complete(); err != nil {
		return nil, err
	}
	job.UpdateProgress(100)
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("job completed",
		slog.String("job_id", job.ID),
		slog.String("output", output.AudioPath),
		slog.String("url", output.AudioURL),
		slog.Float64("duration_sec", output.DurationSec),
	)
	output.JobID = job.ID
	output.Status = StatusCompleted
	return output, nil
}

// runPipeline executes the split → denoise → merge flow for job.
func (s *DenoiseService) runPipeline(ctx context.Context, job *Job, input ProcessInput) (*ProcessOutput, error) {
	audioData, err := base64.StdEncoding.DecodeString(input.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decode input audio: %w", err)
	}

	inputPath, err := s.store.SaveTemp(ctx, job.ID+"_input", bytes.NewReader(audioData))
	if err != nil {
		return nil, fmt.Errorf("save input audio: %w", err)
	}
	job.InputAudioPath = inputPath

	workDir := filepath.Join(filepath.Dir(inputPath), job.ID+"_chunks")
	chunks, err := s.splitter.Split(ctx, inputPath, workDir, s.splitOpts)
	if err != nil {
		return nil, fmt.Errorf("split audio: %w", err)
	}

	job.SetChunks(chunks)
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("audio split into chunks",
		slog.String("job_id", job.ID),
		slog.Int("chunks", len(chunks)),
	)

	outputPath := filepath.Join(filepath.Dir(inputPath), job.ID+"_denoised.wav")

	var done atomic.Int32
	total := len(chunks)
	runner := pipeline.NewRunner(s.denoiser, s.merger, s.logger,
		pipeline.WithWorkers(s.workers),
		pipeline.WithRunnerKeepFailedChunks(s.keepFailedChunks),
		pipeline.WithProgress(func(pipeline.ChunkOutcome) {
			n := int(done.Add(1))
			job.UpdateProgress(n * 100 / total)
			_ = s.repo.Save(ctx, job)
		}),
	)

	verdict, runErr := runner.Run(ctx, chunks, outputPath)
	job.ApplyVerdict(verdict)
	if runErr != nil {
		return nil, runErr
	}

	// Input temp file is no longer needed once the merge succeeded.
	_ = s.store.CleanupTemp(ctx, []string{inputPath})

	out := &ProcessOutput{AudioPath: outputPath}
	if prober, ok := s.merger.(media.DurationProber); ok {
		// A merged file shorter than its chunks would mean dropped audio;
		// surface the duration so callers can sanity-check the result.
		duration, err := prober.GetMediaDuration(ctx, outputPath)
		if err != nil {
			s.logger.Warn("could not read merged audio duration",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		} else {
			job.SetDuration(duration)
			out.DurationSec = duration
		}
	}
	if input.PushToS3 {
		url, err := s.uploadResult(ctx, job.ID, outputPath)
		if err != nil {
			return nil, err
		}
		out.AudioURL = url
	}
	job.SetOutput(outputPath, out.AudioURL)
	return out, nil
}

// uploadResult pushes the merged file to S3 and returns its URL.
func (s *DenoiseService) uploadResult(ctx context.Context, jobID, path string) (string, error) {
	f, err := s.store.LoadTemp(ctx, path)
	if err != nil {
		return "", fmt.Errorf("load merged audio: %w", err)
	}
	defer func() { _ = f.Close() }()

	url, err := s.store.UploadToS3(ctx, jobID+"/denoised.wav", f)
	if err != nil {
		return "", fmt.Errorf("upload merged audio: %w", err)
	}
	return url, nil
}

// failJob marks the job failed, preserving the full failure report.
func (s *DenoiseService) failJob(ctx context.Context, job *Job, cause error) {
	s.logger.Error("job failed",
		slog.String("job_id", job.ID),
		slog.String("error", cause.Error()),
	)
	if err := job.Fail(cause.Error()); err != nil {
		s.logger.Error("failed to transition job to FAILED",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save failed job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// failedIndices extracts the failed chunk indices from a pipeline error,
// if it carries any.
func failedIndices(err error) []int {
	var chunkErr *pipeline.ChunkFailureError
	if errors.As(err, &chunkErr) {
		return chunkErr.FailedIndices
	}
	return nil
}
