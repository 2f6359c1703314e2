// Package job provides the Job aggregate for managing audio denoise jobs,
// the repository port for persistence, and the service that orchestrates
// the split → denoise → merge workflow.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/denoise-api/internal/job/id"
	"github.com/maauso/denoise-api/internal/pipeline"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting for processing to start.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the job is being processed.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job encountered an error during execution.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was manually cancelled before pickup.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ChunkStatus represents the status of a single audio chunk.
type ChunkStatus string

const (
	// ChunkStatusPending indicates the chunk is waiting to be processed.
	ChunkStatusPending ChunkStatus = "PENDING"
	// ChunkStatusCompleted indicates the chunk was denoised successfully.
	ChunkStatusCompleted ChunkStatus = "COMPLETED"
	// ChunkStatusFailed indicates the chunk processing failed.
	ChunkStatusFailed ChunkStatus = "FAILED"
)

// Chunk mirrors the pipeline's view of one audio segment for reporting.
type Chunk struct {
	// Index is the position of this chunk in the recording.
	Index int
	// Status is the current processing status.
	Status ChunkStatus
	// InputPath is the path to the raw chunk audio file.
	InputPath string
	// OutputPath is the path to the denoised chunk file.
	OutputPath string
	// Diagnostic contains the failure cause if processing failed.
	Diagnostic string
}

// Job represents an audio denoise job aggregate. It carries the chunk
// statuses and, once processing finishes, the pipeline verdict.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Chunks contains the audio segments being processed.
	Chunks []Chunk
	// Progress is the percentage of completion (0-100).
	Progress int
	// Error contains any error message if the job failed.
	Error string
	// FailedChunks lists the indices of failed chunks, ascending.
	FailedChunks []int
	// InputAudioPath is the path to the source recording.
	InputAudioPath string
	// OutputAudioPath is the path to the final denoised file.
	OutputAudioPath string
	// PushToS3 indicates whether to upload the result to S3.
	PushToS3 bool
	// AudioURL is the S3 URL if PushToS3 was true.
	AudioURL string
	// DurationSec is the length of the merged output in seconds, probed
	// after a successful merge. Zero when probing was unavailable.
	DurationSec float64
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE
// status. Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		Chunks:    make([]Chunk, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	// Set timestamps based on state
	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED state.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED state with an error message.
// The message is recorded only if the transition is allowed, so a
// rejected Fail leaves the job untouched.
func (j *Job) Fail(errMsg string) error {
	if err := j.TransitionTo(StatusFailed); err != nil {
		return err
	}
	j.mu.Lock()
	j.Error = errMsg
	j.mu.Unlock()
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetChunks initializes the chunk list from the splitter's descriptors.
// All chunks start in PENDING state.
func (j *Job) SetChunks(descs []pipeline.ChunkDescriptor) {
	j.mu.Lock()
	defer j.mu.Unlock()

	chunks := make([]Chunk, len(descs))
	for i, d := range descs {
		chunks[i] = Chunk{
			Index:      d.Index,
			Status:     ChunkStatusPending,
			InputPath:  d.InputPath,
			OutputPath: d.OutputPath,
		}
	}
	j.Chunks = chunks
	j.UpdatedAt = time.Now()
}

// ApplyVerdict records the pipeline verdict on the job's chunk list.
// Chunk statuses, diagnostics, and FailedChunks come from the verdict;
// the chunk list order (by index) is preserved.
func (j *Job) ApplyVerdict(verdict pipeline.Verdict) {
	j.mu.Lock()
	defer j.mu.Unlock()

	byIndex := make(map[int]pipeline.ChunkOutcome, len(verdict.PerChunk))
	for _, o := range verdict.PerChunk {
		byIndex[o.Index] = o
	}

	for i := range j.Chunks {
		o, ok := byIndex[j.Chunks[i].Index]
		if !ok {
			continue
		}
		if o.Succeeded {
			j.Chunks[i].Status = ChunkStatusCompleted
		} else {
			j.Chunks[i].Status = ChunkStatusFailed
			j.Chunks[i].Diagnostic = o.Diagnostic
		}
	}

	failed := make([]int, len(verdict.FailedIndices))
	copy(failed, verdict.FailedIndices)
	j.FailedChunks = failed
	j.UpdatedAt = time.Now()
}

// UpdateProgress sets the progress percentage (0-100).
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
}

// SetOutput sets the output audio path and optional S3 URL.
func (j *Job) SetOutput(audioPath, audioURL string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputAudioPath = audioPath
	j.AudioURL = audioURL
	j.UpdatedAt = time.Now()
}

// SetDuration records the merged output duration in seconds.
func (j *Job) SetDuration(seconds float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.DurationSec = seconds
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	chunks := make([]Chunk, len(j.Chunks))
	copy(chunks, j.Chunks)
	failed := make([]int, len(j.FailedChunks))
	copy(failed, j.FailedChunks)

	return &Job{
		ID:              j.ID,
		Status:          j.Status,
		Chunks:          chunks,
		Progress:        j.Progress,
		Error:           j.Error,
		FailedChunks:    failed,
		InputAudioPath:  j.InputAudioPath,
		OutputAudioPath: j.OutputAudioPath,
		PushToS3:        j.PushToS3,
		AudioURL:        j.AudioURL,
		DurationSec:     j.DurationSec,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}
