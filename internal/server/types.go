// Package server provides the HTTP server for the denoise API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

// CreateJobRequest is the HTTP request body for creating a new job.
type CreateJobRequest struct {
	// AudioBase64 is the base64-encoded source recording.
	AudioBase64 string `json:"audio_base64" validate:"required,base64"`
	// PushToS3 indicates whether to upload the denoised audio to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// ChunkReport describes the outcome of a single audio chunk.
type ChunkReport struct {
	// Index is the chunk's position in the recording, 0-based.
	Index int `json:"index"`
	// Status is the chunk's processing status.
	Status string `json:"status"`
	// Diagnostic explains the failure, if any.
	Diagnostic string `json:"diagnostic,omitempty"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// Error contains any error message if the job failed.
	Error string `json:"error,omitempty"`
	// FailedChunks lists the indices of failed chunks, ascending.
	FailedChunks []int `json:"failed_chunks,omitempty"`
	// Chunks reports the per-chunk outcomes once processing has started.
	Chunks []ChunkReport `json:"chunks,omitempty"`
	// AudioBase64 is the base64-encoded denoised audio (if push_to_s3=false and completed).
	AudioBase64 string `json:"audio_base64,omitempty"`
	// AudioURL is the S3 URL of the denoised audio (if push_to_s3=true and completed).
	AudioURL string `json:"audio_url,omitempty"`
	// DurationSec is the merged output length in seconds, when known.
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// ListJobsResponse is the HTTP response for listing jobs.
type ListJobsResponse struct {
	// Jobs contains one summary per job, oldest first.
	Jobs []JobSummary `json:"jobs"`
}

// JobSummary is a compact job view used in listings.
type JobSummary struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
