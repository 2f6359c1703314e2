package job

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/maauso/denoise-api/internal/audio"
	"github.com/maauso/denoise-api/internal/media"
	"github.com/maauso/denoise-api/internal/pipeline"
	"github.com/maauso/denoise-api/internal/storage"
)

// fakeSplitter writes numChunks input files under workDir, each with
// distinct content, and returns the matching descriptors.
type fakeSplitter struct {
	numChunks int
	err       error
}

func (f *fakeSplitter) Split(_ context.Context, _ string, workDir string, _ audio.SplitOpts) ([]pipeline.ChunkDescriptor, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return nil, err
	}
	chunks := make([]pipeline.ChunkDescriptor, 0, f.numChunks)
	for i := 0; i < f.numChunks; i++ {
		in := filepath.Join(workDir, fmt.Sprintf("chunk_%03d.wav", i))
		out := filepath.Join(workDir, fmt.Sprintf("chunk_%03d_denoised.wav", i))
		if err := os.WriteFile(in, []byte(fmt.Sprintf("part%d|", i)), 0o600); err != nil {
			return nil, err
		}
		chunks = append(chunks, pipeline.ChunkDescriptor{Index: i, InputPath: in, OutputPath: out})
	}
	return chunks, nil
}

// fakeChunkDenoiser copies input to output, failing for one chosen index.
type fakeChunkDenoiser struct {
	failIndex int // -1 means never fail
}

func (f *fakeChunkDenoiser) Denoise(_ context.Context, inputPath, outputPath string) error {
	var idx int
	if _, err := fmt.Sscanf(filepath.Base(inputPath), "chunk_%03d.wav", &idx); err == nil && idx == f.failIndex {
		return errors.New("decoder blew up")
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o600)
}

// fakeConcatMerger concatenates the input files into outputPath and
// reports a fixed duration for the result.
type fakeConcatMerger struct {
	calls      int
	duration   float64
	durationOn string
}

func (f *fakeConcatMerger) Merge(_ context.Context, inputPaths []string, outputPath string) error {
	f.calls++
	var merged []byte
	for _, p := range inputPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		merged = append(merged, data...)
	}
	return os.WriteFile(outputPath, merged, 0o600)
}

func (f *fakeConcatMerger) GetMediaDuration(_ context.Context, path string) (float64, error) {
	f.durationOn = path
	return f.duration, nil
}

var _ media.DurationProber = (*fakeConcatMerger)(nil)

// fakeStorage keeps temp files under a test directory and records uploads.
type fakeStorage struct {
	dir        string
	uploadKeys []string
	cleaned    []string
}

func newFakeStorage(t *testing.T) *fakeStorage {
	t.Helper()
	return &fakeStorage{dir: t.TempDir()}
}

func (f *fakeStorage) SaveTemp(_ context.Context, name string, data io.Reader) (string, error) {
	path := filepath.Join(f.dir, name+".wav")
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = out.Close() }()
	if _, err := io.Copy(out, data); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeStorage) LoadTemp(_ context.Context, path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (f *fakeStorage) CleanupTemp(_ context.Context, paths []string) error {
	for _, p := range paths {
		f.cleaned = append(f.cleaned, p)
		_ = os.Remove(p)
	}
	return nil
}

func (f *fakeStorage) UploadToS3(_ context.Context, key string, data io.Reader) (string, error) {
	if _, err := io.ReadAll(data); err != nil {
		return "", err
	}
	f.uploadKeys = append(f.uploadKeys, key)
	return "https://bucket.s3.amazonaws.com/" + key, nil
}

var _ storage.Storage = (*fakeStorage)(nil)

func newTestService(t *testing.T, numChunks, failIndex int, opts ...ServiceOption) (*DenoiseService, *fakeConcatMerger, *fakeStorage) {
	t.Helper()
	merger := &fakeConcatMerger{duration: 12.5}
	store := newFakeStorage(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewDenoiseService(
		NewMemoryRepository(),
		&fakeSplitter{numChunks: numChunks},
		&fakeChunkDenoiser{failIndex: failIndex},
		merger,
		store,
		logger,
		opts...,
	)
	return svc, merger, store
}

func encodedAudio() string {
	return base64.StdEncoding.EncodeToString([]byte("riff-ish audio payload"))
}

func TestNewDenoiseService(t *testing.T) {
	svc, _, _ := newTestService(t, 1, -1)
	if svc == nil {
		t.Fatal("expected non-nil service")
	}
	if !svc.keepFailedChunks {
		t.Error("expected keepFailedChunks to default to true")
	}

	// Nil logger falls back to the default.
	svc2 := NewDenoiseService(NewMemoryRepository(), &fakeSplitter{}, &fakeChunkDenoiser{failIndex: -1}, &fakeConcatMerger{}, newFakeStorage(t), nil)
	if svc2.logger == nil {
		t.Error("expected fallback logger")
	}

	svc3, _, _ := newTestService(t, 1, -1, WithWorkers(8), WithKeepFailedChunks(false))
	if svc3.workers != 8 {
		t.Errorf("expected 8 workers, got %d", svc3.workers)
	}
	if svc3.keepFailedChunks {
		t.Error("expected keepFailedChunks false")
	}

	// Non-positive worker counts are ignored.
	svc4, _, _ := newTestService(t, 1, -1, WithWorkers(0))
	if svc4.workers != 0 {
		t.Errorf("expected workers to stay unset, got %d", svc4.workers)
	}
}

func TestDenoiseService_CreateJob(t *testing.T) {
	svc, _, _ := newTestService(t, 1, -1)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, ProcessInput{AudioBase64: encodedAudio(), PushToS3: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.ID == "" {
		t.Error("expected job ID to be set")
	}
	if job.Status != StatusInQueue {
		t.Errorf("expected status %s, got %s", StatusInQueue, job.Status)
	}
	if !job.PushToS3 {
		t.Error("expected PushToS3 to be set")
	}

	saved, err := svc.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.ID != job.ID {
		t.Error("expected job to be persisted")
	}
}

func TestDenoiseService_GetJob_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t, 1, -1)

	_, err := svc.GetJob(context.Background(), "nonexistent")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestDenoiseService_ListJobs(t *testing.T) {
	svc, _, _ := newTestService(t, 1, -1)
	ctx := context.Background()

	_, _ = svc.CreateJob(ctx, ProcessInput{AudioBase64: encodedAudio()})
	_, _ = svc.CreateJob(ctx, ProcessInput{AudioBase64: encodedAudio()})

	jobs, err := svc.ListJobs(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("expected 2 jobs, got %d", len(jobs))
	}
}

func TestDenoiseService_Process_Success(t *testing.T) {
	svc, merger, store := newTestService(t, 3, -1)
	ctx := context.Background()

	out, err := svc.Process(ctx, ProcessInput{AudioBase64: encodedAudio()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != StatusCompleted {
		t.Errorf("expected status %s, got %s", StatusCompleted, out.Status)
	}
	if out.AudioPath == "" {
		t.Fatal("expected output audio path")
	}

	// Merged output preserves temporal order regardless of which chunk
	// finished first.
	merged, err := os.ReadFile(out.AudioPath)
	if err != nil {
		t.Fatalf("reading merged output: %v", err)
	}
	if string(merged) != "part0|part1|part2|" {
		t.Errorf("unexpected merged content: %q", merged)
	}
	if merger.calls != 1 {
		t.Errorf("expected exactly one merge, got %d", merger.calls)
	}

	// The merged output is probed for its duration.
	if out.DurationSec != 12.5 {
		t.Errorf("expected duration 12.5, got %v", out.DurationSec)
	}
	if merger.durationOn != out.AudioPath {
		t.Errorf("duration probed on %q, want %q", merger.durationOn, out.AudioPath)
	}

	job, err := svc.GetJob(ctx, out.JobID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusCompleted {
		t.Errorf("expected job status %s, got %s", StatusCompleted, job.Status)
	}
	if job.Progress != 100 {
		t.Errorf("expected progress 100, got %d", job.Progress)
	}
	if job.DurationSec != 12.5 {
		t.Errorf("expected job duration 12.5, got %v", job.DurationSec)
	}
	for _, c := range job.Chunks {
		if c.Status != ChunkStatusCompleted {
			t.Errorf("chunk %d: expected status %s, got %s", c.Index, ChunkStatusCompleted, c.Status)
		}
	}

	// Input temp file is cleaned up after a successful merge.
	if len(store.cleaned) == 0 {
		t.Error("expected input temp file cleanup")
	}
}

func TestDenoiseService_Process_ChunkFailure(t *testing.T) {
	svc, merger, _ := newTestService(t, 4, 1)
	ctx := context.Background()

	out, err := svc.Process(ctx, ProcessInput{AudioBase64: encodedAudio()})
	if err == nil {
		t.Fatal("expected error")
	}
	var chunkErr *pipeline.ChunkFailureError
	if !errors.As(err, &chunkErr) {
		t.Fatalf("expected ChunkFailureError, got %T: %v", err, err)
	}
	if len(chunkErr.FailedIndices) != 1 || chunkErr.FailedIndices[0] != 1 {
		t.Errorf("expected failed indices [1], got %v", chunkErr.FailedIndices)
	}
	if merger.calls != 0 {
		t.Errorf("expected no merge after chunk failure, got %d calls", merger.calls)
	}
	if out.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, out.Status)
	}
	if len(out.FailedChunks) != 1 || out.FailedChunks[0] != 1 {
		t.Errorf("expected FailedChunks [1], got %v", out.FailedChunks)
	}

	job, getErr := svc.GetJob(ctx, out.JobID)
	if getErr != nil {
		t.Fatalf("unexpected error: %v", getErr)
	}
	if job.Status != StatusFailed {
		t.Errorf("expected job status %s, got %s", StatusFailed, job.Status)
	}
	if job.Error == "" {
		t.Error("expected job error to name the failure")
	}
	for _, c := range job.Chunks {
		want := ChunkStatusCompleted
		if c.Index == 1 {
			want = ChunkStatusFailed
		}
		if c.Status != want {
			t.Errorf("chunk %d: expected status %s, got %s", c.Index, want, c.Status)
		}
	}
}

func TestDenoiseService_Process_InvalidBase64(t *testing.T) {
	svc, _, _ := newTestService(t, 1, -1)

	out, err := svc.Process(context.Background(), ProcessInput{AudioBase64: "not base64 !!!"})
	if err == nil {
		t.Fatal("expected error")
	}
	if out.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, out.Status)
	}
}

func TestDenoiseService_Process_SplitFailure(t *testing.T) {
	store := newFakeStorage(t)
	svc := NewDenoiseService(
		NewMemoryRepository(),
		&fakeSplitter{err: errors.New("ffmpeg missing")},
		&fakeChunkDenoiser{failIndex: -1},
		&fakeConcatMerger{},
		store,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	out, err := svc.Process(context.Background(), ProcessInput{AudioBase64: encodedAudio()})
	if err == nil {
		t.Fatal("expected error")
	}
	if out.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, out.Status)
	}
}

func TestDenoiseService_Process_PushToS3(t *testing.T) {
	svc, _, store := newTestService(t, 2, -1)
	ctx := context.Background()

	out, err := svc.Process(ctx, ProcessInput{AudioBase64: encodedAudio(), PushToS3: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.AudioURL == "" {
		t.Error("expected S3 URL on output")
	}
	if len(store.uploadKeys) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(store.uploadKeys))
	}
	if store.uploadKeys[0] != out.JobID+"/denoised.wav" {
		t.Errorf("unexpected upload key: %s", store.uploadKeys[0])
	}

	job, err := svc.GetJob(ctx, out.JobID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.AudioURL != out.AudioURL {
		t.Errorf("expected job AudioURL %s, got %s", out.AudioURL, job.AudioURL)
	}
}

func TestDenoiseService_ProcessExistingJob_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t, 1, -1)

	_, err := svc.ProcessExistingJob(context.Background(), "nonexistent", ProcessInput{AudioBase64: encodedAudio()})
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}
