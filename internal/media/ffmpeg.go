package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Static errors for merge operations.
var (
	// ErrNoInputPaths is returned when no input paths are provided for merging.
	ErrNoInputPaths = errors.New("no input paths provided")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
)

// FFmpegMerger implements Merger using the ffmpeg CLI.
type FFmpegMerger struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// NewFFmpegMerger creates a new FFmpegMerger.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegMerger(ffmpegPath string) *FFmpegMerger {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegMerger{ffmpegPath: ffmpegPath}
}

// Compile-time check that FFmpegMerger implements Merger.
var _ Merger = (*FFmpegMerger)(nil)

// Merge concatenates audio files into a single output file, strictly in
// the order given. It first attempts a fast stream copy and falls back
// to re-encoding as PCM if the copy fails.
func (m *FFmpegMerger) Merge(ctx context.Context, inputPaths []string, outputPath string) error {
	if len(inputPaths) == 0 {
		return ErrNoInputPaths
	}

	if len(inputPaths) == 1 {
		// Single chunk: just copy the file.
		return m.copyFile(inputPaths[0], outputPath)
	}

	// Create a temporary file list for the concat demuxer
	listFile, err := m.createConcatList(inputPaths)
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer func() { _ = os.Remove(listFile) }()

	// Try fast copy first (no re-encoding)
	err = m.mergeWithCopy(ctx, listFile, outputPath)
	if err == nil {
		return nil
	}

	// Fast copy failed, fall back to re-encoding
	return m.mergeWithReencode(ctx, listFile, outputPath)
}

// mergeWithCopy concatenates audio using stream copy (no re-encoding).
func (m *FFmpegMerger) mergeWithCopy(ctx context.Context, listFile, output string) error {
	args := []string{
		"-y",           // Overwrite output file
		"-f", "concat", // Use concat demuxer
		"-safe", "0", // Allow absolute paths
		"-i", listFile, // Input file list
		"-c", "copy", // Copy streams without re-encoding
		output, // Output file
	}
	return m.runFFmpeg(ctx, args)
}

// mergeWithReencode concatenates audio by re-encoding to 16-bit PCM.
func (m *FFmpegMerger) mergeWithReencode(ctx context.Context, listFile, output string) error {
	args := []string{
		"-y",           // Overwrite output file
		"-f", "concat", // Use concat demuxer
		"-safe", "0", // Allow absolute paths
		"-i", listFile, // Input file list
		"-c:a", "pcm_s16le", // Re-encode to plain PCM
		output, // Output file
	}
	return m.runFFmpeg(ctx, args)
}

// createConcatList creates a temporary file containing the list of audio
// files in the format required by ffmpeg's concat demuxer. The list
// preserves the order of inputPaths.
func (m *FFmpegMerger) createConcatList(inputPaths []string) (string, error) {
	f, err := os.CreateTemp("", "ffmpeg-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, path := range inputPaths {
		// Convert to absolute path for safety
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("get absolute path for %s: %w", path, err)
		}
		// Escape single quotes in path
		escapedPath := strings.ReplaceAll(absPath, "'", "'\\''")
		if _, err := fmt.Fprintf(f, "file '%s'\n", escapedPath); err != nil {
			return "", fmt.Errorf("write to concat list: %w", err)
		}
	}

	return f.Name(), nil
}

// copyFile copies a file from src to dst.
func (m *FFmpegMerger) copyFile(src, dst string) error {
	input, err := os.ReadFile(src) // #nosec G304 - src is provided by trusted internal code
	if err != nil {
		return fmt.Errorf("read source file: %w", err)
	}
	if err := os.WriteFile(dst, input, 0600); err != nil {
		return fmt.Errorf("write destination file: %w", err)
	}
	return nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (m *FFmpegMerger) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// GetMediaDuration returns the duration in seconds of a media file.
// It uses ffprobe to extract the duration metadata.
func (m *FFmpegMerger) GetMediaDuration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - path is provided by trusted internal code
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	var duration float64
	_, err = fmt.Sscanf(strings.TrimSpace(stdout.String()), "%f", &duration)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}

	return duration, nil
}
