// Package denoise provides the noise-suppression collaborator invoked
// once per audio chunk.
package denoise

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/maauso/denoise-api/internal/pipeline"
)

// Compile-time checks that both implementations satisfy the pipeline's
// collaborator contract.
var (
	_ pipeline.Denoiser = (*FFmpegDenoiser)(nil)
	_ pipeline.Denoiser = (*PassthroughDenoiser)(nil)
)

// FFmpegDenoiser suppresses noise with an ffmpeg audio filter. When a
// RNNoise model file is configured it uses the arnndn neural filter;
// otherwise it falls back to afftdn spectral denoising.
type FFmpegDenoiser struct {
	ffmpegPath string
	modelPath  string
}

// DenoiserOption configures an FFmpegDenoiser.
type DenoiserOption func(*FFmpegDenoiser)

// WithRNNoiseModel sets the path to a RNNoise model file (.rnnn),
// enabling the arnndn filter.
func WithRNNoiseModel(path string) DenoiserOption {
	return func(d *FFmpegDenoiser) {
		d.modelPath = path
	}
}

// NewFFmpegDenoiser creates a new FFmpegDenoiser.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegDenoiser(ffmpegPath string, opts ...DenoiserOption) *FFmpegDenoiser {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	d := &FFmpegDenoiser{ffmpegPath: ffmpegPath}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Denoise runs the noise-suppression filter over inputPath and writes
// the result to outputPath.
func (d *FFmpegDenoiser) Denoise(ctx context.Context, inputPath, outputPath string) error {
	filter := "afftdn=nf=-25"
	if d.modelPath != "" {
		filter = fmt.Sprintf("arnndn=m=%s", d.modelPath)
	}

	args := []string{
		"-y",
		"-i", inputPath,
		"-af", filter,
		outputPath,
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg denoise: %w, stderr: %s", err, stderr.String())
	}

	return nil
}

// PassthroughDenoiser copies the input to the output unchanged. Useful
// in tests and on machines without ffmpeg or a model file.
type PassthroughDenoiser struct{}

// NewPassthroughDenoiser creates a pass-through denoiser.
func NewPassthroughDenoiser() *PassthroughDenoiser {
	return &PassthroughDenoiser{}
}

// Denoise copies inputPath to outputPath without modification.
func (d *PassthroughDenoiser) Denoise(ctx context.Context, inputPath, outputPath string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	src, err := os.Open(inputPath) // #nosec G304 - paths come from the splitter, not user input
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(outputPath) // #nosec G304
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copy audio: %w", err)
	}
	return dst.Close()
}
