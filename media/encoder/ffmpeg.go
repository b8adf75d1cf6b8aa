// Package encoder runs the external encoder that turns an uploaded file into an HLS manifest and chunks.
package encoder

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Defaults for FFmpeg.
const (
	DefaultBinary         = "ffmpeg"
	DefaultSegmentSeconds = 10
)

const maxStderr = 4096

// FFmpeg encodes media into VOD HLS using the ffmpeg binary.
type FFmpeg struct {
	Binary         string
	SegmentSeconds int

	Logger *zap.Logger
}

// Encode implements media.Encoder.
//
// The encoder keeps running when ctx is cancelled: an upload whose client went away
// still finishes encoding, and cleanup is left to the caller.
func (e FFmpeg) Encode(ctx context.Context, input string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	binary := e.Binary
	if binary == "" {
		binary = DefaultBinary
	}

	args := e.args(input, outputDir)

	e.logger().Debug("running encoder", zap.String("binary", binary), zap.Strings("args", args))

	cmd := exec.CommandContext(context.WithoutCancel(ctx), binary, args...)

	var stderr strings.Builder
	cmd.Stderr = &limitedWriter{w: &stderr, n: maxStderr}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return nil
}

func (e FFmpeg) args(input string, outputDir string) []string {
	segmentSeconds := e.SegmentSeconds
	if segmentSeconds <= 0 {
		segmentSeconds = DefaultSegmentSeconds
	}

	return []string{
		"-i", input,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, "segment%d.ts"),
		"-f", "hls",
		filepath.Join(outputDir, "playlist.m3u8"),
	}
}

func (e FFmpeg) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}

	return e.Logger
}

// limitedWriter keeps the first n bytes and discards the rest.
type limitedWriter struct {
	w io.Writer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n > 0 {
		chunk := p
		if len(chunk) > l.n {
			chunk = chunk[:l.n]
		}

		written, err := l.w.Write(chunk)
		l.n -= written

		if err != nil {
			return written, err
		}
	}

	return len(p), nil
}
