package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// FrameExtractor grabs a still frame from a video source with ffmpeg and
// keeps it on disk as cover art.
type FrameExtractor struct {
	ffmpegPath string
	outputDir  string
	logger     zerolog.Logger
}

func NewFrameExtractor(ffmpeg, outputDir string, logger zerolog.Logger) *FrameExtractor {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ffmpegPath := ffmpeg
	if path, err := lookPath(ffmpeg); err == nil {
		ffmpegPath = path
	}

	return &FrameExtractor{
		ffmpegPath: ffmpegPath,
		outputDir:  outputDir,
		logger:     logger,
	}
}

func (f *FrameExtractor) IsAvailable() bool {
	_, err := lookPath(f.ffmpegPath)
	return err == nil
}

// Path returns where the frame for id is stored.
func (f *FrameExtractor) Path(id string) string {
	return filepath.Join(f.outputDir, id+".jpg")
}

// Extract writes a JPEG frame of videoPath for id and returns its path. An
// existing frame is reused.
func (f *FrameExtractor) Extract(ctx context.Context, videoPath, id string, duration time.Duration) (string, error) {
	outputPath := f.Path(id)
	if _, err := os.Stat(outputPath); err == nil {
		return outputPath, nil
	}
	if err := os.MkdirAll(f.outputDir, 0755); err != nil {
		return "", err
	}

	offset := frameOffset(duration)
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-vf", "scale=320:-1",
		"-q:v", "2",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		f.logger.Debug().
			Err(err).
			Str("video", videoPath).
			Str("output", strings.TrimSpace(string(output))).
			Msg("ffmpeg frame extraction failed")
		os.Remove(outputPath)
		return "", fmt.Errorf("ffmpeg frame: %w", err)
	}

	if _, err := os.Stat(outputPath); err != nil {
		return "", fmt.Errorf("frame file not created")
	}

	f.logger.Debug().Str("video", videoPath).Str("frame", outputPath).Msg("frame extracted")
	return outputPath, nil
}

// frameOffset picks 10% into the video, capped at 5s.
func frameOffset(duration time.Duration) time.Duration {
	offset := 5 * time.Second
	if duration <= 0 {
		return offset
	}
	if tenth := duration / 10; tenth < offset {
		offset = tenth
	}
	return offset
}
