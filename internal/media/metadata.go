package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var lookPath = exec.LookPath

// ProbeResult describes the streams of one media file as reported by ffprobe.
type ProbeResult struct {
	Format       string
	Duration     time.Duration
	BitRate      int64
	IsVideo      bool
	AudioStreams []AudioStream
	// DefaultAudio is the position in AudioStreams of the stream flagged as
	// default, or 0.
	DefaultAudio int
}

type AudioStream struct {
	Index      int // stream number inside the container
	Codec      string
	Channels   int
	SampleRate int
	BitRate    int64
	Language   string
	Title      string
}

// FFprobe inspects media files by running ffprobe.
type FFprobe struct {
	ffprobePath string
	timeout     time.Duration
	logger      zerolog.Logger
}

func NewFFprobe(binary string, timeout time.Duration, logger zerolog.Logger) *FFprobe {
	if binary == "" {
		binary = "ffprobe"
	}
	ffprobePath := binary
	if path, err := lookPath(binary); err == nil {
		ffprobePath = path
	}

	return &FFprobe{
		ffprobePath: ffprobePath,
		timeout:     timeout,
		logger:      logger,
	}
}

func (p *FFprobe) IsAvailable() bool {
	_, err := lookPath(p.ffprobePath)
	return err == nil
}

func (p *FFprobe) Probe(ctx context.Context, filePath string) (*ProbeResult, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		p.logger.Debug().Err(err).Str("file", filePath).Str("stderr", strings.TrimSpace(stderr.String())).Msg("ffprobe failed")
		return nil, fmt.Errorf("ffprobe %s: %w", filePath, err)
	}

	return parseProbeOutput(output)
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	Index       int               `json:"index"`
	CodecType   string            `json:"codec_type"`
	CodecName   string            `json:"codec_name"`
	Channels    int               `json:"channels"`
	SampleRate  string            `json:"sample_rate"`
	BitRate     string            `json:"bit_rate"`
	Tags        map[string]string `json:"tags"`
	Disposition map[string]int    `json:"disposition"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

func parseProbeOutput(output []byte) (*ProbeResult, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}

	res := &ProbeResult{
		Format:  probe.Format.FormatName,
		BitRate: parseInt(probe.Format.BitRate),
	}

	if probe.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil && dur > 0 {
			res.Duration = time.Duration(dur * float64(time.Second))
		}
	}

	defaultSet := false
	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			// Embedded cover art shows up as a single-frame video stream.
			if stream.Disposition["attached_pic"] == 0 {
				res.IsVideo = true
			}
		case "audio":
			if !defaultSet && stream.Disposition["default"] == 1 {
				res.DefaultAudio = len(res.AudioStreams)
				defaultSet = true
			}
			res.AudioStreams = append(res.AudioStreams, AudioStream{
				Index:      stream.Index,
				Codec:      strings.ToLower(stream.CodecName),
				Channels:   stream.Channels,
				SampleRate: int(parseInt(stream.SampleRate)),
				BitRate:    parseInt(stream.BitRate),
				Language:   tagValue(stream.Tags, "language"),
				Title:      tagValue(stream.Tags, "title"),
			})
		}
	}

	return res, nil
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func tagValue(tags map[string]string, key string) string {
	for k, v := range tags {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// ToolStatus reports whether an external binary was found on PATH.
type ToolStatus struct {
	Found bool   `json:"found"`
	Path  string `json:"path,omitempty"`
}

type ToolReport struct {
	FFmpeg  ToolStatus `json:"ffmpeg"`
	FFprobe ToolStatus `json:"ffprobe"`
}

func DetectTools(ffmpeg, ffprobe string) ToolReport {
	return ToolReport{
		FFmpeg:  detectTool(ffmpeg),
		FFprobe: detectTool(ffprobe),
	}
}

func detectTool(name string) ToolStatus {
	path, err := lookPath(name)
	if err != nil {
		return ToolStatus{}
	}
	return ToolStatus{Found: true, Path: path}
}
