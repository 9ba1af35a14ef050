package localmedia

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/yamabiko/tabiroku-backend/internal/platform/logger"
)

// Tools wraps the ffmpeg/ffprobe binaries the worker shells out to.
//
// REQUIRED BINARIES in worker runtime:
// - ffmpeg for transcode + thumbnail extraction
// - ffprobe for output metadata
//
// Synchronous and deterministic; call from the transcode worker, not request
// handlers.
type Tools interface {
	AssertReady(ctx context.Context) error

	// TranscodeVideo re-encodes to the normalized delivery profile: 720p cap,
	// 30fps, H.264 main profile at 2000k (2500k max), AAC 128k audio, faststart
	// layout for progressive playback.
	TranscodeVideo(ctx context.Context, inputPath, outputPath string) error

	// ExtractThumbnail grabs a single frame at the one-second mark.
	ExtractThumbnail(ctx context.Context, videoPath, outputPath string) error

	Probe(ctx context.Context, path string) (VideoInfo, error)

	// WorkDir creates a scratch directory for one job; the cleanup func removes it.
	WorkDir(assetID string) (string, func(), error)
}

type VideoInfo struct {
	Width       int
	Height      int
	DurationSec float64
}

type tools struct {
	log *logger.Logger

	ffmpegPath  string
	ffprobePath string

	workRoot      string
	encodeTimeout time.Duration
}

func New(log *logger.Logger, encodeTimeout time.Duration) Tools {
	if encodeTimeout <= 0 {
		encodeTimeout = 10 * time.Minute
	}
	return &tools{
		log:           log.With("service", "MediaTools"),
		ffmpegPath:    "ffmpeg",
		ffprobePath:   "ffprobe",
		workRoot:      "/tmp/tabiroku-media",
		encodeTimeout: encodeTimeout,
	}
}

func (m *tools) AssertReady(ctx context.Context) error {
	for _, bin := range []string{m.ffmpegPath, m.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return fmt.Errorf("create workRoot: %w", err)
	}
	return nil
}

func (m *tools) TranscodeVideo(ctx context.Context, inputPath, outputPath string) error {
	if inputPath == "" {
		return fmt.Errorf("inputPath required")
	}
	if outputPath == "" {
		return fmt.Errorf("outputPath required")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("mkdir output dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.encodeTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-i", inputPath,
		"-vf", "scale=-2:720,fps=30",
		"-c:v", "libx264",
		"-profile:v", "main",
		"-preset", "veryfast",
		"-b:v", "2000k",
		"-maxrate", "2500k",
		"-bufsize", "4000k",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-pix_fmt", "yuv420p",
		outputPath,
	}
	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg transcode failed: %w; out=%s", err, string(out))
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("transcode output missing at %s", outputPath)
	}
	return nil
}

func (m *tools) ExtractThumbnail(ctx context.Context, videoPath, outputPath string) error {
	if videoPath == "" {
		return fmt.Errorf("videoPath required")
	}
	if outputPath == "" {
		return fmt.Errorf("outputPath required")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("mkdir output dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	args := []string{
		"-y",
		"-ss", "00:00:01",
		"-i", videoPath,
		"-frames:v", "1",
		"-qscale:v", "3",
		outputPath,
	}
	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg thumbnail failed: %w; out=%s", err, string(out))
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("thumbnail output missing at %s", outputPath)
	}
	return nil
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (m *tools) Probe(ctx context.Context, path string) (VideoInfo, error) {
	if path == "" {
		return VideoInfo{}, fmt.Errorf("path required")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe failed: %w", err)
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return VideoInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	info := VideoInfo{}
	for _, s := range parsed.Streams {
		if s.CodecType == "video" {
			info.Width = s.Width
			info.Height = s.Height
			break
		}
	}
	if parsed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			info.DurationSec = d
		}
	}
	return info, nil
}

// WorkDir creates a scratch directory for one job under the tools work root.
func (m *tools) WorkDir(assetID string) (string, func(), error) {
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	dir, err := os.MkdirTemp(m.workRoot, assetID+"-")
	if err != nil {
		return "", func() {}, fmt.Errorf("mkdir scratch dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}
