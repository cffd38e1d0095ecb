package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/clevotec/transcriptionstream/internal/domain/port"
	"go.uber.org/zap"
)

var errClosed = errors.New("video handle closed")

// Decoder opens videos through ffprobe and grabs single frames with ffmpeg.
type Decoder struct {
	ffmpegBin  string
	ffprobeBin string
	logger     *zap.Logger
}

func NewDecoder(logger *zap.Logger) *Decoder {
	return &Decoder{ffmpegBin: "ffmpeg", ffprobeBin: "ffprobe", logger: logger}
}

func (d *Decoder) Open(ctx context.Context, videoPath string) (port.VideoHandle, error) {
	info, err := os.Stat(videoPath)
	if err != nil {
		return nil, fmt.Errorf("stat video: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", videoPath)
	}

	duration, err := d.probeDuration(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("video opened",
		zap.String("path", videoPath),
		zap.Float64("duration_secs", duration.Seconds()),
	)

	return &video{decoder: d, path: videoPath, duration: duration}, nil
}

func (d *Decoder) probeDuration(ctx context.Context, videoPath string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, d.ffprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	return parseDuration(string(output))
}

func parseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("video has no duration")
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	if secs < 0 {
		return 0, fmt.Errorf("negative duration %v", secs)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func frameArgs(videoPath string, ts time.Duration) []string {
	return []string{
		"-v", "error",
		"-ss", strconv.FormatFloat(ts.Seconds(), 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	}
}

type video struct {
	decoder  *Decoder
	path     string
	duration time.Duration

	mu     sync.Mutex
	closed bool
}

func (v *video) Duration() time.Duration {
	return v.duration
}

func (v *video) FrameAt(ctx context.Context, ts time.Duration) (image.Image, error) {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return nil, errClosed
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, v.decoder.ffmpegBin, frameArgs(v.path, ts)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame at %s: %w, output: %s", ts, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("no frame at %s", ts)
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode frame at %s: %w", ts, err)
	}
	return img, nil
}

func (v *video) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return errClosed
	}
	v.closed = true
	return nil
}
