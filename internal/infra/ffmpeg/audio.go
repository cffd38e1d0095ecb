package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/zap"
)

// AudioExtractor writes a 16 kHz mono PCM WAV track suitable for transcription.
type AudioExtractor struct {
	ffmpegBin string
	logger    *zap.Logger
}

func NewAudioExtractor(logger *zap.Logger) *AudioExtractor {
	return &AudioExtractor{ffmpegBin: "ffmpeg", logger: logger}
}

func audioArgs(videoPath, outputPath string) []string {
	return []string{
		"-v", "error",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y",
		outputPath,
	}
}

func (a *AudioExtractor) ExtractAudio(ctx context.Context, videoPath string, outputPath string) error {
	cmd := exec.CommandContext(ctx, a.ffmpegBin, audioArgs(videoPath, outputPath)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg error: %w, output: %s", err, string(output))
	}

	a.logger.Info("audio extracted", zap.String("output", outputPath))
	return nil
}
