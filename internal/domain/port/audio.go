package port

import "context"

type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath string, outputPath string) error
}
