package port

import (
	"context"
	"image"
	"time"
)

// VideoHandle is an open, decodable video. Callers must Close it.
type VideoHandle interface {
	Duration() time.Duration
	FrameAt(ctx context.Context, ts time.Duration) (image.Image, error)
	Close() error
}

type VideoDecoder interface {
	Open(ctx context.Context, videoPath string) (VideoHandle, error)
}
