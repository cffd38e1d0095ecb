package port

import (
	"context"
	"image"
)

// TextRecognizer returns best-effort text printed in an image.
type TextRecognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// FrameFingerprinter computes a 64-bit perceptual hash of a frame.
type FrameFingerprinter interface {
	Fingerprint(img image.Image) (uint64, error)
}
