package entity

import (
	"image"
	"time"
)

// DetectionResult holds the frame with the most distinct names and those names.
// Frame is nil when no sampled frame produced a name.
type DetectionResult struct {
	Frame         image.Image
	Names         NameSet
	Timestamp     time.Duration
	FramesSampled int
	EarlyStopped  bool
	VideoDuration time.Duration
}

func (r *DetectionResult) Empty() bool {
	return r == nil || r.Frame == nil || r.Names.Len() == 0
}
