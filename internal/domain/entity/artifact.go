package entity

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"strings"
)

const (
	AttendeesFileName = "attendees.txt"
	FrameFileName     = "attendees_frame.jpg"
)

// Artifact is a named file produced from a detection result.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// AttendeesText renders the names sorted, one per line.
func AttendeesText(names NameSet) []byte {
	var b strings.Builder
	for _, n := range names.Sorted() {
		b.WriteString(n)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// RenderArtifacts encodes the attendee list and the best frame. An empty
// result yields no artifacts.
func RenderArtifacts(result *DetectionResult, jpegQuality int) ([]Artifact, error) {
	if result.Empty() {
		return nil, nil
	}

	var frame bytes.Buffer
	if err := jpeg.Encode(&frame, result.Frame, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	return []Artifact{
		{Name: AttendeesFileName, ContentType: "text/plain; charset=utf-8", Data: AttendeesText(result.Names)},
		{Name: FrameFileName, ContentType: "image/jpeg", Data: frame.Bytes()},
	}, nil
}
