package phash

import (
	"fmt"
	"image"

	"github.com/corona10/goimagehash"
)

// Fingerprinter hashes frames with a DCT perceptual hash so that visually
// unchanged slides hash to nearby values.
type Fingerprinter struct{}

func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{}
}

func (f *Fingerprinter) Fingerprint(img image.Image) (uint64, error) {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, fmt.Errorf("perceptual hash: %w", err)
	}
	return hash.GetHash(), nil
}
