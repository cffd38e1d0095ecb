package ffmpeg

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clevotec/transcriptionstream/internal/domain/entity"
)

// ZipBundler packs detection artifacts into a single zip archive next to the
// downloaded recording.
type ZipBundler struct {
	now func() time.Time
}

func NewZipBundler() *ZipBundler {
	return &ZipBundler{now: time.Now}
}

// CreateBundle writes the archive to a temporary file and renames it into
// place, so outputPath never holds a partial zip.
func (z *ZipBundler) CreateBundle(ctx context.Context, artifacts []entity.Artifact, outputPath string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".bundle-*.zip")
	if err != nil {
		return fmt.Errorf("create zip file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	modified := z.now().UTC()
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addArtifact(zw, a, modified); err != nil {
			return fmt.Errorf("add %s to zip: %w", a.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize zip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close zip file: %w", err)
	}
	if err := os.Rename(tmp.Name(), outputPath); err != nil {
		return fmt.Errorf("move zip into place: %w", err)
	}
	return nil
}

func addArtifact(zw *zip.Writer, a entity.Artifact, modified time.Time) error {
	header := &zip.FileHeader{
		Name:     a.Name,
		Method:   compressionFor(a.ContentType),
		Modified: modified,
	}
	header.SetMode(0o644)

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = w.Write(a.Data)
	return err
}

// compressionFor stores already-compressed media as is and deflates the rest.
func compressionFor(contentType string) uint16 {
	if strings.HasPrefix(contentType, "image/") || strings.HasPrefix(contentType, "video/") {
		return zip.Store
	}
	return zip.Deflate
}
