package localfs

import (
	"fmt"
	"path/filepath"

	"github.com/clevotec/transcriptionstream/internal/domain/entity"
	"github.com/spf13/afero"
)

// ResultWriter stores detection artifacts in a directory.
type ResultWriter struct {
	fs afero.Fs
}

func NewResultWriter(fs afero.Fs) *ResultWriter {
	return &ResultWriter{fs: fs}
}

// Write creates dir if needed and writes every artifact into it, returning
// the written paths in artifact order.
func (w *ResultWriter) Write(dir string, artifacts []entity.Artifact) ([]string, error) {
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	paths := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		p := filepath.Join(dir, a.Name)
		if err := afero.WriteFile(w.fs, p, a.Data, 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", p, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
