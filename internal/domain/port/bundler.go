package port

import (
	"context"

	"github.com/clevotec/transcriptionstream/internal/domain/entity"
)

type Bundler interface {
	CreateBundle(ctx context.Context, artifacts []entity.Artifact, outputPath string) error
}
