package port

import (
	"context"
	"errors"

	"github.com/clevotec/transcriptionstream/internal/domain/entity"
	"github.com/google/uuid"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore persists attendee jobs. Insert is a no-op for an id that already
// exists; Save fails with ErrJobNotFound for an unknown id.
type JobStore interface {
	Insert(ctx context.Context, job *entity.Job) error
	Save(ctx context.Context, job *entity.Job) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)
}
