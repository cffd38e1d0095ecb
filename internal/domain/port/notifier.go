package port

import (
	"context"

	"github.com/clevotec/transcriptionstream/internal/domain/entity"
)

type FailureNotifier interface {
	NotifyFailure(ctx context.Context, recipient string, job *entity.Job) error
}
