package port

import (
	"context"

	"github.com/clevotec/transcriptionstream/internal/domain/entity"
)

// StatusPublisher reports job progress to whoever follows the meeting.status
// routing key.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, status entity.AttendeeStatusMessage) error
}

// DeadLetterPublisher parks a message that will never be processed, keeping
// the original body untouched.
type DeadLetterPublisher interface {
	DeadLetter(ctx context.Context, body []byte, reason string) error
}
