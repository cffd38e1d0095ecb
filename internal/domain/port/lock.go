package port

import (
	"context"
	"time"
)

// JobLocker guards a job against concurrent processing by several workers.
type JobLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}
