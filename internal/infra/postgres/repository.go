package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/clevotec/transcriptionstream/internal/domain/entity"
	"github.com/clevotec/transcriptionstream/internal/domain/port"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, user_id, video_key, result_key, audio_key, status, attendees,
	frame_timestamp, frames_sampled, file_size, video_duration,
	attempt, max_attempts, error_message, created_at, updated_at, completed_at`

// JobStore keeps attendee jobs in the attendee_jobs table.
type JobStore struct {
	pool *pgxpool.Pool
}

func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Insert adds job. A concurrent delivery that already inserted the same id
// wins and this call leaves its row alone.
func (r *JobStore) Insert(ctx context.Context, job *entity.Job) error {
	query := `INSERT INTO attendee_jobs (` + jobColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		job.ID, job.UserID, job.VideoKey, job.ResultKey, job.AudioKey, string(job.Status),
		attendeesOrEmpty(job.Attendees), job.FrameTimestamp, job.FramesSampled,
		job.FileSize, job.VideoDuration,
		job.Attempt, job.MaxAttempts, job.ErrorMessage,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobStore) Save(ctx context.Context, job *entity.Job) error {
	query := `
		UPDATE attendee_jobs SET
			status=$2, result_key=$3, audio_key=$4, attendees=$5, frame_timestamp=$6,
			frames_sampled=$7, video_duration=$8, attempt=$9, error_message=$10,
			updated_at=$11, completed_at=$12
		WHERE id=$1`

	tag, err := r.pool.Exec(ctx, query,
		job.ID, string(job.Status), job.ResultKey, job.AudioKey,
		attendeesOrEmpty(job.Attendees), job.FrameTimestamp, job.FramesSampled,
		job.VideoDuration, job.Attempt, job.ErrorMessage,
		job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save job %s: %w", job.ID, port.ErrJobNotFound)
	}
	return nil
}

func (r *JobStore) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM attendee_jobs WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get job %s: %w", id, port.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	job := &entity.Job{}
	var status string
	err := row.Scan(
		&job.ID, &job.UserID, &job.VideoKey, &job.ResultKey, &job.AudioKey, &status,
		&job.Attendees, &job.FrameTimestamp, &job.FramesSampled,
		&job.FileSize, &job.VideoDuration,
		&job.Attempt, &job.MaxAttempts, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = entity.JobStatus(status)
	return job, nil
}

func attendeesOrEmpty(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
