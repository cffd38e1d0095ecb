package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

type Job struct {
	ID             uuid.UUID
	UserID         string
	VideoKey       string
	ResultKey      string
	AudioKey       string
	Status         JobStatus
	Attendees      []string
	FrameTimestamp float64
	FramesSampled  int
	FileSize       int64
	VideoDuration  float64
	Attempt        int
	MaxAttempts    int
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

func NewJob(userID, videoKey string, fileSize int64, maxAttempts int) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		UserID:      userID,
		VideoKey:    videoKey,
		FileSize:    fileSize,
		Status:      JobStatusPending,
		Attempt:     0,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (j *Job) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.Attempt++
	j.ErrorMessage = ""
	j.UpdatedAt = time.Now().UTC()
}

// MarkCompleted records the outcome of a detection. An empty result is a
// successful completion with no attendees.
func (j *Job) MarkCompleted(result *DetectionResult, resultKey, audioKey string) {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.ResultKey = resultKey
	j.AudioKey = audioKey
	j.Attendees = []string{}
	j.FrameTimestamp = 0
	if !result.Empty() {
		j.Attendees = result.Names.Sorted()
		j.FrameTimestamp = result.Timestamp.Seconds()
	}
	if result != nil {
		j.FramesSampled = result.FramesSampled
		j.VideoDuration = result.VideoDuration.Seconds()
	}
	j.UpdatedAt = now
	j.CompletedAt = &now
}

func (j *Job) MarkFailed(errMsg string) {
	j.Status = JobStatusFailed
	j.ErrorMessage = errMsg
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) CanRetry() bool {
	return j.Attempt < j.MaxAttempts
}
