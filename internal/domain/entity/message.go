package entity

import "github.com/google/uuid"

// AttendeeDetectionMessage is the inbound message from the meeting.attendees queue.
type AttendeeDetectionMessage struct {
	JobID     uuid.UUID `json:"job_id"`
	UserID    string    `json:"user_id"`
	VideoKey  string    `json:"video_key"`
	FileSize  int64     `json:"file_size"`
	UserEmail string    `json:"user_email"`
}

// AttendeeStatusMessage is the outbound message published to the meeting.status queue.
type AttendeeStatusMessage struct {
	JobID          uuid.UUID `json:"job_id"`
	UserID         string    `json:"user_id"`
	Status         JobStatus `json:"status"`
	VideoKey       string    `json:"video_key"`
	ResultKey      string    `json:"result_key,omitempty"`
	AudioKey       string    `json:"audio_key,omitempty"`
	Attendees      []string  `json:"attendees,omitempty"`
	NoAttendees    bool      `json:"no_attendees,omitempty"`
	FrameTimestamp float64   `json:"frame_timestamp_seconds,omitempty"`
	FramesSampled  int       `json:"frames_sampled,omitempty"`
	Duration       float64   `json:"duration_seconds,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	Attempt        int       `json:"attempt"`
	MaxAttempts    int       `json:"max_attempts"`
}

func NewAttendeeStatusMessage(job *Job) AttendeeStatusMessage {
	return AttendeeStatusMessage{
		JobID:          job.ID,
		UserID:         job.UserID,
		Status:         job.Status,
		VideoKey:       job.VideoKey,
		ResultKey:      job.ResultKey,
		AudioKey:       job.AudioKey,
		Attendees:      job.Attendees,
		NoAttendees:    job.Status == JobStatusCompleted && len(job.Attendees) == 0,
		FrameTimestamp: job.FrameTimestamp,
		FramesSampled:  job.FramesSampled,
		Duration:       job.VideoDuration,
		ErrorMessage:   job.ErrorMessage,
		Attempt:        job.Attempt,
		MaxAttempts:    job.MaxAttempts,
	}
}
