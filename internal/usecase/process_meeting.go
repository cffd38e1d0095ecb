package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/clevotec/transcriptionstream/internal/domain/entity"
	"github.com/clevotec/transcriptionstream/internal/domain/port"
	"github.com/clevotec/transcriptionstream/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Detector finds the attendee roster frame in a local video file.
type Detector interface {
	Detect(ctx context.Context, videoPath string) (*entity.DetectionResult, error)
}

type ProcessMeetingUseCase struct {
	jobs      port.JobStore
	storage   port.ObjectStore
	detector  Detector
	bundler   port.Bundler
	audio     port.AudioExtractor
	locker    port.JobLocker
	publisher port.StatusPublisher
	dlq       port.DeadLetterPublisher
	notifier  port.FailureNotifier
	logger    *zap.Logger
	cfg       ProcessMeetingConfig
}

type ProcessMeetingConfig struct {
	TempDir     string
	MaxRetries  int
	JPEGQuality int
	// ExtractAudio also uploads a 16 kHz mono WAV of the meeting.
	ExtractAudio bool
	LockTTL      time.Duration
}

func NewProcessMeetingUseCase(
	jobs port.JobStore,
	storage port.ObjectStore,
	detector Detector,
	bundler port.Bundler,
	audio port.AudioExtractor,
	locker port.JobLocker,
	publisher port.StatusPublisher,
	dlq port.DeadLetterPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg ProcessMeetingConfig,
) *ProcessMeetingUseCase {
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 90
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	return &ProcessMeetingUseCase{
		jobs:      jobs,
		storage:   storage,
		detector:  detector,
		bundler:   bundler,
		audio:     audio,
		locker:    locker,
		publisher: publisher,
		dlq:       dlq,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
	}
}

func (uc *ProcessMeetingUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ProcessMeetingUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.AttendeeDetectionMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.DeadLetter(ctx, rawMsg, "unmarshal_error: "+err.Error())
		metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.video_key", msg.VideoKey),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("video_key", msg.VideoKey))

	release, acquired, err := uc.locker.Acquire(ctx, msg.JobID.String(), uc.cfg.LockTTL)
	if err != nil {
		log.Error("failed to acquire job lock", zap.Error(err))
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		log.Info("job is being processed by another worker, skipping")
		metrics.JobsProcessedTotal.WithLabelValues("duplicate").Inc()
		return nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release job lock", zap.Error(err))
		}
	}()

	job, err := uc.jobs.Get(ctx, msg.JobID)
	if errors.Is(err, port.ErrJobNotFound) {
		job = entity.NewJob(msg.UserID, msg.VideoKey, msg.FileSize, uc.cfg.MaxRetries)
		job.ID = msg.JobID
		if err := uc.jobs.Insert(ctx, job); err != nil {
			log.Error("failed to create job record", zap.Error(err))
			return fmt.Errorf("create job: %w", err)
		}
	} else if err != nil {
		log.Error("failed to load job record", zap.Error(err))
		return fmt.Errorf("load job: %w", err)
	}

	if job.Status == entity.JobStatusCompleted {
		log.Info("job already completed, skipping")
		return nil
	}

	if !job.CanRetry() {
		log.Warn("job exhausted retries, sending to DLQ")
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded", log)
	}

	job.MarkProcessing()
	if err := uc.jobs.Save(ctx, job); err != nil {
		log.Error("failed to update job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.detectPipeline(ctx, job, msg, rawMsg, log); err != nil {
		return err
	}

	metrics.JobProcessingDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())
	return nil
}

func (uc *ProcessMeetingUseCase) detectPipeline(
	ctx context.Context,
	job *entity.Job,
	msg entity.AttendeeDetectionMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.cfg.TempDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	dlStart := time.Now()
	fetchCtx, fetchSpan := tracer.Start(ctx, "fetch_video")
	videoPath := filepath.Join(workDir, "input"+filepath.Ext(msg.VideoKey))
	err := uc.storage.FetchVideo(fetchCtx, msg.VideoKey, videoPath)
	fetchSpan.End()
	if errors.Is(err, port.ErrObjectNotFound) {
		log.Error("video object does not exist", zap.Error(err))
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, "fetch_video: "+err.Error(), log)
	}
	if err != nil {
		log.Error("failed to fetch video", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "fetch_video: "+err.Error(), log)
	}
	metrics.JobProcessingDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	// Find the attendee roster
	detStart := time.Now()
	result, err := uc.detector.Detect(ctx, videoPath)
	if errors.Is(err, ErrVideoUnavailable) {
		log.Error("video cannot be decoded", zap.Error(err))
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, "detect_attendees: "+err.Error(), log)
	}
	if err != nil {
		log.Error("attendee detection failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "detect_attendees: "+err.Error(), log)
	}
	metrics.JobProcessingDuration.WithLabelValues("detect").Observe(time.Since(detStart).Seconds())

	var resultKey string
	if !result.Empty() {
		resultKey = fmt.Sprintf("%s/attendees_%s.zip", msg.UserID, job.ID)
		if err := uc.uploadArtifacts(ctx, result, workDir, resultKey); err != nil {
			log.Error("failed to store attendee artifacts", zap.Error(err))
			return uc.handleRetryableFailure(ctx, job, msg, rawMsg, err.Error(), log)
		}
	} else {
		log.Info("no attendees found")
	}

	var audioKey string
	if uc.cfg.ExtractAudio {
		audioKey = fmt.Sprintf("%s/audio_%s.wav", msg.UserID, job.ID)
		if err := uc.uploadAudio(ctx, videoPath, workDir, audioKey); err != nil {
			log.Error("failed to store meeting audio", zap.Error(err))
			return uc.handleRetryableFailure(ctx, job, msg, rawMsg, err.Error(), log)
		}
	}

	job.MarkCompleted(result, resultKey, audioKey)
	if err := uc.jobs.Save(ctx, job); err != nil {
		log.Error("failed to update job to COMPLETED", zap.Error(err))
		return fmt.Errorf("update job completed: %w", err)
	}

	uc.publishStatus(ctx, job, log)

	status := "completed"
	if result.Empty() {
		status = "no_attendees"
	}
	metrics.JobsProcessedTotal.WithLabelValues(status).Inc()

	log.Info("job completed successfully",
		zap.Int("attendees", len(job.Attendees)),
		zap.Int("frames_sampled", job.FramesSampled),
		zap.Float64("frame_timestamp", job.FrameTimestamp),
		zap.Bool("early_stopped", result.EarlyStopped),
		zap.String("result_key", resultKey),
	)

	return nil
}

func (uc *ProcessMeetingUseCase) uploadArtifacts(ctx context.Context, result *entity.DetectionResult, workDir, key string) error {
	ctx, span := otel.Tracer("usecase").Start(ctx, "upload_artifacts")
	defer span.End()
	start := time.Now()

	artifacts, err := entity.RenderArtifacts(result, uc.cfg.JPEGQuality)
	if err != nil {
		return fmt.Errorf("render_artifacts: %w", err)
	}

	bundlePath := filepath.Join(workDir, "attendees.zip")
	if err := uc.bundler.CreateBundle(ctx, artifacts, bundlePath); err != nil {
		return fmt.Errorf("create_bundle: %w", err)
	}

	if err := uc.uploadFile(ctx, bundlePath, key, "application/zip"); err != nil {
		return fmt.Errorf("upload_bundle: %w", err)
	}

	metrics.JobProcessingDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds())
	return nil
}

func (uc *ProcessMeetingUseCase) uploadAudio(ctx context.Context, videoPath, workDir, key string) error {
	ctx, span := otel.Tracer("usecase").Start(ctx, "extract_audio")
	defer span.End()
	start := time.Now()

	wavPath := filepath.Join(workDir, "audio.wav")
	if err := uc.audio.ExtractAudio(ctx, videoPath, wavPath); err != nil {
		return fmt.Errorf("extract_audio: %w", err)
	}
	if err := uc.uploadFile(ctx, wavPath, key, "audio/wav"); err != nil {
		return fmt.Errorf("upload_audio: %w", err)
	}

	metrics.JobProcessingDuration.WithLabelValues("audio").Observe(time.Since(start).Seconds())
	return nil
}

func (uc *ProcessMeetingUseCase) uploadFile(ctx context.Context, path, key, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	return uc.storage.StoreResult(ctx, key, f, info.Size(), contentType)
}

func (uc *ProcessMeetingUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.AttendeeDetectionMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)
	_ = uc.jobs.Save(ctx, job)

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg, log)
	}

	metrics.RetryTotal.WithLabelValues(strconv.Itoa(job.Attempt)).Inc()
	uc.publishStatus(ctx, job, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

func (uc *ProcessMeetingUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.AttendeeDetectionMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)
	_ = uc.jobs.Save(ctx, job)

	if err := uc.dlq.DeadLetter(ctx, rawMsg, errMsg); err != nil {
		log.Error("failed to dead-letter message", zap.Error(err))
	}

	uc.publishStatus(ctx, job, log)

	metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()

	if msg.UserEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, job)
	}

	return nil
}

func (uc *ProcessMeetingUseCase) publishStatus(ctx context.Context, job *entity.Job, log *zap.Logger) {
	if err := uc.publisher.PublishStatus(ctx, entity.NewAttendeeStatusMessage(job)); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
