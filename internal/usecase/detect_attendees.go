package usecase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math/bits"
	"time"

	"github.com/clevotec/transcriptionstream/internal/domain/entity"
	"github.com/clevotec/transcriptionstream/internal/domain/port"
	"github.com/clevotec/transcriptionstream/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrVideoUnavailable is returned when the video cannot be opened or decoded.
var ErrVideoUnavailable = errors.New("video unavailable")

const (
	DefaultSampleInterval = 2 * time.Second
	DefaultEarlyExitAfter = 5 * time.Minute
)

type DetectorConfig struct {
	Interval time.Duration
	// EarlyExitAfter is used as given. Zero stops after the first sample when
	// it shows no names.
	EarlyExitAfter time.Duration
	// SimilarFrameDistance is the largest perceptual hash distance to the last
	// OCR'd frame at which a frame reuses that frame's names. Zero still skips
	// identical hashes; negative or a nil fingerprinter disables the check.
	SimilarFrameDistance int
}

// AttendeeDetector samples a video and keeps the frame showing the most names.
// It holds no per-call state and is safe for concurrent use when its
// collaborators are.
type AttendeeDetector struct {
	decoder       port.VideoDecoder
	recognizer    port.TextRecognizer
	fingerprinter port.FrameFingerprinter
	cfg           DetectorConfig
	logger        *zap.Logger
}

// NewAttendeeDetector builds a detector. fingerprinter may be nil.
func NewAttendeeDetector(
	decoder port.VideoDecoder,
	recognizer port.TextRecognizer,
	fingerprinter port.FrameFingerprinter,
	logger *zap.Logger,
	cfg DetectorConfig,
) *AttendeeDetector {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSampleInterval
	}
	return &AttendeeDetector{
		decoder:       decoder,
		recognizer:    recognizer,
		fingerprinter: fingerprinter,
		cfg:           cfg,
		logger:        logger,
	}
}

type samplerState struct {
	bestFrame     image.Image
	bestNames     entity.NameSet
	bestCount     int
	bestTimestamp time.Duration

	prevHash  uint64
	prevNames entity.NameSet
	hasPrev   bool
}

func (s *samplerState) offer(frame image.Image, names entity.NameSet, ts time.Duration) bool {
	if names.Len() <= s.bestCount {
		return false
	}
	s.bestFrame = frame
	s.bestNames = names
	s.bestCount = names.Len()
	s.bestTimestamp = ts
	return true
}

func (d *AttendeeDetector) Detect(ctx context.Context, videoPath string) (*entity.DetectionResult, error) {
	ctx, span := otel.Tracer("usecase").Start(ctx, "AttendeeDetector.Detect")
	defer span.End()

	log := d.logger.With(zap.String("video", videoPath))

	video, err := d.decoder.Open(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVideoUnavailable, err)
	}
	defer func() {
		if err := video.Close(); err != nil {
			log.Warn("failed to close video", zap.Error(err))
		}
	}()

	duration := video.Duration()
	limit := duration.Truncate(time.Second)
	if limit < d.cfg.Interval {
		// Too short to hold a single full interval.
		limit = 0
	}

	state := samplerState{bestNames: entity.NewNameSet()}
	result := &entity.DetectionResult{VideoDuration: duration}

	for i := 0; ; i++ {
		ts := time.Duration(i) * d.cfg.Interval
		if ts >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("detection interrupted at %s: %w", ts, err)
		}
		if ts > d.cfg.EarlyExitAfter && state.bestCount == 0 {
			result.EarlyStopped = true
			metrics.EarlyStopsTotal.Inc()
			log.Info("no names found within early exit window, stopping",
				zap.Duration("at", ts),
				zap.Duration("early_exit_after", d.cfg.EarlyExitAfter),
			)
			break
		}

		result.FramesSampled++
		metrics.FramesSampledTotal.Inc()

		frame, err := video.FrameAt(ctx, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: frame at %s: %w", ErrVideoUnavailable, ts, err)
		}

		names := d.namesInFrame(ctx, &state, frame, ts, log)
		if state.offer(frame, names, ts) {
			log.Debug("new best frame", zap.Duration("at", ts), zap.Int("names", names.Len()))
		}
	}

	if state.bestCount > 0 {
		result.Frame = state.bestFrame
		result.Names = state.bestNames
		result.Timestamp = state.bestTimestamp
	} else {
		result.Names = entity.NewNameSet()
	}

	metrics.AttendeesDetected.Observe(float64(result.Names.Len()))
	span.SetAttributes(
		attribute.Int("detection.frames_sampled", result.FramesSampled),
		attribute.Int("detection.names", result.Names.Len()),
		attribute.Bool("detection.early_stopped", result.EarlyStopped),
	)

	log.Info("attendee detection finished",
		zap.Int("frames_sampled", result.FramesSampled),
		zap.Int("names", result.Names.Len()),
		zap.Bool("early_stopped", result.EarlyStopped),
	)

	return result, nil
}

// namesInFrame runs OCR on a grayscale copy of frame. OCR failures yield an
// empty set.
func (d *AttendeeDetector) namesInFrame(
	ctx context.Context,
	state *samplerState,
	frame image.Image,
	ts time.Duration,
	log *zap.Logger,
) entity.NameSet {
	if d.fingerprinter != nil && d.cfg.SimilarFrameDistance >= 0 {
		hash, err := d.fingerprinter.Fingerprint(frame)
		switch {
		case err != nil:
			log.Debug("fingerprint failed", zap.Duration("at", ts), zap.Error(err))
			state.hasPrev = false
		case state.hasPrev && bits.OnesCount64(hash^state.prevHash) <= d.cfg.SimilarFrameDistance:
			metrics.FramesSkippedTotal.Inc()
			return state.prevNames
		default:
			defer func() {
				state.prevHash = hash
				state.hasPrev = true
			}()
		}
	}

	start := time.Now()
	text, err := d.recognizer.Recognize(ctx, Grayscale(frame))
	metrics.OCRDuration.Observe(time.Since(start).Seconds())

	names := entity.NewNameSet()
	if err != nil {
		log.Debug("ocr failed, counting as no names", zap.Duration("at", ts), zap.Error(err))
	} else {
		names = entity.ExtractNames(text)
	}
	state.prevNames = names
	return names
}

// Grayscale converts img to a single channel image for OCR.
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(b)
	draw.Draw(gray, b, img, b.Min, draw.Src)
	return gray
}
