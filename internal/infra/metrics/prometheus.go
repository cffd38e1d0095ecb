package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tstream_attendee_jobs_processed_total",
		Help: "Total number of attendee detection jobs processed, by outcome",
	}, []string{"status"})

	JobProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tstream_attendee_job_duration_seconds",
		Help:    "Duration of attendee detection pipeline stages",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage"})

	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tstream_frames_sampled_total",
		Help: "Total number of video frames fetched by the frame sampler",
	})

	FramesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tstream_frames_ocr_skipped_total",
		Help: "Sampled frames whose OCR was skipped because they matched the previous frame",
	})

	OCRDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tstream_ocr_duration_seconds",
		Help:    "Duration of a single OCR call",
		Buckets: prometheus.DefBuckets,
	})

	EarlyStopsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tstream_detection_early_stops_total",
		Help: "Detections abandoned because no names appeared within the early exit window",
	})

	AttendeesDetected = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tstream_attendees_detected",
		Help:    "Number of attendee names in the winning frame",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tstream_active_workers",
		Help: "Number of currently active workers processing jobs",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tstream_retry_total",
		Help: "Total number of retries",
	}, []string{"attempt"})
)
