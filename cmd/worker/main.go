package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clevotec/transcriptionstream/internal/domain/port"
	"github.com/clevotec/transcriptionstream/internal/infra/config"
	"github.com/clevotec/transcriptionstream/internal/infra/email"
	"github.com/clevotec/transcriptionstream/internal/infra/ffmpeg"
	"github.com/clevotec/transcriptionstream/internal/infra/metrics"
	miniostorage "github.com/clevotec/transcriptionstream/internal/infra/minio"
	"github.com/clevotec/transcriptionstream/internal/infra/phash"
	"github.com/clevotec/transcriptionstream/internal/infra/postgres"
	"github.com/clevotec/transcriptionstream/internal/infra/rabbitmq"
	redislock "github.com/clevotec/transcriptionstream/internal/infra/redis"
	"github.com/clevotec/transcriptionstream/internal/infra/tesseract"
	"github.com/clevotec/transcriptionstream/internal/infra/tracing"
	"github.com/clevotec/transcriptionstream/internal/usecase"
	"github.com/clevotec/transcriptionstream/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	attendeesRoutingKey = "meeting.attendees"
	statusRoutingKey    = "meeting.status"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting tstream attendee worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if the collector is unavailable)
	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: "tstream-attendee-worker",
		Endpoint:    cfg.TracingEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer shutdownTracing(context.Background())
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.Migrations); err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      cfg.MinIOEndpoint,
		AccessKey:     cfg.MinIOAccessKey,
		SecretKey:     cfg.MinIOSecretKey,
		UseSSL:        cfg.MinIOUseSSL,
		UploadBucket:  cfg.MinIOUploadBucket,
		ResultsBucket: cfg.MinIOResultsBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")
	defer pub.Close()

	statusPub := rabbitmq.NewStatusPublisher(pub, statusRoutingKey)
	dlqPub := rabbitmq.NewDeadLetterPublisher(pub, cfg.RabbitMQDLQ)

	readiness := map[string]metrics.ReadyCheck{
		"postgres": pool.Ping,
		"rabbitmq": func(context.Context) error {
			if rmqConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		},
	}

	// Job lock
	var locker port.JobLocker = redislock.NopLocker{}
	if cfg.RedisURL != "" {
		rdb, err := redislock.NewClient(ctx, cfg.RedisURL)
		fatalOnErr(err, "connect to redis")
		defer rdb.Close()
		locker = redislock.NewLocker(rdb, "tstream:attendees:")
		readiness["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		log.Info("REDIS_URL not set, job locking disabled")
	}

	// Detection
	ocr, err := tesseract.NewEngine(cfg.OCRPoolSize, cfg.OCRLanguages, log)
	fatalOnErr(err, "init tesseract")
	defer ocr.Close()

	detector := usecase.NewAttendeeDetector(
		ffmpeg.NewDecoder(log),
		ocr,
		phash.NewFingerprinter(),
		log,
		usecase.DetectorConfig{
			Interval:             cfg.DetectInterval(),
			EarlyExitAfter:       cfg.DetectEarlyExit(),
			SimilarFrameDistance: cfg.DetectSimilarFrameDistance,
		},
	)

	// Infra adapters
	jobs := postgres.NewJobStore(pool)
	notifier := email.NewSMTPNotifier(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	}, log)

	// Use case
	uc := usecase.NewProcessMeetingUseCase(
		jobs, storage, detector,
		ffmpeg.NewZipBundler(), ffmpeg.NewAudioExtractor(log), locker,
		statusPub, dlqPub, notifier,
		log,
		usecase.ProcessMeetingConfig{
			TempDir:      cfg.TempDir,
			MaxRetries:   cfg.MaxRetries,
			JPEGQuality:  cfg.FrameJPEGQuality,
			ExtractAudio: cfg.ExtractAudio,
			LockTTL:      cfg.JobLockDuration(),
		},
	)

	// Ops server (metrics, liveness, readiness)
	metricsSrv := metrics.Serve(cfg.MetricsPort, readiness, log)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:              cfg.RabbitMQURL,
		Queue:            cfg.RabbitMQProcessingQueue,
		RoutingKey:       attendeesRoutingKey,
		Exchange:         cfg.RabbitMQExchange,
		DLQ:              cfg.RabbitMQDLQ,
		StatusQueue:      cfg.RabbitMQStatusQueue,
		StatusRoutingKey: statusRoutingKey,
		Prefetch:         cfg.RabbitMQPrefetch,
		WorkerCount:      cfg.WorkerCount,
		BaseDelayMs:      cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("attendee worker started, consuming messages",
		zap.Int("workers", cfg.WorkerCount),
		zap.Duration("interval", cfg.DetectInterval()),
		zap.Duration("early_exit", cfg.DetectEarlyExit()),
	)

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("attendee worker stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
