package integration

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/clevotec/transcriptionstream/internal/domain/entity"
	"github.com/clevotec/transcriptionstream/internal/domain/port"
	"github.com/clevotec/transcriptionstream/internal/infra/email"
	"github.com/clevotec/transcriptionstream/internal/infra/ffmpeg"
	miniostorage "github.com/clevotec/transcriptionstream/internal/infra/minio"
	"github.com/clevotec/transcriptionstream/internal/infra/postgres"
	"github.com/clevotec/transcriptionstream/internal/infra/rabbitmq"
	redislock "github.com/clevotec/transcriptionstream/internal/infra/redis"
	"github.com/clevotec/transcriptionstream/internal/usecase"
	"github.com/clevotec/transcriptionstream/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

const (
	exchange      = "tstream.meeting"
	queue         = "meeting.attendees"
	routingKey    = "meeting.attendees"
	statusQueue   = "meeting.status"
	statusRouting = "meeting.status"
	dlq           = "meeting.attendees.dlq"
	uploadBucket  = "incoming"
	resultsBucket = "transcribed"
)

type stack struct {
	pgURL         string
	rmqURL        string
	minioEndpoint string
}

func startStack(ctx context.Context, t *testing.T) stack {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("tstream"),
		tcpostgres.WithUsername("tstream"),
		tcpostgres.WithPassword("tstream"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { pgContainer.Terminate(context.Background()) })

	pgURL, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rmqContainer, err := tcrabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { rmqContainer.Terminate(context.Background()) })

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { minioContainer.Terminate(context.Background()) })

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	require.NoError(t, postgres.RunMigrations(pgURL, "../../migrations"))

	return stack{pgURL: pgURL, rmqURL: rmqURL, minioEndpoint: minioEndpoint}
}

// scriptedRecognizer stands in for Tesseract. It returns roster text on the
// n-th frame it sees and nothing otherwise.
type scriptedRecognizer struct {
	mu       sync.Mutex
	calls    int
	rosterAt int
	roster   string
	sizes    []image.Point
}

func (r *scriptedRecognizer) Recognize(_ context.Context, img image.Image) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.sizes = append(r.sizes, img.Bounds().Size())
	if r.calls == r.rosterAt {
		return r.roster, nil
	}
	return "", nil
}

func generateVideo(t *testing.T, seconds int) string {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	path := filepath.Join(t.TempDir(), "meeting.mp4")
	out, err := exec.Command("ffmpeg", "-v", "error",
		"-f", "lavfi", "-i", "testsrc=duration="+strconv.Itoa(seconds)+":size=320x240:rate=5",
		"-f", "lavfi", "-i", "sine=frequency=440:duration="+strconv.Itoa(seconds),
		"-c:v", "libx264", "-pix_fmt", "yuv420p", "-c:a", "aac", "-shortest",
		path,
	).CombinedOutput()
	require.NoError(t, err, string(out))
	return path
}

func newUseCase(
	t *testing.T,
	rmqConn *amqp.Connection,
	pool *pgxpool.Pool,
	storage *miniostorage.Storage,
	detector usecase.Detector,
	log *zap.Logger,
) *usecase.ProcessMeetingUseCase {
	t.Helper()

	pub, err := rabbitmq.NewPublisher(rmqConn, exchange)
	require.NoError(t, err)

	return usecase.NewProcessMeetingUseCase(
		postgres.NewJobStore(pool),
		storage,
		detector,
		ffmpeg.NewZipBundler(),
		ffmpeg.NewAudioExtractor(log),
		redislock.NopLocker{},
		rabbitmq.NewStatusPublisher(pub, statusRouting),
		rabbitmq.NewDeadLetterPublisher(pub, dlq),
		email.NewSMTPNotifier(email.SMTPConfig{Host: "localhost", Port: 1025, From: "test@test.local"}, log),
		log,
		usecase.ProcessMeetingConfig{
			TempDir:      t.TempDir(),
			MaxRetries:   3,
			ExtractAudio: true,
		},
	)
}

func startConsumer(ctx context.Context, t *testing.T, st stack, uc *usecase.ProcessMeetingUseCase, log *zap.Logger) {
	t.Helper()

	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:              st.rmqURL,
		Queue:            queue,
		RoutingKey:       routingKey,
		Exchange:         exchange,
		DLQ:              dlq,
		StatusQueue:      statusQueue,
		StatusRoutingKey: statusRouting,
		Prefetch:         1,
		WorkerCount:      1,
		BaseDelayMs:      100,
	}, uc.Execute, log)
	require.NoError(t, err)

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	t.Cleanup(func() {
		consumerCancel()
		consumer.Close()
	})

	go func() {
		consumer.Start(consumerCtx)
	}()

	// Give consumer time to start
	time.Sleep(500 * time.Millisecond)
}

func publish(ctx context.Context, t *testing.T, conn *amqp.Connection, body []byte) {
	t.Helper()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	require.NoError(t, err)
}

func newStorage(ctx context.Context, t *testing.T, st stack) *miniostorage.Storage {
	t.Helper()
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      st.minioEndpoint,
		AccessKey:     "minioadmin",
		SecretKey:     "minioadmin",
		UploadBucket:  uploadBucket,
		ResultsBucket: resultsBucket,
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBuckets(ctx))
	return storage
}

func TestProcessMeetingEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	videoPath := generateVideo(t, 12)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	st := startStack(ctx, t)
	storage := newStorage(ctx, t, st)

	minioClient, err := miniogo.New(st.minioEndpoint, &miniogo.Options{
		Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
	})
	require.NoError(t, err)

	videoKey := "testuser/meeting.mp4"
	_, err = minioClient.FPutObject(ctx, uploadBucket, videoKey, videoPath, miniogo.PutObjectOptions{
		ContentType: "video/mp4",
	})
	require.NoError(t, err)

	rmqConn, err := amqp.Dial(st.rmqURL)
	require.NoError(t, err)
	defer rmqConn.Close()

	pool, err := pgxpool.New(ctx, st.pgURL)
	require.NoError(t, err)
	defer pool.Close()

	log, _ := logger.New("debug")
	rec := &scriptedRecognizer{rosterAt: 3, roster: "Participants (3)\nJane Doe\nJohn Smith\nAda Lovelace\nMute"}
	detector := usecase.NewAttendeeDetector(ffmpeg.NewDecoder(log), rec, nil, log, usecase.DetectorConfig{
		Interval:       2 * time.Second,
		EarlyExitAfter: time.Minute,
	})

	uc := newUseCase(t, rmqConn, pool, storage, detector, log)
	startConsumer(ctx, t, st, uc, log)

	jobID := uuid.New()
	videoInfo, _ := os.Stat(videoPath)
	msgBody, err := json.Marshal(entity.AttendeeDetectionMessage{
		JobID:     jobID,
		UserID:    "testuser",
		VideoKey:  videoKey,
		FileSize:  videoInfo.Size(),
		UserEmail: "test@test.local",
	})
	require.NoError(t, err)
	publish(ctx, t, rmqConn, msgBody)

	// Wait for status message on meeting.status queue
	statusCh, err := rmqConn.Channel()
	require.NoError(t, err)
	defer statusCh.Close()

	statusMsgs, err := statusCh.Consume(statusQueue, "", true, false, false, false, nil)
	require.NoError(t, err)

	var status entity.AttendeeStatusMessage
	select {
	case delivery := <-statusMsgs:
		require.NoError(t, json.Unmarshal(delivery.Body, &status))
	case <-time.After(2 * time.Minute):
		t.Fatal("timeout waiting for status message")
	}

	assert.Equal(t, jobID, status.JobID)
	assert.Equal(t, entity.JobStatusCompleted, status.Status)
	assert.Equal(t, []string{"Ada Lovelace", "Jane Doe", "John Smith"}, status.Attendees)
	assert.Equal(t, 4.0, status.FrameTimestamp)
	assert.Equal(t, 6, status.FramesSampled)
	assert.NotEmpty(t, status.ResultKey)
	assert.NotEmpty(t, status.AudioKey)

	rec.mu.Lock()
	for _, size := range rec.sizes {
		assert.Equal(t, image.Pt(320, 240), size)
	}
	rec.mu.Unlock()

	// Verify the bundle in MinIO
	obj, err := minioClient.GetObject(ctx, resultsBucket, status.ResultKey, miniogo.GetObjectOptions{})
	require.NoError(t, err)
	data, err := io.ReadAll(obj)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		files[f.Name] = b
	}
	assert.Equal(t, "Ada Lovelace\nJane Doe\nJohn Smith\n", string(files[entity.AttendeesFileName]))
	require.Contains(t, files, entity.FrameFileName)
	assert.Equal(t, []byte{0xFF, 0xD8}, files[entity.FrameFileName][:2])

	audio, err := minioClient.StatObject(ctx, resultsBucket, status.AudioKey, miniogo.StatObjectOptions{})
	require.NoError(t, err)
	assert.Greater(t, audio.Size, int64(44))

	// Verify job record in database
	var dbStatus string
	var dbAttendees []string
	err = pool.QueryRow(ctx,
		"SELECT status, attendees FROM attendee_jobs WHERE id=$1", jobID,
	).Scan(&dbStatus, &dbAttendees)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", dbStatus)
	assert.Equal(t, status.Attendees, dbAttendees)
}

func TestProcessMeetingMalformedMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st := startStack(ctx, t)
	storage := newStorage(ctx, t, st)

	pool, err := pgxpool.New(ctx, st.pgURL)
	require.NoError(t, err)
	defer pool.Close()

	rmqConn, err := amqp.Dial(st.rmqURL)
	require.NoError(t, err)
	defer rmqConn.Close()

	log, _ := logger.New("debug")
	detector := usecase.NewAttendeeDetector(ffmpeg.NewDecoder(log), &scriptedRecognizer{}, nil, log, usecase.DetectorConfig{})
	uc := newUseCase(t, rmqConn, pool, storage, detector, log)
	startConsumer(ctx, t, st, uc, log)

	publish(ctx, t, rmqConn, []byte(`{invalid json`))

	// Wait and verify message landed in DLQ
	time.Sleep(2 * time.Second)

	dlqCh, err := rmqConn.Channel()
	require.NoError(t, err)
	defer dlqCh.Close()

	dlqMsg, ok, err := dlqCh.Get(dlq, true)
	require.NoError(t, err)
	assert.True(t, ok, "malformed message should be in DLQ")
	assert.Equal(t, `{invalid json`, string(dlqMsg.Body))
}

func TestJobStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("tstream"),
		tcpostgres.WithUsername("tstream"),
		tcpostgres.WithPassword("tstream"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	defer pgContainer.Terminate(context.Background())

	pgURL, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.RunMigrations(pgURL, "../../migrations"))

	pool, err := pgxpool.New(ctx, pgURL)
	require.NoError(t, err)
	defer pool.Close()

	jobs := postgres.NewJobStore(pool)

	_, err = jobs.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, port.ErrJobNotFound)

	job := entity.NewJob("u1", "u1/standup.mp4", 1024, 3)
	require.NoError(t, jobs.Insert(ctx, job))
	require.NoError(t, jobs.Insert(ctx, job), "inserting the same id twice is a no-op")

	job.MarkProcessing()
	job.MarkCompleted(&entity.DetectionResult{
		Frame:         image.NewGray(image.Rect(0, 0, 1, 1)),
		Names:         entity.NewNameSet("Jane Doe", "John Smith"),
		Timestamp:     42 * time.Second,
		FramesSampled: 22,
		VideoDuration: 90 * time.Second,
	}, "u1/attendees.zip", "")
	require.NoError(t, jobs.Save(ctx, job))

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCompleted, got.Status)
	assert.Equal(t, []string{"Jane Doe", "John Smith"}, got.Attendees)
	assert.Equal(t, 42.0, got.FrameTimestamp)
	assert.Equal(t, 22, got.FramesSampled)
	assert.Equal(t, 90.0, got.VideoDuration)
	assert.Equal(t, 1, got.Attempt)
	require.NotNil(t, got.CompletedAt)

	missing := entity.NewJob("u2", "u2/x.mp4", 1, 1)
	assert.ErrorIs(t, jobs.Save(ctx, missing), port.ErrJobNotFound)
}

func TestRedisJobLock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	defer redisContainer.Terminate(context.Background())

	url, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := redislock.NewClient(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	locker := redislock.NewLocker(client, "test:")

	release, ok, err := locker.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	_, ok, err = locker.Acquire(ctx, "job-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "locks are per job")

	require.NoError(t, release(ctx))

	release2, ok, err := locker.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// A stale release must not drop the new holder's lock.
	require.NoError(t, release(ctx))
	_, ok, err = locker.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release2(ctx))

	// Locks expire on their own.
	_, ok, err = locker.Acquire(ctx, "job-3", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Eventually(t, func() bool {
		_, ok, err := locker.Acquire(ctx, "job-3", time.Minute)
		return err == nil && ok
	}, 5*time.Second, 100*time.Millisecond)
}
