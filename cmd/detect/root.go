package main

import (
	"context"
	"fmt"
	"time"

	"github.com/clevotec/transcriptionstream/internal/domain/entity"
	"github.com/clevotec/transcriptionstream/internal/infra/ffmpeg"
	"github.com/clevotec/transcriptionstream/internal/infra/localfs"
	"github.com/clevotec/transcriptionstream/internal/infra/phash"
	"github.com/clevotec/transcriptionstream/internal/infra/tesseract"
	"github.com/clevotec/transcriptionstream/internal/usecase"
	"github.com/clevotec/transcriptionstream/pkg/logger"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type detectOptions struct {
	interval        time.Duration
	earlyExit       time.Duration
	similarDistance int
	languages       []string
	jpegQuality     int
	logLevel        string
}

// detectorFactory builds the detector for one run. The returned close func
// releases whatever the detector holds.
type detectorFactory func(opts detectOptions, log *zap.Logger) (usecase.Detector, func() error, error)

// newRootCommand returns the detect command. fs receives the output files.
func newRootCommand(ctx context.Context, fs afero.Fs, newDetector detectorFactory) *cobra.Command {
	opts := detectOptions{}

	cmd := &cobra.Command{
		Use:   "detect <video> <output-dir>",
		Short: "Find the meeting attendee roster in a recorded video.",
		Long: `Detect samples a meeting recording at a fixed interval, reads each frame with OCR
and keeps the frame that shows the most attendee names.

The names are printed sorted, one per line, and written to attendees.txt next to
attendees_frame.jpg in the output directory.

Examples:
  # Scan a recording with the defaults
  detect standup.mp4 ./out

  # Sample every second and give up after two minutes without names
  detect standup.mp4 ./out --interval 1s --early-exit 2m`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(ctx, cmd, fs, newDetector, opts, args[0], args[1])
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&opts.interval, "interval", usecase.DefaultSampleInterval, "time between sampled frames")
	flags.DurationVar(&opts.earlyExit, "early-exit", usecase.DefaultEarlyExitAfter, "stop when no names were seen by this point")
	flags.IntVar(&opts.similarDistance, "similar-distance", -1, "skip OCR for frames within this perceptual hash distance of the previous one (-1 disables)")
	flags.StringSliceVar(&opts.languages, "lang", []string{"eng"}, "tesseract languages")
	flags.IntVar(&opts.jpegQuality, "jpeg-quality", 90, "quality of the saved frame")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

func runDetect(
	ctx context.Context,
	cmd *cobra.Command,
	fs afero.Fs,
	newDetector detectorFactory,
	opts detectOptions,
	videoPath, outputDir string,
) error {
	if opts.interval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", opts.interval)
	}
	if opts.earlyExit < 0 {
		return fmt.Errorf("--early-exit must not be negative, got %s", opts.earlyExit)
	}

	log, err := logger.New(opts.logLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	detector, closeDetector, err := newDetector(opts, log)
	if err != nil {
		return fmt.Errorf("init detector: %w", err)
	}
	defer func() {
		if err := closeDetector(); err != nil {
			log.Warn("failed to release detector", zap.Error(err))
		}
	}()

	result, err := detector.Detect(ctx, videoPath)
	if err != nil {
		return fmt.Errorf("detect attendees in %s: %w", videoPath, err)
	}

	out := cmd.OutOrStdout()
	if result.Empty() {
		fmt.Fprintln(out, "No attendees found.")
		return nil
	}

	for _, name := range result.Names.Sorted() {
		fmt.Fprintln(out, name)
	}

	artifacts, err := entity.RenderArtifacts(result, opts.jpegQuality)
	if err != nil {
		return err
	}
	paths, err := localfs.NewResultWriter(fs).Write(outputDir, artifacts)
	if err != nil {
		return err
	}

	log.Info("attendee roster saved",
		zap.Strings("files", paths),
		zap.Duration("frame_at", result.Timestamp),
		zap.Int("frames_sampled", result.FramesSampled),
	)
	return nil
}

func newTesseractDetector(opts detectOptions, log *zap.Logger) (usecase.Detector, func() error, error) {
	engine, err := tesseract.NewEngine(1, opts.languages, log)
	if err != nil {
		return nil, nil, err
	}
	detector := usecase.NewAttendeeDetector(
		ffmpeg.NewDecoder(log),
		engine,
		phash.NewFingerprinter(),
		log,
		usecase.DetectorConfig{
			Interval:             opts.interval,
			EarlyExitAfter:       opts.earlyExit,
			SimilarFrameDistance: opts.similarDistance,
		},
	)
	return detector, engine.Close, nil
}
