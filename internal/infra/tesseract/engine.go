package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"
)

var ErrEngineClosed = errors.New("ocr engine closed")

// ocrClient is the subset of *gosseract.Client the engine drives.
type ocrClient interface {
	SetImageFromBytes(data []byte) error
	Text() (string, error)
	Close() error
}

// Engine runs Tesseract OCR through a fixed pool of clients. A gosseract
// client is not safe for concurrent use, so each call borrows one.
type Engine struct {
	clients chan ocrClient
	size    int
	logger  *zap.Logger
}

func NewEngine(poolSize int, languages []string, logger *zap.Logger) (*Engine, error) {
	return newEngine(poolSize, func() (ocrClient, error) {
		c := gosseract.NewClient()
		if len(languages) > 0 {
			if err := c.SetLanguage(languages...); err != nil {
				c.Close()
				return nil, fmt.Errorf("set ocr language: %w", err)
			}
		}
		if err := c.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
			c.Close()
			return nil, fmt.Errorf("set page segmentation mode: %w", err)
		}
		return c, nil
	}, logger)
}

func newEngine(poolSize int, newClient func() (ocrClient, error), logger *zap.Logger) (*Engine, error) {
	if poolSize <= 0 {
		poolSize = 1
	}
	e := &Engine{clients: make(chan ocrClient, poolSize), logger: logger}
	for i := 0; i < poolSize; i++ {
		c, err := newClient()
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.clients <- c
		e.size++
	}
	logger.Info("ocr engine ready", zap.Int("clients", poolSize))
	return e, nil
}

func (e *Engine) Recognize(ctx context.Context, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode image for ocr: %w", err)
	}

	var c ocrClient
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case client, ok := <-e.clients:
		if !ok {
			return "", ErrEngineClosed
		}
		c = client
	}
	defer func() { e.clients <- c }()

	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("set ocr image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return text, nil
}

// Close waits for borrowed clients to come back and releases all of them.
// Recognize fails with ErrEngineClosed afterwards.
func (e *Engine) Close() error {
	var errs []error
	for i := 0; i < e.size; i++ {
		c, ok := <-e.clients
		if !ok {
			return ErrEngineClosed
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	close(e.clients)
	return errors.Join(errs...)
}
