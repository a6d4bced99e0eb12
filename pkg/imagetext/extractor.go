// Package imagetext recovers text from scanned or screenshotted email images.
//
// Extraction always runs the same fixed sequence: decode, grayscale, median
// denoise, Otsu binarization, then OCR of a single uniform text block.
package imagetext

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spamlens/spamlens/pkg/logging"
)

// Recognizer turns a binarized image into raw text.
type Recognizer interface {
	Recognize(ctx context.Context, img *image.Gray) (string, error)
}

// Config holds extraction settings.
type Config struct {
	Tesseract     string // binary name or absolute path; if empty -> "tesseract"
	Lang          string // default "eng"
	PSM           int    // page segmentation mode, 6 = single uniform block
	TessdataDir   string
	TempDir       string // where binarized images are staged for tesseract
	MedianRadius  int    // denoise kernel radius, 0 disables the pass
	MinTextLength int    // minimum trimmed length in runes, default 10
	MaxPixels     int    // decoded width*height limit, default DefaultMaxPixels
}

func (c Config) withDefaults() Config {
	if c.Tesseract == "" {
		c.Tesseract = "tesseract"
	}
	if c.Lang == "" {
		c.Lang = "eng"
	}
	if c.PSM <= 0 {
		c.PSM = 6
	}
	if c.MedianRadius < 0 {
		c.MedianRadius = 1
	}
	if c.MinTextLength <= 0 {
		c.MinTextLength = 10
	}
	if c.MaxPixels <= 0 {
		c.MaxPixels = DefaultMaxPixels
	}
	return c
}

// Extractor runs the preprocessing-then-recognition pipeline.
type Extractor struct {
	cfg        Config
	recognizer Recognizer
	logger     *zap.Logger
}

// NewExtractor creates an extractor backed by the tesseract CLI.
func NewExtractor(cfg Config, logger *zap.Logger) *Extractor {
	logger = logging.OrNop(logger)
	cfg = cfg.withDefaults()
	return &Extractor{
		cfg:        cfg,
		recognizer: NewTesseract(cfg, ExecRunner{}, logger),
		logger:     logger,
	}
}

// NewExtractorWithRecognizer creates an extractor with a custom OCR engine.
func NewExtractorWithRecognizer(cfg Config, rec Recognizer, logger *zap.Logger) *Extractor {
	logger = logging.OrNop(logger)
	return &Extractor{cfg: cfg.withDefaults(), recognizer: rec, logger: logger}
}

// Extract returns the trimmed text recognised in the encoded image. Every
// failure is returned as *ExtractionError.
func (e *Extractor) Extract(ctx context.Context, data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("image pipeline panicked", zap.Any("panic", r))
			text, err = "", newError(KindPreprocess, fmt.Errorf("panic: %v", r))
		}
	}()

	bin, err := Preprocess(data, e.cfg.MedianRadius, e.cfg.MaxPixels)
	if err != nil {
		if errors.Is(err, ErrDecode) {
			return "", newError(KindDecode, err)
		}
		return "", newError(KindPreprocess, err)
	}

	// nothing but background after thresholding, OCR cannot find anything
	if isUniform(bin) {
		return "", newError(KindInsufficientText, ErrInsufficientText)
	}

	raw, err := e.recognizer.Recognize(ctx, bin)
	if err != nil {
		return "", newError(KindOCR, err)
	}

	text = strings.TrimSpace(raw)
	if utf8.RuneCountInString(text) < e.cfg.MinTextLength {
		e.logger.Debug("recognised text too short",
			zap.Int("runes", utf8.RuneCountInString(text)),
			zap.Int("min", e.cfg.MinTextLength))
		return "", newError(KindInsufficientText, ErrInsufficientText)
	}
	return text, nil
}

// ExtractFile reads path and extracts its text.
func (e *Extractor) ExtractFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", newError(KindDecode, err)
	}
	return e.Extract(ctx, data)
}

// Tesseract recognises text with the tesseract command line tool.
type Tesseract struct {
	cfg    Config
	runner Runner
	logger *zap.Logger
}

// NewTesseract creates a tesseract recognizer.
func NewTesseract(cfg Config, runner Runner, logger *zap.Logger) *Tesseract {
	return &Tesseract{cfg: cfg.withDefaults(), runner: runner, logger: logging.OrNop(logger)}
}

// Recognize stages img as a uniquely named temporary PNG, which is removed on
// every exit path, and runs tesseract over it.
func (t *Tesseract) Recognize(ctx context.Context, img *image.Gray) (string, error) {
	f, err := os.CreateTemp(t.cfg.TempDir, "spamlens-ocr-*.png")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("encode temp image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp image: %w", err)
	}

	// tesseract <file> stdout -l <lang> --psm <n>
	args := []string{path, "stdout", "-l", t.cfg.Lang, "--psm", strconv.Itoa(t.cfg.PSM)}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}

	start := time.Now()
	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, args...)
	if err != nil {
		msg := strings.TrimSpace(string(errb))
		t.logger.Error("tesseract failed",
			zap.String("binary", t.cfg.Tesseract),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
			zap.String("stderr", truncate(msg, 8<<10)),
		)
		if msg != "" {
			return "", fmt.Errorf("tesseract: %w: %s", err, truncate(msg, 512))
		}
		return "", fmt.Errorf("tesseract: %w", err)
	}
	t.logger.Debug("tesseract finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("stdout_bytes", len(out)),
	)
	return string(out), nil
}
