// Package inference serves predictions from a loaded artifact pair. The pair
// is held behind one atomic pointer so a reload never exposes a vectorizer
// from one run with a classifier from another.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spamlens/spamlens/pkg/learning"
	"github.com/spamlens/spamlens/pkg/logging"
	"github.com/spamlens/spamlens/pkg/store"
	"github.com/spamlens/spamlens/pkg/textnorm"
)

// TextExtractor recognizes text in encoded image bytes.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// Options configure request limits.
type Options struct {
	MaxUploadBytes int64
	ExcerptLength  int
}

// DefaultOptions returns the 16 MiB upload limit and 500 rune excerpt.
func DefaultOptions() Options {
	return Options{MaxUploadBytes: 16 << 20, ExcerptLength: 500}
}

// Result is the outcome of one prediction.
type Result struct {
	Prediction    string `json:"prediction"`
	Confidence    string `json:"confidence"`
	IsSpam        bool   `json:"is_spam"`
	ExtractedText string `json:"extracted_text,omitempty"`

	SpamProbability float64 `json:"-"`
	RunID           string  `json:"-"`
}

// Health reports whether the predict paths are usable.
type Health struct {
	Status           string `json:"status"`
	ModelLoaded      bool   `json:"model_loaded"`
	VectorizerLoaded bool   `json:"vectorizer_loaded"`
	RunID            string `json:"run_id,omitempty"`
	Profile          string `json:"profile,omitempty"`
}

// Service answers prediction requests. It is safe for concurrent use.
type Service struct {
	model     atomic.Pointer[learning.Artifact]
	extractor TextExtractor
	opts      Options
	logger    *zap.Logger
}

// New creates a service without a model. Predictions fail with
// ErrModelNotLoaded until Swap or Reload installs one.
func New(extractor TextExtractor, opts Options, logger *zap.Logger) *Service {
	logger = logging.OrNop(logger)
	if opts.ExcerptLength <= 0 {
		opts.ExcerptLength = DefaultOptions().ExcerptLength
	}
	return &Service{extractor: extractor, opts: opts, logger: logger}
}

// Swap installs a new artifact and returns the previous one.
func (s *Service) Swap(a *learning.Artifact) *learning.Artifact {
	prev := s.model.Swap(a)
	if a != nil {
		s.logger.Info("model installed", zap.String("run_id", a.RunID), zap.String("profile", string(a.Profile)))
	}
	return prev
}

// Model returns the current artifact or nil.
func (s *Service) Model() *learning.Artifact {
	return s.model.Load()
}

// Reload loads the current pair from st and swaps it in. On any error the
// previously installed model stays in place.
func (s *Service) Reload(ctx context.Context, st store.Store) (*learning.Artifact, error) {
	pair, err := st.Load(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrModelNotLoaded, err)
		}
		return nil, err
	}
	art, err := learning.UnmarshalPair(pair.Vectorizer, pair.Classifier)
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", pair.RunID, err)
	}
	s.Swap(art)
	return art, nil
}

// Health reports the load state. It never fails.
func (s *Service) Health() Health {
	h := Health{Status: "ok"}
	if a := s.model.Load(); a != nil {
		h.ModelLoaded = a.Classifier != nil
		h.VectorizerLoaded = a.Vectorizer != nil
		h.RunID = a.RunID
		h.Profile = string(a.Profile)
	}
	return h
}

// Ready reports ErrModelNotLoaded unless a complete pair is installed.
func (s *Service) Ready() error {
	_, err := s.loaded()
	return err
}

func (s *Service) loaded() (*learning.Artifact, error) {
	a := s.model.Load()
	if a == nil || a.Vectorizer == nil || a.Classifier == nil {
		return nil, ErrModelNotLoaded
	}
	return a, nil
}

// PredictText classifies raw text.
func (s *Service) PredictText(ctx context.Context, text string) (*Result, error) {
	a, err := s.loaded()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, &InputError{Reason: ReasonMissingText}
	}
	return s.predict(a, text)
}

// PredictImage validates the upload, extracts its text and classifies it.
// Extraction failures are returned as *imagetext.ExtractionError.
func (s *Service) PredictImage(ctx context.Context, filename string, data []byte) (*Result, error) {
	a, err := s.loaded()
	if err != nil {
		return nil, err
	}
	if err := ValidateUpload(filename, int64(len(data)), s.opts.MaxUploadBytes); err != nil {
		return nil, err
	}
	if s.extractor == nil {
		return nil, errors.New("image extraction is not configured")
	}

	text, err := s.extractor.Extract(ctx, data)
	if err != nil {
		s.logger.Debug("image extraction failed", zap.String("filename", filename), zap.Error(err))
		return nil, err
	}

	res, err := s.predict(a, text)
	if err != nil {
		return nil, err
	}
	res.ExtractedText = Excerpt(text, s.opts.ExcerptLength)
	return res, nil
}

func (s *Service) predict(a *learning.Artifact, text string) (*Result, error) {
	pred, _, err := a.Predict(text)
	if err != nil {
		if errors.Is(err, textnorm.ErrInvalidEncoding) {
			return nil, &InputError{Reason: ReasonInvalidEncoding}
		}
		return nil, err
	}
	return &Result{
		Prediction:      pred.Label.String(),
		Confidence:      pred.ConfidenceString(),
		IsSpam:          pred.Label.IsSpam(),
		SpamProbability: pred.SpamProbability(),
		RunID:           a.RunID,
	}, nil
}

// Excerpt returns the first n runes of text, with "..." appended when
// anything was cut.
func Excerpt(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "..."
}
