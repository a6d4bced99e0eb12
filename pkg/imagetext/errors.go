package imagetext

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode means the bytes are not a recognised image or the image is empty.
	ErrDecode = errors.New("could not decode image")
	// ErrInsufficientText means recognition produced no meaningful text.
	ErrInsufficientText = errors.New("could not extract meaningful text from image")
)

// Kind names the pipeline stage an ExtractionError came from.
type Kind string

const (
	KindDecode           Kind = "decode"
	KindPreprocess       Kind = "preprocess"
	KindOCR              Kind = "ocr"
	KindInsufficientText Kind = "insufficient_text"
)

// ExtractionError wraps any failure of the extraction pipeline. The original
// error message is preserved for diagnostics.
type ExtractionError struct {
	Kind Kind
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("image text extraction (%s): %v", e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is lets errors.Is match the package sentinels by kind.
func (e *ExtractionError) Is(target error) bool {
	switch target {
	case ErrDecode:
		return e.Kind == KindDecode
	case ErrInsufficientText:
		return e.Kind == KindInsufficientText
	}
	return false
}

func newError(kind Kind, err error) *ExtractionError {
	return &ExtractionError{Kind: kind, Err: err}
}
