package inference

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrModelNotLoaded means no artifact pair is available for prediction.
	ErrModelNotLoaded = errors.New("model not loaded: run `spamlens train` to create one")
	// ErrInvalidInput matches every *InputError.
	ErrInvalidInput = errors.New("invalid input")
)

// Reason identifies why a request was rejected.
type Reason string

const (
	ReasonMissingText     Reason = "missing_text"
	ReasonInvalidEncoding Reason = "invalid_encoding"
	ReasonNoFile          Reason = "no_file"
	ReasonEmptyFilename   Reason = "empty_filename"
	ReasonExtension       Reason = "invalid_extension"
	ReasonTooLarge        Reason = "too_large"
)

// InputError is a request the service refuses to process.
type InputError struct {
	Reason Reason
	Detail string
}

func (e *InputError) Error() string {
	var msg string
	switch e.Reason {
	case ReasonMissingText:
		msg = "no text provided"
	case ReasonInvalidEncoding:
		msg = "text is not valid UTF-8"
	case ReasonNoFile:
		msg = "no image file provided"
	case ReasonEmptyFilename:
		msg = "no file selected"
	case ReasonExtension:
		msg = "invalid file type, allowed: " + strings.Join(AllowedExtensions, ", ")
	case ReasonTooLarge:
		msg = "file too large"
	default:
		msg = "invalid input"
	}
	if e.Detail != "" {
		return msg + ": " + e.Detail
	}
	return msg
}

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

// AllowedExtensions lists the accepted upload types.
var AllowedExtensions = []string{"png", "jpg", "jpeg", "gif", "bmp", "tiff"}

// ValidateUpload checks an uploaded file name and size against the limits.
func ValidateUpload(filename string, size, maxBytes int64) error {
	if filename == "" {
		return &InputError{Reason: ReasonEmptyFilename}
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	allowed := false
	for _, a := range AllowedExtensions {
		if ext == a {
			allowed = true
			break
		}
	}
	if !allowed {
		return &InputError{Reason: ReasonExtension, Detail: filename}
	}
	if size == 0 {
		return &InputError{Reason: ReasonNoFile, Detail: "upload is empty"}
	}
	if maxBytes > 0 && size > maxBytes {
		return &InputError{Reason: ReasonTooLarge, Detail: fmt.Sprintf("%d bytes exceeds the %d byte limit", size, maxBytes)}
	}
	return nil
}
