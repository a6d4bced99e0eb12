// Package store persists trained artifact pairs.
//
// A pair is saved as one unit: readers only ever observe the previous
// complete pair or the new complete pair, never a mix.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound means no artifact pair has been persisted yet.
var ErrNotFound = errors.New("no trained artifacts found")

// Pair is the two opaque blobs of one training run.
type Pair struct {
	RunID      string
	Vectorizer []byte
	Classifier []byte
}

// Store saves and loads artifact pairs.
type Store interface {
	Save(ctx context.Context, pair Pair) error
	Load(ctx context.Context) (Pair, error)
	Close() error
}

// PersistenceError reports a failed artifact write or read.
type PersistenceError struct {
	Op   string // save or load
	Path string // file path or redis key
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("artifact %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("artifact %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func validatePair(p Pair) error {
	if p.RunID == "" {
		return errors.New("pair has no run id")
	}
	if len(p.Vectorizer) == 0 || len(p.Classifier) == 0 {
		return errors.New("pair is missing a blob")
	}
	return nil
}
