// Package corpus gathers labeled training examples from text files, images
// and the SMS Spam Collection format.
package corpus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spamlens/spamlens/pkg/learning"
	"github.com/spamlens/spamlens/pkg/logging"
	"github.com/spamlens/spamlens/pkg/textnorm"
)

// Origin records how a document's text was obtained.
type Origin string

const (
	OriginTyped Origin = "typed"
	OriginOCR   Origin = "ocr"
)

// Document is raw text with its label and provenance.
type Document struct {
	Text   string
	Label  learning.Label
	Origin Origin
	Source string // file path or path:line
}

// Skipped is a corpus entry that could not be used.
type Skipped struct {
	Source string
	Err    error
}

// Source supplies labeled documents. Per-entry failures are returned as
// Skipped; a non-nil error means the whole source is unusable.
type Source interface {
	Name() string
	Documents(ctx context.Context) ([]Document, []Skipped, error)
}

// Example is a normalized, labeled document ready for vectorization.
type Example struct {
	Text   string
	Label  learning.Label
	Origin Origin
	Source string
}

// Corpus is the merged output of all sources.
type Corpus struct {
	Examples []Example
	Skipped  []Skipped
}

// Texts returns the example texts in order.
func (c *Corpus) Texts() []string {
	out := make([]string, len(c.Examples))
	for i, ex := range c.Examples {
		out[i] = ex.Text
	}
	return out
}

// Labels returns the example labels in order.
func (c *Corpus) Labels() []learning.Label {
	out := make([]learning.Label, len(c.Examples))
	for i, ex := range c.Examples {
		out[i] = ex.Label
	}
	return out
}

// Count returns the number of examples with label l.
func (c *Corpus) Count(l learning.Label) int {
	n := 0
	for _, ex := range c.Examples {
		if ex.Label == l {
			n++
		}
	}
	return n
}

// CountOrigin returns the number of examples with label l and origin o.
func (c *Corpus) CountOrigin(l learning.Label, o Origin) int {
	n := 0
	for _, ex := range c.Examples {
		if ex.Label == l && ex.Origin == o {
			n++
		}
	}
	return n
}

// Assemble collects every source in order and normalizes the documents with
// profile. Entries that cannot be read, decoded or normalized are logged and skipped.
func Assemble(ctx context.Context, profile textnorm.Profile, logger *zap.Logger, sources ...Source) (*Corpus, error) {
	logger = logging.OrNop(logger)

	c := &Corpus{}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		docs, skipped, err := src.Documents(ctx)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Name(), err)
		}
		for _, s := range skipped {
			logger.Warn("skipping corpus entry", zap.String("source", s.Source), zap.Error(s.Err))
		}
		c.Skipped = append(c.Skipped, skipped...)

		for _, doc := range docs {
			text, err := profile.Apply(doc.Text)
			if err != nil {
				logger.Warn("skipping corpus entry", zap.String("source", doc.Source), zap.Error(err))
				c.Skipped = append(c.Skipped, Skipped{Source: doc.Source, Err: err})
				continue
			}
			c.Examples = append(c.Examples, Example{
				Text:   text,
				Label:  doc.Label,
				Origin: doc.Origin,
				Source: doc.Source,
			})
		}

		logger.Info("collected corpus source",
			zap.String("source", src.Name()),
			zap.Int("documents", len(docs)),
			zap.Int("skipped", len(skipped)))
	}
	return c, nil
}
