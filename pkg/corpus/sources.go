package corpus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spamlens/spamlens/pkg/email"
	"github.com/spamlens/spamlens/pkg/learning"
)

// ImageExtractor recovers text from an image file.
type ImageExtractor interface {
	ExtractFile(ctx context.Context, path string) (string, error)
}

// ImageExtensions lists the image file types read from corpus directories.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tiff"}

// IsImageFile reports whether name has an image extension.
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// DirSource reads one label bucket: every .txt and .eml file is one example,
// and every image file is one example when Images is set.
type DirSource struct {
	Dir    string
	Label  learning.Label
	Images ImageExtractor
}

func (s DirSource) Name() string { return s.Label.String() + ":" + s.Dir }

func (s DirSource) Documents(ctx context.Context) ([]Document, []Skipped, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, []Skipped{{Source: s.Dir, Err: fmt.Errorf("directory does not exist")}}, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var docs []Document
	var skipped []Skipped
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(s.Dir, e.Name())

		switch {
		case strings.EqualFold(filepath.Ext(e.Name()), ".txt"):
			data, err := os.ReadFile(path)
			if err != nil {
				skipped = append(skipped, Skipped{Source: path, Err: err})
				continue
			}
			docs = append(docs, Document{
				// undecodable byte sequences are dropped
				Text:   strings.ToValidUTF8(string(data), ""),
				Label:  s.Label,
				Origin: OriginTyped,
				Source: path,
			})

		case strings.EqualFold(filepath.Ext(e.Name()), ".eml"):
			msg, err := email.ParseFile(path)
			if err != nil {
				skipped = append(skipped, Skipped{Source: path, Err: err})
				continue
			}
			docs = append(docs, Document{
				Text:   strings.ToValidUTF8(msg.Text(), ""),
				Label:  s.Label,
				Origin: OriginTyped,
				Source: path,
			})

		case IsImageFile(e.Name()) && s.Images != nil:
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			text, err := s.Images.ExtractFile(ctx, path)
			if err != nil {
				skipped = append(skipped, Skipped{Source: path, Err: err})
				continue
			}
			docs = append(docs, Document{Text: text, Label: s.Label, Origin: OriginOCR, Source: path})
		}
	}
	return docs, skipped, nil
}

// TSVSource reads the SMS Spam Collection format: one "label<TAB>message" per line.
type TSVSource struct {
	Path string
}

func (s TSVSource) Name() string { return "tsv:" + s.Path }

func (s TSVSource) Documents(ctx context.Context) ([]Document, []Skipped, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var docs []Document
	var skipped []Skipped
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Text()
		if strings.TrimSpace(raw) == "" {
			continue
		}
		where := fmt.Sprintf("%s:%d", s.Path, line)

		labelField, message, ok := strings.Cut(raw, "\t")
		if !ok {
			skipped = append(skipped, Skipped{Source: where, Err: fmt.Errorf("missing tab separator")})
			continue
		}
		label, err := learning.ParseLabel(labelField)
		if err != nil {
			skipped = append(skipped, Skipped{Source: where, Err: err})
			continue
		}
		docs = append(docs, Document{
			Text:   strings.ToValidUTF8(message, ""),
			Label:  label,
			Origin: OriginTyped,
			Source: where,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	return docs, skipped, nil
}
