package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spamlens/spamlens/pkg/logging"
)

const (
	currentFile    = "CURRENT"
	generationsDir = "generations"
	vectorizerFile = "vectorizer.json"
	classifierFile = "classifier.json"
)

// FileStore keeps each pair in its own generation directory and switches the
// CURRENT pointer with an atomic rename once both blobs are on disk.
type FileStore struct {
	dir             string
	keepGenerations int
	logger          *zap.Logger

	// writeFile is replaced in tests to simulate partial writes.
	writeFile func(path string, data []byte) error
}

// NewFileStore creates a store rooted at dir. keep is the number of
// generations retained after a successful save, current included.
func NewFileStore(dir string, keep int, logger *zap.Logger) (*FileStore, error) {
	logger = logging.OrNop(logger)
	if keep < 1 {
		keep = 1
	}
	if err := os.MkdirAll(filepath.Join(dir, generationsDir), 0755); err != nil {
		return nil, &PersistenceError{Op: "init", Path: dir, Err: err}
	}
	return &FileStore{dir: dir, keepGenerations: keep, logger: logger, writeFile: writeFileSync}, nil
}

// Save writes both blobs into a fresh generation and then points CURRENT at it.
// On any failure the previous pair stays current and the partial generation is removed.
func (s *FileStore) Save(ctx context.Context, pair Pair) error {
	if err := validatePair(pair); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}

	name := generationName(pair.RunID)
	staging := filepath.Join(s.dir, generationsDir, ".staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0755); err != nil {
		return &PersistenceError{Op: "save", Path: staging, Err: err}
	}

	committed := false
	defer func() {
		if !committed {
			if err := os.RemoveAll(staging); err != nil {
				s.logger.Warn("failed to remove staging generation", zap.String("path", staging), zap.Error(err))
			}
		}
	}()

	blobs := []struct {
		file string
		data []byte
	}{
		{vectorizerFile, pair.Vectorizer},
		{classifierFile, pair.Classifier},
	}
	for _, b := range blobs {
		if err := ctx.Err(); err != nil {
			return &PersistenceError{Op: "save", Err: err}
		}
		path := filepath.Join(staging, b.file)
		if err := s.writeFile(path, b.data); err != nil {
			return &PersistenceError{Op: "save", Path: path, Err: err}
		}
	}

	final := filepath.Join(s.dir, generationsDir, name)
	if err := os.Rename(staging, final); err != nil {
		return &PersistenceError{Op: "save", Path: final, Err: err}
	}
	committed = true

	if err := s.swapCurrent(name); err != nil {
		_ = os.RemoveAll(final)
		return &PersistenceError{Op: "save", Path: filepath.Join(s.dir, currentFile), Err: err}
	}

	s.logger.Info("artifact pair saved", zap.String("generation", name), zap.String("run_id", pair.RunID))
	s.prune(name)
	return nil
}

// Load reads the pair CURRENT points at.
func (s *FileStore) Load(ctx context.Context) (Pair, error) {
	current := filepath.Join(s.dir, currentFile)
	raw, err := os.ReadFile(current)
	if errors.Is(err, os.ErrNotExist) {
		return Pair{}, ErrNotFound
	}
	if err != nil {
		return Pair{}, &PersistenceError{Op: "load", Path: current, Err: err}
	}

	name := strings.TrimSpace(string(raw))
	gen := filepath.Join(s.dir, generationsDir, name)
	vec, err := os.ReadFile(filepath.Join(gen, vectorizerFile))
	if err != nil {
		return Pair{}, &PersistenceError{Op: "load", Path: filepath.Join(gen, vectorizerFile), Err: err}
	}
	clf, err := os.ReadFile(filepath.Join(gen, classifierFile))
	if err != nil {
		return Pair{}, &PersistenceError{Op: "load", Path: filepath.Join(gen, classifierFile), Err: err}
	}
	return Pair{RunID: runIDFromGeneration(name), Vectorizer: vec, Classifier: clf}, nil
}

// Generations lists stored generations, oldest first.
func (s *FileStore) Generations() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, generationsDir))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op for files.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) swapCurrent(name string) error {
	tmp := filepath.Join(s.dir, currentFile+".tmp")
	if err := s.writeFile(tmp, []byte(name+"\n")); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.dir, currentFile))
}

func (s *FileStore) prune(current string) {
	names, err := s.Generations()
	if err != nil {
		s.logger.Warn("failed to list generations", zap.Error(err))
		return
	}
	for len(names) > s.keepGenerations {
		old := names[0]
		names = names[1:]
		if old == current {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, generationsDir, old)); err != nil {
			s.logger.Warn("failed to prune generation", zap.String("generation", old), zap.Error(err))
			continue
		}
		s.logger.Debug("pruned generation", zap.String("generation", old))
	}
}

// generationName sorts by creation time and ends with the run id.
func generationName(runID string) string {
	return time.Now().UTC().Format("20060102T150405.000000000") + "_" + runID
}

func runIDFromGeneration(name string) string {
	if i := strings.IndexByte(name, '_'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync: %w", err)
	}
	return f.Close()
}
