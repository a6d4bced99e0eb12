// Package runlog keeps a SQLite ledger of training runs and their
// evaluation results.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/spamlens/spamlens/pkg/logging"
	"github.com/spamlens/spamlens/pkg/trainer"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS training_runs (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT NOT NULL DEFAULT '',
	started_at      TEXT NOT NULL,
	duration_ms     INTEGER NOT NULL,
	status          TEXT NOT NULL,
	stage           TEXT NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	profile         TEXT NOT NULL,
	examples        INTEGER NOT NULL,
	spam_examples   INTEGER NOT NULL,
	normal_examples INTEGER NOT NULL,
	skipped         INTEGER NOT NULL,
	vocabulary_size INTEGER NOT NULL,
	accuracy        REAL NOT NULL,
	spam_f1         REAL NOT NULL,
	normal_f1       REAL NOT NULL,
	degraded        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS training_runs_started_at ON training_runs (started_at);
`

// Run is one ledger row.
type Run struct {
	ID             int64
	RunID          string
	StartedAt      time.Time
	Duration       time.Duration
	Status         string
	Stage          string
	Error          string
	Profile        string
	Examples       int
	SpamExamples   int
	NormalExamples int
	Skipped        int
	VocabularySize int
	Accuracy       float64
	SpamF1         float64
	NormalF1       float64
	Degraded       bool
}

// FromReport builds a ledger row from a training report and the run error.
func FromReport(rep *trainer.Report, runErr error) Run {
	r := Run{Status: StatusSucceeded}
	if rep != nil {
		r.RunID = rep.RunID
		r.StartedAt = rep.StartedAt
		r.Duration = rep.Duration
		r.Stage = string(rep.Stage)
		r.Profile = string(rep.Profile)
		r.Examples = rep.Examples
		r.SpamExamples = rep.SpamExamples
		r.NormalExamples = rep.NormalExamples
		r.Skipped = rep.Skipped
		r.VocabularySize = rep.VocabularySize
		r.Accuracy = rep.Evaluation.Accuracy
		r.SpamF1 = rep.Evaluation.PerClass[1].F1
		r.NormalF1 = rep.Evaluation.PerClass[0].F1
		r.Degraded = rep.Degraded
	}
	if runErr != nil {
		r.Status = StatusFailed
		r.Error = runErr.Error()
		var se *trainer.StageError
		if errors.As(runErr, &se) {
			r.Stage = string(se.Stage)
		}
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	return r
}

// Ledger is the training history database.
type Ledger struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the ledger at path.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Ledger, error) {
	logger = logging.OrNop(logger)
	logger.Debug("opening run history", zap.String("path", path))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	// one writer at a time; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open run history %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure run history: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate run history: %w", err)
	}
	return &Ledger{db: db, logger: logger}, nil
}

// Record appends a run and returns its ledger id.
func (l *Ledger) Record(ctx context.Context, r Run) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO training_runs (run_id, started_at, duration_ms, status, stage, error, profile,
			examples, spam_examples, normal_examples, skipped, vocabulary_size,
			accuracy, spam_f1, normal_f1, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.StartedAt.UTC().Format(time.RFC3339Nano), r.Duration.Milliseconds(), r.Status, r.Stage, r.Error,
		r.Profile, r.Examples, r.SpamExamples, r.NormalExamples, r.Skipped, r.VocabularySize,
		r.Accuracy, r.SpamF1, r.NormalF1, r.Degraded)
	if err != nil {
		return 0, fmt.Errorf("record training run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record training run: %w", err)
	}
	l.logger.Debug("training run recorded", zap.Int64("id", id), zap.String("run_id", r.RunID))
	return id, nil
}

// Recent returns up to limit runs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, run_id, started_at, duration_ms, status, stage, error, profile,
			examples, spam_examples, normal_examples, skipped, vocabulary_size,
			accuracy, spam_f1, normal_f1, degraded
		FROM training_runs
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query training runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			startedAt  string
			durationMs int64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &startedAt, &durationMs, &r.Status, &r.Stage, &r.Error,
			&r.Profile, &r.Examples, &r.SpamExamples, &r.NormalExamples, &r.Skipped, &r.VocabularySize,
			&r.Accuracy, &r.SpamF1, &r.NormalF1, &r.Degraded); err != nil {
			return nil, fmt.Errorf("scan training run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("training run %d: bad timestamp %q", r.ID, startedAt)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
