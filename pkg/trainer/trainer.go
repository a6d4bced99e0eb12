// Package trainer runs the offline training pipeline: it collects a labeled
// corpus, fits the vectorizer and classifier, evaluates them on a held-out
// split and persists the pair.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spamlens/spamlens/pkg/corpus"
	"github.com/spamlens/spamlens/pkg/learning"
	"github.com/spamlens/spamlens/pkg/logging"
	"github.com/spamlens/spamlens/pkg/profiler"
	"github.com/spamlens/spamlens/pkg/store"
	"github.com/spamlens/spamlens/pkg/textnorm"
)

// ErrInsufficientData means the corpus is too small to train on.
var ErrInsufficientData = errors.New("insufficient training data")

// Stage names one step of a training run.
type Stage string

const (
	StageCollectCorpus Stage = "collect_corpus"
	StageFitVectorizer Stage = "fit_vectorizer"
	StageSplitData     Stage = "split_data"
	StageFitClassifier Stage = "fit_classifier"
	StageEvaluate      Stage = "evaluate"
	StagePersist       Stage = "persist"
	StageDone          Stage = "done"
)

// StageError reports the stage at which a run halted.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("training failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Options configure a training run.
type Options struct {
	Profile             textnorm.Profile
	Vectorizer          learning.VectorizerConfig
	Alpha               float64
	MinExamples         int
	TestRatio           float64
	Seed                int64
	MinPerClassForSplit int
}

// DefaultOptions returns the standard training settings.
func DefaultOptions() Options {
	return Options{
		Profile:             textnorm.ProfileBasic,
		Vectorizer:          learning.DefaultVectorizerConfig(),
		Alpha:               1.0,
		MinExamples:         10,
		TestRatio:           0.2,
		Seed:                42,
		MinPerClassForSplit: 4,
	}
}

// Report describes a training run. It is returned on failure too, filled in
// up to the failing stage.
type Report struct {
	RunID          string           `json:"run_id"`
	Profile        textnorm.Profile `json:"profile"`
	StartedAt      time.Time        `json:"started_at"`
	Duration       time.Duration    `json:"duration"`
	Stage          Stage            `json:"stage"`
	Examples       int              `json:"examples"`
	SpamExamples   int              `json:"spam_examples"`
	NormalExamples int              `json:"normal_examples"`
	ImageExamples  int              `json:"image_examples"`
	Skipped        int              `json:"skipped"`
	VocabularySize int              `json:"vocabulary_size"`
	TrainSize      int              `json:"train_size"`
	TestSize       int              `json:"test_size"`
	Degraded       bool             `json:"degraded"`
	Evaluation     Evaluation       `json:"evaluation"`
	Timings        []profiler.Stats `json:"-"`

	// Artifact is the fitted pair, set once FitClassifier succeeds.
	Artifact *learning.Artifact `json:"-"`
}

// Trainer executes training runs against a store.
type Trainer struct {
	opts   Options
	store  store.Store
	logger *zap.Logger
}

// New creates a trainer that persists into st.
func New(opts Options, st store.Store, logger *zap.Logger) *Trainer {
	logger = logging.OrNop(logger)
	return &Trainer{opts: opts, store: st, logger: logger}
}

// run carries state between stages.
type run struct {
	report   *Report
	corpus   *corpus.Corpus
	features []learning.Vector
	labels   []learning.Label
	split    SplitResult
	vec      *learning.Vectorizer
	clf      *learning.Classifier
}

// Run executes every stage in order. The first failing stage halts the run;
// the returned error is a *StageError naming it.
func (t *Trainer) Run(ctx context.Context, sources ...corpus.Source) (*Report, error) {
	prof := profiler.New()
	r := &run{report: &Report{Profile: t.opts.Profile, StartedAt: time.Now().UTC()}}

	stages := []struct {
		name Stage
		fn   func(context.Context, *run) error
	}{
		{StageCollectCorpus, func(ctx context.Context, r *run) error { return t.collect(ctx, r, sources) }},
		{StageFitVectorizer, t.fitVectorizer},
		{StageSplitData, t.splitData},
		{StageFitClassifier, t.fitClassifier},
		{StageEvaluate, t.evaluate},
		{StagePersist, t.persist},
	}

	for _, st := range stages {
		r.report.Stage = st.name
		if err := ctx.Err(); err != nil {
			return t.fail(r, prof, st.name, err)
		}
		timer := prof.Start(string(st.name))
		err := st.fn(ctx, r)
		elapsed := timer.Stop()
		if err != nil {
			return t.fail(r, prof, st.name, err)
		}
		t.logger.Info("training stage complete",
			zap.String("stage", string(st.name)),
			zap.Duration("elapsed", elapsed))
	}

	r.report.Stage = StageDone
	r.report.Duration = time.Since(r.report.StartedAt)
	r.report.Timings = prof.All()
	t.logger.Info("training run complete",
		zap.String("run_id", r.report.RunID),
		zap.Int("examples", r.report.Examples),
		zap.Float64("accuracy", r.report.Evaluation.Accuracy),
		zap.Bool("degraded", r.report.Degraded))
	return r.report, nil
}

func (t *Trainer) fail(r *run, prof *profiler.Profiler, stage Stage, err error) (*Report, error) {
	r.report.Duration = time.Since(r.report.StartedAt)
	r.report.Timings = prof.All()
	t.logger.Error("training run failed", zap.String("stage", string(stage)), zap.Error(err))
	return r.report, &StageError{Stage: stage, Err: err}
}

func (t *Trainer) collect(ctx context.Context, r *run, sources []corpus.Source) error {
	c, err := corpus.Assemble(ctx, t.opts.Profile, t.logger, sources...)
	if err != nil {
		return err
	}
	r.corpus = c
	rep := r.report
	rep.Examples = len(c.Examples)
	rep.SpamExamples = c.Count(learning.LabelSpam)
	rep.NormalExamples = c.Count(learning.LabelNormal)
	rep.ImageExamples = c.CountOrigin(learning.LabelSpam, corpus.OriginOCR) +
		c.CountOrigin(learning.LabelNormal, corpus.OriginOCR)
	rep.Skipped = len(c.Skipped)

	if rep.Examples < t.opts.MinExamples {
		return fmt.Errorf("%w: found %d examples, need at least %d", ErrInsufficientData, rep.Examples, t.opts.MinExamples)
	}
	for _, l := range learning.Labels {
		if c.Count(l) == 0 {
			return fmt.Errorf("%w: no %s examples", ErrInsufficientData, l)
		}
	}
	return nil
}

func (t *Trainer) fitVectorizer(_ context.Context, r *run) error {
	texts := r.corpus.Texts()
	vec, err := learning.FitVectorizer(texts, t.opts.Vectorizer)
	if err != nil {
		return err
	}
	r.vec = vec
	r.features = vec.TransformAll(texts)
	r.labels = r.corpus.Labels()
	r.report.VocabularySize = vec.Size()
	return nil
}

func (t *Trainer) splitData(_ context.Context, r *run) error {
	r.split = Split(r.labels, t.opts.TestRatio, t.opts.Seed, t.opts.MinPerClassForSplit)
	r.report.TrainSize = len(r.split.Train)
	r.report.TestSize = len(r.split.Test)
	r.report.Degraded = r.split.Degraded
	if r.split.Degraded {
		t.logger.Warn("corpus too small to stratify, evaluating on the training set",
			zap.Int("min_per_class", t.opts.MinPerClassForSplit))
	}
	return nil
}

func (t *Trainer) fitClassifier(_ context.Context, r *run) error {
	clf, err := learning.FitClassifier(pick(r.features, r.split.Train), pick(r.labels, r.split.Train), t.opts.Alpha)
	if err != nil {
		return err
	}
	art, err := learning.NewArtifact(t.opts.Profile, r.vec, clf)
	if err != nil {
		return err
	}
	r.clf = clf
	r.report.Artifact = art
	r.report.RunID = art.RunID
	return nil
}

func (t *Trainer) evaluate(_ context.Context, r *run) error {
	r.report.Evaluation = Evaluate(r.clf, pick(r.features, r.split.Test), pick(r.labels, r.split.Test))
	return nil
}

func (t *Trainer) persist(ctx context.Context, r *run) error {
	if t.store == nil {
		return &store.PersistenceError{Op: "save", Err: errors.New("no artifact store configured")}
	}
	vec, clf, err := r.report.Artifact.MarshalPair()
	if err != nil {
		return &store.PersistenceError{Op: "encode", Err: err}
	}
	return t.store.Save(ctx, store.Pair{RunID: r.report.RunID, Vectorizer: vec, Classifier: clf})
}
