package learning

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spamlens/spamlens/pkg/textnorm"
)

// ErrMismatchedPair means the two persisted blobs come from different training runs.
var ErrMismatchedPair = errors.New("vectorizer and classifier belong to different training runs")

// Artifact is the trained (vectorizer, classifier) pair. Feature indices are
// only meaningful within one pair, so they always travel together.
type Artifact struct {
	RunID      string
	CreatedAt  time.Time
	Profile    textnorm.Profile
	Vectorizer *Vectorizer
	Classifier *Classifier
}

// NewArtifact binds a fitted vectorizer and classifier under a fresh run id.
func NewArtifact(profile textnorm.Profile, v *Vectorizer, c *Classifier) (*Artifact, error) {
	if v == nil || c == nil {
		return nil, fmt.Errorf("artifact needs both a vectorizer and a classifier")
	}
	if v.Size() != c.NumFeatures() {
		return nil, fmt.Errorf("vectorizer has %d features but classifier expects %d", v.Size(), c.NumFeatures())
	}
	return &Artifact{
		RunID:      uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		Profile:    profile,
		Vectorizer: v,
		Classifier: c,
	}, nil
}

// Predict normalizes raw with the training profile, vectorizes and classifies it.
func (a *Artifact) Predict(raw string) (Prediction, string, error) {
	text, err := a.Profile.Apply(raw)
	if err != nil {
		return Prediction{}, "", err
	}
	return a.Classifier.Predict(a.Vectorizer.Transform(text)), text, nil
}

type vectorizerBlob struct {
	RunID      string           `json:"run_id"`
	CreatedAt  time.Time        `json:"created_at"`
	Profile    textnorm.Profile `json:"profile"`
	Vectorizer *Vectorizer      `json:"vectorizer"`
}

type classifierBlob struct {
	RunID      string      `json:"run_id"`
	Classifier *Classifier `json:"classifier"`
}

// MarshalPair encodes the artifact as its two persisted blobs.
func (a *Artifact) MarshalPair() (vectorizer, classifier []byte, err error) {
	vectorizer, err = json.Marshal(vectorizerBlob{
		RunID:      a.RunID,
		CreatedAt:  a.CreatedAt,
		Profile:    a.Profile,
		Vectorizer: a.Vectorizer,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode vectorizer: %w", err)
	}
	classifier, err = json.Marshal(classifierBlob{RunID: a.RunID, Classifier: a.Classifier})
	if err != nil {
		return nil, nil, fmt.Errorf("encode classifier: %w", err)
	}
	return vectorizer, classifier, nil
}

// UnmarshalPair decodes two blobs and checks they come from the same run.
func UnmarshalPair(vectorizer, classifier []byte) (*Artifact, error) {
	var vb vectorizerBlob
	if err := json.Unmarshal(vectorizer, &vb); err != nil {
		return nil, fmt.Errorf("decode vectorizer: %w", err)
	}
	var cb classifierBlob
	if err := json.Unmarshal(classifier, &cb); err != nil {
		return nil, fmt.Errorf("decode classifier: %w", err)
	}
	if vb.Vectorizer == nil || cb.Classifier == nil {
		return nil, fmt.Errorf("artifact pair is incomplete")
	}
	if vb.RunID != cb.RunID {
		return nil, fmt.Errorf("%w: %s vs %s", ErrMismatchedPair, vb.RunID, cb.RunID)
	}
	if vb.Vectorizer.Size() != cb.Classifier.NumFeatures() {
		return nil, fmt.Errorf("%w: %d vs %d features", ErrMismatchedPair,
			vb.Vectorizer.Size(), cb.Classifier.NumFeatures())
	}
	profile, err := textnorm.ParseProfile(string(vb.Profile))
	if err != nil {
		return nil, err
	}
	return &Artifact{
		RunID:      vb.RunID,
		CreatedAt:  vb.CreatedAt,
		Profile:    profile,
		Vectorizer: vb.Vectorizer,
		Classifier: cb.Classifier,
	}, nil
}
