package learning

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Classifier is a multinomial naive Bayes model over two classes.
// It is immutable once fitted and safe for concurrent use.
type Classifier struct {
	alpha          float64
	numFeatures    int
	classCount     [2]float64
	classLogPrior  [2]float64
	featureLogProb [2][]float64
}

// Prediction is the outcome for one vector.
type Prediction struct {
	Label Label
	// Probabilities is indexed by Label and sums to 1.
	Probabilities [2]float64
}

// Confidence is the winning class probability in percent.
func (p Prediction) Confidence() float64 {
	return p.Probabilities[p.Label] * 100
}

// ConfidenceString formats Confidence with one decimal, e.g. "97.3%".
func (p Prediction) ConfidenceString() string {
	return strconv.FormatFloat(p.Confidence(), 'f', 1, 64) + "%"
}

// SpamProbability is the probability of the spam class.
func (p Prediction) SpamProbability() float64 {
	return p.Probabilities[LabelSpam]
}

// FitClassifier learns class priors and per-feature likelihoods with additive
// smoothing alpha. Both classes must be present.
func FitClassifier(features []Vector, labels []Label, alpha float64) (*Classifier, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("fit classifier: no examples")
	}
	if len(features) != len(labels) {
		return nil, fmt.Errorf("fit classifier: %d vectors but %d labels", len(features), len(labels))
	}
	if alpha <= 0 {
		return nil, fmt.Errorf("fit classifier: alpha must be > 0, got %v", alpha)
	}

	dim := features[0].Dim
	c := &Classifier{alpha: alpha, numFeatures: dim}
	var featureCount [2][]float64
	for _, l := range Labels {
		featureCount[l] = make([]float64, dim)
	}

	for i, vec := range features {
		l := labels[i]
		if l != LabelNormal && l != LabelSpam {
			return nil, fmt.Errorf("fit classifier: example %d has invalid label %d", i, int(l))
		}
		if vec.Dim != dim {
			return nil, fmt.Errorf("fit classifier: example %d has dimension %d, want %d", i, vec.Dim, dim)
		}
		c.classCount[l]++
		for k, idx := range vec.Indices {
			featureCount[l][idx] += vec.Values[k]
		}
	}

	for _, l := range Labels {
		if c.classCount[l] == 0 {
			return nil, fmt.Errorf("fit classifier: no %s examples", l)
		}
	}

	total := c.classCount[0] + c.classCount[1]
	for _, l := range Labels {
		c.classLogPrior[l] = math.Log(c.classCount[l] / total)

		var sum float64
		for _, v := range featureCount[l] {
			sum += v + alpha
		}
		logSum := math.Log(sum)

		c.featureLogProb[l] = make([]float64, dim)
		for j, v := range featureCount[l] {
			c.featureLogProb[l][j] = math.Log(v+alpha) - logSum
		}
	}
	return c, nil
}

// Predict returns the label and the full class distribution for vec.
// Exact ties resolve to LabelNormal.
func (c *Classifier) Predict(vec Vector) Prediction {
	var jll [2]float64
	for _, l := range Labels {
		jll[l] = c.classLogPrior[l]
		for k, idx := range vec.Indices {
			if idx < c.numFeatures {
				jll[l] += vec.Values[k] * c.featureLogProb[l][idx]
			}
		}
	}

	// log-sum-exp normalisation
	m := math.Max(jll[0], jll[1])
	e0, e1 := math.Exp(jll[0]-m), math.Exp(jll[1]-m)
	p := Prediction{Probabilities: [2]float64{e0 / (e0 + e1), e1 / (e0 + e1)}}
	if p.Probabilities[LabelSpam] > p.Probabilities[LabelNormal] {
		p.Label = LabelSpam
	} else {
		p.Label = LabelNormal
	}
	return p
}

// NumFeatures is the vector length the model was fitted on.
func (c *Classifier) NumFeatures() int { return c.numFeatures }

// ClassCount returns the number of training examples of class l.
func (c *Classifier) ClassCount(l Label) int { return int(c.classCount[l]) }

type classifierState struct {
	Alpha          float64      `json:"alpha"`
	NumFeatures    int          `json:"num_features"`
	ClassCount     [2]float64   `json:"class_count"`
	ClassLogPrior  [2]float64   `json:"class_log_prior"`
	FeatureLogProb [2][]float64 `json:"feature_log_prob"`
}

// MarshalJSON encodes the fitted model.
func (c *Classifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(classifierState{
		Alpha:          c.alpha,
		NumFeatures:    c.numFeatures,
		ClassCount:     c.classCount,
		ClassLogPrior:  c.classLogPrior,
		FeatureLogProb: c.featureLogProb,
	})
}

// UnmarshalJSON restores a fitted model.
func (c *Classifier) UnmarshalJSON(data []byte) error {
	var st classifierState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	for _, l := range Labels {
		if len(st.FeatureLogProb[l]) != st.NumFeatures {
			return fmt.Errorf("classifier state: %s has %d feature weights, want %d",
				l, len(st.FeatureLogProb[l]), st.NumFeatures)
		}
	}
	c.alpha = st.Alpha
	c.numFeatures = st.NumFeatures
	c.classCount = st.ClassCount
	c.classLogPrior = st.ClassLogPrior
	c.featureLogProb = st.FeatureLogProb
	return nil
}
