package learning

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/spamlens/spamlens/pkg/textnorm"
)

var testDocs = []string{
	"free money now click here",
	"win a free prize click now",
	"cheap pills free shipping",
	"meeting notes attached for review",
	"please review the attached report",
	"lunch meeting moved to friday",
}

var testLabels = []Label{LabelSpam, LabelSpam, LabelSpam, LabelNormal, LabelNormal, LabelNormal}

func fitTestPair(t *testing.T) (*Vectorizer, *Classifier) {
	t.Helper()
	v, err := FitVectorizer(testDocs, DefaultVectorizerConfig())
	if err != nil {
		t.Fatalf("FitVectorizer: %v", err)
	}
	c, err := FitClassifier(v.TransformAll(testDocs), testLabels, 1.0)
	if err != nil {
		t.Fatalf("FitClassifier: %v", err)
	}
	return v, c
}

func TestParseLabel(t *testing.T) {
	tests := map[string]Label{"spam": LabelSpam, "SPAM": LabelSpam, "normal": LabelNormal, "ham": LabelNormal}
	for in, want := range tests {
		got, err := ParseLabel(in)
		if err != nil || got != want {
			t.Errorf("ParseLabel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLabel("phishing"); err == nil {
		t.Error("expected error for unknown label")
	}
}

func TestFitVectorizerExcludesStopWords(t *testing.T) {
	v, _ := fitTestPair(t)
	for _, stop := range []string{"now", "here", "the", "for", "to"} {
		if _, ok := v.Index(stop); ok {
			t.Errorf("stop word %q should not be in the vocabulary", stop)
		}
	}
	for _, term := range []string{"free", "money", "meeting", "review"} {
		if _, ok := v.Index(term); !ok {
			t.Errorf("expected %q in the vocabulary", term)
		}
	}
}

func TestFitVectorizerCapsVocabulary(t *testing.T) {
	cfg := DefaultVectorizerConfig()
	cfg.MaxVocabularySize = 3
	v, err := FitVectorizer(testDocs, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if v.Size() != 3 {
		t.Fatalf("vocabulary size = %d, want 3", v.Size())
	}
	// "free" appears 3 times; "attached", "click", "meeting" and "review" twice, ties break alphabetically
	want := []string{"attached", "click", "free"}
	for i, term := range want {
		if v.Term(i) != term {
			t.Errorf("term %d = %q, want %q", i, v.Term(i), term)
		}
	}
}

func TestFitVectorizerErrors(t *testing.T) {
	if _, err := FitVectorizer(nil, DefaultVectorizerConfig()); err == nil {
		t.Error("expected error for empty corpus")
	}
	if _, err := FitVectorizer([]string{"the and of", "a to"}, DefaultVectorizerConfig()); !errors.Is(err, ErrEmptyVocabulary) {
		t.Errorf("expected ErrEmptyVocabulary, got %v", err)
	}
	bad := DefaultVectorizerConfig()
	bad.NgramRange = [2]int{2, 1}
	if _, err := FitVectorizer(testDocs, bad); err == nil {
		t.Error("expected error for inverted ngram range")
	}
}

func TestTransformStableAndNormalised(t *testing.T) {
	v, _ := fitTestPair(t)
	a := v.Transform("free money click free")
	b := v.Transform("free money click free")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("transform not stable: %+v vs %+v", a, b)
	}
	if a.Dim != v.Size() {
		t.Errorf("dim = %d, want %d", a.Dim, v.Size())
	}

	var norm float64
	for _, w := range a.Values {
		norm += w * w
	}
	if math.Abs(norm-1) > 1e-9 {
		t.Errorf("vector not L2 normalised: %v", norm)
	}

	free, _ := v.Index("free")
	money, _ := v.Index("money")
	if a.At(free) <= a.At(money) {
		t.Error("repeated term should carry more weight")
	}
}

func TestTransformOutOfVocabulary(t *testing.T) {
	v, _ := fitTestPair(t)
	vec := v.Transform("zzqqxx99")
	if vec.Dim != v.Size() {
		t.Errorf("dim = %d, want %d", vec.Dim, v.Size())
	}
	if len(vec.Indices) != 0 {
		t.Errorf("expected no weights for unseen terms, got %v", vec.Indices)
	}

	mixed := v.Transform("free zzqqxx")
	if len(mixed.Indices) != 1 {
		t.Errorf("expected only the known term to contribute, got %v", mixed.Indices)
	}
}

func TestTransformNgrams(t *testing.T) {
	cfg := DefaultVectorizerConfig()
	cfg.NgramRange = [2]int{1, 2}
	v, err := FitVectorizer(testDocs, cfg)
	if err != nil {
		t.Fatal(err)
	}
	// stop words are removed before bigrams are formed
	if _, ok := v.Index("free money"); !ok {
		t.Error("expected bigram 'free money'")
	}
	if _, ok := v.Index("money click"); !ok {
		t.Error("expected bigram 'money click' once 'now' is dropped")
	}
}

func TestClassifierProbabilitiesSumToOne(t *testing.T) {
	v, c := fitTestPair(t)
	inputs := []string{"", "free", "meeting review", "zzqq", "free meeting", "cheap pills attached report"}
	for _, in := range inputs {
		p := c.Predict(v.Transform(in))
		sum := p.Probabilities[0] + p.Probabilities[1]
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("%q: probabilities sum to %v", in, sum)
		}
	}
}

func TestClassifierTieResolvesToNormal(t *testing.T) {
	v, c := fitTestPair(t)
	// balanced priors and no known terms give exactly 0.5/0.5
	p := c.Predict(v.Transform("zzqqxx"))
	if p.Probabilities[LabelSpam] != 0.5 || p.Probabilities[LabelNormal] != 0.5 {
		t.Fatalf("expected an exact tie, got %v", p.Probabilities)
	}
	if p.Label != LabelNormal {
		t.Errorf("tie should resolve to normal, got %v", p.Label)
	}
	if p.ConfidenceString() != "50.0%" {
		t.Errorf("confidence = %q, want 50.0%%", p.ConfidenceString())
	}
}

func TestClassifierSeparatesClasses(t *testing.T) {
	v, c := fitTestPair(t)

	text, err := textnorm.Normalize("free money now, click here!!!")
	if err != nil {
		t.Fatal(err)
	}
	spam := c.Predict(v.Transform(text))
	if spam.Label != LabelSpam || !spam.Label.IsSpam() {
		t.Errorf("expected spam, got %v (%v)", spam.Label, spam.Probabilities)
	}
	if spam.Confidence() <= 50 {
		t.Errorf("expected confidence above 50, got %v", spam.Confidence())
	}

	normal := c.Predict(v.Transform("meeting notes attached for review"))
	if normal.Label != LabelNormal {
		t.Errorf("expected normal, got %v (%v)", normal.Label, normal.Probabilities)
	}
}

func TestFitClassifierErrors(t *testing.T) {
	v, _ := fitTestPair(t)
	vecs := v.TransformAll(testDocs[:3])

	if _, err := FitClassifier(vecs, []Label{LabelSpam, LabelSpam, LabelSpam}, 1); err == nil {
		t.Error("expected error when only one class is present")
	}
	if _, err := FitClassifier(vecs, []Label{LabelSpam}, 1); err == nil {
		t.Error("expected error for length mismatch")
	}
	if _, err := FitClassifier(vecs, []Label{LabelSpam, LabelNormal, LabelSpam}, 0); err == nil {
		t.Error("expected error for zero alpha")
	}
	if _, err := FitClassifier(nil, nil, 1); err == nil {
		t.Error("expected error for no examples")
	}
}

func TestArtifactPairRoundTrip(t *testing.T) {
	v, c := fitTestPair(t)
	a, err := NewArtifact(textnorm.ProfileBasic, v, c)
	if err != nil {
		t.Fatal(err)
	}

	vb, cb, err := a.MarshalPair()
	if err != nil {
		t.Fatalf("MarshalPair: %v", err)
	}
	loaded, err := UnmarshalPair(vb, cb)
	if err != nil {
		t.Fatalf("UnmarshalPair: %v", err)
	}
	if loaded.RunID != a.RunID || loaded.Profile != textnorm.ProfileBasic {
		t.Errorf("metadata lost: %+v", loaded)
	}

	for _, in := range []string{"free money now, click here!!!", "meeting notes attached for review"} {
		want, _, _ := a.Predict(in)
		got, _, err := loaded.Predict(in)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("%q: loaded prediction %+v differs from %+v", in, got, want)
		}
	}
}

func TestUnmarshalPairRejectsMixedRuns(t *testing.T) {
	v, c := fitTestPair(t)
	a1, _ := NewArtifact(textnorm.ProfileBasic, v, c)
	a2, _ := NewArtifact(textnorm.ProfileBasic, v, c)

	vb1, _, _ := a1.MarshalPair()
	_, cb2, _ := a2.MarshalPair()
	if _, err := UnmarshalPair(vb1, cb2); !errors.Is(err, ErrMismatchedPair) {
		t.Fatalf("expected ErrMismatchedPair, got %v", err)
	}
	if _, err := UnmarshalPair([]byte("{"), cb2); err == nil {
		t.Error("expected decode error")
	}
}

func TestNewArtifactDimensionCheck(t *testing.T) {
	v, _ := fitTestPair(t)
	small, _ := FitVectorizer([]string{"alpha beta", "gamma delta"}, DefaultVectorizerConfig())
	c, err := FitClassifier(small.TransformAll([]string{"alpha beta", "gamma delta"}), []Label{LabelSpam, LabelNormal}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewArtifact(textnorm.ProfileBasic, v, c); err == nil {
		t.Error("expected error for mismatched dimensions")
	}
}
