package inference

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/spamlens/spamlens/pkg/imagetext"
	"github.com/spamlens/spamlens/pkg/learning"
	"github.com/spamlens/spamlens/pkg/store"
	"github.com/spamlens/spamlens/pkg/textnorm"
)

type stubExtractor struct {
	text string
	err  error
}

func (s stubExtractor) Extract(context.Context, []byte) (string, error) { return s.text, s.err }

func testArtifact(t *testing.T) *learning.Artifact {
	t.Helper()
	texts := []string{
		"free money now click here",
		"win free money click here",
		"meeting notes attached for review",
		"please review the meeting notes",
	}
	labels := []learning.Label{learning.LabelSpam, learning.LabelSpam, learning.LabelNormal, learning.LabelNormal}
	vec, err := learning.FitVectorizer(texts, learning.DefaultVectorizerConfig())
	if err != nil {
		t.Fatal(err)
	}
	clf, err := learning.FitClassifier(vec.TransformAll(texts), labels, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	art, err := learning.NewArtifact(textnorm.ProfileBasic, vec, clf)
	if err != nil {
		t.Fatal(err)
	}
	return art
}

func TestModelNotLoaded(t *testing.T) {
	svc := New(stubExtractor{}, DefaultOptions(), nil)
	ctx := context.Background()

	if _, err := svc.PredictText(ctx, "hello"); !errors.Is(err, ErrModelNotLoaded) {
		t.Errorf("PredictText: expected ErrModelNotLoaded, got %v", err)
	}
	if _, err := svc.PredictImage(ctx, "a.png", []byte{1}); !errors.Is(err, ErrModelNotLoaded) {
		t.Errorf("PredictImage: expected ErrModelNotLoaded, got %v", err)
	}
	if !strings.Contains(ErrModelNotLoaded.Error(), "spamlens train") {
		t.Error("error should tell the operator how to train a model")
	}

	h := svc.Health()
	if h.Status != "ok" || h.ModelLoaded || h.VectorizerLoaded {
		t.Errorf("unexpected health %+v", h)
	}

	if err := svc.Ready(); !errors.Is(err, ErrModelNotLoaded) {
		t.Errorf("Ready: expected ErrModelNotLoaded, got %v", err)
	}
	svc.Swap(testArtifact(t))
	if err := svc.Ready(); err != nil {
		t.Errorf("Ready after Swap: %v", err)
	}
}

func TestPredictText(t *testing.T) {
	svc := New(nil, DefaultOptions(), nil)
	svc.Swap(testArtifact(t))
	ctx := context.Background()

	tests := []struct {
		name   string
		text   string
		want   string
		isSpam bool
	}{
		{"spam", "free money now, click here!!!", "spam", true},
		{"normal", "meeting notes attached for review", "normal", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.PredictText(ctx, tt.text)
			if err != nil {
				t.Fatal(err)
			}
			if res.Prediction != tt.want || res.IsSpam != tt.isSpam {
				t.Errorf("got %+v", res)
			}
			if !strings.HasSuffix(res.Confidence, "%") {
				t.Errorf("confidence %q", res.Confidence)
			}
			if res.ExtractedText != "" {
				t.Error("text predictions carry no extracted text")
			}
		})
	}

	h := svc.Health()
	if !h.ModelLoaded || !h.VectorizerLoaded || h.RunID == "" || h.Profile != "basic" {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestPredictTextInvalidInput(t *testing.T) {
	svc := New(nil, DefaultOptions(), nil)
	svc.Swap(testArtifact(t))

	tests := []struct {
		text   string
		reason Reason
	}{
		{"", ReasonMissingText},
		{"   ", ReasonMissingText},
		{"bad \xff bytes", ReasonInvalidEncoding},
	}
	for _, tt := range tests {
		_, err := svc.PredictText(context.Background(), tt.text)
		var ie *InputError
		if !errors.As(err, &ie) || ie.Reason != tt.reason {
			t.Errorf("PredictText(%q) = %v, want reason %s", tt.text, err, tt.reason)
		}
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("InputError should match ErrInvalidInput")
		}
	}
}

func TestPredictImage(t *testing.T) {
	long := strings.Repeat("free money ", 100)
	svc := New(stubExtractor{text: long}, DefaultOptions(), nil)
	svc.Swap(testArtifact(t))

	res, err := svc.PredictImage(context.Background(), "offer.PNG", []byte("png bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsSpam {
		t.Errorf("expected spam, got %+v", res)
	}
	if !strings.HasSuffix(res.ExtractedText, "...") || len([]rune(res.ExtractedText)) != 503 {
		t.Errorf("excerpt not truncated to 500 runes: %d", len([]rune(res.ExtractedText)))
	}
}

func TestPredictImageExtractionError(t *testing.T) {
	extractErr := &imagetext.ExtractionError{Kind: imagetext.KindInsufficientText, Err: imagetext.ErrInsufficientText}
	svc := New(stubExtractor{err: extractErr}, DefaultOptions(), nil)
	svc.Swap(testArtifact(t))

	_, err := svc.PredictImage(context.Background(), "blank.png", []byte("x"))
	if !errors.Is(err, imagetext.ErrInsufficientText) {
		t.Errorf("expected insufficient text, got %v", err)
	}
}

func TestValidateUpload(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		size     int64
		reason   Reason
	}{
		{"ok", "scan.tiff", 10, ""},
		{"upper case extension", "scan.JPG", 10, ""},
		{"empty filename", "", 10, ReasonEmptyFilename},
		{"bad extension", "notes.txt", 10, ReasonExtension},
		{"no extension", "image", 10, ReasonExtension},
		{"empty upload", "a.png", 0, ReasonNoFile},
		{"too large", "a.png", 16<<20 + 1, ReasonTooLarge},
		{"at limit", "a.png", 16 << 20, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpload(tt.filename, tt.size, 16<<20)
			if tt.reason == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			var ie *InputError
			if !errors.As(err, &ie) || ie.Reason != tt.reason {
				t.Fatalf("got %v, want reason %s", err, tt.reason)
			}
		})
	}

	// every reason has its own message
	seen := make(map[string]Reason)
	for _, r := range []Reason{ReasonMissingText, ReasonInvalidEncoding, ReasonNoFile, ReasonEmptyFilename, ReasonExtension, ReasonTooLarge} {
		msg := (&InputError{Reason: r}).Error()
		if prev, dup := seen[msg]; dup {
			t.Errorf("%s and %s share message %q", prev, r, msg)
		}
		seen[msg] = r
	}
}

type pairStore struct {
	pair store.Pair
	err  error
}

func (p pairStore) Save(context.Context, store.Pair) error  { return nil }
func (p pairStore) Load(context.Context) (store.Pair, error) { return p.pair, p.err }
func (p pairStore) Close() error                            { return nil }

func TestReload(t *testing.T) {
	svc := New(nil, DefaultOptions(), nil)
	ctx := context.Background()

	if _, err := svc.Reload(ctx, pairStore{err: store.ErrNotFound}); !errors.Is(err, ErrModelNotLoaded) {
		t.Fatalf("expected ErrModelNotLoaded, got %v", err)
	}

	art := testArtifact(t)
	vec, clf, err := art.MarshalPair()
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := svc.Reload(ctx, pairStore{pair: store.Pair{RunID: art.RunID, Vectorizer: vec, Classifier: clf}})
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if loaded.RunID != art.RunID || svc.Model().RunID != art.RunID {
		t.Errorf("reloaded run %s, want %s", svc.Model().RunID, art.RunID)
	}

	// a broken pair leaves the installed model alone
	if _, err := svc.Reload(ctx, pairStore{pair: store.Pair{RunID: "x", Vectorizer: []byte("{"), Classifier: clf}}); err == nil {
		t.Fatal("expected decode error")
	}
	if svc.Model().RunID != art.RunID {
		t.Error("failed reload replaced the model")
	}
}

func TestConcurrentPredictDuringSwap(t *testing.T) {
	svc := New(nil, DefaultOptions(), nil)
	svc.Swap(testArtifact(t))
	next := testArtifact(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := svc.PredictText(context.Background(), "free money click here"); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	svc.Swap(next)
	wg.Wait()
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt("héllo", 10); got != "héllo" {
		t.Errorf("short text changed: %q", got)
	}
	if got := Excerpt("héllo wörld", 5); got != "héllo..." {
		t.Errorf("Excerpt = %q", got)
	}
}
