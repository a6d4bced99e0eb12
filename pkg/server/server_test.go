package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/spamlens/spamlens/pkg/imagetext"
	"github.com/spamlens/spamlens/pkg/inference"
	"github.com/spamlens/spamlens/pkg/learning"
	"github.com/spamlens/spamlens/pkg/store"
	"github.com/spamlens/spamlens/pkg/textnorm"
)

type stubExtractor struct {
	text string
	err  error
}

func (s stubExtractor) Extract(context.Context, []byte) (string, error) { return s.text, s.err }

type pairStore struct {
	pair store.Pair
	err  error
}

func (p pairStore) Save(context.Context, store.Pair) error  { return nil }
func (p pairStore) Load(context.Context) (store.Pair, error) { return p.pair, p.err }
func (p pairStore) Close() error                            { return nil }

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

func newTestServer(t *testing.T, ext inference.TextExtractor, loaded bool, st store.Store) http.Handler {
	t.Helper()
	svc := inference.New(ext, inference.DefaultOptions(), nil)
	if loaded {
		svc.Swap(testArtifact(t))
	}
	return New(svc, st, Options{MaxUploadBytes: 1 << 10}, nil).Router()
}

func decode(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func multipartRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	} else {
		mw.WriteField("other", "value")
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/predict-image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestPredictText(t *testing.T) {
	h := newTestServer(t, nil, true, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantLabel  string
		wantError  string
	}{
		{"spam", `{"text":"free money now, click here!!!"}`, http.StatusOK, "spam", ""},
		{"normal", `{"text":"meeting notes attached for review"}`, http.StatusOK, "normal", ""},
		{"missing field", `{}`, http.StatusBadRequest, "", "no text provided"},
		{"empty text", `{"text":""}`, http.StatusBadRequest, "", "no text provided"},
		{"malformed json", `{"text":`, http.StatusBadRequest, "", "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(tt.body)))

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			out := decode(t, rr.Body)
			if tt.wantLabel != "" {
				if out["prediction"] != tt.wantLabel || out["is_spam"] != (tt.wantLabel == "spam") {
					t.Errorf("unexpected body %v", out)
				}
				if c, _ := out["confidence"].(string); !strings.HasSuffix(c, "%") {
					t.Errorf("confidence %v", out["confidence"])
				}
			}
			if tt.wantError != "" {
				if msg, _ := out["error"].(string); !strings.Contains(msg, tt.wantError) {
					t.Errorf("error = %q, want %q", msg, tt.wantError)
				}
			}
		})
	}
}

func TestPredictWithoutModel(t *testing.T) {
	h := newTestServer(t, stubExtractor{text: "free money"}, false, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"text":"hi"}`)))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if msg, _ := decode(t, rr.Body)["error"].(string); !strings.Contains(msg, "spamlens train") {
		t.Errorf("error %q lacks training guidance", msg)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, multipartRequest(t, "image", "a.png", []byte("x")))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("image status = %d, want 503", rr.Code)
	}

	// the model check precedes input validation
	malformed := map[string]func() *http.Request{
		"bad json": func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("not json"))
		},
		"missing text": func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{}`))
		},
		"no image part": func() *http.Request { return multipartRequest(t, "", "", nil) },
		"bad extension": func() *http.Request { return multipartRequest(t, "image", "notes.txt", []byte("x")) },
	}
	for name, req := range malformed {
		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, req())
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503: %s", name, rr.Code, rr.Body.String())
		}
	}

	// health stays operative
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}
	out := decode(t, rr.Body)
	if out["model_loaded"] != false || out["vectorizer_loaded"] != false {
		t.Errorf("unexpected health %v", out)
	}
}

func TestPredictTextBodyLimit(t *testing.T) {
	svc := inference.New(nil, inference.DefaultOptions(), nil)
	svc.Swap(testArtifact(t))
	h := New(svc, nil, Options{MaxTextBytes: 64}, nil).Router()

	body := `{"text":"` + strings.Repeat("free money ", 20) + `"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"text":"free money"}`)))
	if rr.Code != http.StatusOK {
		t.Errorf("small body status = %d, want 200", rr.Code)
	}
}

func TestPredictImage(t *testing.T) {
	h := newTestServer(t, stubExtractor{text: "Free money now, click here to claim"}, true, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, multipartRequest(t, "image", "offer.png", []byte("png")))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	out := decode(t, rr.Body)
	if out["prediction"] != "spam" || out["extracted_text"] != "Free money now, click here to claim" {
		t.Errorf("unexpected body %v", out)
	}

	if got := testutil.ToFloat64(predictionsTotal.WithLabelValues("image", "spam")); got < 1 {
		t.Errorf("predictions_total not incremented: %v", got)
	}
}

func TestPredictImageErrors(t *testing.T) {
	insufficient := &imagetext.ExtractionError{Kind: imagetext.KindInsufficientText, Err: imagetext.ErrInsufficientText}
	decodeErr := &imagetext.ExtractionError{Kind: imagetext.KindDecode, Err: imagetext.ErrDecode}
	ocrErr := &imagetext.ExtractionError{Kind: imagetext.KindOCR, Err: errors.New("tesseract: exit status 1")}

	tests := []struct {
		name       string
		ext        inference.TextExtractor
		req        func(t *testing.T) *http.Request
		wantStatus int
		wantError  string
	}{
		{"no file", stubExtractor{}, func(t *testing.T) *http.Request {
			return multipartRequest(t, "", "", nil)
		}, http.StatusBadRequest, "no image file provided"},
		{"empty filename", stubExtractor{}, func(t *testing.T) *http.Request {
			return multipartRequest(t, "image", "", []byte("x"))
		}, http.StatusBadRequest, "no file selected"},
		{"bad extension", stubExtractor{}, func(t *testing.T) *http.Request {
			return multipartRequest(t, "image", "notes.txt", []byte("x"))
		}, http.StatusBadRequest, "invalid file type"},
		{"too large", stubExtractor{}, func(t *testing.T) *http.Request {
			return multipartRequest(t, "image", "big.png", bytes.Repeat([]byte("x"), 2<<10))
		}, http.StatusRequestEntityTooLarge, "file too large"},
		{"insufficient text", stubExtractor{err: insufficient}, func(t *testing.T) *http.Request {
			return multipartRequest(t, "image", "blank.png", []byte("x"))
		}, http.StatusBadRequest, "meaningful text"},
		{"decode failure", stubExtractor{err: decodeErr}, func(t *testing.T) *http.Request {
			return multipartRequest(t, "image", "broken.jpg", []byte("x"))
		}, http.StatusBadRequest, "could not decode image"},
		{"ocr failure", stubExtractor{err: ocrErr}, func(t *testing.T) *http.Request {
			return multipartRequest(t, "image", "scan.png", []byte("x"))
		}, http.StatusInternalServerError, "exit status 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, tt.ext, true, nil)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, tt.req(t))
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if msg, _ := decode(t, rr.Body)["error"].(string); !strings.Contains(msg, tt.wantError) {
				t.Errorf("error = %q, want %q", msg, tt.wantError)
			}
		})
	}
}

func TestReload(t *testing.T) {
	art := testArtifact(t)
	vec, clf, err := art.MarshalPair()
	if err != nil {
		t.Fatal(err)
	}
	h := newTestServer(t, nil, false, pairStore{pair: store.Pair{RunID: art.RunID, Vectorizer: vec, Classifier: clf}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/reload", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	out := decode(t, rr.Body)
	if out["model_loaded"] != true || out["run_id"] != art.RunID {
		t.Errorf("unexpected body %v", out)
	}
	if testutil.ToFloat64(modelLoaded) != 1 {
		t.Error("model_loaded gauge not set")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"text":"free money"}`)))
	if rr.Code != http.StatusOK {
		t.Errorf("predict after reload: %d", rr.Code)
	}
}

func TestReloadErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestServer(t, nil, false, pairStore{err: store.ErrNotFound}).
		ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/reload", http.NoBody))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("missing pair: status = %d, want 503", rr.Code)
	}

	rr = httptest.NewRecorder()
	newTestServer(t, nil, false, nil).
		ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/reload", http.NoBody))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("no store: status = %d, want 503", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, nil, true, nil)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "spamlens_http_requests_total") {
		t.Error("request counter missing from /metrics")
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/health", "200")); got < 1 {
		t.Errorf("http_requests_total = %v", got)
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestServer(t, nil, true, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}
}
