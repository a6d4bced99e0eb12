// Package server exposes the inference service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spamlens/spamlens/pkg/imagetext"
	"github.com/spamlens/spamlens/pkg/inference"
	"github.com/spamlens/spamlens/pkg/learning"
	"github.com/spamlens/spamlens/pkg/logging"
	"github.com/spamlens/spamlens/pkg/store"
)

const (
	// multipartOverhead is allowed on top of the upload limit for form framing.
	multipartOverhead = 1 << 20
	// defaultMaxTextBytes caps the JSON body of /predict.
	defaultMaxTextBytes = 1 << 20
)

// errorHandler tries to handle a service error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Options configure the HTTP surface.
type Options struct {
	MaxUploadBytes int64
	MaxTextBytes   int64
}

// Server routes prediction requests to an inference.Service.
type Server struct {
	svc           *inference.Service
	store         store.Store
	opts          Options
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// New creates an HTTP server. st may be nil, in which case /reload answers 503.
func New(svc *inference.Service, st store.Store, opts Options, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = inference.DefaultOptions().MaxUploadBytes
	}
	if opts.MaxTextBytes <= 0 {
		opts.MaxTextBytes = defaultMaxTextBytes
	}
	s := &Server{svc: svc, store: st, opts: opts, logger: logger}
	s.errorHandlers = []errorHandler{
		inputErrorHandler,
		sentinelHandler(inference.ErrModelNotLoaded, http.StatusServiceUnavailable),
		sentinelHandler(imagetext.ErrInsufficientText, http.StatusBadRequest),
		sentinelHandler(imagetext.ErrDecode, http.StatusBadRequest),
		extractionErrorHandler,
	}
	setModelGauge(svc.Health().ModelLoaded)
	return s
}

// Router builds the chi router with middleware and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(metricsMiddleware)

	r.Post("/predict", s.predictText)
	r.Post("/predict-image", s.predictImage)
	r.Get("/health", s.health)
	r.Post("/reload", s.reload)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

type predictRequest struct {
	Text *string `json:"text"`
}

// predictText handles POST /predict.
func (s *Server) predictText(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ready(); err != nil {
		s.handleError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxTextBytes)
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Text == nil {
		s.handleError(w, r, &inference.InputError{Reason: inference.ReasonMissingText})
		return
	}

	res, err := s.svc.PredictText(r.Context(), *req.Text)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	predictionsTotal.WithLabelValues("text", res.Prediction).Inc()
	writeJSON(w, http.StatusOK, res)
}

// predictImage handles POST /predict-image with a multipart "image" field.
func (s *Server) predictImage(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ready(); err != nil {
		s.handleError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+multipartOverhead)
	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			err = &inference.InputError{Reason: inference.ReasonTooLarge}
		case errors.Is(err, http.ErrMissingFile) && r.MultipartForm != nil && len(r.MultipartForm.Value["image"]) > 0:
			// a part named image without a filename is parsed as a plain value
			err = &inference.InputError{Reason: inference.ReasonEmptyFilename}
		case errors.Is(err, http.ErrMissingFile):
			err = &inference.InputError{Reason: inference.ReasonNoFile}
		default:
			err = &inference.InputError{Reason: inference.ReasonNoFile, Detail: err.Error()}
		}
		s.handleError(w, r, err)
		return
	}
	defer file.Close()

	if err := inference.ValidateUpload(header.Filename, header.Size, s.opts.MaxUploadBytes); err != nil {
		s.handleError(w, r, err)
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, s.opts.MaxUploadBytes+1))
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	res, err := s.svc.PredictImage(r.Context(), header.Filename, data)
	if err != nil {
		var ee *imagetext.ExtractionError
		if errors.As(err, &ee) {
			extractionFailuresTotal.WithLabelValues(string(ee.Kind)).Inc()
		}
		s.handleError(w, r, err)
		return
	}
	predictionsTotal.WithLabelValues("image", res.Prediction).Inc()
	writeJSON(w, http.StatusOK, res)
}

// health handles GET /health. It answers 200 whether or not a model is loaded.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Health())
}

// reload handles POST /reload.
func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no artifact store configured")
		return
	}
	art, err := s.ReloadModel(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("model reloaded", zap.String("run_id", art.RunID))
	writeJSON(w, http.StatusOK, s.svc.Health())
}

// ReloadModel installs the current pair from the store. On failure the
// previous model keeps serving.
func (s *Server) ReloadModel(ctx context.Context) (*learning.Artifact, error) {
	if s.store == nil {
		return nil, errors.New("no artifact store configured")
	}
	art, err := s.svc.Reload(ctx, s.store)
	if err != nil {
		return nil, err
	}
	setModelGauge(true)
	return art, nil
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.FromContext(r.Context())
	logger.Warn("request failed", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func inputErrorHandler(w http.ResponseWriter, err error) bool {
	var ie *inference.InputError
	if !errors.As(err, &ie) {
		return false
	}
	status := http.StatusBadRequest
	if ie.Reason == inference.ReasonTooLarge {
		status = http.StatusRequestEntityTooLarge
	}
	writeError(w, status, ie.Error())
	return true
}

func sentinelHandler(sentinel error, status int) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, sentinel.Error())
		return true
	}
}

func extractionErrorHandler(w http.ResponseWriter, err error) bool {
	var ee *imagetext.ExtractionError
	if !errors.As(err, &ee) {
		return false
	}
	writeError(w, http.StatusInternalServerError, "error processing image: "+ee.Error())
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
