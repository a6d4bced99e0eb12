package milter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/d--j/go-milter"
	"github.com/emersion/go-message"
	"go.uber.org/zap"

	"github.com/spamlens/spamlens/pkg/email"
	"github.com/spamlens/spamlens/pkg/inference"
	"github.com/spamlens/spamlens/pkg/logging"
)

// Classifier predicts the label of message text.
type Classifier interface {
	PredictText(ctx context.Context, text string) (*inference.Result, error)
}

// Options control headers and the reject policy.
type Options struct {
	HeaderPrefix     string
	RejectSpam       bool
	RejectConfidence float64 // percent
	RejectMessage    string
	MaxBodyBytes     int
}

// Decision is what the milter does with one message.
type Decision struct {
	Status     string // Spam, Clean or Unavailable
	Confidence string
	Reject     bool
}

// Decide maps a prediction to a milter decision.
func Decide(res *inference.Result, opts Options) Decision {
	if res == nil {
		return Decision{Status: "Unavailable"}
	}
	d := Decision{Status: "Clean", Confidence: res.Confidence}
	if res.IsSpam {
		d.Status = "Spam"
		d.Reject = opts.RejectSpam && res.SpamProbability*100 >= opts.RejectConfidence
	}
	return d
}

// Handler implements the milter.Milter interface for one SMTP connection
type Handler struct {
	milter.NoOpMilter
	classifier Classifier
	opts       Options
	logger     *zap.Logger

	// Message data being built during the milter session
	from      string
	header    message.Header
	body      bytes.Buffer
	truncated bool

	startTime time.Time
}

// NewHandler creates a new milter handler
func NewHandler(classifier Classifier, opts Options, logger *zap.Logger) *Handler {
	logger = logging.OrNop(logger)
	return &Handler{classifier: classifier, opts: opts, logger: logger, startTime: time.Now()}
}

// MailFrom is called when MAIL FROM is received
func (h *Handler) MailFrom(from string, esmtpArgs string, m milter.Modifier) (*milter.Response, error) {
	h.reset()
	h.from = from
	return milter.RespContinue, nil
}

// Header is called for each header
func (h *Handler) Header(name string, value string, m milter.Modifier) (*milter.Response, error) {
	h.header.Add(name, value)
	return milter.RespContinue, nil
}

// BodyChunk is called for each body chunk
func (h *Handler) BodyChunk(chunk []byte, m milter.Modifier) (*milter.Response, error) {
	if h.opts.MaxBodyBytes > 0 {
		room := h.opts.MaxBodyBytes - h.body.Len()
		if room <= 0 {
			h.truncated = true
			return milter.RespContinue, nil
		}
		if len(chunk) > room {
			chunk = chunk[:room]
			h.truncated = true
		}
	}
	h.body.Write(chunk)
	return milter.RespContinue, nil
}

// EndOfMessage classifies the message, adds result headers and decides
// whether to accept it.
func (h *Handler) EndOfMessage(m milter.Modifier) (*milter.Response, error) {
	res, err := h.classify(context.Background())
	if err != nil {
		// without a verdict the message is accepted untouched
		if errors.Is(err, inference.ErrModelNotLoaded) {
			h.logger.Warn("no model loaded, passing message through", zap.String("from", h.from))
		} else {
			h.logger.Error("classification failed", zap.String("from", h.from), zap.Error(err))
		}
	}

	d := Decide(res, h.opts)
	if err := h.addHeaders(m, d, res); err != nil {
		return milter.RespTempFail, fmt.Errorf("failed to add spamlens headers: %w", err)
	}

	h.logger.Info("message classified",
		zap.String("from", h.from),
		zap.String("status", d.Status),
		zap.String("confidence", d.Confidence),
		zap.Bool("reject", d.Reject),
		zap.Duration("elapsed", time.Since(h.startTime)))

	if d.Reject {
		msg := h.opts.RejectMessage
		if msg == "" {
			msg = fmt.Sprintf("5.7.1 Message rejected as spam (confidence %s)", d.Confidence)
		}
		resp, _ := milter.RejectWithCodeAndReason(550, msg)
		return resp, nil
	}
	return milter.RespContinue, nil
}

// Abort is called when the message is aborted
func (h *Handler) Abort(m milter.Modifier) error {
	h.reset()
	return nil
}

func (h *Handler) reset() {
	h.from = ""
	h.header = message.Header{}
	h.body.Reset()
	h.truncated = false
	h.startTime = time.Now()
}

// messageText is the decoded subject followed by the text parts of the
// body. A message that cannot be parsed as MIME is used raw.
func (h *Handler) messageText() string {
	msg, err := email.ParseParts(h.header, bytes.NewReader(h.body.Bytes()))
	if err != nil {
		h.logger.Debug("message is not valid MIME, classifying raw body", zap.Error(err))
		msg = &email.Message{Subject: h.header.Get("Subject"), Body: h.body.String()}
	}
	return msg.Text()
}

func (h *Handler) classify(ctx context.Context) (*inference.Result, error) {
	if h.classifier == nil {
		return nil, inference.ErrModelNotLoaded
	}
	text := strings.ToValidUTF8(h.messageText(), " ")
	if strings.TrimSpace(text) == "" {
		return nil, &inference.InputError{Reason: inference.ReasonMissingText}
	}
	return h.classifier.PredictText(ctx, text)
}

// addHeaders adds X-Spamlens-* headers with scan results
func (h *Handler) addHeaders(m milter.Modifier, d Decision, res *inference.Result) error {
	prefix := h.opts.HeaderPrefix
	if err := m.AddHeader(prefix+"Status", d.Status); err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	if err := m.AddHeader(prefix+"Confidence", d.Confidence); err != nil {
		return err
	}

	info := fmt.Sprintf("spamlens run %s; %.2fms", res.RunID, float64(time.Since(h.startTime).Microseconds())/1000)
	if h.truncated {
		info += "; body truncated"
	}
	return m.AddHeader(prefix+"Info", info)
}
