// Package milter classifies mail in the MTA flow through the milter protocol
// and tags each message with X-Spamlens-* headers.
package milter

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/d--j/go-milter"
	"go.uber.org/zap"

	"github.com/spamlens/spamlens/pkg/config"
	"github.com/spamlens/spamlens/pkg/logging"
)

// Server represents the spamlens milter server
type Server struct {
	config    config.MilterConfig
	milterSrv *milter.Server
	logger    *zap.Logger
}

// OptionsFromConfig converts milter settings to handler options.
func OptionsFromConfig(cfg config.MilterConfig) Options {
	return Options{
		HeaderPrefix:     cfg.HeaderPrefix,
		RejectSpam:       cfg.RejectSpam,
		RejectConfidence: cfg.RejectConfidence,
		RejectMessage:    cfg.RejectMessage,
		MaxBodyBytes:     cfg.MaxBodyBytes,
	}
}

// NewServer creates a milter server that classifies with classifier.
func NewServer(cfg config.MilterConfig, classifier Classifier, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)

	milterOpts := []milter.Option{
		// only the envelope sender, headers and body are needed
		milter.WithProtocol(milter.OptNoConnect | milter.OptNoHelo | milter.OptNoRcptTo | milter.OptNoData),
		milter.WithAction(milter.OptAddHeader),
	}

	if cfg.ReadTimeoutMs > 0 {
		milterOpts = append(milterOpts, milter.WithReadTimeout(
			time.Duration(cfg.ReadTimeoutMs)*time.Millisecond))
	}
	if cfg.WriteTimeoutMs > 0 {
		milterOpts = append(milterOpts, milter.WithWriteTimeout(
			time.Duration(cfg.WriteTimeoutMs)*time.Millisecond))
	}

	opts := OptionsFromConfig(cfg)
	milterOpts = append(milterOpts, milter.WithMilter(func() milter.Milter {
		return NewHandler(classifier, opts, logger)
	}))

	return &Server{
		config:    cfg,
		milterSrv: milter.NewServer(milterOpts...),
		logger:    logger,
	}
}

// Serve starts the milter server and listens for connections
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.milterSrv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			time.Duration(s.config.GracefulShutdownTimeout)*time.Millisecond,
		)
		defer cancel()

		if err := s.milterSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown milter server: %w", err)
		}
		return ctx.Err()

	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("milter server error: %w", err)
		}
		return nil
	}
}

// Close closes the milter server
func (s *Server) Close() error {
	return s.milterSrv.Close()
}

// MilterCount is the number of handler instances created so far.
func (s *Server) MilterCount() uint64 {
	return s.milterSrv.MilterCount()
}
