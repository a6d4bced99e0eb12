package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spamlens/spamlens/pkg/server"
)

var serveAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP prediction server",
	Long: `Serve the trained model over HTTP.

Endpoints:
  POST /predict         {"text": "..."}
  POST /predict-image   multipart form, field "image"
  GET  /health
  POST /reload          load the current model from the store
  GET  /metrics         Prometheus metrics

The server starts even without a trained model; predictions answer 503 until
one is trained and loaded. Send SIGHUP or POST /reload after retraining.

Example usage:
  spamlens serve
  spamlens serve --address 127.0.0.1:8080`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cmd.Flags().Changed("address") {
		cfg.Server.Address = serveAddress
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}
	defer st.Close()

	svc, err := loadService(ctx, cfg, st, logger)
	if err != nil {
		return err
	}

	api := server.New(svc, st, server.Options{
		MaxUploadBytes: cfg.MaxUploadBytes(),
		MaxTextBytes:   cfg.MaxTextBytes(),
	}, logger)
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(quit)
	defer signal.Stop(hup)

	serverErr := make(chan error, 1)
	go func() {
		health := svc.Health()
		fmt.Printf("🌐 spamlens HTTP server starting on %s\n", cfg.Server.Address)
		if health.ModelLoaded {
			fmt.Printf("🧠 Model: run %s (%s profile)\n", health.RunID, health.Profile)
		} else {
			fmt.Printf("⚠️  No trained model: predictions answer 503 until one is loaded\n")
		}
		fmt.Printf("📦 Upload limit: %d MB\n", cfg.Server.MaxUploadMB)
		fmt.Printf("🚀 Press Ctrl+C to stop\n\n")

		logger.Info("Starting HTTP server", zap.String("addr", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	for {
		select {
		case <-hup:
			art, err := api.ReloadModel(ctx)
			if err != nil {
				logger.Error("reload failed, keeping the current model", zap.Error(err))
				continue
			}
			logger.Info("model reloaded", zap.String("run_id", art.RunID))

		case err, ok := <-serverErr:
			if ok && err != nil {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil

		case <-quit:
			logger.Info("Received shutdown signal")
			fmt.Printf("\n🛑 Shutdown signal received, stopping HTTP server...\n")

			shutdownCtx, cancel := context.WithTimeout(context.Background(),
				time.Duration(cfg.Server.ShutdownTimeoutMs)*time.Millisecond)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Error during shutdown", zap.Error(err))
				return err
			}
			fmt.Printf("✅ HTTP server stopped gracefully\n")
			return nil
		}
	}
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddress, "address", "a", "", "Listen address (overrides config, e.g. :5001)")

	rootCmd.AddCommand(serveCmd)
}
