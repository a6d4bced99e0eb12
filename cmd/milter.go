package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spamlens/spamlens/pkg/milter"
)

var (
	milterNetwork string
	milterAddress string
	milterReject  bool
)

var milterCmd = &cobra.Command{
	Use:   "milter",
	Short: "Start milter server for Postfix/Sendmail integration",
	Long: `Start the spamlens milter server to classify mail inside the MTA flow.

Each message's subject and body are classified with the trained model and
tagged with X-Spamlens-Status, X-Spamlens-Confidence and X-Spamlens-Info
headers. With --reject, spam above the configured confidence is refused with
a 550. When no model is loaded mail is accepted and tagged Unavailable.

Send SIGHUP after retraining to load the new model.

Example usage:
  spamlens milter
  spamlens milter --network unix --address /run/spamlens/milter.sock

For Postfix integration, add to main.cf:
  smtpd_milters = inet:127.0.0.1:7357
  non_smtpd_milters = inet:127.0.0.1:7357
  milter_default_action = accept`,
	RunE: runMilter,
}

func runMilter(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cmd.Flags().Changed("network") {
		cfg.Milter.Network = milterNetwork
	}
	if cmd.Flags().Changed("address") {
		cfg.Milter.Address = milterAddress
	}
	if cmd.Flags().Changed("reject") {
		cfg.Milter.RejectSpam = milterReject
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}
	defer st.Close()

	svc, err := loadService(ctx, cfg, st, logger)
	if err != nil {
		return err
	}

	if cfg.Milter.Network == "unix" {
		// stale socket from a previous run
		_ = os.Remove(cfg.Milter.Address)
	}
	listener, err := net.Listen(cfg.Milter.Network, cfg.Milter.Address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	defer listener.Close()

	srv := milter.NewServer(cfg.Milter, svc, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	defer signal.Stop(hup)

	serverErr := make(chan error, 1)
	go func() {
		fmt.Printf("📬 spamlens milter starting on %s://%s\n", cfg.Milter.Network, cfg.Milter.Address)
		if health := svc.Health(); health.ModelLoaded {
			fmt.Printf("🧠 Model: run %s (%s profile)\n", health.RunID, health.Profile)
		} else {
			fmt.Printf("⚠️  No trained model: mail is accepted and tagged Unavailable\n")
		}
		if cfg.Milter.RejectSpam {
			fmt.Printf("🎯 Rejecting spam at >= %.0f%% confidence\n", cfg.Milter.RejectConfidence)
		} else {
			fmt.Printf("🏷️  Tag-only mode: spam is marked, never rejected\n")
		}
		fmt.Printf("🚀 Press Ctrl+C to stop\n\n")

		serverErr <- srv.Serve(ctx, listener)
	}()

	for {
		select {
		case <-hup:
			art, err := svc.Reload(ctx, st)
			if err != nil {
				logger.Error("reload failed, keeping the current model", zap.Error(err))
				continue
			}
			logger.Info("model reloaded", zap.String("run_id", art.RunID))

		case <-sigChan:
			fmt.Printf("\n🛑 Shutdown signal received, stopping milter server...\n")

			shutdownCtx, shutdownCancel := context.WithTimeout(
				context.Background(),
				time.Duration(cfg.Milter.GracefulShutdownTimeout)*time.Millisecond,
			)
			defer shutdownCancel()

			cancel()

			select {
			case err := <-serverErr:
				if err != nil && !errors.Is(err, context.Canceled) {
					fmt.Printf("⚠️  Server shutdown with error: %v\n", err)
				} else {
					fmt.Printf("✅ Milter server stopped gracefully (%d sessions served)\n", srv.MilterCount())
				}
			case <-shutdownCtx.Done():
				fmt.Printf("⏰ Shutdown timeout exceeded, forcing stop\n")
			}
			return nil

		case err := <-serverErr:
			if err != nil {
				return fmt.Errorf("milter server error: %w", err)
			}
			return nil
		}
	}
}

func init() {
	milterCmd.Flags().StringVarP(&milterNetwork, "network", "n", "", "Network type (tcp or unix)")
	milterCmd.Flags().StringVarP(&milterAddress, "address", "a", "", "Bind address (e.g., 127.0.0.1:7357 or /run/spamlens/milter.sock)")
	milterCmd.Flags().BoolVar(&milterReject, "reject", false, "Reject confident spam instead of only tagging it")

	rootCmd.AddCommand(milterCmd)
}
