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

	"github.com/zpam/mailclass/pkg/milter"
)

var (
	milterNetwork string
	milterAddress string
	milterModel   string
	milterDebug   bool
)

var milterCmd = &cobra.Command{
	Use:   "milter",
	Short: "Start milter server for Postfix/Sendmail integration",
	Long: `Start the mailclass milter server to classify mail as the MTA receives it.

The server loads a trained model once and classifies every message with it.
Messages are tagged with X-Mailclass-* headers and rejected when the spam
probability reaches the reject threshold.

Example usage:
  mailclass milter --config /etc/mailclass/config.yaml
  mailclass milter --network tcp --address 127.0.0.1:7357 --model model.bin

For Postfix integration, add to main.cf:
  smtpd_milters = inet:127.0.0.1:7357
  non_smtpd_milters = inet:127.0.0.1:7357
  milter_default_action = accept`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if milterDebug {
			logLevel = "debug"
		}
		cfg, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		if cmd.Flags().Changed("network") {
			cfg.Milter.Network = milterNetwork
		}
		if cmd.Flags().Changed("address") {
			cfg.Milter.Address = milterAddress
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		engine, release, err := loadEngine(cfg, modelRef(cfg, milterModel))
		if err != nil {
			return err
		}
		defer release()

		listener, err := net.Listen(cfg.Milter.Network, cfg.Milter.Address)
		if err != nil {
			return fmt.Errorf("failed to create listener: %w", err)
		}
		defer listener.Close()

		server, err := milter.NewServer(&cfg.Milter, engine)
		if err != nil {
			return fmt.Errorf("failed to create milter server: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		serverErr := make(chan error, 1)
		go func() {
			fmt.Printf("📬 mailclass milter starting on %s://%s\n", cfg.Milter.Network, cfg.Milter.Address)
			fmt.Printf("🧠 Model: %s (%v)\n", engine.Model().ID(), engine.Model().CategoryList())
			fmt.Printf("🎯 Thresholds: tag >= %.2f, reject >= %.2f\n",
				cfg.Milter.TagThreshold, cfg.Milter.RejectThreshold)
			fmt.Printf("🚀 Press Ctrl+C to stop\n\n")

			serverErr <- server.Serve(ctx, listener)
		}()

		select {
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
					fmt.Printf("✅ Milter server stopped gracefully (%d sessions)\n", server.Stats().MilterCount)
				}
			case <-shutdownCtx.Done():
				fmt.Printf("⏰ Shutdown timeout exceeded, forcing stop\n")
				server.Close()
			}

		case err := <-serverErr:
			if err != nil {
				return err
			}
		}

		return nil
	},
}

func init() {
	milterCmd.Flags().StringVarP(&milterNetwork, "network", "n", "", "Network type (tcp or unix)")
	milterCmd.Flags().StringVarP(&milterAddress, "address", "a", "", "Bind address (e.g., 127.0.0.1:7357 or /tmp/mailclass.sock)")
	milterCmd.Flags().StringVarP(&milterModel, "model", "m", "", "Model path (file store) or ref (redis store)")
	milterCmd.Flags().BoolVarP(&milterDebug, "debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(milterCmd)
}
