/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/trendly/apiserver/config"
	"github.com/trendly/apiserver/internal/logging"
	"github.com/trendly/apiserver/internal/mq"
	"github.com/trendly/apiserver/internal/notify"
	"go.uber.org/zap"
)

var mailerBackend string

// mailerCmd relays queued verification emails to the SMTP server.
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Relays queued emails to SMTP",
	Long: `Consumes email jobs published by the API when NOTIFY_BACKEND is
rabbitmq or pubsub, and delivers them through the configured SMTP server.

	trendly mailer
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.New(cfg.Log).Named("mailer")
		defer func() { _ = logger.Sync() }()

		backend := mailerBackend
		if backend == "" {
			backend = cfg.Notify.Backend
		}
		if backend != "rabbitmq" && backend != "pubsub" {
			return fmt.Errorf("mailer needs a queue backend, got %q", backend)
		}

		smtp, err := notify.NewSMTPDispatcher(cfg.Mail)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, backend, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = queue.Close() }()

		logger.Info("mailer consuming", zap.String("backend", backend), zap.String("channel", cfg.Notify.Channel))
		err = queue.Subscribe(ctx, cfg.Notify.Channel, notify.NewRelayHandler(smtp, logger))
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
	mailerCmd.Flags().StringVar(&mailerBackend, "backend", "", "queue backend (rabbitmq or pubsub), defaults to NOTIFY_BACKEND")
}
