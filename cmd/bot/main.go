package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"moviebot/internal/bot"
	"moviebot/internal/config"
	"moviebot/internal/logger"
	"moviebot/internal/token"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "moviebot",
		Short:         "Telegram movie search bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	cmd.AddCommand(newServeCmd(), newPollCmd(), newSetWebhookCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the Telegram webhook over HTTP",
		RunE:  runServe,
	}
}

func newPollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Drop the webhook and receive updates by long polling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, cfg := bootstrap()
			defer logger.Sync()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				log.Error("failed to start", zap.Error(err))
				return err
			}
			if err := a.tg.DeleteWebhook(); err != nil {
				log.Warn("failed to delete webhook", zap.Error(err))
			}

			go token.RunSweeper(ctx, a.tokens, cfg.TokenSweepInterval, log)
			bot.Poll(ctx, a.tg.API(), a.dispatcher, log)

			return a.close(log)
		},
	}
}

func newSetWebhookCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "set-webhook",
		Short: "Register the public webhook URL with Telegram",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, cfg := bootstrap()
			defer logger.Sync()

			if url == "" {
				url = cfg.WebhookURL
			}
			if url == "" {
				return errors.New("webhook url is empty: pass --url or set WEBHOOK_URL")
			}
			if !strings.HasSuffix(url, cfg.WebhookPath) {
				url = strings.TrimRight(url, "/") + cfg.WebhookPath
			}

			tg, err := newTelegram(cfg, log)
			if err != nil {
				return err
			}
			if err := tg.SetWebhook(url); err != nil {
				log.Error("failed to set webhook", zap.Error(err))
				return err
			}
			log.Info("webhook registered", zap.String("url", url))
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "public base URL of the bot (defaults to WEBHOOK_URL)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	log, cfg := bootstrap()
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start", zap.Error(err))
		return err
	}

	go token.RunSweeper(ctx, a.tokens, cfg.TokenSweepInterval, log)

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	case err := <-errCh:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
			_ = a.close(log)
			return err
		}
	}
	return a.close(log)
}

// bootstrap читает .env, поднимает логгер и конфиг.
func bootstrap() (*zap.Logger, *config.Config) {
	_ = godotenv.Load()
	if err := logger.Init(config.Logging()); err != nil {
		panic(err)
	}

	log := logger.L()
	_ = tgbotapi.SetLogger(logger.BotLogger{L: log.Named("tgbotapi")})
	return log, config.Load(log)
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), shutdownTimeout)
}
