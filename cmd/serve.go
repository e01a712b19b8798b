package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mailclaw/internal/claude"
	"github.com/nextlevelbuilder/mailclaw/internal/config"
	"github.com/nextlevelbuilder/mailclaw/internal/dispatch"
	"github.com/nextlevelbuilder/mailclaw/internal/gmail"
	notify "github.com/nextlevelbuilder/mailclaw/internal/pubsub"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the notification dispatcher",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("config error", "error", e)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mailbox, err := gmail.NewClient(ctx, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile)
	if err != nil {
		slog.Error("failed to create gmail client", "error", err)
		os.Exit(1)
	}

	runner := claude.NewRunner(claude.Options{
		Bin:          cfg.Claude.Bin,
		WorkingDir:   cfg.Claude.WorkingDir,
		Timeout:      time.Duration(cfg.Claude.TimeoutSec) * time.Second,
		AllowedTools: cfg.Claude.AllowedTools,
	})

	fc := cfg.FilterSettings()
	dispatcher := dispatch.New(mailbox, runner, newFilter(fc), dispatch.Options{
		Workers: cfg.Dispatch.Workers,
		Retry: dispatch.RetryPolicy{
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay(),
			Transient:   mailbox.IsTransient,
		},
		UnreadFallbackLimit: cfg.Dispatch.UnreadFallbackLimit,
	})

	// Live-reload the filter on config file changes; everything else
	// needs a restart.
	watcher, err := config.NewWatcher(cfgPath, func(next *config.Config) {
		cfg.ReplaceFrom(next)
		dispatcher.UpdateFilter(newFilter(cfg.FilterSettings()))
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
	} else if err := watcher.Start(ctx); err != nil {
		slog.Warn("config watcher failed to start", "error", err)
	} else {
		defer watcher.Stop()
	}

	go watchRenewLoop(ctx, mailbox, cfg)

	slog.Info("mailclaw starting",
		"version", Version,
		"mode", cfg.Mode,
		"target", fc.TargetAddress,
		"workers", cfg.Dispatch.Workers)

	switch cfg.Mode {
	case config.ModeWebhook:
		addr := fmt.Sprintf("%s:%d", cfg.Webhook.Host, cfg.Webhook.Port)
		err = notify.NewWebhookServer(addr, dispatcher, cfg.AckTimeout()).Run(ctx)
	default:
		var client *gcpubsub.Client
		client, err = gcpubsub.NewClient(ctx, cfg.Google.ProjectID)
		if err != nil {
			slog.Error("failed to create pubsub client", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		err = notify.NewReceiver(client, cfg.Google.Subscription, dispatcher, cfg.AckTimeout()).Run(ctx)
	}
	if err != nil {
		slog.Error("dispatcher stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func newFilter(fc config.FilterConfig) dispatch.Filter {
	return dispatch.NewFilter(fc.TargetAddress, fc.RequiredSubject, fc.MinBodyChars)
}

// watchRenewLoop registers the Gmail watch at startup and re-registers
// it on the configured cron cadence. Gmail expires watches after about
// seven days; renewal is cheap and idempotent.
func watchRenewLoop(ctx context.Context, client *gmail.Client, cfg *config.Config) {
	renew := func() {
		historyID, expiration, err := client.Watch(ctx, cfg.TopicName())
		if err != nil {
			slog.Error("gmail watch registration failed", "error", err)
			return
		}
		slog.Info("gmail watch registered", "history_id", historyID, "expires", expiration)
	}
	renew()

	expr := cfg.Watch.RenewCron
	if expr == "" {
		expr = "0 */12 * * *"
	}
	for {
		next, err := gronx.NextTick(expr, false)
		if err != nil {
			slog.Error("invalid watch renew cron, renewal disabled", "cron", expr, "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			renew()
		}
	}
}
