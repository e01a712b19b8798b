package cmd

import (
	"context"
	"fmt"
	"os"

	gcpubsub "cloud.google.com/go/pubsub"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mailclaw/internal/config"
	"github.com/nextlevelbuilder/mailclaw/internal/gmail"
	notify "github.com/nextlevelbuilder/mailclaw/internal/pubsub"
)

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create Pub/Sub resources and register the Gmail watch",
		Run: func(cmd *cobra.Command, args []string) {
			runSetup()
		},
	}
}

func runSetup() {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		os.Exit(1)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "config error: %s\n", e)
		}
		os.Exit(1)
	}

	ctx := context.Background()

	client, err := gcpubsub.NewClient(ctx, cfg.Google.ProjectID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pubsub client: %s\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := notify.EnsureResources(ctx, client, cfg.Google.Topic, cfg.Google.Subscription); err != nil {
		fmt.Fprintf(os.Stderr, "pubsub setup failed: %s\n", err)
		os.Exit(1)
	}

	mailbox, err := gmail.NewClient(ctx, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create gmail client: %s\n", err)
		os.Exit(1)
	}
	historyID, expiration, err := mailbox.Watch(ctx, cfg.TopicName())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to register gmail watch: %s\n", err)
		os.Exit(1)
	}

	fmt.Println("Setup complete.")
	fmt.Printf("  Topic:        %s\n", cfg.TopicName())
	fmt.Printf("  Subscription: %s\n", cfg.Google.Subscription)
	fmt.Printf("  Watch:        history %d, expires %s\n", historyID, expiration.Format("2006-01-02 15:04 MST"))
}
