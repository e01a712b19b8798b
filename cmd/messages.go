package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mailclaw/internal/config"
	"github.com/nextlevelbuilder/mailclaw/internal/gmail"
)

func messagesCmd() *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List recent unread messages with their eligibility verdicts",
		Run: func(cmd *cobra.Command, args []string) {
			runMessages(limit)
		},
	}
	cmd.Flags().Int64VarP(&limit, "limit", "n", 5, "max messages to list")
	return cmd
}

func runMessages(limit int64) {
	cfg, mailbox := mustGmail()
	filter := newFilter(cfg.FilterSettings())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	ids, err := mailbox.ListUnread(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list unread messages: %s\n", err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		fmt.Println("No unread messages.")
		return
	}

	for _, id := range ids {
		sender, _ := mailbox.Sender(ctx, id)
		recipient, _ := mailbox.Recipient(ctx, id)
		subject, _ := mailbox.Subject(ctx, id)
		receivedAt, _ := mailbox.ReceivedAt(ctx, id)

		verdict := "eligible"
		if ok, reason := filter.Eligible(sender, recipient, subject); !ok {
			verdict = reason
		} else if body, err := mailbox.Body(ctx, id); err != nil {
			verdict = "body unavailable"
		} else if ok, reason := filter.BodyEligible(body); !ok {
			verdict = reason
		}

		fmt.Printf("%s  %s\n", id, receivedAt.Format("2006-01-02 15:04"))
		fmt.Printf("  From:    %s\n", sender)
		fmt.Printf("  To:      %s\n", recipient)
		fmt.Printf("  Subject: %s\n", subject)
		fmt.Printf("  Verdict: %s\n", verdict)
		fmt.Println()
	}
}

func testCmd() *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Send a self-addressed test email that should trigger a dispatch",
		Run: func(cmd *cobra.Command, args []string) {
			runTest(body)
		},
	}
	cmd.Flags().StringVar(&body, "body", "This is a test task from mailclaw. Reply with a short summary of the current directory.", "test email body")
	return cmd
}

func runTest(body string) {
	cfg, mailbox := mustGmail()
	fc := cfg.FilterSettings()
	if fc.TargetAddress == "" {
		fmt.Fprintln(os.Stderr, "target address not configured")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	id, err := mailbox.Send(ctx, fc.TargetAddress, fc.RequiredSubject, body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to send test email: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("Test email sent to %s (message %s). Watch the serve logs for the dispatch.\n", fc.TargetAddress, id)
}

// mustGmail loads config and builds a Gmail client, exiting on failure.
func mustGmail() (*config.Config, *gmail.Client) {
	setupLogging()
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		os.Exit(1)
	}
	mailbox, err := gmail.NewClient(context.Background(), cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create gmail client: %s\n", err)
		os.Exit(1)
	}
	return cfg, mailbox
}
