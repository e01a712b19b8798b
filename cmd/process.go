package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mailclaw/internal/claude"
	"github.com/nextlevelbuilder/mailclaw/internal/dispatch"
)

func processCmd() *cobra.Command {
	var skipEpoch bool
	cmd := &cobra.Command{
		Use:   "process <message-id>",
		Short: "Run one message through the dispatch pipeline manually",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runProcess(args[0], skipEpoch)
		},
	}
	cmd.Flags().BoolVar(&skipEpoch, "old", false, "process even if the message predates this invocation")
	return cmd
}

func runProcess(id string, skipEpoch bool) {
	cfg, mailbox := mustGmail()

	runner := claude.NewRunner(claude.Options{
		Bin:          cfg.Claude.Bin,
		WorkingDir:   cfg.Claude.WorkingDir,
		Timeout:      time.Duration(cfg.Claude.TimeoutSec) * time.Second,
		AllowedTools: cfg.Claude.AllowedTools,
	})

	opts := dispatch.Options{
		Workers: 1,
		Retry: dispatch.RetryPolicy{
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay(),
			Transient:   mailbox.IsTransient,
		},
	}
	if skipEpoch {
		// An epoch in the deep past disables the staleness gate.
		opts.Epoch = time.Unix(0, 0)
	}
	dispatcher := dispatch.New(mailbox, runner, newFilter(cfg.FilterSettings()), opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AckTimeout())
	defer cancel()

	out, err := dispatcher.ProcessMessage(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "process failed: %s\n", err)
		os.Exit(1)
	}
	switch out.Kind {
	case dispatch.OutcomeSkipped:
		fmt.Printf("Skipped: %s\n", out.Reason)
	case dispatch.OutcomeAgentSucceeded:
		fmt.Println("Completed:")
		fmt.Println(out.Response)
	case dispatch.OutcomeAgentFailed:
		fmt.Fprintf(os.Stderr, "Agent failed: %s\n", out.Err)
		os.Exit(1)
	}
}
