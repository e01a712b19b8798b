package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mailclaw/internal/claude"
	"github.com/nextlevelbuilder/mailclaw/internal/config"
	"github.com/nextlevelbuilder/mailclaw/internal/gmail"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	healthy := true
	fail := func(format string, args ...any) {
		healthy = false
		fmt.Printf(format, args...)
	}
	checkFile := func(path string) {
		status, ok := fileStatus(path)
		if !ok {
			fail(" %s\n", status)
			return
		}
		fmt.Printf(" %s\n", status)
	}

	fmt.Println("mailclaw doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		os.Exit(1)
	}
	for _, e := range cfg.Validate() {
		fail("  Config:   FAIL %s\n", e)
	}

	fmt.Println()
	fmt.Println("  Gmail:")
	fmt.Printf("    %-14s %s", "Credentials:", cfg.Gmail.CredentialsFile)
	checkFile(cfg.Gmail.CredentialsFile)
	fmt.Printf("    %-14s %s", "Token:", cfg.Gmail.TokenFile)
	checkFile(cfg.Gmail.TokenFile)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if mailbox, err := gmail.NewClient(ctx, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile); err != nil {
		fail("    %-14s FAILED (%s)\n", "Client:", err)
	} else if addr, err := mailbox.Address(ctx); err != nil {
		fail("    %-14s FAILED (%s)\n", "Profile:", err)
	} else {
		fmt.Printf("    %-14s %s (OK)\n", "Account:", addr)
		if addr != "" && cfg.Filter.TargetAddress != "" && addr != cfg.Filter.TargetAddress {
			fmt.Printf("    %-14s WARN target %s does not match account\n", "Target:", cfg.Filter.TargetAddress)
		}
	}

	fmt.Println()
	fmt.Println("  Claude:")
	runner := claude.NewRunner(claude.Options{Bin: cfg.Claude.Bin, WorkingDir: cfg.Claude.WorkingDir})
	fmt.Printf("    %-14s %s", "Binary:", cfg.Claude.Bin)
	if err := runner.Ping(ctx); err != nil {
		fail(" (FAILED: %s)\n", err)
	} else {
		fmt.Println(" (OK)")
	}
	if cfg.Claude.WorkingDir != "" {
		fmt.Printf("    %-14s %s", "Working dir:", cfg.Claude.WorkingDir)
		checkFile(cfg.Claude.WorkingDir)
	}

	fmt.Println()
	fmt.Println("  Pub/Sub:")
	fmt.Printf("    %-14s %s\n", "Project:", orUnset(cfg.Google.ProjectID))
	fmt.Printf("    %-14s %s\n", "Topic:", cfg.Google.Topic)
	fmt.Printf("    %-14s %s\n", "Subscription:", cfg.Google.Subscription)
	fmt.Printf("    %-14s %s\n", "Mode:", cfg.Mode)

	fmt.Println()
	if !healthy {
		fmt.Println("  Result:   UNHEALTHY")
		os.Exit(1)
	}
	fmt.Println("  Result:   healthy")
}

// fileStatus reports a printable status for a path that must exist for
// the system to run.
func fileStatus(path string) (string, bool) {
	if _, err := os.Stat(path); err != nil {
		return "(NOT FOUND)", false
	}
	return "(OK)", true
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
