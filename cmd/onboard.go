package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mailclaw/internal/config"
	"github.com/nextlevelbuilder/mailclaw/internal/gmail"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup: config, OAuth consent, Pub/Sub resources",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

// canAutoOnboard reports whether enough env vars are set for a
// non-interactive setup (e.g. Docker).
func canAutoOnboard() bool {
	return os.Getenv("MAILCLAW_PROJECT_ID") != "" && os.Getenv("MAILCLAW_TARGET_ADDRESS") != ""
}

func runOnboard() {
	setupLogging()
	cfgPath := resolveConfigPath()

	cfg := config.Default()
	if canAutoOnboard() {
		fmt.Println("Auto-onboard: environment variables detected, running non-interactive setup...")
		cfg.ApplyEnvOverrides()
	} else if err := onboardForm(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "onboard aborted: %s\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write config: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config written to %s\n", cfgPath)

	if err := authorizeGmail(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "gmail authorization failed: %s\n", err)
		fmt.Fprintln(os.Stderr, "Fix the credentials file and re-run: mailclaw onboard")
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  mailclaw setup    # create Pub/Sub topic + subscription, register the watch")
	fmt.Println("  mailclaw doctor   # verify everything is healthy")
	fmt.Println("  mailclaw serve    # start dispatching")
}

func onboardForm(cfg *config.Config) error {
	mode := cfg.Mode
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Google Cloud project id").
				Description("The project that owns the Pub/Sub topic Gmail publishes to.").
				Value(&cfg.Google.ProjectID).
				Validate(required("project id")),
			huh.NewInput().
				Title("Target Gmail address").
				Description("Only self-addressed mail (you to yourself) is dispatched.").
				Value(&cfg.Filter.TargetAddress).
				Validate(required("target address")),
			huh.NewInput().
				Title("OAuth credentials file").
				Value(&cfg.Gmail.CredentialsFile),
			huh.NewInput().
				Title("Claude working directory").
				Description("Where Claude Code sessions run. Empty means the current directory.").
				Value(&cfg.Claude.WorkingDir),
			huh.NewSelect[string]().
				Title("Notification delivery").
				Options(
					huh.NewOption("Pub/Sub pull subscription (recommended)", config.ModePubSub),
					huh.NewOption("HTTP push webhook", config.ModeWebhook),
				).
				Value(&mode),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	cfg.Mode = mode
	return nil
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

// authorizeGmail walks the installed-app OAuth consent flow and saves the
// token. Skipped when a token already exists.
func authorizeGmail(cfg *config.Config) error {
	if _, err := os.Stat(cfg.Gmail.TokenFile); err == nil {
		fmt.Printf("Gmail token already present at %s, skipping consent flow\n", cfg.Gmail.TokenFile)
		return nil
	}

	url, err := gmail.AuthURL(cfg.Gmail.CredentialsFile)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Authorize Gmail access:")
	fmt.Printf("  1. Open: %s\n", url)
	fmt.Println("  2. Approve read and send access for the target account")
	fmt.Println("  3. Paste the authorization code below")

	var code string
	codeForm := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Authorization code").Value(&code).Validate(required("code")),
	))
	if err := codeForm.Run(); err != nil {
		return err
	}

	if err := gmail.Authorize(context.Background(), cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile, strings.TrimSpace(code)); err != nil {
		return err
	}
	fmt.Printf("Token saved to %s\n", cfg.Gmail.TokenFile)
	return nil
}
