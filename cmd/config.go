package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mailclaw/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration",
		Run: func(cmd *cobra.Command, args []string) {
			runConfigShow()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path in use",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})
	return cmd
}

func runConfigShow() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		os.Exit(1)
	}

	data, err := json.MarshalIndent(cfg.Snapshot(), "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render config: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("# %s (file + env overrides)\n", cfgPath)
	fmt.Println(string(data))
}
