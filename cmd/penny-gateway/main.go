// ABOUTME: Entry point for the penny-gateway assistant server
// ABOUTME: Cobra CLI with serve, token and health subcommands

package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                          __
    ____  ___  ____  ____  __  __        / /___  ___
   / __ \/ _ \/ __ \/ __ \/ / / /  ____ / __/ / / /
  / /_/ /  __/ / / / / / / /_/ /  /___// /_/ /_/ /
 / .___/\___/_/ /_/_/ /_/\__, /        \__/\__, /
/_/                     /____/            /____/
`

var rootCmd = &cobra.Command{
	Use:           "penny-gateway",
	Short:         "Conversation gateway for the Penny finance assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd.AddCommand(serveCmd, initCmd, tokenCmd, healthCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// getConfigPath returns the path to the gateway config file.
// Priority: PENNY_CONFIG env var > XDG_CONFIG_HOME/penny/gateway.yaml > ~/.config/penny/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PENNY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "penny", "gateway.yaml")
}
