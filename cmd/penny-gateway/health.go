// ABOUTME: health subcommand: checks the running gateway's health endpoint
// ABOUTME: Reads the HTTP address from the gateway config

package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/2389/penny-gateway/internal/config"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check gateway health",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(getConfigPath())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		url := fmt.Sprintf("http://%s/api/healthz", cfg.Server.HTTPAddr)
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
		}

		fmt.Println("healthy")
		return nil
	},
}
