// ABOUTME: init subcommand: writes a starter gateway.yaml with a fresh JWT secret
// ABOUTME: Refuses to overwrite an existing config unless --force is given

package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit()
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

// getDataPath returns the penny data directory.
// Priority: XDG_DATA_HOME/penny > ~/.local/share/penny
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "penny")
}

func runInit() error {
	configPath := getConfigPath()
	dbPath := filepath.Join(getDataPath(), "gateway.db")

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}

	if err := writeStarterConfig(configPath, dbPath); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("Config written to %s\n", configPath)
	fmt.Printf("Database path: %s\n", dbPath)
	fmt.Println("\nSet PENNY_MODEL_API_KEY, then start the server:")
	fmt.Println("  penny-gateway serve")
	return nil
}

// writeStarterConfig renders a starter configuration with a fresh random JWT
// secret and writes it to configPath, creating the config and data
// directories as needed.
func writeStarterConfig(configPath, dbPath string) error {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	content := fmt.Sprintf(`# penny-gateway configuration
# Generated by penny-gateway init

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

model:
  base_url: "https://api.openai.com/v1"
  api_key: "${PENNY_MODEL_API_KEY}"
  name: "gpt-4o-mini"
  context_tokens: 128000
  input_price_per_m: 0.15
  output_price_per_m: 0.60
  request_timeout: "2m"

kernel:
  history_char_budget: 12000
  checkpoint_interval: 200
  max_tool_rounds: 8
  tool_timeout: "30s"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
