// ABOUTME: token subcommand: mints a bearer token for a user
// ABOUTME: Signs with the JWT secret from the gateway config

package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/penny-gateway/internal/auth"
	"github.com/2389/penny-gateway/internal/config"
)

var (
	tokenUser string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runToken()
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user ID to mint the token for (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.MarkFlagRequired("user")
}

func runToken() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(tokenUser, tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Token for %s (valid %s):\n", tokenUser, tokenTTL)
	fmt.Println(token)
	return nil
}
