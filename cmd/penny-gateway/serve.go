// ABOUTME: serve subcommand: wires store, tool pack, LLM client, kernel and HTTP server
// ABOUTME: Runs until SIGINT/SIGTERM, then shuts the server down gracefully

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/2389/penny-gateway/internal/auth"
	"github.com/2389/penny-gateway/internal/builtins"
	"github.com/2389/penny-gateway/internal/config"
	"github.com/2389/penny-gateway/internal/gateway"
	"github.com/2389/penny-gateway/internal/kernel"
	"github.com/2389/penny-gateway/internal/llm"
	"github.com/2389/penny-gateway/internal/store"
	"github.com/2389/penny-gateway/internal/tools"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Model:    %s\n", cfg.Model.Name)
	fmt.Println()

	logger.Info("starting penny-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"model", cfg.Model.Name,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	registry := tools.NewRegistry(logger)
	registry.SetDefaultTimeout(cfg.Kernel.ToolTimeout)
	if err := registry.RegisterAll(builtins.FinancePack(st)); err != nil {
		return fmt.Errorf("registering tool pack: %w", err)
	}

	completer := llm.New(cfg.Model, llm.NewStoreRecorder(st))
	k := kernel.New(st, registry, completer, cfg.Kernel)

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	srv := gateway.New(k, st, verifier, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
