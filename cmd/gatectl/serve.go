package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/spf13/cobra"

	"stronghold/internal/config"
	"stronghold/internal/gate"
	"stronghold/internal/gateserver"
	"stronghold/internal/manifest"
)

func newServeCmd() *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a demo Nooterra Pay Gate provider",
		Long: `Run a demo provider: loads a Paid Tool Manifest (or the
built-in demo catalog), fronts every tool with the gate's paid-request
handler, and echoes back a canned JSON body for any request that clears
the gate. Configuration is read from the environment — see internal/config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(manifestPath)
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "path to a Paid Tool Manifest YAML file (defaults to a small built-in demo catalog)")

	return cmd
}

func runServe(manifestPath string) error {
	cfg := config.Load()
	setupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	raw := []byte(defaultManifestYAML)
	if manifestPath != "" {
		contents, err := readFile(manifestPath)
		if err != nil {
			return err
		}
		raw = []byte(contents)
	}

	m, err := manifest.Load(raw)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	m, err = manifest.Normalize(m)
	if err != nil {
		return fmt.Errorf("normalize manifest: %w", err)
	}
	if m.ProviderID != cfg.Provider.ProviderID && cfg.Provider.ProviderID != "" {
		slog.Warn("manifest providerId differs from configured PROVIDER_ID, using configured value",
			"manifestProviderId", m.ProviderID, "providerId", cfg.Provider.ProviderID)
	}

	srv, err := gateserver.New(cfg, m, demoExecute)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := srv.Start(ctx); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server exited")
	return nil
}

// demoExecute is the gate's Execute callback for the demo provider: it
// never touches a real backend, it just echoes the tool that was called.
func demoExecute(in gate.ExecuteInput) (gate.ExecuteResult, error) {
	body := fmt.Sprintf(`{"tool":%q,"status":"ok"}`, in.Offer.ToolID)
	return gate.ExecuteResult{
		StatusCode:  fiber.StatusOK,
		ContentType: "application/json",
		Body:        []byte(body),
	}, nil
}

func setupLogging(cfg *config.Config) {
	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(handler))
}
