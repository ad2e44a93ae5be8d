package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/logger"
	"github.com/parleyhq/parley/pkg/checkpoint"
	"github.com/parleyhq/parley/pkg/commandqueue"
	"github.com/parleyhq/parley/pkg/engine"
	"github.com/parleyhq/parley/pkg/gateway"
	"github.com/parleyhq/parley/pkg/prompts"
	"github.com/parleyhq/parley/pkg/provider"
	"github.com/parleyhq/parley/pkg/retention"
	"github.com/parleyhq/parley/pkg/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Parley server",
	Long: `Run the Parley server in the foreground: opens the checkpoint store,
wires the turn engine and tool registry, and serves the gateway until
interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	store, err := checkpoint.Open(cfg.Store.Path, zl)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer store.Close()

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, tools.BuiltinOptions{
		WorkspaceRoot: cfg.Tools.WorkspaceRoot,
	}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	p, err := buildProvider(cfg.AI.Profiles)
	if err != nil {
		return err
	}

	library, err := prompts.NewLibrary(cfg.Prompts.Dir, zl)
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	if cfg.Prompts.HotReload {
		if err := library.Watch(); err != nil {
			zl.Warn().Err(err).Msg("Prompt hot reload unavailable")
		} else {
			defer func() { _ = library.Stop() }()
		}
	}

	queue := commandqueue.New()
	defer func() { _ = queue.Close() }()

	eng := engine.New(store, queue, registry, p, zl, engine.Options{
		Model: cfg.Engine.Model,
		SystemPromptFunc: func() string {
			return library.Get("system", cfg.Engine.SystemPrompt)
		},
		Temperature:   cfg.Engine.Temperature,
		MaxTokens:     cfg.Engine.MaxTokens,
		MaxRetries:    cfg.Engine.MaxRetries,
		ContextBudget: cfg.Engine.ContextBudget,
		ToolNames:     cfg.Engine.Tools,
		ToolTimeout:   time.Duration(cfg.Engine.ToolTimeout) * time.Second,
	})

	if cfg.Store.Retention.Enabled {
		sweeper := retention.NewSweeper(store, cfg.Store.Retention.Schedule, cfg.Store.Retention.Keep, zl)
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("failed to start retention sweep: %w", err)
		}
		defer sweeper.Stop()
	}

	server, err := gateway.NewServer(gateway.Config{
		Port:         cfg.Gateway.Port,
		SharedSecret: cfg.Gateway.SharedSecret,
		Engine:       eng,
		Registry:     registry,
		Logger:       zl,
	})
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	zl.Info().
		Str("version", version).
		Int("port", cfg.Gateway.Port).
		Str("model", cfg.Engine.Model).
		Str("provider", p.Name()).
		Msg("Parley is up")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	zl.Info().Msg("Shutdown signal received")
	return server.Stop()
}

// buildProvider picks the highest-priority profile with a working adapter.
func buildProvider(profiles []config.AIProfile) (provider.Provider, error) {
	sorted := make([]config.AIProfile, len(profiles))
	copy(sorted, profiles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	var lastErr error
	for _, profile := range sorted {
		p, err := provider.New(provider.Profile{
			Provider: profile.Provider,
			APIKey:   profile.APIKey,
		})
		if err != nil {
			lastErr = err
			continue
		}
		return p, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("no usable AI profile: %w", lastErr)
	}
	return nil, fmt.Errorf("no AI profiles configured")
}
