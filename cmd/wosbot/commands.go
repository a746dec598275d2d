package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/whiteout-project/wosbot/internal/adapters/discord"
	"github.com/whiteout-project/wosbot/internal/api"
	"github.com/whiteout-project/wosbot/internal/banner"
	"github.com/whiteout-project/wosbot/internal/clock"
	"github.com/whiteout-project/wosbot/internal/config"
	"github.com/whiteout-project/wosbot/internal/gateway"
	"github.com/whiteout-project/wosbot/internal/handlers"
	"github.com/whiteout-project/wosbot/internal/health"
	"github.com/whiteout-project/wosbot/internal/logging"
	"github.com/whiteout-project/wosbot/internal/process"
	"github.com/whiteout-project/wosbot/internal/refresh"
	"github.com/whiteout-project/wosbot/internal/scheduler"
	"github.com/whiteout-project/wosbot/internal/store"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the wosbot daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := logging.Init(cfg.Logging); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}

			report := health.RunChecks(cfg)
			banner.Startup(version, fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port), report)
			if report.HasErrors() {
				return fmt.Errorf("startup checks failed, fix the items above")
			}

			return runDaemon(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	return cmd
}

// runDaemon wires the components and blocks until SIGINT/SIGTERM.
func runDaemon(cfg *config.Config) error {
	log := logging.WithComponent("main")

	st, err := store.NewStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	registry := process.NewRegistry(st)
	clk := clock.New()

	// Keep the system log bounded; it only needs to cover recent history for
	// the live stream and post-mortems.
	if pruned, err := st.PruneSystemLogs(clk.Now().AddDate(0, 0, -14)); err != nil {
		log.Warn("system log prune failed", slog.Any("error", err))
	} else if pruned > 0 {
		log.Info("pruned old system logs", slog.Int64("count", pruned))
	}

	// Crash recovery: anything left active from the previous run goes back
	// to the queue before admission starts.
	recovered, err := registry.RecoverInterrupted()
	if err != nil {
		return fmt.Errorf("recovery sweep: %w", err)
	}
	if recovered > 0 {
		log.Info("recovered interrupted processes", slog.Int64("count", recovered))
	}
	if backlog, err := st.GetProcessesByStatus(store.StatusQueued); err == nil && len(backlog) > 0 {
		log.Info("queued backlog at startup", slog.Int("count", len(backlog)))
	}

	executor := scheduler.NewExecutor(registry, clk)
	queue := scheduler.NewQueue(&scheduler.QueueConfig{
		WakeInterval: time.Duration(cfg.Scheduler.WakeIntervalMs) * time.Millisecond,
	}, registry, st, executor, clk)
	metrics := queue.Metrics()

	budget := api.NewBudget(time.Duration(cfg.Refresh.PerCallDelayMs) * time.Millisecond)
	remote := api.NewClient(cfg.GameAPI.BaseURL, cfg.GameAPI.Secret, budget)
	remote.SetRequestCounter(func(rateLimited bool) {
		metrics.APIRequest()
		if rateLimited {
			metrics.APIRateLimited()
		}
	})

	sink := discord.NewSink(discord.NewClient(cfg.Discord.BotToken))

	engineCfg := refresh.DefaultConfig()
	engineCfg.RateLimitDelay = time.Duration(cfg.Refresh.RateLimitDelayMs) * time.Millisecond
	engineCfg.ExistThreshold = cfg.Refresh.ExistThreshold
	engineCfg.Limits = refresh.RenderLimits{
		MaxEmbeds:      cfg.Refresh.MaxEmbedsPerMessage,
		MaxDescription: cfg.Refresh.MaxDescriptionLength,
	}
	engine := refresh.NewEngine(engineCfg, registry, st, queue, remote, sink, clk, metrics)

	handlerCfg := handlers.DefaultConfig()
	handlerCfg.RateLimitDelay = engineCfg.RateLimitDelay

	executor.Register(store.ActionAddPlayer, handlers.NewAddPlayer(handlerCfg, registry, st, remote, clk))
	executor.Register(store.ActionRedeemCode, handlers.NewRedeemGiftCode(handlerCfg, registry, st, remote, clk))
	executor.Register(store.ActionRefresh, engine)
	executor.Register(store.ActionAutoRefresh, engine)

	queue.OnCompletion(engine.OnProcessTerminal)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	defer queue.Stop()

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start refresh engine: %w", err)
	}
	defer engine.Stop()

	server := gateway.NewServer(&gateway.Config{
		Host: cfg.Gateway.Host,
		Port: cfg.Gateway.Port,
	}, st, queue, engine)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	log.Info("wosbot started",
		slog.String("version", version),
		slog.String("gateway", fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", slog.String("signal", sig.String()))
		cancel()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			url := fmt.Sprintf("http://%s:%d/api/v1/status", cfg.Gateway.Host, cfg.Gateway.Port)
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(url)
			if err != nil {
				fmt.Println("Status: not running")
				return nil
			}
			defer func() { _ = resp.Body.Close() }()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}

			var status struct {
				ActiveProcessID int64             `json:"active_process_id"`
				Queued          int               `json:"queued"`
				Completed       int               `json:"completed"`
				Failed          int               `json:"failed"`
				ScheduledFires  map[string]string `json:"scheduled_fires"`
			}
			if err := json.Unmarshal(body, &status); err != nil {
				return fmt.Errorf("parse status response: %w", err)
			}

			fmt.Println("wosbot Status")
			fmt.Println("─────────────")
			if status.ActiveProcessID != 0 {
				fmt.Printf("Active process: %d\n", status.ActiveProcessID)
			} else {
				fmt.Println("Active process: none")
			}
			fmt.Printf("Queued:    %d\n", status.Queued)
			fmt.Printf("Completed: %d\n", status.Completed)
			fmt.Printf("Failed:    %d\n", status.Failed)
			if len(status.ScheduledFires) > 0 {
				fmt.Println("Scheduled refreshes:")
				for alliance, at := range status.ScheduledFires {
					fmt.Printf("  alliance %s → %s\n", alliance, at)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	return cmd
}

func newRedeemCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "redeem <code>",
		Short: "Queue gift-code redemption for all auto-redeem alliances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			st, err := store.NewStore(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			ids, err := handlers.EnqueueRedeemAll(process.NewRegistry(st), st, args[0], "cli")
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println("Nothing to redeem: no auto-redeem alliance has unredeemed players.")
				return nil
			}
			fmt.Printf("Queued %d redeem process(es): %v\n", len(ids), ids)
			fmt.Println("The running daemon will pick them up within its wake interval.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	return cmd
}

func newInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config already exists at %s", configPath)
			}
			if err := config.Save(config.DefaultConfig(), configPath); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	return cmd
}
