package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/config"
	"github.com/haasonsaas/chitragupta/internal/kartavya"
	"github.com/haasonsaas/chitragupta/internal/observability"
	"github.com/haasonsaas/chitragupta/internal/samiti"
	"github.com/haasonsaas/chitragupta/internal/storage"
	"github.com/haasonsaas/chitragupta/internal/tools"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath     string
		metricsAddr    string
		enableCommands bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the runtime: channels, duty evaluation, metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if enableCommands {
				cfg.Kartavya.EnableCommandActions = true
			}
			return runServe(cmd.Context(), cfg, metricsAddr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address for /metrics and /healthz (empty disables)")
	cmd.Flags().BoolVar(&enableCommands, "enable-command-actions", false, "Allow duties with command actions to run shell commands")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg)
	metrics := observability.NewMetrics(nil)
	clock := clockwork.NewSystem()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	hub := samiti.NewHub(clock, logger, metrics)
	defer hub.Destroy()

	engine, err := kartavya.NewEngine(kartavya.EngineConfig{
		MinConfidenceForProposal:    cfg.Kartavya.ProposalConfidence,
		MinConfidenceForAutoApprove: cfg.Kartavya.AutoApproveConfidence,
	}, db, clock, logger, metrics)
	if err != nil {
		return fmt.Errorf("kartavya engine: %w", err)
	}

	shell := storage.NewProcessPool(cfg.Storage.PoolSize, cfg.Storage.PoolQueue, logger)
	defer shell.Close()

	registry := tools.NewRegistry()
	executor := tools.NewExecutor(tools.ExecutorConfig{
		Registry: registry,
		Clock:    clock,
		Logger:   logger,
		Metrics:  metrics,
	})

	dispatcher := kartavya.NewDispatcher(kartavya.DispatcherConfig{
		MaxConcurrent:        cfg.Kartavya.MaxConcurrent,
		EnableCommandActions: cfg.Kartavya.EnableCommandActions,
		DefaultChannel:       cfg.Kartavya.DefaultChannel,
	}, engine, hub, shell, executor, kartavya.VidhiMap{}, clock, logger, metrics)

	var httpServer *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		httpServer = &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "metrics server error", "error", err)
			}
		}()
		logger.Info(ctx, "metrics server listening", "addr", metricsAddr)
	}

	logger.Info(ctx, "runtime started",
		"database", cfg.Storage.DatabasePath,
		"active_duties", len(engine.List(kartavya.StatusActive)))

	// Duties evaluate at minute resolution; history pruning runs hourly.
	evalTicker := time.NewTicker(time.Minute)
	defer evalTicker.Stop()
	pruneTicker := time.NewTicker(time.Hour)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(context.Background(), "shutting down")
			if httpServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = httpServer.Shutdown(shutdownCtx)
				cancel()
			}
			return nil
		case <-evalTicker.C:
			fired := engine.EvaluateTriggers(ctx, kartavya.TriggerContext{})
			for _, duty := range fired {
				result := dispatcher.Dispatch(ctx, duty)
				if !result.Success {
					logger.Warn(ctx, "duty dispatch failed", "kartavya", duty.ID, "error", result.Error)
				}
			}
		case <-pruneTicker.C:
			if pruned, err := hub.PruneExpired(); err == nil && pruned > 0 {
				logger.Debug(ctx, "pruned expired messages", "count", pruned)
			}
		}
	}
}
