package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"curator/internal/agent"
	"curator/internal/analysis"
	"curator/internal/config"
	"curator/internal/inference"
	"curator/internal/recovery"
	"curator/internal/store"
	"curator/internal/types"
)

// pipeline bundles the full orchestration stack a command needs: store,
// inference clients, recovery, scheduler, and the analysis service.
type pipeline struct {
	cfg       *config.Config
	store     *store.SQLiteStore
	client    *inference.OllamaClient
	estimator *inference.Estimator
	recovery  *recovery.Manager
	manager   *agent.Manager
	service   *analysis.Service
}

// loadConfig reads the workspace configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(workspace)
}

// openStore opens the workspace database for commands that need no
// inference stack.
func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Store.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(workspace, dbPath)
	}
	return store.NewSQLiteStore(dbPath)
}

// buildPipeline constructs the stack from the workspace configuration.
// Nothing is started; register subscriptions on the service first.
func buildPipeline(ctx context.Context) (*pipeline, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	client := inference.NewOllamaClient(cfg.Inference.Endpoint,
		time.Duration(cfg.Inference.RequestTimeoutMs)*time.Millisecond)
	estimator := inference.NewEstimator(client, cfg.Scheduler.SafetyFactor)

	var cloud types.InferenceClient
	if cfg.Inference.CloudFallback {
		genai, err := inference.NewGenAIClient(ctx, os.Getenv("GEMINI_API_KEY"), cfg.Inference.CloudFallbackModel)
		if err != nil {
			logger.Warn("Cloud fallback unavailable", zap.Error(err))
		} else {
			cloud = genai
		}
	}

	rec := recovery.NewManager(cfg.Recovery)
	executor := analysis.NewInferenceExecutor(cfg.Inference, client, cloud, rec)
	manager := agent.NewManager(cfg.Scheduler, executor, agent.NewMemorySampler())
	service := analysis.NewService(cfg.Analysis, cfg.TaskGen, st, manager, estimator, cfg.Inference.DefaultModel)

	return &pipeline{
		cfg:       cfg,
		store:     st,
		client:    client,
		estimator: estimator,
		recovery:  rec,
		manager:   manager,
		service:   service,
	}, nil
}

// start launches the scheduler and the analysis service.
func (p *pipeline) start(ctx context.Context) error {
	p.manager.Start()
	return p.service.Start(ctx)
}

// shutdown stops the stack in dependency order.
func (p *pipeline) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.service.Stop(ctx); err != nil {
		logger.Warn("Analysis service shutdown timed out", zap.Error(err))
	}
	if err := p.manager.Stop(ctx); err != nil {
		logger.Warn("Scheduler shutdown timed out", zap.Error(err))
	}
	if err := p.store.Close(); err != nil {
		logger.Warn("Store close failed", zap.Error(err))
	}
}
