package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"corpusbot/internal/config"
	"corpusbot/internal/corpus"
	"corpusbot/internal/kv"
	"corpusbot/internal/llm"
	"corpusbot/internal/repository"
	"corpusbot/internal/search"
	"corpusbot/internal/service"
)

// app holds every long-lived component built from the config.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db           *sqlx.DB
	kv           kv.Store
	interactions repository.InteractionRepository

	chain       *llm.Chain
	store       *corpus.Store
	incidentLog *zap.Logger
	incidents   *service.IncidentRecorder
	locks       *service.LockManager
	modes       *service.ModeRegistry
	pipeline    *service.Pipeline
	importer    *service.Importer

	collector *search.Collector
	browser   *search.BrowserFetcher
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	switch cfg.Database.Type {
	case "memory":
		a.kv = kv.NewMemoryStore()
		logger.Info("Using in-memory key-value store; modes and locks are not shared between processes")
	default:
		dsn := cfg.Database.Path
		if cfg.Database.Type == repository.DriverPostgres {
			dsn = cfg.Database.URL
		}
		db, err := repository.Open(cfg.Database.Type, dsn, logger)
		if err != nil {
			return err
		}
		a.db = db
		if err := repository.Migrate(db, logger); err != nil {
			return err
		}
		a.kv = repository.NewKVRepository(db)
		a.interactions = repository.NewInteractionRepository(db, logger)
	}

	store, err := corpus.NewStore(cfg.Corpus.Path, cfg.Corpus.CounterPath, logger)
	if err != nil {
		return err
	}
	a.store = store
	if cfg.Corpus.ReconcileOnStart {
		if _, _, err := store.Reconcile(ctx); err != nil {
			logger.Warn("Failed to reconcile corpus counter", zap.Error(err))
		}
	}

	a.incidentLog, err = service.OpenIncidentLog(cfg.Incidents.Path)
	if err != nil {
		return err
	}
	a.incidents = service.NewIncidentRecorder(a.incidentLog, logger)

	a.chain, err = llm.NewChainFromConfig(ctx, cfg.ChainConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to build generator chain: %w", err)
	}

	a.locks = service.NewLockManager(a.kv, cfg.Locks.StaleAfter, logger)
	a.modes = service.NewModeRegistry(a.kv, logger)
	a.pipeline = service.NewPipeline(a.chain, a.store, a.incidents, a.locks, logger)
	a.importer = service.NewImporter(a.pipeline, a.store, a.kv, a.locks, service.ImporterConfig{
		MaxBytes: cfg.Telegram.MaxUploadBytes,
	}, logger)

	var fetcher search.Fetcher = search.NewHTTPFetcher(cfg.Search.UserAgent, cfg.Search.FetchTimeout)
	if cfg.Search.RenderJS {
		a.browser = search.NewBrowserFetcher(cfg.Search.UserAgent, cfg.Search.FetchTimeout, logger)
		fetcher = a.browser
	}
	engine := search.NewHTMLEngine(cfg.Search.EngineURL, cfg.Search.UserAgent, cfg.Search.FetchTimeout, logger)
	a.collector = search.NewCollector(engine, fetcher, a.pipeline, search.CollectorConfig{
		MaxResults:     cfg.Search.MaxResults,
		MaxConcurrency: cfg.Search.MaxConcurrency,
		ChunkWords:     cfg.Search.ChunkWords,
		RequestDelay:   cfg.Search.RequestDelay,
	}, logger)

	logger.Info("Pipeline ready",
		zap.Int("generators", a.chain.Len()),
		zap.String("corpus", cfg.Corpus.Path),
		zap.Int("count", a.store.Count()),
		zap.String("database", cfg.Database.Type))
	return nil
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.chain != nil {
		_ = a.chain.Close()
	}
	if a.incidents != nil {
		_ = a.incidents.Sync()
	}
	if a.kv != nil {
		_ = a.kv.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Failed to close database", zap.Error(err))
		}
	}
}
