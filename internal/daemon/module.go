// Package daemon composes the full service: storage, background workers and
// the api surface, wired together as an fx module.
package daemon

import (
	"context"

	"github.com/lucasmv/chatvault/internal/api"
	"github.com/lucasmv/chatvault/internal/bus"
	"github.com/lucasmv/chatvault/internal/config"
	"github.com/lucasmv/chatvault/internal/importer"
	"github.com/lucasmv/chatvault/internal/jobs"
	"github.com/lucasmv/chatvault/internal/lock"
	"github.com/lucasmv/chatvault/internal/logging"
	"github.com/lucasmv/chatvault/internal/merge"
	"github.com/lucasmv/chatvault/internal/preview"
	"github.com/lucasmv/chatvault/internal/store"
	"github.com/lucasmv/chatvault/internal/transcript"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params carries the resolved configuration and the injected transcript
// collator into the fx module.
type Params struct {
	Config   *config.Config
	Collator transcript.Collator
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideCollator,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			providePreviewStore,
			provideImporter,
			provideMerger,
			provideRunner,
			provideImportService,
			provideChatService,
			provideJobService,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	return p.Config
}

func provideCollator(p Params) transcript.Collator {
	return p.Collator
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return logging.New(cfg.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data directory lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data directory lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", cfg.DatabasePath()))
	return db, nil
}

func providePreviewStore(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *preview.Store {
	return preview.NewStore(cfg.PreviewTTL(), cfg.SweepInterval(), b, logger)
}

func provideImporter(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *importer.Importer {
	return importer.New(db, b, logger, cfg.MediaRoot())
}

func provideMerger(db *store.DB, b *bus.Bus, logger *zap.Logger) *merge.Merger {
	return merge.New(db, b, logger)
}

func provideRunner(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *jobs.Runner {
	return jobs.NewRunner(cfg.JobRetention(), cfg.SweepInterval(), b, logger)
}

func provideImportService(
	cfg *config.Config,
	db *store.DB,
	previews *preview.Store,
	imp *importer.Importer,
	collator transcript.Collator,
	logger *zap.Logger,
) *api.ImportService {
	return api.NewImportService(db, previews, imp, collator, logger,
		cfg.StagingDir(), cfg.SpillThresholdBytes)
}

func provideChatService(db *store.DB, merger *merge.Merger, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(db, merger, logger)
}

func provideJobService(runner *jobs.Runner, imports *api.ImportService) *api.JobService {
	return api.NewJobService(runner, imports)
}

func registerLifecycle(
	lc fx.Lifecycle,
	lk *lock.Lock,
	db *store.DB,
	previews *preview.Store,
	runner *jobs.Runner,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			previews.Start(context.Background())
			runner.Start(context.Background())
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			runner.Stop()
			previews.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
