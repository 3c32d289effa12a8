package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/nexobay/courier/internal/config"
	"github.com/nexobay/courier/internal/lock"
	"github.com/nexobay/courier/internal/logging"
	"github.com/nexobay/courier/internal/server"
	"github.com/nexobay/courier/internal/session"
	"github.com/nexobay/courier/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved daemon configuration passed to the fx module.
type Params struct {
	ConfigPath string // empty = ~/.courier/config.toml
	ListenAddr string // optional override for testing; empty = config value
}

// Module returns the fx module for courierd, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideLock,
			provideStore,
			provideHub,
			provideApp,
		),
		fx.Invoke(registerLifecycle),
	)
}

// DataDir returns the daemon's data directory, derived from the configured
// db path when one is set.
func DataDir(cfg *config.Config) string {
	if cfg.Server.DBPath != "" {
		return filepath.Dir(cfg.Server.DBPath)
	}
	return filepath.Join(session.BaseDir(), "daemon")
}

func dbPath(cfg *config.Config) string {
	if cfg.Server.DBPath != "" {
		return cfg.Server.DBPath
	}
	return filepath.Join(DataDir(cfg), "courier.db")
}

// LoadConfig resolves the daemon config. A missing file falls back to
// defaults, but the auth secret has no default and must be configured.
func LoadConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = config.Default()
	}
	if p.ListenAddr != "" {
		cfg.Server.ListenAddr = p.ListenAddr
	}
	if cfg.Server.AuthSecret == "" {
		return nil, errors.New("server.auth_secret must be set in config.toml")
	}
	return cfg, nil
}

func provideConfig(p Params) (*config.Config, error) {
	return LoadConfig(p)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(filepath.Join(DataDir(cfg), "logs", "courierd.log"), "courierd")
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", DataDir(cfg)))
	l, err := lock.Acquire(DataDir(cfg))
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	path := dbPath(cfg)
	db, err := store.Open(path)
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
	logger.Info("store initialized", zap.String("path", path))
	return db, nil
}

func provideHub(db *store.DB, logger *zap.Logger) *server.Hub {
	return server.NewHub(db, logger)
}

func provideApp(cfg *config.Config, db *store.DB, hub *server.Hub, logger *zap.Logger) *fiber.App {
	return server.New(cfg.Server, db, hub, logger)
}

func registerLifecycle(lc fx.Lifecycle, app *fiber.App, cfg *config.Config, lk *lock.Lock, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				logger.Info("listening", zap.String("addr", cfg.Server.ListenAddr))
				if err := app.Listen(cfg.Server.ListenAddr); err != nil {
					logger.Error("server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := app.ShutdownWithContext(ctx); err != nil {
				logger.Warn("shutdown error", zap.Error(err))
			}
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
