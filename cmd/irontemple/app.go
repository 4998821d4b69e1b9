package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/irontemple/internal/config"
	"github.com/MarcoPoloResearchLab/irontemple/internal/events"
	"github.com/MarcoPoloResearchLab/irontemple/internal/identity"
	"github.com/MarcoPoloResearchLab/irontemple/internal/logging"
	"github.com/MarcoPoloResearchLab/irontemple/internal/status"
	"github.com/MarcoPoloResearchLab/irontemple/internal/store"
	"github.com/MarcoPoloResearchLab/irontemple/internal/syncengine"
	"github.com/MarcoPoloResearchLab/irontemple/internal/workouts"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const probeTimeout = 3 * time.Second

// app holds the wired engine for one CLI invocation.
type app struct {
	config       config.AppConfig
	logger       *zap.Logger
	store        *store.KeyValueStore
	transactor   *workouts.Transactor
	repository   *workouts.Repository
	sessions     *identity.Manager
	engine       *syncengine.Engine
	bus          *events.Bus
	connectivity *status.Connectivity
	prober       *status.Prober
	closers      []func() error
}

func loadApp() (*app, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return newApp(appConfig)
}

func newApp(appConfig config.AppConfig) (*app, error) {
	logger, err := logging.NewLogger(appConfig.LogLevel, logging.FormatConsole)
	if err != nil {
		return nil, err
	}
	instance := &app{config: appConfig, logger: logger}

	backend, err := instance.openBackend()
	if err != nil {
		instance.Close()
		return nil, err
	}
	kv, err := store.New(store.Config{Backend: backend, QuotaBytes: appConfig.StorageQuotaBytes, Logger: logger})
	if err != nil {
		instance.Close()
		return nil, err
	}
	instance.store = kv

	transactor, err := workouts.NewTransactor(workouts.TransactorConfig{Store: kv, Logger: logger})
	if err != nil {
		instance.Close()
		return nil, err
	}
	instance.transactor = transactor

	sessions, err := identity.NewManager(identity.ManagerConfig{Store: kv, Logger: logger})
	if err != nil {
		instance.Close()
		return nil, err
	}
	instance.sessions = sessions

	instance.bus = events.NewBus()
	repository, err := workouts.NewRepository(workouts.RepositoryConfig{
		Transactor:  transactor,
		Identity:    sessions,
		Events:      instance.bus,
		Clock:       time.Now,
		IDProvider:  workouts.NewUUIDv7Provider(),
		Logger:      logger,
		WeeksWindow: appConfig.StatsWeeksWindow,
	})
	if err != nil {
		instance.Close()
		return nil, err
	}
	instance.repository = repository

	remote, err := syncengine.NewHTTPRemote(syncengine.HTTPRemoteConfig{
		BaseURL: appConfig.RemoteBaseURL,
		Timeout: appConfig.RemoteTimeout,
		Logger:  logger,
	})
	if err != nil {
		instance.Close()
		return nil, err
	}
	instance.connectivity = status.NewConnectivity(false)
	instance.prober = status.NewProber(status.ProberConfig{URL: appConfig.RemoteBaseURL, Timeout: probeTimeout, Logger: logger})

	engine, err := syncengine.NewEngine(syncengine.Config{
		Transactor:   transactor,
		Remote:       remote,
		Credentials:  sessions,
		Connectivity: instance.connectivity,
		Events:       instance.bus,
		Clock:        time.Now,
		MaxRetry:     appConfig.SyncMaxRetry,
		Logger:       logger,
	})
	if err != nil {
		instance.Close()
		return nil, err
	}
	instance.engine = engine

	migrator, err := identity.NewMigrator(identity.MigratorConfig{Transactor: transactor, Drainer: engine, Logger: logger})
	if err != nil {
		instance.Close()
		return nil, err
	}
	sessions.SetMigrator(migrator)

	return instance, nil
}

func (a *app) openBackend() (store.Backend, error) {
	switch a.config.StorageBackend {
	case config.StorageBackendMemory:
		return store.NewMemoryBackend(), nil
	case config.StorageBackendFile:
		return store.OpenFileBackend(a.config.StoragePath, a.logger)
	case config.StorageBackendSQLite:
		backend, err := store.OpenSQLite(a.config.StoragePath, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, backend.Close)
		return backend, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", a.config.StorageBackend)
	}
}

// probe refreshes connectivity from a single HEAD request.
func (a *app) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	online := a.prober.Probe(probeCtx)
	a.connectivity.SetOnline(online)
	return online
}

func (a *app) Close() {
	for index := len(a.closers) - 1; index >= 0; index-- {
		if err := a.closers[index](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
