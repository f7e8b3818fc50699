package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/sololeveling/internal/config"
	"github.com/MarcoPoloResearchLab/sololeveling/internal/database"
	"github.com/MarcoPoloResearchLab/sololeveling/internal/offline"
	"github.com/MarcoPoloResearchLab/sololeveling/internal/players"
	"github.com/MarcoPoloResearchLab/sololeveling/internal/progression"
	"github.com/MarcoPoloResearchLab/sololeveling/internal/server"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// application holds the wired components shared by the server and the
// maintenance subcommands.
type application struct {
	players  *players.Service
	cache    *offline.Manager
	realtime *server.RealtimeDispatcher
	logger   *zap.Logger
	closers  []func() error
}

func newApplication(appConfig config.AppConfig, logger *zap.Logger) (_ *application, err error) {
	app := &application{logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, sqlDB.Close)

	var store players.Store
	switch appConfig.StoreBackend {
	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddress})
		app.closers = append(app.closers, client.Close)
		store, err = players.NewRedisStore(players.RedisStoreConfig{Client: client, Clock: time.Now, Logger: logger})
	default:
		store, err = players.NewSQLiteStore(players.SQLiteStoreConfig{Database: db, Clock: time.Now, Logger: logger})
	}
	if err != nil {
		return nil, err
	}

	app.realtime = server.NewRealtimeDispatcher()
	app.players, err = players.NewService(players.ServiceConfig{
		Store:    store,
		Notifier: progression.Notifiers{progression.LogNotifier{Logger: logger}, app.realtime},
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	var storage offline.Storage
	switch appConfig.CacheBackend {
	case config.CacheBackendBadger:
		badgerStorage, openErr := offline.OpenBadgerStorage(appConfig.CacheBadgerPath, time.Now)
		if openErr != nil {
			return nil, fmt.Errorf("open badger cache: %w", openErr)
		}
		app.closers = append(app.closers, badgerStorage.Close)
		storage = badgerStorage
	case config.CacheBackendMemory:
		storage = offline.NewMemoryStorage()
	default:
		storage, err = offline.NewSQLiteStorage(db, time.Now)
		if err != nil {
			return nil, err
		}
	}

	app.cache, err = offline.NewManager(offline.ManagerConfig{
		Version:         appConfig.CacheVersion,
		Origin:          appConfig.CacheOrigin,
		Manifest:        appConfig.CacheManifest,
		Storage:         storage,
		Client:          &http.Client{Timeout: appConfig.CacheFetchTimeout},
		Presenter:       app.realtime,
		InstallAttempts: appConfig.CacheInstallAttempts,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	return app, nil
}

// Close releases stores in reverse order of acquisition.
func (a *application) Close() {
	for index := len(a.closers) - 1; index >= 0; index-- {
		if err := a.closers[index](); err != nil {
			a.logger.Warn("failed to release resource", zap.Error(err))
		}
	}
	a.closers = nil
}
