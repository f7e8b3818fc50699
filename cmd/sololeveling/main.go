package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/sololeveling/internal/config"
	"github.com/MarcoPoloResearchLab/sololeveling/internal/logging"
	"github.com/MarcoPoloResearchLab/sololeveling/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCommand(config.NewViper()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(configViper *viper.Viper) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "sololeveling",
		Short:         "Solo Leveling progression and offline shell server",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(configViper, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configViper)
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	setupFlags(rootCmd, configViper)

	rootCmd.AddCommand(newPlayerCommand(configViper), newCacheCommand(configViper))
	return rootCmd
}

func setupFlags(cmd *cobra.Command, configViper *viper.Viper) {
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.StringSlice("allowed-origins", nil, "CORS origins allowed to call the API (all when empty)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("cache-version", defaults.GetString("cache.version"), "Name of the current cache generation")
	flags.String("cache-origin", defaults.GetString("cache.origin"), "Upstream origin serving the application shell")
	flags.String("cache-backend", defaults.GetString("cache.backend"), "Cache storage backend (sqlite, badger, memory)")
	flags.String("cache-badger-path", defaults.GetString("cache.badger_path"), "Badger directory for the badger cache backend")
	flags.Int("cache-install-attempts", defaults.GetInt("cache.install_attempts"), "Install attempts before giving up")
	flags.String("store-backend", defaults.GetString("store.backend"), "Player store backend (sqlite, redis)")
	flags.String("redis-address", defaults.GetString("redis.address"), "Redis address for the redis store backend")

	bindFlag(cmd, configViper, "http.address", "http-address")
	bindFlag(cmd, configViper, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, configViper, "database.path", "database-path")
	bindFlag(cmd, configViper, "log.level", "log-level")
	bindFlag(cmd, configViper, "cache.version", "cache-version")
	bindFlag(cmd, configViper, "cache.origin", "cache-origin")
	bindFlag(cmd, configViper, "cache.backend", "cache-backend")
	bindFlag(cmd, configViper, "cache.badger_path", "cache-badger-path")
	bindFlag(cmd, configViper, "cache.install_attempts", "cache-install-attempts")
	bindFlag(cmd, configViper, "store.backend", "store-backend")
	bindFlag(cmd, configViper, "redis.address", "redis-address")
}

func bindFlag(cmd *cobra.Command, configViper *viper.Viper, key, flag string) {
	if err := configViper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig(configViper *viper.Viper, cfgFile string) error {
	if cfgFile == "" {
		return nil
	}
	configViper.SetConfigFile(cfgFile)
	return configViper.ReadInConfig()
}

// loadRuntime resolves configuration and builds the logger shared by every
// subcommand.
func loadRuntime(configViper *viper.Viper) (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(configViper)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func runServer(ctx context.Context, configViper *viper.Viper) error {
	appConfig, logger, err := loadRuntime(configViper)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := newApplication(appConfig, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		PlayerService:  app.players,
		CacheManager:   app.cache,
		Realtime:       app.realtime,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := app.cache.Start(signalCtx); err != nil {
			logger.Error("offline cache unavailable, requests will bypass it", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if err := app.cache.Shutdown(shutdownCtx); err != nil {
			logger.Warn("cache work still pending at shutdown", zap.Error(err))
		}
		logger.Info("server stopped")
		return shutdownErr
	case err := <-errCh:
		return err
	}
}
