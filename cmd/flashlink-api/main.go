package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/FlashLinkLabs/flashlink/internal/config"
	"github.com/FlashLinkLabs/flashlink/internal/database"
	"github.com/FlashLinkLabs/flashlink/internal/flashes"
	"github.com/FlashLinkLabs/flashlink/internal/identity"
	"github.com/FlashLinkLabs/flashlink/internal/linkage"
	"github.com/FlashLinkLabs/flashlink/internal/logging"
	"github.com/FlashLinkLabs/flashlink/internal/secretbox"
	"github.com/FlashLinkLabs/flashlink/internal/server"
	"github.com/FlashLinkLabs/flashlink/internal/signup"
	"github.com/FlashLinkLabs/flashlink/internal/stats"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flashlink-api",
		Short: "FlashLink identity-linking backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("identity-base-url", defaults.GetString("identity.base_url"), "Identity service base URL")
	cmd.PersistentFlags().String("activity-base-url", defaults.GetString("activity.base_url"), "Activity service base URL")
	cmd.PersistentFlags().Duration("cache-ttl", defaults.GetDuration("stats.cache_ttl"), "Stats cache TTL")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "identity.base_url", "identity-base-url")
	bindFlag(cmd, "activity.base_url", "activity-base-url")
	bindFlag(cmd, "stats.cache_ttl", "cache-ttl")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := linkage.NewStore(linkage.StoreConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	identityClient, err := identity.NewClient(identity.ClientConfig{
		BaseURL: appConfig.IdentityAPIBaseURL,
		APIKey:  appConfig.IdentityAPIKey,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	activityClient, err := flashes.NewClient(flashes.ClientConfig{
		BaseURL: appConfig.ActivityAPIBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	// Without a sealing key the server still serves reads and signup
	// initiation; finalization reports the missing key on first use.
	var sealer signup.Sealer
	if appConfig.SecretKeyHex != "" {
		boxed, err := secretbox.New(appConfig.SecretKeyHex)
		if err != nil {
			return err
		}
		sealer = boxed
	} else {
		logger.Warn("signer secret key not configured, finalization disabled")
	}

	orchestrator, err := signup.NewOrchestrator(signup.OrchestratorConfig{
		Identity: identityClient,
		Activity: activityClient,
		Store:    store,
		Sealer:   sealer,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	statsService, err := stats.NewService(stats.ServiceConfig{
		Store:    store,
		Activity: activityClient,
		Cache:    stats.NewCache(stats.CacheConfig{TTL: appConfig.CacheTTL}),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Signup:      orchestrator,
		Store:       store,
		Stats:       statsService,
		Activity:    activityClient,
		AdminSecret: appConfig.AdminSecret,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
