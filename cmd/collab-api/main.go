package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/collabflexify/backend/internal/auth"
	"github.com/collabflexify/backend/internal/calls"
	"github.com/collabflexify/backend/internal/config"
	"github.com/collabflexify/backend/internal/database"
	"github.com/collabflexify/backend/internal/docsync"
	"github.com/collabflexify/backend/internal/logging"
	"github.com/collabflexify/backend/internal/notify"
	"github.com/collabflexify/backend/internal/presence"
	"github.com/collabflexify/backend/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "collab-api",
		Short: "Collaborative workspace realtime backend",
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
	cmd.PersistentFlags().Int("flush-interval-seconds", defaults.GetInt("flush.interval_seconds"), "Document flush interval in seconds")
	cmd.PersistentFlags().String("signing-secret", "", "Bearer token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "flush.interval_seconds", "flush-interval-seconds")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
	})
	if err != nil {
		return err
	}

	notificationService, err := notify.NewService(notify.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: notify.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	engine, err := docsync.NewEngine(docsync.EngineConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	registry := presence.NewRegistry(logger)
	directory := presence.NewDirectory()
	hub := server.NewHub()

	dispatcher, err := notify.NewDispatcher(notify.DispatcherConfig{
		Service:  notificationService,
		Resolver: directory,
		Pusher:   hub,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	socket, err := server.NewSocketServer(server.SocketConfig{
		Registry:    registry,
		Directory:   directory,
		Coordinator: calls.NewCoordinator(time.Now),
		Dispatcher:  dispatcher,
		Engine:      engine,
		Hub:         hub,
		Tokens:      tokenIssuer,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:        tokenIssuer,
		Notifications: notificationService,
		Documents:     engine,
		Socket:        socket,
		Logger:        logger,
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

	var flusher sync.WaitGroup
	flusher.Add(1)
	go func() {
		defer flusher.Done()
		engine.Run(signalCtx, appConfig.FlushInterval)
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		flusher.Wait()
		return shutdownErr
	case err := <-errCh:
		stop()
		flusher.Wait()
		return err
	}
}
