package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/steelhaus/shopsync/internal/actors"
	"github.com/steelhaus/shopsync/internal/auth"
	"github.com/steelhaus/shopsync/internal/config"
	"github.com/steelhaus/shopsync/internal/database"
	"github.com/steelhaus/shopsync/internal/events"
	"github.com/steelhaus/shopsync/internal/logging"
	"github.com/steelhaus/shopsync/internal/oplog"
	"github.com/steelhaus/shopsync/internal/outbox"
	"github.com/steelhaus/shopsync/internal/ranking"
	"github.com/steelhaus/shopsync/internal/records"
	"github.com/steelhaus/shopsync/internal/server"
	"github.com/steelhaus/shopsync/internal/synclock"
	"github.com/steelhaus/shopsync/internal/syncer"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "shopsync-api",
		Short: "Shop schedule synchronization service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite or postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", "", "Rotating log file path")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("connector-base-url", "", "Connector gateway base URL")
	cmd.PersistentFlags().String("connector-auth-token", "", "Connector gateway bearer token")
	cmd.PersistentFlags().String("rework-stage", defaults.GetString("sync.rework_stage"), "Stage name that triggers rework promotion")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file.path", "log-file")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "connector.base_url", "connector-base-url")
	bindFlag(cmd, "connector.auth_token", "connector-auth-token")
	bindFlag(cmd, "sync.rework_stage", "rework-stage")
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

func newTokenCommand() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a service bearer token",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, err := cmd.Flags().GetString("subject")
			if err != nil {
				return err
			}
			return mintToken(subject)
		},
	}
	tokenCmd.Flags().String("subject", "", "Token subject (the calling service's name)")
	return tokenCmd
}

func mintToken(subject string) error {
	if subject == "" {
		return errors.New("subject is required")
	}

	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	token, expiresIn, err := issuer.Issue(subject)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires in %d seconds\n", expiresIn)
	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, logging.FileConfig{
		Path:       appConfig.LogFilePath,
		MaxSizeMB:  appConfig.LogFileMaxSizeMB,
		MaxBackups: appConfig.LogFileMaxBackups,
		MaxAgeDays: appConfig.LogFileMaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Settings{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	lock := synclock.New(synclock.Config{Name: "sync", RetryAfter: appConfig.RetryAfter})
	operations, err := oplog.NewService(oplog.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	store, err := records.NewStore(records.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	eventService, err := events.NewService(events.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	deliverer := outbox.NewHTTPDeliverer(appConfig.ConnectorBaseURL, appConfig.ConnectorAuthToken, appConfig.DeliveryTimeout)
	dispatcher, err := outbox.NewDispatcher(outbox.DispatcherConfig{
		Database:        db,
		Events:          eventService,
		Payloads:        store,
		Deliverer:       deliverer,
		Logger:          logger,
		MaxRetries:      appConfig.OutboxMaxRetries,
		DeliveryTimeout: appConfig.DeliveryTimeout,
	})
	if err != nil {
		return err
	}
	rankingService, err := ranking.NewService(ranking.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	actorService, err := actors.NewService(actors.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	feed := server.NewOperationFeed()
	engine, err := syncer.NewEngine(syncer.EngineConfig{
		Database:         db,
		Lock:             lock,
		Operations:       operations,
		Tokens:           oplog.NewUUIDTokenProvider(),
		Store:            store,
		Events:           eventService,
		Outbox:           dispatcher,
		Ranking:          rankingService,
		Actors:           actorService,
		Listener:         feed,
		Logger:           logger,
		EchoWindow:       appConfig.EchoWindow,
		LockTimeout:      appConfig.LockTimeout,
		ReworkStage:      appConfig.ReworkStage,
		RequireOperation: appConfig.RequireOperation,
		Workers:          appConfig.WorkerCount,
		QueueSize:        appConfig.QueueSize,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Engine:     engine,
		Ranking:    rankingService,
		Operations: operations,
		Events:     eventService,
		Lock:       lock,
		Tokens:     issuer,
		Database:   db,
		Feed:       feed,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	sweeper, err := outbox.NewSweeper(outbox.SweeperConfig{
		Database:   db,
		Dispatcher: dispatcher,
		Logger:     logger,
		Interval:   appConfig.OutboxSweepInterval,
		BatchSize:  appConfig.OutboxBatchSize,
	})
	if err != nil {
		return err
	}
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go sweeper.Run(sweepCtx)

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
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		engine.Stop()
		stopSweeper()
		return shutdownErr
	case err := <-errCh:
		engine.Stop()
		stopSweeper()
		return err
	}
}
