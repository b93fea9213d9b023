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

	"github.com/MarcoPoloResearchLab/exhibits/internal/auth"
	"github.com/MarcoPoloResearchLab/exhibits/internal/config"
	"github.com/MarcoPoloResearchLab/exhibits/internal/database"
	"github.com/MarcoPoloResearchLab/exhibits/internal/gallery"
	"github.com/MarcoPoloResearchLab/exhibits/internal/logging"
	"github.com/MarcoPoloResearchLab/exhibits/internal/objectstore"
	"github.com/MarcoPoloResearchLab/exhibits/internal/orphans"
	"github.com/MarcoPoloResearchLab/exhibits/internal/server"
	"github.com/MarcoPoloResearchLab/exhibits/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "exhibits-api",
		Short: "Exhibition gallery media service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
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
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.StringVar(&envFile, "env-file", "", "Path to a dotenv file loaded before configuration")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.StringSlice("allowed-origins", nil, "Origins allowed to send credentialed CORS requests")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("database-driver", defaults.GetString("database.driver"), "Metadata database driver (sqlite, postgres)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("database-dsn", "", "Postgres connection string")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("session-issuer", defaults.GetString("session.issuer"), "Expected session token issuer")
	flags.String("session-cookie", defaults.GetString("session.cookie_name"), "Session cookie name")
	flags.String("storage-driver", defaults.GetString("storage.driver"), "Object store driver (minio, s3, memory)")
	flags.String("storage-endpoint", "", "Object store endpoint")
	flags.String("storage-region", defaults.GetString("storage.region"), "Object store region")
	flags.String("storage-bucket", defaults.GetString("storage.bucket"), "Object store bucket")
	flags.String("storage-public-base-url", "", "Public base URL for stored objects")
	flags.Int64("upload-max-bytes", defaults.GetInt64("upload.max_bytes"), "Maximum size of one uploaded image")
	flags.Duration("compensation-timeout", defaults.GetDuration("saga.compensation_timeout"), "Time budget for saga cleanup")
	flags.String("orphans-driver", defaults.GetString("orphans.driver"), "Orphan report sink (log, amqp)")
	flags.String("orphans-amqp-url", "", "AMQP broker URL for orphan reports")
	flags.String("otlp-endpoint", "", "OTLP/HTTP trace collector endpoint (host:port)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "session.issuer", "session-issuer")
	bindFlag(cmd, "session.cookie_name", "session-cookie")
	bindFlag(cmd, "storage.driver", "storage-driver")
	bindFlag(cmd, "storage.endpoint", "storage-endpoint")
	bindFlag(cmd, "storage.region", "storage-region")
	bindFlag(cmd, "storage.bucket", "storage-bucket")
	bindFlag(cmd, "storage.public_base_url", "storage-public-base-url")
	bindFlag(cmd, "upload.max_bytes", "upload-max-bytes")
	bindFlag(cmd, "saga.compensation_timeout", "compensation-timeout")
	bindFlag(cmd, "orphans.driver", "orphans-driver")
	bindFlag(cmd, "orphans.amqp_url", "orphans-amqp-url")
	bindFlag(cmd, "tracing.otlp_endpoint", "otlp-endpoint")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}
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
	var (
		subject string
		email   string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.Session.SigningSecret),
				Issuer:        appConfig.Session.Issuer,
				TokenTTL:      ttl,
			})
			token, expiresAt, err := issuer.IssueSessionToken(subject, email, []string{auth.RoleAdmin})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Operator identifier stored in the token")
	cmd.Flags().StringVar(&email, "email", "", "Operator email stored in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
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

	tracerProvider, shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		OTLPEndpoint: appConfig.Tracing.OTLPEndpoint,
		Insecure:     appConfig.Tracing.Insecure,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	db, err := database.Open(database.Config{
		Driver: appConfig.Database.Driver,
		Path:   appConfig.Database.Path,
		DSN:    appConfig.Database.DSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	metadata, err := gallery.NewGormStore(db)
	if err != nil {
		return err
	}

	objects, err := objectstore.Open(ctx, objectstore.Config{
		Driver:        appConfig.Storage.Driver,
		Endpoint:      appConfig.Storage.Endpoint,
		Region:        appConfig.Storage.Region,
		Bucket:        appConfig.Storage.Bucket,
		AccessKey:     appConfig.Storage.AccessKey,
		SecretKey:     appConfig.Storage.SecretKey,
		UseSSL:        appConfig.Storage.UseSSL,
		PublicBaseURL: appConfig.Storage.PublicBaseURL,
	})
	if err != nil {
		return err
	}
	logger.Info("object store initialized", zap.String("driver", appConfig.Storage.Driver), zap.String("bucket", appConfig.Storage.Bucket))

	reporter, closeReporter, err := openOrphanReporter(appConfig.Orphans, logger)
	if err != nil {
		return err
	}
	defer closeReporter()

	galleryService, err := gallery.NewService(gallery.ServiceConfig{
		Metadata:            metadata,
		Objects:             objects,
		IDProvider:          gallery.NewUUIDProvider(),
		Orphans:             reporter,
		Clock:               time.Now,
		Logger:              logger,
		TracerProvider:      tracerProvider,
		MaxUploadBytes:      appConfig.UploadMaxBytes,
		CompensationTimeout: appConfig.CompensationTimeout,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.Session.SigningSecret),
		Issuer:        appConfig.Session.Issuer,
		CookieName:    appConfig.Session.CookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		GalleryService:   galleryService,
		Logger:           logger,
		MaxUploadBytes:   appConfig.UploadMaxBytes,
		AllowedOrigins:   appConfig.AllowedOrigins,
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func openOrphanReporter(cfg config.OrphansConfig, logger *zap.Logger) (gallery.OrphanReporter, func(), error) {
	if cfg.Driver != config.OrphansDriverAMQP {
		return gallery.NewLogOrphanReporter(logger), func() {}, nil
	}
	publisher, err := orphans.Dial(orphans.Config{
		URL:        cfg.AMQPURL,
		Exchange:   cfg.Exchange,
		RoutingKey: cfg.RoutingKey,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("orphan reports routed to amqp", zap.String("exchange", cfg.Exchange))
	return publisher, func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("failed to close orphan publisher", zap.Error(err))
		}
	}, nil
}
