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

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/mike-walpole/d2g/config"
	"github.com/mike-walpole/d2g/internal/handlers"
	"github.com/mike-walpole/d2g/internal/repositories/schema"
	"github.com/mike-walpole/d2g/internal/repositories/submission"
	"github.com/mike-walpole/d2g/internal/services/configreader"
	"github.com/mike-walpole/d2g/internal/services/dashboard"
	"github.com/mike-walpole/d2g/internal/services/intake"
	"github.com/mike-walpole/d2g/internal/services/registry"
	"github.com/mike-walpole/d2g/pkg/database"
	"github.com/mike-walpole/d2g/pkg/email"
	"github.com/mike-walpole/d2g/pkg/health"
	"github.com/mike-walpole/d2g/pkg/httpclient"
	"github.com/mike-walpole/d2g/pkg/identity"
	"github.com/mike-walpole/d2g/pkg/kafka"
	"github.com/mike-walpole/d2g/pkg/logging"
	"github.com/mike-walpole/d2g/pkg/middleware"
	"github.com/mike-walpole/d2g/pkg/models"
	"github.com/mike-walpole/d2g/pkg/redis"
	"github.com/mike-walpole/d2g/pkg/startup"
	"github.com/mike-walpole/d2g/pkg/tracing"
	"github.com/mike-walpole/d2g/pkg/tracing/exporters"
)

const (
	schemaLockPrefix     = "lock:schema:"
	submissionRatePrefix = "ratelimit:submissions:"
	shutdownTimeout      = 30 * time.Second
)

type eventPublisher interface {
	registry.Publisher
	intake.Publisher
	Close() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "d2g: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}

	zapLogger, err := logging.NewZapLogger(logging.Config{
		Service: cfg.AppName,
		Version: cfg.Version,
		Level:   cfg.LogLevel,
		Pretty:  cfg.PrettyLogs,
	})
	if err != nil {
		return err
	}
	defer func() { _ = zapLogger.Sync() }()
	logger := logging.NewLogger(zapLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.AppName, cfg.OTLPEnabled, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}

	var (
		db          *sqlx.DB
		redisClient *redis.Client
		publisher   eventPublisher = kafka.NoopPublisher{}
	)

	deps := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	deps.AddDependency(startup.Dependency{
		Name: "postgres",
		StartFn: func(ctx context.Context) error {
			db, err = database.Connect(ctx, database.ConnectionConfig{
				Driver:          cfg.DatabaseDriver,
				Host:            cfg.DatabaseHost,
				Port:            cfg.DatabasePort,
				User:            cfg.DatabaseUserName,
				Password:        cfg.DatabasePassword,
				Name:            cfg.DatabaseName,
				SSLMode:         cfg.DatabaseSSLMode,
				MaxOpenConns:    cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			})
			return err
		},
		StopFn: func(context.Context) error {
			return db.Close()
		},
	})
	deps.AddDependency(startup.Dependency{
		Name:     "migrations",
		Requires: []string{"postgres"},
		StartFn: func(context.Context) error {
			migrations := database.NewMigrationService(logger, &database.MigrationConfig{
				MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
				Version:             uint(cfg.DatabaseMigrationVersion),
				Force:               cfg.DatabaseMigrationForce,
				AutoRollback:        cfg.DatabaseMigrationAutoRollback,
			})
			return migrations.MigratePostgres(db.DB, cfg.DatabaseName)
		},
	})
	deps.AddDependency(startup.Dependency{
		Name: "redis",
		StartFn: func(ctx context.Context) error {
			redisClient, err = redis.NewClient(ctx, redis.Config{
				Host:     cfg.RedisHost,
				Port:     cfg.RedisPort,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, logger)
			return err
		},
		StopFn: func(context.Context) error {
			return redisClient.Close()
		},
	})
	if cfg.KafkaEnabled {
		deps.AddDependency(startup.Dependency{
			Name: "kafka",
			StartFn: func(context.Context) error {
				publisher = kafka.NewProducer(kafka.ParseConfig(cfg.KafkaBrokers, cfg.KafkaSchemaTopic, cfg.KafkaSubmissionTopic), logger)
				return nil
			},
			StopFn: func(context.Context) error {
				return publisher.Close()
			},
		})
	}

	if err := deps.Start(ctx); err != nil {
		return err
	}

	dbInstance := database.NewDatabaseInstance(db, logger)
	locker := redis.NewLocker(redisClient, schemaLockPrefix, cfg.SchemaLockTTL, cfg.SchemaLockWait)
	schemaRepo := schema.NewRepository(dbInstance, logger)
	submissionRepo := submission.NewRepository(dbInstance, logger)

	directory := identity.NewClient(ctx, identity.Config{
		BaseURL:      cfg.IdentityBaseURL,
		Realm:        cfg.IdentityRealm,
		ClientID:     cfg.IdentityClientID,
		ClientSecret: cfg.IdentityClientSecret,
		AdminGroup:   models.AdminGroup,
	}, logger)
	mailer := email.NewClient(httpclient.NewClient(httpclient.DefaultConfig(), logger), email.Config{
		APIKey:  cfg.ResendAPIKey,
		BaseURL: cfg.ResendBaseURL,
		From:    cfg.EmailFrom,
	}, logger)

	schemas := registry.NewService(logger, schemaRepo, locker, publisher)
	intakeService := intake.NewService(logger, intake.Config{
		From:               cfg.EmailFrom,
		FallbackRecipients: cfg.EmailFallbackRecipients,
	}, schemas, submissionRepo, mailer, publisher)
	configReader := configreader.NewService(logger, schemas)
	dashboardService := dashboard.NewService(logger, submissionRepo, schemas, directory)

	authentication, err := newAuthentication(ctx, cfg, logger)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))

	checker := health.NewChecker(db, redisClient.Redis(), cfg.Version)
	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	schemaHandler := handlers.NewSchemaHandler(schemas)
	submissionHandler := handlers.NewSubmissionHandler(intakeService)

	public := e.Group("/api/v1")
	schemaHandler.RegisterPublicRoutes(public)
	var submitLimits []echo.MiddlewareFunc
	if cfg.SubmissionRateLimit > 0 {
		limiter := redis.NewRateLimiter(redisClient, submissionRatePrefix, cfg.SubmissionRateLimit, cfg.SubmissionRateWindow)
		submitLimits = append(submitLimits, middleware.RateLimit(logger, limiter))
	}
	submissionHandler.RegisterPublicRoutes(public, submitLimits...)
	handlers.NewConfigHandler(configReader).RegisterRoutes(public)

	requireAdmin := middleware.RequireRole(logger, cfg.AuthAdminRole)

	admin := e.Group("/api/v1/admin", authentication, requireAdmin)
	schemaHandler.RegisterAdminRoutes(admin)
	submissionHandler.RegisterAdminRoutes(admin)
	handlers.NewCargoTypeHandler(schemas).RegisterRoutes(admin)
	handlers.NewTeamMemberHandler(directory).RegisterRoutes(admin)
	handlers.NewDashboardHandler(dashboardService).RegisterRoutes(admin)

	schemaHandler.RegisterRegistryRoutes(e.Group("/api/v1/schemas", authentication, requireAdmin))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	checker.SetReady(true)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serveErr:
		logger.WithError(err).Error("server failed")
	}
	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.WithError(shutdownErr).Error("failed to shut down http server")
	}
	if stopErr := deps.Stop(shutdownCtx); stopErr != nil {
		logger.WithError(stopErr).Error("failed to stop dependencies")
	}
	if traceErr := shutdownTracing(shutdownCtx); traceErr != nil {
		logger.WithError(traceErr).Error("failed to flush traces")
	}

	return err
}

func newAuthentication(ctx context.Context, cfg *config.Config, logger ectologger.Logger) (echo.MiddlewareFunc, error) {
	if !cfg.AuthEnabled {
		logger.Warn("authentication is disabled, admin routes trust identity headers")
		return middleware.DevAuthentication(logger), nil
	}

	verifier, err := middleware.NewOIDCVerifier(ctx, cfg.AuthIssuerURL, cfg.AuthClientID)
	if err != nil {
		return nil, err
	}
	return middleware.Authentication(logger, verifier), nil
}
