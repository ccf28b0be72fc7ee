package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"

	_ "github.com/lib/pq" // PostgreSQL driver

	"confhub/internal/audit"
	"confhub/internal/config"
	"confhub/internal/constants"
	"confhub/internal/logger"
	"confhub/internal/rules"
	"confhub/internal/store"
	"confhub/internal/validation"
	"confhub/pkg/bootstrap"
	"confhub/pkg/health"
	"confhub/pkg/metrics"
	"confhub/pkg/middleware"
	"confhub/pkg/migrations"
	"confhub/pkg/ratelimit"
	"confhub/pkg/retry"
	"confhub/pkg/tracing"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const defaultMigrationsPath = "migrations/postgres"

type App struct {
	config         *config.Config
	logger         logger.Logger
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	mongoClient    *mongo.Client
	server         *http.Server
	router         *gin.Engine
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	if err := a.initServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	tp, err := tracing.Init(a.config.Tracing, "config-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient

	if err := migrations.EnsureMongoIndexes(ctx, a.mongoDatabase()); err != nil {
		return fmt.Errorf("failed to ensure mongodb indexes: %w", err)
	}

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		a.logger.WarnwCtx(ctx, "PostgreSQL connection failed, audit log disabled", "error", err)
	} else if db != nil {
		a.db = db
		if a.config.Database.RunMigrations {
			if err := migrations.RunPostgresMigrations(db, defaultMigrationsPath); err != nil {
				return fmt.Errorf("failed to run postgres migrations: %w", err)
			}
		}
	}

	return nil
}

func (a *App) mongoDatabase() *mongo.Database {
	dbName := a.config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	return a.mongoClient.Database(dbName)
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("config-service"))
	}

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.config.RateLimit.RPS,
			Burst:           a.config.RateLimit.Burst,
			CleanupInterval: time.Duration(a.config.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.config.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.logger.InfowCtx(context.Background(), "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	registry, err := a.buildValidationRegistry()
	if err != nil {
		return err
	}

	backend := store.NewMongoBackend(a.mongoClient, a.mongoDatabase())

	opts := []store.Option{store.WithValidator(registry)}
	if a.db != nil {
		opts = append(opts, store.WithAudit(audit.NewRepository(a.db)))
	}
	if a.config.Store.Retry.MaxAttempts > 0 {
		opts = append(opts, store.WithRetryPolicy(retry.Policy{
			MaxAttempts:     a.config.Store.Retry.MaxAttempts,
			InitialInterval: a.config.Store.Retry.InitialInterval,
			MaxInterval:     a.config.Store.Retry.MaxInterval,
			Multiplier:      a.config.Store.Retry.Multiplier,
			MaxElapsedTime:  a.config.Store.Retry.MaxElapsedTime,
		}))
	}

	configStore := store.NewStore(backend, a.logger, opts...)
	ruleService := rules.NewService(configStore, a.config.Rules.CacheTTL, a.logger)

	tenantAuth := middleware.TenantMiddleware()

	storeHandler := store.NewHandler(configStore, a.logger)
	storeHandler.RegisterRoutes(router, tenantAuth)

	rulesHandler := rules.NewHandler(ruleService, a.logger)
	rulesHandler.RegisterRoutes(router, tenantAuth)

	if a.db != nil {
		auditHandler := audit.NewHandler(audit.NewRepository(a.db), a.logger)
		auditHandler.RegisterRoutes(router, tenantAuth)
	}

	metrics.RegisterStoreMetrics()
	metrics.RegisterRuleMetrics()
	if a.config.RateLimit.Enabled {
		metrics.RegisterRateLimitMetrics()
	}

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	if a.db != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
	return nil
}

func (a *App) buildValidationRegistry() (*validation.Registry, error) {
	registry := validation.NewRegistry()

	fieldTypes, err := validation.ParseFieldTypes(a.config.Validation.RuleFields)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule field types: %w", err)
	}
	registry.Register(constants.ConfigTypeLabelApplicationRule, validation.NewRuleValidator(fieldTypes))

	for configType, schemaPath := range a.config.Validation.Schemas {
		validator, err := validation.NewSchemaValidator(schemaPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load schema for config type %s: %w", configType, err)
		}
		registry.Register(configType, validator)
		a.logger.Infow("Registered schema validator", "config_type", configType, "schema", schemaPath)
	}

	return registry, nil
}

func (a *App) initServer() error {
	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Server.Port),
		Handler: a.router,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		a.logger.InfowCtx(ctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return a.Shutdown(ctx)
	case err := <-errChan:
		return err
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	dbErrs := a.dbConnector.ShutdownDatabases(ctx, nil, a.db, a.mongoClient)
	errs = append(errs, dbErrs...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Server exited successfully")
	return nil
}
