package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"confhub/internal/broker"
	"confhub/internal/config"
	"confhub/internal/constants"
	"confhub/internal/logger"
	"confhub/internal/outbox"
	"confhub/pkg/bootstrap"
	"confhub/pkg/circuitbreaker"
	"confhub/pkg/health"
	"confhub/pkg/metrics"
	"confhub/pkg/tracing"
)

type App struct {
	config         *config.Config
	logger         logger.Logger
	dbConnector    *bootstrap.DatabaseConnector
	mongoClient    *mongo.Client
	redis          *redis.Client
	producer       broker.Producer
	outboxRepo     *outbox.Repository
	dispatcher     *outbox.Dispatcher
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("change-dispatcher")
	}
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize MongoDB: %w", err)
	}
	a.mongoClient = mongoClient

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.logger.WarnwCtx(ctx, "Redis initialization failed, idempotency marks disabled", "error", err)
	} else {
		a.redis = rdb
	}

	producer, err := broker.NewProducer(a.config.Broker, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize producer: %w", err)
	}
	a.producer = producer

	if err := a.initDispatcher(); err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	tp, err := tracing.Init(a.config.Tracing, "change-dispatcher")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterDispatcherMetrics()
	metrics.RegisterBrokerMetrics()
	if a.config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDispatcher() error {
	dbName := a.config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	repo := outbox.NewRepository(a.mongoClient.Database(dbName))
	a.outboxRepo = repo

	opts := []outbox.DispatcherOption{}
	if a.redis != nil {
		opts = append(opts, outbox.WithIdempotencyMarks(a.redis, a.config.Dispatcher.IdempotencyTTL))
	}
	if a.config.CircuitBreaker.Enabled {
		cbConfig := circuitbreaker.DefaultConfig("kafka-publish")
		if a.config.CircuitBreaker.MaxRequests > 0 {
			cbConfig.MaxRequests = a.config.CircuitBreaker.MaxRequests
		}
		if a.config.CircuitBreaker.Interval > 0 {
			cbConfig.Interval = a.config.CircuitBreaker.Interval
		}
		if a.config.CircuitBreaker.Timeout > 0 {
			cbConfig.Timeout = a.config.CircuitBreaker.Timeout
		}
		opts = append(opts, outbox.WithBreaker(circuitbreaker.NewWrapper(cbConfig)))
	}

	a.dispatcher = outbox.NewDispatcher(
		repo,
		a.producer,
		a.config.Broker.Kafka.ChangeEventTopic,
		a.config.Dispatcher,
		a.logger,
		opts...,
	)
	return nil
}

func (a *App) initHTTPServer() error {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	if a.redis != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redis))
	}
	healthRegistry.Register(health.NewFuncChecker("outbox", func(ctx context.Context) error {
		_, err := a.outboxRepo.PendingCount(ctx)
		return err
	}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Server.Port),
		Handler: mux,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(ctx, "HTTP server starting", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.InfowCtx(gCtx, "Starting outbox drain loop",
			"topic", a.config.Broker.Kafka.ChangeEventTopic,
			"drain_interval", a.config.Dispatcher.DrainInterval,
		)
		return a.dispatcher.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down change dispatcher")

	var errs []error

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, nil, a.mongoClient)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Change dispatcher exited successfully")
	return nil
}
