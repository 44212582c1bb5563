// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/progress-tracker/internal/api"
	"github.com/JakeFAU/progress-tracker/internal/clock/system"
	"github.com/JakeFAU/progress-tracker/internal/config"
	"github.com/JakeFAU/progress-tracker/internal/id/uuid"
	"github.com/JakeFAU/progress-tracker/internal/janitor"
	"github.com/JakeFAU/progress-tracker/internal/logging"
	"github.com/JakeFAU/progress-tracker/internal/metrics"
	"github.com/JakeFAU/progress-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/progress-tracker/internal/progress"
	progresssinks "github.com/JakeFAU/progress-tracker/internal/progress/sinks"
	"github.com/JakeFAU/progress-tracker/internal/publisher"
	kafkapublisher "github.com/JakeFAU/progress-tracker/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/progress-tracker/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/progress-tracker/internal/publisher/pubsub"
	redispublisher "github.com/JakeFAU/progress-tracker/internal/publisher/redis"
	memorystore "github.com/JakeFAU/progress-tracker/internal/storage/memory"
	pgstore "github.com/JakeFAU/progress-tracker/internal/storage/postgres"
	redisstore "github.com/JakeFAU/progress-tracker/internal/storage/redis"
	"github.com/JakeFAU/progress-tracker/internal/store"
	"github.com/JakeFAU/progress-tracker/internal/stream"
	"github.com/JakeFAU/progress-tracker/internal/telemetry"
	"github.com/JakeFAU/progress-tracker/internal/tracker"
)

// Options overrides collaborators that tests need to isolate.
type Options struct {
	// Logger replaces the config-built logger when set.
	Logger *zap.Logger
	// Registerer receives the progress collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	store          store.Store
	redisClient    goredis.UniversalClient
	ownsRedis      bool
	pubsubClient   *pubsub.Client
	pubsubPub      *pubsub.Publisher
	kafkaPub       *kafkapublisher.Publisher
	memoryPub      *memorypublisher.Publisher
	progressHub    *progress.Hub
	service        *tracker.Service
	scheduler      *janitor.Scheduler
	apiServer      *api.Server
	tracerProvider *sdktrace.TracerProvider
}

// Build creates the application's dependencies. On error every resource
// opened so far is released.
func Build(ctx context.Context, cfg config.Config, opts Options) (app *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.Background())
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.String("notify", cfg.Notify.Backend),
	)

	if cfg.Telemetry.Enabled {
		app.tracerProvider, err = telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
	} else {
		telemetry.InitPropagation()
	}

	clock := system.New()
	if err = setupStore(ctx, app, clock); err != nil {
		return nil, err
	}
	pub, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupProgress(ctx, app, pub, opts.Registerer); err != nil {
		return nil, err
	}

	app.service = tracker.NewService(
		app.store,
		app.progressHub,
		clock,
		uuid.NewUUIDGenerator(),
		tracker.Config{
			TTL:          cfg.Tracker.TTL,
			Retention:    cfg.Janitor.Retention,
			MaxListLimit: cfg.Tracker.MaxListLimit,
		},
		logger.Named("tracker"),
	)

	if cfg.Janitor.Enabled {
		app.scheduler, err = janitor.NewScheduler(
			app.service,
			cfg.Janitor.Schedule,
			cfg.Janitor.Timeout,
			logger.Named("janitor"),
		)
		if err != nil {
			return nil, fmt.Errorf("janitor init failed: %w", err)
		}
	}

	sessions := stream.NewSession(app.service, stream.Config{
		PollInterval:      cfg.Stream.PollInterval,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
	}, logger.Named("stream"))

	var ready func(context.Context) error
	if p, ok := app.store.(store.Pinger); ok {
		ready = p.Ping
	}
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   cfg.Server.RateLimitRPS,
		Burst: cfg.Server.RateLimitBurst,
	})
	app.apiServer = api.NewServer(app.service, sessions, api.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		Ready:          ready,
		Limiter:        limiter,
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		Logger:         logger.Named("api"),
	})
	return app, nil
}

// Service exposes the tracker service for one-shot commands.
func (a *App) Service() *tracker.Service {
	return a.service
}

// Subscribe attaches an in-process receiver to the notification channel. It
// returns false unless notify.backend is memory.
func (a *App) Subscribe(buffer int) (<-chan memorypublisher.PublishedMessage, func(), bool) {
	if a.memoryPub == nil {
		return nil, func() {}, false
	}
	ch, cancel := a.memoryPub.Subscribe(a.cfg.Notify.Channel, buffer)
	return ch, cancel, true
}

// Scheduler returns the retention scheduler, or nil when it is disabled.
func (a *App) Scheduler() *janitor.Scheduler {
	return a.scheduler
}

// Handler returns the HTTP handler tree.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves HTTP and the retention schedule until ctx is canceled or a
// termination signal arrives, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if a.scheduler != nil {
		a.scheduler.Start()
	}

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
			return
		}
		serveErr <- nil
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	err := <-serveErr
	if cerr := a.Close(shutdownCtx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.logger.Warn("janitor stop failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPub != nil {
		a.pubsubPub.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.kafkaPub != nil {
		if err := a.kafkaPub.Close(); err != nil {
			a.logger.Warn("kafka producer close failed", zap.Error(err))
		}
	}
	if a.memoryPub != nil {
		_ = a.memoryPub.Close()
	}
	if a.ownsRedis && a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis notifier close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func setupStore(ctx context.Context, app *App, clock *system.Clock) error {
	cfg := app.cfg.Store
	switch cfg.Backend {
	case config.BackendRedis:
		st, err := redisstore.NewKVStore(ctx, redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			Namespace: cfg.Namespace,
		})
		if err != nil {
			return fmt.Errorf("redis store init failed: %w", err)
		}
		app.store = st
		app.redisClient = st.Client()
		app.logger.Info("using redis store", zap.String("addr", cfg.Redis.Addr))
	case config.BackendPostgres:
		st, err := pgstore.NewKVStore(ctx, pgstore.KVStoreConfig{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		app.store = st
		app.logger.Info("using postgres store", zap.String("table", cfg.Postgres.Table))
	default:
		app.logger.Warn("using in-memory store; trackers are lost on restart")
		app.store = memorystore.NewKVStore(clock)
	}
	return nil
}

func setupPublisher(ctx context.Context, app *App) (publisher.Publisher, error) {
	switch app.cfg.Notify.Backend {
	case config.NotifyNone:
		app.logger.Info("progress notifications disabled")
		return nil, nil
	case config.NotifyRedis:
		if app.redisClient == nil {
			redisCfg := app.cfg.Store.Redis
			app.redisClient = goredis.NewClient(&goredis.Options{
				Addr:     redisCfg.Addr,
				Password: redisCfg.Password,
				DB:       redisCfg.DB,
				PoolSize: redisCfg.PoolSize,
			})
			app.ownsRedis = true
		}
		app.logger.Info("redis notifier initialized", zap.String("channel", app.cfg.Notify.Channel))
		return redispublisher.New(app.redisClient), nil
	case config.NotifyPubSub:
		var err error
		app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubPub = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
		app.logger.Info(
			"Pub/Sub publisher initialized",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.PubSub.TopicName),
		)
		return gcppublisher.New(app.pubsubPub), nil
	case config.NotifyKafka:
		var err error
		app.kafkaPub, err = kafkapublisher.New(kafkapublisher.Config{
			Brokers:  app.cfg.Kafka.Brokers,
			ClientID: app.cfg.Kafka.ClientID,
			Timeout:  app.cfg.Kafka.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("kafka producer init failed: %w", err)
		}
		app.logger.Info("kafka notifier initialized", zap.Strings("brokers", app.cfg.Kafka.Brokers))
		return app.kafkaPub, nil
	default:
		app.logger.Info("using in-memory notifier", zap.String("channel", app.cfg.Notify.Channel))
		app.memoryPub = memorypublisher.New()
		return app.memoryPub, nil
	}
}

func setupProgress(
	ctx context.Context,
	app *App,
	pub publisher.Publisher,
	reg prometheus.Registerer,
) error {
	var sinkList []progress.Sink
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if pub != nil {
		sinkList = append(sinkList, progresssinks.NewPublisherSink(
			pub,
			app.cfg.Notify.Channel,
			app.logger.Named("progress_publisher"),
		))
		app.logger.Debug("Added progress publisher sink", zap.String("channel", app.cfg.Notify.Channel))
	}
	if app.cfg.Notify.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("Added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:   app.cfg.Notify.BufferSize,
		MaxBatchSize: app.cfg.Notify.MaxBatchSize,
		MaxBatchWait: app.cfg.Notify.MaxBatchWait,
		SinkTimeout:  app.cfg.Notify.SinkTimeout,
		BaseContext:  ctx,
		Logger:       app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	if err = progresssinks.RegisterHubCollectors(reg, app.progressHub); err != nil {
		return fmt.Errorf("progress hub metrics init failed: %w", err)
	}
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_size", hubCfg.MaxBatchSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}
