package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/tutor-core/internal/adapters/driven/ai"
	"github.com/custodia-labs/tutor-core/internal/adapters/driven/auth"
	"github.com/custodia-labs/tutor-core/internal/adapters/driven/kafka"
	"github.com/custodia-labs/tutor-core/internal/adapters/driven/memory"
	"github.com/custodia-labs/tutor-core/internal/adapters/driven/postgres"
	postgresqueue "github.com/custodia-labs/tutor-core/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/custodia-labs/tutor-core/internal/adapters/driven/queue/redis"
	redisadapter "github.com/custodia-labs/tutor-core/internal/adapters/driven/redis"
	"github.com/custodia-labs/tutor-core/internal/adapters/driving/http"
	"github.com/custodia-labs/tutor-core/internal/config"
	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driving"
	"github.com/custodia-labs/tutor-core/internal/core/services"
	"github.com/custodia-labs/tutor-core/internal/runtime"
	"github.com/custodia-labs/tutor-core/internal/worker"
)

// eventBus is both ends of the in-cluster event channel
type eventBus interface {
	driven.EventPublisher
	driven.EventSubscriber
}

// app is the fully wired process
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db    *postgres.DB
	redis *redis.Client
	queue driven.TaskQueue
	lock  driven.DistributedLock
	bus   eventBus
	pub   *runtime.Fanout
	gen   *runtime.Services
	cache *services.ContentCache

	topics     driving.TopicService
	outlines   driving.OutlineService
	paragraphs driving.ParagraphService
	progress   driving.ProgressService
	resumption driving.ResumptionService
}

// newApp connects infrastructure and builds the services. Redis is
// optional; without it the queue and leases live in Postgres and the
// snapshot cache, sessions and events stay in process.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger.Info("connecting to postgres")
	a.db, err = postgres.Connect(ctx, postgresConfig(cfg.Database))
	if err != nil {
		return nil, err
	}
	if err := a.db.InitSchema(ctx); err != nil {
		return nil, err
	}

	var (
		sessions driven.ReadingSessionStore
		snapshot driven.SnapshotCache
	)
	queueBackend, localBackend := domain.BackendPostgres, domain.BackendMemory
	if cfg.Redis.Enabled() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("redis connected")

		queue, err := redisqueue.NewQueue(a.redis, consumerName())
		if err != nil {
			return nil, fmt.Errorf("create task queue: %w", err)
		}
		a.queue = queue
		a.lock = redisadapter.NewLock(a.redis)
		a.bus = redisadapter.NewEventBus(a.redis, logger)
		sessions = redisadapter.NewSessionStore(a.redis, 0)
		snapshot = redisadapter.NewSnapshotCache(a.redis, cfg.Cache.SnapshotTTL)
		queueBackend, localBackend = domain.BackendRedis, domain.BackendRedis
	} else {
		lru, err := memory.NewSnapshotCache(cfg.Cache.SnapshotSize, cfg.Cache.SnapshotTTL)
		if err != nil {
			return nil, err
		}
		a.queue = postgresqueue.NewQueue(a.db.DB)
		a.lock = postgres.NewLeaseLock(a.db)
		a.bus = memory.NewEventBus(logger)
		sessions = memory.NewSessionStore()
		snapshot = lru
	}

	publishers := []driven.EventPublisher{a.bus}
	eventBackends := []string{localBackend}
	if len(cfg.Events.KafkaBrokers) > 0 {
		pub, err := kafka.NewPublisher(kafka.Config{
			Brokers: cfg.Events.KafkaBrokers,
			Topic:   cfg.Events.KafkaTopic,
		})
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, pub)
		eventBackends = append(eventBackends, domain.BackendKafka)
		logger.Info("publishing events to kafka", "topic", cfg.Events.KafkaTopic)
	}
	a.pub = runtime.NewFanout(logger, publishers...)

	a.gen = runtime.NewServices(domain.NewRuntimeConfig(localBackend, queueBackend, eventBackends...))

	generator, err := ai.NewFactory().CreateGenerator(&ai.Settings{
		Provider: ai.Provider(cfg.AI.Provider),
		APIKey:   cfg.AI.APIKey,
		Model:    cfg.AI.Model,
		BaseURL:  cfg.AI.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	a.gen.SetGenerator(ctx, generator)

	topicStore := postgres.NewTopicStore(a.db)
	outlineStore := postgres.NewOutlineStore(a.db)
	progressStore := postgres.NewProgressStore(a.db)

	a.cache = services.NewContentCache(services.ContentCacheConfig{
		Store:    postgres.NewCacheStore(a.db),
		Snapshot: snapshot,
		Topics:   topicStore,
		Outlines: outlineStore,
		Logger:   logger,
	})
	a.topics = services.NewTopicService(topicStore, outlineStore, a.cache, logger)
	a.outlines = services.NewOutlineService(services.OutlineServiceConfig{
		Topics:      topicStore,
		Outlines:    outlineStore,
		Generator:   a.gen,
		Cache:       a.cache,
		Lock:        a.lock,
		Events:      a.pub,
		Queue:       a.queue,
		Timeout:     cfg.Generation.OutlineTimeout,
		LeaseTTL:    cfg.Generation.LeaseTTL,
		MaxChapters: cfg.Generation.MaxChapters,
		Logger:      logger,
	})
	a.paragraphs = services.NewParagraphService(services.ParagraphServiceConfig{
		Topics:    topicStore,
		Outlines:  outlineStore,
		Generator: a.gen,
		Cache:     a.cache,
		Lock:      a.lock,
		Events:    a.pub,
		Timeout:   cfg.Generation.ParagraphTimeout,
		LeaseTTL:  cfg.Generation.LeaseTTL,
		Logger:    logger,
	})
	a.progress = services.NewProgressService(services.ProgressServiceConfig{
		Topics:       topicStore,
		Outlines:     outlineStore,
		Progress:     progressStore,
		Sessions:     sessions,
		Events:       a.pub,
		Queue:        a.queue,
		PrefetchNext: cfg.Generation.PrefetchNext,
		MaxSession:   cfg.Worker.MaxSession,
		Logger:       logger,
	})
	a.resumption = services.NewResumptionService(topicStore, outlineStore, progressStore)

	rc := a.gen.Config()
	logger.Info("runtime config",
		"session_backend", rc.SessionBackend,
		"queue_backend", rc.QueueBackend,
		"event_backends", rc.EventBackends,
		"generator_available", rc.GeneratorAvailable(),
		"generator_model", rc.GeneratorModel(),
	)
	return a, nil
}

// Run starts the requested components and blocks until ctx is done
func (a *app) Run(ctx context.Context, m mode) error {
	g, ctx := errgroup.WithContext(ctx)

	if m.worker {
		w := a.newWorker()
		g.Go(func() error {
			if err := w.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			w.Stop()
			return nil
		})
	}
	if m.api {
		srv := a.newServer()
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	err := g.Wait()
	// background cache writes finish before the stores close
	a.cache.Wait()
	return err
}

func (a *app) newWorker() *worker.Worker {
	var scheduler *services.Scheduler
	if a.cfg.Scheduler.Enabled {
		scheduler = services.NewScheduler(services.SchedulerConfig{
			Tasks: []*domain.ScheduledTask{
				domain.NewScheduledTask("purge-orphans", domain.TaskTypePurgeOrphans, a.cfg.Worker.PurgeInterval),
			},
			TaskQueue:    a.queue,
			Lock:         a.lock,
			Logger:       a.logger,
			PollInterval: a.cfg.Scheduler.PollInterval,
		})
	}
	return worker.NewWorker(worker.WorkerConfig{
		TaskQueue:      a.queue,
		Outlines:       a.outlines,
		Paragraphs:     a.paragraphs,
		Progress:       a.progress,
		Scheduler:      scheduler,
		Logger:         a.logger,
		Concurrency:    a.cfg.Worker.Concurrency,
		DequeueTimeout: a.cfg.Worker.DequeueTimeout,
	})
}

func (a *app) newServer() *http.Server {
	var tokens driven.TokenVerifier
	if a.cfg.Auth.JWTSecret != "" {
		tokens = auth.NewAdapter(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer)
	} else {
		a.logger.Warn("auth.jwt_secret is not set; authenticated routes will reject every request")
	}

	checks := []http.Check{
		{Name: "postgres", Pinger: a.db},
		{Name: "queue", Pinger: a.queue},
	}
	if a.redis != nil {
		checks = append(checks, http.Check{Name: "redis", Pinger: a.lock})
	}

	return http.NewServer(http.Config{
		Host:            a.cfg.HTTP.Host,
		Port:            a.cfg.HTTP.Port,
		Version:         version,
		ShutdownTimeout: a.cfg.HTTP.ShutdownTimeout,
	}, http.Services{
		Topics:     a.topics,
		Outlines:   a.outlines,
		Paragraphs: a.paragraphs,
		Progress:   a.progress,
		Resumption: a.resumption,
		Cache:      a.cache,
		Events:     a.bus,
		Tokens:     tokens,
		Runtime:    a.gen.Config(),
		Checks:     checks,
		Logger:     a.logger,
	})
}

// Close releases connections in reverse order of creation
func (a *app) Close() {
	var errs []error
	if a.pub != nil {
		errs = append(errs, a.pub.Close())
	} else if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown", "error", err)
	}
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "tutor"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().Unix())
}
