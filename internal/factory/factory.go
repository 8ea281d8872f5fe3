package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"deception-service/internal/client"
	"deception-service/internal/config"
	"deception-service/internal/deception"
	"deception-service/internal/handler"
	"deception-service/internal/pipeline"
	"deception-service/internal/repository/redisfeed"
	"deception-service/internal/repository/scylla"
	"deception-service/internal/session"
	"deception-service/internal/threatintel"
	"deception-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config *config.Config

	// Clients (optional, gated by config)
	redisClient   *client.RedisClient
	scyllaClient  *scylla.ScyllaClient
	kafkaProducer *client.KafkaProducer

	// Core engine
	store    *session.Store
	engine   *deception.Engine
	intel    *threatintel.Service
	pipeline *pipeline.Pipeline

	// Repositories over optional clients
	attackFeed *redisfeed.AttackFeed
	eventLog   *scylla.AttackEventRepository

	closeOnce sync.Once
}

// NewFactory loads configuration and assembles the whole dependency graph.
// The core engine always comes up; external clients are attached only when
// configured, and their failure is fatal so half-configured deployments die
// loudly instead of silently dropping events.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{config: cfg}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	rng := util.NewRand()
	f.store = session.NewStore(rng)
	f.engine = deception.NewEngine(f.store, rng, util.Get())
	f.intel = threatintel.NewService(util.Get())

	var publisher pipeline.ReportPublisher
	if f.kafkaProducer != nil {
		publisher = f.kafkaProducer
	}
	var sinks []pipeline.EventSink
	if f.eventLog != nil {
		sinks = append(sinks, f.eventLog)
	}
	if f.attackFeed != nil {
		sinks = append(sinks, f.attackFeed)
	}
	f.pipeline = pipeline.New(f.store, f.engine, f.intel, publisher, sinks, util.Get())

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("redis_enabled", cfg.Redis.Enabled),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("scylla_enabled", cfg.Scylla.Enabled),
	)

	return f, nil
}

// initializeClients connects the configured external clients and runs their
// health checks in parallel.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if f.config.Redis.Enabled {
		redisClient, err := client.NewRedisClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = redisClient
		f.attackFeed = redisfeed.NewAttackFeed(redisClient, util.Get())
	}

	if f.config.Scylla.Enabled {
		scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = scyllaClient
		f.eventLog = scylla.NewAttackEventRepository(scyllaClient, util.Get())
	}

	if f.config.Kafka.Enabled {
		producer, err := client.NewKafkaProducer(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		f.kafkaProducer = producer
	}

	g, gctx := errgroup.WithContext(ctx)
	if f.redisClient != nil {
		g.Go(func() error {
			if err := f.redisClient.HealthCheck(gctx); err != nil {
				return fmt.Errorf("redis health check: %w", err)
			}
			return nil
		})
	}
	if f.scyllaClient != nil {
		g.Go(func() error {
			if err := f.scyllaClient.HealthCheck(); err != nil {
				return fmt.Errorf("scylla health check: %w", err)
			}
			return nil
		})
	}
	if f.kafkaProducer != nil {
		g.Go(func() error {
			if err := f.kafkaProducer.HealthCheck(gctx); err != nil {
				return fmt.Errorf("kafka health check: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Pipeline() *pipeline.Pipeline {
	return f.pipeline
}

func (f *Factory) TrapHandler() *handler.TrapHandler {
	return handler.NewTrapHandler(f.pipeline, f.store, f.intel, util.Get())
}

func (f *Factory) FeedHandler() *handler.FeedHandler {
	return handler.NewFeedHandler(f.attackFeed, util.Get())
}

// Close shuts down all clients. Safe to call more than once.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.kafkaProducer != nil {
			_ = f.kafkaProducer.Close()
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			_ = f.redisClient.Close()
		}
		util.Info("Factory closed")
		util.Sync()
	})
}
