// Package app wires the correlator components for a given configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"correlator/internal/api"
	"correlator/internal/config"
	"correlator/internal/correlator"
	"correlator/internal/ctxstore"
	ctxmemory "correlator/internal/ctxstore/memory"
	ctxnats "correlator/internal/ctxstore/nats"
	ctxredis "correlator/internal/ctxstore/redis"
	"correlator/internal/executor"
	"correlator/internal/ingest"
	"correlator/internal/processor"
	"correlator/internal/publish"
	"correlator/internal/queue"
	kafkaqueue "correlator/internal/queue/kafka"
	memoryqueue "correlator/internal/queue/memory"
	natsqueue "correlator/internal/queue/nats"
	"correlator/internal/retry"
	"correlator/internal/rules"
	"correlator/internal/rules/builtin"
	"correlator/internal/store"
	memorystor "correlator/internal/store/memory"
	postgresstor "correlator/internal/store/postgres"
	"correlator/internal/topology"
)

// Stores groups the persistence layer.
type Stores struct {
	Items      store.SupItemRepository
	Events     store.EventRepository
	CorrEvents store.CorrEventRepository
	History    store.HistoryRepository
	Locker     store.Locker
}

// App holds the running components.
type App struct {
	Server    *api.Server
	Processor *processor.Service
	Executor  *executor.Executor
	Registry  *rules.Registry
	Builder   *correlator.Builder
	Context   *ctxstore.Store
	Stores    Stores

	// Sink drains incident output in memory mode; nil otherwise.
	Sink *memoryqueue.Queue

	cfg        *config.Config
	configPath string
	lookup     *topology.Lookup
	logger     *slog.Logger
	cleanup    []func()
}

// New creates and wires all components based on cfg. configPath is
// re-read on rule reload; an empty path reuses cfg.
func New(ctx context.Context, cfg *config.Config, configPath string, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, configPath: configPath, logger: logger}

	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	var (
		input  queue.Producer
		cons   queue.Consumer
		output queue.Producer
	)

	if cfg.Storage.UseMemory() {
		logger.Info("initializing in-memory storage")

		events := memorystor.NewEventRepository()
		a.Stores = Stores{
			Items:      memorystor.NewSupItemRepository(),
			Events:     events,
			CorrEvents: memorystor.NewCorrEventRepository(events),
			History:    memorystor.NewHistoryRepository(),
			Locker:     memorystor.NewLocker(),
		}

		memQueue := memoryqueue.NewQueue(10000)
		input, cons = memQueue, memQueue
		a.onClose(func() { _ = memQueue.Close() })
	} else {
		logger.Info("initializing production storage (Kafka, PostgreSQL)")

		db, err := postgresstor.NewDB(ctx, &cfg.Postgres)
		if err != nil {
			return err
		}
		a.onClose(db.Close)

		if err := db.RunMigrations(ctx); err != nil {
			return err
		}
		logger.Info("database migrations completed")

		a.Stores = Stores{
			Items:      postgresstor.NewSupItemRepository(db),
			Events:     postgresstor.NewEventRepository(db),
			CorrEvents: postgresstor.NewCorrEventRepository(db),
			History:    postgresstor.NewHistoryRepository(db),
			Locker:     postgresstor.NewAdvisoryLocker(db, logger),
		}

		kafkaProducer := kafkaqueue.NewProducer(&cfg.Kafka, cfg.Kafka.Topic)
		input = kafkaProducer
		a.onClose(func() { _ = kafkaProducer.Close() })

		kafkaConsumer := kafkaqueue.NewConsumer(&cfg.Kafka, logger)
		cons = kafkaConsumer
		a.onClose(func() { _ = kafkaConsumer.Close() })
	}

	var err error
	output, err = a.initOutput()
	if err != nil {
		return err
	}

	backend, err := a.initContextBackend()
	if err != nil {
		return err
	}
	a.Context = ctxstore.New(backend, ctxstore.Options{
		DefaultTTL: cfg.Context.DefaultTTL,
		Retry:      retry.DefaultConfig(),
	}, logger)
	a.onClose(func() { _ = a.Context.Close() })

	topo, err := topology.Load(ctx, cfg.Topology, a.Stores.Items)
	if err != nil {
		return err
	}
	a.lookup = topology.NewLookup(topo, a.Context, a.Stores.Events, a.Stores.CorrEvents, logger)

	a.Registry = rules.NewRegistry(logger)
	if _, err := a.loadRules(cfg.Correlator); err != nil {
		return err
	}
	a.Executor = executor.New(a.Registry, executor.Options{
		Workers:     cfg.Correlator.Workers,
		RuleTimeout: cfg.Correlator.RuleTimeout,
	}, logger)

	publisher := publish.NewQueuePublisher(output, logger)
	a.Builder = correlator.NewBuilder(correlator.Deps{
		Context:         a.Context,
		Topology:        topo,
		Items:           a.Stores.Items,
		Events:          a.Stores.Events,
		CorrEvents:      a.Stores.CorrEvents,
		History:         a.Stores.History,
		Locker:          a.Stores.Locker,
		Publisher:       publisher,
		DefaultPriority: cfg.Correlator.DefaultPriority,
	}, logger)

	a.Processor = processor.NewService(processor.Deps{
		Consumer:   cons,
		Context:    a.Context,
		Items:      a.Stores.Items,
		Events:     a.Stores.Events,
		CorrEvents: a.Stores.CorrEvents,
		Locker:     a.Stores.Locker,
		Rules:      a.Executor,
		Builder:    a.Builder,
		Publisher:  publisher,
	}, logger)

	ingestService := ingest.NewService(input, logger)
	a.Server = api.NewServer(api.ServerDeps{
		Config:          &cfg.Server,
		Logger:          logger,
		IngestHandler:   api.NewIngestHandler(ingestService, logger),
		IncidentHandler: api.NewIncidentHandler(a.Stores.CorrEvents, a.Stores.History, a.Builder, logger),
		RuleHandler:     api.NewRuleHandler(a.Executor, a.ReloadRules, logger),
	})
	return nil
}

// initOutput creates the producer for incident output. Memory mode
// writes to an in-process sink.
func (a *App) initOutput() (queue.Producer, error) {
	cfg := a.cfg
	if cfg.Storage.UseMemory() {
		a.Sink = memoryqueue.NewQueue(10000)
		a.onClose(func() { _ = a.Sink.Close() })
		return a.Sink, nil
	}

	switch cfg.Correlator.Output {
	case config.OutputNATS:
		producer, err := natsqueue.NewProducer(&cfg.NATS)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = producer.Close() })
		return producer, nil
	default:
		producer := kafkaqueue.NewProducer(&cfg.Kafka, cfg.Kafka.OutputTopic)
		a.onClose(func() { _ = producer.Close() })
		return producer, nil
	}
}

// initContextBackend builds the context cache and, when configured,
// layers it over a durable backend.
func (a *App) initContextBackend() (ctxstore.Backend, error) {
	cfg := a.cfg

	var cache ctxstore.Backend
	switch cfg.Context.Cache {
	case config.BackendRedis:
		b, err := ctxredis.NewBackend(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		cache = b
	default:
		cache = ctxmemory.NewBackend()
	}

	var durable ctxstore.Backend
	switch cfg.Context.Durable {
	case config.BackendRedis:
		b, err := ctxredis.NewBackend(&cfg.Redis)
		if err != nil {
			_ = cache.Close()
			return nil, err
		}
		durable = b
	case config.BackendNATS:
		b, err := ctxnats.NewBackend(&cfg.NATS, cfg.Context.DefaultTTL)
		if err != nil {
			_ = cache.Close()
			return nil, err
		}
		durable = b
	default:
		return cache, nil
	}

	a.logger.Info("context store layered",
		"cache", cfg.Context.Cache,
		"durable", cfg.Context.Durable,
	)
	return ctxstore.NewLayered(cache, durable, cfg.Context.DefaultTTL), nil
}

func (a *App) loadRules(cfg config.CorrelatorConfig) ([]string, error) {
	built, err := builtin.Build(cfg.Rules, builtin.Deps{
		Context: a.Context,
		Lookup:  a.lookup,
		Config:  cfg,
		Logger:  a.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := a.Registry.Load(built); err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return a.Registry.Keys(), nil
}

// ReloadRules rebuilds the rule set from the configuration file. The
// current rules stay in place when the new set is invalid.
func (a *App) ReloadRules(_ context.Context) ([]string, error) {
	cfg := a.cfg.Correlator
	if a.configPath != "" {
		next, err := config.Load(a.configPath)
		if err != nil {
			return nil, err
		}
		cfg = next.Correlator
	}
	return a.loadRules(cfg)
}

// Start runs the processor, and the output sink in memory mode, until
// ctx is canceled.
func (a *App) Start(ctx context.Context) error {
	if a.Sink != nil {
		go func() {
			_ = a.Sink.Start(ctx, func(_ context.Context, msg *queue.Message) error {
				a.logger.Debug("incident output", "kind", msg.Header(queue.HeaderKind), "payload", string(msg.Value))
				return nil
			})
		}()
	}
	return a.Processor.Start(ctx)
}

func (a *App) onClose(fn func()) {
	a.cleanup = append(a.cleanup, fn)
}

// Close releases every backend in reverse creation order.
func (a *App) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}
