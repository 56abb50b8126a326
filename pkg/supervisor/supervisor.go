// Package supervisor wires every subsystem together in dependency order
// and owns their combined lifecycle, grounded on pkg/app.InitializeApp's
// shared-dependency construction and cmd/falcon/main.go's module start/stop
// sequencing.
package supervisor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"wandererkills/internal/broadcaster"
	"wandererkills/internal/enrichment"
	"wandererkills/internal/esi"
	"wandererkills/internal/fetcher"
	"wandererkills/internal/ingestor"
	"wandererkills/internal/preloader"
	"wandererkills/internal/pubsub"
	"wandererkills/internal/store"
	"wandererkills/internal/subscription"
	"wandererkills/internal/taskpool"
	transporthttp "wandererkills/internal/transport/http"
	"wandererkills/internal/transport/websocket"
	"wandererkills/pkg/config"
)

// Supervisor holds every wired subsystem and the transport Core derived
// from them, ready to be mounted by cmd/wandererkills.
type Supervisor struct {
	Store    *store.Store
	Registry *subscription.Registry
	Hub      *websocket.Hub
	Core     *transporthttp.Core

	redis    *redis.Client
	bus      *pubsub.Bus
	gc       *store.GCWorker
	pool     *taskpool.Pool
	consumer *ingestor.Consumer
	logger   *slog.Logger
}

// New constructs every subsystem in dependency order: store, taskpool,
// subscription registry, websocket hub, Redis client, pub/sub bus,
// broadcaster, preloader, ESI resolver, enrichment pipeline, ingestor.
// Nothing is started yet.
func New(logger *slog.Logger) (*Supervisor, error) {
	s := store.New(store.WithTracing(config.EnableTelemetry()))

	gc, err := store.NewGCWorker(s, config.StoreGCSchedule(), logger)
	if err != nil {
		return nil, err
	}

	pool := taskpool.New(config.TaskPoolWorkers(), config.TaskPoolQueueSize(), logger)
	registry := subscription.NewRegistry()
	hub := websocket.NewHub(logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr(),
		Password: config.RedisPassword(),
		DB:       config.RedisDB(),
	})

	// bcast and bus are mutually dependent: the broadcaster publishes
	// through the bus, and the bus hands remote messages back to the
	// broadcaster. The handler closure defers the broadcaster lookup past
	// its own assignment below, so neither needs a setter.
	var bcast *broadcaster.Broadcaster
	bus := pubsub.New(redisClient, func(payload json.RawMessage) { bcast.HandleRemote(payload) }, logger)
	bcast = broadcaster.New(s, registry, hub, pool, bus, logger)

	pl := preloader.New(s, pool, bcast, logger)

	esiHTTPClient := &http.Client{Timeout: 30 * time.Second}
	if config.EnableTelemetry() {
		esiHTTPClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	httpClient := fetcher.New(esiHTTPClient, logger)
	resolver := esi.New(config.ESIBaseURL(), httpClient, s)
	pipeline := enrichment.New(s, resolver, bcast, logger)

	cfg := ingestor.DefaultConfig()
	cfg.Endpoint = config.RedisQEndpoint()
	consumer := ingestor.New(cfg, pipeline, s, logger)

	core := &transporthttp.Core{
		Store:     s,
		Registry:  registry,
		Preloader: pl,
		Ingestor:  consumer,
	}

	return &Supervisor{
		Store:    s,
		Registry: registry,
		Hub:      hub,
		Core:     core,
		redis:    redisClient,
		bus:      bus,
		gc:       gc,
		pool:     pool,
		consumer: consumer,
		logger:   logger,
	}, nil
}

// Start begins every background subsystem: the task pool, GC sweeper,
// pub/sub listener, and the RedisQ ingestor itself. Order matters — the
// ingestor must start last since it immediately begins driving the
// enrichment pipeline, which depends on everything above it.
func (s *Supervisor) Start(ctx context.Context) error {
	s.pool.Start(ctx)
	s.gc.Start()
	s.bus.Start(ctx)

	if err := s.consumer.Start(ctx); err != nil {
		return err
	}

	s.logger.Info("supervisor started")
	return nil
}

// Stop tears every subsystem down in reverse dependency order. ctx is not
// consulted; the ingestor's own Stop bounds its wait at 30s.
func (s *Supervisor) Stop(ctx context.Context) {
	if err := s.consumer.Stop(); err != nil {
		s.logger.Warn("ingestor stop error", "error", err)
	}
	if err := s.bus.Stop(); err != nil {
		s.logger.Warn("pubsub bus stop error", "error", err)
	}
	s.gc.Stop()
	s.pool.Stop()
	if err := s.redis.Close(); err != nil {
		s.logger.Warn("redis close error", "error", err)
	}
	s.logger.Info("supervisor stopped")
}
