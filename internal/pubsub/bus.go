// Package pubsub fans killmail broadcasts out across process instances over
// Redis Pub/Sub, so a subscriber connected to one instance still hears
// about a killmail ingested by another.
//
// Grounded on internal/websocket/services/redis.go's RedisHub: one channel,
// a per-process serverID stamped on every message so a publisher ignores
// its own echo, and a background listen loop over pubsub.Channel().
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Channel is the single Redis Pub/Sub channel killmail broadcasts travel
// over. Unlike the teacher's four-channel split (general/room/user/system),
// WandererKills has one message shape to fan out — the enriched killmail —
// so one channel suffices.
const Channel = "wandererkills:killmails"

// envelope wraps a published payload with the publishing server's id so
// receivers can suppress their own echo.
type envelope struct {
	ServerID  string          `json:"server_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler processes a payload received from another instance.
type Handler func(payload json.RawMessage)

// Bus is a Redis-backed pub/sub fan-out for killmail broadcasts.
type Bus struct {
	client   *redis.Client
	serverID string
	pubsub   *redis.PubSub
	handler  Handler
	logger   *slog.Logger
}

// New builds a Bus. handler is invoked for every message received from a
// different server instance; messages this instance published are
// suppressed.
func New(client *redis.Client, handler Handler, logger *slog.Logger) *Bus {
	return &Bus{
		client:   client,
		serverID: uuid.NewString(),
		handler:  handler,
		logger:   logger,
	}
}

// Start subscribes to Channel and begins the listen loop in the background.
func (b *Bus) Start(ctx context.Context) {
	b.pubsub = b.client.Subscribe(ctx, Channel)
	b.logger.Info("pubsub bus started", "server_id", b.serverID, "channel", Channel)
	go b.listen(ctx)
}

// Stop closes the underlying subscription.
func (b *Bus) Stop() error {
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}

func (b *Bus) listen(ctx context.Context) {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleMessage(msg)
		}
	}
}

func (b *Bus) handleMessage(msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.logger.Error("failed to unmarshal pubsub message", "error", err)
		return
	}
	if env.ServerID == b.serverID {
		return
	}
	b.handler(env.Payload)
}

// Publish broadcasts payload to every other instance subscribed to
// Channel.
func (b *Bus) Publish(ctx context.Context, payload json.RawMessage) error {
	env := envelope{ServerID: b.serverID, Payload: payload, Timestamp: time.Now()}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling pubsub envelope: %w", err)
	}
	return b.client.Publish(ctx, Channel, data).Err()
}

// ServerID returns this instance's pub/sub identity.
func (b *Bus) ServerID() string {
	return b.serverID
}
