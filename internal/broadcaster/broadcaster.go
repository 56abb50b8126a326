// Package broadcaster matches an enriched killmail against active
// subscriptions and fans it out to each interested subscriber: over
// WebSocket directly, via a webhook dispatched through the task pool, and
// across process instances via the pub/sub bus.
//
// Grounded on internal/websocket/services/connection.go's
// SendToConnection/BroadcastToAll dispatch shape and
// internal/scheduler/engine.go's worker pool for the webhook leg.
package broadcaster

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"wandererkills/internal/killmail"
	"wandererkills/internal/store"
	"wandererkills/internal/subscription"
	"wandererkills/internal/taskpool"
)

// outboundQueueSize bounds each subscriber's WebSocket outbound queue. Once
// full, the oldest pending message is dropped in favor of the newest —
// a subscriber that falls behind loses the stalest kills first, not the
// connection itself.
const outboundQueueSize = 256

// subscriptionOffsetNamespace and subscriptionOffsetTTL back the resumable
// delivery offset: the highest offset dispatched to each subscriber, kept
// just long enough that a reconnecting subscriber can catch up.
const (
	subscriptionOffsetNamespace = "subscription_offset"
	subscriptionOffsetTTL       = 3 * 24 * time.Hour
)

// webhookMaxAttempts and the backoff constants match the retry contract
// every outbound HTTP call in this service follows: base 1s, factor 2, cap
// 30s, full jitter.
const (
	webhookMaxAttempts = 5
	webhookBaseBackoff = 1 * time.Second
	webhookMaxBackoff  = 30 * time.Second
)

// WebSocketSink delivers a JSON-able payload to one connected subscriber.
// Satisfied by the websocket transport adapter.
type WebSocketSink interface {
	Send(subscriberID string, payload any) bool
}

// Publisher fans a killmail out to other process instances. Satisfied by
// *pubsub.Bus.
type Publisher interface {
	Publish(ctx context.Context, payload json.RawMessage) error
}

// DetailedKillUpdate is the outbound envelope delivered to every WebSocket
// and webhook subscriber.
type DetailedKillUpdate struct {
	Type string                  `json:"type"`
	Data DetailedKillUpdateData `json:"data"`
}

// DetailedKillUpdateData is the payload carried by a DetailedKillUpdate.
// Kills is a slice for forward compatibility with batched delivery, but
// today's dispatch always fills it with exactly one killmail.
type DetailedKillUpdateData struct {
	SolarSystemID int64                `json:"solar_system_id"`
	Kills         []*killmail.Killmail `json:"kills"`
	Timestamp     time.Time            `json:"timestamp"`
}

func newDetailedKillUpdate(km *killmail.Killmail) *DetailedKillUpdate {
	return &DetailedKillUpdate{
		Type: "detailed_kill_update",
		Data: DetailedKillUpdateData{
			SolarSystemID: km.SystemID,
			Kills:         []*killmail.Killmail{km},
			Timestamp:     time.Now(),
		},
	}
}

// busMessage wraps a killmail for the pub/sub bus, carrying the offset
// assigned to it at persist time so every instance derives the same
// subscription_offset value regardless of which instance first processed
// the kill.
type busMessage struct {
	Killmail *killmail.Killmail `json:"killmail"`
	Offset   int64              `json:"offset"`
}

// Broadcaster matches killmails against the subscription registry and
// dispatches to each interested subscriber by its configured delivery mode.
type Broadcaster struct {
	store    *store.Store
	registry *subscription.Registry
	ws       WebSocketSink
	pool     *taskpool.Pool
	publish  Publisher
	http     *http.Client
	logger   *slog.Logger

	mu     sync.Mutex
	queues map[string]chan *killmail.Killmail

	deadLetters atomic.Int64
}

// New builds a Broadcaster.
func New(s *store.Store, registry *subscription.Registry, ws WebSocketSink, pool *taskpool.Pool, publish Publisher, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		store:    s,
		registry: registry,
		ws:       ws,
		pool:     pool,
		publish:  publish,
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
		queues:   make(map[string]chan *killmail.Killmail),
	}
}

// DeadLetterCount returns the number of webhook deliveries that exhausted
// every retry or failed terminally, for surfacing via status/metrics.
func (b *Broadcaster) DeadLetterCount() int64 {
	return b.deadLetters.Load()
}

// Publish matches km against the registry and dispatches it to every
// interested subscriber, and republishes it over the pub/sub bus for other
// instances to match against their own local connections. offset is the
// monotonic sequence number the enrichment pipeline assigned at persist
// time. It implements enrichment.Sink.
func (b *Broadcaster) Publish(ctx context.Context, km *killmail.Killmail, offset int64) {
	b.dispatchLocal(ctx, km, offset)

	payload, err := json.Marshal(busMessage{Killmail: km, Offset: offset})
	if err != nil {
		b.logger.Error("failed to marshal killmail for pub/sub", "killmail_id", km.ID, "error", err)
		return
	}
	if err := b.publish.Publish(ctx, payload); err != nil {
		b.logger.Warn("failed to publish killmail to pub/sub bus", "killmail_id", km.ID, "error", err)
	}
}

// HandleRemote processes a killmail payload received from another instance
// over the pub/sub bus: matched and dispatched locally, but never
// republished (that would echo forever).
func (b *Broadcaster) HandleRemote(payload json.RawMessage) {
	var msg busMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logger.Error("failed to unmarshal remote killmail", "error", err)
		return
	}
	b.dispatchLocal(context.Background(), msg.Killmail, msg.Offset)
}

func (b *Broadcaster) dispatchLocal(ctx context.Context, km *killmail.Killmail, offset int64) {
	for _, subID := range b.registry.Interested(km) {
		sub, err := b.registry.Get(subID)
		if err != nil {
			continue
		}
		switch sub.Mode {
		case subscription.DeliveryWebSocket:
			b.enqueueWebSocket(sub.ID, km)
		case subscription.DeliveryWebhook:
			b.dispatchWebhook(ctx, sub, km)
		}
		b.recordOffset(ctx, sub, offset)
	}
}

// recordOffset advances sub's delivery offset both in the in-memory
// registry (for Interested/Get callers within this process) and in the
// store's subscription_offset namespace (for a reconnecting subscriber, or
// another instance, to resume from). Recorded at dispatch time rather than
// delivery-confirmation time: webhook delivery is asynchronous through the
// task pool with no confirmation channel back to this call site.
func (b *Broadcaster) recordOffset(ctx context.Context, sub *subscription.Subscription, offset int64) {
	b.registry.UpdateOffset(sub.ID, offset)
	b.store.UpdateWithTTL(ctx, subscriptionOffsetNamespace, sub.SubscriberID, subscriptionOffsetTTL, func(cur any) any {
		if curOffset, ok := cur.(int64); ok && curOffset > offset {
			return curOffset
		}
		return offset
	})
}

// DeliverTo sends km directly to subscriberID over its WebSocket outbound
// queue, bypassing subscription matching. Used by internal/preloader to
// backfill a newly created subscription, which already knows the
// subscriber wants km without consulting the registry.
func (b *Broadcaster) DeliverTo(subscriberID string, km *killmail.Killmail) {
	b.enqueueWebSocket(subscriberID, km)
}

// enqueueWebSocket delivers km to a subscriber's bounded outbound queue,
// dropping the oldest queued message if it's full, and spins up the
// per-subscriber drain goroutine on first use.
func (b *Broadcaster) enqueueWebSocket(subscriberID string, km *killmail.Killmail) {
	b.mu.Lock()
	q, ok := b.queues[subscriberID]
	if !ok {
		q = make(chan *killmail.Killmail, outboundQueueSize)
		b.queues[subscriberID] = q
		go b.drainQueue(subscriberID, q)
	}
	b.mu.Unlock()

	select {
	case q <- km:
	default:
		select {
		case <-q:
		default:
		}
		select {
		case q <- km:
		default:
		}
	}
}

func (b *Broadcaster) drainQueue(subscriberID string, q chan *killmail.Killmail) {
	for km := range q {
		if !b.ws.Send(subscriberID, newDetailedKillUpdate(km)) {
			b.logger.Debug("websocket delivery failed, subscriber likely disconnected", "subscriber_id", subscriberID)
		}
	}
}

// RemoveSubscriber tears down a subscriber's outbound queue, e.g. on
// disconnect.
func (b *Broadcaster) RemoveSubscriber(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[subscriberID]; ok {
		close(q)
		delete(b.queues, subscriberID)
	}
}

// dispatchWebhook submits one task to the shared pool that POSTs the
// detailed_kill_update envelope to sub's callback URL, retrying retriable
// failures up to webhookMaxAttempts times with exponential backoff, and
// recording a dead letter on terminal failure or retry exhaustion.
func (b *Broadcaster) dispatchWebhook(ctx context.Context, sub *subscription.Subscription, km *killmail.Killmail) {
	submitted := b.pool.Submit(func(taskCtx context.Context) {
		body, err := json.Marshal(newDetailedKillUpdate(km))
		if err != nil {
			b.logger.Error("failed to marshal killmail for webhook", "killmail_id", km.ID, "error", err)
			b.deadLetters.Add(1)
			return
		}
		requestID := uuid.NewString()

		for attempt := 0; attempt < webhookMaxAttempts; attempt++ {
			req, err := http.NewRequestWithContext(taskCtx, http.MethodPost, sub.WebhookURL, bytes.NewReader(body))
			if err != nil {
				b.logger.Error("failed to build webhook request", "subscriber_id", sub.SubscriberID, "error", err)
				b.deadLetters.Add(1)
				return
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Request-Id", requestID)

			resp, err := b.http.Do(req)
			if err != nil {
				if attempt == webhookMaxAttempts-1 {
					b.logger.Warn("webhook delivery failed after every retry, dead-lettering",
						"subscriber_id", sub.SubscriberID, "killmail_id", km.ID, "attempts", attempt+1, "error", err)
					b.deadLetters.Add(1)
					return
				}
				b.logger.Warn("webhook delivery failed, retrying", "subscriber_id", sub.SubscriberID, "attempt", attempt, "error", err)
				if !sleepWithContext(taskCtx, webhookBackoff(attempt)) {
					b.deadLetters.Add(1)
					return
				}
				continue
			}
			resp.Body.Close()

			if resp.StatusCode < 300 {
				return
			}

			if !isRetriableWebhookStatus(resp.StatusCode) || attempt == webhookMaxAttempts-1 {
				b.logger.Warn("webhook delivery terminally failed, dead-lettering",
					"subscriber_id", sub.SubscriberID, "killmail_id", km.ID, "status", resp.StatusCode, "attempt", attempt)
				b.deadLetters.Add(1)
				return
			}

			b.logger.Warn("webhook rejected delivery, retrying",
				"subscriber_id", sub.SubscriberID, "status", resp.StatusCode, "attempt", attempt)
			if !sleepWithContext(taskCtx, webhookBackoff(attempt)) {
				b.deadLetters.Add(1)
				return
			}
		}
	})
	if !submitted {
		b.logger.Warn("webhook dispatch dropped, task pool saturated", "subscriber_id", sub.SubscriberID, "killmail_id", km.ID)
		b.deadLetters.Add(1)
	}
}

// isRetriableWebhookStatus classifies which non-2xx responses are worth
// retrying: rate-limit and upstream-unavailable codes, plus any other 5xx.
// Everything else (4xx other than 429) is a terminal rejection.
func isRetriableWebhookStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return status >= 500
	}
}

// webhookBackoff doubles per attempt starting at webhookBaseBackoff, capped
// at webhookMaxBackoff, with full jitter applied.
func webhookBackoff(attempt int) time.Duration {
	d := webhookBaseBackoff * time.Duration(int64(1)<<uint(attempt))
	if d > webhookMaxBackoff {
		d = webhookMaxBackoff
	}
	return time.Duration(rand.Int63n(int64(d)))
}

// sleepWithContext waits for d or taskCtx's cancellation, whichever comes
// first, reporting whether the sleep completed without cancellation.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
