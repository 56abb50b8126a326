// Package preloader backfills a newly created subscription with recently
// seen killmails for its systems/characters, so a subscriber doesn't have
// to wait for fresh activity to see anything.
//
// Grounded on internal/scheduler/engine.go's executor-registration shape,
// pared to the single task type this spec needs.
package preloader

import (
	"context"
	"log/slog"
	"strconv"

	"wandererkills/internal/killmail"
	"wandererkills/internal/store"
	"wandererkills/internal/subscription"
	"wandererkills/internal/taskpool"
)

// backfillLimit bounds how many recent killmails a single subscription
// backfill delivers per subject (the newest ids of each list).
const backfillLimit = 50

// Sink receives a backfilled killmail the same way a live one would be
// delivered. Satisfied by *broadcaster.Broadcaster (used for its
// subscriber-targeted WebSocket send, not its full match-and-fan-out path).
type Sink interface {
	// DeliverTo sends km directly to subscriberID, bypassing the match
	// step since preload already knows the subscriber wants it.
	DeliverTo(subscriberID string, km *killmail.Killmail)
}

// Preloader runs one-shot backfill tasks through the shared task pool.
type Preloader struct {
	store  *store.Store
	pool   *taskpool.Pool
	sink   Sink
	logger *slog.Logger
}

// New builds a Preloader.
func New(s *store.Store, pool *taskpool.Pool, sink Sink, logger *slog.Logger) *Preloader {
	return &Preloader{store: s, pool: pool, sink: sink, logger: logger}
}

// Backfill submits a task delivering recent killmails matching sub's
// systems and characters to sub's subscriber. Non-blocking.
func (p *Preloader) Backfill(sub *subscription.Subscription) {
	submitted := p.pool.Submit(func(ctx context.Context) {
		p.runBackfill(ctx, sub)
	})
	if !submitted {
		p.logger.Warn("preload backfill dropped, task pool saturated", "subscription_id", sub.ID)
	}
}

func (p *Preloader) runBackfill(ctx context.Context, sub *subscription.Subscription) {
	delivered := make(map[int64]struct{})

	deliverList := func(namespace string, subjectID int64) {
		members := p.store.ListMembers(ctx, namespace, idKey(subjectID))
		if len(members) > backfillLimit {
			members = members[len(members)-backfillLimit:]
		}
		for _, killID := range members {
			if _, ok := delivered[killID]; ok {
				continue
			}
			v, err := p.store.Get(ctx, "killmail", idKey(killID))
			if err != nil {
				continue
			}
			km, ok := v.(*killmail.Killmail)
			if !ok {
				continue
			}
			delivered[killID] = struct{}{}
			p.sink.DeliverTo(sub.SubscriberID, km)
		}
	}

	for _, sysID := range sub.SystemIDs {
		deliverList("system_killmails", sysID)
	}
	for _, charID := range sub.CharacterIDs {
		deliverList("character_killmails", charID)
	}

	p.logger.Debug("preload backfill complete", "subscription_id", sub.ID, "delivered", len(delivered))
}

func idKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
