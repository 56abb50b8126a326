// Package http is the thin REST surface over the core: it decodes/encodes
// and delegates every decision to internal/store, internal/subscription,
// internal/preloader, and internal/ingestor. No business logic lives here.
//
// Grounded on cmd/falcon/main.go's chi+huma router assembly and the
// per-module RegisterUnifiedRoutes/RegisterKillmailRoutes pattern used
// throughout the teacher's */routes packages.
package http

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"wandererkills/internal/enrichment"
	"wandererkills/internal/ingestor"
	"wandererkills/internal/killmail"
	"wandererkills/internal/preloader"
	"wandererkills/internal/store"
	"wandererkills/internal/subscription"
)

// Core bundles the dependencies this transport needs, narrow enough that
// it never has to import the broadcaster or pubsub directly.
type Core struct {
	Store     *store.Store
	Registry  *subscription.Registry
	Preloader *preloader.Preloader
	Ingestor  *ingestor.Consumer
}

// RegisterRoutes registers every route in the §6 external interface
// contract on api, rooted at basePath (typically "/api/v1").
func RegisterRoutes(api huma.API, basePath string, core *Core) {
	huma.Register(api, huma.Operation{
		OperationID:   "health",
		Method:        stdhttp.MethodGet,
		Path:          "/health",
		Summary:       "Service health",
		Tags:          []string{"Health"},
		DefaultStatus: stdhttp.StatusOK,
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthResponse{Status: "ok", Timestamp: time.Now()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getSystemKills",
		Method:        stdhttp.MethodGet,
		Path:          basePath + "/kills/system/{system_id}",
		Summary:       "Recent kills in a solar system",
		Tags:          []string{"Kills"},
		DefaultStatus: stdhttp.StatusOK,
	}, func(ctx context.Context, input *GetSystemKillsInput) (*GetSystemKillsOutput, error) {
		since := time.Now().Add(-time.Duration(input.SinceHours) * time.Hour)
		kills := core.recentSystemKills(ctx, input.SystemID, since, input.Limit)
		return &GetSystemKillsOutput{Body: SystemKillsResponse{Kills: kills, Cached: true, Timestamp: time.Now()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getCachedSystemKills",
		Method:        stdhttp.MethodGet,
		Path:          basePath + "/kills/cached/{system_id}",
		Summary:       "Cached kills in a solar system, no lookback filter",
		Tags:          []string{"Kills"},
		DefaultStatus: stdhttp.StatusOK,
	}, func(ctx context.Context, input *GetCachedKillsInput) (*GetSystemKillsOutput, error) {
		kills := core.recentSystemKills(ctx, input.SystemID, time.Time{}, input.Limit)
		return &GetSystemKillsOutput{Body: SystemKillsResponse{Kills: kills, Cached: true, Timestamp: time.Now()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getSystemsKills",
		Method:        stdhttp.MethodPost,
		Path:          basePath + "/kills/systems",
		Summary:       "Recent kills across several solar systems",
		Tags:          []string{"Kills"},
		DefaultStatus: stdhttp.StatusOK,
	}, func(ctx context.Context, input *PostSystemsKillsInput) (*PostSystemsKillsOutput, error) {
		sinceHours := input.Body.SinceHours
		if sinceHours <= 0 {
			sinceHours = 24
		}
		limit := input.Body.Limit
		if limit <= 0 {
			limit = 50
		}
		since := time.Now().Add(-time.Duration(sinceHours) * time.Hour)

		out := make(map[int64][]*killmail.Killmail, len(input.Body.SystemIDs))
		for _, sysID := range input.Body.SystemIDs {
			out[sysID] = core.recentSystemKills(ctx, sysID, since, limit)
		}
		return &PostSystemsKillsOutput{Body: SystemsKillsResponse{SystemsKills: out, Timestamp: time.Now()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getKillmail",
		Method:        stdhttp.MethodGet,
		Path:          basePath + "/killmail/{killmail_id}",
		Summary:       "Fetch a single killmail by id",
		Tags:          []string{"Kills"},
		DefaultStatus: stdhttp.StatusOK,
	}, func(ctx context.Context, input *GetKillmailInput) (*GetKillmailOutput, error) {
		v, err := core.Store.Get(ctx, "killmail", idKey(input.KillmailID))
		if err != nil {
			return nil, huma.Error404NotFound("killmail not found")
		}
		km, ok := v.(*killmail.Killmail)
		if !ok {
			return nil, huma.Error500InternalServerError("corrupt killmail record")
		}
		return &GetKillmailOutput{Body: *km}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getKillCount",
		Method:        stdhttp.MethodGet,
		Path:          basePath + "/kills/count/{system_id}",
		Summary:       "Running kill count for a solar system",
		Tags:          []string{"Kills"},
		DefaultStatus: stdhttp.StatusOK,
	}, func(ctx context.Context, input *GetKillCountInput) (*GetKillCountOutput, error) {
		var count int64
		if v, err := core.Store.Get(ctx, "system_count", idKey(input.SystemID)); err == nil {
			count, _ = v.(int64)
		}
		return &GetKillCountOutput{Body: KillCountResponse{SystemID: input.SystemID, Count: count, Timestamp: time.Now()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "createSubscription",
		Method:        stdhttp.MethodPost,
		Path:          basePath + "/subscriptions",
		Summary:       "Create a subscription",
		Tags:          []string{"Subscriptions"},
		DefaultStatus: stdhttp.StatusCreated,
	}, func(ctx context.Context, input *CreateSubscriptionInput) (*CreateSubscriptionOutput, error) {
		mode := subscription.DeliveryWebSocket
		if input.Body.CallbackURL != "" {
			mode = subscription.DeliveryWebhook
		}

		sub, err := core.Registry.Create(input.Body.SubscriberID, input.Body.SystemIDs, input.Body.CharacterIDs, mode, input.Body.CallbackURL)
		if err != nil {
			return nil, huma.Error400BadRequest("failed to create subscription", err)
		}

		if len(sub.SystemIDs) > 0 || len(sub.CharacterIDs) > 0 {
			core.Preloader.Backfill(sub)
		}

		return &CreateSubscriptionOutput{Body: CreateSubscriptionResponse{SubscriptionID: sub.ID, Status: "active"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "deleteSubscription",
		Method:        stdhttp.MethodDelete,
		Path:          basePath + "/subscriptions/{subscriber_id}",
		Summary:       "Remove every subscription owned by a subscriber",
		Tags:          []string{"Subscriptions"},
		DefaultStatus: stdhttp.StatusOK,
	}, func(ctx context.Context, input *DeleteSubscriptionInput) (*DeleteSubscriptionOutput, error) {
		subs := core.Registry.ForSubscriber(input.SubscriberID)
		if len(subs) == 0 {
			return nil, huma.Error404NotFound("no subscriptions for subscriber")
		}
		for _, sub := range subs {
			_ = core.Registry.Remove(sub.ID)
		}
		return &DeleteSubscriptionOutput{Body: DeleteSubscriptionResponse{Status: "deleted"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getCharacterStats",
		Method:        stdhttp.MethodGet,
		Path:          basePath + "/characters/{character_id}/stats",
		Summary:       "Character kill/loss tally",
		Tags:          []string{"Characters"},
		DefaultStatus: stdhttp.StatusOK,
	}, func(ctx context.Context, input *GetCharacterStatsInput) (*GetCharacterStatsOutput, error) {
		v, err := core.Store.Get(ctx, "char_stats", idKey(input.CharacterID))
		if err != nil {
			return &GetCharacterStatsOutput{Body: enrichment.CharacterStats{CharacterID: input.CharacterID}}, nil
		}
		stats, ok := v.(enrichment.CharacterStats)
		if !ok {
			return nil, huma.Error500InternalServerError("corrupt character stats record")
		}
		return &GetCharacterStatsOutput{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getIngestorStatus",
		Method:        stdhttp.MethodGet,
		Path:          basePath + "/ingestor/status",
		Summary:       "Stream ingestor state machine and counters",
		Tags:          []string{"Ingestor"},
		DefaultStatus: stdhttp.StatusOK,
	}, func(ctx context.Context, input *struct{}) (*GetIngestorStatusOutput, error) {
		return &GetIngestorStatusOutput{Body: core.Ingestor.Status()}, nil
	})
}

// recentSystemKills resolves a system's backfill list of killmail ids
// through the store, filters by since (zero means no filter), and returns
// at most limit, most recent first.
func (c *Core) recentSystemKills(ctx context.Context, systemID int64, since time.Time, limit int) []*killmail.Killmail {
	ids := c.Store.ListMembers(ctx, "system_killmails", idKey(systemID))

	out := make([]*killmail.Killmail, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		v, err := c.Store.Get(ctx, "killmail", idKey(ids[i]))
		if err != nil {
			continue
		}
		km, ok := v.(*killmail.Killmail)
		if !ok {
			continue
		}
		if !since.IsZero() && km.KillTime.Before(since) {
			continue
		}
		out = append(out, km)
	}
	return out
}

func idKey(id int64) string {
	return fmt.Sprintf("%d", id)
}
