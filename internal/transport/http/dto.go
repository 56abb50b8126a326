package http

import (
	"time"

	"wandererkills/internal/enrichment"
	"wandererkills/internal/ingestor"
	"wandererkills/internal/killmail"
)

// GetSystemKillsInput is the input for GET /api/v1/kills/system/{id}.
type GetSystemKillsInput struct {
	SystemID   int64 `path:"system_id" validate:"required" doc:"Solar system id"`
	SinceHours int   `query:"since_hours" validate:"min:1,max:168" minimum:"1" maximum:"168" default:"24" doc:"Lookback window in hours (1-168, default 24)"`
	Limit      int   `query:"limit" validate:"min:1,max:200" minimum:"1" maximum:"200" default:"50" doc:"Maximum number of killmails to return (1-200, default 50)"`
}

// SystemKillsResponse is the body for GET /api/v1/kills/system/{id} and
// GET /api/v1/kills/cached/{id}.
type SystemKillsResponse struct {
	Kills     []*killmail.Killmail `json:"kills"`
	Cached    bool                 `json:"cached"`
	Timestamp time.Time            `json:"timestamp"`
}

// GetSystemKillsOutput wraps SystemKillsResponse for Huma.
type GetSystemKillsOutput struct {
	Body SystemKillsResponse
}

// GetCachedKillsInput is the input for GET /api/v1/kills/cached/{id}.
type GetCachedKillsInput struct {
	SystemID int64 `path:"system_id" validate:"required" doc:"Solar system id"`
	Limit    int   `query:"limit" validate:"min:1,max:200" minimum:"1" maximum:"200" default:"50" doc:"Maximum number of killmails to return (1-200, default 50)"`
}

// PostSystemsKillsBody is the request body for POST /api/v1/kills/systems.
type PostSystemsKillsBody struct {
	SystemIDs  []int64 `json:"system_ids" validate:"required,min=1" doc:"Solar system ids to query"`
	SinceHours int     `json:"since_hours" validate:"omitempty" doc:"Lookback window in hours (default 24)"`
	Limit      int     `json:"limit" validate:"omitempty" doc:"Maximum killmails per system (default 50)"`
}

// PostSystemsKillsInput wraps PostSystemsKillsBody for Huma.
type PostSystemsKillsInput struct {
	Body PostSystemsKillsBody
}

// SystemsKillsResponse is the body for POST /api/v1/kills/systems.
type SystemsKillsResponse struct {
	SystemsKills map[int64][]*killmail.Killmail `json:"systems_kills"`
	Timestamp    time.Time                      `json:"timestamp"`
}

// PostSystemsKillsOutput wraps SystemsKillsResponse for Huma.
type PostSystemsKillsOutput struct {
	Body SystemsKillsResponse
}

// GetKillmailInput is the input for GET /api/v1/killmail/{id}.
type GetKillmailInput struct {
	KillmailID int64 `path:"killmail_id" validate:"required" doc:"Killmail id"`
}

// GetKillmailOutput wraps a full killmail for Huma.
type GetKillmailOutput struct {
	Body killmail.Killmail
}

// GetKillCountInput is the input for GET /api/v1/kills/count/{id}.
type GetKillCountInput struct {
	SystemID int64 `path:"system_id" validate:"required" doc:"Solar system id"`
}

// KillCountResponse is the body for GET /api/v1/kills/count/{id}.
type KillCountResponse struct {
	SystemID  int64     `json:"system_id"`
	Count     int64     `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// GetKillCountOutput wraps KillCountResponse for Huma.
type GetKillCountOutput struct {
	Body KillCountResponse
}

// CreateSubscriptionBody is the request body for POST /api/v1/subscriptions.
type CreateSubscriptionBody struct {
	SubscriberID string  `json:"subscriber_id" validate:"required" doc:"Client-chosen subscriber identifier"`
	SystemIDs    []int64 `json:"system_ids,omitempty" doc:"Solar system ids to match"`
	CharacterIDs []int64 `json:"character_ids,omitempty" doc:"Character ids to match"`
	CallbackURL  string  `json:"callback_url,omitempty" doc:"Webhook URL; if set, delivery mode is webhook rather than WebSocket"`
}

// CreateSubscriptionInput wraps CreateSubscriptionBody for Huma.
type CreateSubscriptionInput struct {
	Body CreateSubscriptionBody
}

// CreateSubscriptionResponse is the body for POST /api/v1/subscriptions.
type CreateSubscriptionResponse struct {
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
}

// CreateSubscriptionOutput wraps CreateSubscriptionResponse for Huma.
type CreateSubscriptionOutput struct {
	Body CreateSubscriptionResponse
}

// DeleteSubscriptionInput is the input for DELETE /api/v1/subscriptions/{subscriber_id}.
type DeleteSubscriptionInput struct {
	SubscriberID string `path:"subscriber_id" validate:"required" doc:"Client-chosen subscriber identifier"`
}

// DeleteSubscriptionResponse is the body for DELETE /api/v1/subscriptions/{subscriber_id}.
type DeleteSubscriptionResponse struct {
	Status string `json:"status"`
}

// DeleteSubscriptionOutput wraps DeleteSubscriptionResponse for Huma.
type DeleteSubscriptionOutput struct {
	Body DeleteSubscriptionResponse
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthOutput wraps HealthResponse for Huma.
type HealthOutput struct {
	Body HealthResponse
}

// GetCharacterStatsInput is the input for GET /api/v1/characters/{id}/stats.
type GetCharacterStatsInput struct {
	CharacterID int64 `path:"character_id" validate:"required" doc:"Character id"`
}

// GetCharacterStatsOutput wraps enrichment.CharacterStats for Huma.
type GetCharacterStatsOutput struct {
	Body enrichment.CharacterStats
}

// GetIngestorStatusOutput wraps ingestor.Status for Huma.
type GetIngestorStatusOutput struct {
	Body ingestor.Status
}
