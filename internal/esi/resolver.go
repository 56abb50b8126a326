// Package esi resolves EVE Online entity ids (character/corporation/
// alliance/ship type/solar system) to display names, backed by a
// read-through cache over internal/store with single-flight request
// coalescing so a burst of killmails referencing the same character only
// triggers one upstream call.
//
// Grounded on pkg/evegateway/client.go's per-category sub-client shape
// (GetCharacterInfo/GetCorporationInfo/GetAllianceInfo) and the
// cache-aside pattern in pkg/database/redis.go's GetJSON/SetJSON.
package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"wandererkills/internal/fetcher"
	"wandererkills/internal/store"
	"wandererkills/internal/wkerrors"
	"wandererkills/internal/zkbwire"
)

// EntityKind distinguishes the ESI endpoints an id can be resolved against.
type EntityKind string

const (
	KindCharacter   EntityKind = "characters"
	KindCorporation EntityKind = "corporations"
	KindAlliance    EntityKind = "alliances"
	KindShipType    EntityKind = "universe/types"
	KindSystem      EntityKind = "universe/systems"
)

// Entity is the resolved name and, for ship types, the parent group name
// used by the ship-group enrichment field.
type Entity struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	GroupName string `json:"group_name,omitempty"`
}

const cacheNamespace = "esi_entity"

// defaultTTL matches the "entity names rarely change" assumption — every
// entity kind this resolver serves, including ship types and groups, gets
// the same 24-hour cache lifetime.
const defaultTTL = 24 * time.Hour

// Resolver resolves entity ids to names through a cache, coalescing
// concurrent lookups for the same id via singleflight.
type Resolver struct {
	baseURL string
	http    *fetcher.Client
	store   *store.Store
	group   singleflight.Group
}

// New builds a Resolver against the given ESI base URL (e.g.
// "https://esi.evetech.net/latest").
func New(baseURL string, httpClient *fetcher.Client, s *store.Store) *Resolver {
	return &Resolver{baseURL: baseURL, http: httpClient, store: s}
}

// Resolve returns the Entity for id of the given kind, using the cache when
// possible and coalescing concurrent misses for the same kind/id.
func (r *Resolver) Resolve(ctx context.Context, kind EntityKind, id int64) (Entity, error) {
	key := fmt.Sprintf("%s:%d", kind, id)

	if cached, err := r.store.Get(ctx, cacheNamespace, key); err == nil {
		if entity, ok := cached.(Entity); ok {
			return entity, nil
		}
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.fetch(ctx, kind, id)
	})
	if err != nil {
		return Entity{}, err
	}
	return v.(Entity), nil
}

// ResolveMany resolves a batch of ids of the same kind, returning a map
// keyed by id. Misses are fetched individually (each still benefits from
// singleflight coalescing against concurrent callers resolving the same
// id from a different killmail).
func (r *Resolver) ResolveMany(ctx context.Context, kind EntityKind, ids []int64) (map[int64]Entity, error) {
	out := make(map[int64]Entity, len(ids))
	for _, id := range ids {
		entity, err := r.Resolve(ctx, kind, id)
		if err != nil {
			return nil, err
		}
		out[id] = entity
	}
	return out, nil
}

func (r *Resolver) fetch(ctx context.Context, kind EntityKind, id int64) (Entity, error) {
	url := fmt.Sprintf("%s/%s/%d/?datasource=tranquility", r.baseURL, kind, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Entity{}, wkerrors.Wrap(wkerrors.KindInternal, "building ESI request", err)
	}

	resp, err := r.http.Do(ctx, req)
	if err != nil {
		return Entity{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Entity{}, wkerrors.New(wkerrors.KindNotFound, "entity not found").
			WithContext("kind", kind).WithContext("id", id)
	}
	if resp.StatusCode != http.StatusOK {
		return Entity{}, wkerrors.New(wkerrors.KindUpstream,
			fmt.Sprintf("ESI returned %d", resp.StatusCode)).
			WithContext("kind", kind).WithContext("id", id)
	}

	var body struct {
		Name    string `json:"name"`
		GroupID int64  `json:"group_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Entity{}, wkerrors.Wrap(wkerrors.KindUpstream, "decoding ESI response", err)
	}

	entity := Entity{ID: id, Name: body.Name}
	if kind == KindShipType && body.GroupID != 0 {
		if group, err := r.Resolve(ctx, "universe/groups", body.GroupID); err == nil {
			entity.GroupName = group.Name
		}
	}

	key := fmt.Sprintf("%s:%d", kind, id)
	_ = r.store.PutWithTTL(ctx, cacheNamespace, key, entity, defaultTTL)

	return entity, nil
}

// FetchKillmail hydrates a legacy-shape RedisQ package (one carrying only a
// killmail id and zKillboard metadata, no embedded ESI document) by fetching
// the full killmail from ESI's public killmails endpoint. Not cached under
// cacheNamespace: the killmail itself gets cached downstream by the
// enrichment pipeline once persisted, so caching it here too would just
// duplicate storage under a different key shape.
func (r *Resolver) FetchKillmail(ctx context.Context, killID int64, hash string) (*zkbwire.ESIKillmail, error) {
	url := fmt.Sprintf("%s/killmails/%d/%s/?datasource=tranquility", r.baseURL, killID, hash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, wkerrors.Wrap(wkerrors.KindInternal, "building ESI killmail request", err)
	}

	resp, err := r.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, wkerrors.New(wkerrors.KindNotFound, "killmail not found").
			WithContext("killmail_id", killID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, wkerrors.New(wkerrors.KindUpstream,
			fmt.Sprintf("ESI returned %d", resp.StatusCode)).
			WithContext("killmail_id", killID)
	}

	var km zkbwire.ESIKillmail
	if err := json.NewDecoder(resp.Body).Decode(&km); err != nil {
		return nil, wkerrors.Wrap(wkerrors.KindUpstream, "decoding ESI killmail", err)
	}
	return &km, nil
}
