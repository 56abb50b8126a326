package enrichment

import (
	"context"
	"fmt"
	"time"

	"wandererkills/internal/killmail"
)

// charStatsNamespace holds a running kill/loss tally per character, a
// supplemented feature grounded on internal/killmails/services.
// CharStatsService.UpdateFromKillmail — pared from its Mongo-backed ship
// category classification down to the running counts and last-seen ship
// this spec's GET /api/v1/characters/{id}/stats contract needs.
const charStatsNamespace = "char_stats"

// CharacterStats is one character's running kill/loss record.
type CharacterStats struct {
	CharacterID    int64     `json:"character_id"`
	Kills          int64     `json:"kills"`
	Losses         int64     `json:"losses"`
	LastShipTypeID int64     `json:"last_ship_type_id"`
	LastSeen       time.Time `json:"last_seen"`
}

// recordCharacterStats updates the running tally for every character
// referenced by km: a loss for the victim, a kill for each attacker with a
// known character id.
func (p *Pipeline) recordCharacterStats(ctx context.Context, km *killmail.Killmail) {
	if km.Victim.CharacterID != nil {
		p.bumpCharacterStats(ctx, *km.Victim.CharacterID, km.Victim.ShipTypeID, km.KillTime, false)
	}
	for _, a := range km.Attackers {
		if a.CharacterID == nil {
			continue
		}
		var shipTypeID int64
		if a.ShipTypeID != nil {
			shipTypeID = *a.ShipTypeID
		}
		p.bumpCharacterStats(ctx, *a.CharacterID, shipTypeID, km.KillTime, true)
	}
}

func (p *Pipeline) bumpCharacterStats(ctx context.Context, characterID, shipTypeID int64, seenAt time.Time, isKill bool) {
	key := fmt.Sprintf("%d", characterID)
	p.store.Update(ctx, charStatsNamespace, key, func(cur any) any {
		stats, ok := cur.(CharacterStats)
		if !ok {
			stats = CharacterStats{CharacterID: characterID}
		}
		if isKill {
			stats.Kills++
		} else {
			stats.Losses++
		}
		if shipTypeID != 0 {
			stats.LastShipTypeID = shipTypeID
		}
		if seenAt.After(stats.LastSeen) {
			stats.LastSeen = seenAt
		}
		return stats
	})
}

// timeseriesNamespace and systemCountNamespace back the supplemented kill
// count/trend endpoint, grounded on internal/zkillboard/services.
// Aggregator.UpdateTimeseries — pared from its region/alliance/corporation/
// ship-type fan-out down to the one dimension (system, hourly bucket) the
// spec's GET /api/v1/kills/count/{id} contract needs.
const (
	systemCountNamespace = "system_count"
	timeseriesNamespace  = "system_timeseries"
	hourBucketLayout     = "2006010215"
)

// recordTimeseries increments km's solar system's running total and its
// current hour bucket. Each counter expires 7 days after its last
// increment, the same TTL killmails are stored with.
func (p *Pipeline) recordTimeseries(ctx context.Context, km *killmail.Killmail) {
	incr := func(cur any) any {
		n, _ := cur.(int64)
		return n + 1
	}

	sysKey := fmt.Sprintf("%d", km.SystemID)
	p.store.UpdateWithTTL(ctx, systemCountNamespace, sysKey, 7*24*time.Hour, incr)

	bucketKey := fmt.Sprintf("%d:%s", km.SystemID, km.KillTime.UTC().Format(hourBucketLayout))
	p.store.UpdateWithTTL(ctx, timeseriesNamespace, bucketKey, 7*24*time.Hour, incr)
}
