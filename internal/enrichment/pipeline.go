// Package enrichment turns a raw RedisQ package into a fully enriched
// internal/killmail.Killmail: parsed, age-gated, deduplicated, hydrated
// with participant names from ESI, validated, and persisted.
//
// Grounded on internal/zkillboard/services/processor.go's
// KillmailProcessor.ProcessKillmail, replacing its sequential batch-flush
// with a per-killmail pipeline and concurrent participant resolution via
// golang.org/x/sync/errgroup — the real-time fan-out this spec requires
// can't wait on a 5-second batch timer the way the teacher's Mongo-backed
// writer could afford to.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"wandererkills/internal/esi"
	"wandererkills/internal/killmail"
	"wandererkills/internal/store"
	"wandererkills/internal/wkerrors"
	"wandererkills/internal/zkbwire"
)

const (
	killmailNamespace       = "killmail"
	systemKillmailsNS       = "system_killmails"
	characterKillmailsNS    = "character_killmails"
	activeSystemsNamespace  = "active_systems"
	activeSystemsTTL        = 24 * time.Hour
	offsetSeqNamespace      = "offset_seq"
	offsetSeqKey            = "global"
)

// maxAge bounds how stale a killmail delivery may be before the pipeline
// drops it rather than enrich and broadcast something long past relevant.
const maxAge = 24 * time.Hour

// Sink receives a fully enriched killmail for downstream fan-out (the
// broadcaster), along with the monotonic offset assigned at persist time so
// resumable subscribers can track how far they've been delivered. Kept as
// an interface so the pipeline has no import-time dependency on
// internal/broadcaster.
type Sink interface {
	Publish(ctx context.Context, km *killmail.Killmail, offset int64)
}

// Pipeline runs every stage of enrichment for one RedisQ package at a time.
type Pipeline struct {
	store    *store.Store
	resolver *esi.Resolver
	sink     Sink
	logger   *slog.Logger
}

// New builds a Pipeline.
func New(s *store.Store, resolver *esi.Resolver, sink Sink, logger *slog.Logger) *Pipeline {
	return &Pipeline{store: s, resolver: resolver, sink: sink, logger: logger}
}

// isLegacyShape reports whether pkg carries no embedded ESI killmail
// document — only a kill id and zKillboard metadata. zKillboard's RedisQ
// has historically delivered both shapes; a legacy-shape package must be
// hydrated against ESI's public killmails endpoint before it can be parsed.
func isLegacyShape(pkg *zkbwire.RedisQPackage) bool {
	return len(pkg.Killmail) == 0
}

// Process runs pkg through every enrichment stage. A nil error with no sink
// publish means the package was legitimately skipped (stale or duplicate),
// not failed.
func (p *Pipeline) Process(ctx context.Context, pkg *zkbwire.RedisQPackage) error {
	// Stage 1: dedup-gate. A killmail already in the store needs no
	// reprocessing — RedisQ may redeliver under its at-least-once contract.
	key := fmt.Sprintf("%d", pkg.KillID)
	if p.store.Exists(ctx, killmailNamespace, key) {
		p.logger.Debug("killmail already processed, skipping", "killmail_id", pkg.KillID)
		return nil
	}

	// Stage 2: hydrate-if-partial. A legacy-shape package has no embedded
	// document to parse until its full killmail is fetched from ESI.
	body := pkg.Killmail
	if isLegacyShape(pkg) {
		esiKm, err := p.resolver.FetchKillmail(ctx, pkg.KillID, pkg.ZKB.Hash)
		if err != nil {
			return wkerrors.Wrap(wkerrors.KindUpstream, "hydrating legacy-shape killmail", err)
		}
		hydrated, err := json.Marshal(esiKm)
		if err != nil {
			return wkerrors.Wrap(wkerrors.KindInternal, "re-marshaling hydrated killmail", err)
		}
		body = hydrated
	}

	// Stage 3: parse the ESI document.
	var esiKm zkbwire.ESIKillmail
	if err := json.Unmarshal(body, &esiKm); err != nil {
		return wkerrors.Wrap(wkerrors.KindValidation, "parsing ESI killmail", err)
	}

	// Stage 4: age-gate. Drop deliveries describing kills old enough that
	// broadcasting them serves no subscriber.
	if age := time.Since(esiKm.KillmailTime); age > maxAge {
		p.logger.Debug("killmail too old, skipping", "killmail_id", pkg.KillID, "age", age)
		return nil
	}

	// Stage 5: convert into the domain model.
	km := convert(&esiKm, pkg)

	// Stage 6: validate invariants (≥1 attacker, exactly one final blow).
	if err := km.Validate(); err != nil {
		return err
	}

	// Stage 7: enrich participants concurrently — one ESI lookup per
	// distinct character/corporation/alliance/ship type referenced.
	if err := p.enrichParticipants(ctx, km); err != nil {
		// Enrichment failure degrades gracefully: broadcast un-named
		// rather than drop the kill entirely.
		p.logger.Warn("participant enrichment incomplete", "killmail_id", km.ID, "error", err)
	}

	// Stage 8: persist, then publish. Persisting first means a broadcast
	// failure never leaves the killmail unrecorded, and a crash between
	// the two only ever loses a broadcast, never corrupts the store.
	if err := p.store.PutWithTTL(ctx, killmailNamespace, key, km, 7*24*time.Hour); err != nil {
		return wkerrors.Wrap(wkerrors.KindInternal, "persisting killmail", err)
	}
	p.indexForBackfill(ctx, km)
	p.recordCharacterStats(ctx, km)
	p.recordTimeseries(ctx, km)

	offset := p.store.Incr(ctx, offsetSeqNamespace, offsetSeqKey, 1)
	p.sink.Publish(ctx, km, offset)
	return nil
}

// indexForBackfill records km's id under its system's system_killmails list,
// adds the system to the active_systems set, and indexes km under every
// referenced character. The preloader's backfill reads the system and
// character lists; it does not consult the active_systems set.
func (p *Pipeline) indexForBackfill(ctx context.Context, km *killmail.Killmail) {
	sysKey := fmt.Sprintf("%d", km.SystemID)
	if err := p.store.AddToList(ctx, systemKillmailsNS, sysKey, km.ID); err != nil {
		p.logger.Warn("failed to index killmail by system", "killmail_id", km.ID, "error", err)
	}
	p.store.AddToSetWithTTL(ctx, activeSystemsNamespace, store.ActiveSystemsKey, km.SystemID, activeSystemsTTL)

	for _, charID := range km.CharacterIDs() {
		if err := p.store.AddToList(ctx, characterKillmailsNS, fmt.Sprintf("%d", charID), km.ID); err != nil {
			p.logger.Warn("failed to index killmail by character", "killmail_id", km.ID, "error", err)
		}
	}
}

func convert(esiKm *zkbwire.ESIKillmail, pkg *zkbwire.RedisQPackage) *killmail.Killmail {
	km := &killmail.Killmail{
		ID:       esiKm.KillmailID,
		Hash:     pkg.ZKB.Hash,
		KillTime: esiKm.KillmailTime,
		SystemID: int64(esiKm.SolarSystemID),
		ZKB: killmail.ZKBMetadata{
			Hash:        pkg.ZKB.Hash,
			FittedValue: pkg.ZKB.FittedValue,
			TotalValue:  pkg.ZKB.TotalValue,
			Points:      pkg.ZKB.Points,
			NPC:         pkg.ZKB.NPC,
			Solo:        pkg.ZKB.Solo,
			Awox:        pkg.ZKB.Awox,
			LocationID:  pkg.ZKB.LocationID,
		},
	}

	corpID := int64(esiKm.Victim.CorporationID)
	km.Victim = killmail.Victim{
		CharacterID:   widen(esiKm.Victim.CharacterID),
		CorporationID: &corpID,
		AllianceID:    widen(esiKm.Victim.AllianceID),
		ShipTypeID:    int64(esiKm.Victim.ShipTypeID),
		DamageTaken:   int64(esiKm.Victim.DamageTaken),
	}

	km.Attackers = make([]killmail.Attacker, len(esiKm.Attackers))
	for i, a := range esiKm.Attackers {
		km.Attackers[i] = killmail.Attacker{
			CharacterID:   widen(a.CharacterID),
			CorporationID: widen(a.CorporationID),
			AllianceID:    widen(a.AllianceID),
			ShipTypeID:    widen(a.ShipTypeID),
			WeaponTypeID:  widen(a.WeaponTypeID),
			DamageDone:    int64(a.DamageDone),
			FinalBlow:     a.FinalBlow,
		}
	}

	return km
}

func widen(v *int32) *int64 {
	if v == nil {
		return nil
	}
	w := int64(*v)
	return &w
}

// enrichParticipants resolves names for the victim and every attacker
// concurrently through an errgroup that runs at most GOMAXPROCS lookups at
// once. Name lookups that fail leave the name empty; a failed victim
// ship-type lookup is returned and cancels the lookups still running.
func (p *Pipeline) enrichParticipants(ctx context.Context, km *killmail.Killmail) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	g.Go(func() error { return p.enrichVictim(ctx, &km.Victim) })
	for i := range km.Attackers {
		i := i
		g.Go(func() error { return p.enrichAttacker(ctx, &km.Attackers[i]) })
	}

	return g.Wait()
}

func (p *Pipeline) enrichVictim(ctx context.Context, v *killmail.Victim) error {
	if v.CharacterID != nil {
		if e, err := p.resolver.Resolve(ctx, esi.KindCharacter, *v.CharacterID); err == nil {
			v.CharacterName = e.Name
		}
	}
	if v.CorporationID != nil {
		if e, err := p.resolver.Resolve(ctx, esi.KindCorporation, *v.CorporationID); err == nil {
			v.CorporationName = e.Name
		}
	}
	if v.AllianceID != nil {
		if e, err := p.resolver.Resolve(ctx, esi.KindAlliance, *v.AllianceID); err == nil {
			v.AllianceName = e.Name
		}
	}
	e, err := p.resolver.Resolve(ctx, esi.KindShipType, v.ShipTypeID)
	if err != nil {
		return err
	}
	v.ShipTypeName = e.Name
	v.ShipGroupName = e.GroupName
	return nil
}

func (p *Pipeline) enrichAttacker(ctx context.Context, a *killmail.Attacker) error {
	if a.CharacterID != nil {
		if e, err := p.resolver.Resolve(ctx, esi.KindCharacter, *a.CharacterID); err == nil {
			a.CharacterName = e.Name
		}
	}
	if a.CorporationID != nil {
		if e, err := p.resolver.Resolve(ctx, esi.KindCorporation, *a.CorporationID); err == nil {
			a.CorporationName = e.Name
		}
	}
	if a.AllianceID != nil {
		if e, err := p.resolver.Resolve(ctx, esi.KindAlliance, *a.AllianceID); err == nil {
			a.AllianceName = e.Name
		}
	}
	if a.ShipTypeID != nil {
		if e, err := p.resolver.Resolve(ctx, esi.KindShipType, *a.ShipTypeID); err == nil {
			a.ShipTypeName = e.Name
			a.ShipGroupName = e.GroupName
		}
	}
	return nil
}
