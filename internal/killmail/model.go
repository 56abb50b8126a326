// Package killmail holds the domain model shared by every core subsystem:
// the hydrated Killmail record, its Participant variants, and the
// upstream-supplied ZKB metadata.
//
// Grounded on internal/killmails/models.Killmail in the teacher repo, with
// the bson tags and primitive.ObjectID dropped — there is no document store
// behind this type, identity is the killmail id itself.
package killmail

import "time"

// Killmail is immutable after enrichment. Identity is ID.
type Killmail struct {
	ID        int64     `json:"killmail_id"`
	Hash      string    `json:"hash"`
	KillTime  time.Time `json:"kill_time"`
	SystemID  int64     `json:"solar_system_id"`
	Victim    Victim    `json:"victim"`
	Attackers []Attacker `json:"attackers"`
	ZKB       ZKBMetadata `json:"zkb"`
}

// Victim is the Participant variant that lost the ship.
type Victim struct {
	CharacterID    *int64 `json:"character_id,omitempty"`
	CorporationID  *int64 `json:"corporation_id,omitempty"`
	AllianceID     *int64 `json:"alliance_id,omitempty"`
	ShipTypeID     int64  `json:"ship_type_id"`
	DamageTaken    int64  `json:"damage_taken"`
	CharacterName  string `json:"character_name,omitempty"`
	CorporationName string `json:"corporation_name,omitempty"`
	AllianceName   string `json:"alliance_name,omitempty"`
	ShipTypeName   string `json:"ship_type_name,omitempty"`
	ShipGroupName  string `json:"ship_group_name,omitempty"`
}

// Attacker is one Participant variant that dealt damage.
type Attacker struct {
	CharacterID    *int64 `json:"character_id,omitempty"`
	CorporationID  *int64 `json:"corporation_id,omitempty"`
	AllianceID     *int64 `json:"alliance_id,omitempty"`
	ShipTypeID     *int64 `json:"ship_type_id,omitempty"`
	WeaponTypeID   *int64 `json:"weapon_type_id,omitempty"`
	DamageDone     int64  `json:"damage_done"`
	FinalBlow      bool   `json:"final_blow"`
	CharacterName  string `json:"character_name,omitempty"`
	CorporationName string `json:"corporation_name,omitempty"`
	AllianceName   string `json:"alliance_name,omitempty"`
	ShipTypeName   string `json:"ship_type_name,omitempty"`
	ShipGroupName  string `json:"ship_group_name,omitempty"`
}

// ZKBMetadata is the upstream-supplied metadata that rides alongside every
// killmail reference. Grounded on internal/zkillboard/models.ZKBMetadata.
type ZKBMetadata struct {
	Hash           string  `json:"hash"`
	FittedValue    float64 `json:"fitted_value"`
	TotalValue     float64 `json:"total_value"`
	Points         int     `json:"points"`
	NPC            bool    `json:"npc"`
	Solo           bool    `json:"solo"`
	Awox           bool    `json:"awox"`
	LocationID     *int64  `json:"location_id,omitempty"`
}

// Validate enforces the §3 invariant: at least one attacker, and exactly one
// final blow.
func (k *Killmail) Validate() error {
	if len(k.Attackers) == 0 {
		return errAttackersEmpty
	}
	finalBlows := 0
	for _, a := range k.Attackers {
		if a.FinalBlow {
			finalBlows++
		}
	}
	if finalBlows != 1 {
		return errFinalBlowCount
	}
	return nil
}

// CharacterIDs returns every distinct character id referenced by the
// killmail's victim and attackers, used by the matcher (§4.6) and by
// enrichment's per-character character_killmails index.
func (k *Killmail) CharacterIDs() []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	add := func(id *int64) {
		if id == nil {
			return
		}
		if _, ok := seen[*id]; ok {
			return
		}
		seen[*id] = struct{}{}
		ids = append(ids, *id)
	}
	add(k.Victim.CharacterID)
	for _, a := range k.Attackers {
		add(a.CharacterID)
	}
	return ids
}
