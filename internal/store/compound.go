package store

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// maxListLen bounds the addToList helper used for per-system/per-character
// recent-kill lists: unbounded growth here would defeat the point of an
// in-memory store with no eviction beyond TTL.
const maxListLen = 1000

// ActiveSystemsKey is the single key under which the active_systems
// namespace keeps its set of systems with recent kills — one set, not one
// entry per system. Enrichment adds to it and CompactSystemIndexes removes
// drained systems from it; the preloader does not read it.
const ActiveSystemsKey = "active"

// AddToList appends id to the list stored at namespace/key, deduplicating
// and capping it at maxListLen (oldest entries drop first). Used for the
// "recent killmail ids by system/character" secondary indexes.
func (s *Store) AddToList(ctx context.Context, namespace, key string, id int64) error {
	n := s.ns(namespace)
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.entries[key]
	if !ok || e.expired(time.Now()) {
		e = &entry{value: []int64{}}
		n.entries[key] = e
	}
	list, _ := e.value.([]int64)
	for _, existing := range list {
		if existing == id {
			return nil
		}
	}
	list = append(list, id)
	if len(list) > maxListLen {
		list = list[len(list)-maxListLen:]
	}
	e.value = list
	return nil
}

// RemoveFromList removes id from the list at namespace/key, if present.
func (s *Store) RemoveFromList(ctx context.Context, namespace, key string, id int64) error {
	n := s.ns(namespace)
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.entries[key]
	if !ok {
		return nil
	}
	list, _ := e.value.([]int64)
	for i, existing := range list {
		if existing == id {
			e.value = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

// ListMembers returns a snapshot copy of the list at namespace/key, newest
// last. Returns an empty slice (not an error) for an absent key.
func (s *Store) ListMembers(ctx context.Context, namespace, key string) []int64 {
	n := s.ns(namespace)
	n.mu.RLock()
	defer n.mu.RUnlock()

	e, ok := n.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil
	}
	list, _ := e.value.([]int64)
	out := make([]int64, len(list))
	copy(out, list)
	return out
}

// Update atomically replaces the value at namespace/key with fn's result,
// passing fn the current value (nil if absent or expired) under the
// namespace's lock. Used for read-modify-write aggregates such as
// character stats, where Incr's single-int64 shape isn't enough.
func (s *Store) Update(ctx context.Context, namespace, key string, fn func(cur any) any) any {
	n := s.ns(namespace)
	n.mu.Lock()
	defer n.mu.Unlock()

	var cur any
	if e, ok := n.entries[key]; ok && !e.expired(time.Now()) {
		cur = e.value
	}
	next := fn(cur)
	n.entries[key] = &entry{value: next}
	return next
}

// UpdateWithTTL is Update with the resulting entry's expiry reset to ttl
// from now. Used for the subscription_offset namespace, whose entries must
// keep sliding forward as deliveries happen rather than expiring mid-stream,
// and for the system_count/system_timeseries kill counters.
func (s *Store) UpdateWithTTL(ctx context.Context, namespace, key string, ttl time.Duration, fn func(cur any) any) any {
	n := s.ns(namespace)
	n.mu.Lock()
	defer n.mu.Unlock()

	var cur any
	if e, ok := n.entries[key]; ok && !e.expired(time.Now()) {
		cur = e.value
	}
	next := fn(cur)
	e := &entry{value: next}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	n.entries[key] = e
	return next
}

// Incr increments the counter at namespace/key by delta and returns the new
// value. Used for the offset_seq counter that assigns each persisted
// killmail its delivery offset.
func (s *Store) Incr(ctx context.Context, namespace, key string, delta int64) int64 {
	n := s.ns(namespace)
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.entries[key]
	if !ok || e.expired(time.Now()) {
		e = &entry{value: int64(0)}
		n.entries[key] = e
	}
	cur, _ := e.value.(int64)
	cur += delta
	e.value = cur
	return cur
}

// AddToSet adds id to the set stored at namespace/key.
func (s *Store) AddToSet(ctx context.Context, namespace, key string, id int64) {
	n := s.ns(namespace)
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.entries[key]
	if !ok || e.expired(time.Now()) {
		e = &entry{value: map[int64]struct{}{}}
		n.entries[key] = e
	}
	set, _ := e.value.(map[int64]struct{})
	set[id] = struct{}{}
	e.value = set
}

// AddToSetWithTTL adds id to the set at namespace/key and resets the set's
// expiry to ttl from now. Used for the active_systems set, which refreshes
// its expiry on every insert so the set lives on as long as kills keep
// landing.
func (s *Store) AddToSetWithTTL(ctx context.Context, namespace, key string, id int64, ttl time.Duration) {
	n := s.ns(namespace)
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.entries[key]
	if !ok || e.expired(time.Now()) {
		e = &entry{value: map[int64]struct{}{}}
		n.entries[key] = e
	}
	set, _ := e.value.(map[int64]struct{})
	set[id] = struct{}{}
	e.value = set
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
}

// RemoveFromSet removes id from the set at namespace/key, if present.
func (s *Store) RemoveFromSet(ctx context.Context, namespace, key string, id int64) {
	n := s.ns(namespace)
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.entries[key]
	if !ok {
		return
	}
	set, _ := e.value.(map[int64]struct{})
	delete(set, id)
	e.value = set
}

// InSet reports whether id is a member of the set at namespace/key.
func (s *Store) InSet(ctx context.Context, namespace, key string, id int64) bool {
	n := s.ns(namespace)
	n.mu.RLock()
	defer n.mu.RUnlock()

	e, ok := n.entries[key]
	if !ok || e.expired(time.Now()) {
		return false
	}
	set, _ := e.value.(map[int64]struct{})
	_, in := set[id]
	return in
}

// SetMembers returns a sorted snapshot of the set at namespace/key.
func (s *Store) SetMembers(ctx context.Context, namespace, key string) []int64 {
	n := s.ns(namespace)
	n.mu.RLock()
	defer n.mu.RUnlock()

	e, ok := n.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil
	}
	set, _ := e.value.(map[int64]struct{})
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// systemKillmailsNamespace, killmailNamespace, and activeSystemsNamespace
// name the three namespaces CompactSystemIndexes reconciles. Duplicated
// here rather than imported, since internal/enrichment already imports
// internal/store and a reverse import would cycle.
const (
	systemKillmailsNamespace = "system_killmails"
	killmailNamespace        = "killmail"
	activeSystemsNamespace   = "active_systems"
)

// CompactSystemIndexes drops evicted-killmail references from every
// system's system_killmails list, and removes any system from
// active_systems once its list empties out. Always locks
// system_killmails before killmail, per-system, to match the only other
// place these two namespaces are touched together.
func (s *Store) CompactSystemIndexes() (compacted, evictedSystems int) {
	sysNS := s.ns(systemKillmailsNamespace)
	kmNS := s.ns(killmailNamespace)

	sysNS.mu.Lock()
	defer sysNS.mu.Unlock()

	now := time.Now()
	for key, e := range sysNS.entries {
		if e.expired(now) {
			continue
		}
		list, _ := e.value.([]int64)
		kept := list[:0:0]
		for _, id := range list {
			kmNS.mu.RLock()
			kmEntry, ok := kmNS.entries[fmt.Sprintf("%d", id)]
			alive := ok && !kmEntry.expired(now)
			kmNS.mu.RUnlock()
			if alive {
				kept = append(kept, id)
			}
		}
		if len(kept) != len(list) {
			e.value = kept
			compacted++
		}
		if len(kept) == 0 {
			s.removeFromActiveSystems(key)
			evictedSystems++
		}
	}
	return compacted, evictedSystems
}

// removeFromActiveSystems drops systemKey from the active_systems admission
// set. Called once a system's killmail list has fully drained.
func (s *Store) removeFromActiveSystems(systemKey string) {
	var id int64
	if _, err := fmt.Sscanf(systemKey, "%d", &id); err != nil {
		return
	}
	s.RemoveFromSet(context.Background(), activeSystemsNamespace, ActiveSystemsKey, id)
}
