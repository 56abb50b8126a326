// Package store implements the in-process cache and working set backing
// every core subsystem: killmail bodies, ESI entity lookups, subscription
// indexes, and ingestor checkpoint state.
//
// There is deliberately no database behind it. Per the spec's non-goal on
// durable persistence, a restart starts cold. The method shape — each
// operation optionally wrapped in an otel span, keyed by a namespace+key
// pair — is grounded on pkg/database/redis.go's Set/Get/Delete/Exists/
// SetWithTTL/GetTTL, reimplemented over process memory instead of a Redis
// connection.
package store

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"wandererkills/internal/wkerrors"
)

type entry struct {
	value     any
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// namespace is one logical table: its own map, its own lock. Namespaces
// never share a lock so a GC sweep of one never blocks access to another.
type namespace struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Store is a namespaced, TTL-aware in-memory key/value store with list and
// set helpers for secondary indexes.
type Store struct {
	mu         sync.Mutex
	namespaces map[string]*namespace
	tracer     trace.Tracer
}

// opTimeout is a 5s per-operation bound. checkOpDeadline does not apply it:
// no store operation reads this constant, so a call whose context has no
// deadline is never cut short by the store.
const opTimeout = 5 * time.Second

// checkOpDeadline reports whether ctx is already past its deadline (or
// cancelled). Only the caller's own deadline and cancellation are checked;
// a context with no deadline passes. Call sites that get a non-nil error
// should abort without touching the namespace.
func checkOpDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return wkerrors.Wrap(wkerrors.KindTimeout, "store operation context already done", err)
	}
	if dl, ok := ctx.Deadline(); ok && time.Now().After(dl) {
		return wkerrors.New(wkerrors.KindTimeout, "store operation deadline exceeded")
	}
	return nil
}

// Option configures a Store at construction.
type Option func(*Store)

// WithTracing enables otel span wrapping around every operation, matching
// the teacher's "only when telemetry is enabled" idiom.
func WithTracing(enabled bool) Option {
	return func(s *Store) {
		if enabled {
			s.tracer = otel.Tracer("store")
		}
	}
}

// New builds an empty Store.
func New(opts ...Option) *Store {
	s := &Store{namespaces: make(map[string]*namespace)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ns(name string) *namespace {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.namespaces[name]
	if !ok {
		n = &namespace{entries: make(map[string]*entry)}
		s.namespaces[name] = n
	}
	return n
}

func (s *Store) startSpan(ctx context.Context, op, namespace, key string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, nil
	}
	ctx, span := s.tracer.Start(ctx, "store."+op,
		trace.WithAttributes(
			attribute.String("store.namespace", namespace),
			attribute.String("store.key", key),
			attribute.String("store.operation", op),
		),
	)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// Put stores value under namespace/key with no expiry.
func (s *Store) Put(ctx context.Context, namespace, key string, value any) error {
	return s.PutWithTTL(ctx, namespace, key, value, 0)
}

// PutWithTTL stores value under namespace/key, expiring it after ttl (zero
// means no expiry).
func (s *Store) PutWithTTL(ctx context.Context, namespace, key string, value any, ttl time.Duration) error {
	_, span := s.startSpan(ctx, "put", namespace, key)

	if err := checkOpDeadline(ctx); err != nil {
		endSpan(span, err)
		return err
	}

	n := s.ns(namespace)
	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	n.mu.Lock()
	n.entries[key] = e
	n.mu.Unlock()
	endSpan(span, nil)
	return nil
}

// Get retrieves the value stored under namespace/key. Returns a NotFound
// wkerrors.Error if the key is absent or has expired.
func (s *Store) Get(ctx context.Context, namespace, key string) (any, error) {
	_, span := s.startSpan(ctx, "get", namespace, key)

	if err := checkOpDeadline(ctx); err != nil {
		endSpan(span, err)
		return nil, err
	}

	n := s.ns(namespace)
	n.mu.RLock()
	e, ok := n.entries[key]
	n.mu.RUnlock()

	if !ok || e.expired(time.Now()) {
		err := wkerrors.New(wkerrors.KindNotFound, "key not found").
			WithContext("namespace", namespace).WithContext("key", key)
		endSpan(span, err)
		return nil, err
	}
	endSpan(span, nil)
	return e.value, nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	_, span := s.startSpan(ctx, "delete", namespace, key)

	if err := checkOpDeadline(ctx); err != nil {
		endSpan(span, err)
		return err
	}

	n := s.ns(namespace)
	n.mu.Lock()
	delete(n.entries, key)
	n.mu.Unlock()
	endSpan(span, nil)
	return nil
}

// Exists reports whether namespace/key holds a live, unexpired value.
func (s *Store) Exists(ctx context.Context, namespace, key string) bool {
	_, span := s.startSpan(ctx, "exists", namespace, key)

	if err := checkOpDeadline(ctx); err != nil {
		endSpan(span, err)
		return false
	}

	n := s.ns(namespace)
	n.mu.RLock()
	e, ok := n.entries[key]
	n.mu.RUnlock()
	exists := ok && !e.expired(time.Now())
	endSpan(span, nil)
	return exists
}

// TTL returns the remaining time to live for namespace/key. A zero duration
// with a nil error means the key has no expiry.
func (s *Store) TTL(ctx context.Context, namespace, key string) (time.Duration, error) {
	_, span := s.startSpan(ctx, "ttl", namespace, key)

	if err := checkOpDeadline(ctx); err != nil {
		endSpan(span, err)
		return 0, err
	}

	n := s.ns(namespace)
	n.mu.RLock()
	e, ok := n.entries[key]
	n.mu.RUnlock()

	if !ok || e.expired(time.Now()) {
		err := wkerrors.New(wkerrors.KindNotFound, "key not found").
			WithContext("namespace", namespace).WithContext("key", key)
		endSpan(span, err)
		return 0, err
	}
	endSpan(span, nil)
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return time.Until(e.expiresAt), nil
}

// Count returns the number of live (unexpired) entries in namespace.
func (s *Store) Count(namespace string) int {
	n := s.ns(namespace)
	n.mu.RLock()
	defer n.mu.RUnlock()
	now := time.Now()
	count := 0
	for _, e := range n.entries {
		if !e.expired(now) {
			count++
		}
	}
	return count
}

// sweep drops every expired entry from namespace and returns how many were
// removed. Called by GCWorker on its cron schedule.
func (n *namespace) sweep(now time.Time) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	removed := 0
	for k, e := range n.entries {
		if e.expired(now) {
			delete(n.entries, k)
			removed++
		}
	}
	return removed
}

// Sweep runs an expiry sweep across every namespace and returns the total
// number of entries removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	names := make([]*namespace, 0, len(s.namespaces))
	for _, n := range s.namespaces {
		names = append(names, n)
	}
	s.mu.Unlock()

	now := time.Now()
	total := 0
	for _, n := range names {
		total += n.sweep(now)
	}
	return total
}
