package subscription

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"wandererkills/internal/killmail"
	"wandererkills/internal/wkerrors"
)

// DeliveryMode selects how a subscriber receives matched killmails.
type DeliveryMode string

const (
	DeliveryWebSocket DeliveryMode = "websocket"
	DeliveryWebhook   DeliveryMode = "webhook"
)

// Subscription is one subscriber's interest: a set of system ids, a set of
// character ids, and where to deliver matches. Mutated only by replacing
// its whole filter-sets (see Update), never by incremental add/remove.
type Subscription struct {
	ID            string
	SubscriberID  string
	SystemIDs     []int64
	CharacterIDs  []int64
	Mode          DeliveryMode
	WebhookURL    string
	CreatedAt     time.Time
	LastDelivered int64
}

// Registry is the single-writer-per-subscriber store of active
// subscriptions, backed by two generic indexes (by system, by character).
// Grounded on internal/websocket/services/room.go's RoomManager.
type Registry struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription

	bySystem    *index[int64]
	byCharacter *index[int64]
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		subscriptions: make(map[string]*Subscription),
		bySystem:      newIndex[int64](),
		byCharacter:   newIndex[int64](),
	}
}

// Create registers a new subscription and indexes its system/character ids.
// Returns the new subscription, carrying its generated id.
func (r *Registry) Create(subscriberID string, systemIDs, characterIDs []int64, mode DeliveryMode, webhookURL string) (*Subscription, error) {
	if len(systemIDs) == 0 && len(characterIDs) == 0 {
		return nil, wkerrors.New(wkerrors.KindValidation, "subscription must include at least one system or character id")
	}
	if mode == DeliveryWebhook && webhookURL == "" {
		return nil, wkerrors.New(wkerrors.KindValidation, "webhook delivery requires a webhook_url")
	}

	sub := &Subscription{
		ID:           uuid.NewString(),
		SubscriberID: subscriberID,
		SystemIDs:    systemIDs,
		CharacterIDs: characterIDs,
		Mode:         mode,
		WebhookURL:   webhookURL,
		CreatedAt:    time.Now(),
	}

	r.mu.Lock()
	r.subscriptions[sub.ID] = sub
	r.mu.Unlock()

	for _, sysID := range systemIDs {
		r.bySystem.add(sub.ID, sysID)
	}
	for _, charID := range characterIDs {
		r.byCharacter.add(sub.ID, charID)
	}

	return sub, nil
}

// Remove deletes a subscription and drops it from both indexes.
func (r *Registry) Remove(subscriptionID string) error {
	r.mu.Lock()
	_, ok := r.subscriptions[subscriptionID]
	if ok {
		delete(r.subscriptions, subscriptionID)
	}
	r.mu.Unlock()

	if !ok {
		return wkerrors.New(wkerrors.KindNotFound, "subscription not found").
			WithContext("subscription_id", subscriptionID)
	}

	r.bySystem.removeAll(subscriptionID)
	r.byCharacter.removeAll(subscriptionID)
	return nil
}

// Update replaces subscriptionID's system and character id filter-sets
// wholesale, re-deriving both indexes to match. Either slice may be nil to
// leave that dimension unchanged — passing both nil is a no-op filter
// update, matching "mutated only by replacing whole filter-sets."
func (r *Registry) Update(subscriptionID string, newSystemIDs, newCharacterIDs []int64) (*Subscription, error) {
	r.mu.Lock()
	sub, ok := r.subscriptions[subscriptionID]
	if !ok {
		r.mu.Unlock()
		return nil, wkerrors.New(wkerrors.KindNotFound, "subscription not found").
			WithContext("subscription_id", subscriptionID)
	}

	if newSystemIDs != nil {
		sub.SystemIDs = newSystemIDs
	}
	if newCharacterIDs != nil {
		sub.CharacterIDs = newCharacterIDs
	}
	if len(sub.SystemIDs) == 0 && len(sub.CharacterIDs) == 0 {
		r.mu.Unlock()
		return nil, wkerrors.New(wkerrors.KindValidation, "subscription must include at least one system or character id")
	}
	r.mu.Unlock()

	r.bySystem.removeAll(subscriptionID)
	r.byCharacter.removeAll(subscriptionID)
	for _, sysID := range sub.SystemIDs {
		r.bySystem.add(subscriptionID, sysID)
	}
	for _, charID := range sub.CharacterIDs {
		r.byCharacter.add(subscriptionID, charID)
	}

	return sub, nil
}

// List returns every active subscription.
func (r *Registry) List() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Subscription, 0, len(r.subscriptions))
	for _, sub := range r.subscriptions {
		out = append(out, sub)
	}
	return out
}

// UpdateOffset advances subscriptionID's LastDelivered to offset if offset
// is greater than its current value. Called after a dispatch, never allowed
// to move backwards since deliveries can race across delivery modes.
func (r *Registry) UpdateOffset(subscriptionID string, offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subscriptions[subscriptionID]
	if !ok {
		return
	}
	if offset > sub.LastDelivered {
		sub.LastDelivered = offset
	}
}

// Get retrieves a subscription by id.
func (r *Registry) Get(subscriptionID string) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subscriptions[subscriptionID]
	if !ok {
		return nil, wkerrors.New(wkerrors.KindNotFound, "subscription not found").
			WithContext("subscription_id", subscriptionID)
	}
	return sub, nil
}

// ForSubscriber returns every subscription owned by subscriberID.
func (r *Registry) ForSubscriber(subscriberID string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, sub := range r.subscriptions {
		if sub.SubscriberID == subscriberID {
			out = append(out, sub)
		}
	}
	return out
}

// Interested returns the distinct subscription ids that match km, by
// either its solar system or any participant's character id.
func (r *Registry) Interested(km *killmail.Killmail) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(ids []string) {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}

	add(r.bySystem.interested(km.SystemID))
	for _, charID := range km.CharacterIDs() {
		add(r.byCharacter.interested(charID))
	}

	return out
}

// Count returns the number of active subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscriptions)
}
