package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wandererkills/internal/killmail"
)

func TestCreateRequiresSystemOrCharacter(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("sub1", nil, nil, DeliveryWebSocket, "")
	require.Error(t, err)
}

func TestCreateWebhookRequiresURL(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("sub1", []int64{30000142}, nil, DeliveryWebhook, "")
	require.Error(t, err)
}

func TestInterestedMatchesBySystem(t *testing.T) {
	r := NewRegistry()
	sub, err := r.Create("sub1", []int64{30000142}, nil, DeliveryWebSocket, "")
	require.NoError(t, err)

	km := &killmail.Killmail{ID: 1, SystemID: 30000142, KillTime: time.Now()}
	ids := r.Interested(km)
	assert.Contains(t, ids, sub.ID)
}

func TestInterestedMatchesByCharacter(t *testing.T) {
	r := NewRegistry()
	charID := int64(555)
	sub, err := r.Create("sub1", nil, []int64{charID}, DeliveryWebSocket, "")
	require.NoError(t, err)

	km := &killmail.Killmail{
		ID:       1,
		SystemID: 99999,
		Victim:   killmail.Victim{CharacterID: &charID},
		KillTime: time.Now(),
	}
	assert.Contains(t, r.Interested(km), sub.ID)
}

func TestRemoveDropsFromBothIndexes(t *testing.T) {
	r := NewRegistry()
	sub, err := r.Create("sub1", []int64{1}, []int64{2}, DeliveryWebSocket, "")
	require.NoError(t, err)

	require.NoError(t, r.Remove(sub.ID))

	km := &killmail.Killmail{ID: 1, SystemID: 1, KillTime: time.Now()}
	assert.Empty(t, r.Interested(km))
	assert.Equal(t, 0, r.bySystem.count())
	assert.Equal(t, 0, r.byCharacter.count())
}

func TestRemoveMissingReturnsNotFound(t *testing.T) {
	r := NewRegistry()
	err := r.Remove("nonexistent")
	require.Error(t, err)
}

func TestUpdateReplacesFilterSetsAndReindexes(t *testing.T) {
	r := NewRegistry()
	sub, err := r.Create("sub1", []int64{1}, nil, DeliveryWebSocket, "")
	require.NoError(t, err)

	updated, err := r.Update(sub.ID, []int64{2}, []int64{3})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, updated.SystemIDs)
	assert.Equal(t, []int64{3}, updated.CharacterIDs)

	oldSystem := &killmail.Killmail{ID: 1, SystemID: 1, KillTime: time.Now()}
	assert.Empty(t, r.Interested(oldSystem))

	newSystem := &killmail.Killmail{ID: 2, SystemID: 2, KillTime: time.Now()}
	assert.Contains(t, r.Interested(newSystem), sub.ID)
}

func TestUpdateRejectsEmptyFilterSets(t *testing.T) {
	r := NewRegistry()
	sub, err := r.Create("sub1", []int64{1}, nil, DeliveryWebSocket, "")
	require.NoError(t, err)

	_, err = r.Update(sub.ID, []int64{}, []int64{})
	require.Error(t, err)
}

func TestListReturnsEverySubscription(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("alice", []int64{1}, nil, DeliveryWebSocket, "")
	require.NoError(t, err)
	_, err = r.Create("bob", []int64{2}, nil, DeliveryWebSocket, "")
	require.NoError(t, err)

	assert.Len(t, r.List(), 2)
}

func TestUpdateOffsetOnlyMovesForward(t *testing.T) {
	r := NewRegistry()
	sub, err := r.Create("sub1", []int64{1}, nil, DeliveryWebSocket, "")
	require.NoError(t, err)

	r.UpdateOffset(sub.ID, 5)
	r.UpdateOffset(sub.ID, 3)

	got, err := r.Get(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.LastDelivered)
}

func TestForSubscriberReturnsOwnedSubscriptionsOnly(t *testing.T) {
	r := NewRegistry()
	s1, err := r.Create("alice", []int64{1}, nil, DeliveryWebSocket, "")
	require.NoError(t, err)
	_, err = r.Create("bob", []int64{2}, nil, DeliveryWebSocket, "")
	require.NoError(t, err)

	subs := r.ForSubscriber("alice")
	require.Len(t, subs, 1)
	assert.Equal(t, s1.ID, subs[0].ID)
}
