package enrichment

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wandererkills/internal/esi"
	"wandererkills/internal/fetcher"
	"wandererkills/internal/killmail"
	"wandererkills/internal/store"
	"wandererkills/internal/zkbwire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSink struct {
	mu        sync.Mutex
	published []*killmail.Killmail
	offsets   []int64
}

func (f *fakeSink) Publish(ctx context.Context, km *killmail.Killmail, offset int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, km)
	f.offsets = append(f.offsets, offset)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func testPackage(killID int64, killTime time.Time) *zkbwire.RedisQPackage {
	charID := int32(100)
	esiKm := zkbwire.ESIKillmail{
		KillmailID:    killID,
		KillmailTime:  killTime,
		SolarSystemID: 30000142,
		Victim: zkbwire.ESIVictim{
			CharacterID:   &charID,
			CorporationID: 200,
			ShipTypeID:    300,
			DamageTaken:   500,
		},
		Attackers: []zkbwire.ESIAttacker{
			{CharacterID: &charID, DamageDone: 500, FinalBlow: true},
		},
	}
	raw, _ := json.Marshal(esiKm)
	return &zkbwire.RedisQPackage{
		KillID:   killID,
		Killmail: raw,
		ZKB:      zkbwire.ZKBData{Hash: "abc123", TotalValue: 1000},
	}
}

func TestProcessEnrichesAndPublishes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"name": "Test Entity"})
	}))
	defer srv.Close()

	s := store.New()
	client := fetcher.New(srv.Client(), discardLogger())
	resolver := esi.New(srv.URL, client, s)
	sink := &fakeSink{}
	p := New(s, resolver, sink, discardLogger())

	pkg := testPackage(1, time.Now())
	require.NoError(t, p.Process(context.Background(), pkg))

	assert.Equal(t, 1, sink.count())
	assert.True(t, s.Exists(context.Background(), killmailNamespace, "1"))

	km := sink.published[0]
	assert.Equal(t, "Test Entity", km.Victim.CharacterName)
	assert.Equal(t, "Test Entity", km.Victim.ShipTypeName)
}

func TestProcessSkipsDuplicate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"name": "X"})
	}))
	defer srv.Close()

	s := store.New()
	client := fetcher.New(srv.Client(), discardLogger())
	resolver := esi.New(srv.URL, client, s)
	sink := &fakeSink{}
	p := New(s, resolver, sink, discardLogger())

	pkg := testPackage(2, time.Now())
	require.NoError(t, p.Process(context.Background(), pkg))
	require.NoError(t, p.Process(context.Background(), pkg))

	assert.Equal(t, 1, sink.count())
}

func TestProcessSkipsStaleKillmail(t *testing.T) {
	s := store.New()
	client := fetcher.New(http.DefaultClient, discardLogger())
	resolver := esi.New("http://unused.invalid", client, s)
	sink := &fakeSink{}
	p := New(s, resolver, sink, discardLogger())

	pkg := testPackage(3, time.Now().Add(-48*time.Hour))
	require.NoError(t, p.Process(context.Background(), pkg))

	assert.Equal(t, 0, sink.count())
	assert.False(t, s.Exists(context.Background(), killmailNamespace, "3"))
}

func TestProcessHydratesLegacyShapePackage(t *testing.T) {
	charID := int32(100)
	esiKm := zkbwire.ESIKillmail{
		KillmailID:    5,
		KillmailTime:  time.Now(),
		SolarSystemID: 30000142,
		Victim: zkbwire.ESIVictim{
			CharacterID:   &charID,
			CorporationID: 200,
			ShipTypeID:    300,
			DamageTaken:   500,
		},
		Attackers: []zkbwire.ESIAttacker{
			{CharacterID: &charID, DamageDone: 500, FinalBlow: true},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/killmails/") {
			json.NewEncoder(w).Encode(esiKm)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"name": "Test Entity"})
	}))
	defer srv.Close()

	s := store.New()
	client := fetcher.New(srv.Client(), discardLogger())
	resolver := esi.New(srv.URL, client, s)
	sink := &fakeSink{}
	p := New(s, resolver, sink, discardLogger())

	pkg := &zkbwire.RedisQPackage{KillID: 5, ZKB: zkbwire.ZKBData{Hash: "legacy-hash", TotalValue: 500}}
	require.NoError(t, p.Process(context.Background(), pkg))

	require.Equal(t, 1, sink.count())
	assert.Equal(t, int64(5), sink.published[0].ID)
	assert.Contains(t, s.SetMembers(context.Background(), activeSystemsNamespace, store.ActiveSystemsKey), int64(30000142))
}

func TestProcessRejectsInvalidKillmail(t *testing.T) {
	s := store.New()
	client := fetcher.New(http.DefaultClient, discardLogger())
	resolver := esi.New("http://unused.invalid", client, s)
	sink := &fakeSink{}
	p := New(s, resolver, sink, discardLogger())

	esiKm := zkbwire.ESIKillmail{
		KillmailID:   4,
		KillmailTime: time.Now(),
	} // no attackers
	raw, _ := json.Marshal(esiKm)
	pkg := &zkbwire.RedisQPackage{KillID: 4, Killmail: raw, ZKB: zkbwire.ZKBData{Hash: "h"}}

	err := p.Process(context.Background(), pkg)
	require.Error(t, err)
}
