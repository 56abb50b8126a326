package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wandererkills/internal/esi"
	"wandererkills/internal/fetcher"
	"wandererkills/internal/store"
)

func TestProcessUpdatesCharacterStatsForVictimAndAttacker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"name": "Test Entity"})
	}))
	defer srv.Close()

	s := store.New()
	client := fetcher.New(srv.Client(), discardLogger())
	resolver := esi.New(srv.URL, client, s)
	sink := &fakeSink{}
	p := New(s, resolver, sink, discardLogger())

	killTime := time.Now()
	pkg := testPackage(10, killTime)
	require.NoError(t, p.Process(context.Background(), pkg))

	v, err := s.Get(context.Background(), charStatsNamespace, "100")
	require.NoError(t, err)
	stats := v.(CharacterStats)

	assert.Equal(t, int64(100), stats.CharacterID)
	assert.Equal(t, int64(1), stats.Kills)
	assert.Equal(t, int64(1), stats.Losses)
}

func TestProcessIncrementsSystemCountAndTimeseries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"name": "Test Entity"})
	}))
	defer srv.Close()

	s := store.New()
	client := fetcher.New(srv.Client(), discardLogger())
	resolver := esi.New(srv.URL, client, s)
	sink := &fakeSink{}
	p := New(s, resolver, sink, discardLogger())

	killTime := time.Now()
	pkg := testPackage(11, killTime)
	require.NoError(t, p.Process(context.Background(), pkg))

	v, err := s.Get(context.Background(), systemCountNamespace, "30000142")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	bucketKey := "30000142:" + killTime.UTC().Format(hourBucketLayout)
	v, err = s.Get(context.Background(), timeseriesNamespace, bucketKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}
