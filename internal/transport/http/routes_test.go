package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wandererkills/internal/ingestor"
	"wandererkills/internal/killmail"
	"wandererkills/internal/preloader"
	"wandererkills/internal/store"
	"wandererkills/internal/subscription"
	"wandererkills/internal/taskpool"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSink struct{}

func (fakeSink) DeliverTo(subscriberID string, km *killmail.Killmail) {}

func newTestServer(t *testing.T) (*httptest.Server, *Core) {
	t.Helper()

	s := store.New()
	registry := subscription.NewRegistry()
	pool := taskpool.New(1, 4, discardLogger())
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)

	pl := preloader.New(s, pool, fakeSink{}, discardLogger())

	cfg := ingestor.DefaultConfig()
	consumer := ingestor.New(cfg, nil, s, discardLogger())

	core := &Core{Store: s, Registry: registry, Preloader: pl, Ingestor: consumer}

	r := chi.NewRouter()
	api := humachi.New(r, huma.DefaultConfig("test", "0.0.1"))
	RegisterRoutes(api, "/api/v1", core)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, core
}

func TestHealthReturnsOK(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
}

func TestGetKillmailNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/api/v1/killmail/12345")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, stdhttp.StatusNotFound, resp.StatusCode)
}

func TestGetKillmailReturnsStoredKillmail(t *testing.T) {
	srv, core := newTestServer(t)

	km := &killmail.Killmail{ID: 555, SystemID: 30000142, KillTime: time.Now()}
	require.NoError(t, core.Store.Put(context.Background(), "killmail", "555", km))

	resp, err := srv.Client().Get(srv.URL + "/api/v1/killmail/555")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)

	var body killmail.Killmail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(555), body.ID)
}

func TestGetKillCountReadsSystemCountNamespace(t *testing.T) {
	srv, core := newTestServer(t)
	core.Store.Incr(context.Background(), "system_count", "30000142", 3)

	resp, err := srv.Client().Get(srv.URL + "/api/v1/kills/count/30000142")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body KillCountResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(3), body.Count)
}

func TestCreateAndDeleteSubscription(t *testing.T) {
	srv, core := newTestServer(t)

	createBody := `{"subscriber_id":"alice","system_ids":[30000142]}`
	resp, err := srv.Client().Post(srv.URL+"/api/v1/subscriptions", "application/json", bytes.NewBufferString(createBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, stdhttp.StatusCreated, resp.StatusCode)

	var created CreateSubscriptionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.SubscriptionID)
	assert.Len(t, core.Registry.ForSubscriber("alice"), 1)

	req, err := stdhttp.NewRequest(stdhttp.MethodDelete, srv.URL+"/api/v1/subscriptions/alice", nil)
	require.NoError(t, err)
	delResp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, stdhttp.StatusOK, delResp.StatusCode)
	assert.Empty(t, core.Registry.ForSubscriber("alice"))
}

func TestDeleteUnknownSubscriberReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := stdhttp.NewRequest(stdhttp.MethodDelete, srv.URL+"/api/v1/subscriptions/nobody", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, stdhttp.StatusNotFound, resp.StatusCode)
}

func TestGetCharacterStatsDefaultsToZeroWhenUnseen(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/api/v1/characters/100/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)

	var body struct {
		CharacterID int64 `json:"character_id"`
		Kills       int64 `json:"kills"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(100), body.CharacterID)
	assert.Equal(t, int64(0), body.Kills)
}

func TestGetIngestorStatusReturnsState(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/api/v1/ingestor/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)

	var body ingestor.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.State)
}
