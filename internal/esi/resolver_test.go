package esi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wandererkills/internal/fetcher"
	"wandererkills/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveCachesAcrossCalls(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]any{"name": "Alice"})
	}))
	defer srv.Close()

	s := store.New()
	c := fetcher.New(srv.Client(), discardLogger())
	r := New(srv.URL, c, s)

	e1, err := r.Resolve(context.Background(), KindCharacter, 1)
	require.NoError(t, err)
	assert.Equal(t, "Alice", e1.Name)

	e2, err := r.Resolve(context.Background(), KindCharacter, 1)
	require.NoError(t, err)
	assert.Equal(t, "Alice", e2.Name)

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestResolveCoalescesConcurrentMisses(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]any{"name": "Bob"})
	}))
	defer srv.Close()

	s := store.New()
	c := fetcher.New(srv.Client(), discardLogger())
	r := New(srv.URL, c, s)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), KindCharacter, 42)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestResolveNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := store.New()
	c := fetcher.New(srv.Client(), discardLogger())
	r := New(srv.URL, c, s)

	_, err := r.Resolve(context.Background(), KindCharacter, 999)
	require.Error(t, err)
}
