package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaumene/nyaarr/internal/database"
	"github.com/amaumene/nyaarr/pkg/httputil"
	"github.com/amaumene/nyaarr/pkg/logger"
)

func newTestXEM(baseURL string) *TheXEM {
	return &TheXEM{
		baseURL:    baseURL,
		httpClient: httputil.NewHTTPClient(5 * time.Second),
		logger:     logger.NewWithLevel(logger.LevelError),
		cache:      make(map[string]*database.XEMCacheEntry),
	}
}

func TestTheXEMSingleMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/map/single", r.URL.Path)
		assert.Equal(t, "tvdb", r.URL.Query().Get("origin"))
		assert.Equal(t, "anidb", r.URL.Query().Get("destination"))
		w.Write([]byte(`{"result":"success","data":{"anidb":{"season":1,"episode":28,"absolute":28}},"message":""}`))
	}))
	defer server.Close()

	x := newTestXEM(server.URL)
	abs, ok := x.TvdbToAnidbEpisode(context.Background(), 424536, 2, 1)
	assert.True(t, ok)
	assert.Equal(t, 28, abs)
}

func TestTheXEMNoMappingOn404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	x := newTestXEM(server.URL)
	_, ok := x.TvdbToAnidbEpisode(context.Background(), 12345, 1, 1)
	assert.False(t, ok)
}

func TestTheXEMNonSuccessResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"failure","data":null,"message":"no show with that id"}`))
	}))
	defer server.Close()

	x := newTestXEM(server.URL)
	mappings := x.GetAllMappings(context.Background(), 99999, "tvdb")
	assert.Nil(t, mappings)
}

func TestTheXEMAllMappingsCached(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"result":"success","data":[{"tvdb":{"season":1,"episode":1,"absolute":1},"anidb":{"season":1,"episode":1,"absolute":1}}],"message":""}`))
	}))
	defer server.Close()

	x := newTestXEM(server.URL)

	first := x.GetAllMappings(context.Background(), 424536, "tvdb")
	require.Len(t, first, 1)
	second := x.GetAllMappings(context.Background(), 424536, "tvdb")
	require.Len(t, second, 1)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second listing should come from cache")
	assert.Equal(t, 1, first[0]["anidb"].Absolute)
}

func TestTheXEMCacheExpiry(t *testing.T) {
	x := newTestXEM("http://unused")
	key := "map/all?id=1&origin=tvdb"
	x.cache[key] = &database.XEMCacheEntry{
		Data:     []byte(`[]`),
		CachedAt: time.Now().Add(-8 * 24 * time.Hour),
	}

	_, ok := x.getCached(key)
	assert.False(t, ok, "week-old entries must not be served")
}

func TestTheXEMGetAllNames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/map/allNames", r.URL.Path)
		w.Write([]byte(`{"result":"success","data":{"80112":["Bakuman","Bakuman."],"424536":["Sousou no Frieren"]},"message":""}`))
	}))
	defer server.Close()

	x := newTestXEM(server.URL)
	names := x.GetAllNames(context.Background(), "tvdb", true)
	require.NotNil(t, names)
	assert.ElementsMatch(t, []string{"Bakuman", "Bakuman."}, names[80112])

	byID := x.GetNamesByTvdbID(context.Background(), 424536)
	assert.Equal(t, []string{"Sousou no Frieren"}, byID)
}

func TestCacheKeyStable(t *testing.T) {
	a := url.Values{}
	a.Set("id", "1")
	a.Set("origin", "tvdb")

	b := url.Values{}
	b.Set("origin", "tvdb")
	b.Set("id", "1")

	assert.Equal(t, cacheKey("map/all", a), cacheKey("map/all", b))
}
