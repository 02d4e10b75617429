package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaumene/nyaarr/internal/config"
	"github.com/amaumene/nyaarr/internal/database"
	"github.com/amaumene/nyaarr/internal/models"
	"github.com/amaumene/nyaarr/internal/services"
)

const handlerCatalog = `{
  "data": [
    {
      "sources": [
        "https://anidb.net/anime/17617",
        "https://thetvdb.com/series/424536"
      ],
      "title": "Sousou no Frieren",
      "synonyms": ["Frieren: Beyond Journey's End", "葬送のフリーレン"]
    }
  ]
}`

const handlerNyaaRSS = `<?xml version="1.0" encoding="utf-8"?>
<rss xmlns:nyaa="https://nyaa.si/xmlns/nyaa" version="2.0">
  <channel>
    <title>Nyaa - Home</title>
    <item>
      <title>[SubsPlease] Sousou no Frieren - 28 (1080p)</title>
      <link>https://nyaa.si/download/1234.torrent</link>
      <guid isPermaLink="true">https://nyaa.si/view/1234</guid>
      <pubDate>Fri, 15 Mar 2024 12:30:00 -0000</pubDate>
      <nyaa:seeders>120</nyaa:seeders>
      <nyaa:leechers>8</nyaa:leechers>
      <nyaa:size>1.4 GiB</nyaa:size>
    </item>
  </channel>
</rss>`

// fixture wires the full service graph against local fake upstreams.
type fixture struct {
	router *gin.Engine
	cfg    *config.Config

	mu          sync.Mutex
	nyaaQueries []string
}

func (f *fixture) seenQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.nyaaQueries...)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{}

	nyaa := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.nyaaQueries = append(f.nyaaQueries, r.URL.Query().Get("q"))
		f.mu.Unlock()
		w.Write([]byte(handlerNyaaRSS))
	}))
	t.Cleanup(nyaa.Close)

	xem := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(xem.Close)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "anime-offline-database.json"), []byte(handlerCatalog), 0644))

	f.cfg = &config.Config{
		APIKey:                "test",
		NyaaURL:               nyaa.URL,
		TheXEMURL:             xem.URL,
		AniListURL:            "http://unused.invalid",
		DataDir:               dir,
		AnimeDBUpdateInterval: 86400,
		MappingCacheTTL:       604800,
		MaxResultsPerQuery:    100,
		EnableDeduplication:   true,
	}

	db, err := database.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	container := services.NewContainer(f.cfg, db)
	require.NoError(t, container.AnimeDB.Initialize(context.Background()))

	f.router = gin.New()
	New(container, f.cfg).RegisterRoutes(f.router)
	return f
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.router.ServeHTTP(w, req)
	return w
}

func TestCapsNeedsNoAuth(t *testing.T) {
	f := newFixture(t)

	w := f.get("/api?t=caps")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "<?xml"), "caps must carry the XML prolog")
	assert.Contains(t, body, `supportedParams="q,tvdbid,season,ep"`)
	assert.Contains(t, body, `id="5000"`)
	assert.Contains(t, body, `id="5070"`)
}

func TestRejectsBadAPIKey(t *testing.T) {
	f := newFixture(t)

	w := f.get("/api?t=tvsearch&apikey=wrong")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "invalid API key")
}

func TestRejectsUnknownQueryType(t *testing.T) {
	f := newFixture(t)

	w := f.get("/api?t=music&apikey=test")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported query type: music")
}

func TestUnknownTvdbIDReturnsEmptyFeed(t *testing.T) {
	f := newFixture(t)

	w := f.get("/api?t=tvsearch&apikey=test&tvdbid=999999&season=1&ep=1")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "<?xml"))
	assert.NotContains(t, body, "<item>")
}

func TestTVSearchEndToEnd(t *testing.T) {
	f := newFixture(t)

	w := f.get("/api?t=tvsearch&apikey=test&tvdbid=424536&season=1&ep=28")
	require.Equal(t, http.StatusOK, w.Code)

	queries := f.seenQueries()
	require.Len(t, queries, 1)
	assert.Equal(t, `("Sousou no Frieren"|"Frieren: Beyond Journey's End") 28`, queries[0])

	body := w.Body.String()
	assert.Contains(t, body, "[SubsPlease] Sousou no Frieren - 28 (1080p)")
	assert.Contains(t, body, `<torznab:attr name="tvdbid" value="424536">`)
	assert.Contains(t, body, `<torznab:attr name="season" value="1">`)
	assert.Contains(t, body, `<torznab:attr name="episode" value="28">`)
	assert.Contains(t, body, `<torznab:attr name="seeders" value="120">`)
	assert.Contains(t, body, "Fri, 15 Mar 2024 12:30:00 +0000")
}

func TestIndexerTestSearch(t *testing.T) {
	f := newFixture(t)

	// A bare tvsearch is Sonarr probing the indexer; it must return items.
	w := f.get("/api?t=tvsearch&apikey=test")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<item>")

	require.Len(t, f.seenQueries(), 1)
	assert.Equal(t, "Frieren", f.seenQueries()[0])
}

func TestGenericSearchWithoutQueryIsEmpty(t *testing.T) {
	f := newFixture(t)

	w := f.get("/api?t=search&apikey=test")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "<item>")
	assert.Empty(t, f.seenQueries(), "no upstream call without a query")
}

func TestGenericSeasonZeroSearch(t *testing.T) {
	f := newFixture(t)

	w := f.get("/api?t=search&apikey=test&q=" + strings.ReplaceAll("Sousou no Frieren 00", " ", "+"))
	require.Equal(t, http.StatusOK, w.Code)

	queries := f.seenQueries()
	require.Len(t, queries, 2)
	assert.Contains(t, queries, `"Sousou no Frieren" (OVA|Special|Movie)`)
	assert.Contains(t, queries, "Sousou no Frieren")
}

func TestOverrideLifecycle(t *testing.T) {
	f := newFixture(t)

	// Unauthorized
	w := f.get("/api/overrides")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Nothing stored yet
	w = f.get("/api/overrides/424536?apikey=test")
	assert.Equal(t, http.StatusNotFound, w.Code)

	payload, err := json.Marshal(models.MappingOverride{
		TvdbID:       424536,
		AnidbID:      17617,
		CustomTitles: []string{"Frieren"},
	})
	require.NoError(t, err)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/overrides?apikey=test", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.get("/api/overrides/424536?apikey=test")
	require.Equal(t, http.StatusOK, w.Code)

	var stored models.MappingOverride
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, []string{"Frieren"}, stored.CustomTitles)
}

func TestSaveOverrideRejectsMissingTvdbID(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/overrides?apikey=test", strings.NewReader(`{"anidb_id": 1}`))
	req.Header.Set("Content-Type", "application/json")
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
