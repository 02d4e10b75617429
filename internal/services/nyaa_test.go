package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaumene/nyaarr/internal/cache"
	"github.com/amaumene/nyaarr/internal/constants"
	"github.com/amaumene/nyaarr/pkg/httputil"
	"github.com/amaumene/nyaarr/pkg/logger"
)

const sampleRSS = `<?xml version="1.0" encoding="utf-8"?>
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
      <nyaa:downloads>900</nyaa:downloads>
      <nyaa:infoHash>abc123</nyaa:infoHash>
      <nyaa:categoryId>1_2</nyaa:categoryId>
      <nyaa:size>1.4 GiB</nyaa:size>
      <nyaa:trusted>Yes</nyaa:trusted>
    </item>
    <item>
      <title>[Erai-raws] Sousou no Frieren - 28 (720p)</title>
      <link>https://nyaa.si/download/1235.torrent</link>
      <guid isPermaLink="true">https://nyaa.si/view/1235</guid>
      <pubDate>Fri, 15 Mar 2024 13:00:00 -0000</pubDate>
      <nyaa:seeders>300</nyaa:seeders>
      <nyaa:leechers>20</nyaa:leechers>
      <nyaa:downloads>1200</nyaa:downloads>
      <nyaa:infoHash>def456</nyaa:infoHash>
      <nyaa:categoryId>1_2</nyaa:categoryId>
      <nyaa:size>700 MiB</nyaa:size>
      <nyaa:trusted>No</nyaa:trusted>
    </item>
  </channel>
</rss>`

func newTestNyaa(baseURL string) *Nyaa {
	return &Nyaa{
		baseURL:    baseURL,
		category:   constants.NyaaCategoryAllAnime,
		filter:     constants.NyaaFilterNone,
		httpClient: httputil.NewHTTPClient(5 * time.Second),
		logger:     logger.NewWithLevel(logger.LevelError),
		cache:      cache.New(constants.NyaaCacheCapacity, constants.NyaaCacheTTLSeconds*time.Second),
		sem:        make(chan struct{}, constants.NyaaMaxConcurrentRequests),
	}
}

func TestBuildCombinedQuery(t *testing.T) {
	tests := []struct {
		name     string
		titles   []string
		episodes []int
		keywords []string
		want     string
	}{
		{
			name:     "multiple titles and one episode",
			titles:   []string{"Sousou no Frieren", "Frieren: Beyond Journey's End"},
			episodes: []int{28},
			want:     `("Sousou no Frieren"|"Frieren: Beyond Journey's End") 28`,
		},
		{
			name:     "multiple episodes sorted and deduplicated",
			titles:   []string{"Bakuman"},
			episodes: []int{27, 14, 27},
			want:     `Bakuman (14|27)`,
		},
		{
			name:   "keyword group",
			titles: []string{"Kaguya-sama"},
			keywords: []string{
				"OVA", "Special", "OAD", "Movie",
			},
			want: `Kaguya-sama (OVA|Special|OAD|Movie)`,
		},
		{
			name:   "inner quotes stripped",
			titles: []string{`Anime "Quoted" Title`},
			want:   `"Anime Quoted Title"`,
		},
		{
			name:   "pipe in title forces quoting",
			titles: []string{"A|B"},
			want:   `"A|B"`,
		},
		{
			name:     "keywords precede episodes",
			titles:   []string{"Frieren"},
			episodes: []int{5},
			keywords: []string{"OVA"},
			want:     `Frieren OVA 5`,
		},
		{
			name:     "title cap",
			titles:   []string{"One", "Two", "Three", "Four"},
			episodes: []int{5},
			want:     `(One|Two|Three) 5`,
		},
		{
			name:     "non-positive episodes dropped",
			titles:   []string{"Frieren"},
			episodes: []int{0, -3},
			want:     `Frieren`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildCombinedQuery(tt.titles, tt.episodes, tt.keywords)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNyaaSearchParsesRSS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rss", r.URL.Query().Get("page"))
		assert.Equal(t, constants.NyaaCategoryAllAnime, r.URL.Query().Get("c"))
		w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	n := newTestNyaa(server.URL)
	results, err := n.Search(context.Background(), "Sousou no Frieren 28")
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Sorted by seeders descending.
	assert.Equal(t, 300, results[0].Seeders)
	assert.Equal(t, "https://nyaa.si/view/1235", results[0].GUID)
	assert.Equal(t, 320, results[0].Peers)
	assert.Equal(t, int64(700*1024*1024), results[0].Size)

	assert.Equal(t, 120, results[1].Seeders)
	assert.Equal(t, int64(1503238553), results[1].Size)
	assert.Equal(t, []int{constants.TorznabCategoryTV, constants.TorznabCategoryAnime}, results[1].Categories)
	assert.Equal(t, 2024, results[1].PubDate.Year())
}

func TestNyaaSearchCachesResponses(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	n := newTestNyaa(server.URL)

	_, err := n.Search(context.Background(), "frieren")
	require.NoError(t, err)
	_, err = n.Search(context.Background(), "frieren")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second identical search should hit the cache")

	n.ClearCache()
	_, err = n.Search(context.Background(), "frieren")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestNyaaRetriesOn429(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	n := newTestNyaa(server.URL)
	results, err := n.Search(context.Background(), "frieren")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestNyaaRequestSpacing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	n := newTestNyaa(server.URL)

	start := time.Now()
	_, err := n.Search(context.Background(), "one")
	require.NoError(t, err)
	_, err = n.Search(context.Background(), "two")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), constants.NyaaRequestDelay,
		"distinct queries must be spaced out")
}

func TestNyaaSearchMultiSkipsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "bad" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	n := newTestNyaa(server.URL)
	results, err := n.SearchMulti(context.Background(), []string{"good", "bad"})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"700 MiB", 700 * 1024 * 1024},
		{"1.4 GiB", 1503238553}, // 1.4 * 2^30, truncated
		{"2 TiB", 2 * 1024 * 1024 * 1024 * 1024},
		{"512 KiB", 512 * 1024},
		{"99 B", 99},
		{"1.4 gib", 1503238553},
		{"700 MIB", 700 * 1024 * 1024},
		{"garbage", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseSize(tt.in), "parseSize(%q)", tt.in)
	}
}

func TestParseDate(t *testing.T) {
	n := newTestNyaa("http://unused")

	parsed := n.parseDate("Fri, 15 Mar 2024 12:30:00 -0000")
	assert.Equal(t, 2024, parsed.Year())
	assert.Equal(t, time.March, parsed.Month())

	parsed = n.parseDate("Fri, 15 Mar 2024 12:30:00 +0200")
	assert.Equal(t, 15, parsed.Day())

	parsed = n.parseDate("2024-03-15T12:30:00")
	assert.Equal(t, 15, parsed.Day())

	parsed = n.parseDate("2024-03-15 12:30:00")
	assert.Equal(t, time.March, parsed.Month())

	// Unparseable dates fall back to the current time, never zero.
	fallback := n.parseDate("not a date")
	assert.False(t, fallback.IsZero())
	assert.WithinDuration(t, time.Now().UTC(), fallback, time.Minute)
}
