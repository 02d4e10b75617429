package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaumene/nyaarr/internal/cache"
	"github.com/amaumene/nyaarr/pkg/httputil"
	"github.com/amaumene/nyaarr/pkg/logger"
)

func intPtr(n int) *int { return &n }

func newSonarrFixture(t *testing.T) (*Sonarr, *httptest.Server) {
	t.Helper()

	episodes := []sonarrEpisode{
		{ID: 1, SeriesID: 7, SeasonNumber: 1, EpisodeNumber: 1, AbsoluteEpisodeNumber: intPtr(1), Monitored: true, HasFile: true},
		{ID: 2, SeriesID: 7, SeasonNumber: 2, EpisodeNumber: 1, AbsoluteEpisodeNumber: intPtr(14), Monitored: true, HasFile: false},
		{ID: 3, SeriesID: 7, SeasonNumber: 3, EpisodeNumber: 1, AbsoluteEpisodeNumber: intPtr(27), Monitored: true, HasFile: false},
		{ID: 4, SeriesID: 7, SeasonNumber: 2, EpisodeNumber: 2, AbsoluteEpisodeNumber: intPtr(15), Monitored: false, HasFile: false},
		{ID: 5, SeriesID: 7, SeasonNumber: 0, EpisodeNumber: 1, AbsoluteEpisodeNumber: nil, Monitored: true, HasFile: false, Title: "OVA"},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		switch r.URL.Path {
		case "/api/v3/series":
			if r.URL.Query().Get("tvdbId") == "80112" {
				json.NewEncoder(w).Encode([]SonarrSeries{{ID: 7, Title: "Bakuman", TvdbID: 80112}})
				return
			}
			json.NewEncoder(w).Encode([]SonarrSeries{})
		case "/api/v3/episode":
			json.NewEncoder(w).Encode(episodes)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	s := &Sonarr{
		baseURL:      server.URL,
		apiKey:       "test-key",
		httpClient:   httputil.NewHTTPClient(5 * time.Second),
		logger:       logger.NewWithLevel(logger.LevelError),
		seriesCache:  cache.New(10, time.Minute),
		episodeCache: cache.New(10, time.Minute),
	}
	return s, server
}

func TestSonarrGetSeriesByTvdbID(t *testing.T) {
	s, server := newSonarrFixture(t)
	defer server.Close()

	series, err := s.GetSeriesByTvdbID(context.Background(), 80112)
	require.NoError(t, err)
	require.NotNil(t, series)
	assert.Equal(t, 7, series.ID)

	missing, err := s.GetSeriesByTvdbID(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSonarrWantedEpisodesByEpisodeNumber(t *testing.T) {
	s, server := newSonarrFixture(t)
	defer server.Close()

	// Episode slot 1 exists in seasons 1, 2, 3 and season 0. Season 1 has a
	// file, season 0 is excluded, leaving S3E01 and S2E01 newest-season first.
	wanted, err := s.GetWantedEpisodesByEpisodeNumber(context.Background(), 80112, 1)
	require.NoError(t, err)
	require.Len(t, wanted, 2)

	assert.Equal(t, 3, wanted[0].SeasonNumber)
	assert.Equal(t, 27, wanted[0].AbsoluteEpisodeNumber)
	assert.True(t, wanted[0].HasAbsolute)

	assert.Equal(t, 2, wanted[1].SeasonNumber)
	assert.Equal(t, 14, wanted[1].AbsoluteEpisodeNumber)
}

func TestSonarrWantedFallsBackToCandidates(t *testing.T) {
	s, server := newSonarrFixture(t)
	defer server.Close()

	// Episode slot 2 exists only in season 2 and is unmonitored; with
	// nothing wanted, the candidate set comes back instead of nothing.
	wanted, err := s.GetWantedEpisodesByEpisodeNumber(context.Background(), 80112, 2)
	require.NoError(t, err)
	require.Len(t, wanted, 1)
	assert.Equal(t, 2, wanted[0].SeasonNumber)
	assert.Equal(t, 15, wanted[0].AbsoluteEpisodeNumber)
}

func TestSonarrWantedFallbackWhenAllSeasonsHaveFiles(t *testing.T) {
	episodes := []sonarrEpisode{
		{ID: 1, SeriesID: 9, SeasonNumber: 2, EpisodeNumber: 1, AbsoluteEpisodeNumber: intPtr(14), Monitored: true, HasFile: true},
		{ID: 2, SeriesID: 9, SeasonNumber: 3, EpisodeNumber: 1, AbsoluteEpisodeNumber: intPtr(27), Monitored: true, HasFile: true},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/series":
			json.NewEncoder(w).Encode([]SonarrSeries{{ID: 9, Title: "Bakuman", TvdbID: 42}})
		case "/api/v3/episode":
			json.NewEncoder(w).Encode(episodes)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	s := &Sonarr{
		baseURL:      server.URL,
		apiKey:       "test-key",
		httpClient:   httputil.NewHTTPClient(5 * time.Second),
		logger:       logger.NewWithLevel(logger.LevelError),
		seriesCache:  cache.New(10, time.Minute),
		episodeCache: cache.New(10, time.Minute),
	}

	wanted, err := s.GetWantedEpisodesByEpisodeNumber(context.Background(), 42, 1)
	require.NoError(t, err)
	require.Len(t, wanted, 2)
	assert.Equal(t, 3, wanted[0].SeasonNumber, "newest season first")
	assert.Equal(t, 2, wanted[1].SeasonNumber)
}

func TestSonarrGetEpisodeByAbsoluteNumber(t *testing.T) {
	s, server := newSonarrFixture(t)
	defer server.Close()

	ep, err := s.GetEpisodeByAbsoluteNumber(context.Background(), 80112, 14)
	require.NoError(t, err)
	require.NotNil(t, ep)
	assert.Equal(t, 2, ep.SeasonNumber)
	assert.Equal(t, 1, ep.EpisodeNumber)
	assert.False(t, ep.IsSpecial)

	missing, err := s.GetEpisodeByAbsoluteNumber(context.Background(), 80112, 500)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSonarrGetEpisodeBySeasonEpisode(t *testing.T) {
	s, server := newSonarrFixture(t)
	defer server.Close()

	ep, err := s.GetEpisodeBySeasonEpisode(context.Background(), 80112, 0, 1)
	require.NoError(t, err)
	require.NotNil(t, ep)
	assert.True(t, ep.IsSpecial)
	assert.False(t, ep.HasAbsolute)
}

func TestSonarrUnknownSeriesReturnsNil(t *testing.T) {
	s, server := newSonarrFixture(t)
	defer server.Close()

	wanted, err := s.GetWantedEpisodesByEpisodeNumber(context.Background(), 42, 1)
	require.NoError(t, err)
	assert.Nil(t, wanted)
}
