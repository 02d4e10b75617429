package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/amaumene/nyaarr/internal/cache"
	"github.com/amaumene/nyaarr/internal/config"
	"github.com/amaumene/nyaarr/internal/constants"
	apperrors "github.com/amaumene/nyaarr/internal/errors"
	"github.com/amaumene/nyaarr/internal/models"
	"github.com/amaumene/nyaarr/pkg/httputil"
	"github.com/amaumene/nyaarr/pkg/logger"
)

// SonarrSeries is the subset of Sonarr's series resource we consult.
type SonarrSeries struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	TvdbID int    `json:"tvdbId"`
}

type sonarrEpisode struct {
	ID                    int    `json:"id"`
	SeriesID              int    `json:"seriesId"`
	SeasonNumber          int    `json:"seasonNumber"`
	EpisodeNumber         int    `json:"episodeNumber"`
	AbsoluteEpisodeNumber *int   `json:"absoluteEpisodeNumber"`
	Title                 string `json:"title"`
	Monitored             bool   `json:"monitored"`
	HasFile               bool   `json:"hasFile"`
}

// Sonarr is a read-only client for the Sonarr v3 API, used to resolve
// ambiguous bare-number queries against the wanted-episode list. Series and
// episode listings are cached briefly since a PVR search fans out into many
// queries for the same show.
type Sonarr struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logger.Logger

	seriesCache  *cache.LRUCache // tvdbID -> *SonarrSeries
	episodeCache *cache.LRUCache // seriesID -> []sonarrEpisode
}

func NewSonarr(cfg *config.Config) *Sonarr {
	return &Sonarr{
		baseURL:      cfg.SonarrURL,
		apiKey:       cfg.SonarrAPIKey,
		httpClient:   httputil.NewHTTPClient(constants.EpisodeListTimeout),
		logger:       logger.New(),
		seriesCache:  cache.New(50, 5*time.Minute),
		episodeCache: cache.New(50, 5*time.Minute),
	}
}

func (s *Sonarr) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	reqURL := fmt.Sprintf("%s/api/v3/%s", s.baseURL, path)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apperrors.NewUpstreamError("sonarr", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sonarr returned status %d for %s", resp.StatusCode, path)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// GetSeriesByTvdbID looks up the Sonarr series for a TVDB id. Returns
// nil, nil when Sonarr does not track the show.
func (s *Sonarr) GetSeriesByTvdbID(ctx context.Context, tvdbID int) (*SonarrSeries, error) {
	key := strconv.Itoa(tvdbID)
	if cached, ok := s.seriesCache.Get(key); ok {
		return cached.(*SonarrSeries), nil
	}

	params := url.Values{}
	params.Set("tvdbId", strconv.Itoa(tvdbID))

	var series []SonarrSeries
	if err := s.get(ctx, "series", params, &series); err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, nil
	}

	result := &series[0]
	s.seriesCache.Set(key, result)
	return result, nil
}

func (s *Sonarr) getEpisodes(ctx context.Context, seriesID int) ([]sonarrEpisode, error) {
	key := strconv.Itoa(seriesID)
	if cached, ok := s.episodeCache.Get(key); ok {
		return cached.([]sonarrEpisode), nil
	}

	params := url.Values{}
	params.Set("seriesId", strconv.Itoa(seriesID))

	var episodes []sonarrEpisode
	if err := s.get(ctx, "episode", params, &episodes); err != nil {
		return nil, err
	}

	s.episodeCache.Set(key, episodes)
	s.logger.Debugf("[sonarr] %d episodes for series %d", len(episodes), seriesID)
	return episodes, nil
}

func toEpisodeInfo(series *SonarrSeries, ep sonarrEpisode) models.EpisodeInfo {
	info := models.EpisodeInfo{
		SeriesID:      ep.SeriesID,
		SeriesTitle:   series.Title,
		SeasonNumber:  ep.SeasonNumber,
		EpisodeNumber: ep.EpisodeNumber,
		Title:         ep.Title,
		IsSpecial:     ep.SeasonNumber == 0,
	}
	if ep.AbsoluteEpisodeNumber != nil {
		info.AbsoluteEpisodeNumber = *ep.AbsoluteEpisodeNumber
		info.HasAbsolute = true
	}
	return info
}

// GetWantedEpisodesByEpisodeNumber returns the monitored, still-missing
// episodes of a show whose in-season episode number matches. A bare number
// in a search can denote the same episode slot in several seasons, so all
// matches come back, newest season first. When nothing is wanted, every
// season's candidate for that slot comes back instead, so the caller can
// still search the most recent season's episode.
func (s *Sonarr) GetWantedEpisodesByEpisodeNumber(ctx context.Context, tvdbID, episodeNumber int) ([]models.EpisodeInfo, error) {
	series, err := s.GetSeriesByTvdbID(ctx, tvdbID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, nil
	}

	episodes, err := s.getEpisodes(ctx, series.ID)
	if err != nil {
		return nil, err
	}

	var wanted, candidates []models.EpisodeInfo
	for _, ep := range episodes {
		if ep.EpisodeNumber != episodeNumber || ep.SeasonNumber == 0 {
			continue
		}
		info := toEpisodeInfo(series, ep)
		candidates = append(candidates, info)
		if ep.Monitored && !ep.HasFile {
			wanted = append(wanted, info)
		}
	}

	if len(wanted) == 0 && len(candidates) > 0 {
		s.logger.Infof("[sonarr] no wanted episodes match number %d for tvdb %d, using %d candidates",
			episodeNumber, tvdbID, len(candidates))
		wanted = candidates
	}

	sort.Slice(wanted, func(i, j int) bool {
		return wanted[i].SeasonNumber > wanted[j].SeasonNumber
	})

	s.logger.Infof("[sonarr] %d wanted episodes match number %d for tvdb %d", len(wanted), episodeNumber, tvdbID)
	return wanted, nil
}

// GetEpisodeByAbsoluteNumber finds the episode carrying a given absolute number.
func (s *Sonarr) GetEpisodeByAbsoluteNumber(ctx context.Context, tvdbID, absolute int) (*models.EpisodeInfo, error) {
	series, err := s.GetSeriesByTvdbID(ctx, tvdbID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, nil
	}

	episodes, err := s.getEpisodes(ctx, series.ID)
	if err != nil {
		return nil, err
	}

	for _, ep := range episodes {
		if ep.AbsoluteEpisodeNumber != nil && *ep.AbsoluteEpisodeNumber == absolute {
			info := toEpisodeInfo(series, ep)
			return &info, nil
		}
	}
	return nil, nil
}

// GetEpisodeBySeasonEpisode finds one episode by its season/episode position.
func (s *Sonarr) GetEpisodeBySeasonEpisode(ctx context.Context, tvdbID, season, episode int) (*models.EpisodeInfo, error) {
	series, err := s.GetSeriesByTvdbID(ctx, tvdbID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, nil
	}

	episodes, err := s.getEpisodes(ctx, series.ID)
	if err != nil {
		return nil, err
	}

	for _, ep := range episodes {
		if ep.SeasonNumber == season && ep.EpisodeNumber == episode {
			info := toEpisodeInfo(series, ep)
			return &info, nil
		}
	}
	return nil, nil
}

// ClearCache drops the cached series and episode listings.
func (s *Sonarr) ClearCache() {
	s.seriesCache.Clear()
	s.episodeCache.Clear()
}
