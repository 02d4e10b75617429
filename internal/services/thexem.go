package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/amaumene/nyaarr/internal/config"
	"github.com/amaumene/nyaarr/internal/constants"
	"github.com/amaumene/nyaarr/internal/database"
	"github.com/amaumene/nyaarr/pkg/httputil"
	"github.com/amaumene/nyaarr/pkg/logger"
)

const xemCacheTTL = 7 * 24 * time.Hour

// XEMEpisode is one episode position in a single numbering scheme.
type XEMEpisode struct {
	Season   int `json:"season"`
	Episode  int `json:"episode"`
	Absolute int `json:"absolute"`
}

// XEMMapping maps scheme names ("tvdb", "anidb", "scene") to positions.
type XEMMapping map[string]XEMEpisode

type xemResponse struct {
	Result  string          `json:"result"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// TheXEM is a client for thexem.info's episode-mapping API. Full listings
// are cached in memory and in the database for a week; single-episode
// lookups sit on the hot path and are never cached.
type TheXEM struct {
	baseURL    string
	httpClient *http.Client
	db         database.Database
	logger     logger.Logger

	mu    sync.Mutex
	cache map[string]*database.XEMCacheEntry
}

func NewTheXEM(cfg *config.Config, db database.Database) *TheXEM {
	x := &TheXEM{
		baseURL:    cfg.TheXEMURL,
		httpClient: httputil.NewHTTPClient(constants.ShortRequestTimeout),
		db:         db,
		logger:     logger.New(),
		cache:      make(map[string]*database.XEMCacheEntry),
	}
	return x
}

func cacheKey(endpoint string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	key := endpoint + "?"
	for i, k := range keys {
		if i > 0 {
			key += "&"
		}
		key += k + "=" + params.Get(k)
	}
	return key
}

func (x *TheXEM) getCached(key string) (json.RawMessage, bool) {
	x.mu.Lock()
	entry, ok := x.cache[key]
	x.mu.Unlock()

	if !ok && x.db != nil {
		stored, err := x.db.GetXEMEntry(key)
		if err != nil {
			x.logger.Warnf("[thexem] cache read failed for %q: %v", key, err)
		} else if stored != nil {
			entry, ok = stored, true
			x.mu.Lock()
			x.cache[key] = stored
			x.mu.Unlock()
		}
	}

	if !ok || time.Since(entry.CachedAt) >= xemCacheTTL {
		return nil, false
	}
	return entry.Data, true
}

func (x *TheXEM) storeCached(key string, data json.RawMessage) {
	entry := &database.XEMCacheEntry{Data: data, CachedAt: time.Now().UTC()}

	x.mu.Lock()
	x.cache[key] = entry
	x.mu.Unlock()

	if x.db != nil {
		if err := x.db.StoreXEMEntry(key, entry); err != nil {
			x.logger.Errorf("[thexem] cache write failed for %q: %v", key, err)
		}
	}
}

// fetch performs one GET and unwraps the {result, data, message} envelope.
// A nil, nil return means "no data" (404 or a non-success result).
func (x *TheXEM) fetch(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	reqURL := fmt.Sprintf("%s/%s?%s", x.baseURL, endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Absence of a mapping is ordinary for non-anime or unlisted shows.
		x.logger.Infof("[thexem] no mapping at %s (404)", endpoint)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("thexem returned status %d", resp.StatusCode)
	}

	var envelope xemResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode thexem response: %w", err)
	}

	if envelope.Result != "success" {
		x.logger.Warnf("[thexem] non-success result from %s: %s", endpoint, envelope.Message)
		return nil, nil
	}

	return envelope.Data, nil
}

// GetAllMappings returns every per-episode mapping for a show, cached for a week.
func (x *TheXEM) GetAllMappings(ctx context.Context, showID int, origin string) []XEMMapping {
	params := url.Values{}
	params.Set("id", strconv.Itoa(showID))
	params.Set("origin", origin)
	key := cacheKey("map/all", params)

	raw, ok := x.getCached(key)
	if !ok {
		fetched, err := x.fetch(ctx, "map/all", params)
		if err != nil {
			x.logger.Errorf("[thexem] map/all failed for %s %d: %v", origin, showID, err)
			return nil
		}
		if fetched == nil {
			return nil
		}
		x.storeCached(key, fetched)
		raw = fetched
	}

	var mappings []XEMMapping
	if err := json.Unmarshal(raw, &mappings); err != nil {
		x.logger.Errorf("[thexem] failed to parse map/all data: %v", err)
		return nil
	}

	x.logger.Infof("[thexem] %d episode mappings for %s id %d", len(mappings), origin, showID)
	return mappings
}

// GetSingleMapping returns the mapping of one episode, optionally projected
// to a destination scheme. Not cached.
func (x *TheXEM) GetSingleMapping(ctx context.Context, showID int, origin string, season, episode int, destination string) XEMMapping {
	params := url.Values{}
	params.Set("id", strconv.Itoa(showID))
	params.Set("origin", origin)
	params.Set("season", strconv.Itoa(season))
	params.Set("episode", strconv.Itoa(episode))
	if destination != "" {
		params.Set("destination", destination)
	}

	raw, err := x.fetch(ctx, "map/single", params)
	if err != nil {
		x.logger.Errorf("[thexem] map/single failed for %s %d: %v", origin, showID, err)
		return nil
	}
	if raw == nil {
		return nil
	}

	var mapping XEMMapping
	if err := json.Unmarshal(raw, &mapping); err != nil {
		x.logger.Errorf("[thexem] failed to parse map/single data: %v", err)
		return nil
	}
	return mapping
}

// GetAllNames returns every alternative show name TheXEM knows for an
// origin, keyed by show id. Cached for a week.
func (x *TheXEM) GetAllNames(ctx context.Context, origin string, defaultNames bool) map[int][]string {
	params := url.Values{}
	params.Set("origin", origin)
	if defaultNames {
		params.Set("defaultNames", "1")
	}
	key := cacheKey("map/allNames", params)

	raw, ok := x.getCached(key)
	if !ok {
		fetched, err := x.fetch(ctx, "map/allNames", params)
		if err != nil {
			x.logger.Errorf("[thexem] map/allNames failed: %v", err)
			return nil
		}
		if fetched == nil {
			return nil
		}
		x.storeCached(key, fetched)
		raw = fetched
	}

	// Name lists occasionally mix plain strings with {name: language} maps;
	// only the strings are useful here.
	var loose map[string][]interface{}
	if err := json.Unmarshal(raw, &loose); err != nil {
		x.logger.Errorf("[thexem] failed to parse map/allNames data: %v", err)
		return nil
	}

	names := make(map[int][]string, len(loose))
	for idStr, values := range loose {
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}
		for _, v := range values {
			if s, ok := v.(string); ok {
				names[id] = append(names[id], s)
			}
		}
	}
	return names
}

// GetNamesByTvdbID returns TheXEM's alternative names for one show.
func (x *TheXEM) GetNamesByTvdbID(ctx context.Context, tvdbID int) []string {
	all := x.GetAllNames(ctx, "tvdb", true)
	if names, ok := all[tvdbID]; ok {
		x.logger.Infof("[thexem] %d names for tvdb %d", len(names), tvdbID)
		return names
	}
	return nil
}

// TvdbToAnidbEpisode converts a TVDB season/episode to the AniDB absolute
// episode number. Returns (0, false) when no mapping exists.
func (x *TheXEM) TvdbToAnidbEpisode(ctx context.Context, tvdbID, season, episode int) (int, bool) {
	mapping := x.GetSingleMapping(ctx, tvdbID, "tvdb", season, episode, "anidb")
	if mapping == nil {
		return 0, false
	}

	anidb, ok := mapping["anidb"]
	if !ok || anidb.Absolute == 0 {
		return 0, false
	}

	x.logger.Infof("[thexem] tvdb %d S%02dE%02d -> anidb absolute %d", tvdbID, season, episode, anidb.Absolute)
	return anidb.Absolute, true
}
