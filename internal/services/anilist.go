package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/amaumene/nyaarr/internal/config"
	"github.com/amaumene/nyaarr/internal/constants"
	"github.com/amaumene/nyaarr/internal/models"
	"github.com/amaumene/nyaarr/pkg/httputil"
	"github.com/amaumene/nyaarr/pkg/logger"
	"github.com/amaumene/nyaarr/pkg/ratelimiter"
)

const anilistMediaQuery = `
query ($id: Int) {
  Media(id: $id, type: ANIME) {
    id
    idMal
    episodes
    format
    season
    seasonYear
    title {
      romaji
      english
      native
    }
    synonyms
  }
}`

// AniListMedia is the subset of AniList's Media object used for enrichment.
type AniListMedia struct {
	ID         int    `json:"id"`
	IDMal      int    `json:"idMal"`
	Episodes   int    `json:"episodes"`
	Format     string `json:"format"`
	Season     string `json:"season"`
	SeasonYear int    `json:"seasonYear"`
	Title      struct {
		Romaji  string `json:"romaji"`
		English string `json:"english"`
		Native  string `json:"native"`
	} `json:"title"`
	Synonyms []string `json:"synonyms"`
}

type anilistResponse struct {
	Data struct {
		Media *AniListMedia `json:"Media"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"errors"`
}

// AniList is a client for the AniList GraphQL API. Requests share a fixed
// 60-second rate window so bursts of mapping refreshes cannot trip the
// upstream limit.
type AniList struct {
	apiURL     string
	httpClient *http.Client
	limiter    *ratelimiter.FixedWindow
	logger     logger.Logger
}

func NewAniList(cfg *config.Config) *AniList {
	limit := cfg.AniListRateLimit
	if limit <= 0 {
		limit = constants.DefaultAniListRateLimit
	}
	return &AniList{
		apiURL:     cfg.AniListURL,
		httpClient: httputil.NewHTTPClient(constants.ShortRequestTimeout),
		limiter:    ratelimiter.NewFixedWindow(limit, time.Minute),
		logger:     logger.New(),
	}
}

// GetByAnilistID fetches one media record. A null Media (unknown id) returns
// nil, nil.
func (a *AniList) GetByAnilistID(ctx context.Context, anilistID int) (*AniListMedia, error) {
	a.limiter.Wait()

	payload, err := json.Marshal(map[string]interface{}{
		"query":     anilistMediaQuery,
		"variables": map[string]int{"id": anilistID},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anilist request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("anilist rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return nil, fmt.Errorf("anilist returned status %d", resp.StatusCode)
	}

	var result anilistResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode anilist response: %w", err)
	}

	if len(result.Errors) > 0 {
		// "Not Found" just means AniList has no such id.
		if result.Errors[0].Status == http.StatusNotFound {
			a.logger.Infof("[anilist] no media with id %d", anilistID)
			return nil, nil
		}
		return nil, fmt.Errorf("anilist error: %s", result.Errors[0].Message)
	}

	if result.Data.Media == nil {
		return nil, nil
	}

	a.logger.Debugf("[anilist] fetched media %d (%s)", anilistID, result.Data.Media.Title.Romaji)
	return result.Data.Media, nil
}

// ExtractTitles converts an AniList media record to the shared title model.
func (a *AniList) ExtractTitles(media *AniListMedia) models.AnimeTitle {
	if media == nil {
		return models.AnimeTitle{}
	}
	return models.AnimeTitle{
		Romaji:   media.Title.Romaji,
		English:  media.Title.English,
		Native:   media.Title.Native,
		Synonyms: media.Synonyms,
	}
}

// EpisodeCount returns the total episode count, or 0 when AniList does not
// know it (airing shows often have none yet).
func (a *AniList) EpisodeCount(media *AniListMedia) int {
	if media == nil {
		return 0
	}
	return media.Episodes
}
