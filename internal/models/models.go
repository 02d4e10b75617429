// Package models defines the data structures shared across services and handlers.
package models

import (
	"time"

	"github.com/amaumene/nyaarr/internal/constants"
)

// AnimeTitle holds the title variations for an anime.
type AnimeTitle struct {
	Romaji   string   `json:"romaji,omitempty"`
	English  string   `json:"english,omitempty"`
	Native   string   `json:"native,omitempty"`
	Synonyms []string `json:"synonyms,omitempty"`
}

// IsEmpty reports whether no title facet is set.
func (t AnimeTitle) IsEmpty() bool {
	return t.Romaji == "" && t.English == "" && t.Native == "" && len(t.Synonyms) == 0
}

// SeasonEpisodes describes one season's episode count, ordered by season.
type SeasonEpisodes struct {
	Season   int `json:"season"`
	Episodes int `json:"episodes"`
}

// AnimeMapping links a TVDB series to the anime databases and carries every
// title variant useful for indexer searches.
type AnimeMapping struct {
	TvdbID        int              `json:"tvdb_id"`
	AnidbID       int              `json:"anidb_id,omitempty"`
	AnilistID     int              `json:"anilist_id,omitempty"`
	MalID         int              `json:"mal_id,omitempty"`
	Titles        AnimeTitle       `json:"titles"`
	TotalEpisodes int              `json:"total_episodes"`
	SeasonInfo    []SeasonEpisodes `json:"season_info,omitempty"`
	LastUpdated   time.Time        `json:"last_updated"`
	UserOverride  bool             `json:"user_override"`
}

// GetSearchTitles returns unique title variations in search priority order:
// romaji, english, the first few synonyms, then native.
func (m *AnimeMapping) GetSearchTitles() []string {
	var titles []string
	add := func(t string) bool {
		if t == "" {
			return false
		}
		for _, existing := range titles {
			if existing == t {
				return false
			}
		}
		titles = append(titles, t)
		return true
	}

	add(m.Titles.Romaji)
	add(m.Titles.English)
	added := 0
	for _, synonym := range m.Titles.Synonyms {
		if added >= constants.MaxSynonymTitles {
			break
		}
		if add(synonym) {
			added++
		}
	}
	add(m.Titles.Native)
	return titles
}

// MappingOverride is a user-provided mapping set through the management API.
// It always wins over every other mapping source.
type MappingOverride struct {
	TvdbID int `json:"tvdb_id"`

	AnidbID   int `json:"anidb_id,omitempty"`
	AnilistID int `json:"anilist_id,omitempty"`
	MalID     int `json:"mal_id,omitempty"`

	CustomTitles []string `json:"custom_titles,omitempty"`

	// Explicit absolute numbers keyed by "SxxEyy" labels.
	SeasonEpisodeOverrides map[string]int `json:"season_episode_overrides,omitempty"`

	SeasonRanges []SeasonEpisodes `json:"season_ranges,omitempty"`
	Notes        string           `json:"notes,omitempty"`
}

// SearchResult is a single indexer result before Torznab rendering.
type SearchResult struct {
	Title      string    `json:"title"`
	GUID       string    `json:"guid"`
	Link       string    `json:"link"`               // torrent download URL
	InfoURL    string    `json:"info_url,omitempty"` // details page
	PubDate    time.Time `json:"pub_date"`
	Size       int64     `json:"size"`
	Seeders    int       `json:"seeders"`
	Peers      int       `json:"peers"`
	Indexer    string    `json:"indexer"`
	Categories []int     `json:"categories"`
}

// EpisodeInfo is a projection of a Sonarr episode record.
type EpisodeInfo struct {
	SeriesID              int    `json:"series_id"`
	SeriesTitle           string `json:"series_title"`
	SeasonNumber          int    `json:"season_number"`
	EpisodeNumber         int    `json:"episode_number"`
	AbsoluteEpisodeNumber int    `json:"absolute_episode_number,omitempty"`
	HasAbsolute           bool   `json:"has_absolute"`
	Title                 string `json:"title,omitempty"`
	IsSpecial             bool   `json:"is_special"`
}

// TorznabQuery carries the parsed /api query parameters.
type TorznabQuery struct {
	Type   string
	Q      string
	TvdbID int
	Season int
	Ep     int

	HasTvdbID bool
	HasSeason bool
	HasEp     bool

	Limit  int
	Offset int
}
