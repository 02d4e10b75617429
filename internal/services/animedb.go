// Package services implements the collaborators behind the Torznab surface:
// the offline anime catalog, episode-number translation, metadata clients,
// mapping resolution and the Nyaa search pipeline.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/amaumene/nyaarr/internal/config"
	"github.com/amaumene/nyaarr/internal/constants"
	"github.com/amaumene/nyaarr/internal/models"
	"github.com/amaumene/nyaarr/pkg/httputil"
	"github.com/amaumene/nyaarr/pkg/logger"
)

const animeDBFile = "anime-offline-database.json"

// AnimeEntry is one record of the anime-offline-database catalog. Only the
// fields this proxy consumes are projected; the rest of the open schema is
// ignored at the boundary.
type AnimeEntry struct {
	Sources  []string `json:"sources"`
	Title    string   `json:"title"`
	Synonyms []string `json:"synonyms"`
}

type animeDBFileShape struct {
	Data []AnimeEntry `json:"data"`
}

// AnimeIDs are the cross-database ids extracted from an entry's sources.
type AnimeIDs struct {
	AnidbID   int
	AnilistID int
	MalID     int
}

// AnimeDB resolves TVDB series ids to catalog records entirely offline.
type AnimeDB struct {
	cfg        *config.Config
	httpClient *http.Client
	logger     logger.Logger

	mu         sync.RWMutex
	entries    []AnimeEntry
	tvdbIndex  map[int]*AnimeEntry
	tmdbIndex  map[int]*AnimeEntry
	lastUpdate time.Time
}

func NewAnimeDB(cfg *config.Config) *AnimeDB {
	return &AnimeDB{
		cfg:        cfg,
		httpClient: httputil.NewHTTPClient(constants.DownloadTimeout),
		logger:     logger.New(),
		tvdbIndex:  make(map[int]*AnimeEntry),
		tmdbIndex:  make(map[int]*AnimeEntry),
	}
}

func (a *AnimeDB) dbPath() string {
	return filepath.Join(a.cfg.DataDir, animeDBFile)
}

// Initialize loads the local catalog, downloading a fresh copy when the file
// is missing or older than the configured update interval. A download
// failure never takes an existing catalog out of service.
func (a *AnimeDB) Initialize(ctx context.Context) error {
	if _, err := os.Stat(a.dbPath()); err == nil {
		if err := a.loadFromFile(); err != nil {
			a.logger.Errorf("[animedb] failed to load catalog: %v", err)
		}
		if a.needsUpdate() {
			a.Update(ctx)
		}
		return nil
	}

	a.Update(ctx)
	return nil
}

func (a *AnimeDB) needsUpdate() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.lastUpdate.IsZero() {
		return true
	}
	return time.Since(a.lastUpdate) > a.cfg.AnimeDBInterval()
}

// Update downloads the latest catalog and atomically replaces the local copy.
func (a *AnimeDB) Update(ctx context.Context) {
	a.logger.Infof("[animedb] downloading catalog from %s", a.cfg.AnimeDBURL)

	data, err := a.download(ctx)
	if err != nil {
		a.logger.Errorf("[animedb] failed to update catalog: %v", err)
		// Keep serving whatever we already have; try the disk copy if the
		// in-memory state is empty.
		a.mu.RLock()
		empty := len(a.entries) == 0
		a.mu.RUnlock()
		if empty {
			if _, statErr := os.Stat(a.dbPath()); statErr == nil {
				if loadErr := a.loadFromFile(); loadErr != nil {
					a.logger.Errorf("[animedb] fallback load failed: %v", loadErr)
				}
			}
		}
		return
	}

	var parsed animeDBFileShape
	if err := json.Unmarshal(data, &parsed); err != nil {
		a.logger.Errorf("[animedb] failed to parse downloaded catalog: %v", err)
		return
	}

	if err := a.persist(data); err != nil {
		a.logger.Errorf("[animedb] failed to persist catalog: %v", err)
	}

	a.mu.Lock()
	a.entries = parsed.Data
	a.lastUpdate = time.Now().UTC()
	a.buildIndexesLocked()
	count := len(a.entries)
	a.mu.Unlock()

	a.logger.Infof("[animedb] catalog updated with %d entries", count)
}

func (a *AnimeDB) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.AnimeDBURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog download returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// persist writes via a temp file and rename so a crashed download never
// leaves a truncated catalog behind.
func (a *AnimeDB) persist(data []byte) error {
	if err := os.MkdirAll(a.cfg.DataDir, 0755); err != nil {
		return err
	}
	tmp := a.dbPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, a.dbPath())
}

func (a *AnimeDB) loadFromFile() error {
	data, err := os.ReadFile(a.dbPath())
	if err != nil {
		return err
	}

	var parsed animeDBFileShape
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("corrupt catalog file: %w", err)
	}

	info, err := os.Stat(a.dbPath())
	modTime := time.Now().UTC()
	if err == nil {
		modTime = info.ModTime()
	}

	a.mu.Lock()
	a.entries = parsed.Data
	a.lastUpdate = modTime
	a.buildIndexesLocked()
	count := len(a.entries)
	a.mu.Unlock()

	a.logger.Infof("[animedb] loaded catalog with %d entries", count)
	return nil
}

// buildIndexesLocked scans every entry's source URLs for TVDB series and
// TMDB movie ids. Caller holds a.mu.
func (a *AnimeDB) buildIndexesLocked() {
	a.tvdbIndex = make(map[int]*AnimeEntry, len(a.entries))
	a.tmdbIndex = make(map[int]*AnimeEntry)

	for i := range a.entries {
		entry := &a.entries[i]
		for _, source := range entry.Sources {
			if strings.Contains(source, "thetvdb.com/series/") {
				if id, ok := trailingInt(source); ok {
					a.tvdbIndex[id] = entry
				}
			} else if strings.Contains(source, "themoviedb.org/movie/") {
				if id, ok := trailingInt(source); ok {
					a.tmdbIndex[id] = entry
				}
			}
		}
	}
}

// GetByTvdbID returns the catalog entry for a TVDB series id, if any.
func (a *AnimeDB) GetByTvdbID(tvdbID int) *AnimeEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tvdbIndex[tvdbID]
}

// GetByTmdbID returns the catalog entry for a TMDB movie id, if any.
func (a *AnimeDB) GetByTmdbID(tmdbID int) *AnimeEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tmdbIndex[tmdbID]
}

// ExtractIDs pulls AniDB, AniList and MAL ids out of an entry's sources.
// AniDB appears in two URL shapes: /anime/NNN and perl-bin/...aid=NNN.
func (a *AnimeDB) ExtractIDs(entry *AnimeEntry) AnimeIDs {
	var ids AnimeIDs

	for _, source := range entry.Sources {
		switch {
		case strings.Contains(source, "anidb.net/anime/") ||
			strings.Contains(source, "anidb.net/perl-bin/animedb.pl?show=anime&aid="):
			if strings.Contains(source, "aid=") {
				aid := source[strings.LastIndex(source, "aid=")+len("aid="):]
				if amp := strings.Index(aid, "&"); amp >= 0 {
					aid = aid[:amp]
				}
				if n, err := strconv.Atoi(aid); err == nil {
					ids.AnidbID = n
				}
			} else if id, ok := trailingInt(source); ok {
				ids.AnidbID = id
			}
		case strings.Contains(source, "anilist.co/anime/"):
			if id, ok := trailingInt(source); ok {
				ids.AnilistID = id
			}
		case strings.Contains(source, "myanimelist.net/anime/"):
			if id, ok := trailingInt(source); ok {
				ids.MalID = id
			}
		}
	}

	return ids
}

// ExtractTitles projects an entry into an AnimeTitle. The catalog does not
// distinguish english/native; those slots are filled by AniList enrichment.
func (a *AnimeDB) ExtractTitles(entry *AnimeEntry) models.AnimeTitle {
	return models.AnimeTitle{
		Romaji:   entry.Title,
		Synonyms: append([]string(nil), entry.Synonyms...),
	}
}

// GetAllTitles returns every unique title of an entry, Latin-script titles
// first so searchable variants lead.
func (a *AnimeDB) GetAllTitles(entry *AnimeEntry) []string {
	var latin, nonLatin []string
	seen := make(map[string]bool)

	add := func(t string) {
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		if IsLatinScript(t) {
			latin = append(latin, t)
		} else {
			nonLatin = append(nonLatin, t)
		}
	}

	add(entry.Title)
	for _, synonym := range entry.Synonyms {
		add(synonym)
	}

	return append(latin, nonLatin...)
}

type scoredEntry struct {
	entry *AnimeEntry
	score float64
}

// SearchByTitle ranks catalog entries against a partial title.
// Exact match scores 100, substring 80, word overlap up to 50;
// entries at 20 or below are dropped.
func (a *AnimeDB) SearchByTitle(query string, limit int) []*AnimeEntry {
	queryLower := strings.ToLower(strings.TrimSpace(query))
	if len([]rune(queryLower)) < constants.MinTitleSearchLength {
		return nil
	}

	queryWords := fieldsSet(queryLower)

	a.mu.RLock()
	defer a.mu.RUnlock()

	var matches []scoredEntry
	for i := range a.entries {
		entry := &a.entries[i]

		best := 0.0
		score := scoreTitle(queryLower, queryWords, strings.ToLower(entry.Title))
		if score > best {
			best = score
		}
		for _, synonym := range entry.Synonyms {
			if score := scoreTitle(queryLower, queryWords, strings.ToLower(synonym)); score > best {
				best = score
			}
		}

		if best > 20 {
			matches = append(matches, scoredEntry{entry: entry, score: best})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]*AnimeEntry, len(matches))
	for i, m := range matches {
		results[i] = m.entry
	}
	return results
}

func scoreTitle(queryLower string, queryWords map[string]bool, titleLower string) float64 {
	switch {
	case queryLower == titleLower:
		return 100
	case strings.Contains(titleLower, queryLower):
		// Prefix matches land here too; they need no separate tier.
		return 80
	}

	overlap := 0
	for word := range fieldsSet(titleLower) {
		if queryWords[word] {
			overlap++
		}
	}
	if overlap == 0 {
		return 0
	}
	denom := len(queryWords)
	if denom < 1 {
		denom = 1
	}
	return float64(overlap) / float64(denom) * 50
}

// GetSearchTitlesForQuery identifies an anime from a free-form query and
// returns up to two Latin-script titles to search with. When the best match
// carries no Latin title at all, the first non-Latin one is returned with a
// warning since it is unlikely to match indexer releases.
func (a *AnimeDB) GetSearchTitlesForQuery(query string) []string {
	matches := a.SearchByTitle(query, 1)
	if len(matches) == 0 {
		return nil
	}

	titles := a.GetAllTitles(matches[0])
	var latin []string
	for _, t := range titles {
		if IsLatinScript(t) {
			latin = append(latin, t)
		}
	}

	if len(latin) > 0 {
		if len(latin) > 2 {
			latin = latin[:2]
		}
		return latin
	}

	a.logger.Warnf("[animedb] no Latin-script titles for %q", matches[0].Title)
	if len(titles) > 0 {
		return titles[:1]
	}
	return nil
}

// IsLatinScript reports whether a string's alphabetic characters are
// majority Latin (strictly more than half). Strings with no alphabetic
// characters count as Latin.
func IsLatinScript(text string) bool {
	if text == "" {
		return false
	}

	latin, nonLatin := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		if (r >= 0x0041 && r <= 0x007A) || // Basic Latin
			(r >= 0x00C0 && r <= 0x024F) || // Latin-1 Supplement, Extended-A/B
			(r >= 0x1E00 && r <= 0x1EFF) { // Latin Extended Additional
			latin++
		} else {
			nonLatin++
		}
	}

	if latin+nonLatin == 0 {
		return true
	}
	return latin > nonLatin
}

func fieldsSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

func trailingInt(url string) (int, bool) {
	trimmed := strings.TrimRight(url, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(trimmed[idx+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}
