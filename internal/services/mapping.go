package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/amaumene/nyaarr/internal/config"
	"github.com/amaumene/nyaarr/internal/constants"
	"github.com/amaumene/nyaarr/internal/database"
	"github.com/amaumene/nyaarr/internal/models"
	"github.com/amaumene/nyaarr/pkg/logger"
)

// MappingResolver turns a TVDB id into an anime mapping. Sources are
// consulted in strict priority order: user override, fresh cached mapping,
// offline catalog enriched from AniList. Concurrent lookups for the same id
// collapse into one resolution.
type MappingResolver struct {
	db      database.Database
	animeDB *AnimeDB
	anilist *AniList
	ttl     time.Duration
	logger  logger.Logger
	group   singleflight.Group
}

func NewMappingResolver(cfg *config.Config, db database.Database, animeDB *AnimeDB, anilist *AniList) *MappingResolver {
	return &MappingResolver{
		db:      db,
		animeDB: animeDB,
		anilist: anilist,
		ttl:     cfg.MappingTTL(),
		logger:  logger.New(),
	}
}

// Resolve returns the mapping for a TVDB id, or nil when every source
// misses. A miss is not an error; the caller renders an empty result set.
func (r *MappingResolver) Resolve(ctx context.Context, tvdbID int) (*models.AnimeMapping, error) {
	v, err, _ := r.group.Do(fmt.Sprintf("tvdb:%d", tvdbID), func() (interface{}, error) {
		return r.resolve(ctx, tvdbID)
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*models.AnimeMapping), nil
}

func (r *MappingResolver) resolve(ctx context.Context, tvdbID int) (interface{}, error) {
	if mapping := r.fromOverride(ctx, tvdbID); mapping != nil {
		return mapping, nil
	}

	if mapping := r.fromCache(tvdbID); mapping != nil {
		return mapping, nil
	}

	mapping := r.fromCatalog(ctx, tvdbID)
	if mapping == nil {
		r.logger.Warnf("[mapping] no mapping found for tvdb %d", tvdbID)
		return nil, nil
	}

	if err := r.db.StoreMapping(mapping); err != nil {
		r.logger.Errorf("[mapping] failed to cache mapping for tvdb %d: %v", tvdbID, err)
	}
	return mapping, nil
}

func (r *MappingResolver) fromOverride(ctx context.Context, tvdbID int) *models.AnimeMapping {
	override, err := r.db.GetOverride(tvdbID)
	if err != nil {
		r.logger.Errorf("[mapping] override read failed for tvdb %d: %v", tvdbID, err)
		return nil
	}
	if override == nil {
		return nil
	}

	mapping := &models.AnimeMapping{
		TvdbID:       tvdbID,
		AnidbID:      override.AnidbID,
		AnilistID:    override.AnilistID,
		MalID:        override.MalID,
		Titles:       models.AnimeTitle{Synonyms: override.CustomTitles},
		SeasonInfo:   override.SeasonRanges,
		LastUpdated:  time.Now().UTC(),
		UserOverride: true,
	}

	// Overrides with ids but no titles still pull titles from the catalog.
	if len(override.CustomTitles) == 0 {
		if entry := r.animeDB.GetByTvdbID(tvdbID); entry != nil {
			mapping.Titles = r.animeDB.ExtractTitles(entry)
		}
	}

	r.enrich(ctx, mapping)
	r.logger.Infof("[mapping] tvdb %d resolved from user override", tvdbID)
	return mapping
}

func (r *MappingResolver) fromCache(tvdbID int) *models.AnimeMapping {
	mapping, err := r.db.GetMapping(tvdbID)
	if err != nil {
		r.logger.Errorf("[mapping] cache read failed for tvdb %d: %v", tvdbID, err)
		return nil
	}
	if mapping == nil {
		return nil
	}

	// Override-derived entries never expire; the user asked for them.
	if !mapping.UserOverride && time.Since(mapping.LastUpdated) >= r.ttl {
		r.logger.Debugf("[mapping] cached mapping for tvdb %d is stale", tvdbID)
		return nil
	}

	r.logger.Debugf("[mapping] tvdb %d resolved from cache", tvdbID)
	return mapping
}

func (r *MappingResolver) fromCatalog(ctx context.Context, tvdbID int) *models.AnimeMapping {
	entry := r.animeDB.GetByTvdbID(tvdbID)
	if entry == nil {
		return nil
	}

	ids := r.animeDB.ExtractIDs(entry)
	mapping := &models.AnimeMapping{
		TvdbID:      tvdbID,
		AnidbID:     ids.AnidbID,
		AnilistID:   ids.AnilistID,
		MalID:       ids.MalID,
		Titles:      r.animeDB.ExtractTitles(entry),
		LastUpdated: time.Now().UTC(),
	}

	r.enrich(ctx, mapping)
	r.logger.Infof("[mapping] tvdb %d resolved from offline catalog (anidb=%d anilist=%d)",
		tvdbID, mapping.AnidbID, mapping.AnilistID)
	return mapping
}

// enrich fills in AniList titles and episode counts. The catalog's titles
// win on conflict; AniList only adds what is missing.
func (r *MappingResolver) enrich(ctx context.Context, mapping *models.AnimeMapping) {
	if mapping.AnilistID == 0 {
		return
	}

	media, err := r.anilist.GetByAnilistID(ctx, mapping.AnilistID)
	if err != nil {
		r.logger.Warnf("[mapping] anilist enrichment failed for tvdb %d: %v", mapping.TvdbID, err)
		return
	}
	if media == nil {
		return
	}

	mapping.Titles = mergeTitles(mapping.Titles, r.anilist.ExtractTitles(media))
	if mapping.TotalEpisodes == 0 {
		mapping.TotalEpisodes = r.anilist.EpisodeCount(media)
	}
	if mapping.MalID == 0 {
		mapping.MalID = media.IDMal
	}
}

// mergeTitles keeps base's facets and unions the synonyms.
func mergeTitles(base, extra models.AnimeTitle) models.AnimeTitle {
	merged := base
	if merged.Romaji == "" {
		merged.Romaji = extra.Romaji
	}
	if merged.English == "" {
		merged.English = extra.English
	}
	if merged.Native == "" {
		merged.Native = extra.Native
	}

	seen := make(map[string]bool, len(merged.Synonyms))
	for _, s := range merged.Synonyms {
		seen[s] = true
	}
	for _, s := range extra.Synonyms {
		if s != "" && !seen[s] {
			merged.Synonyms = append(merged.Synonyms, s)
			seen[s] = true
		}
	}
	return merged
}

// SaveOverride persists a user override and drops the cached mapping so the
// next lookup rebuilds from the override.
func (r *MappingResolver) SaveOverride(override *models.MappingOverride) error {
	if err := r.db.StoreOverride(override); err != nil {
		return err
	}
	if err := r.db.DeleteMapping(override.TvdbID); err != nil {
		r.logger.Warnf("[mapping] failed to invalidate cached mapping for tvdb %d: %v", override.TvdbID, err)
	}
	r.logger.Infof("[mapping] stored override for tvdb %d", override.TvdbID)
	return nil
}

// GetOverride exposes the stored override for the management API.
func (r *MappingResolver) GetOverride(tvdbID int) (*models.MappingOverride, error) {
	return r.db.GetOverride(tvdbID)
}

// ListOverrides returns every stored override keyed by TVDB id.
func (r *MappingResolver) ListOverrides() (map[int]models.MappingOverride, error) {
	return r.db.GetAllOverrides()
}

// EpisodeTranslator converts season/episode positions to absolute episode
// numbers using, in order: explicit override labels, TheXEM, the mapping's
// per-season counts, and finally a flat estimate.
type EpisodeTranslator struct {
	thexem *TheXEM
	db     database.Database
	logger logger.Logger
}

func NewEpisodeTranslator(thexem *TheXEM, db database.Database) *EpisodeTranslator {
	return &EpisodeTranslator{
		thexem: thexem,
		db:     db,
		logger: logger.New(),
	}
}

// ToAbsolute returns the absolute episode number for a season/episode pair.
// The second return reports whether the number is exact rather than an
// estimate.
func (t *EpisodeTranslator) ToAbsolute(ctx context.Context, mapping *models.AnimeMapping, season, episode int) (int, bool) {
	if season <= 0 {
		return episode, true
	}

	if abs, ok := t.fromOverride(mapping.TvdbID, season, episode); ok {
		return abs, true
	}

	if abs, ok := t.thexem.TvdbToAnidbEpisode(ctx, mapping.TvdbID, season, episode); ok {
		return abs, true
	}

	if abs, ok := t.fromSeasonInfo(mapping, season, episode); ok {
		return abs, true
	}

	if season == 1 {
		return episode, true
	}

	estimate := (season-1)*constants.EstimatedEpisodesPerSeason + episode
	t.logger.Warnf("[mapping] estimating absolute episode for tvdb %d S%02dE%02d: %d",
		mapping.TvdbID, season, episode, estimate)
	return estimate, false
}

func (t *EpisodeTranslator) fromOverride(tvdbID, season, episode int) (int, bool) {
	override, err := t.db.GetOverride(tvdbID)
	if err != nil || override == nil {
		return 0, false
	}

	label := fmt.Sprintf("S%02dE%02d", season, episode)
	if abs, ok := override.SeasonEpisodeOverrides[label]; ok {
		t.logger.Infof("[mapping] override %s -> absolute %d for tvdb %d", label, abs, tvdbID)
		return abs, true
	}
	return 0, false
}

// fromSeasonInfo sums earlier seasons' episode counts. The episode must fit
// inside its season's count or the data cannot be trusted for this pair.
func (t *EpisodeTranslator) fromSeasonInfo(mapping *models.AnimeMapping, season, episode int) (int, bool) {
	if len(mapping.SeasonInfo) == 0 {
		return 0, false
	}

	total := 0
	for _, si := range mapping.SeasonInfo {
		if si.Season <= 0 {
			continue
		}
		if si.Season < season {
			total += si.Episodes
			continue
		}
		if si.Season == season {
			if episode > si.Episodes {
				return 0, false
			}
			return total + episode, true
		}
	}
	return 0, false
}
