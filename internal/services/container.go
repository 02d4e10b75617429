package services

import (
	"github.com/amaumene/nyaarr/internal/config"
	"github.com/amaumene/nyaarr/internal/database"
	"github.com/amaumene/nyaarr/pkg/logger"
)

// Container holds all application services for dependency injection.
type Container struct {
	AnimeDB    *AnimeDB
	AniList    *AniList
	TheXEM     *TheXEM
	Sonarr     *Sonarr
	Nyaa       *Nyaa
	Resolver   *MappingResolver
	Translator *EpisodeTranslator
	Planner    *QueryPlanner
	Special    *SpecialResolver
	DB         database.Database
	Logger     logger.Logger
}

// NewContainer wires the service graph. Sonarr stays nil when not
// configured; the special resolver degrades to absolute-number searches.
func NewContainer(cfg *config.Config, db database.Database) *Container {
	animeDB := NewAnimeDB(cfg)
	anilist := NewAniList(cfg)
	thexem := NewTheXEM(cfg, db)
	nyaa := NewNyaa(cfg)

	var sonarr *Sonarr
	if cfg.SonarrConfigured() {
		sonarr = NewSonarr(cfg)
	}

	resolver := NewMappingResolver(cfg, db, animeDB, anilist)
	translator := NewEpisodeTranslator(thexem, db)
	planner := NewQueryPlanner(cfg, nyaa, translator)
	special := NewSpecialResolver(sonarr, translator, planner)

	return &Container{
		AnimeDB:    animeDB,
		AniList:    anilist,
		TheXEM:     thexem,
		Sonarr:     sonarr,
		Nyaa:       nyaa,
		Resolver:   resolver,
		Translator: translator,
		Planner:    planner,
		Special:    special,
		DB:         db,
		Logger:     logger.New(),
	}
}
