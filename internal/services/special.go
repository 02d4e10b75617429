package services

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/amaumene/nyaarr/internal/models"
	"github.com/amaumene/nyaarr/pkg/logger"
)

var (
	seasonZeroSuffixRegex  = regexp.MustCompile(`\s+00$`)
	zeroEpisodeSuffixRegex = regexp.MustCompile(`\s+0\d$`)
)

// japaneseParticles anchor romanized titles in long concatenated queries.
var japaneseParticles = map[string]bool{"wa": true, "no": true, "ga": true, "ni": true}

// SpecialResolver disambiguates tvsearch requests that arrive without
// season/ep parameters. Sonarr sends these for specials and for
// absolute-numbered episodes, with the query holding just a number like
// "01" that could mean either S2E01, S3E01, or OVA #1. When Sonarr access
// is configured its wanted list settles the question; otherwise the number
// is assumed absolute.
type SpecialResolver struct {
	sonarr     *Sonarr
	translator *EpisodeTranslator
	planner    *QueryPlanner
	logger     logger.Logger
}

func NewSpecialResolver(sonarr *Sonarr, translator *EpisodeTranslator, planner *QueryPlanner) *SpecialResolver {
	return &SpecialResolver{
		sonarr:     sonarr,
		translator: translator,
		planner:    planner,
		logger:     logger.New(),
	}
}

// Resolve handles a tvsearch with tvdbid but no season/ep.
func (s *SpecialResolver) Resolve(ctx context.Context, mapping *models.AnimeMapping, q string) ([]models.SearchResult, error) {
	s.logger.Infof("[special] tvsearch without season/ep: tvdb %d q=%q", mapping.TvdbID, q)

	num, isNumber := parsePositiveInt(q)
	if !isNumber {
		// Non-numeric or empty query: assume a specials hunt.
		return s.planner.SearchSpecial(ctx, mapping, 0)
	}

	if s.sonarr == nil {
		s.logger.Infof("[special] sonarr not configured, treating %d as absolute episode", num)
		return s.planner.SearchAbsolute(ctx, mapping, []int{num}, nil)
	}

	// The number is usually an in-season episode number; every season still
	// missing that slot is a candidate.
	wanted, err := s.sonarr.GetWantedEpisodesByEpisodeNumber(ctx, mapping.TvdbID, num)
	if err != nil {
		s.logger.Errorf("[special] sonarr lookup failed for tvdb %d: %v", mapping.TvdbID, err)
		return s.planner.SearchAbsolute(ctx, mapping, []int{num}, nil)
	}

	if len(wanted) > 0 {
		return s.searchWanted(ctx, mapping, wanted)
	}

	// Nothing wanted matches the in-season number; maybe it already is
	// an absolute number.
	episode, err := s.sonarr.GetEpisodeByAbsoluteNumber(ctx, mapping.TvdbID, num)
	if err != nil {
		s.logger.Errorf("[special] absolute lookup failed for tvdb %d: %v", mapping.TvdbID, err)
	}
	if episode != nil && episode.IsSpecial {
		s.logger.Infof("[special] %d is a special (S%02dE%02d)", num, episode.SeasonNumber, episode.EpisodeNumber)
		return s.planner.SearchSpecial(ctx, mapping, num)
	}

	return s.planner.SearchAbsolute(ctx, mapping, []int{num}, nil)
}

// searchWanted turns Sonarr's wanted episodes into one absolute-number
// fanout, or a special search if any candidate lives in season zero.
func (s *SpecialResolver) searchWanted(ctx context.Context, mapping *models.AnimeMapping, wanted []models.EpisodeInfo) ([]models.SearchResult, error) {
	var absolutes []int
	var seasons []int
	hasSpecial := false

	for _, ep := range wanted {
		if ep.IsSpecial {
			hasSpecial = true
		}
		abs := 0
		if ep.HasAbsolute {
			abs = ep.AbsoluteEpisodeNumber
		} else if !ep.IsSpecial {
			translated, _ := s.translator.ToAbsolute(ctx, mapping, ep.SeasonNumber, ep.EpisodeNumber)
			abs = translated
		}
		if abs > 0 {
			absolutes = append(absolutes, abs)
			seasons = append(seasons, ep.SeasonNumber)
		}
	}

	if len(absolutes) == 0 {
		s.logger.Warnf("[special] no absolute numbers for %d wanted episodes of tvdb %d", len(wanted), mapping.TvdbID)
		return s.planner.SearchSpecial(ctx, mapping, 0)
	}

	s.logger.Infof("[special] resolved to wanted absolute episodes %v for tvdb %d", absolutes, mapping.TvdbID)

	if hasSpecial {
		return s.planner.SearchSpecial(ctx, mapping, absolutes[0])
	}
	return s.planner.SearchAbsolute(ctx, mapping, absolutes, seasons)
}

func parsePositiveInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// IsSeasonZeroQuery reports whether a free-text query is a season-zero
// special search. Sonarr appends the episode number to the title, and only
// a trailing " 00" is unambiguous: "Kaguya sama 00" is special 0, while
// "Bakuman S2 01" and even a bare "Bakuman 01" mean regular episodes.
func IsSeasonZeroQuery(q string) bool {
	return seasonZeroSuffixRegex.MatchString(q)
}

// StripSeasonZeroSuffix removes the trailing zero-padded episode number:
// "Kaguya sama 00" becomes "Kaguya sama".
func StripSeasonZeroSuffix(q string) string {
	return strings.TrimSpace(zeroEpisodeSuffixRegex.ReplaceAllString(q, ""))
}

// ParseConcatenatedQuery extracts a clean primary title from a long query.
// Sonarr concatenates every alternate title into one string, like
// "Kaguya sama wa Kokurasetai Tensai tachi no Renai Zunousen ABCs of Men
// and Women"; searching that verbatim matches nothing.
func ParseConcatenatedQuery(q string, catalog *AnimeDB) string {
	if len(q) < 50 {
		return q
	}

	words := strings.Fields(q)

	// Progressively shorter prefixes against the catalog find the show the
	// query actually starts with.
	if catalog != nil {
		for _, n := range []int{6, 5, 4, 3} {
			if len(words) < n {
				continue
			}
			prefix := strings.Join(words[:n], " ")
			if titles := catalog.GetSearchTitlesForQuery(prefix); len(titles) > 0 {
				return titles[0]
			}
		}
	}

	// Romanized Japanese titles usually contain a particle; keep a few
	// words past it to complete the phrase.
	limit := len(words)
	if limit > 8 {
		limit = 8
	}
	for i := 0; i < limit; i++ {
		if japaneseParticles[strings.ToLower(words[i])] {
			end := i + 4
			if end > len(words) {
				end = len(words)
			}
			return strings.Join(words[:end], " ")
		}
	}

	if len(words) > 5 {
		words = words[:5]
	}
	return strings.Join(words, " ")
}
