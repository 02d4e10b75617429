package services

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/cehbz/torrentname"

	"github.com/amaumene/nyaarr/internal/config"
	"github.com/amaumene/nyaarr/internal/constants"
	"github.com/amaumene/nyaarr/internal/models"
	"github.com/amaumene/nyaarr/pkg/logger"
)

// stopWords are too common to carry relevance signal, either in English or
// in anime titles.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "were": true, "been": true, "be": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "must": true,
	"shall": true, "can": true, "need": true, "this": true, "that": true,
	"these": true, "those": true, "i": true, "you": true, "he": true, "she": true,
	"it": true, "we": true, "they": true, "what": true, "which": true, "who": true,
	"whom": true, "where": true, "when": true, "why": true, "how": true,
	"all": true, "each": true, "every": true, "both": true, "few": true,
	"more": true, "most": true, "other": true, "some": true, "such": true,
	"no": true, "nor": true, "not": true, "only": true, "own": true, "same": true,
	"so": true, "than": true, "too": true, "very": true, "just": true,

	"season": true, "episode": true, "ep": true, "vol": true, "volume": true,
	"part": true, "chapter": true, "s01": true, "s02": true, "s03": true,
	"s04": true, "s1": true, "s2": true, "s3": true, "s4": true,
	"ova": true, "ona": true, "movie": true, "film": true, "special": true,
	"specials": true,

	"love": true, "war": true, "world": true, "story": true, "tale": true,
	"life": true, "time": true, "day": true, "days": true, "night": true,
	"girl": true, "girls": true, "boy": true, "boys": true, "man": true,
	"men": true, "woman": true, "women": true, "school": true, "high": true,
	"magic": true, "battle": true, "fight": true, "hero": true, "heroes": true,
	"dragon": true, "sword": true, "king": true, "queen": true, "prince": true,
	"princess": true, "knight": true, "angel": true, "demon": true, "god": true,
	"devil": true, "soul": true, "spirit": true, "heart": true, "dream": true,
	"star": true, "stars": true, "moon": true, "sun": true, "sky": true,
	"sea": true, "ocean": true, "fire": true, "ice": true, "dark": true,
	"light": true, "black": true, "white": true, "red": true, "blue": true,
	"green": true, "golden": true, "new": true, "last": true, "first": true,
	"final": true, "ultimate": true, "great": true, "super": true, "mega": true,
	"zero": true, "one": true, "two": true, "three": true, "ii": true,
	"iii": true, "iv": true,
}

var (
	standaloneNumberRegex = regexp.MustCompile(`\b\d+\b`)
	nonWordRegex          = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// noiseTokens are stripped before titles are compared for fuzzy dedup.
var noiseTokens = []string{
	"1080p", "720p", "480p", "2160p", "4k",
	"bluray", "blu-ray", "webrip", "web-dl", "webdl", "hdtv",
	"x264", "x265", "h264", "h265", "hevc", "avc", "aac", "flac",
	"[", "]", "(", ")", "{", "}",
}

// noiseWordRegex strips whole words that vary between otherwise identical
// releases: movie/film labels and release years.
var noiseWordRegex = regexp.MustCompile(`\b(movie|film|(19|20)\d{2})\b`)

// QueryPlanner turns a resolved mapping and a set of absolute episode
// numbers into nyaa searches, and cleans up what comes back: relevance
// filtering, season-conflict filtering, and deduplication.
type QueryPlanner struct {
	nyaa       *Nyaa
	translator *EpisodeTranslator
	maxResults int
	dedup      bool
	logger     logger.Logger
}

func NewQueryPlanner(cfg *config.Config, nyaa *Nyaa, translator *EpisodeTranslator) *QueryPlanner {
	return &QueryPlanner{
		nyaa:       nyaa,
		translator: translator,
		maxResults: cfg.MaxResultsPerQuery,
		dedup:      cfg.EnableDeduplication,
		logger:     logger.New(),
	}
}

// seasonVariantRegex matches title variants that name a specific season,
// like "Bakuman S2" or "Mushoku Tensei 2nd Season".
var seasonVariantRegex = regexp.MustCompile(`(?i)\b(S\d+|Season\s*\d+|\d+(st|nd|rd|th)\s*Season)\b`)

// filterSeasonVariantTitles drops season-specific title variants. They pull
// in that season's releases, which is wrong when searching by absolute
// number. At least one title always survives.
func filterSeasonVariantTitles(titles []string) []string {
	filtered := titles[:0:0]
	for _, title := range titles {
		if !seasonVariantRegex.MatchString(title) {
			filtered = append(filtered, title)
		}
	}
	if len(filtered) == 0 && len(titles) > 0 {
		filtered = titles[:1]
	}
	return filtered
}

// SearchAnime handles a fully specified tvsearch: translates the season and
// episode to an absolute number, then searches by it. Season zero routes to
// the special search.
func (p *QueryPlanner) SearchAnime(ctx context.Context, mapping *models.AnimeMapping, season, episode int) ([]models.SearchResult, error) {
	if season == 0 {
		return p.SearchSpecial(ctx, mapping, episode)
	}

	absolute, exact := p.translator.ToAbsolute(ctx, mapping, season, episode)
	if !exact {
		p.logger.Warnf("[query] using estimated absolute episode %d for tvdb %d S%02dE%02d",
			absolute, mapping.TvdbID, season, episode)
	}
	return p.SearchAbsolute(ctx, mapping, []int{absolute}, []int{season})
}

// SearchTitles picks the title variants worth searching: latin-script
// titles first, capped so the combined query stays readable to nyaa.
func SearchTitles(mapping *models.AnimeMapping) []string {
	all := mapping.GetSearchTitles()

	var latin, other []string
	for _, title := range all {
		if IsLatinScript(title) {
			latin = append(latin, title)
		} else {
			other = append(other, title)
		}
	}

	titles := latin
	if len(titles) == 0 {
		titles = other
	}
	if len(titles) > constants.MaxCombinedTitles {
		titles = titles[:constants.MaxCombinedTitles]
	}
	return titles
}

// SearchAbsolute searches for one or more absolute episode numbers of a
// show. wantedSeasons, when non-empty, drops results whose release name
// carries an explicitly conflicting season marker.
func (p *QueryPlanner) SearchAbsolute(ctx context.Context, mapping *models.AnimeMapping, episodes []int, wantedSeasons []int) ([]models.SearchResult, error) {
	titles := SearchTitles(mapping)
	if len(titles) == 0 {
		p.logger.Warnf("[query] no searchable titles for tvdb %d", mapping.TvdbID)
		return nil, nil
	}
	titles = filterSeasonVariantTitles(titles)

	query := BuildCombinedQuery(titles, episodes, nil)
	p.logger.Infof("[query] tvdb %d: %s", mapping.TvdbID, query)

	results, err := p.nyaa.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	results = p.FilterRelevant(results, titles)
	results = p.filterSeasonConflicts(results, wantedSeasons)
	return p.Finalize(results), nil
}

// SearchSpecial searches for a season-zero episode. Specials on nyaa are
// labeled OVA/Special/OAD/Movie and often carry no usable episode number,
// so the keywords are OR-ed in and a bare title query runs alongside.
// Pass episode 0 when no episode number is known.
func (p *QueryPlanner) SearchSpecial(ctx context.Context, mapping *models.AnimeMapping, episode int) ([]models.SearchResult, error) {
	titles := SearchTitles(mapping)
	if len(titles) == 0 {
		return nil, nil
	}
	primary := titles[:1]

	var episodes []int
	if episode > 0 {
		episodes = []int{episode}
	}

	queries := []string{
		BuildCombinedQuery(primary, episodes, constants.SpecialKeywords),
		primary[0],
	}

	results, err := p.nyaa.SearchMulti(ctx, queries)
	if err != nil {
		return nil, err
	}

	results = p.FilterRelevant(results, primary)
	return p.Finalize(results), nil
}

// SearchGeneric runs a free-text query untouched, filtered only for
// relevance against the query itself.
func (p *QueryPlanner) SearchGeneric(ctx context.Context, q string) ([]models.SearchResult, error) {
	results, err := p.nyaa.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	results = p.FilterRelevant(results, []string{q})
	return p.Finalize(results), nil
}

// SearchGenericSpecial is the free-text path for season-zero searches: the
// shorter special keyword set is OR-ed in next to a bare query.
func (p *QueryPlanner) SearchGenericSpecial(ctx context.Context, q string) ([]models.SearchResult, error) {
	queries := []string{
		BuildCombinedQuery([]string{q}, nil, constants.GenericSpecialKeywords),
		q,
	}

	results, err := p.nyaa.SearchMulti(ctx, queries)
	if err != nil {
		return nil, err
	}

	results = p.FilterRelevant(results, []string{q})
	return p.Finalize(results), nil
}

// Finalize deduplicates (when enabled) and applies the result cap. Results
// arrive sorted by seeders from the indexer client; dedup re-sorts after
// collapsing groups.
func (p *QueryPlanner) Finalize(results []models.SearchResult) []models.SearchResult {
	if p.dedup {
		before := len(results)
		results = Deduplicate(results)
		if len(results) < before {
			p.logger.Debugf("[query] deduplicated %d results to %d", before, len(results))
		}
	}
	if len(results) > p.maxResults {
		results = results[:p.maxResults]
	}
	return results
}

// FilterRelevant keeps results whose title shares at least one significant
// keyword with the searched titles. Protects against nyaa's OR syntax
// matching an episode number against an unrelated show.
func (p *QueryPlanner) FilterRelevant(results []models.SearchResult, searchTitles []string) []models.SearchResult {
	if len(results) == 0 || len(searchTitles) == 0 {
		return results
	}

	keywords := extractKeywords(searchTitles)
	if len(keywords) == 0 {
		p.logger.Warnf("[query] no significant keywords in search titles, skipping relevance filter")
		return results
	}

	relevant := results[:0:0]
	for _, result := range results {
		if isRelevant(result.Title, keywords) {
			relevant = append(relevant, result)
		}
	}

	if dropped := len(results) - len(relevant); dropped > 0 {
		p.logger.Infof("[query] relevance filter dropped %d of %d results", dropped, len(results))
	}
	return relevant
}

// filterSeasonConflicts drops results whose parsed release name names a
// season we are not looking for. Absolute-numbered releases parse with no
// season and always pass.
func (p *QueryPlanner) filterSeasonConflicts(results []models.SearchResult, wantedSeasons []int) []models.SearchResult {
	if len(wantedSeasons) == 0 {
		return results
	}

	wanted := make(map[int]bool, len(wantedSeasons))
	for _, s := range wantedSeasons {
		wanted[s] = true
	}

	kept := results[:0:0]
	for _, result := range results {
		parsed := torrentname.Parse(result.Title)
		if parsed != nil && parsed.Season > 0 && !wanted[parsed.Season] {
			p.logger.Debugf("[query] dropping season-conflicting result: %s", result.Title)
			continue
		}
		kept = append(kept, result)
	}
	return kept
}

func extractKeywords(titles []string) map[string]bool {
	keywords := make(map[string]bool)
	for _, title := range titles {
		cleaned := standaloneNumberRegex.ReplaceAllString(title, "")
		cleaned = nonWordRegex.ReplaceAllString(cleaned, " ")
		for _, word := range strings.Fields(strings.ToLower(cleaned)) {
			if !stopWords[word] && len(word) >= 3 {
				keywords[word] = true
			}
		}
	}
	return keywords
}

func isRelevant(resultTitle string, keywords map[string]bool) bool {
	cleaned := nonWordRegex.ReplaceAllString(strings.ToLower(resultTitle), " ")
	words := make(map[string]bool)
	for _, w := range strings.Fields(cleaned) {
		words[w] = true
	}

	for keyword := range keywords {
		if words[keyword] {
			return true
		}
		for word := range words {
			if isValidPartialMatch(keyword, word) {
				return true
			}
		}
	}
	return false
}

// isValidPartialMatch accepts substring matches like "kaguya" in
// "kaguyasama" while rejecting short accidental ones: both words must be at
// least 4 runes and the shorter at least half the longer's length.
func isValidPartialMatch(keyword, word string) bool {
	kw := []rune(keyword)
	w := []rune(word)
	if len(kw) < 4 || len(w) < 4 {
		return false
	}

	shorter, longer := keyword, word
	if len(kw) > len(w) {
		shorter, longer = word, keyword
	}
	if len([]rune(shorter))*2 < len([]rune(longer)) {
		return false
	}
	return strings.Contains(longer, shorter)
}

// Deduplicate collapses duplicate results: first by exact GUID, then by
// normalized title. The winner of each group has more seeders, ties broken
// by newer publish date. Output is re-sorted by the same criteria.
func Deduplicate(results []models.SearchResult) []models.SearchResult {
	if len(results) <= 1 {
		return results
	}

	byGUID := make(map[string]models.SearchResult, len(results))
	order := make([]string, 0, len(results))
	for _, result := range results {
		existing, seen := byGUID[result.GUID]
		if !seen {
			byGUID[result.GUID] = result
			order = append(order, result.GUID)
			continue
		}
		if isBetterResult(result, existing) {
			byGUID[result.GUID] = result
		}
	}

	byTitle := make(map[string]models.SearchResult, len(byGUID))
	titleOrder := make([]string, 0, len(byGUID))
	for _, guid := range order {
		result := byGUID[guid]
		normalized := normalizeTitle(result.Title)
		existing, seen := byTitle[normalized]
		if !seen {
			byTitle[normalized] = result
			titleOrder = append(titleOrder, normalized)
			continue
		}
		if isBetterResult(result, existing) {
			byTitle[normalized] = result
		}
	}

	final := make([]models.SearchResult, 0, len(byTitle))
	for _, key := range titleOrder {
		final = append(final, byTitle[key])
	}

	sort.SliceStable(final, func(i, j int) bool {
		return isBetterResult(final[i], final[j])
	})
	return final
}

func isBetterResult(a, b models.SearchResult) bool {
	if a.Seeders != b.Seeders {
		return a.Seeders > b.Seeders
	}
	return a.PubDate.After(b.PubDate)
}

// normalizeTitle strips quality and container noise so the same release
// under different tags compares equal.
func normalizeTitle(title string) string {
	normalized := strings.ToLower(title)
	for _, token := range noiseTokens {
		normalized = strings.ReplaceAll(normalized, token, " ")
	}
	normalized = noiseWordRegex.ReplaceAllString(normalized, " ")
	return strings.Join(strings.Fields(normalized), " ")
}
