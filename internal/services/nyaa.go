package services

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amaumene/nyaarr/internal/cache"
	"github.com/amaumene/nyaarr/internal/config"
	"github.com/amaumene/nyaarr/internal/constants"
	apperrors "github.com/amaumene/nyaarr/internal/errors"
	"github.com/amaumene/nyaarr/internal/models"
	"github.com/amaumene/nyaarr/pkg/httputil"
	"github.com/amaumene/nyaarr/pkg/logger"
)

var sizeRegex = regexp.MustCompile(`(?i)([\d.]+)\s*(TiB|GiB|MiB|KiB|B)`)

var sizeUnits = map[string]int64{
	"b":   1,
	"kib": 1 << 10,
	"mib": 1 << 20,
	"gib": 1 << 30,
	"tib": 1 << 40,
}

type nyaaRSS struct {
	Channel struct {
		Items []nyaaItem `xml:"item"`
	} `xml:"channel"`
}

type nyaaItem struct {
	Title      string `xml:"title"`
	Link       string `xml:"link"`
	GUID       string `xml:"guid"`
	PubDate    string `xml:"pubDate"`
	Seeders    int    `xml:"seeders"`
	Leechers   int    `xml:"leechers"`
	Downloads  int    `xml:"downloads"`
	InfoHash   string `xml:"infoHash"`
	CategoryID string `xml:"categoryId"`
	Size       string `xml:"size"`
	Trusted    string `xml:"trusted"`
}

// Nyaa searches the nyaa.si RSS endpoint. At most two requests run
// concurrently with half a second between request starts, and identical
// queries within a minute are served from cache, so PVR fan-out searches
// do not hammer the site.
type Nyaa struct {
	baseURL    string
	category   string
	filter     string
	httpClient *http.Client
	logger     logger.Logger
	cache      *cache.LRUCache

	sem chan struct{}

	mu          sync.Mutex
	lastRequest time.Time
}

func NewNyaa(cfg *config.Config) *Nyaa {
	category := constants.NyaaCategoryAllAnime
	if cfg.NyaaEnglishOnly {
		category = constants.NyaaCategoryAnimeEnglish
	}
	filter := constants.NyaaFilterNone
	if cfg.NyaaTrustedOnly {
		filter = constants.NyaaFilterTrusted
	}

	return &Nyaa{
		baseURL:    cfg.NyaaURL,
		category:   category,
		filter:     filter,
		httpClient: httputil.NewHTTPClient(constants.SearchTimeout),
		logger:     logger.New(),
		cache:      cache.New(constants.NyaaCacheCapacity, constants.NyaaCacheTTLSeconds*time.Second),
		sem:        make(chan struct{}, constants.NyaaMaxConcurrentRequests),
	}
}

// quoteTerm prepares one term for the combined query syntax. Inner quotes
// would break the grouping, so they are stripped; terms containing spaces
// or syntax characters are quoted.
func quoteTerm(term string) string {
	term = strings.ReplaceAll(term, `"`, "")
	if strings.ContainsAny(term, " |()") {
		return `"` + term + `"`
	}
	return term
}

func orGroup(terms []string) string {
	if len(terms) == 1 {
		return terms[0]
	}
	return "(" + strings.Join(terms, "|") + ")"
}

// BuildCombinedQuery assembles one nyaa search expression that ORs together
// title variants, extra keywords, and episode numbers, in that order:
//
//	("Sousou no Frieren"|"Frieren: Beyond Journey's End") (1|27)
//
// Episodes are deduplicated and sorted ascending. Empty groups are omitted.
func BuildCombinedQuery(titles []string, episodes []int, keywords []string) string {
	var parts []string

	var quoted []string
	seen := make(map[string]bool)
	for _, title := range titles {
		if len(quoted) >= constants.MaxCombinedTitles {
			break
		}
		q := quoteTerm(title)
		if q == "" || q == `""` || seen[q] {
			continue
		}
		seen[q] = true
		quoted = append(quoted, q)
	}
	if len(quoted) > 0 {
		parts = append(parts, orGroup(quoted))
	}

	if len(keywords) > 0 {
		terms := make([]string, 0, len(keywords))
		for _, kw := range keywords {
			if q := quoteTerm(kw); q != "" {
				terms = append(terms, q)
			}
		}
		if len(terms) > 0 {
			parts = append(parts, orGroup(terms))
		}
	}

	if len(episodes) > 0 {
		unique := make(map[int]bool, len(episodes))
		for _, ep := range episodes {
			if ep > 0 {
				unique[ep] = true
			}
		}
		nums := make([]int, 0, len(unique))
		for ep := range unique {
			nums = append(nums, ep)
		}
		sort.Ints(nums)

		terms := make([]string, len(nums))
		for i, ep := range nums {
			terms[i] = strconv.Itoa(ep)
		}
		if len(terms) > 0 {
			parts = append(parts, orGroup(terms))
		}
	}

	return strings.Join(parts, " ")
}

func (n *Nyaa) searchURL(query string) string {
	params := url.Values{}
	params.Set("page", "rss")
	params.Set("q", query)
	params.Set("c", n.category)
	params.Set("f", n.filter)
	return n.baseURL + "/?" + params.Encode()
}

// Search runs one query against nyaa and returns results sorted by seeders.
func (n *Nyaa) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	reqURL := n.searchURL(query)

	if cached, ok := n.cache.Get(reqURL); ok {
		n.logger.Debugf("[nyaa] cache hit for %q", query)
		return cached.([]models.SearchResult), nil
	}

	body, err := n.fetch(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	results, err := n.parseRSS(body)
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Seeders != results[j].Seeders {
			return results[i].Seeders > results[j].Seeders
		}
		return results[i].PubDate.After(results[j].PubDate)
	})

	n.cache.Set(reqURL, results)
	n.logger.Infof("[nyaa] %d results for %q", len(results), query)
	return results, nil
}

// SearchMulti runs several queries concurrently and concatenates the
// results. Individual failures are logged and skipped; an error is returned
// only when every query fails.
func (n *Nyaa) SearchMulti(ctx context.Context, queries []string) ([]models.SearchResult, error) {
	if len(queries) > constants.MaxFanoutQueries {
		queries = queries[:constants.MaxFanoutQueries]
	}

	var mu sync.Mutex
	var all []models.SearchResult
	failures := 0

	g, gctx := errgroup.WithContext(ctx)
	for _, query := range queries {
		q := query
		g.Go(func() error {
			results, err := n.Search(gctx, q)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				n.logger.Errorf("[nyaa] query %q failed: %v", q, err)
				failures++
				return nil
			}
			all = append(all, results...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if failures == len(queries) && len(queries) > 0 {
		return nil, fmt.Errorf("all %d nyaa queries failed", len(queries))
	}
	return all, nil
}

// fetch performs the rate-limited GET with retries on 429.
func (n *Nyaa) fetch(ctx context.Context, reqURL string) ([]byte, error) {
	select {
	case n.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-n.sem }()

	for attempt := 0; attempt <= constants.NyaaMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * constants.NyaaRetryBackoffStep
			n.logger.Warnf("[nyaa] rate limited, retry %d in %v", attempt, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		n.waitForSlot()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := n.httpClient.Do(req)
		if err != nil {
			return nil, apperrors.NewUpstreamError("nyaa", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("nyaa returned status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		return body, nil
	}

	return nil, fmt.Errorf("nyaa rate limit persisted after %d retries", constants.NyaaMaxRetries)
}

// waitForSlot enforces the minimum spacing between request starts.
func (n *Nyaa) waitForSlot() {
	n.mu.Lock()
	defer n.mu.Unlock()

	elapsed := time.Since(n.lastRequest)
	if elapsed < constants.NyaaRequestDelay {
		time.Sleep(constants.NyaaRequestDelay - elapsed)
	}
	n.lastRequest = time.Now()
}

func (n *Nyaa) parseRSS(body []byte) ([]models.SearchResult, error) {
	var feed nyaaRSS
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse nyaa RSS: %w", err)
	}

	results := make([]models.SearchResult, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		result := models.SearchResult{
			Title:      item.Title,
			GUID:       item.GUID,
			Link:       item.Link,
			InfoURL:    item.GUID,
			PubDate:    n.parseDate(item.PubDate),
			Size:       parseSize(item.Size),
			Seeders:    item.Seeders,
			Peers:      item.Seeders + item.Leechers,
			Indexer:    "nyaa",
			Categories: []int{constants.TorznabCategoryTV, constants.TorznabCategoryAnime},
		}
		results = append(results, result)
	}
	return results, nil
}

// parseSize converts nyaa's human-readable sizes ("1.4 GiB") to bytes.
func parseSize(s string) int64 {
	match := sizeRegex.FindStringSubmatch(s)
	if match == nil {
		return 0
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0
	}
	return int64(value * float64(sizeUnits[strings.ToLower(match[2])]))
}

var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseDate tries the date formats nyaa has been seen to emit. An
// unrecognized date falls back to the current time so the item still sorts
// and renders.
func (n *Nyaa) parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	n.logger.Warnf("[nyaa] unparseable pubDate %q, using current time", s)
	return time.Now().UTC()
}

// ClearCache drops every cached response.
func (n *Nyaa) ClearCache() {
	n.cache.Clear()
}
