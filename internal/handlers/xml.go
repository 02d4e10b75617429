package handlers

import (
	"encoding/xml"
	"strconv"
	"time"

	"github.com/amaumene/nyaarr/internal/constants"
	"github.com/amaumene/nyaarr/internal/models"
)

// torznabPubDateFormat is RFC 2822 with a literal +0000 zone; Sonarr's
// parser expects exactly this shape.
const torznabPubDateFormat = "Mon, 02 Jan 2006 15:04:05 +0000"

// RSS is the root element of a Torznab search response.
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Atom    string   `xml:"xmlns:atom,attr"`
	Torznab string   `xml:"xmlns:torznab,attr"`
	Channel Channel  `xml:"channel"`
}

type Channel struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Link        string `xml:"link"`
	Items       []Item `xml:"item"`
}

type Item struct {
	Title      string     `xml:"title"`
	GUID       string     `xml:"guid"`
	Link       string     `xml:"link"`
	Comments   string     `xml:"comments,omitempty"`
	PubDate    string     `xml:"pubDate"`
	Enclosure  *Enclosure `xml:"enclosure,omitempty"`
	Attributes []Attr     `xml:"torznab:attr"`
}

// Enclosure carries the torrent download link.
type Enclosure struct {
	URL  string `xml:"url,attr"`
	Type string `xml:"type,attr"`
}

// Attr is a single torznab:attr name/value pair.
type Attr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Caps is the capabilities response.
type Caps struct {
	XMLName    xml.Name       `xml:"caps"`
	Server     CapsServer     `xml:"server"`
	Limits     CapsLimits     `xml:"limits"`
	Searching  CapsSearching  `xml:"searching"`
	Categories CapsCategories `xml:"categories"`
}

type CapsServer struct {
	Version string `xml:"version,attr"`
	Title   string `xml:"title,attr"`
}

type CapsLimits struct {
	Max     int `xml:"max,attr"`
	Default int `xml:"default,attr"`
}

type CapsSearching struct {
	Search   CapsSearch `xml:"search"`
	TVSearch CapsSearch `xml:"tv-search"`
}

type CapsSearch struct {
	Available       string `xml:"available,attr"`
	SupportedParams string `xml:"supportedParams,attr"`
}

type CapsCategories struct {
	Categories []CapsCategory `xml:"category"`
}

type CapsCategory struct {
	ID     int               `xml:"id,attr"`
	Name   string            `xml:"name,attr"`
	SubCat []CapsSubCategory `xml:"subcat,omitempty"`
}

type CapsSubCategory struct {
	ID   int    `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

// NewCaps describes this indexer's capabilities: free-text and TV search,
// anime categories only.
func NewCaps() *Caps {
	return &Caps{
		Server: CapsServer{
			Version: "1.0",
			Title:   constants.AppName,
		},
		Limits: CapsLimits{
			Max:     constants.DefaultMaxResults,
			Default: constants.DefaultMaxResults,
		},
		Searching: CapsSearching{
			Search: CapsSearch{
				Available:       "yes",
				SupportedParams: "q",
			},
			TVSearch: CapsSearch{
				Available:       "yes",
				SupportedParams: "q,tvdbid,season,ep",
			},
		},
		Categories: CapsCategories{
			Categories: []CapsCategory{
				{
					ID:   constants.TorznabCategoryTV,
					Name: "TV",
					SubCat: []CapsSubCategory{
						{ID: constants.TorznabCategoryAnime, Name: "Anime"},
					},
				},
			},
		},
	}
}

// itemMeta is the request context echoed back as torznab attributes.
type itemMeta struct {
	tvdbID  int
	season  int
	episode int

	hasSeason  bool
	hasEpisode bool
}

// NewSearchResponse renders results as a Torznab RSS feed. meta may be nil
// for generic searches.
func NewSearchResponse(results []models.SearchResult, meta *itemMeta) *RSS {
	items := make([]Item, 0, len(results))
	for _, r := range results {
		items = append(items, newItem(r, meta))
	}

	return &RSS{
		Version: "2.0",
		Atom:    "http://www.w3.org/2005/Atom",
		Torznab: "http://torznab.com/schemas/2015/feed",
		Channel: Channel{
			Title:       constants.AppName,
			Description: constants.AppDescription,
			Link:        constants.DefaultNyaaURL,
			Items:       items,
		},
	}
}

func newItem(r models.SearchResult, meta *itemMeta) Item {
	pubDate := r.PubDate
	if pubDate.IsZero() {
		pubDate = time.Now()
	}

	attrs := []Attr{
		{Name: "size", Value: strconv.FormatInt(r.Size, 10)},
		{Name: "seeders", Value: strconv.Itoa(r.Seeders)},
		{Name: "peers", Value: strconv.Itoa(r.Peers)},
		{Name: "downloadvolumefactor", Value: "1"},
		{Name: "uploadvolumefactor", Value: "1"},
	}
	for _, category := range r.Categories {
		attrs = append(attrs, Attr{Name: "category", Value: strconv.Itoa(category)})
	}

	if meta != nil {
		if meta.tvdbID > 0 {
			attrs = append(attrs, Attr{Name: "tvdbid", Value: strconv.Itoa(meta.tvdbID)})
		}
		if meta.hasSeason {
			attrs = append(attrs, Attr{Name: "season", Value: strconv.Itoa(meta.season)})
		}
		if meta.hasEpisode {
			attrs = append(attrs, Attr{Name: "episode", Value: strconv.Itoa(meta.episode)})
		}
	}

	return Item{
		Title:    r.Title,
		GUID:     r.GUID,
		Link:     r.Link,
		Comments: r.InfoURL,
		PubDate:  pubDate.UTC().Format(torznabPubDateFormat),
		Enclosure: &Enclosure{
			URL:  r.Link,
			Type: "application/x-bittorrent",
		},
		Attributes: attrs,
	}
}

// EmptyResponse is the universal degraded answer: a valid feed with no
// items, so the PVR records "no results" instead of an indexer failure.
func EmptyResponse() *RSS {
	return NewSearchResponse(nil, nil)
}
