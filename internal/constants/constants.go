// Package constants defines application-wide constants and default values.
package constants

const (
	// Application metadata
	AppName        = "nyaarr"
	AppVersion     = "1.0.0"
	AppDescription = "Torznab anime proxy mapping Sonarr season/episode searches to Nyaa absolute numbering"

	// Default configuration values
	DefaultHost     = "0.0.0.0"
	DefaultPort     = "8000"
	DefaultLogLevel = "info"

	// Upstream endpoints
	DefaultNyaaURL    = "https://nyaa.si"
	DefaultTheXEMURL  = "https://thexem.info"
	DefaultAniListURL = "https://graphql.anilist.co"
	DefaultAnimeDBURL = "https://github.com/manami-project/anime-offline-database/releases/latest/download/anime-offline-database-minified.json"

	// AniList publishes a 90 requests/minute budget
	DefaultAniListRateLimit = 90

	// Cache settings
	DefaultCacheTTL        = 3600   // seconds, short-lived caches
	DefaultMappingCacheTTL = 604800 // seconds, 1 week
	DefaultAnimeDBInterval = 86400  // seconds, catalog refresh

	// Search settings
	DefaultMaxResults = 100
)

// Nyaa category codes
const (
	NyaaCategoryAnimeEnglish    = "1_2"
	NyaaCategoryAnimeNonEnglish = "1_3"
	NyaaCategoryAnimeRaw        = "1_4"
	NyaaCategoryAllAnime        = "1_0"
	NyaaCategoryAll             = "0_0"
)

// Nyaa filter codes
const (
	NyaaFilterNone      = "0"
	NyaaFilterNoRemakes = "1"
	NyaaFilterTrusted   = "2"
)

// Torznab category ids advertised in caps and stamped on every item.
const (
	TorznabCategoryTV    = 5000
	TorznabCategoryAnime = 5070
)

// SpecialKeywords are OR-combined into special/OVA searches.
var SpecialKeywords = []string{"OVA", "Special", "OAD", "Movie"}

// GenericSpecialKeywords is the shorter set used on the generic search path.
var GenericSpecialKeywords = []string{"OVA", "Special", "Movie"}
