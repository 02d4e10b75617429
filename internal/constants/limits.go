// Package constants defines numerical limits and conversion factors.
package constants

const (
	// Maximum concurrent in-flight requests to Nyaa
	NyaaMaxConcurrentRequests = 2

	// Nyaa response cache
	NyaaCacheTTLSeconds = 60
	NyaaCacheCapacity   = 100

	// Title variants folded into a combined query
	MaxSynonymTitles  = 3
	MaxCombinedTitles = 3

	// Cap on per-variant fallback queries when a combined query is unavailable
	MaxFanoutQueries = 8

	// Minimum query length for catalog title search
	MinTitleSearchLength = 3

	// Estimated episodes per season when no metadata is available
	EstimatedEpisodesPerSeason = 12
)
