// Package constants defines timeout values and retry limits used throughout the application.
package constants

import "time"

// Timeout constants for various operations
const (
	// Short API queries (TheXEM, AniList, Sonarr series lookup)
	ShortRequestTimeout = 10 * time.Second

	// Sonarr episode listings can be large
	EpisodeListTimeout = 15 * time.Second

	// Nyaa searches and catalog downloads
	SearchTimeout   = 30 * time.Second
	DownloadTimeout = 30 * time.Second

	// Nyaa rate limiting
	NyaaRequestDelay = 500 * time.Millisecond

	// Backoff step for 429 retries: attempt * step (1s, 2s, 3s)
	NyaaRetryBackoffStep = time.Second
)

// Maximum retry attempts
const (
	NyaaMaxRetries = 3
)
