// Package config provides configuration management for the application.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/amaumene/nyaarr/internal/constants"
	apperrors "github.com/amaumene/nyaarr/internal/errors"
)

const defaultConfigFile = "config.json"

// Config holds the application configuration.
// It supports loading from environment variables and an optional JSON file;
// environment variables take precedence.
type Config struct {
	// HTTP surface
	APIKey string `json:"API_KEY"`
	Host   string `json:"HOST"`
	Port   string `json:"PORT"`

	// Nyaa indexer
	NyaaURL         string `json:"NYAA_URL"`
	NyaaEnglishOnly bool   `json:"NYAA_ENGLISH_ONLY"`
	NyaaTrustedOnly bool   `json:"NYAA_TRUSTED_ONLY"`

	// Sonarr (optional; enables wanted-episode disambiguation)
	SonarrURL    string `json:"SONARR_URL"`
	SonarrAPIKey string `json:"SONARR_API_KEY"`

	// TheXEM episode mapping
	TheXEMURL string `json:"THEXEM_URL"`

	// AniList metadata
	AniListURL       string `json:"ANILIST_API_URL"`
	AniListRateLimit int    `json:"ANILIST_RATE_LIMIT"`

	// Storage
	DataDir               string `json:"DATA_DIR"`
	AnimeDBURL            string `json:"ANIME_DB_URL"`
	AnimeDBUpdateInterval int    `json:"ANIME_DB_UPDATE_INTERVAL"` // seconds

	// Caching
	CacheTTL        int `json:"CACHE_TTL"`         // seconds
	MappingCacheTTL int `json:"MAPPING_CACHE_TTL"` // seconds

	// Search
	MaxResultsPerQuery  int  `json:"MAX_RESULTS_PER_QUERY"`
	EnableDeduplication bool `json:"ENABLE_DEDUPLICATION"`

	// Logging
	LogLevel string `json:"LOG_LEVEL"`
}

// Load reads configuration from environment variables and an optional JSON
// file. Returns an error if the configuration is invalid.
func Load() (*Config, error) {
	cfg := defaults()

	configFile := getEnvOrDefault("CONFIG_FILE", defaultConfigFile)
	if err := cfg.loadFromFile(configFile); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Host:                  constants.DefaultHost,
		Port:                  constants.DefaultPort,
		NyaaURL:               constants.DefaultNyaaURL,
		TheXEMURL:             constants.DefaultTheXEMURL,
		AniListURL:            constants.DefaultAniListURL,
		AniListRateLimit:      constants.DefaultAniListRateLimit,
		DataDir:               "./data",
		AnimeDBURL:            constants.DefaultAnimeDBURL,
		AnimeDBUpdateInterval: constants.DefaultAnimeDBInterval,
		CacheTTL:              constants.DefaultCacheTTL,
		MappingCacheTTL:       constants.DefaultMappingCacheTTL,
		MaxResultsPerQuery:    constants.DefaultMaxResults,
		EnableDeduplication:   true,
		LogLevel:              constants.DefaultLogLevel,
	}
}

func (c *Config) loadFromEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(dst *bool, key string) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString(&c.APIKey, "API_KEY")
	setString(&c.Host, "HOST")
	setString(&c.Port, "PORT")
	setString(&c.NyaaURL, "NYAA_URL")
	setBool(&c.NyaaEnglishOnly, "NYAA_ENGLISH_ONLY")
	setBool(&c.NyaaTrustedOnly, "NYAA_TRUSTED_ONLY")
	setString(&c.SonarrURL, "SONARR_URL")
	setString(&c.SonarrAPIKey, "SONARR_API_KEY")
	setString(&c.TheXEMURL, "THEXEM_URL")
	setString(&c.AniListURL, "ANILIST_API_URL")
	setInt(&c.AniListRateLimit, "ANILIST_RATE_LIMIT")
	setString(&c.DataDir, "DATA_DIR")
	setString(&c.AnimeDBURL, "ANIME_DB_URL")
	setInt(&c.AnimeDBUpdateInterval, "ANIME_DB_UPDATE_INTERVAL")
	setInt(&c.CacheTTL, "CACHE_TTL")
	setInt(&c.MappingCacheTTL, "MAPPING_CACHE_TTL")
	setInt(&c.MaxResultsPerQuery, "MAX_RESULTS_PER_QUERY")
	setBool(&c.EnableDeduplication, "ENABLE_DEDUPLICATION")
	setString(&c.LogLevel, "LOG_LEVEL")
}

func (c *Config) loadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

// Validate checks required settings and normalizes URLs.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return apperrors.NewConfigurationError("API_KEY must be set", nil)
	}
	if c.NyaaURL == "" {
		return apperrors.NewConfigurationError("NYAA_URL must be set", nil)
	}

	c.NyaaURL = strings.TrimRight(c.NyaaURL, "/")
	c.TheXEMURL = strings.TrimRight(c.TheXEMURL, "/")
	c.SonarrURL = strings.TrimRight(c.SonarrURL, "/")

	if c.MaxResultsPerQuery <= 0 || c.MaxResultsPerQuery > constants.DefaultMaxResults {
		c.MaxResultsPerQuery = constants.DefaultMaxResults
	}
	return nil
}

// SonarrConfigured reports whether the optional Sonarr integration is usable.
func (c *Config) SonarrConfigured() bool {
	return c.SonarrURL != "" && c.SonarrAPIKey != ""
}

// MappingTTL returns the mapping cache TTL as a duration.
func (c *Config) MappingTTL() time.Duration {
	return time.Duration(c.MappingCacheTTL) * time.Second
}

// AnimeDBInterval returns the catalog refresh interval as a duration.
func (c *Config) AnimeDBInterval() time.Duration {
	return time.Duration(c.AnimeDBUpdateInterval) * time.Second
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
