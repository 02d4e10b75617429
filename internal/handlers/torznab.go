// Package handlers implements the Torznab HTTP surface consumed by Sonarr,
// plus a small JSON management API for mapping overrides.
package handlers

import (
	"context"
	"encoding/xml"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/amaumene/nyaarr/internal/config"
	"github.com/amaumene/nyaarr/internal/constants"
	apperrors "github.com/amaumene/nyaarr/internal/errors"
	"github.com/amaumene/nyaarr/internal/models"
	"github.com/amaumene/nyaarr/internal/services"
)

// Handler handles HTTP requests for the Torznab API.
type Handler struct {
	services *services.Container
	config   *config.Config
}

// New creates a new Handler with the provided services and configuration.
func New(services *services.Container, config *config.Config) *Handler {
	return &Handler{
		services: services,
		config:   config,
	}
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.handleHome)
	r.GET("/health", h.handleHealth)

	r.GET("/api", h.handleTorznab)

	r.GET("/api/overrides", h.handleListOverrides)
	r.POST("/api/overrides", h.handleSaveOverride)
	r.GET("/api/overrides/:tvdbid", h.handleGetOverride)
}

func (h *Handler) handleHome(c *gin.Context) {
	c.String(http.StatusOK, "%s %s - Torznab endpoint at /api?t=caps", constants.AppName, constants.AppVersion)
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": constants.AppVersion})
}

// renderXML writes a marshaled document with the XML prolog. gin's c.XML
// omits the prolog, which some Torznab clients reject.
func renderXML(c *gin.Context, status int, v interface{}) {
	data, err := xml.Marshal(v)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(status, "application/xml; charset=utf-8", append([]byte(xml.Header), data...))
}

func (h *Handler) renderEmpty(c *gin.Context) {
	renderXML(c, http.StatusOK, EmptyResponse())
}

func (h *Handler) handleTorznab(c *gin.Context) {
	query := parseQuery(c)

	// Capabilities need no authentication per the Torznab spec.
	if query.Type == "caps" {
		renderXML(c, http.StatusOK, NewCaps())
		return
	}

	if c.Query("apikey") != h.config.APIKey {
		h.services.Logger.Debugf("[torznab] invalid API key attempt")
		c.JSON(http.StatusForbidden, gin.H{"error": apperrors.NewAuthenticationError().Message})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), constants.SearchTimeout)
	defer cancel()

	switch query.Type {
	case "tvsearch":
		h.handleTVSearch(ctx, c, query)
	case "search":
		if query.Q == "" {
			h.services.Logger.Warnf("[torznab] search called without query")
			h.renderEmpty(c)
			return
		}
		h.handleSearch(ctx, c, query, query.HasSeason && query.Season == 0)
	default:
		h.services.Logger.Warnf("[torznab] unknown query type: %s", query.Type)
		c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.NewUnknownQueryTypeError(query.Type).Message})
	}
}

func parseQuery(c *gin.Context) models.TorznabQuery {
	query := models.TorznabQuery{
		Type:   c.Query("t"),
		Q:      c.Query("q"),
		Limit:  constants.DefaultMaxResults,
		Offset: 0,
	}

	if v, err := strconv.Atoi(c.Query("tvdbid")); err == nil {
		query.TvdbID = v
		query.HasTvdbID = true
	}
	if v, err := strconv.Atoi(c.Query("season")); err == nil {
		query.Season = v
		query.HasSeason = true
	}
	if v, err := strconv.Atoi(c.Query("ep")); err == nil {
		query.Ep = v
		query.HasEp = true
	}
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		query.Limit = v
		if query.Limit > constants.DefaultMaxResults {
			query.Limit = constants.DefaultMaxResults
		}
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		query.Offset = v
	}

	return query
}

func (h *Handler) handleTVSearch(ctx context.Context, c *gin.Context, query models.TorznabQuery) {
	if !query.HasTvdbID {
		if query.Q != "" {
			isSpecial := query.HasSeason && query.Season == 0
			h.services.Logger.Infof("[torznab] tvsearch without tvdbid, generic search for %q", query.Q)
			h.handleSearch(ctx, c, query, isSpecial)
			return
		}
		// Sonarr tests new indexers with a bare tvsearch. Answer with a
		// well-known show so the test passes.
		h.services.Logger.Infof("[torznab] tvsearch without tvdbid or query, running indexer-test search")
		query.Q = "Frieren"
		h.handleSearch(ctx, c, query, false)
		return
	}

	mapping, err := h.services.Resolver.Resolve(ctx, query.TvdbID)
	if err != nil {
		h.services.Logger.Errorf("[torznab] mapping resolution failed for tvdb %d: %v", query.TvdbID, err)
		h.renderEmpty(c)
		return
	}
	if mapping == nil {
		h.services.Logger.Warnf("[torznab] no mapping for tvdb %d, returning empty results", query.TvdbID)
		h.renderEmpty(c)
		return
	}

	if !query.HasSeason || !query.HasEp {
		h.services.Logger.Warnf("[torznab] tvsearch without season/ep for tvdb %d", query.TvdbID)
		results, err := h.services.Special.Resolve(ctx, mapping, query.Q)
		if err != nil {
			h.services.Logger.Errorf("[torznab] special search failed for tvdb %d: %v", query.TvdbID, err)
			h.renderEmpty(c)
			return
		}
		meta := &itemMeta{tvdbID: query.TvdbID}
		renderXML(c, http.StatusOK, NewSearchResponse(paginate(results, query.Offset, query.Limit), meta))
		return
	}

	h.services.Logger.Infof("[torznab] tvsearch tvdb %d S%02dE%02d", query.TvdbID, query.Season, query.Ep)

	results, err := h.services.Planner.SearchAnime(ctx, mapping, query.Season, query.Ep)
	if err != nil {
		h.services.Logger.Errorf("[torznab] search failed for tvdb %d: %v", query.TvdbID, err)
		h.renderEmpty(c)
		return
	}

	meta := &itemMeta{
		tvdbID:     query.TvdbID,
		season:     query.Season,
		episode:    query.Ep,
		hasSeason:  true,
		hasEpisode: true,
	}
	renderXML(c, http.StatusOK, NewSearchResponse(paginate(results, query.Offset, query.Limit), meta))
}

func (h *Handler) handleSearch(ctx context.Context, c *gin.Context, query models.TorznabQuery, isSpecial bool) {
	q := query.Q
	h.services.Logger.Infof("[torznab] generic search: %q", q)

	// Sonarr appends "00" to the title for season-zero episode searches.
	if !isSpecial && services.IsSeasonZeroQuery(q) {
		isSpecial = true
		q = services.StripSeasonZeroSuffix(q)
		h.services.Logger.Infof("[torznab] season-zero query detected, stripped to %q", q)
	}

	q = services.ParseConcatenatedQuery(q, h.services.AnimeDB)

	var results []models.SearchResult
	var err error
	if isSpecial {
		results, err = h.services.Planner.SearchGenericSpecial(ctx, q)
	} else {
		results, err = h.services.Planner.SearchGeneric(ctx, q)
	}
	if err != nil {
		h.services.Logger.Errorf("[torznab] generic search failed for %q: %v", q, err)
		h.renderEmpty(c)
		return
	}

	renderXML(c, http.StatusOK, NewSearchResponse(paginate(results, query.Offset, query.Limit), nil))
}

func paginate(results []models.SearchResult, offset, limit int) []models.SearchResult {
	if offset >= len(results) {
		return nil
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end]
}

func (h *Handler) authorized(c *gin.Context) bool {
	key := c.Query("apikey")
	if key == "" {
		key = c.GetHeader("X-Api-Key")
	}
	if key != h.config.APIKey {
		c.JSON(http.StatusForbidden, gin.H{"error": apperrors.NewAuthenticationError().Message})
		return false
	}
	return true
}

func (h *Handler) handleListOverrides(c *gin.Context) {
	if !h.authorized(c) {
		return
	}

	overrides, err := h.services.Resolver.ListOverrides()
	if err != nil {
		h.services.Logger.Errorf("[torznab] failed to list overrides: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list overrides"})
		return
	}
	c.JSON(http.StatusOK, overrides)
}

func (h *Handler) handleGetOverride(c *gin.Context) {
	if !h.authorized(c) {
		return
	}

	tvdbID, err := strconv.Atoi(c.Param("tvdbid"))
	if err != nil || tvdbID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tvdbid"})
		return
	}

	override, err := h.services.Resolver.GetOverride(tvdbID)
	if err != nil {
		h.services.Logger.Errorf("[torznab] failed to read override for tvdb %d: %v", tvdbID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read override"})
		return
	}
	if override == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no override for tvdbid"})
		return
	}
	c.JSON(http.StatusOK, override)
}

func (h *Handler) handleSaveOverride(c *gin.Context) {
	if !h.authorized(c) {
		return
	}

	var override models.MappingOverride
	if err := c.ShouldBindJSON(&override); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid override payload"})
		return
	}
	if override.TvdbID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tvdb_id is required"})
		return
	}

	if err := h.services.Resolver.SaveOverride(&override); err != nil {
		h.services.Logger.Errorf("[torznab] failed to store override for tvdb %d: %v", override.TvdbID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store override"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "tvdb_id": override.TvdbID})
}
