package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CacheEntry is an extraction result keyed by the extractor's cache key.
type CacheEntry struct {
	Key  string          `json:"key" binding:"required" example:"yt:dQw4w9WgXcQ"`
	Data json.RawMessage `json:"data" swaggertype:"object"`
}

// GetCached godoc
// @ID          getCached
// @Summary     Read the extraction cache
// @Description Returns a fresh entry. Expired entries are evicted on read and reported as a miss.
// @Tags        Cache
// @Produce     json
// @Param       key  query     string  true  "Cache key"
// @Success     200  {object}  handlers.CacheEntry
// @Failure     400  {object}  handlers.ErrorResponse  "Missing key"
// @Failure     404  {object}  handlers.ErrorResponse  "cache_miss"
// @Router      /cache [get]
func (h *Handlers) GetCached(c *gin.Context) {
	key := c.Query("key")
	if strings.TrimSpace(key) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "key query parameter required")
		return
	}
	data, found := h.d.Cache.Get(c.Request.Context(), key)
	if !found {
		fail(c, http.StatusNotFound, ErrCodeCacheMiss, "no fresh entry for key")
		return
	}
	ok(c, http.StatusOK, CacheEntry{Key: key, Data: data})
}

// PutCached godoc
// @ID          putCached
// @Summary     Write the extraction cache
// @Description Stores data under key, replacing any previous entry and restarting its TTL.
// @Tags        Cache
// @Accept      json
// @Param       body  body  handlers.CacheEntry  true  "Entry"
// @Success     204
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Persistence failed"
// @Router      /cache [put]
func (h *Handlers) PutCached(c *gin.Context) {
	var in CacheEntry
	if err := c.ShouldBindJSON(&in); err != nil || strings.TrimSpace(in.Key) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "key and data required")
		return
	}
	if len(in.Data) == 0 {
		in.Data = json.RawMessage("null")
	}
	if err := h.d.Cache.Set(c.Request.Context(), in.Key, in.Data); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "cache write failed")
		return
	}
	noContent(c)
}
