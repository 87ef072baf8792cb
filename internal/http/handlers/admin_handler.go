// Admin HTTP handlers. Everything below /admin except login sits behind the
// bearer-token guard installed by the router.
package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-media-gate/internal/domain"
	"github.com/tbourn/go-media-gate/internal/repo"
	"github.com/tbourn/go-media-gate/internal/utils"
)

const (
	defaultPageSize     = 20
	maxPageSize         = 100
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100

	// manualBanReason is used when an operator bans without giving a reason.
	manualBanReason = "Manual ban by admin"
)

// LoginRequest carries the admin credentials.
type LoginRequest struct {
	Username string `json:"username" binding:"required" example:"admin"`
	Password string `json:"password" binding:"required" example:"hunter2"`
}

// TokenResponse is a freshly issued admin token.
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type" example:"Bearer"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BanRequest is a manual ban. DurationHours nil uses the configured
// duration; 0 is permanent.
type BanRequest struct {
	UserID        string `json:"user_id" binding:"required" example:"123456789"`
	Reason        string `json:"reason,omitempty" example:"spam"`
	DurationHours *int   `json:"duration_hours,omitempty" example:"24"`
}

// UserList is a page of users.
type UserList struct {
	Items      []domain.User `json:"items"`
	Pagination Pagination    `json:"pagination"`
}

// MediaList is a page of dedup records.
type MediaList struct {
	Items      []domain.Media `json:"items"`
	Pagination Pagination     `json:"pagination"`
}

// CacheStats reports the extraction cache size.
type CacheStats struct {
	Entries int `json:"entries"`
}

// StatsResponse combines stored aggregates with the cache size.
type StatsResponse struct {
	repo.Stats
	CacheEntries int `json:"cache_entries"`
}

// Login godoc
// @ID          adminLogin
// @Summary     Admin login
// @Description Exchanges the admin credentials for a bearer token.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.LoginRequest  true  "Credentials"
// @Success     200   {object}  handlers.TokenResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse  "Wrong credentials"
// @Failure     501   {object}  handlers.ErrorResponse  "Admin auth is disabled"
// @Router      /admin/login [post]
func (h *Handlers) Login(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	if h.d.Auth == nil || !h.d.Auth.Enabled() {
		fail(c, http.StatusNotImplemented, ErrCodeAuthDisabled, "admin auth is disabled")
		return
	}
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username and password required")
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.d.Admin.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.d.Admin.Password)) == 1
	if !userOK || !passOK || h.d.Admin.Password == "" {
		log.Warn().Str("username", req.Username).Str("ip", c.ClientIP()).Msg("admin login rejected")
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid credentials")
		return
	}
	tok, exp, err := h.d.Auth.Issue(req.Username)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, TokenResponse{Token: tok, TokenType: "Bearer", ExpiresAt: exp})
}

// BanUser godoc
// @ID          banUser
// @Summary     Ban a user
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.BanRequest  true  "Ban"
// @Success     200   {object}  domain.BanRecord
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     503   {object}  handlers.ErrorResponse  "Ban could not be stored"
// @Router      /admin/bans [post]
func (h *Handlers) BanUser(c *gin.Context) {
	var req BanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id required")
		return
	}
	d := h.d.DefaultBanDuration
	if req.DurationHours != nil {
		if *req.DurationHours < 0 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "duration_hours must be >= 0")
			return
		}
		d = time.Duration(*req.DurationHours) * time.Hour
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = manualBanReason
	}

	rec, err := h.d.Bans.Ban(c.Request.Context(), strings.TrimSpace(req.UserID), reason, d)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// UnbanUser godoc
// @ID          unbanUser
// @Summary     Lift a ban
// @Tags        Admin
// @Security    BearerAuth
// @Param       user_id  path  string  true  "User ID"
// @Success     204
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /admin/bans/{user_id} [delete]
func (h *Handlers) UnbanUser(c *gin.Context) {
	if err := h.d.Bans.Unban(c.Request.Context(), c.Param("user_id")); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// BanStatus godoc
// @ID          banStatus
// @Summary     Ban status
// @Description Current ban state; a lapsed ban is cleared by this read.
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
// @Param       user_id  path      string  true  "User ID"
// @Success     200      {object}  domain.BanRecord
// @Failure     400      {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401      {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /admin/bans/{user_id} [get]
func (h *Handlers) BanStatus(c *gin.Context) {
	rec, err := h.d.Bans.Status(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// ListUsers godoc
// @ID          listUsers
// @Summary     List users
// @Description Most recently active first.
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
// @Param       page       query     int  false  "Page (1-based)"  minimum(1)  default(1)
// @Param       page_size  query     int  false  "Page size"       minimum(1)  maximum(100)  default(20)
// @Success     200        {object}  handlers.UserList
// @Failure     401        {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /admin/users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	page, size := utils.PageParams(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)
	items, total, err := h.d.Users.ListPage(c.Request.Context(), page, size)
	if err != nil {
		failService(c, err)
		return
	}
	if items == nil {
		items = []domain.User{}
	}
	ok(c, http.StatusOK, UserList{Items: items, Pagination: newPagination(page, size, total)})
}

// GetUser godoc
// @ID          getUser
// @Summary     Get a user
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "User ID"
// @Success     200  {object}  domain.User
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /admin/users/{id} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	u, err := h.d.Users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// UserDownloads godoc
// @ID          userDownloads
// @Summary     Download history
// @Description Most recent deliveries to the user, newest first.
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
// @Param       id     path      string  true   "User ID"
// @Param       limit  query     int     false  "Max entries"  minimum(1)  maximum(100)  default(10)
// @Success     200    {array}   repo.DownloadView
// @Failure     400    {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401    {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /admin/users/{id}/downloads [get]
func (h *Handlers) UserDownloads(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), defaultHistoryLimit)
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	items, err := h.d.Media.Downloads(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		failService(c, err)
		return
	}
	if items == nil {
		items = []repo.DownloadView{}
	}
	ok(c, http.StatusOK, items)
}

// ListMedia godoc
// @ID          listMedia
// @Summary     List dedup records
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
// @Param       page       query     int  false  "Page (1-based)"  minimum(1)  default(1)
// @Param       page_size  query     int  false  "Page size"       minimum(1)  maximum(100)  default(20)
// @Success     200        {object}  handlers.MediaList
// @Failure     401        {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /admin/media [get]
func (h *Handlers) ListMedia(c *gin.Context) {
	page, size := utils.PageParams(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)
	items, total, err := h.d.Media.ListPage(c.Request.Context(), page, size)
	if err != nil {
		failService(c, err)
		return
	}
	if items == nil {
		items = []domain.Media{}
	}
	ok(c, http.StatusOK, MediaList{Items: items, Pagination: newPagination(page, size, total)})
}

// Stats godoc
// @ID          stats
// @Summary     Aggregate statistics
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.StatsResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /admin/stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	s, err := h.d.Users.Stats(c.Request.Context())
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, StatsResponse{Stats: s, CacheEntries: h.d.Cache.Len()})
}

// ClearCache godoc
// @ID          clearCache
// @Summary     Drop every extraction cache entry
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.CacheStats  "Entries removed"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Persistence failed"
// @Router      /admin/cache [delete]
func (h *Handlers) ClearCache(c *gin.Context) {
	n := h.d.Cache.Len()
	if err := h.d.Cache.Clear(c.Request.Context()); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "cache clear failed")
		return
	}
	log.Info().Int("entries", n).Msg("extraction cache cleared")
	ok(c, http.StatusOK, CacheStats{Entries: n})
}
