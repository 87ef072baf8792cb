// Admission and dedup HTTP handlers.
//
//   - POST /admissions      admit a caller, optionally resolving a URL
//   - GET  /media/lookup    read-only dedup lookup
//   - POST /media           record a completed delivery
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-media-gate/internal/domain"
	"github.com/tbourn/go-media-gate/internal/http/middleware"
	"github.com/tbourn/go-media-gate/internal/services"
)

// AdmissionRequest is the JSON payload for an admission check.
type AdmissionRequest struct {
	UserID    string `json:"user_id" binding:"required" example:"123456789"`
	URL       string `json:"url,omitempty" example:"https://www.instagram.com/reel/Cx1/"`
	Username  string `json:"username,omitempty" example:"alice"`
	FirstName string `json:"first_name,omitempty" example:"Alice"`
}

// AdmissionResponse reports an admitted request. Reuse is set when the URL
// was already delivered and its artifact can be sent again.
type AdmissionResponse struct {
	Allowed bool          `json:"allowed" example:"true"`
	Reuse   *domain.Media `json:"reuse,omitempty"`
}

// RecordResponse reports the outcome of a write-through.
type RecordResponse struct {
	ID     string `json:"id,omitempty" example:"5b0c7d0e-3f3a-4b8e-9a59-0f7a2d3c9e11"`
	Stored bool   `json:"stored" example:"true"`
}

// Admit godoc
// @ID          admit
// @Summary     Admit a request
// @Description Rejects banned users, records activity (which may ban), and when a URL is given looks it up in the dedup store.
// @Tags        Admission
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.AdmissionRequest  true  "Caller and optional URL"
// @Success     200   {object}  handlers.AdmissionResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403   {object}  handlers.ErrorResponse  "Banned; message carries the reason"
// @Failure     503   {object}  handlers.ErrorResponse  "Ban could not be stored"
// @Router      /admissions [post]
func (h *Handlers) Admit(c *gin.Context) {
	var req AdmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id required")
		return
	}
	ctx := c.Request.Context()
	uid := strings.TrimSpace(req.UserID)
	c.Set(middleware.UserIDKey, uid)
	h.d.Gate.Touch(ctx, uid, req.Username, req.FirstName)

	url := strings.TrimSpace(req.URL)
	if url == "" {
		if err := h.d.Gate.Admit(ctx, uid); err != nil {
			h.denied(c, err)
			return
		}
		middleware.SetOutcome(c, "allowed")
		ok(c, http.StatusOK, AdmissionResponse{Allowed: true})
		return
	}

	m, err := h.d.Gate.Resolve(ctx, uid, url)
	switch {
	case err == nil:
		middleware.SetOutcome(c, "hit")
		ok(c, http.StatusOK, AdmissionResponse{Allowed: true, Reuse: m})
	case errors.Is(err, services.ErrDedupMiss):
		middleware.SetOutcome(c, "miss")
		ok(c, http.StatusOK, AdmissionResponse{Allowed: true})
	default:
		h.denied(c, err)
	}
}

func (h *Handlers) denied(c *gin.Context, err error) {
	if errors.Is(err, services.ErrAdmissionDenied) {
		middleware.SetOutcome(c, "banned")
	}
	failService(c, err)
}

// LookupMedia godoc
// @ID          lookupMedia
// @Summary     Dedup lookup
// @Description Returns the reusable record for an exact URL. Does not count as activity.
// @Tags        Media
// @Produce     json
// @Param       url  query     string  true  "Exact source URL"
// @Success     200  {object}  domain.Media
// @Failure     400  {object}  handlers.ErrorResponse  "Missing url"
// @Failure     404  {object}  handlers.ErrorResponse  "dedup_miss"
// @Router      /media/lookup [get]
func (h *Handlers) LookupMedia(c *gin.Context) {
	url := c.Query("url")
	if strings.TrimSpace(url) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "url query parameter required")
		return
	}
	m, err := h.d.Media.Lookup(c.Request.Context(), url)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// RecordMedia godoc
// @ID          recordMedia
// @Summary     Record a delivery
// @Description Writes a completed delivery through to the dedup store. A storage failure is reported as stored=false with 202; the delivery itself already happened.
// @Tags        Media
// @Accept      json
// @Produce     json
// @Param       body  body      services.RecordInput  true  "Delivered artifact"
// @Success     201   {object}  handlers.RecordResponse
// @Success     202   {object}  handlers.RecordResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Router      /media [post]
func (h *Handlers) RecordMedia(c *gin.Context) {
	var in services.RecordInput
	if err := c.ShouldBindJSON(&in); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	m, err := h.d.Gate.Complete(c.Request.Context(), in)
	if err != nil {
		failService(c, err)
		return
	}
	if m == nil {
		ok(c, http.StatusAccepted, RecordResponse{Stored: false})
		return
	}
	ok(c, http.StatusCreated, RecordResponse{ID: m.ID, Stored: true})
}
