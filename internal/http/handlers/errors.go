// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them. Generic
// codes mirror HTTP status semantics, domain codes name admission and reuse
// outcomes that the status alone cannot convey.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "banned",
//	  "message": "Sent 14 links in 6 seconds."
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-media-gate/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeBanned          = "banned"
	ErrCodeBanNotPersisted = "ban_not_persisted"
	ErrCodeDedupMiss       = "dedup_miss"
	ErrCodeCacheMiss       = "cache_miss"
	ErrCodeAuthDisabled    = "auth_disabled"
)

// failService maps a service error onto the envelope. Unknown errors are 500s.
func failService(c *gin.Context, err error) {
	var denied *services.DeniedError
	switch {
	case errors.As(err, &denied):
		fail(c, http.StatusForbidden, ErrCodeBanned, denied.Reason)
	case errors.Is(err, services.ErrBanNotPersisted):
		fail(c, http.StatusServiceUnavailable, ErrCodeBanNotPersisted, "ban decision could not be stored")
	case errors.Is(err, services.ErrDedupMiss):
		fail(c, http.StatusNotFound, ErrCodeDedupMiss, "no reusable artifact for url")
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
	case errors.Is(err, services.ErrInvalidUserID),
		errors.Is(err, services.ErrInvalidURL),
		errors.Is(err, services.ErrMissingArtifact),
		errors.Is(err, services.ErrEmptyReason):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
