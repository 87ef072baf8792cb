// Package services – Gate
//
// Gate is the entry point for every inbound request that references a URL:
//
//  1. a banned caller is rejected with the stored reason;
//  2. otherwise the request is recorded by the limiter, which may ban;
//  3. an admitted request consults the dedup store, and a usable hit is
//     reused instead of extracting again.
//
// After an external delivery, Complete writes the result through to the
// dedup store. Write-through and download-log failures only forfeit future
// reuse; they are logged and never fail the request.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-media-gate/internal/domain"
	"github.com/tbourn/go-media-gate/internal/observability"
)

// Gate composes ban checks, activity limiting and result reuse.
type Gate struct {
	Bans    *BanService
	Limiter *ActivityLimiter
	Media   *MediaService
	Users   *UserService
}

// Admit rejects banned users and records activity for everyone else. It
// returns a *DeniedError (matching ErrAdmissionDenied) when the caller is,
// or has just become, banned.
func (g *Gate) Admit(ctx context.Context, userID string) error {
	ctx, span := otel.Tracer("services/Gate").Start(ctx, "Admit",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	rec, err := g.Bans.Status(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if rec.Banned {
		observability.AdmissionDecisions.WithLabelValues("banned").Inc()
		reason := "banned"
		if rec.Reason != nil && *rec.Reason != "" {
			reason = *rec.Reason
		}
		log.Warn().Str("user_id", userID).Str("reason", reason).Msg("blocked request from banned user")
		return &DeniedError{UserID: userID, Reason: reason, Until: rec.BannedUntil}
	}

	allowed, reason, err := g.Limiter.RecordActivity(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !allowed {
		observability.AdmissionDecisions.WithLabelValues("breach").Inc()
		return &DeniedError{UserID: userID, Reason: reason}
	}
	observability.AdmissionDecisions.WithLabelValues("allowed").Inc()
	return nil
}

// Resolve admits userID and looks url up in the dedup store. It returns the
// reusable record on a hit, ErrDedupMiss when the caller should extract, or
// the admission error. A hit is logged as a cached download for userID.
func (g *Gate) Resolve(ctx context.Context, userID, url string) (*domain.Media, error) {
	ctx, span := otel.Tracer("services/Gate").Start(ctx, "Resolve",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("media.url", url),
		),
	)
	defer span.End()

	if err := g.Admit(ctx, userID); err != nil {
		return nil, err
	}

	m, err := g.Media.Lookup(ctx, url)
	if err != nil {
		if !errors.Is(err, ErrDedupMiss) && !errors.Is(err, ErrInvalidURL) {
			// Storage trouble degrades to "process without reuse".
			log.Warn().Err(err).Str("user_id", userID).Str("url", url).Msg("dedup lookup failed")
			return nil, ErrDedupMiss
		}
		return nil, err
	}

	if err := g.Media.LogDownload(ctx, userID, m.ID, domain.StatusCached); err != nil {
		observability.StoreWritesFailed.WithLabelValues("downloads").Inc()
		log.Warn().Err(err).Str("user_id", userID).Str("media_id", m.ID).Msg("log cached download")
	}
	return m, nil
}

// Complete records a finished delivery. Validation errors are returned;
// storage failures are logged and reported as (nil, nil) so the caller's
// already-delivered response is unaffected.
func (g *Gate) Complete(ctx context.Context, in RecordInput) (*domain.Media, error) {
	ctx, span := otel.Tracer("services/Gate").Start(ctx, "Complete",
		trace.WithAttributes(
			attribute.String("media.url", in.URL),
			attribute.String("media.platform", in.Platform),
		),
	)
	defer span.End()

	m, err := g.Media.Record(ctx, in)
	switch {
	case errors.Is(err, ErrInvalidURL), errors.Is(err, ErrMissingArtifact), errors.Is(err, ErrInvalidUserID):
		return nil, err
	case err != nil:
		span.RecordError(err)
		observability.StoreWritesFailed.WithLabelValues("dedup").Inc()
		log.Warn().Err(err).Str("url", in.URL).Str("platform", in.Platform).Msg("dedup write-through failed")
		return nil, nil
	}

	if in.UserID != "" {
		if err := g.Media.LogDownload(ctx, in.UserID, m.ID, domain.StatusCompleted); err != nil {
			observability.StoreWritesFailed.WithLabelValues("downloads").Inc()
			log.Warn().Err(err).Str("user_id", in.UserID).Str("media_id", m.ID).Msg("log download")
		}
	}
	return m, nil
}

// Touch registers or refreshes the caller. Failures are logged only.
func (g *Gate) Touch(ctx context.Context, userID, username, firstName string) {
	if g.Users == nil {
		return
	}
	if _, err := g.Users.Touch(ctx, userID, username, firstName); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("touch user")
	}
}
