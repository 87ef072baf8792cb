// Package services – BanService
//
// BanService owns the persisted ban state. Every storage round trip runs on
// the bounded worker pool; a ban write is retried with exponential backoff
// and, once submitted, completes even if the caller stops waiting.
//
// Expiry is lazy: the read that finds a lapsed time-bounded ban clears it
// and reports the user as not banned. There is no background sweeper.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-media-gate/internal/domain"
	"github.com/tbourn/go-media-gate/internal/observability"
	"github.com/tbourn/go-media-gate/internal/repo"
	"github.com/tbourn/go-media-gate/internal/workers"
)

const (
	banSourceAuto  = "auto"
	banSourceAdmin = "admin"

	maxUserIDLen = 64
)

// BanService persists and evaluates bans.
type BanService struct {
	DB   *gorm.DB
	Pool *workers.Pool

	// Now is the clock used for banned_until and expiry checks.
	Now func() time.Time

	// Ban write retry policy.
	MaxTries        uint
	InitialInterval time.Duration
}

// NewBanService returns a BanService with three write attempts.
func NewBanService(db *gorm.DB, pool *workers.Pool) *BanService {
	return &BanService{
		DB:              db,
		Pool:            pool,
		Now:             time.Now,
		MaxTries:        3,
		InitialInterval: 50 * time.Millisecond,
	}
}

// Ban marks userID banned with reason. A duration <= 0 is a permanent ban.
// It returns the persisted record, or an error wrapping ErrBanNotPersisted
// when every write attempt failed.
func (s *BanService) Ban(ctx context.Context, userID, reason string, d time.Duration) (domain.BanRecord, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.BanRecord{}, ErrEmptyReason
	}
	return s.ban(ctx, userID, reason, d, banSourceAdmin)
}

func (s *BanService) ban(ctx context.Context, userID, reason string, d time.Duration, source string) (domain.BanRecord, error) {
	ctx, span := otel.Tracer("services/BanService").Start(ctx, "Ban",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("ban.source", source),
		),
	)
	defer span.End()

	if err := validUserID(userID); err != nil {
		return domain.BanRecord{}, err
	}

	now := s.Now().UTC()
	var until *time.Time
	if d > 0 {
		u := now.Add(d)
		until = &u
	}

	err := s.Pool.Do(ctx, func(work context.Context) error {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = s.InitialInterval
		_, err := backoff.Retry(work, func() (struct{}, error) {
			return struct{}{}, repo.SetBan(work, s.DB, userID, reason, until, now)
		}, backoff.WithBackOff(b), backoff.WithMaxTries(s.MaxTries))
		return err
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The write is still running on the pool.
			return domain.BanRecord{}, err
		}
		log.Error().Err(err).Str("user_id", userID).Msg("ban write failed")
		return domain.BanRecord{}, fmt.Errorf("%w: %w", ErrBanNotPersisted, err)
	}

	observability.BansIssued.WithLabelValues(source).Inc()
	r := reason
	return domain.BanRecord{UserID: userID, Banned: true, Reason: &r, BannedUntil: until}, nil
}

// Unban clears the ban state unconditionally.
func (s *BanService) Unban(ctx context.Context, userID string) error {
	if err := validUserID(userID); err != nil {
		return err
	}
	return s.Pool.Do(ctx, func(work context.Context) error {
		return repo.ClearBan(work, s.DB, userID)
	})
}

// Status returns the current ban record of userID, applying lazy expiry.
// Unknown users have a cleared record.
func (s *BanService) Status(ctx context.Context, userID string) (domain.BanRecord, error) {
	if err := validUserID(userID); err != nil {
		return domain.BanRecord{}, err
	}

	var u *domain.User
	err := s.Pool.Do(ctx, func(work context.Context) error {
		var err error
		u, err = repo.GetUser(work, s.DB, userID)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return domain.BanRecord{UserID: userID}, nil
	}
	if err != nil {
		return domain.BanRecord{}, err
	}

	rec := u.BanRecord()
	now := s.Now()
	if !rec.Expired(now) {
		return rec, nil
	}

	var cleared bool
	err = s.Pool.Do(ctx, func(work context.Context) error {
		var err error
		cleared, err = repo.ClearExpiredBan(work, s.DB, userID, now)
		return err
	})
	if err != nil {
		// The ban has lapsed regardless; the next read retries the rewrite.
		log.Warn().Err(err).Str("user_id", userID).Msg("clear expired ban")
	}
	if cleared {
		observability.BanExpiries.Inc()
		log.Info().Str("user_id", userID).Msg("ban expired")
	}
	return domain.BanRecord{UserID: userID}, nil
}

// IsBanned reports whether userID is currently banned.
func (s *BanService) IsBanned(ctx context.Context, userID string) (bool, error) {
	rec, err := s.Status(ctx, userID)
	if err != nil {
		return false, err
	}
	return rec.Banned, nil
}

// GetReason returns the stored ban reason, or nil when not banned.
func (s *BanService) GetReason(ctx context.Context, userID string) (*string, error) {
	rec, err := s.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rec.Reason, nil
}

func validUserID(id string) error {
	if strings.TrimSpace(id) == "" || len(id) > maxUserIDLen {
		return ErrInvalidUserID
	}
	return nil
}
