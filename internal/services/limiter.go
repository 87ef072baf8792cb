// Package services – ActivityLimiter
//
// ActivityLimiter keeps an in-memory sliding window of request times per
// user and bans users who exceed either of two thresholds:
//
//   - burst:     BurstLimit events within BurstWindow
//   - sustained: SustainedLimit events within SustainedWindow
//
// Each user's append → prune → count → ban sequence runs under that user's
// own lock, so concurrent requests from one user are linearized while
// different users proceed in parallel. Windows are never persisted; a
// restart starts everyone from an empty window.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-media-gate/internal/config"
)

// gcEvery is how many window lookups pass between idle-window sweeps.
const gcEvery = 5000

// LimiterConfig holds the thresholds and ban policy.
type LimiterConfig struct {
	BurstLimit      int
	BurstWindow     time.Duration
	SustainedLimit  int
	SustainedWindow time.Duration
	BanDuration     time.Duration // <= 0 bans permanently
	ReasonTimeout   time.Duration
}

// LimiterConfigFrom maps application config onto LimiterConfig.
func LimiterConfigFrom(a config.AdmissionConfig, r config.ReasonConfig) LimiterConfig {
	return LimiterConfig{
		BurstLimit:      a.BurstLimit,
		BurstWindow:     a.BurstWindow,
		SustainedLimit:  a.SustainedLimit,
		SustainedWindow: a.SustainedWindow,
		BanDuration:     a.BanDuration,
		ReasonTimeout:   r.Timeout,
	}
}

// DefaultLimiterConfig returns 5/10s burst, 80/60s sustained, 24h bans.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		BurstLimit:      5,
		BurstWindow:     10 * time.Second,
		SustainedLimit:  80,
		SustainedWindow: 60 * time.Second,
		BanDuration:     24 * time.Hour,
		ReasonTimeout:   5 * time.Second,
	}
}

// window is one user's event history, oldest first.
type window struct {
	mu     sync.Mutex
	events []time.Time
	dead   bool // set by gc; holders must look the window up again
}

// ActivityLimiter records activity and triggers bans.
type ActivityLimiter struct {
	cfg     LimiterConfig
	bans    *BanService
	reasons ReasonGenerator

	// Now is the clock; tests replace it.
	Now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
	lookups int
}

// NewActivityLimiter builds a limiter persisting bans through bans and
// explaining them with reasons.
func NewActivityLimiter(cfg LimiterConfig, bans *BanService, reasons ReasonGenerator) *ActivityLimiter {
	if reasons == nil {
		reasons = FallbackReasons{}
	}
	if cfg.ReasonTimeout <= 0 {
		cfg.ReasonTimeout = 5 * time.Second
	}
	return &ActivityLimiter{
		cfg:     cfg,
		bans:    bans,
		reasons: reasons,
		Now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Config returns the active thresholds.
func (l *ActivityLimiter) Config() LimiterConfig { return l.cfg }

// RecordActivity appends now to userID's window and evaluates both
// thresholds. On a breach the user is banned (unless already banned, in
// which case the existing ban is left untouched) and (false, reason, nil)
// is returned. A ban that cannot be persisted returns an error wrapping
// ErrBanNotPersisted.
func (l *ActivityLimiter) RecordActivity(ctx context.Context, userID string) (bool, string, error) {
	ctx, span := otel.Tracer("services/ActivityLimiter").Start(ctx, "RecordActivity",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if err := validUserID(userID); err != nil {
		return false, "", err
	}

	w := l.lock(userID)
	defer w.mu.Unlock()

	now := l.Now()
	w.events = append(w.events, now)
	w.events = prune(w.events, now.Add(-l.maxWindow()))

	burst := countSince(w.events, now.Add(-l.cfg.BurstWindow))
	sustained := countSince(w.events, now.Add(-l.cfg.SustainedWindow))
	span.SetAttributes(
		attribute.Int("limiter.burst_count", burst),
		attribute.Int("limiter.sustained_count", sustained),
	)

	if burst < l.cfg.BurstLimit && sustained < l.cfg.SustainedLimit {
		return true, "", nil
	}

	// Breach. A user who is already banned keeps the existing ban.
	rec, err := l.bans.Status(ctx, userID)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("user_id", userID).
			Int("burst_count", burst).Int("sustained_count", sustained).
			Msg("ban state read failed; breach not acted on")
		return false, "", err
	}
	if rec.Banned {
		reason := "banned"
		if rec.Reason != nil && *rec.Reason != "" {
			reason = *rec.Reason
		}
		return false, reason, nil
	}

	reason := generateReason(ctx, l.reasons, ReasonInput{
		UserID:         userID,
		Recent:         append([]time.Time(nil), w.events...),
		BurstCount:     burst,
		SustainedCount: sustained,
	}, l.cfg.ReasonTimeout)

	if _, err := l.bans.ban(ctx, userID, reason, l.cfg.BanDuration, banSourceAuto); err != nil {
		span.RecordError(err)
		return false, reason, err
	}
	log.Warn().
		Str("user_id", userID).
		Int("burst", burst).
		Int("sustained", sustained).
		Str("reason", reason).
		Msg("auto-banned")
	return false, reason, nil
}

// Tracked returns the number of users with a live window.
func (l *ActivityLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// lock returns userID's window with its mutex held.
func (l *ActivityLimiter) lock(userID string) *window {
	for {
		l.mu.Lock()
		l.lookups++
		if l.lookups%gcEvery == 0 {
			l.gcLocked(l.Now())
		}
		w, ok := l.windows[userID]
		if !ok {
			w = &window{}
			l.windows[userID] = w
		}
		l.mu.Unlock()

		w.mu.Lock()
		if !w.dead {
			return w
		}
		// Reclaimed between lookup and lock; a fresh window is in the map
		// (or will be created) on the next iteration.
		w.mu.Unlock()
	}
}

// gcLocked drops windows whose newest event is older than the largest
// window. Busy windows are skipped rather than waited on.
func (l *ActivityLimiter) gcLocked(now time.Time) {
	cutoff := now.Add(-l.maxWindow())
	for id, w := range l.windows {
		if !w.mu.TryLock() {
			continue
		}
		if n := len(w.events); n == 0 || w.events[n-1].Before(cutoff) {
			w.dead = true
			delete(l.windows, id)
		}
		w.mu.Unlock()
	}
}

func (l *ActivityLimiter) maxWindow() time.Duration {
	return max(l.cfg.BurstWindow, l.cfg.SustainedWindow)
}

// prune drops events before cutoff. events is sorted oldest first.
func prune(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && events[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0], events[i:]...)
}

// countSince counts events at or after cutoff.
func countSince(events []time.Time, cutoff time.Time) int {
	n := 0
	for i := len(events) - 1; i >= 0 && !events[i].Before(cutoff); i-- {
		n++
	}
	return n
}
