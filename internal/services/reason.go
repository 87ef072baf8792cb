package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-media-gate/internal/config"
	"github.com/tbourn/go-media-gate/internal/observability"
)

const (
	// maxReasonRunes caps generated ban reasons.
	maxReasonRunes = 2000
	// reasonTail is how many recent timestamps a generator sees.
	reasonTail = 20
)

// ReasonInput is what a generator knows about a limiter breach.
type ReasonInput struct {
	UserID         string
	Recent         []time.Time // oldest first, at most reasonTail entries
	BurstCount     int
	SustainedCount int
}

// ReasonGenerator produces a human-readable ban justification.
type ReasonGenerator interface {
	Generate(ctx context.Context, in ReasonInput) (string, error)
}

// FallbackReason is the deterministic reason used whenever no generated
// text is available.
func FallbackReason(burst, sustained int) string {
	return fmt.Sprintf("rate_limit: burst=%d, sustained=%d", burst, sustained)
}

// FallbackReasons always returns FallbackReason. It never fails.
type FallbackReasons struct{}

// Generate implements ReasonGenerator.
func (FallbackReasons) Generate(_ context.Context, in ReasonInput) (string, error) {
	return FallbackReason(in.BurstCount, in.SustainedCount), nil
}

// NewReasonGenerator picks the generator once, at startup. Without an API
// key or with generation disabled no remote call is ever attempted.
func NewReasonGenerator(ctx context.Context, cfg config.ReasonConfig) ReasonGenerator {
	if !cfg.Enabled || strings.TrimSpace(cfg.APIKey) == "" {
		log.Info().Msg("ban reason generation: remote disabled, using fallback")
		return FallbackReasons{}
	}
	g, err := NewGeminiReasons(ctx, cfg.APIKey, cfg.Model)
	if err != nil {
		log.Warn().Err(err).Msg("ban reason generation: gemini client unavailable, using fallback")
		return FallbackReasons{}
	}
	log.Info().Str("model", cfg.Model).Msg("ban reason generation: gemini enabled")
	return g
}

// generateReason runs gen under timeout and always returns a usable reason.
// A generator that fails, panics, returns nothing or overruns the timeout
// yields the fallback.
func generateReason(ctx context.Context, gen ReasonGenerator, in ReasonInput, timeout time.Duration) string {
	fallback := FallbackReason(in.BurstCount, in.SustainedCount)
	if gen == nil {
		observability.ReasonOutcomes.WithLabelValues("fallback").Inc()
		return fallback
	}
	if _, ok := gen.(FallbackReasons); ok {
		observability.ReasonOutcomes.WithLabelValues("fallback").Inc()
		return fallback
	}
	if len(in.Recent) > reasonTail {
		in.Recent = in.Recent[len(in.Recent)-reasonTail:]
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("reason generator panic: %v", r)}
			}
		}()
		text, err := gen.Generate(ctx, in)
		ch <- result{text: text, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	text := strings.TrimSpace(res.text)
	if res.err != nil || text == "" {
		if res.err != nil {
			log.Warn().Err(res.err).Str("user_id", in.UserID).Msg("ban reason generation failed")
		}
		observability.ReasonOutcomes.WithLabelValues("fallback").Inc()
		return fallback
	}
	observability.ReasonOutcomes.WithLabelValues("remote").Inc()
	return clipRunes(text, maxReasonRunes)
}

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
