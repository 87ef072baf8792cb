// Package services – MediaService
//
// MediaService is the dedup store: a permanent mapping from an exact source
// URL to the artifact that was delivered for it. One row exists per URL and
// each successful delivery overwrites it, so a record lacking an artifact
// reference can never shadow a usable one. Lookups that find a row without
// a reference still report ErrDedupMiss.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-media-gate/internal/domain"
	"github.com/tbourn/go-media-gate/internal/observability"
	"github.com/tbourn/go-media-gate/internal/repo"
	"github.com/tbourn/go-media-gate/internal/workers"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// RecordInput describes a completed delivery.
type RecordInput struct {
	URL         string          `json:"url"`
	Platform    string          `json:"platform"`
	ArtifactRef string          `json:"artifact_ref"`
	MessageRef  string          `json:"message_ref,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	Title       string          `json:"title,omitempty"`
	Duration    int             `json:"duration,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty" swaggertype:"object"`
}

// MediaService persists and resolves delivered media.
type MediaService struct {
	DB   *gorm.DB
	Pool *workers.Pool

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int

	Now func() time.Time
}

// NewMediaService returns a MediaService with a 255-rune title cap.
func NewMediaService(db *gorm.DB, pool *workers.Pool) *MediaService {
	return &MediaService{DB: db, Pool: pool, TitleMaxLen: 255, Now: time.Now}
}

// FindByURL returns the row stored for url (exact match), or ErrDedupMiss.
// The row may lack an artifact reference; use Lookup to get only usable rows.
func (s *MediaService) FindByURL(ctx context.Context, url string) (*domain.Media, error) {
	if strings.TrimSpace(url) == "" {
		return nil, ErrInvalidURL
	}
	var m *domain.Media
	err := s.Pool.Do(ctx, func(work context.Context) error {
		var err error
		m, err = repo.FindMediaByURL(work, s.DB, url)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrDedupMiss
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Lookup returns a reusable record for url, or ErrDedupMiss.
func (s *MediaService) Lookup(ctx context.Context, url string) (*domain.Media, error) {
	ctx, span := otel.Tracer("services/MediaService").Start(ctx, "Lookup",
		trace.WithAttributes(attribute.String("media.url", url)),
	)
	defer span.End()

	m, err := s.FindByURL(ctx, url)
	if err == nil && !m.Usable() {
		err = ErrDedupMiss
	}
	switch {
	case errors.Is(err, ErrDedupMiss):
		observability.Lookups.WithLabelValues("dedup", "miss").Inc()
		return nil, ErrDedupMiss
	case err != nil:
		span.RecordError(err)
		return nil, err
	}
	observability.Lookups.WithLabelValues("dedup", "hit").Inc()
	span.SetAttributes(attribute.String("media.id", m.ID))
	return m, nil
}

// Record stores (or overwrites) the delivery for in.URL and returns the row.
func (s *MediaService) Record(ctx context.Context, in RecordInput) (*domain.Media, error) {
	ctx, span := otel.Tracer("services/MediaService").Start(ctx, "Record",
		trace.WithAttributes(
			attribute.String("media.url", in.URL),
			attribute.String("media.platform", in.Platform),
		),
	)
	defer span.End()

	if strings.TrimSpace(in.URL) == "" {
		return nil, ErrInvalidURL
	}
	if strings.TrimSpace(in.ArtifactRef) == "" {
		return nil, ErrMissingArtifact
	}
	if in.UserID != "" {
		if err := validUserID(in.UserID); err != nil {
			return nil, err
		}
	}
	if len(in.Metadata) > 0 && !json.Valid(in.Metadata) {
		in.Metadata = nil
	}

	row := &domain.Media{
		URL:         in.URL,
		Platform:    strings.ToLower(strings.TrimSpace(in.Platform)),
		ArtifactRef: strings.TrimSpace(in.ArtifactRef),
		MessageRef:  in.MessageRef,
		UserID:      in.UserID,
		Title:       s.clip(normalizeTitle(in.Title)),
		Duration:    max(in.Duration, 0),
		Metadata:    in.Metadata,
	}
	if row.Platform == "" {
		row.Platform = "unknown"
	}

	var out *domain.Media
	err := s.Pool.Do(ctx, func(work context.Context) error {
		var err error
		out, err = repo.UpsertMedia(work, s.DB, row)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

// LogDownload appends to userID's download history.
func (s *MediaService) LogDownload(ctx context.Context, userID, mediaID, status string) error {
	if err := validUserID(userID); err != nil {
		return err
	}
	return s.Pool.Do(ctx, func(work context.Context) error {
		_, err := repo.LogDownload(work, s.DB, userID, mediaID, status, s.Now())
		return err
	})
}

// Downloads returns the latest downloads of userID (limit defaults to 10).
func (s *MediaService) Downloads(ctx context.Context, userID string, limit int) ([]repo.DownloadView, error) {
	if err := validUserID(userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	out, err := repo.ListDownloads(ctx, s.DB, userID, limit)
	if out == nil && err == nil {
		out = []repo.DownloadView{}
	}
	return out, err
}

// ListPage returns a page of stored media, newest first, and the total.
func (s *MediaService) ListPage(ctx context.Context, page, pageSize int) ([]domain.Media, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountMedia(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Media{}, 0, nil
	}
	items, err := repo.ListMediaPage(ctx, s.DB, (page-1)*pageSize, pageSize)
	return items, total, err
}

// clip truncates a title to the configured maximum rune length.
func (s *MediaService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return strings.TrimSpace(string([]rune(title)[:s.TitleMaxLen]))
	}
	return title
}

// normalizeTitle applies NFC, trims, and collapses runs of whitespace.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(norm.NFC.String(s)), " ")
}
