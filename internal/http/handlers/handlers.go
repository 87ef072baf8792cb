// Package handlers exposes the gate over HTTP.
//
// Handlers are transport-thin: they bind and validate input, call the
// services through the contracts below, and translate results into the
// standard envelope (see response.go and errors.go).
package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tbourn/go-media-gate/internal/domain"
	"github.com/tbourn/go-media-gate/internal/repo"
	"github.com/tbourn/go-media-gate/internal/services"
)

//
// Service contracts (context-aware)
//

// Gatekeeper runs the admission flow and the write-through after delivery.
type Gatekeeper interface {
	Admit(ctx context.Context, userID string) error
	Resolve(ctx context.Context, userID, url string) (*domain.Media, error)
	Complete(ctx context.Context, in services.RecordInput) (*domain.Media, error)
	Touch(ctx context.Context, userID, username, firstName string)
}

// MediaCatalog reads the dedup store and the download log.
type MediaCatalog interface {
	Lookup(ctx context.Context, url string) (*domain.Media, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Media, int64, error)
	Downloads(ctx context.Context, userID string, limit int) ([]repo.DownloadView, error)
}

// BanAdmin manages bans by hand.
type BanAdmin interface {
	Ban(ctx context.Context, userID, reason string, d time.Duration) (domain.BanRecord, error)
	Unban(ctx context.Context, userID string) error
	Status(ctx context.Context, userID string) (domain.BanRecord, error)
}

// UserDirectory serves user listings and aggregates.
type UserDirectory interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.User, int64, error)
	Stats(ctx context.Context) (repo.Stats, error)
}

// ResultCache is the ephemeral extraction cache.
type ResultCache interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool)
	Set(ctx context.Context, key string, value any) error
	Clear(ctx context.Context) error
	Len() int
}

// TokenIssuer mints admin tokens.
type TokenIssuer interface {
	Enabled() bool
	Issue(subject string) (string, time.Time, error)
}

// Credentials are the single admin account accepted by Login.
type Credentials struct {
	Username string
	Password string
}

//
// Handler wiring
//

// Deps bundles the services the handlers depend on.
type Deps struct {
	Gate  Gatekeeper
	Media MediaCatalog
	Bans  BanAdmin
	Users UserDirectory
	Cache ResultCache
	Auth  TokenIssuer
	Admin Credentials

	// DefaultBanDuration applies to manual bans that omit duration_hours.
	DefaultBanDuration time.Duration
}

// Handlers groups the public and admin endpoints.
type Handlers struct {
	d Deps
}

// New constructs Handlers bound to deps.
func New(deps Deps) *Handlers {
	return &Handlers{d: deps}
}
