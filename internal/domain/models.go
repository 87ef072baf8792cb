// Package domain defines the persistence models for users (and their ban
// state), delivered media, and per-user download history. These types are
// mapped with GORM and form the durable half of the admission and reuse
// layer.
package domain

import (
	"encoding/json"
	"time"
)

// Download statuses.
const (
	StatusCompleted = "completed" // extracted and delivered fresh
	StatusCached    = "cached"    // served from a previously delivered artifact
)

// User is a known caller of the service. It carries the persisted ban state.
//
// Invariant: Banned == false implies Reason == nil and BannedUntil == nil.
// BannedUntil == nil with Banned == true is a permanent ban.
//
// Fields:
//   - ID: caller identifier as supplied by the chat transport (primary key).
//   - Username / FirstName: display data, refreshed on every touch.
//   - Plan: subscription plan label ("free" unless changed by an operator).
//   - JoinedAt / LastUsed: first and most recent activity.
//   - TotalDownloads: counter bumped on every logged download.
//   - Banned / Reason / BannedUntil: ban state.
type User struct {
	ID             string     `json:"id"              gorm:"type:varchar(64);primaryKey"`
	Username       string     `json:"username"        gorm:"type:varchar(255)"`
	FirstName      string     `json:"first_name"      gorm:"type:varchar(255)"`
	Plan           string     `json:"plan"            gorm:"type:varchar(32);not null;default:'free'"`
	JoinedAt       time.Time  `json:"joined_at"`
	LastUsed       time.Time  `json:"last_used"       gorm:"index"`
	TotalDownloads int64      `json:"total_downloads" gorm:"not null;default:0;index"`
	Banned         bool       `json:"banned"          gorm:"not null;default:false;index"`
	Reason         *string    `json:"reason,omitempty" gorm:"type:text"`
	BannedUntil    *time.Time `json:"banned_until,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// BanRecord projects the ban fields of the user.
func (u User) BanRecord() BanRecord {
	return BanRecord{UserID: u.ID, Banned: u.Banned, Reason: u.Reason, BannedUntil: u.BannedUntil}
}

// BanRecord is the ban state of a single user.
type BanRecord struct {
	UserID      string     `json:"user_id"`
	Banned      bool       `json:"banned"`
	Reason      *string    `json:"reason,omitempty"`
	BannedUntil *time.Time `json:"banned_until,omitempty"`
}

// Permanent reports whether the ban never expires.
func (b BanRecord) Permanent() bool { return b.Banned && b.BannedUntil == nil }

// Expired reports whether a time-bounded ban has lapsed at now.
func (b BanRecord) Expired(now time.Time) bool {
	return b.Banned && b.BannedUntil != nil && now.After(*b.BannedUntil)
}

// Media is a delivered artifact, one row per exact source URL. A later
// successful delivery for the same URL overwrites the row in place.
//
// Fields:
//   - ID: UUID primary key (char(36)), stable across overwrites.
//   - URL: exact source URL, no normalization (unique).
//   - Platform: extractor that produced the artifact ("youtube", "instagram", ...).
//   - ArtifactRef: opaque delivery handle; rows without one are never reused.
//   - MessageRef: optional transport message that carried the artifact.
//   - UserID: the caller whose request produced the artifact.
//   - Title, Duration (seconds), Metadata: descriptive extractor output.
type Media struct {
	ID          string          `json:"id"                    gorm:"type:char(36);primaryKey"`
	URL         string          `json:"url"                   gorm:"type:text;not null;uniqueIndex:ux_media_url"`
	Platform    string          `json:"platform"              gorm:"type:varchar(32);not null;index"`
	ArtifactRef string          `json:"artifact_ref"          gorm:"type:text;not null"`
	MessageRef  string          `json:"message_ref,omitempty" gorm:"type:varchar(64)"`
	UserID      string          `json:"user_id"               gorm:"type:varchar(64);index"`
	Title       string          `json:"title"                 gorm:"type:varchar(512)"`
	Duration    int             `json:"duration"`
	Metadata    json.RawMessage `json:"metadata,omitempty"    gorm:"type:text;serializer:json" swaggertype:"object"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Media.
func (Media) TableName() string { return "media" }

// Usable reports whether the row carries an artifact that can be reused.
func (m Media) Usable() bool { return m.ArtifactRef != "" }

// Download logs a single delivery to a user, fresh or reused.
//
// Media is cascade-deleted with its parent row; the download log itself is
// never pruned by the service.
type Download struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_downloads,priority:1"`
	MediaID   string    `json:"media_id"   gorm:"type:char(36);not null;index"`
	Status    string    `json:"status"     gorm:"type:varchar(16);not null;check:status IN ('completed','cached')"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_user_downloads,priority:2"`

	Media Media `json:"-" gorm:"foreignKey:MediaID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Download.
func (Download) TableName() string { return "downloads" }
