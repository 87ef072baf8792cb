// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model
// and its ban state.
//
// Functions follow the "thin repository" approach: no business logic, only
// persistence and query composition. Ban writes are single-statement upserts
// so they are atomic per row even when several processes share the database.
//
// Functions:
//
//   - TouchUser(ctx, db, id, username, firstName, now) -> *domain.User, error
//     Inserts the user on first sight, refreshes display data and last_used.
//
//   - GetUser(ctx, db, id) -> *domain.User, error
//
//   - ListUsersPage / CountUsers for admin listings.
//
//   - SetBan(ctx, db, id, reason, until, now) -> error
//     Upserts the row with banned=true (until == nil means permanent).
//
//   - ClearBan(ctx, db, id) -> error
//     Clears banned, reason and banned_until unconditionally.
//
//   - ClearExpiredBan(ctx, db, id, now) -> (bool, error)
//     Clears the ban only if it is time-bounded and has lapsed at now.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-media-gate/internal/domain"
)

// TouchUser registers a user or refreshes an existing one. Empty username or
// first name values do not overwrite stored ones.
func TouchUser(ctx context.Context, db *gorm.DB, id, username, firstName string, now time.Time) (*domain.User, error) {
	now = now.UTC()
	u := &domain.User{
		ID:        id,
		Username:  username,
		FirstName: firstName,
		Plan:      "free",
		JoinedAt:  now,
		LastUsed:  now,
		UpdatedAt: now,
	}
	updates := map[string]any{"last_used": now, "updated_at": now}
	if username != "" {
		updates["username"] = username
	}
	if firstName != "" {
		updates["first_name"] = firstName
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(u).Error
	if err != nil {
		return nil, err
	}
	return GetUser(ctx, db, id)
}

// GetUser fetches a user by id, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// CountUsers returns the total number of known users.
func CountUsers(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.User{}).Count(&total).Error
	return total, err
}

// ListUsersPage returns users ordered by most recent activity.
func ListUsersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Order("last_used desc").
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SetBan marks the user banned with reason. A nil until is a permanent ban.
// The row is created when absent so a ban is never a silent no-op.
func SetBan(ctx context.Context, db *gorm.DB, id, reason string, until *time.Time, now time.Time) error {
	now = now.UTC()
	if until != nil {
		u := until.UTC()
		until = &u
	}
	row := &domain.User{
		ID:          id,
		Plan:        "free",
		JoinedAt:    now,
		LastUsed:    now,
		UpdatedAt:   now,
		Banned:      true,
		Reason:      &reason,
		BannedUntil: until,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"banned":       true,
			"reason":       reason,
			"banned_until": until,
			"updated_at":   now,
		}),
	}).Create(row).Error
}

// ClearBan resets the ban fields. Unknown users are a no-op.
func ClearBan(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"banned":       false,
			"reason":       nil,
			"banned_until": nil,
			"updated_at":   time.Now().UTC(),
		}).Error
}

// ClearExpiredBan clears a time-bounded ban that has lapsed at now. The
// condition is evaluated by the database in the same statement, so a
// concurrent re-ban with a later expiry is never clobbered. It reports
// whether a row was cleared.
func ClearExpiredBan(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ? AND banned = ? AND banned_until IS NOT NULL AND banned_until < ?", id, true, now.UTC()).
		Updates(map[string]any{
			"banned":       false,
			"reason":       nil,
			"banned_until": nil,
			"updated_at":   now.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// IncrementDownloads bumps the per-user download counter.
func IncrementDownloads(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		UpdateColumn("total_downloads", gorm.Expr("total_downloads + ?", 1)).Error
}
