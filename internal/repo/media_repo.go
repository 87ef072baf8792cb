// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Media
// model (the dedup store).
//
// There is exactly one row per source URL. UpsertMedia overwrites the row
// in place on conflict, so the row id stays stable across deliveries and a
// reference-less row can never shadow a later usable one.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-media-gate/internal/domain"
)

// UpsertMedia inserts m or overwrites the existing row for m.URL and returns
// the persisted row.
func UpsertMedia(ctx context.Context, db *gorm.DB, m *domain.Media) (*domain.Media, error) {
	now := time.Now().UTC()
	row := *m
	row.ID = uuid.NewString()
	row.CreatedAt = now
	row.UpdatedAt = now

	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"platform", "artifact_ref", "message_ref", "user_id",
			"title", "duration", "metadata", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, err
	}
	// On conflict the generated id was discarded; read back the stored row.
	return FindMediaByURL(ctx, db, m.URL)
}

// FindMediaByURL is an exact-string lookup, or ErrNotFound.
func FindMediaByURL(ctx context.Context, db *gorm.DB, url string) (*domain.Media, error) {
	var m domain.Media
	if err := db.WithContext(ctx).Where("url = ?", url).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMedia fetches a media row by id, or ErrNotFound.
func GetMedia(ctx context.Context, db *gorm.DB, id string) (*domain.Media, error) {
	var m domain.Media
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMedia returns the number of stored media rows.
func CountMedia(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Media{}).Count(&total).Error
	return total, err
}

// ListMediaPage returns media rows, most recently delivered first.
func ListMediaPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Media, error) {
	var out []domain.Media
	err := db.WithContext(ctx).
		Order("updated_at desc").
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
