package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-media-gate/internal/domain"
)

// DownloadView is a download joined with the media it delivered.
type DownloadView struct {
	ID        string    `json:"id"`
	MediaID   string    `json:"media_id"`
	URL       string    `json:"url"`
	Platform  string    `json:"platform"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// LogDownload records a delivery of mediaID to userID and bumps the user's
// download counter in the same transaction.
func LogDownload(ctx context.Context, db *gorm.DB, userID, mediaID, status string, now time.Time) (*domain.Download, error) {
	d := &domain.Download{
		ID:        uuid.NewString(),
		UserID:    userID,
		MediaID:   mediaID,
		Status:    status,
		CreatedAt: now.UTC(),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(d).Error; err != nil {
			return err
		}
		return IncrementDownloads(ctx, tx, userID)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDownloads returns the latest downloads of userID, newest first.
func ListDownloads(ctx context.Context, db *gorm.DB, userID string, limit int) ([]DownloadView, error) {
	var out []DownloadView
	err := db.WithContext(ctx).
		Table("downloads AS d").
		Select("d.id, d.media_id, m.url, m.platform, m.title, d.status, d.created_at").
		Joins("JOIN media AS m ON m.id = d.media_id").
		Where("d.user_id = ?", userID).
		Order("d.created_at desc").
		Limit(limit).
		Scan(&out).Error
	return out, err
}
