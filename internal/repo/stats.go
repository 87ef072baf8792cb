// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the aggregate queries behind the admin
// statistics endpoint and the gatectl stats command.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-media-gate/internal/domain"
)

// TopUser is one entry of the most active users list.
type TopUser struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	FirstName      string `json:"first_name"`
	TotalDownloads int64  `json:"total_downloads"`
}

// Stats aggregates user, ban and download counts.
type Stats struct {
	TotalUsers     int64     `json:"total_users"`
	BannedUsers    int64     `json:"banned_users"`
	TotalDownloads int64     `json:"total_downloads"`
	TotalMedia     int64     `json:"total_media"`
	TopUsers       []TopUser `json:"top_users"`
}

// GateStats returns aggregate counts plus the topN users by downloads.
//
// Banned counts reflect stored state; lapsed time-bounded bans that no read
// has cleared yet are still counted.
func GateStats(ctx context.Context, db *gorm.DB, topN int) (Stats, error) {
	var s Stats
	q := db.WithContext(ctx)

	if err := q.Model(&domain.User{}).Count(&s.TotalUsers).Error; err != nil {
		return Stats{}, err
	}
	if err := q.Model(&domain.User{}).Where("banned = ?", true).Count(&s.BannedUsers).Error; err != nil {
		return Stats{}, err
	}
	if err := q.Model(&domain.Download{}).Count(&s.TotalDownloads).Error; err != nil {
		return Stats{}, err
	}
	if err := q.Model(&domain.Media{}).Count(&s.TotalMedia).Error; err != nil {
		return Stats{}, err
	}
	if err := q.Model(&domain.User{}).
		Select("id, username, first_name, total_downloads").
		Where("total_downloads > 0").
		Order("total_downloads desc").
		Order("id").
		Limit(topN).
		Scan(&s.TopUsers).Error; err != nil {
		return Stats{}, err
	}
	if s.TopUsers == nil {
		s.TopUsers = []TopUser{}
	}
	return s, nil
}
