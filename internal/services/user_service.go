package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-media-gate/internal/domain"
	"github.com/tbourn/go-media-gate/internal/repo"
	"github.com/tbourn/go-media-gate/internal/workers"
)

// topUsers is the size of the most-active list in Stats.
const topUsers = 5

// UserService registers callers and serves the admin user views.
type UserService struct {
	DB   *gorm.DB
	Pool *workers.Pool
	Now  func() time.Time
}

// NewUserService returns a UserService on the wall clock.
func NewUserService(db *gorm.DB, pool *workers.Pool) *UserService {
	return &UserService{DB: db, Pool: pool, Now: time.Now}
}

// Touch registers userID or refreshes its display data and last_used.
func (s *UserService) Touch(ctx context.Context, userID, username, firstName string) (*domain.User, error) {
	if err := validUserID(userID); err != nil {
		return nil, err
	}
	var u *domain.User
	err := s.Pool.Do(ctx, func(work context.Context) error {
		var err error
		u, err = repo.TouchUser(work, s.DB, userID, username, firstName, s.Now())
		return err
	})
	return u, err
}

// Get returns a user, or ErrUserNotFound.
func (s *UserService) Get(ctx context.Context, userID string) (*domain.User, error) {
	if err := validUserID(userID); err != nil {
		return nil, err
	}
	u, err := repo.GetUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// ListPage returns a page of users by most recent activity and the total.
func (s *UserService) ListPage(ctx context.Context, page, pageSize int) ([]domain.User, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountUsers(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.User{}, 0, nil
	}
	items, err := repo.ListUsersPage(ctx, s.DB, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Stats returns user, ban and download aggregates.
func (s *UserService) Stats(ctx context.Context) (repo.Stats, error) {
	return repo.GateStats(ctx, s.DB, topUsers)
}
