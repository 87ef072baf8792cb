package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-media-gate/internal/domain"
	"github.com/tbourn/go-media-gate/internal/workers"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&domain.User{}, &domain.Media{}, &domain.Download{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingReasons records how often it was asked for a reason.
type countingReasons struct {
	calls atomic.Int32
	last  atomic.Pointer[ReasonInput]
	text  string
}

func (g *countingReasons) Generate(_ context.Context, in ReasonInput) (string, error) {
	g.calls.Add(1)
	g.last.Store(&in)
	return g.text, nil
}

type fixture struct {
	db      *gorm.DB
	pool    *workers.Pool
	clk     *fakeClock
	bans    *BanService
	limiter *ActivityLimiter
	media   *MediaService
	users   *UserService
	gate    *Gate
}

func newFixture(t *testing.T, cfg LimiterConfig, gen ReasonGenerator) *fixture {
	t.Helper()
	db := newSvcDB(t)
	pool := workers.New(4)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })
	clk := newFakeClock()

	bans := NewBanService(db, pool)
	bans.Now = clk.Now
	bans.InitialInterval = time.Millisecond

	lim := NewActivityLimiter(cfg, bans, gen)
	lim.Now = clk.Now

	media := NewMediaService(db, pool)
	media.Now = clk.Now

	users := NewUserService(db, pool)
	users.Now = clk.Now

	return &fixture{
		db: db, pool: pool, clk: clk,
		bans: bans, limiter: lim, media: media, users: users,
		gate: &Gate{Bans: bans, Limiter: lim, Media: media, Users: users},
	}
}

func testLimiterConfig() LimiterConfig {
	cfg := DefaultLimiterConfig()
	cfg.ReasonTimeout = 200 * time.Millisecond
	return cfg
}
