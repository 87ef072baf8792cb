package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-media-gate/internal/repo"
)

func TestBanService_BanThenIsBanned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testLimiterConfig(), nil)

	rec, err := f.bans.Ban(ctx, "u1", "spam links", 24*time.Hour)
	if err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if !rec.Banned || rec.BannedUntil == nil || !rec.BannedUntil.Equal(f.clk.Now().Add(24*time.Hour)) {
		t.Fatalf("unexpected record: %+v", rec)
	}

	banned, err := f.bans.IsBanned(ctx, "u1")
	if err != nil || !banned {
		t.Fatalf("IsBanned = %v, %v; want true", banned, err)
	}
	reason, err := f.bans.GetReason(ctx, "u1")
	if err != nil || reason == nil || *reason != "spam links" {
		t.Fatalf("GetReason = %v, %v", reason, err)
	}
}

func TestBanService_ExpiresLazilyAfterDuration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testLimiterConfig(), nil)

	if _, err := f.bans.Ban(ctx, "u1", "r", 24*time.Hour); err != nil {
		t.Fatalf("Ban: %v", err)
	}

	f.clk.Advance(24 * time.Hour)
	if banned, _ := f.bans.IsBanned(ctx, "u1"); !banned {
		t.Fatalf("ban must hold at exactly banned_until")
	}

	f.clk.Advance(time.Second) // t = 24h + 1s
	banned, err := f.bans.IsBanned(ctx, "u1")
	if err != nil || banned {
		t.Fatalf("IsBanned after expiry = %v, %v; want false", banned, err)
	}

	// The read rewrote the row to the cleared state.
	u, err := repo.GetUser(ctx, f.db, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Banned || u.Reason != nil || u.BannedUntil != nil {
		t.Fatalf("expired ban not cleared in storage: %+v", u)
	}
}

func TestBanService_PermanentNeverExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testLimiterConfig(), nil)

	for _, d := range []time.Duration{0, -time.Hour} {
		if _, err := f.bans.Ban(ctx, "u1", "permanent", d); err != nil {
			t.Fatalf("Ban(%v): %v", d, err)
		}
		f.clk.Advance(10 * 365 * 24 * time.Hour)
		rec, err := f.bans.Status(ctx, "u1")
		if err != nil || !rec.Banned || !rec.Permanent() {
			t.Fatalf("permanent ban lost after duration %v: %+v, %v", d, rec, err)
		}
	}
}

func TestBanService_UnbanClears(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testLimiterConfig(), nil)

	_, _ = f.bans.Ban(ctx, "u1", "r", time.Hour)
	if err := f.bans.Unban(ctx, "u1"); err != nil {
		t.Fatalf("Unban: %v", err)
	}
	rec, err := f.bans.Status(ctx, "u1")
	if err != nil || rec.Banned || rec.Reason != nil || rec.BannedUntil != nil {
		t.Fatalf("unban left state behind: %+v, %v", rec, err)
	}
	// Unbanning an unknown user is harmless.
	if err := f.bans.Unban(ctx, "nobody"); err != nil {
		t.Fatalf("Unban unknown: %v", err)
	}
}

func TestBanService_UnknownUserNotBanned(t *testing.T) {
	f := newFixture(t, testLimiterConfig(), nil)
	rec, err := f.bans.Status(context.Background(), "ghost")
	if err != nil || rec.Banned || rec.UserID != "ghost" {
		t.Fatalf("Status(ghost) = %+v, %v", rec, err)
	}
	reason, err := f.bans.GetReason(context.Background(), "ghost")
	if err != nil || reason != nil {
		t.Fatalf("GetReason(ghost) = %v, %v", reason, err)
	}
}

func TestBanService_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testLimiterConfig(), nil)

	if _, err := f.bans.Ban(ctx, "u1", "   ", time.Hour); !errors.Is(err, ErrEmptyReason) {
		t.Fatalf("empty reason err = %v", err)
	}
	if _, err := f.bans.Ban(ctx, "", "r", time.Hour); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("empty user err = %v", err)
	}
	long := make([]byte, maxUserIDLen+1)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := f.bans.IsBanned(ctx, string(long)); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("oversized user err = %v", err)
	}
}

func TestBanService_WriteFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testLimiterConfig(), nil)

	attempts := 0
	err := f.db.Callback().Create().Before("gorm:create").Register("test:fail_users", func(tx *gorm.DB) {
		if tx.Statement.Table == "users" {
			attempts++
			_ = tx.AddError(errors.New("disk I/O error"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	_, err = f.bans.Ban(ctx, "u1", "r", time.Hour)
	if !errors.Is(err, ErrBanNotPersisted) {
		t.Fatalf("Ban err = %v; want ErrBanNotPersisted", err)
	}
	if attempts != int(f.bans.MaxTries) {
		t.Fatalf("expected %d write attempts, got %d", f.bans.MaxTries, attempts)
	}
}

func TestBanService_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testLimiterConfig(), nil)

	_, _ = f.bans.Ban(ctx, "u1", "first", time.Hour)
	_, _ = f.bans.Ban(ctx, "u1", "second", 0)
	rec, _ := f.bans.Status(ctx, "u1")
	if rec.Reason == nil || *rec.Reason != "second" || !rec.Permanent() {
		t.Fatalf("last write must win: %+v", rec)
	}
}
