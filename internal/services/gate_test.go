package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-media-gate/internal/domain"
	"github.com/tbourn/go-media-gate/internal/repo"
)

func TestGate_MissThenCompleteThenHit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testLimiterConfig(), nil)
	url := "https://www.youtube.com/shorts/xyz"

	if _, err := f.gate.Resolve(ctx, "u1", url); !errors.Is(err, ErrDedupMiss) {
		t.Fatalf("first Resolve = %v; want ErrDedupMiss", err)
	}

	m, err := f.gate.Complete(ctx, RecordInput{URL: url, Platform: "youtube", ArtifactRef: "file-1", UserID: "u1"})
	if err != nil || m == nil {
		t.Fatalf("Complete = %v, %v", m, err)
	}

	f.clk.Advance(time.Minute)
	hit, err := f.gate.Resolve(ctx, "u2", url)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if hit.ArtifactRef != "file-1" {
		t.Fatalf("hit = %+v", hit)
	}

	d1, _ := repo.ListDownloads(ctx, f.db, "u1", 10)
	d2, _ := repo.ListDownloads(ctx, f.db, "u2", 10)
	if len(d1) != 1 || d1[0].Status != domain.StatusCompleted {
		t.Fatalf("u1 downloads = %+v", d1)
	}
	if len(d2) != 1 || d2[0].Status != domain.StatusCached {
		t.Fatalf("u2 downloads = %+v", d2)
	}
}

func TestGate_BannedUserIsDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testLimiterConfig(), nil)

	if _, err := f.bans.Ban(ctx, "u1", "abuse", time.Hour); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	_, err := f.gate.Resolve(ctx, "u1", "https://a/1")
	if !errors.Is(err, ErrAdmissionDenied) {
		t.Fatalf("Resolve = %v; want ErrAdmissionDenied", err)
	}
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Reason != "abuse" || denied.Until == nil {
		t.Fatalf("denied = %+v", denied)
	}

	// A denied request is not counted as activity.
	if f.limiter.Tracked() != 0 {
		t.Fatalf("banned requests must not reach the limiter")
	}

	f.clk.Advance(time.Hour + time.Second)
	if err := f.gate.Admit(ctx, "u1"); err != nil {
		t.Fatalf("Admit after expiry = %v", err)
	}
}

func TestGate_CompleteValidationErrors(t *testing.T) {
	f := newFixture(t, testLimiterConfig(), nil)
	if _, err := f.gate.Complete(context.Background(), RecordInput{URL: "https://a/1"}); !errors.Is(err, ErrMissingArtifact) {
		t.Fatalf("Complete = %v; want ErrMissingArtifact", err)
	}
}

func TestGate_CompleteStorageFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, testLimiterConfig(), nil)
	_ = f.db.Callback().Create().Before("gorm:create").Register("test:fail_media", func(tx *gorm.DB) {
		if tx.Statement.Table == "media" {
			_ = tx.AddError(errors.New("disk full"))
		}
	})

	m, err := f.gate.Complete(context.Background(), RecordInput{URL: "https://a/1", ArtifactRef: "f"})
	if err != nil || m != nil {
		t.Fatalf("Complete = %v, %v; want nil, nil", m, err)
	}
}

func TestGate_DownloadLogFailureStillHits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testLimiterConfig(), nil)
	url := "https://a/1"
	_, _ = f.media.Record(ctx, RecordInput{URL: url, ArtifactRef: "f"})

	_ = f.db.Callback().Create().Before("gorm:create").Register("test:fail_downloads", func(tx *gorm.DB) {
		if tx.Statement.Table == "downloads" {
			_ = tx.AddError(errors.New("readonly database"))
		}
	})
	if m, err := f.gate.Resolve(ctx, "u1", url); err != nil || m == nil {
		t.Fatalf("Resolve = %v, %v; a lost download log must not fail the hit", m, err)
	}
}

func TestGate_TouchRegistersUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testLimiterConfig(), nil)

	f.gate.Touch(ctx, "u1", "alice", "Alice")
	f.clk.Advance(time.Minute)
	f.gate.Touch(ctx, "u1", "", "")

	u, err := f.users.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if u.Username != "alice" || u.FirstName != "Alice" || !u.LastUsed.Equal(f.clk.Now()) {
		t.Fatalf("user = %+v", u)
	}
	if _, err := f.users.Get(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("Get(ghost) = %v", err)
	}
}

func TestUserService_ListAndStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testLimiterConfig(), nil)

	for _, id := range []string{"a", "b", "c"} {
		_, _ = f.users.Touch(ctx, id, id, "")
		f.clk.Advance(time.Second)
	}
	_, _ = f.bans.Ban(ctx, "b", "r", 0)

	items, total, err := f.users.ListPage(ctx, 1, 2)
	if err != nil || total != 3 || len(items) != 2 || items[0].ID != "c" {
		t.Fatalf("ListPage = %+v, %d, %v", items, total, err)
	}

	st, err := f.users.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalUsers != 3 || st.BannedUsers != 1 {
		t.Fatalf("stats = %+v", st)
	}
}
