package repo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-media-gate/internal/domain"
)

func TestUpsertMedia_InsertThenOverwriteKeepsID(t *testing.T) {
	ctx := context.Background()
	db := newGateDB(t)

	first, err := UpsertMedia(ctx, db, &domain.Media{
		URL: "https://youtu.be/abc", Platform: "youtube", ArtifactRef: "file-1", Title: "one",
		Metadata: json.RawMessage(`{"q":"360p"}`),
	})
	if err != nil {
		t.Fatalf("UpsertMedia: %v", err)
	}
	if first.ID == "" || first.ArtifactRef != "file-1" {
		t.Fatalf("unexpected first row: %+v", first)
	}

	second, err := UpsertMedia(ctx, db, &domain.Media{
		URL: "https://youtu.be/abc", Platform: "youtube", ArtifactRef: "file-2", Title: "two", Duration: 42,
	})
	if err != nil {
		t.Fatalf("UpsertMedia overwrite: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("id must stay stable across overwrites: %s vs %s", first.ID, second.ID)
	}
	if second.ArtifactRef != "file-2" || second.Title != "two" || second.Duration != 42 {
		t.Fatalf("row not overwritten: %+v", second)
	}
	if n, _ := CountMedia(ctx, db); n != 1 {
		t.Fatalf("expected exactly one row per url, got %d", n)
	}
}

func TestFindMediaByURL_ExactMatch(t *testing.T) {
	ctx := context.Background()
	db := newGateDB(t)
	if _, err := UpsertMedia(ctx, db, &domain.Media{URL: "https://x.com/a?b=1", Platform: "twitter", ArtifactRef: "f"}); err != nil {
		t.Fatalf("UpsertMedia: %v", err)
	}

	if _, err := FindMediaByURL(ctx, db, "https://x.com/a?b=1"); err != nil {
		t.Fatalf("exact url must match: %v", err)
	}
	for _, u := range []string{"https://x.com/a", "https://X.com/a?b=1", "https://x.com/a?b=1&c=2"} {
		if _, err := FindMediaByURL(ctx, db, u); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%q must not match, got %v", u, err)
		}
	}
}

func TestListMediaPage_NewestFirst(t *testing.T) {
	ctx := context.Background()
	db := newGateDB(t)
	for _, u := range []string{"https://a", "https://b", "https://c"} {
		if _, err := UpsertMedia(ctx, db, &domain.Media{URL: u, Platform: "p", ArtifactRef: "f"}); err != nil {
			t.Fatalf("UpsertMedia: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	page, err := ListMediaPage(ctx, db, 0, 2)
	if err != nil {
		t.Fatalf("ListMediaPage: %v", err)
	}
	if len(page) != 2 || page[0].URL != "https://c" {
		t.Fatalf("unexpected page: %+v", page)
	}
	got, err := GetMedia(ctx, db, page[0].ID)
	if err != nil || got.URL != "https://c" {
		t.Fatalf("GetMedia: %+v %v", got, err)
	}
}

func TestLogDownload_AndList(t *testing.T) {
	ctx := context.Background()
	db := newGateDB(t)
	now := time.Now().UTC()

	if _, err := TouchUser(ctx, db, "u1", "", "", now); err != nil {
		t.Fatalf("TouchUser: %v", err)
	}
	m, _ := UpsertMedia(ctx, db, &domain.Media{URL: "https://a", Platform: "p", ArtifactRef: "f", Title: "A"})

	if _, err := LogDownload(ctx, db, "u1", m.ID, domain.StatusCompleted, now); err != nil {
		t.Fatalf("LogDownload: %v", err)
	}
	if _, err := LogDownload(ctx, db, "u1", m.ID, domain.StatusCached, now.Add(time.Second)); err != nil {
		t.Fatalf("LogDownload: %v", err)
	}

	u, _ := GetUser(ctx, db, "u1")
	if u.TotalDownloads != 2 {
		t.Fatalf("expected total_downloads=2, got %d", u.TotalDownloads)
	}

	list, err := ListDownloads(ctx, db, "u1", 10)
	if err != nil {
		t.Fatalf("ListDownloads: %v", err)
	}
	if len(list) != 2 || list[0].Status != domain.StatusCached || list[0].Title != "A" || list[0].URL != "https://a" {
		t.Fatalf("unexpected downloads: %+v", list)
	}

	list, _ = ListDownloads(ctx, db, "u1", 1)
	if len(list) != 1 {
		t.Fatalf("limit not applied: %d", len(list))
	}
}

func TestLogDownload_UnknownMediaFails(t *testing.T) {
	db := newGateDB(t)
	if _, err := LogDownload(context.Background(), db, "u1", "missing", domain.StatusCompleted, time.Now()); err == nil {
		t.Fatalf("expected foreign key violation for unknown media")
	}
}
