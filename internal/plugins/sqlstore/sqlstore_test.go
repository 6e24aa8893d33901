package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Broadcast/internal/domain"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := Open(context.Background(), Config{Driver: "sqlite", DSN: "file::memory:?cache=shared"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	r := NewRepository(db)
	if err := r.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := db.Exec(`DELETE FROM media_records`); err != nil {
		t.Fatalf("reset: %v", err)
	}
	return r
}

func TestRepository_UpsertKeepsOneRowPerRoomAndHost(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	first := domain.MediaRecord{RoomID: "r1", HostUserID: "u1", SavePath: "a.webm", CreatedAt: created, UpdatedAt: created}
	if err := r.SaveMediaRecord(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := first
	second.SavePath = "b.webm"
	second.CreatedAt = created.Add(time.Hour)
	second.UpdatedAt = created.Add(time.Hour)
	if err := r.SaveMediaRecord(ctx, second); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := r.GetMediaRecord(ctx, "r1", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SavePath != "b.webm" {
		t.Fatalf("savePath=%q, want b.webm", got.SavePath)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("createdAt=%v, want %v", got.CreatedAt, created)
	}
	if !got.UpdatedAt.Equal(created.Add(time.Hour)) {
		t.Fatalf("updatedAt=%v, want %v", got.UpdatedAt, created.Add(time.Hour))
	}

	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM media_records`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows=%d, want 1", n)
	}
}

func TestRepository_NotFound(t *testing.T) {
	r := newRepo(t)
	if _, err := r.GetMediaRecord(context.Background(), "r1", "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want %v", err, ErrNotFound)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "mongo"}); err == nil {
		t.Fatalf("Open(mongo) succeeded")
	}
}
