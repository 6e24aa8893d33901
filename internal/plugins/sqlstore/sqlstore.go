// Package sqlstore keeps media records in Postgres (pgx) or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Broadcast/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

var ErrNotFound = errors.New("media record not found")

type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// driverName maps config spelling to the registered database/sql driver.
func driverName(d string) (string, error) {
	switch d {
	case "postgres", "pgx":
		return "pgx", nil
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	}
	return "", fmt.Errorf("unknown storage driver %q", d)
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	name, err := driverName(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(name, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS media_records (
	room_id      TEXT NOT NULL,
	host_user_id TEXT NOT NULL,
	save_path    TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (room_id, host_user_id)
)`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// SaveMediaRecord inserts rec or, for an existing (room, host) pair,
// replaces its save path and bumps updated_at.
func (r *Repository) SaveMediaRecord(ctx context.Context, rec domain.MediaRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO media_records (room_id, host_user_id, save_path, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (room_id, host_user_id)
DO UPDATE SET save_path = excluded.save_path, updated_at = excluded.updated_at`,
		string(rec.RoomID), string(rec.HostUserID), rec.SavePath, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save media record: %w", err)
	}
	log.Debug().Str("module", "sqlstore").Str("room", string(rec.RoomID)).Str("user_id", string(rec.HostUserID)).Msg("media record upserted")
	return nil
}

func (r *Repository) GetMediaRecord(ctx context.Context, room domain.RoomID, host domain.UserID) (domain.MediaRecord, error) {
	rec := domain.MediaRecord{}
	var roomID, hostID string
	err := r.db.QueryRowContext(ctx, `
SELECT room_id, host_user_id, save_path, created_at, updated_at
FROM media_records WHERE room_id = $1 AND host_user_id = $2`,
		string(room), string(host)).Scan(&roomID, &hostID, &rec.SavePath, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MediaRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.MediaRecord{}, fmt.Errorf("get media record: %w", err)
	}
	rec.RoomID, rec.HostUserID = domain.RoomID(roomID), domain.UserID(hostID)
	return rec, nil
}
