// Package sqlite keeps schedules and bridge preferences in a local SQLite
// database so they survive a restart.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tinywideclouds/go-notification-bridge/internal/scheduler"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Config selects the database file.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Store implements scheduler.Store and pushtoken.Preferences.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- scheduler.Store ---

func (s *Store) Save(ctx context.Context, rec scheduler.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, experience_id, kind, model, notification_id, next_fire, created_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   model=excluded.model,
		   notification_id=excluded.notification_id,
		   next_fire=excluded.next_fire`,
		rec.ID, rec.ExperienceID, rec.Kind, rec.Model, rec.NotificationID,
		rec.NextFire.UnixMilli(), rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return scheduler.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteByExperience(ctx context.Context, experienceID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM schedules WHERE experience_id = ? ORDER BY id`, experienceID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE experience_id = ?`, experienceID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) List(ctx context.Context) ([]scheduler.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experience_id, kind, model, notification_id, next_fire, created_at
		 FROM schedules ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var out []scheduler.Record
	for rows.Next() {
		var (
			rec       scheduler.Record
			nextFire  int64
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.ExperienceID, &rec.Kind, &rec.Model, &rec.NotificationID, &nextFire, &createdAt); err != nil {
			return nil, err
		}
		rec.NextFire = time.UnixMilli(nextFire)
		rec.CreatedAt = time.Unix(0, createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- pushtoken.Preferences ---

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}
