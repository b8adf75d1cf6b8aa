// Package sqlite implements a media.Store on top of an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/streamgate/streamgate/media"
)

// Store is a media.Store backed by SQLite.
type Store struct {
	db *sqlx.DB
}

// NewStore opens the database at path. Pass an empty path for an in-memory database.
func NewStore(path string) (*Store, error) {
	dsn := ":memory:"

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}

		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open media database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()

		return nil, fmt.Errorf("migrate media database: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const q = `CREATE TABLE IF NOT EXISTS media (
		public_id TEXT PRIMARY KEY,
		internal_id TEXT NOT NULL,
		access_key TEXT NOT NULL,
		admin_key TEXT NOT NULL,
		status TEXT NOT NULL,
		expiry_minutes INTEGER NOT NULL,
		upload_time TEXT NOT NULL,
		last_token_refresh TEXT,
		expiry_extended_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`

	if _, err := s.db.Exec(q); err != nil {
		return err
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_media_status ON media(status)"); err != nil {
		return err
	}

	_, err := s.db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_media_internal_id ON media(internal_id)")

	return err
}

// mediaRow maps 1:1 to the media table columns.
// Timestamps are stored as RFC 3339 text with nanosecond precision.
type mediaRow struct {
	PublicID         string         `db:"public_id"`
	InternalID       string         `db:"internal_id"`
	AccessKey        string         `db:"access_key"`
	AdminKey         string         `db:"admin_key"`
	Status           string         `db:"status"`
	ExpiryMinutes    int            `db:"expiry_minutes"`
	UploadTime       string         `db:"upload_time"`
	LastTokenRefresh sql.NullString `db:"last_token_refresh"`
	ExpiryExtendedAt sql.NullString `db:"expiry_extended_at"`
	CreatedAt        string         `db:"created_at"`
	UpdatedAt        string         `db:"updated_at"`
}

func rowFromModel(m media.Media) mediaRow {
	return mediaRow{
		PublicID:         m.PublicID,
		InternalID:       m.InternalID,
		AccessKey:        m.AccessKey,
		AdminKey:         m.AdminKey,
		Status:           string(m.Status),
		ExpiryMinutes:    m.ExpiryMinutes,
		UploadTime:       formatTime(m.UploadTime),
		LastTokenRefresh: formatNullTime(m.LastTokenRefresh),
		ExpiryExtendedAt: formatNullTime(m.ExpiryExtendedAt),
		CreatedAt:        formatTime(m.CreatedAt),
		UpdatedAt:        formatTime(m.UpdatedAt),
	}
}

func (r mediaRow) toModel() (media.Media, error) {
	m := media.Media{
		PublicID:      r.PublicID,
		InternalID:    r.InternalID,
		AccessKey:     r.AccessKey,
		AdminKey:      r.AdminKey,
		Status:        media.Status(r.Status),
		ExpiryMinutes: r.ExpiryMinutes,
	}

	var err error

	if m.UploadTime, err = parseTime(r.UploadTime); err != nil {
		return m, err
	}

	if m.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return m, err
	}

	if m.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return m, err
	}

	if m.LastTokenRefresh, err = parseNullTime(r.LastTokenRefresh); err != nil {
		return m, err
	}

	if m.ExpiryExtendedAt, err = parseNullTime(r.ExpiryExtendedAt); err != nil {
		return m, err
	}

	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}

	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}

	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}

	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

const upsertQuery = `INSERT INTO media
	(public_id, internal_id, access_key, admin_key, status, expiry_minutes,
	 upload_time, last_token_refresh, expiry_extended_at, created_at, updated_at)
	VALUES
	(:public_id, :internal_id, :access_key, :admin_key, :status, :expiry_minutes,
	 :upload_time, :last_token_refresh, :expiry_extended_at, :created_at, :updated_at)
	ON CONFLICT(public_id) DO UPDATE SET
		internal_id = excluded.internal_id,
		access_key = excluded.access_key,
		admin_key = excluded.admin_key,
		status = excluded.status,
		expiry_minutes = excluded.expiry_minutes,
		upload_time = excluded.upload_time,
		last_token_refresh = excluded.last_token_refresh,
		expiry_extended_at = excluded.expiry_extended_at,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at`

// Get implements media.Store.
func (s *Store) Get(ctx context.Context, publicID string) (media.Media, error) {
	return get(ctx, s.db, publicID)
}

func get(ctx context.Context, q sqlx.QueryerContext, publicID string) (media.Media, error) {
	var row mediaRow

	if err := sqlx.GetContext(ctx, q, &row, "SELECT * FROM media WHERE public_id = ?", publicID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return media.Media{}, fmt.Errorf("media not found: %w", media.ErrNotFound)
		}

		return media.Media{}, fmt.Errorf("get media: %w", err)
	}

	return row.toModel()
}

// Put implements media.Store.
func (s *Store) Put(ctx context.Context, m media.Media) error {
	if err := m.Validate(); err != nil {
		return err
	}

	if _, err := s.db.NamedExecContext(ctx, upsertQuery, rowFromModel(m)); err != nil {
		return fmt.Errorf("put media: %w", err)
	}

	return nil
}

// UpdateIfPresent implements media.Store.
func (s *Store) UpdateIfPresent(ctx context.Context, publicID string, fn func(m *media.Media) error) (media.Media, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return media.Media{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	m, err := get(ctx, tx, publicID)
	if err != nil {
		return media.Media{}, err
	}

	if err := fn(&m); err != nil {
		return media.Media{}, err
	}

	// The record is keyed by its public ID.
	m.PublicID = publicID

	if err := m.Validate(); err != nil {
		return media.Media{}, err
	}

	if _, err := tx.NamedExecContext(ctx, upsertQuery, rowFromModel(m)); err != nil {
		return media.Media{}, fmt.Errorf("update media: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return media.Media{}, fmt.Errorf("commit: %w", err)
	}

	return m, nil
}

// Delete implements media.Store.
func (s *Store) Delete(ctx context.Context, publicID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM media WHERE public_id = ?", publicID)
	if err != nil {
		return fmt.Errorf("delete media: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete media: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("media not found: %w", media.ErrNotFound)
	}

	return nil
}

// GetByInternalID implements media.Store.
func (s *Store) GetByInternalID(ctx context.Context, internalID string) (media.Media, error) {
	var row mediaRow

	if err := s.db.GetContext(ctx, &row, "SELECT * FROM media WHERE internal_id = ?", internalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return media.Media{}, fmt.Errorf("media not found: %w", media.ErrNotFound)
		}

		return media.Media{}, fmt.Errorf("get media: %w", err)
	}

	return row.toModel()
}

// DeleteIf implements media.Store.
func (s *Store) DeleteIf(ctx context.Context, publicID string, cond func(m media.Media) bool) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	m, err := get(ctx, tx, publicID)
	if err != nil {
		return false, err
	}

	if !cond(m) {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM media WHERE public_id = ?", publicID); err != nil {
		return false, fmt.Errorf("delete media: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	return true, nil
}

// Stats implements media.Store. SizeBytes is the size of the database pages.
func (s *Store) Stats(ctx context.Context) (media.Stats, error) {
	var counts []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}

	if err := s.db.SelectContext(ctx, &counts, "SELECT status, COUNT(*) AS count FROM media GROUP BY status"); err != nil {
		return media.Stats{}, fmt.Errorf("count media: %w", err)
	}

	stats := media.Stats{
		ByStatus: make(map[media.Status]int, len(counts)),
	}

	for _, c := range counts {
		stats.ByStatus[media.Status(c.Status)] = c.Count
		stats.Total += c.Count
	}

	if err := s.db.GetContext(ctx, &stats.SizeBytes, "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()"); err != nil {
		return media.Stats{}, fmt.Errorf("database size: %w", err)
	}

	return stats, nil
}

// List implements media.Store.
func (s *Store) List(ctx context.Context, opts media.ListOptions) ([]media.Media, error) {
	var rows []mediaRow

	var err error

	if opts.Status != "" {
		err = s.db.SelectContext(ctx, &rows, "SELECT * FROM media WHERE status = ? ORDER BY public_id", string(opts.Status))
	} else {
		err = s.db.SelectContext(ctx, &rows, "SELECT * FROM media ORDER BY public_id")
	}

	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}

	result := make([]media.Media, 0, len(rows))

	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}

		result = append(result, m)
	}

	return result, nil
}
