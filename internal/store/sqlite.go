package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// migrations run in order on every start and must stay idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		identity      TEXT PRIMARY KEY,
		identity_hash TEXT UNIQUE NOT NULL,
		shared_secret TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		key_hash   TEXT UNIQUE NOT NULL,
		prefix     TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		last_used  TEXT
	)`,
}

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and migrates it.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for i, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// --- Devices ---

// UpsertDevice inserts a credential or replaces the secret of an existing one.
func (s *SQLiteStore) UpsertDevice(ctx context.Context, d *DeviceCredential) error {
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (identity, identity_hash, shared_secret, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET
		   identity_hash = excluded.identity_hash,
		   shared_secret = excluded.shared_secret,
		   updated_at    = excluded.updated_at`,
		d.Identity, d.IdentityHash, d.SharedSecret, formatTime(d.CreatedAt), formatTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

const deviceColumns = `identity, identity_hash, shared_secret, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*DeviceCredential, error) {
	var d DeviceCredential
	var created, updated string
	if err := row.Scan(&d.Identity, &d.IdentityHash, &d.SharedSecret, &created, &updated); err != nil {
		return nil, err
	}
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return &d, nil
}

// GetDevice looks a credential up by canonical identity.
func (s *SQLiteStore) GetDevice(ctx context.Context, identity string) (*DeviceCredential, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE identity = ?`, identity))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

// ListDeviceCredentials returns every provisioned device, secrets included.
func (s *SQLiteStore) ListDeviceCredentials(ctx context.Context) ([]*DeviceCredential, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var devices []*DeviceCredential
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// DeleteDevice removes a credential and reports whether one existed.
func (s *SQLiteStore) DeleteDevice(ctx context.Context, identity string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE identity = ?`, identity)
	if err != nil {
		return false, fmt.Errorf("delete device: %w", err)
	}
	return affected(res)
}

// --- API keys ---

const apiKeyColumns = `id, name, key_hash, prefix, created_at, last_used`

func scanAPIKey(row rowScanner) (*APIKey, error) {
	var k APIKey
	var created string
	var lastUsed sql.NullString
	if err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.Prefix, &created, &lastUsed); err != nil {
		return nil, err
	}
	k.CreatedAt = parseTime(created)
	if lastUsed.Valid {
		t := parseTime(lastUsed.String)
		k.LastUsed = &t
	}
	return &k, nil
}

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, k *APIKey) error {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, prefix, created_at) VALUES (?, ?, ?, ?, ?)`,
		k.ID, k.Name, k.KeyHash, k.Prefix, formatTime(k.CreatedAt))
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// VerifyAPIKey looks a key up by hash and stamps its last use.
func (s *SQLiteStore) VerifyAPIKey(ctx context.Context, keyHash string) (*APIKey, error) {
	k, err := scanAPIKey(s.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, keyHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify api key: %w", err)
	}

	now := time.Now()
	k.LastUsed = &now
	_, _ = s.db.ExecContext(ctx, `UPDATE api_keys SET last_used = ? WHERE id = ?`, formatTime(now), k.ID)
	return k, nil
}

// ListAPIKeys returns key metadata, oldest first. Hashes are included but
// never serialised.
func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var keys []*APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey deletes a key by ID and reports whether it existed.
// Dashboards holding it are refused on their next connection.
func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("revoke api key: %w", err)
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
