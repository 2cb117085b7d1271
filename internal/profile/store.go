// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Store persists profiles. Implementations do not validate; the Manager does.
type Store interface {
	Get(ctx context.Context, id string) (Profile, error)
	Put(ctx context.Context, p Profile) error
	Delete(ctx context.Context, id string) error
	// List returns every profile, oldest first.
	List(ctx context.Context) ([]Profile, error)
	// Search matches query case-insensitively against name, model and
	// endpoint. An empty query matches everything.
	Search(ctx context.Context, query string) ([]Profile, error)
	Close() error
}

// =============================================================================
// SQLITE STORE
// =============================================================================

const profileSchema = `
CREATE TABLE IF NOT EXISTS profiles (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    model_name        TEXT NOT NULL DEFAULT '',
    api_endpoint      TEXT NOT NULL,
    is_default        INTEGER NOT NULL DEFAULT 0,
    temperature       REAL NOT NULL,
    max_tokens        INTEGER NOT NULL,
    top_p             REAL NOT NULL,
    frequency_penalty REAL NOT NULL DEFAULT 0,
    presence_penalty  REAL NOT NULL DEFAULT 0,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_profiles_created_at ON profiles(created_at);
`

const profileColumns = `id, name, model_name, api_endpoint, is_default,
    temperature, max_tokens, top_p, frequency_penalty, presence_penalty,
    created_at, updated_at`

// SQLiteStore keeps profiles in one SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(profileSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get loads one profile.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+profileColumns+" FROM profiles WHERE id = ?", id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("load profile %s: %w", id, err)
	}
	return p, nil
}

// Put inserts or replaces a profile.
func (s *SQLiteStore) Put(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO profiles (`+profileColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            model_name = excluded.model_name,
            api_endpoint = excluded.api_endpoint,
            is_default = excluded.is_default,
            temperature = excluded.temperature,
            max_tokens = excluded.max_tokens,
            top_p = excluded.top_p,
            frequency_penalty = excluded.frequency_penalty,
            presence_penalty = excluded.presence_penalty,
            created_at = excluded.created_at,
            updated_at = excluded.updated_at`,
		p.ID, p.Name, p.ModelName, p.APIEndpoint, p.IsDefault,
		p.Parameters.Temperature, p.Parameters.MaxTokens, p.Parameters.TopP,
		p.Parameters.FrequencyPenalty, p.Parameters.PresencePenalty,
		p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save profile %s: %w", p.ID, err)
	}
	return nil
}

// Delete removes a profile. Deleting an unknown id returns ErrNotFound.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM profiles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete profile %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns every profile, oldest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Profile, error) {
	return s.query(ctx, "SELECT "+profileColumns+" FROM profiles ORDER BY created_at, id")
}

// Search matches query against name, model and endpoint.
func (s *SQLiteStore) Search(ctx context.Context, query string) ([]Profile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List(ctx)
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return s.query(ctx, `
        SELECT `+profileColumns+` FROM profiles
        WHERE lower(name) LIKE ? ESCAPE '\'
           OR lower(model_name) LIKE ? ESCAPE '\'
           OR lower(api_endpoint) LIKE ? ESCAPE '\'
        ORDER BY created_at, id`, pattern, pattern, pattern)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (Profile, error) {
	var (
		p                Profile
		created, updated int64
	)
	err := row.Scan(&p.ID, &p.Name, &p.ModelName, &p.APIEndpoint, &p.IsDefault,
		&p.Parameters.Temperature, &p.Parameters.MaxTokens, &p.Parameters.TopP,
		&p.Parameters.FrequencyPenalty, &p.Parameters.PresencePenalty,
		&created, &updated)
	if err != nil {
		return Profile{}, err
	}
	p.CreatedAt = time.Unix(0, created).UTC()
	p.UpdatedAt = time.Unix(0, updated).UTC()
	return p, nil
}

// escapeLike escapes the LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
