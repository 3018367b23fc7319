// Package store persists the cabinet's local tag → user directory in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ferris-cabinet/internal/nfc"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Registration is a tag bound to a user.
type Registration struct {
	ID         string     `json:"id"`
	Tag        string     `json:"tag"`
	Username   string     `json:"username"`
	AvatarURL  string     `json:"avatarUrl,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

// SQLiteDirectory implements nfc.UserDirectory on a local SQLite file.
type SQLiteDirectory struct {
	db *sql.DB
}

var _ nfc.UserDirectory = (*SQLiteDirectory)(nil)

// OpenSQLiteDirectory opens the database, enables WAL and runs migrations.
func OpenSQLiteDirectory(path string) (*SQLiteDirectory, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	d := &SQLiteDirectory{db: db}
	if err := d.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the DB.
func (d *SQLiteDirectory) Close() error {
	return d.db.Close()
}

// Migrate creates tables and indexes.
func (d *SQLiteDirectory) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tag_users (
			id TEXT NOT NULL UNIQUE,
			tag TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			avatar_url TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_seen_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tag_users_username ON tag_users(username)`,
	}
	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// Register binds tag to username, replacing any previous owner.
func (d *SQLiteDirectory) Register(tag, username, avatarURL string) (Registration, error) {
	tag = normalizeTag(tag)
	username = strings.TrimSpace(username)
	if tag == "" {
		return Registration{}, fmt.Errorf("store: tag is required")
	}
	if username == "" {
		return Registration{}, fmt.Errorf("store: username is required")
	}

	_, err := d.db.Exec(
		`INSERT INTO tag_users (id, tag, username, avatar_url)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(tag) DO UPDATE SET
		   username = excluded.username,
		   avatar_url = excluded.avatar_url`,
		uuid.NewString(), tag, username, strings.TrimSpace(avatarURL),
	)
	if err != nil {
		return Registration{}, fmt.Errorf("store: register tag: %w", err)
	}
	return d.Get(tag)
}

// Get returns the registration for tag.
func (d *SQLiteDirectory) Get(tag string) (Registration, error) {
	row := d.db.QueryRow(
		`SELECT id, tag, username, avatar_url, created_at, last_seen_at
		 FROM tag_users WHERE tag = ?`,
		normalizeTag(tag),
	)
	reg, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Registration{}, nfc.ErrUnknownTag
	}
	if err != nil {
		return Registration{}, fmt.Errorf("store: get tag: %w", err)
	}
	return reg, nil
}

// Remove deletes the registration for tag.
func (d *SQLiteDirectory) Remove(tag string) error {
	res, err := d.db.Exec(`DELETE FROM tag_users WHERE tag = ?`, normalizeTag(tag))
	if err != nil {
		return fmt.Errorf("store: remove tag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nfc.ErrUnknownTag
	}
	return nil
}

// List returns all registrations, most recently seen first.
func (d *SQLiteDirectory) List() ([]Registration, error) {
	rows, err := d.db.Query(
		`SELECT id, tag, username, avatar_url, created_at, last_seen_at
		 FROM tag_users
		 ORDER BY last_seen_at IS NULL, last_seen_at DESC, username ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	out := make([]Registration, 0)
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan registration: %w", err)
		}
		out = append(out, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate registrations: %w", err)
	}
	return out, nil
}

// Lookup implements nfc.UserDirectory and records when the tag was last seen.
func (d *SQLiteDirectory) Lookup(ctx context.Context, tag nfc.TagID) (nfc.UserRecord, error) {
	key := normalizeTag(string(tag))

	var user nfc.UserRecord
	err := d.db.QueryRowContext(ctx,
		`SELECT username, avatar_url FROM tag_users WHERE tag = ?`, key,
	).Scan(&user.Username, &user.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nfc.UserRecord{}, nfc.ErrUnknownTag
	}
	if err != nil {
		return nfc.UserRecord{}, fmt.Errorf("store: lookup tag: %w", err)
	}

	if _, err := d.db.ExecContext(ctx,
		`UPDATE tag_users SET last_seen_at = ? WHERE tag = ?`, time.Now().UTC(), key,
	); err != nil {
		return nfc.UserRecord{}, fmt.Errorf("store: touch tag: %w", err)
	}
	return user, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (Registration, error) {
	var reg Registration
	var lastSeen sql.NullTime
	if err := row.Scan(&reg.ID, &reg.Tag, &reg.Username, &reg.AvatarURL, &reg.CreatedAt, &lastSeen); err != nil {
		return Registration{}, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		reg.LastSeenAt = &t
	}
	return reg, nil
}
