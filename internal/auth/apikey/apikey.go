// Package apikey stores administrative API keys in SQL and guards the
// administrative HTTP endpoints with them. Raw keys are random, shown once
// and stored only as SHA-256 digests.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidKey = errors.New("invalid api key")
	ErrExpiredKey = errors.New("api key expired")
)

// KeyInfo describes a stored key. The raw key and its digest are never
// part of it.
type KeyInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Placeholder renders the n-th (1-based) bind parameter of a SQL dialect.
type Placeholder func(n int) string

// Store keeps keys in the api_keys table. Timestamps are unix seconds so the
// same schema serves PostgreSQL and SQLite.
type Store struct {
	db     *sql.DB
	ph     Placeholder
	now    func() time.Time
	logger *slog.Logger
}

func NewStore(db *sql.DB, ph Placeholder) *Store {
	return &Store{
		db:     db,
		ph:     ph,
		now:    time.Now,
		logger: slog.Default().With("component", "apikey-store"),
	}
}

func (s *Store) CreateTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS api_keys (
		id         TEXT PRIMARY KEY,
		key_hash   TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		active     INTEGER NOT NULL DEFAULT 1,
		created_at BIGINT NOT NULL,
		expires_at BIGINT
	)`)
	if err != nil {
		return fmt.Errorf("creating api_keys table: %w", err)
	}
	return nil
}

// Validate returns the key matching rawKey when it is active and unexpired.
func (s *Store) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	var (
		info      KeyInfo
		createdAt int64
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at, expires_at FROM api_keys WHERE key_hash = "+s.ph(1)+" AND active = 1",
		HashKey(rawKey),
	).Scan(&info.ID, &info.Name, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	info.CreatedAt = time.Unix(createdAt, 0).UTC()
	if expiresAt.Valid {
		exp := time.Unix(expiresAt.Int64, 0).UTC()
		if !s.now().Before(exp) {
			return nil, ErrExpiredKey
		}
		info.ExpiresAt = &exp
	}
	return &info, nil
}

// CreateKey stores a new key and returns its raw form, which cannot be
// recovered later. A zero ttl never expires.
func (s *Store) CreateKey(ctx context.Context, name string, ttl time.Duration) (string, *KeyInfo, error) {
	raw, err := generateRawKey()
	if err != nil {
		return "", nil, err
	}
	now := s.now().UTC().Truncate(time.Second)
	info := &KeyInfo{ID: uuid.NewString(), Name: name, CreatedAt: now}
	var expiry sql.NullInt64
	if ttl > 0 {
		exp := now.Add(ttl)
		info.ExpiresAt = &exp
		expiry = sql.NullInt64{Int64: exp.Unix(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO api_keys (id, key_hash, name, created_at, expires_at) VALUES ("+
			s.ph(1)+", "+s.ph(2)+", "+s.ph(3)+", "+s.ph(4)+", "+s.ph(5)+")",
		info.ID, HashKey(raw), name, now.Unix(), expiry,
	)
	if err != nil {
		return "", nil, fmt.Errorf("creating api key: %w", err)
	}
	s.logger.Info("api key created", "id", info.ID, "name", name)
	return raw, info, nil
}

// Revoke deactivates the key with the given id.
func (s *Store) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET active = 0 WHERE id = "+s.ph(1)+" AND active = 1", id)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidKey
	}
	s.logger.Info("api key revoked", "id", id)
	return nil
}

// List returns active keys, newest first.
func (s *Store) List(ctx context.Context) ([]KeyInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_at, expires_at FROM api_keys WHERE active = 1 ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var keys []KeyInfo
	for rows.Next() {
		var (
			k         KeyInfo
			createdAt int64
			expiresAt sql.NullInt64
		)
		if err := rows.Scan(&k.ID, &k.Name, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		k.CreatedAt = time.Unix(createdAt, 0).UTC()
		if expiresAt.Valid {
			exp := time.Unix(expiresAt.Int64, 0).UTC()
			k.ExpiresAt = &exp
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateRawKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
