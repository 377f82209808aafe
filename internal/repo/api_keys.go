package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"submitline/internal/domain"
)

// APIKey binds a hashed secret to the agent that requests made with it act
// as.
type APIKey struct {
	ID        string       `json:"id"`
	Agent     domain.Agent `json:"agent"`
	Name      string       `json:"name,omitempty"`
	KeyHash   string       `json:"-"`
	CreatedAt string       `json:"created_at"`
}

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKey stores a hashed API key. KeyHash must already contain the hashed value.
func (r Repo) InsertAPIKey(ctx context.Context, tx *sql.Tx, key APIKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.Agent.IsZero() {
		return errors.New("agent required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	if key.CreatedAt == "" {
		key.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	agent, err := json.Marshal(key.Agent)
	if err != nil {
		return err
	}
	_, err = exec(`INSERT INTO api_keys(id, agent_json, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		key.ID, string(agent), nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

// GetAPIKeyByHash returns an API key by its hashed value.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (APIKey, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, agent_json, COALESCE(name,''), key_hash, created_at FROM api_keys WHERE key_hash=? LIMIT 1`, hash)
	key, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return APIKey{}, ErrNotFound
	}
	return key, err
}

// ListAPIKeys returns API keys, optionally filtered by agent.
func (r Repo) ListAPIKeys(ctx context.Context, agent *domain.Agent) ([]APIKey, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, agent_json, COALESCE(name,''), key_hash, created_at FROM api_keys ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		if agent != nil && !key.Agent.Equal(*agent) {
			continue
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// DeleteAPIKey deletes an API key by ID.
func (r Repo) DeleteAPIKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(s scanner) (APIKey, error) {
	var (
		key   APIKey
		agent string
	)
	if err := s.Scan(&key.ID, &agent, &key.Name, &key.KeyHash, &key.CreatedAt); err != nil {
		return APIKey{}, err
	}
	if err := json.Unmarshal([]byte(agent), &key.Agent); err != nil {
		return APIKey{}, err
	}
	return key, nil
}
