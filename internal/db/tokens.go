package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gamelink-project/gamelink/internal/util"
)

// TokenStore persists agent credentials and the connection audit log.
// Tokens are provisioned by the operator (via the CLI or API) and
// checked on every handshake.
type TokenStore struct {
	db *Database
}

// NewTokenStore creates the store and runs its schema migration.
func NewTokenStore(db *Database) (*TokenStore, error) {
	s := &TokenStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TokenStore) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS agent_tokens (
			server_id  TEXT PRIMARY KEY,
			token      TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_seen  INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			server_id TEXT NOT NULL,
			action    TEXT NOT NULL,
			detail    TEXT,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_server ON audit_log(server_id, timestamp)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("token store migration failed: %w", err)
		}
	}
	return nil
}

// ProvisionToken registers or replaces the token for a server id.
// When token is empty a random one is generated. The active token is
// returned so the operator can hand it to the agent.
func (s *TokenStore) ProvisionToken(serverID, token string) (string, error) {
	if token == "" {
		generated, err := util.GenerateToken(32)
		if err != nil {
			return "", err
		}
		token = generated
	}

	_, err := s.db.Exec(
		`INSERT INTO agent_tokens (server_id, token, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(server_id) DO UPDATE SET token = excluded.token`,
		serverID, token, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("failed to provision token for %s: %w", serverID, err)
	}

	log.Info().Str("server_id", serverID).Msg("agent token provisioned")
	return token, nil
}

// VerifyToken checks a presented token against the stored one in
// constant time. Unknown server ids fail closed.
func (s *TokenStore) VerifyToken(serverID, token string) bool {
	var stored string
	err := s.db.QueryRow(
		`SELECT token FROM agent_tokens WHERE server_id = ?`, serverID).Scan(&stored)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Error().Err(err).Str("server_id", serverID).Msg("token lookup failed")
		}
		return false
	}

	if !util.SecureCompare(stored, token) {
		return false
	}

	if _, err := s.db.Exec(
		`UPDATE agent_tokens SET last_seen = ? WHERE server_id = ?`,
		time.Now().Unix(), serverID); err != nil {
		log.Warn().Err(err).Str("server_id", serverID).Msg("failed to update last seen")
	}
	return true
}

// RevokeToken deletes the token for a server id.
func (s *TokenStore) RevokeToken(serverID string) error {
	result, err := s.db.Exec(`DELETE FROM agent_tokens WHERE server_id = ?`, serverID)
	if err != nil {
		return fmt.Errorf("failed to revoke token for %s: %w", serverID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("no token registered for %s", serverID)
	}
	log.Info().Str("server_id", serverID).Msg("agent token revoked")
	return nil
}

// TokenInfo describes one provisioned credential, without the secret.
type TokenInfo struct {
	ServerID  string    `json:"server_id"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
}

// ListTokens returns all provisioned server ids.
func (s *TokenStore) ListTokens() ([]TokenInfo, error) {
	rows, err := s.db.Query(
		`SELECT server_id, created_at, COALESCE(last_seen, 0) FROM agent_tokens ORDER BY server_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var out []TokenInfo
	for rows.Next() {
		var info TokenInfo
		var created, seen int64
		if err := rows.Scan(&info.ServerID, &created, &seen); err != nil {
			return nil, err
		}
		info.CreatedAt = time.Unix(created, 0)
		if seen > 0 {
			info.LastSeen = time.Unix(seen, 0)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// AuditEntry is one row of the connection audit log.
type AuditEntry struct {
	ID        int64     `json:"id"`
	ServerID  string    `json:"server_id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordAudit appends a connection lifecycle entry to the audit log.
func (s *TokenStore) RecordAudit(serverID, action, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_log (server_id, action, detail, timestamp) VALUES (?, ?, ?, ?)`,
		serverID, action, detail, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// RecentAudit returns the newest entries, optionally filtered by
// server id (empty matches all).
func (s *TokenStore) RecentAudit(serverID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if serverID == "" {
		rows, err = s.db.Query(
			`SELECT id, server_id, action, COALESCE(detail, ''), timestamp
			 FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(
			`SELECT id, server_id, action, COALESCE(detail, ''), timestamp
			 FROM audit_log WHERE server_id = ? ORDER BY id DESC LIMIT ?`, serverID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var ts int64
		if err := rows.Scan(&entry.ID, &entry.ServerID, &entry.Action, &entry.Detail, &ts); err != nil {
			return nil, err
		}
		entry.Timestamp = time.Unix(ts, 0)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// PruneAudit deletes audit entries older than the retention window.
func (s *TokenStore) PruneAudit(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := s.db.Exec(`DELETE FROM audit_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit log: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		log.Debug().Int64("removed", n).Msg("audit log pruned")
	}
	return n, nil
}
