// Package db provides the database access layer for the OTP validation gateway.
// Implements SQLite-based storage for token bindings, the verification audit
// trail, and nonce tracking for request replay protection.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"otp-validator/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

const DefaultVerificationLimit = 50

// GatewayDB provides database operations for the gateway service.
type GatewayDB struct {
	db *sql.DB // SQLite database connection
}

// NewGatewayDB opens the SQLite database at dbPath, enables WAL mode and
// creates the required tables.
func NewGatewayDB(dbPath string) (*GatewayDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access and set busy timeout
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	gdb := &GatewayDB{db: db}
	if err := gdb.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return gdb, nil
}

func (g *GatewayDB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tokens (
			identity TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			label TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS verifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			identity TEXT NOT NULL,
			username TEXT,
			status TEXT NOT NULL,
			valid BOOLEAN NOT NULL,
			error_kind TEXT,
			server_url TEXT,
			duration_ms INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS seen_nonces (
			nonce TEXT PRIMARY KEY,
			seen_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS ix_tokens_username ON tokens(username)`,
		`CREATE INDEX IF NOT EXISTS ix_verifications_identity_created ON verifications(identity, created_at)`,
		`CREATE INDEX IF NOT EXISTS ix_seen_nonces_seen_at ON seen_nonces(seen_at)`,
	}

	for _, query := range queries {
		if _, err := g.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}

// BindToken stores a binding from a token identity to a user. Binding a token
// again to the same user is a no-op; binding it to a different user returns
// ErrTokenBoundToOther.
func (g *GatewayDB) BindToken(ctx context.Context, binding *models.TokenBinding) error {
	if binding.CreatedAt.IsZero() {
		binding.CreatedAt = time.Now().UTC()
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO tokens (identity, username, label, created_at)
		VALUES (?, ?, ?, ?)`,
		binding.Identity, binding.Username, binding.Label, binding.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to bind token: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var owner string
		err := tx.QueryRowContext(ctx, "SELECT username FROM tokens WHERE identity = ?", binding.Identity).Scan(&owner)
		if err != nil {
			return fmt.Errorf("failed to read existing binding: %w", err)
		}
		if owner != binding.Username {
			return ErrTokenBoundToOther
		}
	}

	return tx.Commit()
}

// GetTokenBinding returns the binding of identity, or ErrTokenNotFound.
func (g *GatewayDB) GetTokenBinding(ctx context.Context, identity string) (*models.TokenBinding, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT identity, username, label, created_at
		FROM tokens WHERE identity = ?`, identity)

	var binding models.TokenBinding
	var label sql.NullString

	err := row.Scan(&binding.Identity, &binding.Username, &label, &binding.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token binding: %w", err)
	}
	binding.Label = label.String

	return &binding, nil
}

// ListTokensForUser returns every token bound to username, oldest first.
func (g *GatewayDB) ListTokensForUser(ctx context.Context, username string) ([]models.TokenBinding, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT identity, username, label, created_at
		FROM tokens WHERE username = ? ORDER BY created_at ASC, identity ASC`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	bindings := []models.TokenBinding{}
	for rows.Next() {
		var binding models.TokenBinding
		var label sql.NullString
		if err := rows.Scan(&binding.Identity, &binding.Username, &label, &binding.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		binding.Label = label.String
		bindings = append(bindings, binding)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tokens: %w", err)
	}

	return bindings, nil
}

// UnbindToken removes the binding of identity, or returns ErrTokenNotFound.
func (g *GatewayDB) UnbindToken(ctx context.Context, identity string) error {
	res, err := g.db.ExecContext(ctx, "DELETE FROM tokens WHERE identity = ?", identity)
	if err != nil {
		return fmt.Errorf("failed to unbind token: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTokenNotFound
	}

	return nil
}

// SaveVerification appends a record to the audit trail and sets its ID.
func (g *GatewayDB) SaveVerification(ctx context.Context, record *models.VerificationRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	res, err := g.db.ExecContext(ctx, `
		INSERT INTO verifications (request_id, identity, username, status, valid,
			error_kind, server_url, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RequestID, record.Identity, record.Username, record.Status, record.Valid,
		record.ErrorKind, record.ServerURL, record.DurationMs, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save verification: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get verification id: %w", err)
	}
	record.ID = id

	return nil
}

// ListVerifications returns the most recent audit records of identity, newest
// first. A non-positive limit uses DefaultVerificationLimit.
func (g *GatewayDB) ListVerifications(ctx context.Context, identity string, limit int) ([]models.VerificationRecord, error) {
	if limit <= 0 {
		limit = DefaultVerificationLimit
	}

	rows, err := g.db.QueryContext(ctx, `
		SELECT id, request_id, identity, username, status, valid, error_kind,
			server_url, duration_ms, created_at
		FROM verifications WHERE identity = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query verifications: %w", err)
	}
	defer rows.Close()

	records := []models.VerificationRecord{}
	for rows.Next() {
		var r models.VerificationRecord
		var username, errorKind, serverURL sql.NullString
		var durationMs sql.NullInt64

		err := rows.Scan(&r.ID, &r.RequestID, &r.Identity, &username, &r.Status, &r.Valid,
			&errorKind, &serverURL, &durationMs, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}

		r.Username = username.String
		r.ErrorKind = errorKind.String
		r.ServerURL = serverURL.String
		r.DurationMs = durationMs.Int64
		records = append(records, r)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating verifications: %w", err)
	}

	return records, nil
}

func (g *GatewayDB) HasSeenNonce(nonce string) (bool, error) {
	var count int
	err := g.db.QueryRow("SELECT COUNT(*) FROM seen_nonces WHERE nonce = ?", nonce).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check nonce: %w", err)
	}
	return count > 0, nil
}

func (g *GatewayDB) SaveNonce(nonce string) error {
	_, err := g.db.Exec("INSERT OR IGNORE INTO seen_nonces (nonce, seen_at) VALUES (?, ?)",
		nonce, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save nonce: %w", err)
	}
	return nil
}

func (g *GatewayDB) CleanupOldNonces(olderThan time.Time) error {
	_, err := g.db.Exec("DELETE FROM seen_nonces WHERE seen_at < ?", olderThan.UTC())
	if err != nil {
		return fmt.Errorf("failed to cleanup old nonces: %w", err)
	}
	return nil
}

// Ping checks that the database answers queries.
func (g *GatewayDB) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

func (g *GatewayDB) Close() error {
	return g.db.Close()
}
