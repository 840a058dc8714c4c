package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"           // Postgres driver
	"github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pliu/securedm/internal/apperr"
	"go.uber.org/zap"
)

type SQLStore struct {
	db         *sql.DB
	driverName string
	log        *zap.Logger
	now        func() time.Time
}

func New(driverName, dataSourceName string, log *zap.Logger) (*SQLStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" {
		// One connection: ":memory:" databases are per connection and sqlite
		// serializes writers anyway.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLStore{
		db:         db,
		driverName: driverName,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	log.Info("store ready", zap.String("driver", driverName))
	return s, nil
}

func (s *SQLStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT UNIQUE NOT NULL,
		phone TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		salt TEXT NOT NULL,
		public_key TEXT NOT NULL,
		encrypted_private_key TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS threads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		participant_a INTEGER NOT NULL REFERENCES users(id),
		participant_b INTEGER NOT NULL REFERENCES users(id),
		last_message_preview TEXT NOT NULL DEFAULT '',
		last_activity DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (participant_a, participant_b),
		CHECK (participant_a < participant_b)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id INTEGER NOT NULL REFERENCES threads(id),
		sender_id INTEGER NOT NULL REFERENCES users(id),
		receiver_id INTEGER NOT NULL REFERENCES users(id),
		kind TEXT NOT NULL,
		ciphertext BLOB,
		nonce BLOB,
		wrapped_key_sender BLOB,
		wrapped_key_receiver BLOB,
		sender_key_fp TEXT,
		receiver_key_fp TEXT,
		file_url TEXT,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		CHECK ((kind = 'text' AND ciphertext IS NOT NULL AND file_url IS NULL)
			OR (kind = 'file' AND file_url IS NOT NULL AND ciphertext IS NULL))
	);

	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages (thread_id, created_at);
	`

	if s.driverName == "postgres" {
		// Adjust for Postgres syntax
		query = strings.ReplaceAll(query, "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY")
		query = strings.ReplaceAll(query, "INTEGER NOT NULL", "BIGINT NOT NULL")
		query = strings.ReplaceAll(query, "DATETIME", "TIMESTAMP")
		query = strings.ReplaceAll(query, "BLOB", "BYTEA")
	} else {
		query = "PRAGMA foreign_keys = ON;" + query
	}

	_, err := s.db.Exec(query)
	return err
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction and commits only if fn succeeds.
func (s *SQLStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.E(apperr.KindNotFound, what+" not found", err)
	}
	return apperr.Storage(err)
}

func nullBytes(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return b
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
