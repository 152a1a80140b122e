package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/storefront-wallet-ledger/internal/config"
	_ "modernc.org/sqlite" // CGo-free SQLite driver
)

// sqliteSchema is applied on every open. Statements are idempotent, so an
// existing ledger file is left untouched. The partial unique indexes keep
// idempotency references and per-credit forfeits unique at the storage level;
// the reserved 'expired' and 'reversal' references are excluded because one
// user legitimately accrues many of each.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS wallet_users (
		user_id    TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_transactions (
		seq                   INTEGER PRIMARY KEY AUTOINCREMENT,
		id                    TEXT NOT NULL UNIQUE,
		user_id               TEXT NOT NULL REFERENCES wallet_users (user_id),
		kind                  TEXT NOT NULL CHECK (kind IN ('credit', 'debit')),
		amount                TEXT NOT NULL,
		reference             TEXT NOT NULL DEFAULT '',
		notes                 TEXT NOT NULL DEFAULT '',
		performed_by          TEXT NOT NULL DEFAULT '',
		source_transaction_id TEXT REFERENCES wallet_transactions (id),
		created_at            INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_wallet_transactions_user_created
		ON wallet_transactions (user_id, created_at, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_wallet_transactions_user_kind
		ON wallet_transactions (user_id, kind, created_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_wallet_transactions_reference
		ON wallet_transactions (user_id, kind, reference)
		WHERE reference <> '' AND reference NOT IN ('expired', 'reversal')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_wallet_transactions_expiry
		ON wallet_transactions (source_transaction_id)
		WHERE reference = 'expired'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_wallet_transactions_reversal
		ON wallet_transactions (source_transaction_id)
		WHERE reference = 'reversal'`,
}

// SQLiteDB wraps the embedded single-file store used by single-node and test
// deployments
type SQLiteDB struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteDB(ctx context.Context, logger *slog.Logger, cfg *config.SQLiteConfig) (*SQLiteDB, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}

	dsn := filepath.Clean(cfg.Path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite: %w", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply SQLite schema: %w", err)
		}
	}

	logger.Info("Connected to SQLite", "path", cfg.Path)

	return &SQLiteDB{
		db:     db,
		logger: logger,
	}, nil
}

func (s *SQLiteDB) DB() *sql.DB {
	return s.db
}

func (s *SQLiteDB) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close SQLite database: %w", err)
	}
	s.logger.Info("Closed SQLite connection")
	return nil
}
