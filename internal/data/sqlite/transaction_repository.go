// Package sqlite implements the wallet transaction store on SQLite for
// single-node deployments. Per-user serialization is an in-process lock
// rather than a row lock, so exactly one process may own the database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront-wallet-ledger/internal/domain/wallet"
	"github.com/storefront-wallet-ledger/internal/platform/persistence"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const transactionColumns = "seq, id, user_id, kind, amount, reference, notes, performed_by, source_transaction_id, created_at"

// querier is satisfied by *sql.DB and *sql.Tx so repository methods run the
// same both inside and outside a user lock.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ querier = (*sql.DB)(nil)
	_ querier = (*sql.Tx)(nil)
)

// userLocks hands out one mutex per user so wallet operations for the same
// user are serialized within this process.
type userLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func (l *userLocks) get(userID uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.locks[userID]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[userID] = mu
	}
	return mu
}

// TransactionRepository implements wallet.Repository against SQLite.
type TransactionRepository struct {
	querier querier
	db      *sql.DB // nil when scoped to a user lock transaction
	locks   *userLocks
	logger  *slog.Logger
}

// NewTransactionRepository creates a new SQLite-backed transaction repository.
func NewTransactionRepository(logger *slog.Logger, db *persistence.SQLiteDB) wallet.Repository {
	return &TransactionRepository{
		querier: db.DB(),
		db:      db.DB(),
		locks:   &userLocks{locks: make(map[uuid.UUID]*sync.Mutex)},
		logger:  logger,
	}
}

func (r *TransactionRepository) withTx(tx *sql.Tx) *TransactionRepository {
	return &TransactionRepository{
		querier: tx,
		locks:   r.locks,
		logger:  r.logger,
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Append persists a new transaction and fills in its assigned sequence number.
func (r *TransactionRepository) Append(ctx context.Context, transaction *wallet.Transaction) error {
	query := `
		INSERT INTO wallet_transactions (id, user_id, kind, amount, reference, notes, performed_by, source_transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var sourceID any
	if transaction.SourceTransactionID != nil {
		sourceID = transaction.SourceTransactionID.String()
	}

	result, err := r.querier.ExecContext(ctx, query,
		transaction.ID.String(),
		transaction.UserID.String(),
		string(transaction.Kind),
		transaction.Amount.String(),
		transaction.Reference,
		transaction.Notes,
		transaction.PerformedBy,
		sourceID,
		toMillis(transaction.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return wallet.ErrDuplicateOperation{
				UserID:    transaction.UserID,
				Kind:      transaction.Kind,
				Reference: transaction.Reference,
			}
		}
		r.logger.Error("Failed to append wallet transaction",
			"transaction_id", transaction.ID,
			"user_id", transaction.UserID,
			"error", err)
		return &wallet.StorageError{Op: "append transaction", Err: err}
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return &wallet.StorageError{Op: "append transaction", Err: err}
	}
	transaction.Seq = seq
	return nil
}

// GetByID retrieves a transaction by its unique identifier.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*wallet.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE id = ?
	`
	transaction, err := scanTransaction(r.querier.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wallet.ErrTransactionNotFound{ID: id}
		}
		r.logger.Error("Failed to get wallet transaction", "transaction_id", id, "error", err)
		return nil, &wallet.StorageError{Op: "get transaction", Err: err}
	}
	return transaction, nil
}

// ListByUser retrieves a user's transactions newest first. A non-positive
// limit returns the full history.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*wallet.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, seq DESC`
	args := []any{userID.String()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryTransactions(ctx, "list transactions", query, args...)
}

// ListAllByUser retrieves a user's full history oldest first, the order the
// balance fold consumes it in.
func (r *TransactionRepository) ListAllByUser(ctx context.Context, userID uuid.UUID) ([]*wallet.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE user_id = ?
		ORDER BY created_at ASC, seq ASC
	`
	return r.queryTransactions(ctx, "list transactions", query, userID.String())
}

// ListCreditsByUser retrieves only a user's credits, oldest first.
func (r *TransactionRepository) ListCreditsByUser(ctx context.Context, userID uuid.UUID) ([]*wallet.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE user_id = ? AND kind = ?
		ORDER BY created_at ASC, seq ASC
	`
	return r.queryTransactions(ctx, "list credits", query, userID.String(), string(wallet.KindCredit))
}

// FindByReference looks up the transaction recorded for an idempotency
// reference. It returns nil when the reference has never been used. System
// references never act as idempotency keys.
func (r *TransactionRepository) FindByReference(ctx context.Context, userID uuid.UUID, kind wallet.Kind, reference string) (*wallet.Transaction, error) {
	if reference == "" || wallet.IsSystemReference(reference) {
		return nil, nil
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE user_id = ? AND kind = ? AND reference = ?
	`
	transaction, err := scanTransaction(r.querier.QueryRowContext(ctx, query, userID.String(), string(kind), reference))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to find wallet transaction by reference",
			"user_id", userID,
			"reference", reference,
			"error", err)
		return nil, &wallet.StorageError{Op: "find by reference", Err: err}
	}
	return transaction, nil
}

// ListCreditHolders returns the IDs of every user that has at least one
// credit on record.
func (r *TransactionRepository) ListCreditHolders(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT user_id
		FROM wallet_transactions
		WHERE kind = ?
		ORDER BY user_id
	`
	rows, err := r.querier.QueryContext(ctx, query, string(wallet.KindCredit))
	if err != nil {
		r.logger.Error("Failed to list credit holders", "error", err)
		return nil, &wallet.StorageError{Op: "list credit holders", Err: err}
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, &wallet.StorageError{Op: "list credit holders", Err: err}
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			return nil, &wallet.StorageError{Op: "list credit holders", Err: fmt.Errorf("parse user id: %w", err)}
		}
		users = append(users, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, &wallet.StorageError{Op: "list credit holders", Err: err}
	}
	return users, nil
}

// WithUserLock serializes fn against every other wallet operation for the
// same user. fn runs inside a database transaction; returning an error rolls
// it back.
func (r *TransactionRepository) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(wallet.Repository) error) error {
	if r.db == nil {
		// Already holding this user's lock; run in place.
		return fn(r)
	}

	mu := r.locks.get(userID)
	mu.Lock()
	defer mu.Unlock()

	ensure := `INSERT OR IGNORE INTO wallet_users (user_id, created_at) VALUES (?, ?)`
	if _, err := r.querier.ExecContext(ctx, ensure, userID.String(), toMillis(time.Now())); err != nil {
		r.logger.Error("Failed to ensure wallet user row", "user_id", userID, "error", err)
		return &wallet.StorageError{Op: "ensure user row", Err: err}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &wallet.StorageError{Op: "begin user transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(r.withTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &wallet.StorageError{Op: "commit user transaction", Err: err}
	}
	return nil
}

func (r *TransactionRepository) queryTransactions(ctx context.Context, op, query string, args ...any) ([]*wallet.Transaction, error) {
	rows, err := r.querier.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query wallet transactions", "op", op, "error", err)
		return nil, &wallet.StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var transactions []*wallet.Transaction
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, &wallet.StorageError{Op: op, Err: err}
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, &wallet.StorageError{Op: op, Err: err}
	}
	return transactions, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*wallet.Transaction, error) {
	var (
		transaction wallet.Transaction
		id          string
		userID      string
		kind        string
		amount      string
		sourceID    sql.NullString
		createdAt   int64
	)
	if err := row.Scan(
		&transaction.Seq,
		&id,
		&userID,
		&kind,
		&amount,
		&transaction.Reference,
		&transaction.Notes,
		&transaction.PerformedBy,
		&sourceID,
		&createdAt,
	); err != nil {
		return nil, err
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse transaction id: %w", err)
	}
	parsedUserID, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	parsedAmount, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}

	transaction.ID = parsedID
	transaction.UserID = parsedUserID
	transaction.Kind = wallet.Kind(kind)
	transaction.Amount = parsedAmount
	transaction.CreatedAt = fromMillis(createdAt)
	if sourceID.Valid {
		parsedSourceID, err := uuid.Parse(sourceID.String)
		if err != nil {
			return nil, fmt.Errorf("parse source transaction id: %w", err)
		}
		transaction.SourceTransactionID = &parsedSourceID
	}
	return &transaction, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ wallet.Repository = (*TransactionRepository)(nil)
