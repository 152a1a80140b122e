// Package postgres provides the PostgreSQL implementation of the wallet
// transaction store. The ledger table is append-only; rows are never updated
// or deleted, and per-user serialization is obtained by locking the user's
// marker row inside a transaction.
package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/storefront-wallet-ledger/internal/domain/wallet"
	"github.com/storefront-wallet-ledger/internal/platform/persistence"
)

const uniqueViolationCode = "23505"

const transactionColumns = "seq, id, user_id, kind, amount, reference, notes, performed_by, source_transaction_id, created_at"

// TransactionRepository implements the wallet.Repository interface for PostgreSQL
type TransactionRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	db      *persistence.PostgresDB
	logger  *slog.Logger
}

// NewTransactionRepository creates a new PostgreSQL transaction repository.
// It expects db.Pool() to satisfy persistence.Querier.
func NewTransactionRepository(logger *slog.Logger, db *persistence.PostgresDB) wallet.Repository {
	return &TransactionRepository{
		querier: db.Pool(), // Initialize with the pool
		db:      db,
		logger:  logger,
	}
}

// withTx wraps the repository with a transaction so every call inside a user
// lock runs on the same connection. The wrapped repository cannot open
// another transaction.
func (r *TransactionRepository) withTx(tx pgx.Tx) *TransactionRepository {
	return &TransactionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Append stores one immutable ledger transaction and fills in its Seq
func (r *TransactionRepository) Append(ctx context.Context, transaction *wallet.Transaction) error {
	query := `
		INSERT INTO wallet_transactions (id, user_id, kind, amount, reference, notes, performed_by, source_transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq
	`

	err := r.querier.QueryRow(ctx, query,
		transaction.ID,
		transaction.UserID,
		transaction.Kind,
		transaction.Amount,
		transaction.Reference,
		transaction.Notes,
		transaction.PerformedBy,
		transaction.SourceTransactionID,
		transaction.CreatedAt,
	).Scan(&transaction.Seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return wallet.ErrDuplicateOperation{
				UserID:    transaction.UserID,
				Kind:      transaction.Kind,
				Reference: transaction.Reference,
			}
		}
		r.logger.Error("Failed to append transaction", "id", transaction.ID.String(), "error", err)
		return &wallet.StorageError{Op: "append transaction", Err: err}
	}

	return nil
}

// GetByID retrieves a transaction by its ID
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*wallet.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE id = $1
	`

	transaction, err := scanTransaction(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrTransactionNotFound{ID: id}
		}
		r.logger.Error("Failed to get transaction", "id", id.String(), "error", err)
		return nil, &wallet.StorageError{Op: "get transaction", Err: err}
	}

	return transaction, nil
}

// ListByUser retrieves a user's transactions newest-first. A non-positive
// limit returns the full history.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*wallet.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC
	`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	return r.queryTransactions(ctx, "list transactions", query, args...)
}

// ListAllByUser retrieves a user's full history oldest-first, the order the
// balance fold replays it in
func (r *TransactionRepository) ListAllByUser(ctx context.Context, userID uuid.UUID) ([]*wallet.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at ASC, seq ASC
	`

	return r.queryTransactions(ctx, "list history", query, userID)
}

// ListCreditsByUser retrieves only the user's credit transactions oldest-first
func (r *TransactionRepository) ListCreditsByUser(ctx context.Context, userID uuid.UUID) ([]*wallet.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE user_id = $1 AND kind = $2
		ORDER BY created_at ASC, seq ASC
	`

	return r.queryTransactions(ctx, "list credits", query, userID, wallet.KindCredit)
}

// FindByReference looks up the transaction recorded under an idempotency
// reference. Returns nil, nil when the reference was never used; reserved
// system references never match.
func (r *TransactionRepository) FindByReference(ctx context.Context, userID uuid.UUID, kind wallet.Kind, reference string) (*wallet.Transaction, error) {
	if reference == "" || wallet.IsSystemReference(reference) {
		return nil, nil
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE user_id = $1 AND kind = $2 AND reference = $3
	`

	transaction, err := scanTransaction(r.querier.QueryRow(ctx, query, userID, kind, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Reference never used; not an error
		}
		r.logger.Error("Failed to find transaction by reference", "user_id", userID.String(), "reference", reference, "error", err)
		return nil, &wallet.StorageError{Op: "find by reference", Err: err}
	}

	return transaction, nil
}

// ListCreditHolders retrieves the ids of every user that has ever been issued credit
func (r *TransactionRepository) ListCreditHolders(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT user_id
		FROM wallet_transactions
		WHERE kind = $1
		ORDER BY user_id
	`

	rows, err := r.querier.Query(ctx, query, wallet.KindCredit)
	if err != nil {
		r.logger.Error("Failed to list credit holders", "error", err)
		return nil, &wallet.StorageError{Op: "list credit holders", Err: err}
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			r.logger.Error("Failed to scan credit holder", "error", err)
			return nil, &wallet.StorageError{Op: "list credit holders", Err: err}
		}
		users = append(users, userID)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over credit holders", "error", err)
		return nil, &wallet.StorageError{Op: "list credit holders", Err: err}
	}

	return users, nil
}

// WithUserLock serializes fn against every other mutation of the same user's
// ledger. It upserts the user's marker row, takes its row lock inside a
// transaction, and hands fn a repository bound to that transaction, so
// everything fn appends commits or rolls back as one unit.
func (r *TransactionRepository) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(wallet.Repository) error) error {
	if r.db == nil {
		// Already inside a user lock transaction; re-locking the row is a
		// no-op for the holder.
		if err := r.lockUserRow(ctx, userID); err != nil {
			return err
		}
		return fn(r)
	}

	return r.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		txRepo := r.withTx(tx)
		if err := txRepo.lockUserRow(ctx, userID); err != nil {
			return err
		}
		return fn(txRepo)
	})
}

// lockUserRow blocks until the caller holds the exclusive row lock for the
// user. The marker row is created on first contact.
func (r *TransactionRepository) lockUserRow(ctx context.Context, userID uuid.UUID) error {
	insert := `
		INSERT INTO wallet_users (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.querier.Exec(ctx, insert, userID); err != nil {
		r.logger.Error("Failed to ensure wallet user row", "user_id", userID.String(), "error", err)
		return &wallet.StorageError{Op: "lock user", Err: err}
	}

	lock := `
		SELECT user_id
		FROM wallet_users
		WHERE user_id = $1
		FOR UPDATE
	`
	var locked uuid.UUID
	if err := r.querier.QueryRow(ctx, lock, userID).Scan(&locked); err != nil {
		r.logger.Error("Failed to lock wallet user row", "user_id", userID.String(), "error", err)
		return &wallet.StorageError{Op: "lock user", Err: err}
	}

	return nil
}

func (r *TransactionRepository) queryTransactions(ctx context.Context, op string, query string, args ...interface{}) ([]*wallet.Transaction, error) {
	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query transactions", "op", op, "error", err)
		return nil, &wallet.StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var transactions []*wallet.Transaction
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			r.logger.Error("Failed to scan transaction", "op", op, "error", err)
			return nil, &wallet.StorageError{Op: op, Err: err}
		}
		transactions = append(transactions, transaction)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over transactions", "op", op, "error", err)
		return nil, &wallet.StorageError{Op: op, Err: err}
	}

	return transactions, nil
}

func scanTransaction(row pgx.Row) (*wallet.Transaction, error) {
	var transaction wallet.Transaction
	err := row.Scan(
		&transaction.Seq,
		&transaction.ID,
		&transaction.UserID,
		&transaction.Kind,
		&transaction.Amount,
		&transaction.Reference,
		&transaction.Notes,
		&transaction.PerformedBy,
		&transaction.SourceTransactionID,
		&transaction.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &transaction, nil
}
