package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storefront-wallet-ledger/internal/domain/wallet"
)

// Service exposes the wallet ledger operations. Every mutation is serialized
// per user and emits one audit event; reads never block writers.
type Service interface {
	// Issue grants store credit to a user. The reference is an idempotency
	// key: repeating an issue with the same reference returns the credit
	// already recorded instead of granting twice. An empty reference is
	// never deduplicated.
	Issue(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reference, notes, performedBy string) (*wallet.Transaction, error)

	// Redeem spends credit against the user's oldest live grants. The
	// reference is an idempotency key scoped to debits, so a retried
	// redemption is returned instead of re-applied. It returns the debit
	// together with the balance left after it.
	Redeem(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reference, notes, performedBy string) (*wallet.Transaction, wallet.Balance, error)

	// GetBalance derives the user's spendable balance at asOf, with a
	// preview of credit expiring inside the configured look-ahead window.
	// A zero asOf means now.
	GetBalance(ctx context.Context, userID uuid.UUID, asOf time.Time) (wallet.Balance, error)

	// GetTransactions returns the user's ledger history newest first.
	// A non-positive limit returns the full history.
	GetTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*wallet.Transaction, error)

	// Reverse appends the compensating transaction for a previously
	// recorded credit or debit. The original row is never touched.
	// Reversing the same transaction again returns the reversal already
	// recorded. System transactions cannot be reversed.
	Reverse(ctx context.Context, transactionID uuid.UUID, notes, performedBy string) (*wallet.Transaction, error)

	// ExpireDueCredits forfeits the unspent remainder of every credit of
	// one user whose expiry date has passed at asOf, recording one debit
	// per forfeited credit. A repeated sweep finds nothing left and
	// appends nothing. A zero asOf means now.
	ExpireDueCredits(ctx context.Context, userID uuid.UUID, asOf time.Time) ([]*wallet.Transaction, error)
}
