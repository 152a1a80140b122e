package wallet

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the append-only store behind the ledger. Implementations never
// update or delete rows; every state change is a new transaction.
type Repository interface {
	// Append persists one immutable transaction and fills in its Seq.
	Append(ctx context.Context, transaction *Transaction) error

	// GetByID returns a single transaction or ErrTransactionNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// ListByUser returns a user's transactions newest-first. A non-positive
	// limit returns the full history.
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Transaction, error)

	// ListAllByUser returns a user's full history oldest-first, the order the
	// balance fold replays it in.
	ListAllByUser(ctx context.Context, userID uuid.UUID) ([]*Transaction, error)

	// ListCreditsByUser returns only the user's credit transactions,
	// oldest-first. The expiry sweep uses it to decide cheaply whether a user
	// can have anything due.
	ListCreditsByUser(ctx context.Context, userID uuid.UUID) ([]*Transaction, error)

	// FindByReference looks up the transaction recorded under an idempotency
	// reference, or nil when the reference was never used. Reserved system
	// references never match.
	FindByReference(ctx context.Context, userID uuid.UUID, kind Kind, reference string) (*Transaction, error)

	// ListCreditHolders returns the ids of every user that has ever been
	// issued credit.
	ListCreditHolders(ctx context.Context) ([]uuid.UUID, error)

	// WithUserLock runs fn while holding an exclusive lock on the user's
	// ledger, serializing it against every other mutation for the same user.
	// fn receives a Repository bound to the lock's transaction scope; an
	// error from fn rolls back everything it appended.
	WithUserLock(ctx context.Context, userID uuid.UUID, fn func(Repository) error) error
}
