package wallet

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind defines the direction of a ledger transaction
type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

// Reserved reference values. These mark system-generated transactions and are
// never treated as caller idempotency keys.
const (
	ReferenceExpired  = "expired"
	ReferenceReversal = "reversal"
)

// Transaction is one immutable entry in a user's wallet ledger. Rows are only
// ever appended; corrections are compensating transactions that point back at
// their source via SourceTransactionID.
type Transaction struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Kind   Kind      `json:"kind"`
	// Amount is strictly positive; the Kind carries the sign.
	Amount              decimal.Decimal `json:"amount"`
	Reference           string          `json:"reference,omitempty"`
	Notes               string          `json:"notes,omitempty"`
	PerformedBy         string          `json:"performed_by,omitempty"`
	SourceTransactionID *uuid.UUID      `json:"source_transaction_id,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	// Seq is the store-assigned insertion number. It breaks ordering ties
	// between transactions recorded in the same instant and is zero until
	// the transaction has been appended.
	Seq int64 `json:"seq,omitempty"`
}

// NewCredit creates a credit transaction that grants spendable balance
func NewCredit(userID uuid.UUID, amount decimal.Decimal, reference, notes, performedBy string, createdAt time.Time) (*Transaction, error) {
	if IsSystemReference(reference) {
		return nil, ErrReservedReference
	}
	return newTransaction(userID, KindCredit, amount, reference, notes, performedBy, nil, createdAt)
}

// NewDebit creates a debit transaction that spends balance
func NewDebit(userID uuid.UUID, amount decimal.Decimal, reference, notes, performedBy string, createdAt time.Time) (*Transaction, error) {
	if IsSystemReference(reference) {
		return nil, ErrReservedReference
	}
	return newTransaction(userID, KindDebit, amount, reference, notes, performedBy, nil, createdAt)
}

// NewReversal creates the compensating transaction for a previously recorded
// one: the opposite kind, the same amount, linked through SourceTransactionID.
// Reversing a debit yields a credit whose expiry clock starts at createdAt,
// not at the original credit's issuance.
func NewReversal(original *Transaction, notes, performedBy string, createdAt time.Time) (*Transaction, error) {
	if original == nil {
		return nil, ErrInvalidKind
	}
	kind := KindCredit
	if original.Kind == KindCredit {
		kind = KindDebit
	}
	sourceID := original.ID
	return newTransaction(original.UserID, kind, original.Amount, ReferenceReversal, notes, performedBy, &sourceID, createdAt)
}

// NewExpiryDebit forfeits the unspent remainder of an expired credit. The
// debit carries the credit's id as its source so the balance fold books the
// forfeit against that credit and a repeated sweep finds nothing left.
func NewExpiryDebit(credit *Transaction, remaining decimal.Decimal, performedBy string, createdAt time.Time) (*Transaction, error) {
	if credit == nil || credit.Kind != KindCredit {
		return nil, ErrInvalidKind
	}
	if remaining.GreaterThan(credit.Amount) {
		return nil, ErrInvalidAmount
	}
	sourceID := credit.ID
	return newTransaction(credit.UserID, KindDebit, remaining, ReferenceExpired, "credit expired", performedBy, &sourceID, createdAt)
}

func newTransaction(userID uuid.UUID, kind Kind, amount decimal.Decimal, reference, notes, performedBy string, sourceID *uuid.UUID, createdAt time.Time) (*Transaction, error) {
	if userID == uuid.Nil {
		return nil, ErrEmptyUserID
	}
	if kind != KindCredit && kind != KindDebit {
		return nil, ErrInvalidKind
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return &Transaction{
		ID:                  uuid.New(),
		UserID:              userID,
		Kind:                kind,
		Amount:              amount,
		Reference:           reference,
		Notes:               notes,
		PerformedBy:         performedBy,
		SourceTransactionID: sourceID,
		CreatedAt:           createdAt.UTC(),
	}, nil
}

// ExpiresAt returns the instant this transaction's credit stops being
// spendable, expiryMonths calendar months after issuance. The day of month is
// clamped to the end of shorter target months, so a credit issued Jan 31 with
// a one-month window expires Feb 28 (Feb 29 in leap years) rather than
// spilling into March. Only meaningful for credit transactions.
func (t *Transaction) ExpiresAt(expiryMonths int) time.Time {
	issued := t.CreatedAt.UTC()
	year, month, day := issued.Date()
	firstOfTarget := time.Date(year, month+time.Month(expiryMonths), 1, 0, 0, 0, 0, time.UTC)
	if lastDay := firstOfTarget.AddDate(0, 1, -1).Day(); day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day,
		issued.Hour(), issued.Minute(), issued.Second(), issued.Nanosecond(), time.UTC)
}

// IsSystemReference reports whether a reference value is reserved for
// system-generated transactions rather than usable as an idempotency key.
func IsSystemReference(reference string) bool {
	return reference == ReferenceExpired || reference == ReferenceReversal
}
