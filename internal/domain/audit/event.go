package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/storefront-wallet-ledger/internal/domain/wallet"
)

// Action defines the audited wallet operations
type Action string

const (
	ActionCreditIssued   Action = "credit_issued"
	ActionCreditRedeemed Action = "credit_redeemed"
	ActionCreditReversed Action = "credit_reversed"
	ActionCreditExpired  Action = "credit_expired"
)

// Event is the record emitted for every mutating wallet operation: who did
// what to whose balance, when, and the transaction it produced. Amount is
// carried as a formatted decimal string so no precision is lost in transit.
type Event struct {
	ID            uuid.UUID `json:"event_id" bson:"event_id"`
	Action        Action    `json:"action" bson:"action"`
	Actor         string    `json:"actor" bson:"actor"`
	UserID        uuid.UUID `json:"target_user" bson:"target_user"`
	TransactionID uuid.UUID `json:"transaction_id" bson:"transaction_id"`
	Kind          string    `json:"kind" bson:"kind"`
	Amount        string    `json:"amount" bson:"amount"`
	Reference     string    `json:"reference,omitempty" bson:"reference,omitempty"`
	Notes         string    `json:"notes,omitempty" bson:"notes,omitempty"`
	OccurredAt    time.Time `json:"occurred_at" bson:"occurred_at"`
}

// NewEvent builds the audit record for a freshly appended ledger transaction
func NewEvent(action Action, actor string, transaction *wallet.Transaction) *Event {
	return &Event{
		ID:            uuid.New(),
		Action:        action,
		Actor:         actor,
		UserID:        transaction.UserID,
		TransactionID: transaction.ID,
		Kind:          string(transaction.Kind),
		Amount:        transaction.Amount.String(),
		Reference:     transaction.Reference,
		Notes:         transaction.Notes,
		OccurredAt:    transaction.CreatedAt,
	}
}
