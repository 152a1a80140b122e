package wallet

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditStanding is the derived state of one credit after replaying every
// debit recorded against the ledger.
type CreditStanding struct {
	Credit    *Transaction
	Remaining decimal.Decimal
	ExpiresAt time.Time
}

// Expired reports whether the credit's remainder is forfeited at the given instant.
func (s CreditStanding) Expired(asOf time.Time) bool {
	return !asOf.Before(s.ExpiresAt)
}

// ExpiringCredit is one balance line item for credit that is about to expire.
type ExpiringCredit struct {
	Amount    decimal.Decimal `json:"amount"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Balance is the spendable view of a user's ledger at a point in time. It is
// always derived from the transaction history and never stored.
type Balance struct {
	Spendable    decimal.Decimal  `json:"spendable"`
	ExpiringSoon []ExpiringCredit `json:"expiring_soon,omitempty"`
	AsOf         time.Time        `json:"as_of"`
}

// Standings replays a user's full history oldest-first and returns the
// remaining amount and expiry date of every credit, in issuance order.
//
// Debits draw balance down first-in-first-out: an ordinary debit consumes the
// oldest credit that was still spendable at the moment the debit was recorded.
// A debit that carries a source transaction id (an expiry forfeit or a credit
// reversal) consumes that credit's remainder directly, so a forfeit never
// touches younger credit and a second sweep of the same credit finds nothing
// left to take.
func Standings(transactions []*Transaction, expiryMonths int) []CreditStanding {
	ordered := make([]*Transaction, len(transactions))
	copy(ordered, transactions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].Seq < ordered[j].Seq
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	standings := make([]CreditStanding, 0, len(ordered))
	creditIndex := make(map[uuid.UUID]int)
	for _, tx := range ordered {
		switch tx.Kind {
		case KindCredit:
			creditIndex[tx.ID] = len(standings)
			standings = append(standings, CreditStanding{
				Credit:    tx,
				Remaining: tx.Amount,
				ExpiresAt: tx.ExpiresAt(expiryMonths),
			})
		case KindDebit:
			left := tx.Amount
			if tx.SourceTransactionID != nil {
				if i, ok := creditIndex[*tx.SourceTransactionID]; ok {
					left = standings[i].draw(left)
				}
			}
			for i := range standings {
				if !left.IsPositive() {
					break
				}
				if standings[i].Expired(tx.CreatedAt) {
					continue
				}
				left = standings[i].draw(left)
			}
			// A debit larger than the balance alive at its timestamp only
			// happens on corrupted input. Spill the excess over whatever
			// remains, oldest first, so credit totals stay conserved instead
			// of a remainder going negative.
			for i := range standings {
				if !left.IsPositive() {
					break
				}
				left = standings[i].draw(left)
			}
		}
	}
	return standings
}

// draw takes up to amount from the credit's remainder and returns what is
// still owed.
func (s *CreditStanding) draw(amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() || !s.Remaining.IsPositive() {
		return amount
	}
	take := decimal.Min(s.Remaining, amount)
	s.Remaining = s.Remaining.Sub(take)
	return amount.Sub(take)
}

// ComputeBalance folds a transaction history into the user's spendable
// balance at asOf, with a preview of the credit expiring inside the
// look-ahead window. Remainders of credits past their expiry date are
// excluded whether or not a sweep has recorded the forfeit yet, so a balance
// read between sweeps never shows expired funds.
func ComputeBalance(transactions []*Transaction, asOf time.Time, expiryMonths int, expiringWithin time.Duration) Balance {
	asOf = asOf.UTC()
	balance := Balance{Spendable: decimal.Zero, AsOf: asOf}
	horizon := asOf.Add(expiringWithin)
	for _, standing := range Standings(transactions, expiryMonths) {
		if !standing.Remaining.IsPositive() || standing.Expired(asOf) {
			continue
		}
		balance.Spendable = balance.Spendable.Add(standing.Remaining)
		if !standing.ExpiresAt.After(horizon) {
			balance.ExpiringSoon = append(balance.ExpiringSoon, ExpiringCredit{
				Amount:    standing.Remaining,
				ExpiresAt: standing.ExpiresAt,
			})
		}
	}
	return balance
}
