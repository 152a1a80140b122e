// Package ledger implements the wallet ledger service: issuing, redeeming,
// reversing and expiring store credit on top of an append-only transaction
// store, with per-user serialization and an audit trail for every mutation.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storefront-wallet-ledger/internal/config"
	"github.com/storefront-wallet-ledger/internal/domain/audit"
	"github.com/storefront-wallet-ledger/internal/domain/wallet"
)

// sweepActor is recorded as the performer of expiry forfeits and as the actor
// of their audit events.
const sweepActor = "expiry_sweep"

// ServiceImpl implements the Service interface
type ServiceImpl struct {
	store  wallet.Repository
	sink   audit.Sink
	cfg    *config.WalletConfig
	logger *slog.Logger
}

// NewService creates a ledger service on top of a transaction store. The sink
// receives one audit event per mutation and may be nil, in which case no
// trail is emitted.
func NewService(logger *slog.Logger, store wallet.Repository, sink audit.Sink, cfg *config.WalletConfig) Service {
	return &ServiceImpl{
		store:  store,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
	}
}

// Issue grants store credit to a user, replaying the recorded credit when the
// reference was already used
func (s *ServiceImpl) Issue(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reference, notes, performedBy string) (*wallet.Transaction, error) {
	if userID == uuid.Nil {
		return nil, wallet.ErrEmptyUserID
	}
	if !amount.IsPositive() {
		return nil, wallet.ErrInvalidAmount
	}
	if wallet.IsSystemReference(reference) {
		return nil, wallet.ErrReservedReference
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	var (
		credit *wallet.Transaction
		replay bool
	)
	err := s.store.WithUserLock(ctx, userID, func(store wallet.Repository) error {
		if reference != "" {
			existing, err := store.FindByReference(ctx, userID, wallet.KindCredit, reference)
			if err != nil {
				return err
			}
			if existing != nil {
				credit = existing
				replay = true
				return nil
			}
		}

		tx, err := wallet.NewCredit(userID, amount, reference, notes, performedBy, time.Now())
		if err != nil {
			return err
		}
		if err := store.Append(ctx, tx); err != nil {
			return err
		}
		credit = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	if replay {
		s.logger.Info("Replayed credit issue",
			"user_id", userID,
			"reference", reference,
			"transaction_id", credit.ID)
		return credit, nil
	}

	s.logger.Info("Issued credit",
		"user_id", userID,
		"transaction_id", credit.ID,
		"amount", credit.Amount.String(),
		"reference", reference)
	s.recordAudit(ctx, audit.ActionCreditIssued, performedBy, credit)
	return credit, nil
}

// Redeem spends credit FIFO against the user's oldest live grants, replaying
// the recorded debit when the reference was already used
func (s *ServiceImpl) Redeem(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reference, notes, performedBy string) (*wallet.Transaction, wallet.Balance, error) {
	if userID == uuid.Nil {
		return nil, wallet.Balance{}, wallet.ErrEmptyUserID
	}
	if !amount.IsPositive() {
		return nil, wallet.Balance{}, wallet.ErrInvalidAmount
	}
	if wallet.IsSystemReference(reference) {
		return nil, wallet.Balance{}, wallet.ErrReservedReference
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	var (
		debit   *wallet.Transaction
		balance wallet.Balance
		replay  bool
	)
	err := s.store.WithUserLock(ctx, userID, func(store wallet.Repository) error {
		now := time.Now().UTC()

		if reference != "" {
			existing, err := store.FindByReference(ctx, userID, wallet.KindDebit, reference)
			if err != nil {
				return err
			}
			if existing != nil {
				history, err := store.ListAllByUser(ctx, userID)
				if err != nil {
					return err
				}
				debit = existing
				balance = s.computeBalance(history, now)
				replay = true
				return nil
			}
		}

		history, err := store.ListAllByUser(ctx, userID)
		if err != nil {
			return err
		}
		current := s.computeBalance(history, now)
		if current.Spendable.LessThan(amount) {
			return wallet.ErrInsufficientBalance{
				UserID:    userID,
				Requested: amount,
				Available: current.Spendable,
			}
		}

		tx, err := wallet.NewDebit(userID, amount, reference, notes, performedBy, now)
		if err != nil {
			return err
		}
		if err := store.Append(ctx, tx); err != nil {
			return err
		}
		debit = tx
		balance = s.computeBalance(append(history, tx), now)
		return nil
	})
	if err != nil {
		return nil, wallet.Balance{}, err
	}

	if replay {
		s.logger.Info("Replayed credit redemption",
			"user_id", userID,
			"reference", reference,
			"transaction_id", debit.ID)
		return debit, balance, nil
	}

	s.logger.Info("Redeemed credit",
		"user_id", userID,
		"transaction_id", debit.ID,
		"amount", debit.Amount.String(),
		"reference", reference,
		"spendable_after", balance.Spendable.String())
	s.recordAudit(ctx, audit.ActionCreditRedeemed, performedBy, debit)
	return debit, balance, nil
}

// GetBalance derives the user's spendable balance at asOf from the full
// transaction history. It takes no user lock; an append racing the read moves
// the balance from one consistent value to the next.
func (s *ServiceImpl) GetBalance(ctx context.Context, userID uuid.UUID, asOf time.Time) (wallet.Balance, error) {
	if userID == uuid.Nil {
		return wallet.Balance{}, wallet.ErrEmptyUserID
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	if asOf.IsZero() {
		asOf = time.Now()
	}
	history, err := s.store.ListAllByUser(ctx, userID)
	if err != nil {
		return wallet.Balance{}, err
	}
	return s.computeBalance(history, asOf), nil
}

// GetTransactions returns the user's ledger history newest first
func (s *ServiceImpl) GetTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*wallet.Transaction, error) {
	if userID == uuid.Nil {
		return nil, wallet.ErrEmptyUserID
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	return s.store.ListByUser(ctx, userID, limit)
}

// Reverse appends the compensating transaction for a previously recorded
// credit or debit. Reversing a credit debits its full amount, so the user's
// remaining balance must cover it; reversing a debit restores the amount as a
// fresh credit whose expiry clock starts now.
func (s *ServiceImpl) Reverse(ctx context.Context, transactionID uuid.UUID, notes, performedBy string) (*wallet.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	original, err := s.store.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if wallet.IsSystemReference(original.Reference) {
		return nil, wallet.ErrNotReversible
	}

	var (
		reversal *wallet.Transaction
		replay   bool
	)
	err = s.store.WithUserLock(ctx, original.UserID, func(store wallet.Repository) error {
		now := time.Now().UTC()
		history, err := store.ListAllByUser(ctx, original.UserID)
		if err != nil {
			return err
		}
		for _, tx := range history {
			if tx.Reference == wallet.ReferenceReversal &&
				tx.SourceTransactionID != nil && *tx.SourceTransactionID == original.ID {
				reversal = tx
				replay = true
				return nil
			}
		}

		if original.Kind == wallet.KindCredit {
			current := s.computeBalance(history, now)
			if current.Spendable.LessThan(original.Amount) {
				return wallet.ErrInsufficientBalance{
					UserID:    original.UserID,
					Requested: original.Amount,
					Available: current.Spendable,
				}
			}
		}

		tx, err := wallet.NewReversal(original, notes, performedBy, now)
		if err != nil {
			return err
		}
		if err := store.Append(ctx, tx); err != nil {
			return err
		}
		reversal = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	if replay {
		s.logger.Info("Replayed reversal",
			"user_id", original.UserID,
			"source_transaction_id", original.ID,
			"transaction_id", reversal.ID)
		return reversal, nil
	}

	s.logger.Info("Reversed transaction",
		"user_id", original.UserID,
		"source_transaction_id", original.ID,
		"transaction_id", reversal.ID,
		"amount", reversal.Amount.String())
	s.recordAudit(ctx, audit.ActionCreditReversed, performedBy, reversal)
	return reversal, nil
}

// ExpireDueCredits forfeits the unspent remainder of every credit of one user
// whose expiry date has passed at asOf. Forfeits are booked against their
// source credit, so a second sweep of the same ledger appends nothing.
func (s *ServiceImpl) ExpireDueCredits(ctx context.Context, userID uuid.UUID, asOf time.Time) ([]*wallet.Transaction, error) {
	if userID == uuid.Nil {
		return nil, wallet.ErrEmptyUserID
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	if asOf.IsZero() {
		asOf = time.Now()
	}
	asOf = asOf.UTC()

	var forfeits []*wallet.Transaction
	err := s.store.WithUserLock(ctx, userID, func(store wallet.Repository) error {
		history, err := store.ListAllByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, standing := range wallet.Standings(history, s.cfg.ExpiryMonths) {
			if !standing.Remaining.IsPositive() || !standing.Expired(asOf) {
				continue
			}
			forfeit, err := wallet.NewExpiryDebit(standing.Credit, standing.Remaining, sweepActor, asOf)
			if err != nil {
				return err
			}
			if err := store.Append(ctx, forfeit); err != nil {
				return err
			}
			forfeits = append(forfeits, forfeit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, forfeit := range forfeits {
		s.logger.Info("Expired credit",
			"user_id", userID,
			"credit_id", forfeit.SourceTransactionID,
			"forfeited", forfeit.Amount.String())
		s.recordAudit(ctx, audit.ActionCreditExpired, sweepActor, forfeit)
	}
	return forfeits, nil
}

// recordAudit emits one audit event for a freshly appended transaction. Audit
// failure never fails the ledger operation, but it is a compliance problem,
// so it is logged at error level.
func (s *ServiceImpl) recordAudit(ctx context.Context, action audit.Action, actor string, transaction *wallet.Transaction) {
	if s.sink == nil {
		return
	}
	event := audit.NewEvent(action, actor, transaction)
	if err := s.sink.Record(ctx, event); err != nil {
		s.logger.Error("Failed to record audit event, trail is incomplete",
			"action", string(action),
			"event_id", event.ID,
			"transaction_id", transaction.ID,
			"user_id", transaction.UserID,
			"error", err)
	}
}

func (s *ServiceImpl) computeBalance(history []*wallet.Transaction, asOf time.Time) wallet.Balance {
	expiringWithin := time.Duration(s.cfg.ExpiringSoonDays) * 24 * time.Hour
	return wallet.ComputeBalance(history, asOf, s.cfg.ExpiryMonths, expiringWithin)
}

var _ Service = (*ServiceImpl)(nil)
