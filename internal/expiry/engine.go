// Package expiry implements the sweep that turns forfeited credit into
// recorded ledger transactions. Users are swept concurrently on a bounded
// worker pool; one user failing never aborts the sweep for the rest.
package expiry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"

	"github.com/storefront-wallet-ledger/internal/config"
	"github.com/storefront-wallet-ledger/internal/domain/wallet"
	"github.com/storefront-wallet-ledger/internal/ledger"
)

// UserFailure records one user the sweep could not process.
type UserFailure struct {
	UserID uuid.UUID
	Err    error
}

// Report summarizes one sweep run.
type Report struct {
	UsersScanned   int
	UsersSwept     int
	CreditsExpired int
	AmountExpired  decimal.Decimal
	Failures       []UserFailure
	Duration       time.Duration
}

// Engine drives expiry sweeps across every credit holder in the store.
type Engine struct {
	service   ledger.Service
	store     wallet.Repository
	pool      *ants.Pool
	walletCfg *config.WalletConfig
	logger    *slog.Logger
}

// NewEngine creates a sweep engine with a worker pool of the configured size
func NewEngine(logger *slog.Logger, service ledger.Service, store wallet.Repository, walletCfg *config.WalletConfig, sweepCfg *config.SweepConfig) (*Engine, error) {
	pool, err := ants.NewPool(sweepCfg.WorkerPoolSize)
	if err != nil {
		return nil, err
	}

	return &Engine{
		service:   service,
		store:     store,
		pool:      pool,
		walletCfg: walletCfg,
		logger:    logger,
	}, nil
}

// Sweep forfeits every credit remainder due at asOf, across all credit
// holders. Per-user failures are collected in the report and logged; only a
// failure to list the holders aborts the run. A zero asOf means now.
func (e *Engine) Sweep(ctx context.Context, asOf time.Time) (*Report, error) {
	if asOf.IsZero() {
		asOf = time.Now()
	}
	asOf = asOf.UTC()
	started := time.Now()

	holders, err := e.store.ListCreditHolders(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		UsersScanned:  len(holders),
		AmountExpired: decimal.Zero,
	}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, userID := range holders {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		submitErr := e.pool.Submit(func() {
			defer wg.Done()
			e.sweepUser(ctx, userID, asOf, report, &mu)
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			report.Failures = append(report.Failures, UserFailure{UserID: userID, Err: submitErr})
			mu.Unlock()
		}
	}
	wg.Wait()

	report.Duration = time.Since(started)
	e.logger.Info("Expiry sweep finished",
		"users_scanned", report.UsersScanned,
		"users_swept", report.UsersSwept,
		"credits_expired", report.CreditsExpired,
		"amount_expired", report.AmountExpired.String(),
		"failures", len(report.Failures),
		"duration", report.Duration)
	return report, nil
}

func (e *Engine) sweepUser(ctx context.Context, userID uuid.UUID, asOf time.Time, report *Report, mu *sync.Mutex) {
	due, err := e.hasCreditDue(ctx, userID, asOf)
	if err != nil {
		e.logger.Warn("Credit pre-screen failed, sweeping user anyway",
			"user_id", userID,
			"error", err)
	} else if !due {
		return
	}

	forfeits, err := e.service.ExpireDueCredits(ctx, userID, asOf)
	if err != nil {
		e.logger.Error("Failed to sweep user",
			"user_id", userID,
			"error", err)
		mu.Lock()
		report.Failures = append(report.Failures, UserFailure{UserID: userID, Err: err})
		mu.Unlock()
		return
	}
	if len(forfeits) == 0 {
		return
	}

	total := decimal.Zero
	for _, forfeit := range forfeits {
		total = total.Add(forfeit.Amount)
	}
	mu.Lock()
	report.UsersSwept++
	report.CreditsExpired += len(forfeits)
	report.AmountExpired = report.AmountExpired.Add(total)
	mu.Unlock()
}

// hasCreditDue reports whether the user's oldest credit has reached its
// expiry date at asOf. Expiry dates follow issuance order, so when the oldest
// grant is still live nothing can be due and the user's lock is never taken.
func (e *Engine) hasCreditDue(ctx context.Context, userID uuid.UUID, asOf time.Time) (bool, error) {
	credits, err := e.store.ListCreditsByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(credits) == 0 {
		return false, nil
	}
	return !asOf.Before(credits[0].ExpiresAt(e.walletCfg.ExpiryMonths)), nil
}

// Close releases the worker pool
func (e *Engine) Close() {
	e.logger.Info("Shutting down expiry engine", "running_workers", e.pool.Running())
	e.pool.Release()
}
