package wallet

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCredit(t *testing.T) {
	userID := uuid.New()
	issuedAt := time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

	t.Run("SuccessfulCreation", func(t *testing.T) {
		tx, err := NewCredit(userID, decimal.NewFromInt(50), "promo-2025-03", "spring promotion", "admin:lea", issuedAt)

		require.NoError(t, err)
		require.NotNil(t, tx)

		assert.NotEqual(t, uuid.Nil, tx.ID, "Transaction ID should not be nil")
		assert.Equal(t, userID, tx.UserID)
		assert.Equal(t, KindCredit, tx.Kind)
		assert.True(t, tx.Amount.Equal(decimal.NewFromInt(50)))
		assert.Equal(t, "promo-2025-03", tx.Reference)
		assert.Equal(t, "spring promotion", tx.Notes)
		assert.Equal(t, "admin:lea", tx.PerformedBy)
		assert.Nil(t, tx.SourceTransactionID)
		assert.Equal(t, issuedAt, tx.CreatedAt)
		assert.Equal(t, time.UTC, tx.CreatedAt.Location(), "CreatedAt should be normalized to UTC")
	})

	t.Run("ZeroTimestampDefaultsToNow", func(t *testing.T) {
		before := time.Now()
		tx, err := NewCredit(userID, decimal.NewFromInt(10), "", "", "", time.Time{})
		after := time.Now()

		require.NoError(t, err)
		assert.WithinDuration(t, before, tx.CreatedAt, after.Sub(before)+time.Millisecond)
	})

	t.Run("EmptyUserRejected", func(t *testing.T) {
		tx, err := NewCredit(uuid.Nil, decimal.NewFromInt(10), "", "", "", issuedAt)

		assert.ErrorIs(t, err, ErrEmptyUserID)
		assert.Nil(t, tx)
	})

	t.Run("NonPositiveAmountRejected", func(t *testing.T) {
		for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-25)} {
			tx, err := NewCredit(userID, amount, "", "", "", issuedAt)

			assert.ErrorIs(t, err, ErrInvalidAmount)
			assert.Nil(t, tx)
		}
	})

	t.Run("ReservedReferenceRejected", func(t *testing.T) {
		for _, reference := range []string{ReferenceExpired, ReferenceReversal} {
			tx, err := NewCredit(userID, decimal.NewFromInt(10), reference, "", "", issuedAt)

			assert.ErrorIs(t, err, ErrReservedReference)
			assert.Nil(t, tx)
		}
	})
}

func TestNewDebit(t *testing.T) {
	userID := uuid.New()
	at := time.Date(2025, time.March, 12, 14, 0, 0, 0, time.UTC)

	t.Run("SuccessfulCreation", func(t *testing.T) {
		tx, err := NewDebit(userID, decimal.RequireFromString("19.99"), "order-1042", "", "checkout", at)

		require.NoError(t, err)
		assert.Equal(t, KindDebit, tx.Kind)
		assert.True(t, tx.Amount.Equal(decimal.RequireFromString("19.99")))
		assert.Nil(t, tx.SourceTransactionID)
	})

	t.Run("NegativeAmountRejected", func(t *testing.T) {
		tx, err := NewDebit(userID, decimal.NewFromInt(-1), "", "", "", at)

		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.Nil(t, tx)
	})

	t.Run("ReservedReferenceRejected", func(t *testing.T) {
		tx, err := NewDebit(userID, decimal.NewFromInt(5), ReferenceExpired, "", "", at)

		assert.ErrorIs(t, err, ErrReservedReference)
		assert.Nil(t, tx)
	})
}

func TestNewReversal(t *testing.T) {
	userID := uuid.New()
	at := time.Date(2025, time.April, 1, 8, 0, 0, 0, time.UTC)

	t.Run("ReversingCreditProducesDebit", func(t *testing.T) {
		original, err := NewCredit(userID, decimal.NewFromInt(75), "promo-a", "", "admin", at)
		require.NoError(t, err)

		reversal, err := NewReversal(original, "issued in error", "admin:sam", at.Add(time.Hour))

		require.NoError(t, err)
		assert.Equal(t, KindDebit, reversal.Kind)
		assert.Equal(t, userID, reversal.UserID)
		assert.True(t, reversal.Amount.Equal(original.Amount))
		assert.Equal(t, ReferenceReversal, reversal.Reference)
		require.NotNil(t, reversal.SourceTransactionID)
		assert.Equal(t, original.ID, *reversal.SourceTransactionID)
	})

	t.Run("ReversingDebitProducesCredit", func(t *testing.T) {
		original, err := NewDebit(userID, decimal.NewFromInt(30), "order-77", "", "checkout", at)
		require.NoError(t, err)

		reversal, err := NewReversal(original, "order cancelled", "admin:sam", at.Add(2*time.Hour))

		require.NoError(t, err)
		assert.Equal(t, KindCredit, reversal.Kind)
		require.NotNil(t, reversal.SourceTransactionID)
		assert.Equal(t, original.ID, *reversal.SourceTransactionID)
		assert.Equal(t, at.Add(2*time.Hour), reversal.CreatedAt, "reversal credit expiry clock starts at reversal time")
	})

	t.Run("NilOriginalRejected", func(t *testing.T) {
		reversal, err := NewReversal(nil, "", "", at)

		assert.ErrorIs(t, err, ErrInvalidKind)
		assert.Nil(t, reversal)
	})
}

func TestNewExpiryDebit(t *testing.T) {
	userID := uuid.New()
	issuedAt := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

	t.Run("SuccessfulForfeit", func(t *testing.T) {
		credit, err := NewCredit(userID, decimal.NewFromInt(100), "", "", "admin", issuedAt)
		require.NoError(t, err)

		forfeit, err := NewExpiryDebit(credit, decimal.NewFromInt(40), "expiry_sweep", issuedAt.AddDate(1, 0, 0))

		require.NoError(t, err)
		assert.Equal(t, KindDebit, forfeit.Kind)
		assert.True(t, forfeit.Amount.Equal(decimal.NewFromInt(40)))
		assert.Equal(t, ReferenceExpired, forfeit.Reference)
		require.NotNil(t, forfeit.SourceTransactionID)
		assert.Equal(t, credit.ID, *forfeit.SourceTransactionID)
	})

	t.Run("RemainderAboveCreditRejected", func(t *testing.T) {
		credit, err := NewCredit(userID, decimal.NewFromInt(100), "", "", "admin", issuedAt)
		require.NoError(t, err)

		forfeit, err := NewExpiryDebit(credit, decimal.NewFromInt(101), "expiry_sweep", issuedAt.AddDate(1, 0, 0))

		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.Nil(t, forfeit)
	})

	t.Run("DebitSourceRejected", func(t *testing.T) {
		source, err := NewDebit(userID, decimal.NewFromInt(20), "", "", "checkout", issuedAt)
		require.NoError(t, err)

		forfeit, err := NewExpiryDebit(source, decimal.NewFromInt(20), "expiry_sweep", issuedAt.AddDate(1, 0, 0))

		assert.ErrorIs(t, err, ErrInvalidKind)
		assert.Nil(t, forfeit)
	})
}

func TestTransaction_ExpiresAt(t *testing.T) {
	cases := []struct {
		name     string
		issued   time.Time
		months   int
		expected time.Time
	}{
		{
			name:     "MidMonthKeepsDay",
			issued:   time.Date(2025, time.March, 15, 10, 20, 30, 0, time.UTC),
			months:   12,
			expected: time.Date(2026, time.March, 15, 10, 20, 30, 0, time.UTC),
		},
		{
			name:     "JanThirtyFirstClampsToFebruary",
			issued:   time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC),
			months:   1,
			expected: time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "ClampUsesLeapDayWhenAvailable",
			issued:   time.Date(2023, time.December, 31, 6, 0, 0, 0, time.UTC),
			months:   2,
			expected: time.Date(2024, time.February, 29, 6, 0, 0, 0, time.UTC),
		},
		{
			name:     "LeapDayIssueClampsNextYear",
			issued:   time.Date(2024, time.February, 29, 12, 0, 0, 0, time.UTC),
			months:   12,
			expected: time.Date(2025, time.February, 28, 12, 0, 0, 0, time.UTC),
		},
		{
			name:     "MayThirtyFirstClampsToJuneThirtieth",
			issued:   time.Date(2025, time.May, 31, 23, 59, 59, 0, time.UTC),
			months:   1,
			expected: time.Date(2025, time.June, 30, 23, 59, 59, 0, time.UTC),
		},
		{
			name:     "YearBoundaryWraps",
			issued:   time.Date(2025, time.November, 3, 0, 0, 0, 0, time.UTC),
			months:   12,
			expected: time.Date(2026, time.November, 3, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := &Transaction{Kind: KindCredit, CreatedAt: tc.issued}
			assert.Equal(t, tc.expected, tx.ExpiresAt(tc.months))
		})
	}
}

func TestIsSystemReference(t *testing.T) {
	assert.True(t, IsSystemReference(ReferenceExpired))
	assert.True(t, IsSystemReference(ReferenceReversal))
	assert.False(t, IsSystemReference(""))
	assert.False(t, IsSystemReference("order-1042"))
}
