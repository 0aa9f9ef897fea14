package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zamapay/payrail/internal/errs"
	"github.com/zamapay/payrail/internal/models"
)

func newCharge(id string) *models.Transaction {
	now := time.Now()
	return &models.Transaction{
		TransactionID:   id,
		TransactionType: models.TypeCharge,
		PaymentMethod:   models.MethodMTN,
		Status:          models.StatusRequestCreated,
		Amount:          1000,
		Currency:        "XAF",
		MerchantID:      "merchant-1",
		CreatedOn:       now,
		UpdatedOn:       now,
	}
}

func TestCreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.Create(ctx, newCharge("tx-1")))

	err := s.Create(ctx, newCharge("tx-1"))
	require.ErrorIs(t, err, errs.ErrConflict)

	withKey := newCharge("tx-2")
	withKey.IdempotencyKey = "key-1"
	require.NoError(t, s.Create(ctx, withKey))

	dup := newCharge("tx-3")
	dup.IdempotencyKey = "key-1"
	require.ErrorIs(t, s.Create(ctx, dup), errs.ErrConflict)
}

func TestFindByIDReturnsNotFound(t *testing.T) {
	s := NewMemory()
	_, err := s.FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestTransitionStatusIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Create(ctx, newCharge("tx-1")))

	applied, err := s.TransitionStatus(ctx, "tx-1", models.StatusProviderPending, "")
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = s.TransitionStatus(ctx, "tx-1", models.StatusProviderSuccess, "")
	require.NoError(t, err)
	require.True(t, applied)

	// Equal rank: a failure outcome must not overwrite the recorded success.
	applied, err = s.TransitionStatus(ctx, "tx-1", models.StatusProviderFailed, "declined")
	require.NoError(t, err)
	require.False(t, applied)

	// Backwards: pending after success is a stale callback.
	applied, err = s.TransitionStatus(ctx, "tx-1", models.StatusProviderPending, "")
	require.NoError(t, err)
	require.False(t, applied)

	tx, err := s.FindByID(ctx, "tx-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusProviderSuccess, tx.Status)
}

func TestTransitionStatusTerminalIsFinal(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Create(ctx, newCharge("tx-1")))

	applied, err := s.TransitionStatus(ctx, "tx-1", models.StatusProviderFailed, "declined")
	require.NoError(t, err)
	require.True(t, applied)

	// No transition may leave a terminal status, not even a higher-ranked one.
	applied, err = s.TransitionStatus(ctx, "tx-1", models.StatusSettlementSuccessful, "")
	require.NoError(t, err)
	require.False(t, applied)
}

func TestReserveRefundEnforcesCumulativeCap(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	charge := newCharge("tx-1")
	charge.Amount = 2000
	require.NoError(t, s.Create(ctx, charge))

	reserved, err := s.ReserveRefund(ctx, "tx-1", 500, 2000)
	require.NoError(t, err)
	require.True(t, reserved)

	reserved, err = s.ReserveRefund(ctx, "tx-1", 500, 2000)
	require.NoError(t, err)
	require.True(t, reserved)

	// 1000 already reserved; 1100 more would exceed the original amount.
	reserved, err = s.ReserveRefund(ctx, "tx-1", 1100, 2000)
	require.NoError(t, err)
	require.False(t, reserved)

	require.NoError(t, s.ReleaseRefund(ctx, "tx-1", 500))
	reserved, err = s.ReserveRefund(ctx, "tx-1", 1100, 2000)
	require.NoError(t, err)
	require.True(t, reserved)

	tx, err := s.FindByID(ctx, "tx-1")
	require.NoError(t, err)
	require.Equal(t, 1600.0, tx.RefundedAmount)
}

func TestReserveRefundIgnoresNonCharges(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	refund := newCharge("tx-1")
	refund.TransactionType = models.TypeRefund
	require.NoError(t, s.Create(ctx, refund))

	reserved, err := s.ReserveRefund(ctx, "tx-1", 100, 1000)
	require.NoError(t, err)
	require.False(t, reserved)
}

func TestSetExternalIDRejectsCollision(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Create(ctx, newCharge("tx-1")))
	require.NoError(t, s.Create(ctx, newCharge("tx-2")))

	require.NoError(t, s.SetExternalID(ctx, "tx-1", "ext-1"))
	require.ErrorIs(t, s.SetExternalID(ctx, "tx-2", "ext-1"), errs.ErrConflict)

	tx, err := s.FindByExternalID(ctx, models.MethodMTN, "ext-1")
	require.NoError(t, err)
	require.Equal(t, "tx-1", tx.TransactionID)
}

func TestMarkSettledStampsOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for _, id := range []string{"tx-1", "tx-2"} {
		charge := newCharge(id)
		charge.Status = models.StatusProviderSuccess
		require.NoError(t, s.Create(ctx, charge))
	}

	settledAt := time.Now()
	modified, err := s.MarkSettled(ctx, []string{"tx-1", "tx-2"}, "settle-1", settledAt)
	require.NoError(t, err)
	require.Equal(t, int64(2), modified)

	// Replay with a different settlement id must not re-stamp.
	modified, err = s.MarkSettled(ctx, []string{"tx-1", "tx-2"}, "settle-2", settledAt)
	require.NoError(t, err)
	require.Equal(t, int64(0), modified)

	tx, err := s.FindByID(ctx, "tx-1")
	require.NoError(t, err)
	require.Equal(t, "settle-1", tx.SettlementID)
	require.Equal(t, models.SettlementSettled, tx.SettlementStatus)
	require.Equal(t, models.StatusSettlementSuccessful, tx.Status)
	require.NotNil(t, tx.SettlementDate)
}

func TestFindUnsettledFiltersWindowAndStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	inWindow := newCharge("tx-1")
	inWindow.Status = models.StatusProviderSuccess
	require.NoError(t, s.Create(ctx, inWindow))

	pending := newCharge("tx-2")
	pending.Status = models.StatusProviderPending
	require.NoError(t, s.Create(ctx, pending))

	settled := newCharge("tx-3")
	settled.Status = models.StatusProviderSuccess
	settled.SettlementID = "settle-0"
	require.NoError(t, s.Create(ctx, settled))

	old := newCharge("tx-4")
	old.Status = models.StatusProviderSuccess
	old.CreatedOn = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Create(ctx, old))

	start := time.Now().Add(-time.Hour)
	end := time.Now().Add(time.Hour)
	txs, err := s.FindUnsettled(ctx, models.MethodMTN, start, end)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, "tx-1", txs[0].TransactionID)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	a := newCharge("tx-1")
	a.MerchantID = "merchant-a"
	a.Status = models.StatusProviderSuccess
	require.NoError(t, s.Create(ctx, a))

	b := newCharge("tx-2")
	b.MerchantID = "merchant-b"
	require.NoError(t, s.Create(ctx, b))

	txs, err := s.List(ctx, ListFilter{MerchantID: "merchant-a"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, "tx-1", txs[0].TransactionID)

	txs, err = s.List(ctx, ListFilter{Status: models.StatusRequestCreated})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, "tx-2", txs[0].TransactionID)
}
