package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zamapay/payrail/internal/errs"
	"github.com/zamapay/payrail/internal/events"
	"github.com/zamapay/payrail/internal/fees"
	"github.com/zamapay/payrail/internal/models"
	"github.com/zamapay/payrail/internal/providers"
	"github.com/zamapay/payrail/internal/store"
)

func newTestReconciler(t *testing.T, adapter *stubAdapter) (*Reconciler, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	registry := providers.NewRegistry()
	registry.Register(adapter)
	publisher := events.NewPublisher(nil)
	t.Cleanup(publisher.Stop)
	return NewReconciler(s, registry, publisher), s
}

func seedPendingCharge(t *testing.T, s *store.Memory, id, externalID string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, s.Create(context.Background(), &models.Transaction{
		TransactionID:         id,
		ExternalTransactionID: externalID,
		TransactionType:       models.TypeCharge,
		PaymentMethod:         models.MethodMTN,
		Status:                models.StatusProviderPending,
		Amount:                1000,
		Currency:              "XAF",
		MerchantID:            "merchant-1",
		CreatedOn:             now,
		UpdatedOn:             now,
	}))
}

func successCallback(externalID string) Callback {
	return Callback{
		PaymentMethod: models.MethodMTN,
		ExternalID:    externalID,
		Outcome:       providers.ProviderSuccessful,
	}
}

func TestHandleAppliesSuccessCallback(t *testing.T) {
	r, s := newTestReconciler(t, &stubAdapter{})
	seedPendingCharge(t, s, "tx-1", "ext-1")

	result, err := r.Handle(context.Background(), successCallback("ext-1"))
	require.NoError(t, err)
	require.True(t, result.Applied)
	require.Equal(t, models.StatusProviderSuccess, result.Status)

	tx, err := s.FindByID(context.Background(), "tx-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusProviderSuccess, tx.Status)
}

func TestHandleReplayIsNoOp(t *testing.T) {
	r, s := newTestReconciler(t, &stubAdapter{})
	seedPendingCharge(t, s, "tx-1", "ext-1")

	first, err := r.Handle(context.Background(), successCallback("ext-1"))
	require.NoError(t, err)
	require.True(t, first.Applied)

	second, err := r.Handle(context.Background(), successCallback("ext-1"))
	require.NoError(t, err)
	require.False(t, second.Applied)
	require.False(t, second.Anomaly)
	require.Equal(t, models.StatusProviderSuccess, second.Status)
}

func TestHandleConcurrentDuplicatesApplyOnce(t *testing.T) {
	r, s := newTestReconciler(t, &stubAdapter{})
	seedPendingCharge(t, s, "tx-1", "ext-1")

	const deliveries = 10
	results := make([]*Result, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := r.Handle(context.Background(), successCallback("ext-1"))
			require.NoError(t, err)
			results[i] = result
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, result := range results {
		require.Equal(t, models.StatusProviderSuccess, result.Status)
		if result.Applied {
			applied++
		}
	}
	require.Equal(t, 1, applied)
}

func TestHandleStaleFailureAfterSuccess(t *testing.T) {
	r, s := newTestReconciler(t, &stubAdapter{})
	seedPendingCharge(t, s, "tx-1", "ext-1")

	_, err := r.Handle(context.Background(), successCallback("ext-1"))
	require.NoError(t, err)

	// Out-of-order failure after the success was recorded: ignored.
	result, err := r.Handle(context.Background(), Callback{
		PaymentMethod: models.MethodMTN,
		ExternalID:    "ext-1",
		Outcome:       providers.ProviderFailed,
		Reason:        "payer cancelled",
	})
	require.NoError(t, err)
	require.False(t, result.Applied)
	require.Equal(t, models.StatusProviderSuccess, result.Status)
}

func TestHandlePendingNeverRegresses(t *testing.T) {
	r, s := newTestReconciler(t, &stubAdapter{})
	seedPendingCharge(t, s, "tx-1", "ext-1")

	_, err := r.Handle(context.Background(), successCallback("ext-1"))
	require.NoError(t, err)

	result, err := r.Handle(context.Background(), Callback{
		PaymentMethod: models.MethodMTN,
		ExternalID:    "ext-1",
		Outcome:       providers.ProviderPending,
	})
	require.NoError(t, err)
	require.False(t, result.Applied)
	require.Equal(t, models.StatusProviderSuccess, result.Status)
}

func TestHandleFlagsAnomalyOnTerminalConflict(t *testing.T) {
	r, s := newTestReconciler(t, &stubAdapter{})
	now := time.Now()
	require.NoError(t, s.Create(context.Background(), &models.Transaction{
		TransactionID:         "tx-1",
		ExternalTransactionID: "ext-1",
		TransactionType:       models.TypeCharge,
		PaymentMethod:         models.MethodMTN,
		Status:                models.StatusSettlementSuccessful,
		Amount:                1000,
		Currency:              "XAF",
		MerchantID:            "merchant-1",
		CreatedOn:             now,
		UpdatedOn:             now,
	}))

	result, err := r.Handle(context.Background(), Callback{
		PaymentMethod: models.MethodMTN,
		ExternalID:    "ext-1",
		Outcome:       providers.ProviderFailed,
		Reason:        "reversal",
	})
	require.NoError(t, err)
	require.False(t, result.Applied)
	require.True(t, result.Anomaly)

	// The record must be untouched.
	tx, err := s.FindByID(context.Background(), "tx-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusSettlementSuccessful, tx.Status)
}

func TestHandleValidation(t *testing.T) {
	r, _ := newTestReconciler(t, &stubAdapter{})

	_, err := r.Handle(context.Background(), Callback{PaymentMethod: models.MethodMTN, Outcome: providers.ProviderSuccessful})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = r.Handle(context.Background(), Callback{PaymentMethod: models.MethodMTN, ExternalID: "ext-1"})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = r.Handle(context.Background(), successCallback("unknown-ref"))
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestHandleRefundChainTransitions(t *testing.T) {
	r, s := newTestReconciler(t, &stubAdapter{})
	now := time.Now()
	require.NoError(t, s.Create(context.Background(), &models.Transaction{
		TransactionID:         "refund-1",
		ExternalTransactionID: "ext-refund-1",
		OriginalTransactionID: "charge-1",
		TransactionType:       models.TypeRefund,
		PaymentMethod:         models.MethodMTN,
		Status:                models.StatusCustomerRefundRequestCreated,
		Amount:                500,
		Currency:              "XAF",
		MerchantID:            "merchant-1",
		CreatedOn:             now,
		UpdatedOn:             now,
	}))

	result, err := r.Handle(context.Background(), successCallback("ext-refund-1"))
	require.NoError(t, err)
	require.True(t, result.Applied)
	require.Equal(t, models.StatusCustomerRefundSuccessful, result.Status)
}

func TestHandleRecoversTimedOutCharge(t *testing.T) {
	s := store.NewMemory()
	registry := providers.NewRegistry()
	adapter := &stubAdapter{chargeErr: fmt.Errorf("requesttopay timed out: %w", errs.ErrTransient)}
	registry.Register(adapter)
	publisher := events.NewPublisher(nil)
	t.Cleanup(publisher.Stop)
	o := NewOrchestrator(s, registry, fees.NewCalculator(2.5), publisher)
	r := NewReconciler(s, registry, publisher)

	details, _, err := o.ProcessCharge(context.Background(), models.ChargeRequest{
		MerchantID:      "merchant-1",
		Amount:          1000,
		Currency:        "XAF",
		TransactionType: models.TypeCharge,
		PaymentMethod:   models.MethodMTN,
		CustomerPhone:   "237670000001",
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusProviderPending, details.Status)

	pending, err := s.FindByID(context.Background(), details.TransactionID)
	require.NoError(t, err)
	require.Empty(t, pending.ExternalTransactionID)

	// The provider's late callback echoes the transaction id we submitted,
	// which is the only correlation key the record has at this point.
	result, err := r.Handle(context.Background(), Callback{
		PaymentMethod: models.MethodMTN,
		ExternalID:    "ext-late",
		TransactionID: details.TransactionID,
		Outcome:       providers.ProviderSuccessful,
	})
	require.NoError(t, err)
	require.True(t, result.Applied)
	require.Equal(t, models.StatusProviderSuccess, result.Status)

	tx, err := s.FindByID(context.Background(), details.TransactionID)
	require.NoError(t, err)
	require.Equal(t, models.StatusProviderSuccess, tx.Status)
	require.Equal(t, "ext-late", tx.ExternalTransactionID)

	// With the reference attached the poll path works as well.
	adapter.status = providers.ProviderSuccessful
	refreshed, err := r.RefreshStatus(context.Background(), details.TransactionID)
	require.NoError(t, err)
	require.False(t, refreshed.Applied)
	require.Equal(t, models.StatusProviderSuccess, refreshed.Status)
}

func TestHandleFallbackChecksPaymentMethod(t *testing.T) {
	r, s := newTestReconciler(t, &stubAdapter{})
	now := time.Now()
	require.NoError(t, s.Create(context.Background(), &models.Transaction{
		TransactionID:   "tx-orange",
		TransactionType: models.TypeCharge,
		PaymentMethod:   models.MethodOrange,
		Status:          models.StatusProviderPending,
		Amount:          1000,
		Currency:        "XAF",
		MerchantID:      "merchant-1",
		CreatedOn:       now,
		UpdatedOn:       now,
	}))

	// A callback from the wrong provider must not claim the record.
	_, err := r.Handle(context.Background(), Callback{
		PaymentMethod: models.MethodMTN,
		ExternalID:    "ext-1",
		TransactionID: "tx-orange",
		Outcome:       providers.ProviderSuccessful,
	})
	require.ErrorIs(t, err, errs.ErrNotFound)

	tx, err := s.FindByID(context.Background(), "tx-orange")
	require.NoError(t, err)
	require.Empty(t, tx.ExternalTransactionID)
	require.Equal(t, models.StatusProviderPending, tx.Status)
}

func TestRefreshStatusPollsProvider(t *testing.T) {
	adapter := &stubAdapter{status: providers.ProviderSuccessful}
	r, s := newTestReconciler(t, adapter)
	seedPendingCharge(t, s, "tx-1", "ext-1")

	result, err := r.RefreshStatus(context.Background(), "tx-1")
	require.NoError(t, err)
	require.True(t, result.Applied)
	require.Equal(t, models.StatusProviderSuccess, result.Status)
}

func TestRefreshStatusRequiresProviderReference(t *testing.T) {
	r, s := newTestReconciler(t, &stubAdapter{})
	now := time.Now()
	require.NoError(t, s.Create(context.Background(), &models.Transaction{
		TransactionID:   "tx-1",
		TransactionType: models.TypeCharge,
		PaymentMethod:   models.MethodMTN,
		Status:          models.StatusProviderPending,
		Amount:          1000,
		Currency:        "XAF",
		MerchantID:      "merchant-1",
		CreatedOn:       now,
		UpdatedOn:       now,
	}))

	_, err := r.RefreshStatus(context.Background(), "tx-1")
	require.ErrorIs(t, err, errs.ErrConflict)
}
