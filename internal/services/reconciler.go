package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/zamapay/payrail/internal/errs"
	"github.com/zamapay/payrail/internal/events"
	"github.com/zamapay/payrail/internal/models"
	"github.com/zamapay/payrail/internal/providers"
	"github.com/zamapay/payrail/internal/store"
)

// Callback is the normalized provider webhook envelope. Handlers parse each
// provider's wire format into this shape before the reconciler sees it.
// TransactionID carries the provider's echo of our own transaction id, the
// fallback correlation key for records whose submission timed out before the
// provider reference was recorded.
type Callback struct {
	PaymentMethod models.PaymentMethod
	ExternalID    string
	TransactionID string
	Outcome       providers.ProviderStatus
	Reason        string
}

// Result reports what the reconciler did with a callback. Applied is false
// for idempotent replays and stale out-of-order callbacks; Anomaly marks a
// callback whose outcome conflicts with a terminal record.
type Result struct {
	TransactionID string
	Status        models.Status
	Applied       bool
	Anomaly       bool
}

// Reconciler ingests asynchronous provider callbacks and advances
// transaction state. It must be safe under concurrent duplicate delivery:
// all transitions go through the store's conditional writes, so two
// deliveries of the same callback resolve to "apply once, second is a no-op".
type Reconciler struct {
	store     store.Store
	registry  *providers.Registry
	publisher *events.Publisher
}

func NewReconciler(s store.Store, registry *providers.Registry, publisher *events.Publisher) *Reconciler {
	return &Reconciler{store: s, registry: registry, publisher: publisher}
}

// Handle resolves the callback to a record by provider reference and applies
// the corresponding transition.
func (r *Reconciler) Handle(ctx context.Context, cb Callback) (*Result, error) {
	if cb.ExternalID == "" {
		return nil, fmt.Errorf("callback is missing the correlation reference: %w", errs.ErrValidation)
	}
	if cb.Outcome == "" {
		return nil, fmt.Errorf("callback is missing the outcome status: %w", errs.ErrValidation)
	}

	tx, err := r.store.FindByExternalID(ctx, cb.PaymentMethod, cb.ExternalID)
	if errors.Is(err, errs.ErrNotFound) && cb.TransactionID != "" {
		tx, err = r.resolveByTransactionID(ctx, cb)
	}
	if err != nil {
		return nil, err
	}

	target, err := targetStatus(tx, cb.Outcome)
	if err != nil {
		return nil, err
	}

	if tx.Status.IsTerminal() {
		if tx.Status == target || cb.Outcome == providers.ProviderPending {
			// Idempotent replay or a stale pending callback: no mutation.
			return &Result{TransactionID: tx.TransactionID, Status: tx.Status, Applied: false}, nil
		}
		// Provider now reports a materially different outcome for a settled
		// record. Surface, never overwrite.
		log.Printf("Anomalous callback for terminal transaction %s: recorded status %s, callback outcome %s (%s)",
			tx.TransactionID, tx.Status, cb.Outcome, cb.Reason)
		return &Result{TransactionID: tx.TransactionID, Status: tx.Status, Applied: false, Anomaly: true}, nil
	}

	if cb.Outcome == providers.ProviderPending {
		// Pending confirms receipt but advances nothing beyond PROVIDER_PENDING.
		if tx.Status.Rank() >= target.Rank() {
			return &Result{TransactionID: tx.TransactionID, Status: tx.Status, Applied: false}, nil
		}
	}

	applied, err := r.store.TransitionStatus(ctx, tx.TransactionID, target, cb.Reason)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost the race to a concurrent delivery, or the callback arrived out
		// of causal order. Either way the record never regresses.
		current, findErr := r.store.FindByID(ctx, tx.TransactionID)
		if findErr != nil {
			return nil, findErr
		}
		log.Printf("Callback for %s (%s -> %s) not applied, record already at %s",
			tx.TransactionID, tx.Status, target, current.Status)
		return &Result{TransactionID: tx.TransactionID, Status: current.Status, Applied: false}, nil
	}

	log.Printf("Callback applied: transactionId=%s %s -> %s", tx.TransactionID, tx.Status, target)
	snapshot := *tx
	snapshot.Status = target
	if cb.Reason != "" {
		snapshot.TransactionError = cb.Reason
	}
	r.publisher.Publish(models.EventFromTransaction(&snapshot))
	return &Result{TransactionID: tx.TransactionID, Status: target, Applied: true}, nil
}

// resolveByTransactionID recovers a record left pending with no provider
// reference after a timed-out submission. The provider's callback echoes our
// transaction id; the reference it carries is attached to the record so
// subsequent status polls can use it.
func (r *Reconciler) resolveByTransactionID(ctx context.Context, cb Callback) (*models.Transaction, error) {
	tx, err := r.store.FindByID(ctx, cb.TransactionID)
	if err != nil {
		return nil, err
	}
	if tx.PaymentMethod != cb.PaymentMethod {
		return nil, fmt.Errorf("transaction %s is not a %s transaction: %w", cb.TransactionID, cb.PaymentMethod, errs.ErrNotFound)
	}
	if tx.ExternalTransactionID != "" && tx.ExternalTransactionID != cb.ExternalID {
		return nil, fmt.Errorf("transaction %s already carries reference %s: %w", tx.TransactionID, tx.ExternalTransactionID, errs.ErrNotFound)
	}
	if tx.ExternalTransactionID == "" {
		if err := r.store.SetExternalID(ctx, tx.TransactionID, cb.ExternalID); err != nil {
			log.Printf("Failed to attach provider reference %s to %s: %v", cb.ExternalID, tx.TransactionID, err)
		} else {
			log.Printf("Attached provider reference %s to transaction %s from callback", cb.ExternalID, tx.TransactionID)
			tx.ExternalTransactionID = cb.ExternalID
		}
	}
	return tx, nil
}

// RefreshStatus polls the provider for a record's current status and applies
// the transition, for providers without webhooks and for verification of
// charges left pending after an unknown-outcome submission.
func (r *Reconciler) RefreshStatus(ctx context.Context, transactionID string) (*Result, error) {
	tx, err := r.store.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.ExternalTransactionID == "" {
		return nil, fmt.Errorf("transaction %s has no provider reference to poll: %w", transactionID, errs.ErrConflict)
	}

	adapter, err := r.registry.Get(tx.PaymentMethod)
	if err != nil {
		return nil, err
	}
	status, err := adapter.CheckStatus(ctx, tx.ExternalTransactionID)
	if err != nil {
		return nil, err
	}

	return r.Handle(ctx, Callback{
		PaymentMethod: tx.PaymentMethod,
		ExternalID:    tx.ExternalTransactionID,
		Outcome:       status,
	})
}

// targetStatus maps a provider outcome onto the record's own lifecycle
// chain: charges and refunds move through different statuses for the same
// provider outcome.
func targetStatus(tx *models.Transaction, outcome providers.ProviderStatus) (models.Status, error) {
	switch tx.TransactionType {
	case models.TypeCharge, models.TypeTransfer:
		switch outcome {
		case providers.ProviderPending:
			return models.StatusProviderPending, nil
		case providers.ProviderSuccessful:
			return models.StatusProviderSuccess, nil
		case providers.ProviderFailed:
			return models.StatusProviderFailed, nil
		}
	case models.TypeRefund:
		switch outcome {
		case providers.ProviderPending:
			return models.StatusCustomerRefundRequestCreated, nil
		case providers.ProviderSuccessful:
			return models.StatusCustomerRefundSuccessful, nil
		case providers.ProviderFailed:
			return models.StatusCustomerRefundFailed, nil
		}
	}
	return "", fmt.Errorf("unsupported callback outcome %q: %w", outcome, errs.ErrValidation)
}
