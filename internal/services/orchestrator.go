package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/zamapay/payrail/internal/errs"
	"github.com/zamapay/payrail/internal/events"
	"github.com/zamapay/payrail/internal/fees"
	"github.com/zamapay/payrail/internal/models"
	"github.com/zamapay/payrail/internal/providers"
	"github.com/zamapay/payrail/internal/store"
)

// MsgAlreadyProcessed is returned with the original result when a duplicate
// idempotency key is submitted.
const MsgAlreadyProcessed = "request already processed"

// Orchestrator is the transaction state machine core: it creates records,
// routes requests to provider adapters, and maps adapter results onto state
// transitions. All shared state lives in the record store.
type Orchestrator struct {
	store     store.Store
	registry  *providers.Registry
	calc      *fees.Calculator
	publisher *events.Publisher
}

func NewOrchestrator(s store.Store, registry *providers.Registry, calc *fees.Calculator, publisher *events.Publisher) *Orchestrator {
	return &Orchestrator{store: s, registry: registry, calc: calc, publisher: publisher}
}

// ProcessCharge validates, persists, and submits a charge. The record is
// created before the provider call so a duplicate idempotency key can never
// produce a second provider-side charge; the provider result then advances
// the record's status.
//
// The returned message distinguishes a fresh submission from an idempotent
// replay; err carries the taxonomy category on failure.
func (o *Orchestrator) ProcessCharge(ctx context.Context, req models.ChargeRequest) (*models.TransactionDetails, string, error) {
	if err := validateCharge(req); err != nil {
		return nil, "", err
	}

	adapter, err := o.registry.Get(req.PaymentMethod)
	if err != nil {
		return nil, "", err
	}

	if req.IdempotencyKey != "" {
		if existing, err := o.store.FindByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
			log.Printf("Duplicate idempotency key %s, returning existing transaction %s", req.IdempotencyKey, existing.TransactionID)
			return &models.TransactionDetails{TransactionID: existing.TransactionID, Status: existing.Status}, MsgAlreadyProcessed, nil
		}
	}

	breakdown := o.calc.Calculate(req.Amount, req.Currency)
	now := time.Now()
	tx := &models.Transaction{
		TransactionID:    uuid.NewString(),
		IdempotencyKey:   req.IdempotencyKey,
		TransactionType:  models.TypeCharge,
		PaymentMethod:    req.PaymentMethod,
		Status:           models.StatusRequestCreated,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Fee:              breakdown.Fee,
		SettlementAmount: breakdown.SettlementAmount,
		MerchantID:       req.MerchantID,
		MerchantMobileNo: req.MerchantMobileNo,
		MobileNo:         req.CustomerPhone,
		SettlementStatus: models.SettlementUnsettled,
		MetaData:         req.MetaData,
		CreatedOn:        now,
		UpdatedOn:        now,
	}

	if err := o.store.Create(ctx, tx); err != nil {
		if errors.Is(err, errs.ErrConflict) && req.IdempotencyKey != "" {
			// Lost the race against a concurrent duplicate; hand back its result.
			if existing, lookupErr := o.store.FindByIdempotencyKey(ctx, req.IdempotencyKey); lookupErr == nil {
				return &models.TransactionDetails{TransactionID: existing.TransactionID, Status: existing.Status}, MsgAlreadyProcessed, nil
			}
		}
		return nil, "", err
	}
	o.publishStatus(tx, models.StatusRequestCreated, "")

	externalID, chargeErr := adapter.InitiateCharge(ctx, providers.ChargeRequest{
		TransactionID: tx.TransactionID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		CustomerPhone: req.CustomerPhone,
		Card:          req.CardData,
		Metadata:      req.MetaData,
	})

	switch {
	case chargeErr == nil:
		if err := o.store.SetExternalID(ctx, tx.TransactionID, externalID); err != nil {
			// Provider reference collision: fail the request, never overwrite.
			log.Printf("External reference collision for %s: %v", tx.TransactionID, err)
			o.transitionAndPublish(ctx, tx, models.StatusProviderFailed, "duplicate provider reference")
			return nil, "", err
		}
		tx.ExternalTransactionID = externalID
		o.transitionAndPublish(ctx, tx, models.StatusProviderPending, "")
		return &models.TransactionDetails{TransactionID: tx.TransactionID, Status: models.StatusProviderPending},
			"charge submitted", nil

	case errors.Is(chargeErr, errs.ErrTransient):
		// Unknown outcome: leave the record pending for later reconciliation
		// via status poll or webhook. Never retried in-request.
		log.Printf("Charge %s outcome unknown: %v", tx.TransactionID, chargeErr)
		o.transitionAndPublish(ctx, tx, models.StatusProviderPending, chargeErr.Error())
		return &models.TransactionDetails{TransactionID: tx.TransactionID, Status: models.StatusProviderPending},
			"charge pending provider confirmation", nil

	default:
		log.Printf("Charge %s rejected by provider: %v", tx.TransactionID, chargeErr)
		o.transitionAndPublish(ctx, tx, models.StatusProviderFailed, chargeErr.Error())
		return &models.TransactionDetails{TransactionID: tx.TransactionID, Status: models.StatusProviderFailed},
			"", chargeErr
	}
}

// ProcessRefund validates the cumulative-refund invariant, reserves the
// amount against the charge, runs the (possibly two-leg) provider refund,
// and records both legs regardless of outcome. Leg precedence: a failed
// customer leg fails the refund and releases the reservation; a failed
// merchant leg after a successful customer leg is a distinct terminal state
// requiring manual reconciliation.
func (o *Orchestrator) ProcessRefund(ctx context.Context, req models.RefundRequest) (*models.TransactionDetails, error) {
	if req.TransactionID == "" {
		return nil, fmt.Errorf("transactionId is required: %w", errs.ErrValidation)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", errs.ErrValidation)
	}

	original, err := o.store.FindByID(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if original.TransactionType != models.TypeCharge {
		return nil, fmt.Errorf("transaction %s is not a charge: %w", req.TransactionID, errs.ErrValidation)
	}
	switch original.Status {
	case models.StatusProviderSuccess, models.StatusSettlementPending, models.StatusSettlementSuccessful:
	default:
		return nil, fmt.Errorf("charge %s is not refundable in status %s: %w", original.TransactionID, original.Status, errs.ErrConflict)
	}

	adapter, err := o.registry.Get(original.PaymentMethod)
	if err != nil {
		return nil, err
	}

	reserved, err := o.store.ReserveRefund(ctx, original.TransactionID, req.Amount, original.Amount)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, fmt.Errorf("refund amount %.2f exceeds remaining refundable balance of charge %s: %w",
			req.Amount, original.TransactionID, errs.ErrConflict)
	}

	now := time.Now()
	refund := &models.Transaction{
		TransactionID:         uuid.NewString(),
		OriginalTransactionID: original.TransactionID,
		TransactionType:       models.TypeRefund,
		PaymentMethod:         original.PaymentMethod,
		Status:                models.StatusCustomerRefundRequestCreated,
		Amount:                req.Amount,
		Currency:              original.Currency,
		MerchantID:            original.MerchantID,
		MerchantMobileNo:      original.MerchantMobileNo,
		MobileNo:              original.MobileNo,
		CreatedOn:             now,
		UpdatedOn:             now,
	}
	if err := o.store.Create(ctx, refund); err != nil {
		o.releaseReservation(ctx, original.TransactionID, req.Amount)
		return nil, err
	}
	o.publishStatus(refund, models.StatusCustomerRefundRequestCreated, "")

	outcome, err := adapter.InitiateRefund(ctx, providers.RefundRequest{
		RefundTransactionID: refund.TransactionID,
		Amount:              req.Amount,
		Currency:            original.Currency,
		OriginalExternalID:  original.ExternalTransactionID,
		CustomerPhone:       original.MobileNo,
		MerchantMobileNo:    original.MerchantMobileNo,
	})
	if err != nil {
		o.releaseReservation(ctx, original.TransactionID, req.Amount)
		o.transitionAndPublish(ctx, refund, models.StatusCustomerRefundFailed, err.Error())
		return nil, err
	}

	o.appendLegs(ctx, original, refund, outcome)

	if outcome.CustomerLeg != nil && outcome.CustomerLeg.ExternalID != "" {
		// The customer leg's reference is the correlation key for async
		// refund callbacks.
		if err := o.store.SetExternalID(ctx, refund.TransactionID, outcome.CustomerLeg.ExternalID); err != nil {
			log.Printf("Failed to record provider reference on refund %s: %v", refund.TransactionID, err)
		} else {
			refund.ExternalTransactionID = outcome.CustomerLeg.ExternalID
		}
	}

	if outcome.CustomerLeg == nil || outcome.CustomerLeg.Err != nil {
		legErr := "customer refund leg failed"
		if outcome.CustomerLeg != nil && outcome.CustomerLeg.Err != nil {
			legErr = outcome.CustomerLeg.Err.Error()
		}
		o.releaseReservation(ctx, original.TransactionID, req.Amount)
		o.transitionAndPublish(ctx, refund, models.StatusCustomerRefundFailed, legErr)
		return &models.TransactionDetails{TransactionID: refund.TransactionID, Status: models.StatusCustomerRefundFailed},
			fmt.Errorf("customer refund failed: %s: %w", legErr, errs.ErrProvider)
	}

	o.transitionAndPublish(ctx, refund, models.StatusCustomerRefundSuccessful, "")

	if outcome.MerchantLeg != nil && outcome.MerchantLeg.Err != nil {
		// Customer already refunded; the merchant-side recovery failed. Money
		// moved, so the reservation stays. Manual reconciliation state.
		log.Printf("Merchant refund leg failed for refund %s (charge %s): %v",
			refund.TransactionID, original.TransactionID, outcome.MerchantLeg.Err)
		o.transitionAndPublish(ctx, refund, models.StatusMerchantRefundFailed, outcome.MerchantLeg.Err.Error())
		return &models.TransactionDetails{TransactionID: refund.TransactionID, Status: models.StatusMerchantRefundFailed}, nil
	}

	o.transitionAndPublish(ctx, refund, models.StatusMerchantRefundSuccessful, "")
	return &models.TransactionDetails{TransactionID: refund.TransactionID, Status: models.StatusMerchantRefundSuccessful}, nil
}

// GetTransaction fetches a single record by id.
func (o *Orchestrator) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("transactionId is required: %w", errs.ErrValidation)
	}
	return o.store.FindByID(ctx, transactionID)
}

// ListTransactions returns records matching the filter.
func (o *Orchestrator) ListTransactions(ctx context.Context, filter store.ListFilter) ([]models.Transaction, error) {
	return o.store.List(ctx, filter)
}

func (o *Orchestrator) appendLegs(ctx context.Context, original, refund *models.Transaction, outcome *providers.RefundOutcome) {
	customer := legEntry(refund, outcome.CustomerLeg)
	merchant := legEntry(refund, outcome.MerchantLeg)
	if err := o.store.AppendRefundLegs(ctx, original.TransactionID, customer, merchant); err != nil {
		log.Printf("Failed to append refund legs on charge %s: %v", original.TransactionID, err)
	}
}

func legEntry(refund *models.Transaction, leg *providers.RefundLeg) *models.RefundLegEntry {
	if leg == nil {
		return nil
	}
	entry := &models.RefundLegEntry{
		RefundTransactionID:   refund.TransactionID,
		ExternalTransactionID: leg.ExternalID,
		Amount:                refund.Amount,
		Currency:              refund.Currency,
		Status:                string(leg.Status),
		CreatedOn:             time.Now(),
	}
	if leg.Err != nil {
		entry.Error = leg.Err.Error()
	}
	return entry
}

func (o *Orchestrator) releaseReservation(ctx context.Context, chargeID string, amount float64) {
	if err := o.store.ReleaseRefund(ctx, chargeID, amount); err != nil {
		log.Printf("Failed to release refund reservation of %.2f on charge %s: %v", amount, chargeID, err)
	}
}

func (o *Orchestrator) transitionAndPublish(ctx context.Context, tx *models.Transaction, to models.Status, txErr string) {
	applied, err := o.store.TransitionStatus(ctx, tx.TransactionID, to, txErr)
	if err != nil {
		log.Printf("Failed to transition %s to %s: %v", tx.TransactionID, to, err)
		return
	}
	if !applied {
		log.Printf("Transition of %s to %s not applied (already advanced)", tx.TransactionID, to)
		return
	}
	o.publishStatus(tx, to, txErr)
}

func (o *Orchestrator) publishStatus(tx *models.Transaction, status models.Status, txErr string) {
	snapshot := *tx
	snapshot.Status = status
	if txErr != "" {
		snapshot.TransactionError = txErr
	}
	o.publisher.Publish(models.EventFromTransaction(&snapshot))
}

func validateCharge(req models.ChargeRequest) error {
	if req.TransactionType != models.TypeCharge {
		return fmt.Errorf("transactionType must be CHARGE: %w", errs.ErrValidation)
	}
	if req.Amount <= 0 {
		return fmt.Errorf("amount must be positive: %w", errs.ErrValidation)
	}
	if req.MerchantID == "" {
		return fmt.Errorf("merchantId is required: %w", errs.ErrValidation)
	}
	if req.Currency == "" {
		return fmt.Errorf("currency is required: %w", errs.ErrValidation)
	}
	if req.PaymentMethod != models.MethodCard && req.CustomerPhone == "" {
		return fmt.Errorf("customerPhone is required for mobile money charges: %w", errs.ErrValidation)
	}
	return nil
}
