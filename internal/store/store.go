// Package store owns persistence for transaction records. All mutation in
// the system goes through it; concurrency correctness is enforced with
// conditional writes rather than in-process locks, because every inbound
// request is handled by an independent stateless invocation.
package store

import (
	"context"
	"time"

	"github.com/zamapay/payrail/internal/models"
)

// ListFilter narrows a transaction listing.
type ListFilter struct {
	MerchantID string
	Status     models.Status
	StartDate  *time.Time
	EndDate    *time.Time
}

// Store is the record store contract. Every conditional method reports
// whether the write applied so callers can distinguish "applied once" from
// "someone else got there first".
type Store interface {
	// Create inserts a new record. A duplicate transaction id, idempotency
	// key, or (payment method, external reference) pair fails with a conflict
	// rather than overwriting.
	Create(ctx context.Context, tx *models.Transaction) error

	FindByID(ctx context.Context, transactionID string) (*models.Transaction, error)
	FindByExternalID(ctx context.Context, method models.PaymentMethod, externalID string) (*models.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error)
	FindByOriginalID(ctx context.Context, originalID string) ([]models.Transaction, error)
	List(ctx context.Context, filter ListFilter) ([]models.Transaction, error)

	// FindUnsettled returns successful, unsettled charges for a provider
	// within the window, the settlement job's input set.
	FindUnsettled(ctx context.Context, method models.PaymentMethod, windowStart, windowEnd time.Time) ([]models.Transaction, error)

	// SetExternalID records the provider-assigned reference once the provider
	// acknowledges a request.
	SetExternalID(ctx context.Context, transactionID, externalID string) error

	// TransitionStatus conditionally moves a record to the given status. The
	// write applies only when the current status is a permitted predecessor,
	// so duplicate or out-of-order transitions resolve to "apply once,
	// second is a no-op".
	TransitionStatus(ctx context.Context, transactionID string, to models.Status, txError string) (bool, error)

	// ReserveRefund atomically reserves amount against the charge's
	// refundable balance. The write applies only while
	// refunded + amount <= originalAmount, which enforces the partial-refund
	// accumulation invariant under concurrency.
	ReserveRefund(ctx context.Context, chargeID string, amount, originalAmount float64) (bool, error)

	// ReleaseRefund returns a reservation after a failed customer leg.
	ReleaseRefund(ctx context.Context, chargeID string, amount float64) error

	// AppendRefundLegs appends the attempt entries to the charge's
	// append-only response arrays. Entries are recorded for failed legs too.
	AppendRefundLegs(ctx context.Context, chargeID string, customer, merchant *models.RefundLegEntry) error

	// MarkSettled stamps every listed record with the settlement reference in
	// one batched conditional update. Records already carrying a settlement
	// id are left untouched; the count of newly settled records is returned.
	MarkSettled(ctx context.Context, transactionIDs []string, settlementID string, settledAt time.Time) (int64, error)
}
