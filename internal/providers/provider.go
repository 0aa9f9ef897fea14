// Package providers contains one adapter per external payment provider
// behind a uniform capability surface. Adapters construct provider requests,
// refresh credentials, and parse responses; they never retry and never decide
// state transitions. Retry and transition policy belongs to the services
// layer.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/zamapay/payrail/internal/errs"
	"github.com/zamapay/payrail/internal/models"
)

// ProviderStatus is the normalized outcome of a provider status poll.
type ProviderStatus string

const (
	ProviderPending    ProviderStatus = "PENDING"
	ProviderSuccessful ProviderStatus = "SUCCESSFUL"
	ProviderFailed     ProviderStatus = "FAILED"
)

// ChargeRequest carries the fields an adapter needs to submit a collection.
type ChargeRequest struct {
	TransactionID string
	Amount        float64
	Currency      string
	CustomerPhone string
	Card          *models.CardData
	Metadata      map[string]string
}

// RefundRequest carries the fields for the (possibly two-leg) refund flow.
type RefundRequest struct {
	RefundTransactionID string
	Amount              float64
	Currency            string
	OriginalExternalID  string
	CustomerPhone       string
	MerchantMobileNo    string
}

// TransferRequest is a disbursement of settled funds to a payee wallet.
type TransferRequest struct {
	Reference string
	Amount    float64
	Currency  string
	PayeeRef  string
}

// RefundLeg is one leg's provider response. Err is set when the leg failed;
// the leg is still recorded on the transaction either way.
type RefundLeg struct {
	ExternalID string
	Status     ProviderStatus
	Err        error
}

// RefundOutcome reports both legs of a refund. MerchantLeg is nil for
// providers whose refund is a single call, and for mobile-money refunds
// whose customer leg failed (the merchant leg is never attempted then).
type RefundOutcome struct {
	CustomerLeg *RefundLeg
	MerchantLeg *RefundLeg
}

// Adapter is the uniform provider capability surface.
type Adapter interface {
	Name() models.PaymentMethod
	InitiateCharge(ctx context.Context, req ChargeRequest) (string, error)
	InitiateRefund(ctx context.Context, req RefundRequest) (*RefundOutcome, error)
	InitiateTransfer(ctx context.Context, req TransferRequest) (string, error)
	CheckStatus(ctx context.Context, externalID string) (ProviderStatus, error)
}

// Registry resolves an adapter from the payment method tag, replacing the
// provider-specific branches that would otherwise spread through the
// orchestrator.
type Registry struct {
	adapters map[models.PaymentMethod]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.PaymentMethod]Adapter)}
}

func (r *Registry) Register(adapter Adapter) {
	r.adapters[adapter.Name()] = adapter
}

func (r *Registry) Get(method models.PaymentMethod) (Adapter, error) {
	if a, ok := r.adapters[method]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("payment method %s not configured: %w", method, errs.ErrValidation)
}

// classifyCallError maps a transport failure to the error taxonomy. Timeouts
// and network errors are transient: the provider-side outcome is unknown and
// the caller must not treat the charge as failed.
func classifyCallError(provider models.PaymentMethod, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s call timed out: %w", provider, errs.ErrTransient)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s call timed out: %w", provider, errs.ErrTransient)
	}
	return fmt.Errorf("%s call failed: %v: %w", provider, err, errs.ErrTransient)
}

// providerError wraps a non-2xx provider response. The body is included for
// the orchestrator to persist; handlers decide what is safe to expose.
func providerError(provider models.PaymentMethod, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("%s returned status %d: %s: %w", provider, resp.StatusCode, string(body), errs.ErrProvider)
}
