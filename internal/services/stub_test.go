package services

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/zamapay/payrail/internal/models"
	"github.com/zamapay/payrail/internal/providers"
)

// stubAdapter is a configurable in-memory provider for service tests.
type stubAdapter struct {
	mu sync.Mutex

	name models.PaymentMethod

	chargeID    string
	chargeErr   error
	chargeCalls int

	refundOutcome *providers.RefundOutcome
	refundErr     error
	refundCalls   int

	transferErr    error
	transferErrFor map[string]error
	transfers      []providers.TransferRequest

	status    providers.ProviderStatus
	statusErr error
}

func (s *stubAdapter) Name() models.PaymentMethod {
	if s.name == "" {
		return models.MethodMTN
	}
	return s.name
}

func (s *stubAdapter) InitiateCharge(_ context.Context, _ providers.ChargeRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chargeCalls++
	if s.chargeErr != nil {
		return "", s.chargeErr
	}
	if s.chargeID != "" {
		return s.chargeID, nil
	}
	return uuid.NewString(), nil
}

func (s *stubAdapter) InitiateRefund(_ context.Context, _ providers.RefundRequest) (*providers.RefundOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refundCalls++
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	if s.refundOutcome != nil {
		return s.refundOutcome, nil
	}
	return &providers.RefundOutcome{
		CustomerLeg: &providers.RefundLeg{ExternalID: uuid.NewString(), Status: providers.ProviderSuccessful},
		MerchantLeg: &providers.RefundLeg{ExternalID: uuid.NewString(), Status: providers.ProviderSuccessful},
	}, nil
}

func (s *stubAdapter) InitiateTransfer(_ context.Context, req providers.TransferRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.transferErrFor[req.PayeeRef]; ok {
		return "", err
	}
	if s.transferErr != nil {
		return "", s.transferErr
	}
	s.transfers = append(s.transfers, req)
	return uuid.NewString(), nil
}

func (s *stubAdapter) CheckStatus(_ context.Context, _ string) (providers.ProviderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return "", s.statusErr
	}
	if s.status == "" {
		return providers.ProviderPending, nil
	}
	return s.status, nil
}

func (s *stubAdapter) chargeCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chargeCalls
}

func (s *stubAdapter) transferRequests() []providers.TransferRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]providers.TransferRequest, len(s.transfers))
	copy(out, s.transfers)
	return out
}

// stubResolver maps merchant ids to payout wallets.
type stubResolver struct {
	wallets map[string]string
	err     error
}

func (r stubResolver) PayoutWallet(_ context.Context, merchantID string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	wallet, ok := r.wallets[merchantID]
	if !ok {
		return "", errors.New("merchant has no payout wallet")
	}
	return wallet, nil
}
