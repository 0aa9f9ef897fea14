package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zamapay/payrail/internal/errs"
	"github.com/zamapay/payrail/internal/models"
)

// Memory is an in-process Store with the same conditional-write semantics as
// the MongoDB implementation. Used in tests and for local runs without a
// database.
type Memory struct {
	mu  sync.Mutex
	txs map[string]*models.Transaction
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{txs: make(map[string]*models.Transaction)}
}

func (s *Memory) Create(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txs[tx.TransactionID]; ok {
		return fmt.Errorf("transaction already exists: %w", errs.ErrConflict)
	}
	for _, existing := range s.txs {
		if tx.ExternalTransactionID != "" &&
			existing.PaymentMethod == tx.PaymentMethod &&
			existing.ExternalTransactionID == tx.ExternalTransactionID {
			return fmt.Errorf("transaction already exists: %w", errs.ErrConflict)
		}
		if tx.IdempotencyKey != "" && existing.IdempotencyKey == tx.IdempotencyKey {
			return fmt.Errorf("transaction already exists: %w", errs.ErrConflict)
		}
	}

	clone := *tx
	s.txs[tx.TransactionID] = &clone
	return nil
}

func (s *Memory) FindByID(_ context.Context, transactionID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[transactionID]
	if !ok {
		return nil, fmt.Errorf("transaction: %w", errs.ErrNotFound)
	}
	clone := *tx
	return &clone, nil
}

func (s *Memory) FindByExternalID(_ context.Context, method models.PaymentMethod, externalID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range s.txs {
		if tx.PaymentMethod == method && tx.ExternalTransactionID == externalID && externalID != "" {
			clone := *tx
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("transaction: %w", errs.ErrNotFound)
}

func (s *Memory) FindByIdempotencyKey(_ context.Context, key string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range s.txs {
		if key != "" && tx.IdempotencyKey == key {
			clone := *tx
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("transaction: %w", errs.ErrNotFound)
}

func (s *Memory) FindByOriginalID(_ context.Context, originalID string) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Transaction
	for _, tx := range s.txs {
		if tx.OriginalTransactionID == originalID {
			out = append(out, *tx)
		}
	}
	sortByCreatedOn(out)
	return out, nil
}

func (s *Memory) List(_ context.Context, filter ListFilter) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Transaction
	for _, tx := range s.txs {
		if filter.MerchantID != "" && tx.MerchantID != filter.MerchantID {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.StartDate != nil && tx.CreatedOn.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && tx.CreatedOn.After(*filter.EndDate) {
			continue
		}
		out = append(out, *tx)
	}
	sortByCreatedOn(out)
	return out, nil
}

func (s *Memory) FindUnsettled(_ context.Context, method models.PaymentMethod, windowStart, windowEnd time.Time) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Transaction
	for _, tx := range s.txs {
		if tx.PaymentMethod != method || tx.TransactionType != models.TypeCharge {
			continue
		}
		if tx.Status != models.StatusProviderSuccess || tx.SettlementID != "" {
			continue
		}
		if tx.CreatedOn.Before(windowStart) || tx.CreatedOn.After(windowEnd) {
			continue
		}
		out = append(out, *tx)
	}
	sortByCreatedOn(out)
	return out, nil
}

func (s *Memory) SetExternalID(_ context.Context, transactionID, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[transactionID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", transactionID, errs.ErrNotFound)
	}
	for _, existing := range s.txs {
		if existing.TransactionID != transactionID &&
			existing.PaymentMethod == tx.PaymentMethod &&
			existing.ExternalTransactionID == externalID {
			return fmt.Errorf("external reference %s already in use: %w", externalID, errs.ErrConflict)
		}
	}
	tx.ExternalTransactionID = externalID
	tx.UpdatedOn = time.Now()
	return nil
}

func (s *Memory) TransitionStatus(_ context.Context, transactionID string, to models.Status, txError string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[transactionID]
	if !ok {
		return false, nil
	}
	if tx.Status.IsTerminal() || tx.Status.Rank() >= to.Rank() {
		return false, nil
	}
	tx.Status = to
	if txError != "" {
		tx.TransactionError = txError
	}
	tx.UpdatedOn = time.Now()
	return true, nil
}

func (s *Memory) ReserveRefund(_ context.Context, chargeID string, amount, originalAmount float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[chargeID]
	if !ok || tx.TransactionType != models.TypeCharge {
		return false, nil
	}
	if tx.RefundedAmount > originalAmount-amount {
		return false, nil
	}
	tx.RefundedAmount += amount
	tx.UpdatedOn = time.Now()
	return true, nil
}

func (s *Memory) ReleaseRefund(_ context.Context, chargeID string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[chargeID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", chargeID, errs.ErrNotFound)
	}
	tx.RefundedAmount -= amount
	tx.UpdatedOn = time.Now()
	return nil
}

func (s *Memory) AppendRefundLegs(_ context.Context, chargeID string, customer, merchant *models.RefundLegEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[chargeID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", chargeID, errs.ErrNotFound)
	}
	if customer != nil {
		tx.CustomerRefundResponse = append(tx.CustomerRefundResponse, *customer)
	}
	if merchant != nil {
		tx.MerchantRefundResponse = append(tx.MerchantRefundResponse, *merchant)
	}
	tx.UpdatedOn = time.Now()
	return nil
}

func (s *Memory) MarkSettled(_ context.Context, transactionIDs []string, settlementID string, settledAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var modified int64
	for _, id := range transactionIDs {
		tx, ok := s.txs[id]
		if !ok || tx.SettlementID != "" {
			continue
		}
		when := settledAt
		tx.SettlementID = settlementID
		tx.SettlementStatus = models.SettlementSettled
		tx.SettlementDate = &when
		tx.Status = models.StatusSettlementSuccessful
		tx.UpdatedOn = time.Now()
		modified++
	}
	return modified, nil
}

func sortByCreatedOn(txs []models.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		return txs[i].CreatedOn.Before(txs[j].CreatedOn)
	})
}
