package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zamapay/payrail/internal/events"
	"github.com/zamapay/payrail/internal/models"
	"github.com/zamapay/payrail/internal/providers"
	"github.com/zamapay/payrail/internal/store"
)

// MerchantResolver resolves a merchant's payout wallet. Satisfied by
// MerchantService.
type MerchantResolver interface {
	PayoutWallet(ctx context.Context, merchantID string) (string, error)
}

// RunSummary reports one settlement run. Failed groups stay unsettled and
// are picked up by the next run's window.
type RunSummary struct {
	Provider       models.PaymentMethod
	GroupsTotal    int
	GroupsSettled  int
	GroupsFailed   int
	GroupsSkipped  int
	RecordsSettled int64
}

// SettlementJob aggregates successful, unsettled charges per merchant and
// disburses each group's total in one transfer. Merchant groups are
// independent units of work: they run concurrently and one group's failure
// never aborts the others.
type SettlementJob struct {
	store     store.Store
	registry  *providers.Registry
	merchants MerchantResolver
	publisher *events.Publisher
}

func NewSettlementJob(s store.Store, registry *providers.Registry, merchants MerchantResolver, publisher *events.Publisher) *SettlementJob {
	return &SettlementJob{store: s, registry: registry, merchants: merchants, publisher: publisher}
}

// Run settles the provider's window. Exactly one transfer is made per
// merchant group; every record of a settled group is stamped with the same
// settlement id in one batched conditional update.
func (j *SettlementJob) Run(ctx context.Context, provider models.PaymentMethod, windowStart, windowEnd time.Time) (*RunSummary, error) {
	adapter, err := j.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	txs, err := j.store.FindUnsettled(ctx, provider, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		log.Printf("Settlement run for %s: no unsettled transactions in window %s - %s",
			provider, windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339))
		return &RunSummary{Provider: provider}, nil
	}

	groups := make(map[string][]models.Transaction)
	for _, tx := range txs {
		groups[tx.MerchantID] = append(groups[tx.MerchantID], tx)
	}

	summary := &RunSummary{Provider: provider, GroupsTotal: len(groups)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for merchantID, group := range groups {
		wg.Add(1)
		go func(merchantID string, group []models.Transaction) {
			defer wg.Done()
			settled, skipped, n := j.settleGroup(ctx, adapter, merchantID, group)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case settled:
				summary.GroupsSettled++
				summary.RecordsSettled += n
			case skipped:
				summary.GroupsSkipped++
			default:
				summary.GroupsFailed++
			}
		}(merchantID, group)
	}
	wg.Wait()

	log.Printf("Settlement run for %s complete: %d groups, %d settled, %d failed, %d skipped, %d records",
		provider, summary.GroupsTotal, summary.GroupsSettled, summary.GroupsFailed, summary.GroupsSkipped, summary.RecordsSettled)
	return summary, nil
}

// settleGroup disburses one merchant's total. Returns (settled, skipped,
// recordsMarked). Failures are logged, never propagated: fault isolation
// between merchant groups is a requirement, not an oversight.
func (j *SettlementJob) settleGroup(ctx context.Context, adapter providers.Adapter, merchantID string, group []models.Transaction) (bool, bool, int64) {
	currency := group[0].Currency
	total := decimal.Zero
	ids := make([]string, 0, len(group))
	for _, tx := range group {
		if tx.Currency != currency {
			// Summing across currencies would silently corrupt the payout.
			log.Printf("Settlement group for merchant %s mixes currencies (%s and %s), skipping group",
				merchantID, currency, tx.Currency)
			return false, true, 0
		}
		total = total.Add(decimal.NewFromFloat(tx.SettlementAmount))
		ids = append(ids, tx.TransactionID)
	}

	wallet, err := j.merchants.PayoutWallet(ctx, merchantID)
	if err != nil {
		log.Printf("Settlement for merchant %s skipped, payout wallet unresolved: %v", merchantID, err)
		return false, true, 0
	}

	settlementID := uuid.NewString()
	amount, _ := total.Float64()
	transferRef, err := adapter.InitiateTransfer(ctx, providers.TransferRequest{
		Reference: settlementID,
		Amount:    amount,
		Currency:  currency,
		PayeeRef:  wallet,
	})
	if err != nil {
		log.Printf("Settlement transfer failed for merchant %s (%d records, %.2f %s): %v",
			merchantID, len(group), amount, currency, err)
		return false, false, 0
	}

	settledAt := time.Now()
	modified, err := j.store.MarkSettled(ctx, ids, settlementID, settledAt)
	if err != nil {
		// Transfer went out but records are unmarked; the next run must not
		// double-disburse, so this is loud.
		log.Printf("CRITICAL: transfer %s sent for merchant %s but marking failed: %v", transferRef, merchantID, err)
		return false, false, 0
	}
	if modified != int64(len(ids)) {
		log.Printf("Settlement %s for merchant %s marked %d of %d records (rest already settled)",
			settlementID, merchantID, modified, len(ids))
	}

	log.Printf("Settlement %s complete: merchant=%s transfer=%s amount=%.2f %s records=%d",
		settlementID, merchantID, transferRef, amount, currency, modified)

	for _, tx := range group {
		stamped, err := j.store.FindByID(ctx, tx.TransactionID)
		if err != nil {
			log.Printf("Failed to re-read settled record %s: %v", tx.TransactionID, err)
			continue
		}
		// A record another run stamped first gets no event from this run.
		if stamped.SettlementID != settlementID {
			continue
		}
		j.publisher.Publish(models.EventFromTransaction(stamped))
	}
	return true, false, modified
}

// RunDaily settles today's window for the provider, the scheduled-trigger
// entry point.
func (j *SettlementJob) RunDaily(ctx context.Context, provider models.PaymentMethod) (*RunSummary, error) {
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return j.Run(ctx, provider, start, now)
}
