package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zamapay/payrail/internal/models"
)

func testEvent(id string) models.TransactionEvent {
	return models.TransactionEvent{
		TransactionID: id,
		Status:        models.StatusProviderPending,
		MerchantID:    "merchant-1",
	}
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	p := NewPublisher(nil)
	defer p.Stop()

	var mu sync.Mutex
	var first, second []string
	p.Subscribe(func(evt models.TransactionEvent) {
		mu.Lock()
		first = append(first, evt.TransactionID)
		mu.Unlock()
	})
	p.Subscribe(func(evt models.TransactionEvent) {
		mu.Lock()
		second = append(second, evt.TransactionID)
		mu.Unlock()
	})

	require.True(t, p.Publish(testEvent("tx-1")))
	require.True(t, p.Publish(testEvent("tx-2")))
	p.WaitIdle(time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"tx-1", "tx-2"}, first)
	require.Equal(t, []string{"tx-1", "tx-2"}, second)
}

func TestPublishSurvivesSubscriberPanic(t *testing.T) {
	p := NewPublisher(nil)
	defer p.Stop()

	var mu sync.Mutex
	var delivered []string
	p.Subscribe(func(models.TransactionEvent) {
		panic("consumer bug")
	})
	p.Subscribe(func(evt models.TransactionEvent) {
		mu.Lock()
		delivered = append(delivered, evt.TransactionID)
		mu.Unlock()
	})

	require.True(t, p.Publish(testEvent("tx-1")))
	p.WaitIdle(time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"tx-1"}, delivered)
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	p := NewPublisher(nil)
	defer p.Stop()

	gate := make(chan struct{})
	p.Subscribe(func(models.TransactionEvent) {
		<-gate
	})

	// The worker can hold one event in flight on top of the buffer, so
	// queueSize+2 publishes guarantee at least one drop.
	dropped := 0
	for i := 0; i < queueSize+2; i++ {
		if !p.Publish(testEvent("tx")) {
			dropped++
		}
	}
	require.Greater(t, dropped, 0)
	close(gate)
}

func TestPublishAfterStopIsRejected(t *testing.T) {
	p := NewPublisher(nil)
	p.Stop()

	require.False(t, p.Publish(testEvent("tx-1")))
	// Stop is idempotent.
	p.Stop()
}
