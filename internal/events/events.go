// Package events carries state-transition notifications to the CRM sync
// consumer. Publication is fire-and-forget: it is never on the critical path
// for correctness of the record store, and a publish failure never rolls back
// a persisted record.
package events

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zamapay/payrail/internal/models"
)

const queueSize = 1000

// HandlerFunc consumes a published transaction event.
type HandlerFunc func(models.TransactionEvent)

// Publisher fans transaction events out to subscribers through a buffered
// async queue. When the queue is full the event is dropped and counted; the
// downstream CRM owns its own dead-letter path.
type Publisher struct {
	mu          sync.RWMutex
	subscribers []HandlerFunc
	queue       chan models.TransactionEvent
	stopCh      chan struct{}
	wg          sync.WaitGroup
	stopped     bool

	published prometheus.Counter
	dropped   prometheus.Counter
}

// NewPublisher starts the delivery worker. The registerer may be nil in
// tests.
func NewPublisher(reg prometheus.Registerer) *Publisher {
	p := &Publisher{
		queue:  make(chan models.TransactionEvent, queueSize),
		stopCh: make(chan struct{}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payrail_events_published_total",
			Help: "Transaction events accepted for delivery",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payrail_events_dropped_total",
			Help: "Transaction events dropped because the queue was full",
		}),
	}
	if reg != nil {
		reg.MustRegister(p.published, p.dropped)
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

// Subscribe registers a consumer callback. Callbacks run on the delivery
// worker goroutine.
func (p *Publisher) Subscribe(fn HandlerFunc) {
	p.mu.Lock()
	p.subscribers = append(p.subscribers, fn)
	p.mu.Unlock()
}

// Publish enqueues an event without blocking. Returns false when the event
// was dropped.
func (p *Publisher) Publish(evt models.TransactionEvent) bool {
	p.mu.RLock()
	stopped := p.stopped
	p.mu.RUnlock()
	if stopped {
		return false
	}

	select {
	case p.queue <- evt:
		p.published.Inc()
		return true
	default:
		p.dropped.Inc()
		log.Printf("Event queue full, dropping event: transactionId=%s status=%s", evt.TransactionID, evt.Status)
		return false
	}
}

func (p *Publisher) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case evt, ok := <-p.queue:
			if !ok {
				return
			}
			p.deliver(evt)
		}
	}
}

func (p *Publisher) deliver(evt models.TransactionEvent) {
	p.mu.RLock()
	subs := make([]HandlerFunc, len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Event subscriber panic: transactionId=%s: %v", evt.TransactionID, r)
				}
			}()
			fn(evt)
		}()
	}
}

// Stop drains nothing: queued events not yet delivered are abandoned, which
// is acceptable for fire-and-forget notifications.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
}

// WaitIdle blocks until the queue is empty or the timeout elapses. Test
// helper: delivery is asynchronous and tests need a settle point.
func (p *Publisher) WaitIdle(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(p.queue) == 0 {
			// One more tick so the in-flight event finishes delivery.
			time.Sleep(10 * time.Millisecond)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}
