package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"fair/internal/metrics"
	"fair/internal/model"
)

const storeTimeout = 5 * time.Second

var errMissingID = errors.New("audit event without id")

// WorkerPool stores audit deliveries with a resizable number of goroutines.
// Deliveries arrive through Submit, which is the consumer's handler.
type WorkerPool struct {
	store model.AuditRepository
	jobs  chan amqp.Delivery
	done  chan struct{}

	mu      sync.Mutex
	stops   []chan struct{}
	wg      sync.WaitGroup
	stopped bool
}

func NewWorkerPool(store model.AuditRepository, workerCount int) *WorkerPool {
	wp := &WorkerPool{
		store: store,
		jobs:  make(chan amqp.Delivery),
		done:  make(chan struct{}),
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	wp.mu.Lock()
	wp.grow(workerCount)
	wp.mu.Unlock()
	return wp
}

func (wp *WorkerPool) grow(n int) {
	for i := 0; i < n; i++ {
		stop := make(chan struct{})
		wp.stops = append(wp.stops, stop)
		wp.wg.Add(1)
		go wp.run(stop)
	}
}

func (wp *WorkerPool) run(stop <-chan struct{}) {
	defer wp.wg.Done()
	metrics.AuditWorkersActive.Inc()
	defer metrics.AuditWorkersActive.Dec()

	for {
		select {
		case <-stop:
			return
		case d := <-wp.jobs:
			wp.Handle(d)
		}
	}
}

// Submit blocks until a worker takes d. After Stop the delivery is requeued.
func (wp *WorkerPool) Submit(d amqp.Delivery) {
	select {
	case wp.jobs <- d:
	case <-wp.done:
		_ = d.Nack(false, true)
	}
}

// Handle stores one delivery and settles it. Undecodable events and store
// failures are rejected without requeue so they land in the DLQ.
func (wp *WorkerPool) Handle(d amqp.Delivery) {
	var e model.AuditEvent
	err := json.Unmarshal(d.Body, &e)
	if err == nil && e.ID == uuid.Nil {
		err = errMissingID
	}
	if err != nil {
		zap.L().Warn("invalid audit event", zap.String("message_id", d.MessageId), zap.Error(err))
		metrics.AuditProcessed.WithLabelValues("invalid").Inc()
		_ = d.Reject(false)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := wp.store.InsertAudit(ctx, &e); err != nil {
		zap.L().Error("failed to store audit event", zap.String("event_id", e.ID.String()), zap.Error(err))
		metrics.AuditProcessed.WithLabelValues("failed").Inc()
		_ = d.Reject(false)
		return
	}

	_ = d.Ack(false)
	metrics.AuditProcessed.WithLabelValues("stored").Inc()
}

// WorkerCount reports the number of running workers.
func (wp *WorkerPool) WorkerCount() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return len(wp.stops)
}

// SetWorkerCount grows or shrinks the pool without touching in-flight work.
func (wp *WorkerPool) SetWorkerCount(n int) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.stopped || n <= 0 || n == len(wp.stops) {
		return
	}
	zap.L().Info("rescaling audit workers", zap.Int("from", len(wp.stops)), zap.Int("to", n))

	if n > len(wp.stops) {
		wp.grow(n - len(wp.stops))
		return
	}
	for _, stop := range wp.stops[n:] {
		close(stop)
	}
	wp.stops = wp.stops[:n]
}

// Stop terminates every worker and waits for in-flight deliveries.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.done)
	for _, stop := range wp.stops {
		close(stop)
	}
	wp.stops = nil
	wp.mu.Unlock()

	wp.wg.Wait()
	zap.L().Info("audit workers stopped")
}
