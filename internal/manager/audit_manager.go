// internal/manager/audit_manager.go
package manager

import (
	"errors"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"fair/internal/consumer"
	"fair/internal/messaging"
	"fair/internal/model"
	"fair/internal/worker"
)

var ErrNotRunning = errors.New("audit pipeline is not running")

// AuditManager owns the audit consumer and the worker pool behind it.
type AuditManager struct {
	rabbitConn *amqp.Connection
	rabbit     *messaging.RabbitClient
	store      model.AuditRepository
	workers    int

	mu       sync.Mutex
	consumer *consumer.Consumer
	pool     *worker.WorkerPool
}

func NewAuditManager(
	rabbitConn *amqp.Connection,
	rabbit *messaging.RabbitClient,
	store model.AuditRepository,
	workers int,
) *AuditManager {
	return &AuditManager{
		rabbitConn: rabbitConn,
		rabbit:     rabbit,
		store:      store,
		workers:    workers,
	}
}

// Start declares the queues, then spawns the pool and its consumer. Calling
// it on a running manager does nothing.
func (am *AuditManager) Start() error {
	am.mu.Lock()
	defer am.mu.Unlock()

	if am.consumer != nil {
		return nil
	}

	if err := am.rabbit.DeclareQueues(); err != nil {
		return err
	}

	pool := worker.NewWorkerPool(am.store, am.workers)
	c, err := consumer.StartConsumer(am.rabbitConn, messaging.AuditQueue, am.workers, pool.Submit)
	if err != nil {
		pool.Stop()
		return fmt.Errorf("failed to start audit consumer: %w", err)
	}
	am.consumer = c
	am.pool = pool

	zap.L().Info("audit pipeline started", zap.Int("workers", am.workers))
	return nil
}

// ShutdownAll stops consuming first so no delivery is handed to a stopped
// pool, then drains the workers.
func (am *AuditManager) ShutdownAll() {
	am.mu.Lock()
	defer am.mu.Unlock()

	if am.consumer == nil {
		return
	}
	am.consumer.Stop()
	am.pool.Stop()
	am.consumer = nil
	am.pool = nil
	zap.L().Info("audit pipeline stopped")
}

func (am *AuditManager) SetWorkerCount(n int) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	if am.pool == nil {
		return ErrNotRunning
	}
	if n <= 0 {
		return &model.ValidationError{Field: "workers", Reason: "must be positive"}
	}
	am.pool.SetWorkerCount(n)
	am.workers = n
	return nil
}

// WorkerCount reports the configured pool size, running or not.
func (am *AuditManager) WorkerCount() int {
	am.mu.Lock()
	defer am.mu.Unlock()
	if am.pool != nil {
		return am.pool.WorkerCount()
	}
	return am.workers
}
