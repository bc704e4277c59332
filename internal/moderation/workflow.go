package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fair/internal/metrics"
	"fair/internal/model"
)

// Notifier receives an audit event after each committed state change.
type Notifier interface {
	Publish(ctx context.Context, e model.AuditEvent) error
}

// Users is the identity lookup used to check requesters.
type Users interface {
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// Workflow moves requests of every kind from pending to approved or
// rejected. Each transition runs inside one repository transaction that
// locks the request, so concurrent decisions on the same id see exactly one
// winner.
type Workflow struct {
	repo      model.RequestRepository
	catalog   Catalog
	users     Users
	processor *Processor
	notifier  Notifier
	now       func() time.Time
}

type Option func(*Workflow)

func WithNotifier(n Notifier) Option {
	return func(w *Workflow) { w.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithApprover replaces the approval strategy for one kind.
func WithApprover(kind model.Kind, a Approver) Option {
	return func(w *Workflow) { w.processor.approvers[kind] = a }
}

func NewWorkflow(repo model.RequestRepository, catalog Catalog, users Users, opts ...Option) *Workflow {
	w := &Workflow{
		repo:      repo,
		catalog:   catalog,
		users:     users,
		processor: NewProcessor(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Submit validates the payload for kind and stores a pending request.
func (w *Workflow) Submit(ctx context.Context, requesterID uuid.UUID, kind model.Kind, payload model.Payload) (*model.Request, error) {
	if _, err := w.users.GetUser(ctx, requesterID); err != nil {
		return nil, err
	}
	if err := w.processor.Check(ctx, w.catalog, kind, &payload); err != nil {
		return nil, err
	}

	r := &model.Request{
		ID:          uuid.New(),
		Kind:        kind,
		RequesterID: requesterID,
		Payload:     payload,
		Status:      model.StatusPending,
		CreatedAt:   w.now().UTC(),
	}
	if err := w.repo.InsertRequest(ctx, r); err != nil {
		return nil, fmt.Errorf("submit %s request: %w", kind, err)
	}

	zap.L().Info("request submitted",
		zap.String("kind", string(kind)),
		zap.String("request_id", r.ID.String()),
		zap.String("requester", requesterID.String()))
	w.publish(ctx, model.EventRequestSubmitted, r, requesterID)
	return r, nil
}

// Approve materializes the request's entities and marks it approved, all in
// one transaction. A request that is no longer pending yields a ConflictError
// and nothing is created.
func (w *Workflow) Approve(ctx context.Context, kind model.Kind, id, actorID uuid.UUID) (*model.Request, error) {
	return w.decide(ctx, kind, id, actorID, model.StatusApproved)
}

// Reject marks a pending request rejected.
func (w *Workflow) Reject(ctx context.Context, kind model.Kind, id, actorID uuid.UUID) (*model.Request, error) {
	return w.decide(ctx, kind, id, actorID, model.StatusRejected)
}

func (w *Workflow) decide(ctx context.Context, kind model.Kind, id, actorID uuid.UUID, to model.Status) (*model.Request, error) {
	var decided *model.Request
	err := w.repo.InTx(ctx, func(tx model.RequestTx) error {
		r, err := tx.LockRequest(ctx, id)
		if err != nil {
			return err
		}
		if r.Kind != kind {
			return &model.NotFoundError{Entity: string(kind) + " request", ID: id.String()}
		}
		if r.Status != model.StatusPending {
			return &model.ConflictError{Reason: "already processed"}
		}

		if to == model.StatusApproved {
			if err := w.processor.Materialize(ctx, tx, r); err != nil {
				return err
			}
		}
		at := w.now().UTC()
		r.Status = to
		r.DecidedAt = &at
		if err := tx.SaveDecision(ctx, r); err != nil {
			return err
		}
		decided = r
		return nil
	})
	if err != nil {
		var conflict *model.ConflictError
		if errors.As(err, &conflict) {
			metrics.ApprovalConflicts.WithLabelValues(string(kind)).Inc()
		}
		zap.L().Warn("request decision failed",
			zap.String("kind", string(kind)),
			zap.String("request_id", id.String()),
			zap.String("to", string(to)),
			zap.Error(err))
		return nil, err
	}

	metrics.RequestDecisions.WithLabelValues(string(kind), string(to)).Inc()
	zap.L().Info("request decided",
		zap.String("kind", string(kind)),
		zap.String("request_id", id.String()),
		zap.String("status", string(to)),
		zap.String("actor", actorID.String()))

	event := model.EventRequestApproved
	if to == model.StatusRejected {
		event = model.EventRequestRejected
	}
	w.publish(ctx, event, decided, actorID)
	return decided, nil
}

func (w *Workflow) publish(ctx context.Context, event string, r *model.Request, actorID uuid.UUID) {
	if w.notifier == nil {
		return
	}
	e := model.AuditEvent{
		ID:        uuid.New(),
		Event:     event,
		Kind:      r.Kind,
		RequestID: r.ID,
		ActorID:   actorID,
		At:        w.now().UTC(),
	}
	if err := w.notifier.Publish(ctx, e); err != nil {
		zap.L().Error("audit publish failed", zap.String("event", event), zap.String("request_id", r.ID.String()), zap.Error(err))
	}
}

// Get returns a request of the given kind.
func (w *Workflow) Get(ctx context.Context, kind model.Kind, id uuid.UUID) (*model.Request, error) {
	r, err := w.repo.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Kind != kind {
		return nil, &model.NotFoundError{Entity: string(kind) + " request", ID: id.String()}
	}
	return r, nil
}

func (w *Workflow) List(ctx context.Context, f model.RequestFilter) ([]model.Request, error) {
	return w.repo.ListRequests(ctx, f)
}

func (w *Workflow) Stats(ctx context.Context) (map[model.Kind]model.StatusCounts, error) {
	return w.repo.RequestStats(ctx)
}

// PendingTotal counts pending requests across all kinds.
func (w *Workflow) PendingTotal(ctx context.Context) (int, error) {
	stats, err := w.repo.RequestStats(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range stats {
		total += c.Pending
	}
	return total, nil
}
