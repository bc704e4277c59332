// internal/model/audit.go
package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventRequestSubmitted = "request.submitted"
	EventRequestApproved  = "request.approved"
	EventRequestRejected  = "request.rejected"
)

// AuditEvent is published for every moderation state change and stored by
// the audit workers.
type AuditEvent struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Event     string    `db:"event" json:"event"`
	Kind      Kind      `db:"kind" json:"kind"`
	RequestID uuid.UUID `db:"request_id" json:"request_id"`
	ActorID   uuid.UUID `db:"actor_id" json:"actor_id"`
	At        time.Time `db:"at" json:"at"`
}
