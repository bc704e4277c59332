// internal/model/repository.go
package model

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
)

// UserRepository is the identity directory.
type UserRepository interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	// DisplayNames resolves every id in one lookup. Unknown ids are absent
	// from the result.
	DisplayNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
	// ListUsers returns every account, oldest first.
	ListUsers(ctx context.Context) ([]User, error)
	// DeleteUser removes the account together with every message it sent or
	// received, its support tickets, its requests and the listings it owns
	// (with their messages).
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

type CatalogRepository interface {
	GetStreet(ctx context.Context, id uuid.UUID) (*Street, error)
	StreetByCode(ctx context.Context, code string) (*Street, error)
	GetPavilion(ctx context.Context, id uuid.UUID) (*Pavilion, error)
	PavilionsByStreet(ctx context.Context, streetID uuid.UUID) ([]Pavilion, error)
	GetListing(ctx context.Context, id uuid.UUID) (*Listing, error)
	ListingsByOwner(ctx context.Context, ownerID uuid.UUID) ([]Listing, error)
	ListingsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Listing, error)
	// UpdateListing rewrites the title and text of an existing listing.
	UpdateListing(ctx context.Context, l *Listing) error
	// DeleteListing removes the listing and its messages.
	DeleteListing(ctx context.Context, id uuid.UUID) error
	// ClearPavilion removes every listing of the pavilion, with their
	// messages, and reports how many went.
	ClearPavilion(ctx context.Context, id uuid.UUID) (int, error)
	// DeletePavilion clears the pavilion and then removes it.
	DeletePavilion(ctx context.Context, id uuid.UUID) error
}

// MessageRepository is the append-only message log.
type MessageRepository interface {
	// InsertMessage assigns ID and Seq and appends the record.
	InsertMessage(ctx context.Context, m *Message) error
	// MarkRead flips IsRead on the unread messages matching f and returns how
	// many changed. It never touches messages sent by f.ReceiverID.
	MarkRead(ctx context.Context, f ReadFilter) (int64, error)
	// Messages yields the matching messages ordered by CreatedAt, then Seq.
	// Each range over the sequence runs a fresh query.
	Messages(ctx context.Context, q MessageQuery) iter.Seq2[Message, error]
}

// RequestTx is the unit of work an approval or rejection runs in. Everything
// written through it commits together or not at all.
type RequestTx interface {
	// LockRequest loads the request and holds it against concurrent
	// transitions until the unit of work ends.
	LockRequest(ctx context.Context, id uuid.UUID) (*Request, error)
	SaveDecision(ctx context.Context, r *Request) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetStreet(ctx context.Context, id uuid.UUID) (*Street, error)
	GetPavilion(ctx context.Context, id uuid.UUID) (*Pavilion, error)
	CreateStreet(ctx context.Context, s *Street) error
	CreatePavilion(ctx context.Context, p *Pavilion) error
	CreateListing(ctx context.Context, l *Listing) error
}

type RequestRepository interface {
	InsertRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id uuid.UUID) (*Request, error)
	// ListRequests returns matching requests newest first.
	ListRequests(ctx context.Context, f RequestFilter) ([]Request, error)
	RequestStats(ctx context.Context) (map[Kind]StatusCounts, error)
	InTx(ctx context.Context, fn func(tx RequestTx) error) error
}

type SupportRepository interface {
	InsertTicket(ctx context.Context, t *SupportTicket) error
	GetTicket(ctx context.Context, id uuid.UUID) (*SupportTicket, error)
	UpdateTicket(ctx context.Context, t *SupportTicket) error
	// ListTickets returns tickets newest first. A zero userID lists everyone's;
	// limit <= 0 means no limit.
	ListTickets(ctx context.Context, userID uuid.UUID, limit int) ([]SupportTicket, error)
	SupportSeenAt(ctx context.Context, userID uuid.UUID) (*time.Time, error)
	SetSupportSeenAt(ctx context.Context, userID uuid.UUID, at time.Time) error
}

type AuditRepository interface {
	InsertAudit(ctx context.Context, e *AuditEvent) error
	ListAudit(ctx context.Context, limit int) ([]AuditEvent, error)
}
