// internal/model/message.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// Message is one directed chat line about a listing. Only IsRead ever changes
// after insert. Seq is assigned by the store and orders equal timestamps.
type Message struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Seq        int64     `db:"seq" json:"-"`
	ListingID  uuid.UUID `db:"listing_id" json:"listing_id"`
	SenderID   uuid.UUID `db:"sender_id" json:"sender_id"`
	ReceiverID uuid.UUID `db:"receiver_id" json:"receiver_id"`
	Text       string    `db:"text" json:"text"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	IsRead     bool      `db:"is_read" json:"is_read"`
}

// Involves reports whether the user is the sender or the receiver.
func (m Message) Involves(id uuid.UUID) bool {
	return m.SenderID == id || m.ReceiverID == id
}

// MessageQuery selects messages for MessagesFor. An empty ListingIDs means any
// listing; a zero ParticipantID means any participant. At least one must be set.
type MessageQuery struct {
	ListingIDs    []uuid.UUID
	ParticipantID uuid.UUID
}

// ReadFilter selects unread messages addressed to ReceiverID. Zero ListingID
// or SenderID widen the match to every listing or every sender.
type ReadFilter struct {
	ReceiverID uuid.UUID
	ListingID  uuid.UUID
	SenderID   uuid.UUID
}

// Thread is the derived conversation between a viewer and one counterpart
// about one listing. It is never persisted.
type Thread struct {
	ListingID       uuid.UUID `json:"listing_id"`
	ListingTitle    string    `json:"listing_title"`
	CounterpartID   uuid.UUID `json:"counterpart_id"`
	CounterpartName string    `json:"counterpart_name"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	UnreadCount     int       `json:"unread_count"`
}
