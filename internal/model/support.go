// internal/model/support.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type TicketStatus string

const (
	TicketNew  TicketStatus = "new"
	TicketDone TicketStatus = "done"
)

type SupportTicket struct {
	ID         uuid.UUID    `db:"id" json:"id"`
	UserID     uuid.UUID    `db:"user_id" json:"user_id"`
	Subject    string       `db:"subject" json:"subject"`
	Text       string       `db:"text" json:"text"`
	Status     TicketStatus `db:"status" json:"status"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	AdminReply string       `db:"admin_reply" json:"admin_reply,omitempty"`
	RepliedAt  *time.Time   `db:"replied_at" json:"replied_at,omitempty"`
}
