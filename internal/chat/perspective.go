package chat

import (
	"github.com/google/uuid"

	"fair/internal/model"
)

// Perspective selects which side of a listing conversation the viewer is on.
type Perspective int

const (
	// OwnerPerspective groups the messages on the viewer's own listings by
	// the other participant.
	OwnerPerspective Perspective = iota
	// CounterpartPerspective groups the viewer's messages on other people's
	// listings by the listing owner.
	CounterpartPerspective
)

func (p Perspective) String() string {
	switch p {
	case OwnerPerspective:
		return "owner"
	case CounterpartPerspective:
		return "counterpart"
	}
	return "unknown"
}

// counterpart returns the second half of the thread key m belongs to, or
// false when m does not form a thread for viewer under p.
func (p Perspective) counterpart(viewer uuid.UUID, m model.Message, l model.Listing) (uuid.UUID, bool) {
	switch p {
	case OwnerPerspective:
		if !l.OwnedBy(viewer) {
			return uuid.Nil, false
		}
		switch {
		case m.SenderID == viewer && m.ReceiverID != viewer:
			return m.ReceiverID, true
		case m.ReceiverID == viewer && m.SenderID != viewer:
			return m.SenderID, true
		}
	case CounterpartPerspective:
		if l.OwnerID == nil || *l.OwnerID == viewer || !m.Involves(viewer) {
			return uuid.Nil, false
		}
		if m.SenderID == m.ReceiverID {
			return uuid.Nil, false
		}
		return *l.OwnerID, true
	}
	return uuid.Nil, false
}
