package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"fair/internal/model"
)

func (s *Pebble) InsertTicket(ctx context.Context, t *model.SupportTicket) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	stamp(&t.CreatedAt)
	return s.commit(func(b *pebble.Batch) error {
		if _, err := lookup[model.User](b, pfxUser+t.UserID.String(), "user", t.UserID); err != nil {
			return err
		}
		return setJSON(b, pfxTicket+t.ID.String(), t)
	})
}

func (s *Pebble) GetTicket(ctx context.Context, id uuid.UUID) (*model.SupportTicket, error) {
	return lookup[model.SupportTicket](s.db, pfxTicket+id.String(), "support ticket", id)
}

func (s *Pebble) UpdateTicket(ctx context.Context, t *model.SupportTicket) error {
	return s.commit(func(b *pebble.Batch) error {
		stored, err := lookup[model.SupportTicket](b, pfxTicket+t.ID.String(), "support ticket", t.ID)
		if err != nil {
			return err
		}
		stored.Status = t.Status
		stored.AdminReply = t.AdminReply
		stored.RepliedAt = t.RepliedAt
		return setJSON(b, pfxTicket+t.ID.String(), stored)
	})
}

func (s *Pebble) ListTickets(ctx context.Context, userID uuid.UUID, limit int) ([]model.SupportTicket, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close()

	out := make([]model.SupportTicket, 0)
	err := scan(snap, pfxTicket, func(_ string, v []byte) (bool, error) {
		var t model.SupportTicket
		if err := decode(v, &t); err != nil {
			return false, err
		}
		if userID == uuid.Nil || t.UserID == userID {
			out = append(out, t)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b model.SupportTicket) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Pebble) SupportSeenAt(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	raw, err := getRaw(s.db, pfxSupportSeen+userID.String())
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return nil, fmt.Errorf("corrupt support seen time for %s: %w", userID, err)
	}
	return &t, nil
}

func (s *Pebble) SetSupportSeenAt(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return s.commit(func(b *pebble.Batch) error {
		if _, err := lookup[model.User](b, pfxUser+userID.String(), "user", userID); err != nil {
			return err
		}
		return b.Set([]byte(pfxSupportSeen+userID.String()), []byte(at.UTC().Format(time.RFC3339Nano)), nil)
	})
}

// InsertAudit ignores redelivered events.
func (s *Pebble) InsertAudit(ctx context.Context, e *model.AuditEvent) error {
	return s.commit(func(b *pebble.Batch) error {
		seen, err := exists(b, pfxAuditID+e.ID.String())
		if err != nil || seen {
			return err
		}
		if err := setJSON(b, pfxAudit+tsKey(e.At)+"/"+e.ID.String(), e); err != nil {
			return err
		}
		return b.Set([]byte(pfxAuditID+e.ID.String()), nil, nil)
	})
}

func (s *Pebble) ListAudit(ctx context.Context, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(pfxAudit),
		UpperBound: upperBound(pfxAudit),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]model.AuditEvent, 0, limit)
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var e model.AuditEvent
		if err := decode(iter.Value(), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, iter.Error()
}
