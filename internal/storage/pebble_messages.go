package storage

import (
	"context"
	"iter"
	"slices"
	"strconv"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"fair/internal/model"
)

// messageRecord persists Seq, which the API representation hides.
type messageRecord struct {
	model.Message
	Seq int64 `json:"seq"`
}

func (r messageRecord) message() model.Message {
	m := r.Message
	m.Seq = r.Seq
	return m
}

func getMessage(r pebble.Reader, id uuid.UUID) (model.Message, error) {
	rec, err := lookup[messageRecord](r, pfxMessage+id.String(), "message", id)
	if err != nil {
		return model.Message{}, err
	}
	return rec.message(), nil
}

func putMessage(w pebble.Writer, m model.Message) error {
	return setJSON(w, pfxMessage+m.ID.String(), messageRecord{Message: m, Seq: m.Seq})
}

func (s *Pebble) InsertMessage(ctx context.Context, m *model.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	stamp(&m.CreatedAt)

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.seq + 1
	m.Seq = seq
	suffix := "/" + tsKey(m.CreatedAt) + "/" + seqKey(seq)
	id := []byte(m.ID.String())
	err := s.commitLocked(func(b *pebble.Batch) error {
		if err := checkMessageRefs(b, m); err != nil {
			return err
		}
		if err := putMessage(b, *m); err != nil {
			return err
		}
		if err := b.Set([]byte(pfxMsgListing+m.ListingID.String()+suffix), id, nil); err != nil {
			return err
		}
		if err := b.Set([]byte(pfxMsgUser+m.SenderID.String()+suffix), id, nil); err != nil {
			return err
		}
		if err := b.Set([]byte(pfxMsgUser+m.ReceiverID.String()+suffix), id, nil); err != nil {
			return err
		}
		return b.Set([]byte(keySeq), []byte(strconv.FormatInt(seq, 10)), nil)
	})
	if err != nil {
		m.Seq = 0
		return err
	}
	s.seq = seq
	return nil
}

// checkMessageRefs makes the listing and both participants a precondition of
// the insert. Deletes run under the same writer lock, so they cannot slip in
// between this check and the commit.
func checkMessageRefs(r pebble.Reader, m *model.Message) error {
	refs := []struct {
		key, entity string
		id          uuid.UUID
	}{
		{pfxListing + m.ListingID.String(), "listing", m.ListingID},
		{pfxUser + m.SenderID.String(), "user", m.SenderID},
		{pfxUser + m.ReceiverID.String(), "user", m.ReceiverID},
	}
	for _, ref := range refs {
		ok, err := exists(r, ref.key)
		if err != nil {
			return err
		}
		if !ok {
			return &model.NotFoundError{Entity: ref.entity, ID: ref.id.String()}
		}
	}
	return nil
}

// MarkRead walks the receiver's index, which covers every message the
// receiver could be marked read on.
func (s *Pebble) MarkRead(ctx context.Context, f model.ReadFilter) (int64, error) {
	var changed int64
	err := s.commit(func(b *pebble.Batch) error {
		changed = 0
		return scan(b, pfxMsgUser+f.ReceiverID.String()+"/", func(_ string, v []byte) (bool, error) {
			id, err := uuid.ParseBytes(v)
			if err != nil {
				return false, err
			}
			m, err := getMessage(b, id)
			if err != nil {
				return false, err
			}
			if m.ReceiverID != f.ReceiverID || m.IsRead {
				return true, nil
			}
			if f.ListingID != uuid.Nil && m.ListingID != f.ListingID {
				return true, nil
			}
			if f.SenderID != uuid.Nil && m.SenderID != f.SenderID {
				return true, nil
			}
			m.IsRead = true
			changed++
			return true, putMessage(b, m)
		})
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// Messages reads from a snapshot taken when the range starts, so one pass
// never observes a half-applied MarkRead.
func (s *Pebble) Messages(ctx context.Context, q model.MessageQuery) iter.Seq2[model.Message, error] {
	return func(yield func(model.Message, error) bool) {
		if len(q.ListingIDs) == 0 && q.ParticipantID == uuid.Nil {
			yield(model.Message{}, errEmptyMessageQuery)
			return
		}
		snap := s.db.NewSnapshot()
		defer snap.Close()

		msgs, err := s.collect(ctx, snap, q)
		if err != nil {
			yield(model.Message{}, err)
			return
		}
		for _, m := range msgs {
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (s *Pebble) collect(ctx context.Context, r pebble.Reader, q model.MessageQuery) ([]model.Message, error) {
	var (
		out      []model.Message
		listings map[uuid.UUID]struct{}
	)
	if len(q.ListingIDs) > 0 {
		listings = make(map[uuid.UUID]struct{}, len(q.ListingIDs))
		for _, id := range q.ListingIDs {
			listings[id] = struct{}{}
		}
	}

	visit := func(_ string, v []byte) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		id, err := uuid.ParseBytes(v)
		if err != nil {
			return false, err
		}
		m, err := getMessage(r, id)
		if err != nil {
			return false, err
		}
		if listings != nil {
			if _, ok := listings[m.ListingID]; !ok {
				return true, nil
			}
		}
		if q.ParticipantID != uuid.Nil && !m.Involves(q.ParticipantID) {
			return true, nil
		}
		out = append(out, m)
		return true, nil
	}

	if q.ParticipantID != uuid.Nil {
		if err := scan(r, pfxMsgUser+q.ParticipantID.String()+"/", visit); err != nil {
			return nil, err
		}
		return out, nil
	}

	for id := range listings {
		if err := scan(r, pfxMsgListing+id.String()+"/", visit); err != nil {
			return nil, err
		}
	}
	slices.SortFunc(out, func(a, b model.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out, nil
}
