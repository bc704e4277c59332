package storage

import (
	"context"
	"slices"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"fair/internal/model"
)

func (s *Pebble) ListUsers(ctx context.Context) ([]model.User, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close()

	out := make([]model.User, 0)
	err := scan(snap, pfxUser, func(_ string, v []byte) (bool, error) {
		var u model.User
		if err := decode(v, &u); err != nil {
			return false, err
		}
		out = append(out, u)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b model.User) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Username, b.Username)
	})
	return out, nil
}

func (s *Pebble) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return s.commitCatalog(func(b *pebble.Batch) error {
		u, err := lookup[model.User](b, pfxUser+id.String(), "user", id)
		if err != nil {
			return err
		}

		owned, err := indexedIDs(b, pfxListingOwner+id.String()+"/")
		if err != nil {
			return err
		}
		for _, lid := range owned {
			if err := deleteListing(b, lid); err != nil {
				return err
			}
		}
		if err := deleteMessagesUnder(b, pfxMsgUser+id.String()+"/"); err != nil {
			return err
		}
		if err := deleteRecords(b, pfxTicket, func(t model.SupportTicket) bool { return t.UserID == id }); err != nil {
			return err
		}
		if err := deleteRecords(b, pfxRequest, func(r model.Request) bool { return r.RequesterID == id }); err != nil {
			return err
		}
		return deleteKeys(b,
			pfxUser+id.String(),
			pfxUsername+u.Username,
			pfxSupportSeen+id.String(),
		)
	})
}

func (s *Pebble) UpdateListing(ctx context.Context, l *model.Listing) error {
	return s.commit(func(b *pebble.Batch) error {
		stored, err := lookup[model.Listing](b, pfxListing+l.ID.String(), "listing", l.ID)
		if err != nil {
			return err
		}
		stored.Title = l.Title
		stored.Text = l.Text
		if err := setJSON(b, pfxListing+l.ID.String(), stored); err != nil {
			return err
		}
		*l = *stored
		return nil
	})
}

func (s *Pebble) DeleteListing(ctx context.Context, id uuid.UUID) error {
	return s.commitCatalog(func(b *pebble.Batch) error {
		return deleteListing(b, id)
	})
}

func (s *Pebble) ClearPavilion(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := s.commitCatalog(func(b *pebble.Batch) error {
		var err error
		n, err = clearPavilion(b, id)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Pebble) DeletePavilion(ctx context.Context, id uuid.UUID) error {
	return s.commitCatalog(func(b *pebble.Batch) error {
		p, err := lookup[model.Pavilion](b, pfxPavilion+id.String(), "pavilion", id)
		if err != nil {
			return err
		}
		if _, err := clearPavilion(b, id); err != nil {
			return err
		}
		return deleteKeys(b,
			pfxPavilion+id.String(),
			pfxPavStreet+p.StreetID.String()+"/"+tsKey(p.CreatedAt)+"/"+id.String(),
		)
	})
}

func clearPavilion(b *pebble.Batch, id uuid.UUID) (int, error) {
	if _, err := lookup[model.Pavilion](b, pfxPavilion+id.String(), "pavilion", id); err != nil {
		return 0, err
	}
	listings, err := indexedIDs(b, pfxListingPav+id.String()+"/")
	if err != nil {
		return 0, err
	}
	for _, lid := range listings {
		if err := deleteListing(b, lid); err != nil {
			return 0, err
		}
	}
	return len(listings), nil
}

// deleteListing removes the listing, its index entries and its messages.
func deleteListing(b *pebble.Batch, id uuid.UUID) error {
	l, err := lookup[model.Listing](b, pfxListing+id.String(), "listing", id)
	if err != nil {
		return err
	}
	if err := deleteMessagesUnder(b, pfxMsgListing+id.String()+"/"); err != nil {
		return err
	}
	keys := []string{
		pfxListing + id.String(),
		pfxListingPav + l.PavilionID.String() + "/" + id.String(),
	}
	if l.OwnerID != nil {
		keys = append(keys, pfxListingOwner+l.OwnerID.String()+"/"+id.String())
	}
	return deleteKeys(b, keys...)
}

// deleteMessagesUnder removes every message an index prefix points at, along
// with all of that message's index entries.
func deleteMessagesUnder(b *pebble.Batch, prefix string) error {
	ids, err := indexedIDs(b, prefix)
	if err != nil {
		return err
	}
	for _, id := range ids {
		m, err := getMessage(b, id)
		if model.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		suffix := "/" + tsKey(m.CreatedAt) + "/" + seqKey(m.Seq)
		err = deleteKeys(b,
			pfxMessage+id.String(),
			pfxMsgListing+m.ListingID.String()+suffix,
			pfxMsgUser+m.SenderID.String()+suffix,
			pfxMsgUser+m.ReceiverID.String()+suffix,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// indexedIDs collects the ids stored under an index prefix. Collecting first
// keeps the iterator closed while the caller deletes.
func indexedIDs(r pebble.Reader, prefix string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := scan(r, prefix, func(_ string, v []byte) (bool, error) {
		id, err := uuid.ParseBytes(v)
		if err != nil {
			return false, err
		}
		ids = append(ids, id)
		return true, nil
	})
	return ids, err
}

// deleteRecords drops every JSON record under prefix that match accepts.
func deleteRecords[T any](b *pebble.Batch, prefix string, match func(T) bool) error {
	var keys []string
	err := scan(b, prefix, func(key string, v []byte) (bool, error) {
		var rec T
		if err := decode(v, &rec); err != nil {
			return false, err
		}
		if match(rec) {
			keys = append(keys, key)
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	return deleteKeys(b, keys...)
}

func deleteKeys(b *pebble.Batch, keys ...string) error {
	for _, key := range keys {
		if err := b.Delete([]byte(key), nil); err != nil {
			return err
		}
	}
	return nil
}
