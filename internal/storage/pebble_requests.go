package storage

import (
	"context"
	"slices"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"fair/internal/model"
)

func (s *Pebble) InsertRequest(ctx context.Context, r *model.Request) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	stamp(&r.CreatedAt)
	return s.commit(func(b *pebble.Batch) error {
		if _, err := lookup[model.User](b, pfxUser+r.RequesterID.String(), "user", r.RequesterID); err != nil {
			return err
		}
		return setJSON(b, pfxRequest+r.ID.String(), r)
	})
}

func (s *Pebble) GetRequest(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	return lookup[model.Request](s.db, pfxRequest+id.String(), "request", id)
}

func (s *Pebble) eachRequest(fn func(r model.Request)) error {
	snap := s.db.NewSnapshot()
	defer snap.Close()
	return scan(snap, pfxRequest, func(_ string, v []byte) (bool, error) {
		var r model.Request
		if err := decode(v, &r); err != nil {
			return false, err
		}
		fn(r)
		return true, nil
	})
}

func (s *Pebble) ListRequests(ctx context.Context, f model.RequestFilter) ([]model.Request, error) {
	out := make([]model.Request, 0)
	err := s.eachRequest(func(r model.Request) {
		if f.Kind != "" && r.Kind != f.Kind {
			return
		}
		if f.Status != "" && r.Status != f.Status {
			return
		}
		if f.RequesterID != uuid.Nil && r.RequesterID != f.RequesterID {
			return
		}
		out = append(out, r)
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b model.Request) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func (s *Pebble) RequestStats(ctx context.Context) (map[model.Kind]model.StatusCounts, error) {
	out := make(map[model.Kind]model.StatusCounts, len(model.Kinds))
	for _, k := range model.Kinds {
		out[k] = model.StatusCounts{}
	}
	err := s.eachRequest(func(r model.Request) {
		c := out[r.Kind]
		c.Add(r.Status)
		out[r.Kind] = c
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InTx holds catalogMu for the whole unit of work, which is what makes
// LockRequest exclusive. The writer lock is taken only to commit, so message
// traffic does not queue behind moderation. Nothing reaches the database
// unless fn succeeds.
func (s *Pebble) InTx(ctx context.Context, fn func(tx model.RequestTx) error) error {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()

	b := s.db.NewIndexedBatch()
	defer b.Close()
	if err := fn(&pebbleTx{b: b}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return b.Commit(pebble.Sync)
}

type pebbleTx struct {
	b *pebble.Batch
}

func (t *pebbleTx) LockRequest(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	return lookup[model.Request](t.b, pfxRequest+id.String(), "request", id)
}

func (t *pebbleTx) SaveDecision(ctx context.Context, r *model.Request) error {
	stored, err := lookup[model.Request](t.b, pfxRequest+r.ID.String(), "request", r.ID)
	if err != nil {
		return err
	}
	if stored.Status != model.StatusPending {
		return &model.ConflictError{Reason: "already processed"}
	}
	stored.Status = r.Status
	stored.DecidedAt = r.DecidedAt
	stored.ResultLinkID = r.ResultLinkID
	return setJSON(t.b, pfxRequest+r.ID.String(), stored)
}

func (t *pebbleTx) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return lookup[model.User](t.b, pfxUser+id.String(), "user", id)
}

func (t *pebbleTx) GetStreet(ctx context.Context, id uuid.UUID) (*model.Street, error) {
	return lookup[model.Street](t.b, pfxStreet+id.String(), "street", id)
}

func (t *pebbleTx) GetPavilion(ctx context.Context, id uuid.UUID) (*model.Pavilion, error) {
	return lookup[model.Pavilion](t.b, pfxPavilion+id.String(), "pavilion", id)
}

func (t *pebbleTx) CreateStreet(ctx context.Context, st *model.Street) error {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	stamp(&st.CreatedAt)
	taken, err := exists(t.b, pfxStreetCode+st.Code)
	if err != nil {
		return err
	}
	if taken {
		return &model.ConflictError{Reason: "street code " + st.Code + " is already in use"}
	}
	if err := setJSON(t.b, pfxStreet+st.ID.String(), st); err != nil {
		return err
	}
	return t.b.Set([]byte(pfxStreetCode+st.Code), []byte(st.ID.String()), nil)
}

func (t *pebbleTx) CreatePavilion(ctx context.Context, p *model.Pavilion) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	stamp(&p.CreatedAt)
	if err := setJSON(t.b, pfxPavilion+p.ID.String(), p); err != nil {
		return err
	}
	key := pfxPavStreet + p.StreetID.String() + "/" + tsKey(p.CreatedAt) + "/" + p.ID.String()
	return t.b.Set([]byte(key), []byte(p.ID.String()), nil)
}

func (t *pebbleTx) CreateListing(ctx context.Context, l *model.Listing) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	stamp(&l.CreatedAt)
	if err := setJSON(t.b, pfxListing+l.ID.String(), l); err != nil {
		return err
	}
	pav := pfxListingPav + l.PavilionID.String() + "/" + l.ID.String()
	if err := t.b.Set([]byte(pav), []byte(l.ID.String()), nil); err != nil {
		return err
	}
	if l.OwnerID == nil {
		return nil
	}
	key := pfxListingOwner + l.OwnerID.String() + "/" + l.ID.String()
	return t.b.Set([]byte(key), []byte(l.ID.String()), nil)
}
