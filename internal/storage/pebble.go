package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"fair/internal/model"
)

// Key layout. Records live under a short type prefix; index keys point back
// at a record id and sort in the order they are scanned.
//
//	u/<id>                   user
//	un/<username>            -> user id
//	useen/<id>               support inbox last-seen instant
//	st/<id>                  street
//	stc/<code>               -> street id
//	pv/<id>                  pavilion
//	pvs/<street>/<ts>/<id>   pavilions of a street
//	ls/<id>                  listing
//	lso/<owner>/<id>         listings of an owner
//	lsp/<pavilion>/<id>      listings of a pavilion
//	m/<id>                   message
//	ml/<listing>/<ts>/<seq>  -> message id
//	mu/<user>/<ts>/<seq>     -> message id, for sender and receiver
//	rq/<id>                  request
//	tk/<id>                  support ticket
//	au/<ts>/<id>             audit event
//	aui/<id>                 audit dedupe marker
//	meta/seq                 last message sequence number
const (
	pfxUser         = "u/"
	pfxUsername     = "un/"
	pfxSupportSeen  = "useen/"
	pfxStreet       = "st/"
	pfxStreetCode   = "stc/"
	pfxPavilion     = "pv/"
	pfxPavStreet    = "pvs/"
	pfxListing      = "ls/"
	pfxListingOwner = "lso/"
	pfxListingPav   = "lsp/"
	pfxMessage      = "m/"
	pfxMsgListing   = "ml/"
	pfxMsgUser      = "mu/"
	pfxRequest      = "rq/"
	pfxTicket       = "tk/"
	pfxAudit        = "au/"
	pfxAuditID      = "aui/"
	keySeq          = "meta/seq"
)

// Pebble implements every repository on an embedded Pebble database. Writers
// are serialized by mu and commit through batches, so readers only ever see
// whole writes. catalogMu additionally serializes the units of work that read
// users and catalog records before writing: request transitions and
// cascading deletes. Lock order is catalogMu, then mu.
type Pebble struct {
	db        *pebble.DB
	mu        sync.Mutex
	catalogMu sync.Mutex
	seq       int64
}

// OpenPebble opens (or creates) a database at path.
func OpenPebble(path string) (*Pebble, error) {
	return openPebble(path, &pebble.Options{})
}

// OpenPebbleMem opens a throwaway in-memory database.
func OpenPebbleMem() (*Pebble, error) {
	return openPebble("", &pebble.Options{FS: vfs.NewMem()})
}

func openPebble(path string, opts *pebble.Options) (*Pebble, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %q: %w", path, err)
	}
	s := &Pebble{db: db}

	raw, closer, err := db.Get([]byte(keySeq))
	switch {
	case err == nil:
		s.seq, err = strconv.ParseInt(string(raw), 10, 64)
		closer.Close()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("corrupt sequence counter: %w", err)
		}
	case errors.Is(err, pebble.ErrNotFound):
	default:
		db.Close()
		return nil, err
	}
	zap.L().Info("pebble opened", zap.String("path", path), zap.Int64("seq", s.seq))
	return s, nil
}

func (s *Pebble) Close() error {
	if err := s.db.Close(); err != nil {
		return err
	}
	zap.L().Info("pebble closed")
	return nil
}

// tsKey encodes t so that byte order matches time order, including times
// before the epoch.
func tsKey(t time.Time) string {
	return fmt.Sprintf("%020d", uint64(t.UnixNano())^(1<<63))
}

func seqKey(seq int64) string {
	return fmt.Sprintf("%020d", seq)
}

// upperBound is the first key after every key starting with prefix.
func upperBound(prefix string) []byte {
	end := []byte(prefix)
	end[len(end)-1]++
	return end
}

func decode(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

func getJSON(r pebble.Reader, key string, v any) error {
	raw, closer, err := r.Get([]byte(key))
	if err != nil {
		return err
	}
	defer closer.Close()
	return decode(raw, v)
}

func getRaw(r pebble.Reader, key string) ([]byte, error) {
	raw, closer, err := r.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), raw...), nil
}

func exists(r pebble.Reader, key string) (bool, error) {
	_, err := getRaw(r, key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func setJSON(w pebble.Writer, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return w.Set([]byte(key), data, nil)
}

// scan calls fn for every key under prefix in key order with a copy of the
// value. fn returns false to stop early.
func scan(r pebble.Reader, prefix string, fn func(key string, value []byte) (bool, error)) error {
	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		more, err := fn(string(iter.Key()), append([]byte(nil), iter.Value()...))
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return iter.Error()
}

func lookup[T any](r pebble.Reader, key, entity string, id fmt.Stringer) (*T, error) {
	var v T
	if err := getJSON(r, key, &v); err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, &model.NotFoundError{Entity: entity, ID: id.String()}
		}
		return nil, err
	}
	return &v, nil
}

// commit applies the writes made by fn atomically while holding the writer
// lock. fn sees its own writes through the indexed batch.
func (s *Pebble) commit(fn func(b *pebble.Batch) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(fn)
}

// commitCatalog is commit for writes that cascade across users, catalog and
// messages. It excludes request transitions and every other writer.
func (s *Pebble) commitCatalog(fn func(b *pebble.Batch) error) error {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	return s.commit(fn)
}

func (s *Pebble) commitLocked(fn func(b *pebble.Batch) error) error {
	b := s.db.NewIndexedBatch()
	defer b.Close()
	if err := fn(b); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *Pebble) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	stamp(&u.CreatedAt)
	return s.commit(func(b *pebble.Batch) error {
		taken, err := exists(b, pfxUsername+u.Username)
		if err != nil {
			return err
		}
		if taken {
			return &model.ConflictError{Reason: "username already taken"}
		}
		if err := setJSON(b, pfxUser+u.ID.String(), u); err != nil {
			return err
		}
		return b.Set([]byte(pfxUsername+u.Username), []byte(u.ID.String()), nil)
	})
}

func (s *Pebble) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return lookup[model.User](s.db, pfxUser+id.String(), "user", id)
}

func (s *Pebble) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	raw, err := getRaw(s.db, pfxUsername+username)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, &model.NotFoundError{Entity: "user", ID: username}
	}
	if err != nil {
		return nil, err
	}
	id, err := uuid.ParseBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt username index for %q: %w", username, err)
	}
	return s.GetUser(ctx, id)
}

func (s *Pebble) DisplayNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close()

	out := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		u, err := lookup[model.User](snap, pfxUser+id.String(), "user", id)
		if model.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = u.DisplayName()
	}
	return out, nil
}

func (s *Pebble) GetStreet(ctx context.Context, id uuid.UUID) (*model.Street, error) {
	return lookup[model.Street](s.db, pfxStreet+id.String(), "street", id)
}

func (s *Pebble) StreetByCode(ctx context.Context, code string) (*model.Street, error) {
	raw, err := getRaw(s.db, pfxStreetCode+code)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, &model.NotFoundError{Entity: "street", ID: code}
	}
	if err != nil {
		return nil, err
	}
	id, err := uuid.ParseBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt street code index for %q: %w", code, err)
	}
	return s.GetStreet(ctx, id)
}

func (s *Pebble) GetPavilion(ctx context.Context, id uuid.UUID) (*model.Pavilion, error) {
	return lookup[model.Pavilion](s.db, pfxPavilion+id.String(), "pavilion", id)
}

func (s *Pebble) PavilionsByStreet(ctx context.Context, streetID uuid.UUID) ([]model.Pavilion, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close()

	out := make([]model.Pavilion, 0)
	err := scan(snap, pfxPavStreet+streetID.String()+"/", func(_ string, v []byte) (bool, error) {
		id, err := uuid.ParseBytes(v)
		if err != nil {
			return false, err
		}
		p, err := lookup[model.Pavilion](snap, pfxPavilion+id.String(), "pavilion", id)
		if err != nil {
			return false, err
		}
		out = append(out, *p)
		return true, nil
	})
	return out, err
}

func (s *Pebble) GetListing(ctx context.Context, id uuid.UUID) (*model.Listing, error) {
	return lookup[model.Listing](s.db, pfxListing+id.String(), "listing", id)
}

func (s *Pebble) ListingsByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Listing, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close()

	out := make([]model.Listing, 0)
	err := scan(snap, pfxListingOwner+ownerID.String()+"/", func(_ string, v []byte) (bool, error) {
		id, err := uuid.ParseBytes(v)
		if err != nil {
			return false, err
		}
		l, err := lookup[model.Listing](snap, pfxListing+id.String(), "listing", id)
		if err != nil {
			return false, err
		}
		out = append(out, *l)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b model.Listing) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *Pebble) ListingsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Listing, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close()

	out := make(map[uuid.UUID]model.Listing, len(ids))
	for _, id := range ids {
		l, err := lookup[model.Listing](snap, pfxListing+id.String(), "listing", id)
		if model.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = *l
	}
	return out, nil
}
