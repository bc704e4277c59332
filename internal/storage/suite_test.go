package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fair/internal/model"
)

// base is truncated to microseconds so PostgreSQL round trips compare equal.
var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func mustUser(t *testing.T, s Store, name string, role model.Role) *model.User {
	t.Helper()
	u := &model.User{Username: name, Role: role, CreatedAt: base}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

// mustListing creates a street, a pavilion and a listing in one unit of work.
func mustListing(t *testing.T, s Store, owner *uuid.UUID, title string) *model.Listing {
	t.Helper()
	l := &model.Listing{OwnerID: owner, Title: title, Text: title + " text", CreatedAt: base}
	err := s.InTx(context.Background(), func(tx model.RequestTx) error {
		st := &model.Street{Name: "Street " + title, Code: "st_" + uuid.NewString()[:8], CreatedAt: base}
		if err := tx.CreateStreet(context.Background(), st); err != nil {
			return err
		}
		p := &model.Pavilion{StreetID: st.ID, Title: "Pavilion " + title, CreatedAt: base}
		if err := tx.CreatePavilion(context.Background(), p); err != nil {
			return err
		}
		l.PavilionID = p.ID
		return tx.CreateListing(context.Background(), l)
	})
	require.NoError(t, err)
	return l
}

// mustPavilion creates a street with one pavilion holding a listing per
// title, all owned by owner.
func mustPavilion(t *testing.T, s Store, owner uuid.UUID, titles ...string) (*model.Pavilion, []*model.Listing) {
	t.Helper()
	ctx := context.Background()
	p := &model.Pavilion{Title: "Hall", CreatedAt: base}
	var listings []*model.Listing
	err := s.InTx(ctx, func(tx model.RequestTx) error {
		st := &model.Street{Name: "Street", Code: "st_" + uuid.NewString()[:8], CreatedAt: base}
		if err := tx.CreateStreet(ctx, st); err != nil {
			return err
		}
		p.StreetID = st.ID
		if err := tx.CreatePavilion(ctx, p); err != nil {
			return err
		}
		for _, title := range titles {
			l := &model.Listing{PavilionID: p.ID, OwnerID: &owner, Title: title, Text: title, CreatedAt: base}
			if err := tx.CreateListing(ctx, l); err != nil {
				return err
			}
			listings = append(listings, l)
		}
		return nil
	})
	require.NoError(t, err)
	return p, listings
}

func send(t *testing.T, s Store, l *model.Listing, from, to uuid.UUID, minute int) {
	t.Helper()
	require.NoError(t, s.InsertMessage(context.Background(), &model.Message{
		ListingID: l.ID, SenderID: from, ReceiverID: to, Text: "hi", CreatedAt: at(minute),
	}))
}

func unreadFor(t *testing.T, s Store, user uuid.UUID) int {
	t.Helper()
	n := 0
	for _, m := range collect(t, s, model.MessageQuery{ParticipantID: user}) {
		if m.ReceiverID == user && !m.IsRead {
			n++
		}
	}
	return n
}

func collect(t *testing.T, s Store, q model.MessageQuery) []model.Message {
	t.Helper()
	out := []model.Message{}
	for m, err := range s.Messages(context.Background(), q) {
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

// runRepositoryTests exercises the behaviour every backend must share.
// open returns an empty store for each subtest.
func runRepositoryTests(t *testing.T, open func(t *testing.T) Store) {
	t.Run("UsernameIsUnique", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		u := mustUser(t, s, "alice", model.RoleUser)

		err := s.CreateUser(ctx, &model.User{Username: "alice", Role: model.RoleUser})
		assert.True(t, model.IsConflict(err), "got %v", err)

		got, err := s.GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)

		_, err = s.GetUser(ctx, uuid.New())
		assert.True(t, model.IsNotFound(err))
	})

	t.Run("DisplayNamesSkipUnknown", func(t *testing.T) {
		s := open(t)
		a := mustUser(t, s, "alice", model.RoleUser)
		b := mustUser(t, s, "bob", model.RoleMaster)
		ghost := uuid.New()

		names, err := s.DisplayNames(context.Background(), []uuid.UUID{a.ID, b.ID, ghost})
		require.NoError(t, err)
		assert.Equal(t, map[uuid.UUID]string{a.ID: "alice", b.ID: "bob"}, names)
	})

	t.Run("MessagesOrderedByTimeThenSeq", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		o := mustUser(t, s, "owner", model.RoleUser)
		c := mustUser(t, s, "client", model.RoleUser)
		l := mustListing(t, s, &o.ID, "lamp")

		texts := []string{"late", "tie-1", "tie-2", "early"}
		times := []time.Time{at(10), at(5), at(5), at(1)}
		for i := range texts {
			m := &model.Message{ListingID: l.ID, SenderID: c.ID, ReceiverID: o.ID, Text: texts[i], CreatedAt: times[i]}
			require.NoError(t, s.InsertMessage(ctx, m))
			assert.NotZero(t, m.Seq)
		}

		for _, q := range []model.MessageQuery{
			{ListingIDs: []uuid.UUID{l.ID}},
			{ParticipantID: o.ID},
			{ListingIDs: []uuid.UUID{l.ID}, ParticipantID: c.ID},
		} {
			got := collect(t, s, q)
			require.Len(t, got, 4)
			var order []string
			for _, m := range got {
				order = append(order, m.Text)
			}
			assert.Equal(t, []string{"early", "tie-1", "tie-2", "late"}, order)
		}

		assert.Empty(t, collect(t, s, model.MessageQuery{ParticipantID: uuid.New()}))
	})

	t.Run("MessagesRejectEmptyQuery", func(t *testing.T) {
		s := open(t)
		var got error
		for _, err := range s.Messages(context.Background(), model.MessageQuery{}) {
			got = err
		}
		assert.ErrorIs(t, got, errEmptyMessageQuery)
	})

	t.Run("MarkReadHonoursFilter", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		o := mustUser(t, s, "owner", model.RoleUser)
		c1 := mustUser(t, s, "c1", model.RoleUser)
		c2 := mustUser(t, s, "c2", model.RoleUser)
		l1 := mustListing(t, s, &o.ID, "one")
		l2 := mustListing(t, s, &o.ID, "two")

		send(t, s, l1, c1.ID, o.ID, 1)
		send(t, s, l1, c2.ID, o.ID, 2)
		send(t, s, l2, c1.ID, o.ID, 3)
		send(t, s, l1, o.ID, c1.ID, 4)

		n, err := s.MarkRead(ctx, model.ReadFilter{ReceiverID: o.ID, ListingID: l1.ID, SenderID: c1.ID})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		n, err = s.MarkRead(ctx, model.ReadFilter{ReceiverID: o.ID, ListingID: l1.ID, SenderID: c1.ID})
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)

		unread := map[string]bool{}
		for _, m := range collect(t, s, model.MessageQuery{ParticipantID: o.ID}) {
			if !m.IsRead {
				unread[m.ListingID.String()+"/"+m.SenderID.String()] = true
			}
		}
		assert.Equal(t, map[string]bool{
			l1.ID.String() + "/" + c2.ID.String(): true,
			l2.ID.String() + "/" + c1.ID.String(): true,
			l1.ID.String() + "/" + o.ID.String():  true,
		}, unread)

		n, err = s.MarkRead(ctx, model.ReadFilter{ReceiverID: o.ID})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		// The owner's own outgoing message stays unread for its receiver.
		for _, m := range collect(t, s, model.MessageQuery{ParticipantID: c1.ID}) {
			if m.SenderID == o.ID {
				assert.False(t, m.IsRead)
			}
		}
	})

	t.Run("ListingsByOwnerAndIDs", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		o := mustUser(t, s, "owner", model.RoleUser)
		mine := mustListing(t, s, &o.ID, "mine")
		orphan := mustListing(t, s, nil, "orphan")

		owned, err := s.ListingsByOwner(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, owned, 1)
		assert.Equal(t, mine.ID, owned[0].ID)

		got, err := s.ListingsByIDs(ctx, []uuid.UUID{mine.ID, orphan.ID, uuid.New()})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Nil(t, got[orphan.ID].OwnerID)
		assert.True(t, got[mine.ID].OwnedBy(o.ID))

		pavs, err := s.PavilionsByStreet(ctx, uuid.New())
		require.NoError(t, err)
		assert.Empty(t, pavs)
	})

	t.Run("InTxRollsBack", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		boom := errors.New("boom")

		err := s.InTx(ctx, func(tx model.RequestTx) error {
			if err := tx.CreateStreet(ctx, &model.Street{Name: "Main", Code: "main"}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = s.StreetByCode(ctx, "main")
		assert.True(t, model.IsNotFound(err))
	})

	t.Run("StreetCodeConflict", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		create := func() error {
			return s.InTx(ctx, func(tx model.RequestTx) error {
				return tx.CreateStreet(ctx, &model.Street{Name: "Main", Code: "main"})
			})
		}
		require.NoError(t, create())
		assert.True(t, model.IsConflict(create()))
	})

	t.Run("SaveDecisionOnlyFromPending", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		u := mustUser(t, s, "master", model.RoleMaster)
		r := &model.Request{Kind: model.KindStreet, RequesterID: u.ID, Status: model.StatusPending, CreatedAt: base,
			Payload: model.Payload{StreetName: "Main", StreetCode: "main", PavilionTitle: "P"}}
		require.NoError(t, s.InsertRequest(ctx, r))

		decide := func(to model.Status) error {
			return s.InTx(ctx, func(tx model.RequestTx) error {
				locked, err := tx.LockRequest(ctx, r.ID)
				if err != nil {
					return err
				}
				when := at(1)
				locked.Status = to
				locked.DecidedAt = &when
				return tx.SaveDecision(ctx, locked)
			})
		}
		require.NoError(t, decide(model.StatusRejected))
		assert.True(t, model.IsConflict(decide(model.StatusApproved)))

		got, err := s.GetRequest(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusRejected, got.Status)
		require.NotNil(t, got.DecidedAt)
		assert.True(t, at(1).Equal(*got.DecidedAt))
		assert.Equal(t, "main", got.Payload.StreetCode)

		err = s.InTx(ctx, func(tx model.RequestTx) error {
			_, err := tx.LockRequest(ctx, uuid.New())
			return err
		})
		assert.True(t, model.IsNotFound(err))
	})

	t.Run("ListRequestsAndStats", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		u := mustUser(t, s, "master", model.RoleMaster)
		other := mustUser(t, s, "other", model.RoleMaster)

		add := func(kind model.Kind, status model.Status, who uuid.UUID, minute int) *model.Request {
			r := &model.Request{Kind: kind, RequesterID: who, Status: status, CreatedAt: at(minute)}
			require.NoError(t, s.InsertRequest(ctx, r))
			return r
		}
		old := add(model.KindAd, model.StatusPending, u.ID, 1)
		add(model.KindAd, model.StatusRejected, u.ID, 2)
		recent := add(model.KindAd, model.StatusPending, other.ID, 3)
		add(model.KindStreet, model.StatusPending, u.ID, 4)

		got, err := s.ListRequests(ctx, model.RequestFilter{Kind: model.KindAd, Status: model.StatusPending})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, recent.ID, got[0].ID)
		assert.Equal(t, old.ID, got[1].ID)

		mine, err := s.ListRequests(ctx, model.RequestFilter{RequesterID: u.ID})
		require.NoError(t, err)
		assert.Len(t, mine, 3)

		stats, err := s.RequestStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCounts{Total: 3, Pending: 2, Rejected: 1}, stats[model.KindAd])
		assert.Equal(t, model.StatusCounts{Total: 1, Pending: 1}, stats[model.KindStreet])
		assert.Equal(t, model.StatusCounts{}, stats[model.KindPavilion])
	})

	t.Run("TicketsAndSeenAt", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		u := mustUser(t, s, "alice", model.RoleUser)
		v := mustUser(t, s, "bob", model.RoleUser)

		for i := 0; i < 3; i++ {
			require.NoError(t, s.InsertTicket(ctx, &model.SupportTicket{
				UserID: u.ID, Subject: "s", Text: "t", Status: model.TicketNew, CreatedAt: at(i),
			}))
		}
		require.NoError(t, s.InsertTicket(ctx, &model.SupportTicket{
			UserID: v.ID, Subject: "s", Text: "t", Status: model.TicketNew, CreatedAt: at(10),
		}))

		own, err := s.ListTickets(ctx, u.ID, 2)
		require.NoError(t, err)
		require.Len(t, own, 2)
		assert.True(t, at(2).Equal(own[0].CreatedAt))

		all, err := s.ListTickets(ctx, uuid.Nil, 0)
		require.NoError(t, err)
		assert.Len(t, all, 4)

		replied := at(20)
		own[0].AdminReply = "done"
		own[0].RepliedAt = &replied
		own[0].Status = model.TicketDone
		require.NoError(t, s.UpdateTicket(ctx, &own[0]))
		got, err := s.GetTicket(ctx, own[0].ID)
		require.NoError(t, err)
		assert.Equal(t, model.TicketDone, got.Status)
		assert.Equal(t, "done", got.AdminReply)

		err = s.UpdateTicket(ctx, &model.SupportTicket{ID: uuid.New(), Status: model.TicketDone})
		assert.True(t, model.IsNotFound(err))

		seen, err := s.SupportSeenAt(ctx, u.ID)
		require.NoError(t, err)
		assert.Nil(t, seen)
		require.NoError(t, s.SetSupportSeenAt(ctx, u.ID, at(30)))
		seen, err = s.SupportSeenAt(ctx, u.ID)
		require.NoError(t, err)
		require.NotNil(t, seen)
		assert.True(t, at(30).Equal(*seen))

		assert.True(t, model.IsNotFound(s.SetSupportSeenAt(ctx, uuid.New(), at(1))))
	})

	t.Run("AuditDedupesAndListsNewestFirst", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		first := &model.AuditEvent{ID: uuid.New(), Event: model.EventRequestSubmitted, Kind: model.KindAd,
			RequestID: uuid.New(), ActorID: uuid.New(), At: at(1)}
		second := &model.AuditEvent{ID: uuid.New(), Event: model.EventRequestApproved, Kind: model.KindAd,
			RequestID: first.RequestID, ActorID: uuid.New(), At: at(2)}

		require.NoError(t, s.InsertAudit(ctx, first))
		require.NoError(t, s.InsertAudit(ctx, second))
		require.NoError(t, s.InsertAudit(ctx, first))

		events, err := s.ListAudit(ctx, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, second.ID, events[0].ID)
		assert.Equal(t, first.ID, events[1].ID)

		events, err = s.ListAudit(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("MessagesRequireKnownRefs", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		o := mustUser(t, s, "owner", model.RoleMaster)
		c := mustUser(t, s, "client", model.RoleUser)
		l := mustListing(t, s, &o.ID, "lamp")

		for name, m := range map[string]*model.Message{
			"receiver": {ListingID: l.ID, SenderID: o.ID, ReceiverID: uuid.New(), Text: "hi"},
			"sender":   {ListingID: l.ID, SenderID: uuid.New(), ReceiverID: o.ID, Text: "hi"},
			"listing":  {ListingID: uuid.New(), SenderID: c.ID, ReceiverID: o.ID, Text: "hi"},
		} {
			err := s.InsertMessage(ctx, m)
			assert.True(t, model.IsNotFound(err), "%s: got %v", name, err)
		}
		assert.Empty(t, collect(t, s, model.MessageQuery{ParticipantID: o.ID}))

		err := s.InsertTicket(ctx, &model.SupportTicket{UserID: uuid.New(), Subject: "s", Text: "t", Status: model.TicketNew})
		assert.True(t, model.IsNotFound(err), "got %v", err)
		err = s.InsertRequest(ctx, &model.Request{Kind: model.KindAd, RequesterID: uuid.New(), Status: model.StatusPending})
		assert.True(t, model.IsNotFound(err), "got %v", err)
	})

	t.Run("ListUsersOldestFirst", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		late := &model.User{Username: "late", Role: model.RoleUser, CreatedAt: at(2)}
		early := &model.User{Username: "early", Role: model.RoleMaster, CreatedAt: at(1)}
		require.NoError(t, s.CreateUser(ctx, late))
		require.NoError(t, s.CreateUser(ctx, early))

		users, err := s.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, early.ID, users[0].ID)
		assert.Equal(t, late.ID, users[1].ID)
	})

	t.Run("DeleteUserCascades", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		o := mustUser(t, s, "owner", model.RoleMaster)
		d := mustUser(t, s, "dealer", model.RoleMaster)
		c := mustUser(t, s, "client", model.RoleUser)
		l1 := mustListing(t, s, &o.ID, "one")
		l2 := mustListing(t, s, &d.ID, "two")

		send(t, s, l1, c.ID, o.ID, 1)
		send(t, s, l2, c.ID, d.ID, 2)
		send(t, s, l2, d.ID, c.ID, 3)
		send(t, s, l2, o.ID, d.ID, 4)
		require.NoError(t, s.InsertTicket(ctx, &model.SupportTicket{UserID: c.ID, Subject: "s", Text: "t", Status: model.TicketNew}))
		require.NoError(t, s.InsertRequest(ctx, &model.Request{Kind: model.KindAd, RequesterID: c.ID, Status: model.StatusPending}))
		require.Equal(t, 2, unreadFor(t, s, d.ID))
		require.Equal(t, 1, unreadFor(t, s, o.ID))

		require.NoError(t, s.DeleteUser(ctx, c.ID))

		_, err := s.GetUser(ctx, c.ID)
		assert.True(t, model.IsNotFound(err))
		assert.Empty(t, collect(t, s, model.MessageQuery{ParticipantID: c.ID}))
		assert.Equal(t, 1, unreadFor(t, s, d.ID), "only the owner's message is left")
		assert.Zero(t, unreadFor(t, s, o.ID))
		tickets, err := s.ListTickets(ctx, uuid.Nil, 0)
		require.NoError(t, err)
		assert.Empty(t, tickets)
		reqs, err := s.ListRequests(ctx, model.RequestFilter{})
		require.NoError(t, err)
		assert.Empty(t, reqs)
		mustUser(t, s, "client", model.RoleUser)

		// Deleting an owner takes the owned listings and their threads along.
		send(t, s, l2, d.ID, o.ID, 5)
		require.NoError(t, s.DeleteUser(ctx, o.ID))
		_, err = s.GetListing(ctx, l1.ID)
		assert.True(t, model.IsNotFound(err))
		assert.Empty(t, collect(t, s, model.MessageQuery{ListingIDs: []uuid.UUID{l1.ID, l2.ID}}))
		assert.Zero(t, unreadFor(t, s, d.ID))
		_, err = s.GetListing(ctx, l2.ID)
		assert.NoError(t, err)

		assert.True(t, model.IsNotFound(s.DeleteUser(ctx, o.ID)))
	})

	t.Run("ListingEditAndDelete", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		o := mustUser(t, s, "owner", model.RoleMaster)
		c := mustUser(t, s, "client", model.RoleUser)
		l := mustListing(t, s, &o.ID, "lamp")
		keep := mustListing(t, s, &o.ID, "desk")
		send(t, s, l, c.ID, o.ID, 1)
		send(t, s, keep, c.ID, o.ID, 2)

		edit := &model.Listing{ID: l.ID, Title: "Brass lamp", Text: "Polished"}
		require.NoError(t, s.UpdateListing(ctx, edit))
		got, err := s.GetListing(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, "Brass lamp", got.Title)
		assert.Equal(t, "Polished", got.Text)
		assert.True(t, got.OwnedBy(o.ID))
		assert.Equal(t, l.PavilionID, got.PavilionID)
		assert.True(t, model.IsNotFound(s.UpdateListing(ctx, &model.Listing{ID: uuid.New(), Title: "x", Text: "y"})))

		require.NoError(t, s.DeleteListing(ctx, l.ID))
		_, err = s.GetListing(ctx, l.ID)
		assert.True(t, model.IsNotFound(err))
		assert.Empty(t, collect(t, s, model.MessageQuery{ListingIDs: []uuid.UUID{l.ID}}))
		assert.Equal(t, 1, unreadFor(t, s, o.ID))
		owned, err := s.ListingsByOwner(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, owned, 1)
		assert.Equal(t, keep.ID, owned[0].ID)

		assert.True(t, model.IsNotFound(s.DeleteListing(ctx, l.ID)))
	})

	t.Run("ClearAndDeletePavilion", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		o := mustUser(t, s, "owner", model.RoleMaster)
		c := mustUser(t, s, "client", model.RoleUser)
		p, listings := mustPavilion(t, s, o.ID, "a", "b")
		other := mustListing(t, s, &o.ID, "elsewhere")
		send(t, s, listings[0], c.ID, o.ID, 1)
		send(t, s, listings[1], c.ID, o.ID, 2)
		send(t, s, other, c.ID, o.ID, 3)

		n, err := s.ClearPavilion(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		for _, l := range listings {
			_, err := s.GetListing(ctx, l.ID)
			assert.True(t, model.IsNotFound(err))
		}
		assert.Equal(t, 1, unreadFor(t, s, o.ID))
		_, err = s.GetPavilion(ctx, p.ID)
		require.NoError(t, err)

		n, err = s.ClearPavilion(ctx, p.ID)
		require.NoError(t, err)
		assert.Zero(t, n)

		_, more := mustPavilion(t, s, o.ID, "c")
		require.NoError(t, s.DeletePavilion(ctx, p.ID))
		_, err = s.GetPavilion(ctx, p.ID)
		assert.True(t, model.IsNotFound(err))
		pavs, err := s.PavilionsByStreet(ctx, p.StreetID)
		require.NoError(t, err)
		assert.Empty(t, pavs)
		_, err = s.GetListing(ctx, more[0].ID)
		assert.NoError(t, err)

		_, err = s.ClearPavilion(ctx, p.ID)
		assert.True(t, model.IsNotFound(err))
		assert.True(t, model.IsNotFound(s.DeletePavilion(ctx, p.ID)))
	})

	t.Run("ConcurrentDecisionsHaveOneWinner", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		u := mustUser(t, s, "master", model.RoleMaster)
		r := &model.Request{Kind: model.KindAd, RequesterID: u.ID, Status: model.StatusPending, CreatedAt: base}
		require.NoError(t, s.InsertRequest(ctx, r))

		const n = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []model.Status
			errs    []error
		)
		for i := 0; i < n; i++ {
			to := model.StatusApproved
			if i%2 == 1 {
				to = model.StatusRejected
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.InTx(ctx, func(tx model.RequestTx) error {
					locked, err := tx.LockRequest(ctx, r.ID)
					if err != nil {
						return err
					}
					if locked.Status != model.StatusPending {
						return &model.ConflictError{Reason: "already decided"}
					}
					when := at(1)
					locked.Status = to
					locked.DecidedAt = &when
					return tx.SaveDecision(ctx, locked)
				})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					winners = append(winners, to)
				} else {
					errs = append(errs, err)
				}
			}()
		}
		wg.Wait()

		require.Len(t, winners, 1)
		for _, err := range errs {
			assert.True(t, model.IsConflict(err), "got %v", err)
		}
		got, err := s.GetRequest(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, winners[0], got.Status)
	})

	t.Run("MessagesNotBlockedByRequestTx", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		o := mustUser(t, s, "owner", model.RoleMaster)
		c := mustUser(t, s, "client", model.RoleUser)
		l := mustListing(t, s, &o.ID, "lamp")
		r := &model.Request{Kind: model.KindAd, RequesterID: o.ID, Status: model.StatusPending, CreatedAt: base}
		require.NoError(t, s.InsertRequest(ctx, r))

		locked := make(chan struct{})
		release := make(chan struct{})
		txDone := make(chan error, 1)
		go func() {
			txDone <- s.InTx(ctx, func(tx model.RequestTx) error {
				if _, err := tx.LockRequest(ctx, r.ID); err != nil {
					return err
				}
				close(locked)
				<-release
				return nil
			})
		}()
		<-locked

		written := make(chan error, 1)
		go func() {
			err := s.InsertMessage(ctx, &model.Message{ListingID: l.ID, SenderID: c.ID, ReceiverID: o.ID, Text: "hi", CreatedAt: at(1)})
			if err == nil {
				_, err = s.MarkRead(ctx, model.ReadFilter{ReceiverID: o.ID})
			}
			written <- err
		}()

		var writeErr error
		select {
		case writeErr = <-written:
		case <-time.After(5 * time.Second):
			t.Error("message writes waited for the request transaction")
			close(release)
			writeErr = <-written
			require.NoError(t, <-txDone)
			require.NoError(t, writeErr)
			return
		}
		close(release)
		require.NoError(t, <-txDone)
		require.NoError(t, writeErr)
	})
}
