package moderation

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
	"fair/internal/storage"
)

type recorder struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (r *recorder) Publish(ctx context.Context, e model.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Event)
	}
	return out
}

type env struct {
	store  *storage.Pebble
	wf     *Workflow
	events *recorder
	master *model.User
	admin  *model.User
}

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	store, err := storage.OpenPebbleMem()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	e := &env{store: store, events: &recorder{}}
	e.master = &model.User{Username: "master1", Role: model.RoleMaster}
	e.admin = &model.User{Username: "admin", Role: model.RoleAdmin}
	require.NoError(t, store.CreateUser(context.Background(), e.master))
	require.NoError(t, store.CreateUser(context.Background(), e.admin))

	opts = append([]Option{WithNotifier(e.events), WithClock(func() time.Time { return now })}, opts...)
	e.wf = NewWorkflow(store, store, store, opts...)
	return e
}

func (e *env) submit(t *testing.T, kind model.Kind, p model.Payload) *model.Request {
	t.Helper()
	r, err := e.wf.Submit(context.Background(), e.master.ID, kind, p)
	require.NoError(t, err)
	return r
}

func streetPayload(name, code string) model.Payload {
	return model.Payload{StreetName: name, StreetCode: code, PavilionTitle: "P", PavilionDescription: "first"}
}

// approvedStreet returns a street created through the workflow.
func (e *env) approvedStreet(t *testing.T, code string) *model.Street {
	t.Helper()
	r := e.submit(t, model.KindStreet, streetPayload("Street "+code, code))
	_, err := e.wf.Approve(context.Background(), model.KindStreet, r.ID, e.admin.ID)
	require.NoError(t, err)
	st, err := e.store.StreetByCode(context.Background(), code)
	require.NoError(t, err)
	return st
}

func TestSubmitValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	missing := uuid.New()

	cases := []struct {
		name    string
		kind    model.Kind
		payload model.Payload
		check   func(error) bool
	}{
		{"street without name", model.KindStreet, streetPayload("", "x"), model.IsValidation},
		{"street without code", model.KindStreet, streetPayload("X", " "), model.IsValidation},
		{"street code uppercase", model.KindStreet, streetPayload("X", "Main"), model.IsValidation},
		{"street code digits only", model.KindStreet, streetPayload("X", "123"), model.IsValidation},
		{"street without pavilion", model.KindStreet, model.Payload{StreetName: "X", StreetCode: "x"}, model.IsValidation},
		{"pavilion without street", model.KindPavilion, model.Payload{PavilionTitle: "P", ListingTitle: "L", ListingText: "T"}, model.IsValidation},
		{"pavilion on unknown street", model.KindPavilion, model.Payload{StreetID: &missing, PavilionTitle: "P", ListingTitle: "L", ListingText: "T"}, model.IsNotFound},
		{"ad without pavilion", model.KindAd, model.Payload{ListingTitle: "L", ListingText: "T"}, model.IsValidation},
		{"ad in unknown pavilion", model.KindAd, model.Payload{PavilionID: &missing, ListingTitle: "L", ListingText: "T"}, model.IsNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.wf.Submit(ctx, e.master.ID, tc.kind, tc.payload)
			assert.True(t, tc.check(err), "got %v", err)
		})
	}

	_, err := e.wf.Submit(ctx, uuid.New(), model.KindStreet, streetPayload("X", "x"))
	assert.True(t, model.IsNotFound(err))

	_, err = e.wf.Submit(ctx, e.master.ID, model.Kind("kiosk"), model.Payload{})
	assert.True(t, model.IsValidation(err))

	reqs, err := e.wf.List(ctx, model.RequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestSubmitRejectsTakenStreetCode(t *testing.T) {
	e := newEnv(t)
	e.approvedStreet(t, "main")

	_, err := e.wf.Submit(context.Background(), e.master.ID, model.KindStreet, streetPayload("Other", "main"))
	assert.True(t, model.IsValidation(err), "got %v", err)
}

func TestSubmitStoresPendingTrimmed(t *testing.T) {
	e := newEnv(t)
	r := e.submit(t, model.KindStreet, model.Payload{StreetName: "  Market  ", StreetCode: " market_1 ", PavilionTitle: " Hall "})

	assert.Equal(t, model.StatusPending, r.Status)
	assert.Nil(t, r.DecidedAt)
	assert.Nil(t, r.ResultLinkID)
	assert.True(t, now.Equal(r.CreatedAt))

	got, err := e.wf.Get(context.Background(), model.KindStreet, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Market", got.Payload.StreetName)
	assert.Equal(t, "market_1", got.Payload.StreetCode)
	assert.Equal(t, "Hall", got.Payload.PavilionTitle)

	assert.Equal(t, []string{model.EventRequestSubmitted}, e.events.names())
}

func TestApproveStreetLinksCreatedStreet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.submit(t, model.KindStreet, model.Payload{StreetName: "X", StreetCode: "x", PavilionTitle: "P"})

	approved, err := e.wf.Approve(ctx, model.KindStreet, r.ID, e.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, approved.Status)
	require.NotNil(t, approved.DecidedAt)
	assert.True(t, now.Equal(*approved.DecidedAt))

	st, err := e.store.StreetByCode(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "X", st.Name)
	require.NotNil(t, approved.ResultLinkID)
	assert.Equal(t, st.ID, *approved.ResultLinkID)

	pavs, err := e.store.PavilionsByStreet(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, pavs, 1)
	assert.Equal(t, "P", pavs[0].Title)

	stored, err := e.wf.Get(ctx, model.KindStreet, r.ID)
	require.NoError(t, err)
	assert.Equal(t, approved.ResultLinkID, stored.ResultLinkID)
	assert.Equal(t, []string{model.EventRequestSubmitted, model.EventRequestApproved}, e.events.names())
}

func TestApprovePavilionCreatesOwnedListing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	st := e.approvedStreet(t, "food")

	r := e.submit(t, model.KindPavilion, model.Payload{
		StreetID: &st.ID, PavilionTitle: "Bakery", ListingTitle: "Bread", ListingText: "Fresh daily",
	})
	approved, err := e.wf.Approve(ctx, model.KindPavilion, r.ID, e.admin.ID)
	require.NoError(t, err)
	require.NotNil(t, approved.ResultLinkID)

	pav, err := e.store.GetPavilion(ctx, *approved.ResultLinkID)
	require.NoError(t, err)
	assert.Equal(t, st.ID, pav.StreetID)
	assert.Equal(t, "Bakery", pav.Title)

	listings, err := e.store.ListingsByOwner(ctx, e.master.ID)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, pav.ID, listings[0].PavilionID)
	assert.Equal(t, "Bread", listings[0].Title)
	assert.Equal(t, "master1", listings[0].AuthorName)
}

func TestApproveAdLinksListing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	st := e.approvedStreet(t, "tools")
	pavs, err := e.store.PavilionsByStreet(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, pavs, 1)

	r := e.submit(t, model.KindAd, model.Payload{PavilionID: &pavs[0].ID, ListingTitle: "Hammer", ListingText: "Heavy"})
	approved, err := e.wf.Approve(ctx, model.KindAd, r.ID, e.admin.ID)
	require.NoError(t, err)
	require.NotNil(t, approved.ResultLinkID)

	l, err := e.store.GetListing(ctx, *approved.ResultLinkID)
	require.NoError(t, err)
	assert.True(t, l.OwnedBy(e.master.ID))
	assert.Equal(t, pavs[0].ID, l.PavilionID)
	assert.Equal(t, "Hammer", l.Title)
}

func TestDecidedRequestsAreImmutable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rejected := e.submit(t, model.KindStreet, streetPayload("A", "a"))
	got, err := e.wf.Reject(ctx, model.KindStreet, rejected.ID, e.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, got.Status)
	assert.Nil(t, got.ResultLinkID)

	_, err = e.wf.Approve(ctx, model.KindStreet, rejected.ID, e.admin.ID)
	assert.True(t, model.IsConflict(err), "got %v", err)
	_, err = e.wf.Reject(ctx, model.KindStreet, rejected.ID, e.admin.ID)
	assert.True(t, model.IsConflict(err), "got %v", err)

	_, err = e.store.StreetByCode(ctx, "a")
	assert.True(t, model.IsNotFound(err), "rejected request must not create a street")

	approved := e.submit(t, model.KindStreet, streetPayload("B", "b"))
	_, err = e.wf.Approve(ctx, model.KindStreet, approved.ID, e.admin.ID)
	require.NoError(t, err)
	_, err = e.wf.Reject(ctx, model.KindStreet, approved.ID, e.admin.ID)
	assert.True(t, model.IsConflict(err), "got %v", err)

	stored, err := e.wf.Get(ctx, model.KindStreet, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, stored.Status)
}

func TestDecisionRequiresMatchingKind(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.submit(t, model.KindStreet, streetPayload("A", "a"))

	_, err := e.wf.Approve(ctx, model.KindAd, r.ID, e.admin.ID)
	assert.True(t, model.IsNotFound(err))
	_, err = e.wf.Get(ctx, model.KindPavilion, r.ID)
	assert.True(t, model.IsNotFound(err))
	_, err = e.wf.Reject(ctx, model.KindStreet, uuid.New(), e.admin.ID)
	assert.True(t, model.IsNotFound(err))
}

func TestConcurrentApprovalsHaveOneWinner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.submit(t, model.KindStreet, streetPayload("Race", "race"))

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.wf.Approve(ctx, model.KindStreet, r.ID, e.admin.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case model.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)

	st, err := e.store.StreetByCode(ctx, "race")
	require.NoError(t, err)
	pavs, err := e.store.PavilionsByStreet(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, pavs, 1)
}

func TestApproveRejectRace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.submit(t, model.KindStreet, streetPayload("Race", "race"))

	var (
		wg                    sync.WaitGroup
		approveErr, rejectErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, approveErr = e.wf.Approve(ctx, model.KindStreet, r.ID, e.admin.ID)
	}()
	go func() {
		defer wg.Done()
		_, rejectErr = e.wf.Reject(ctx, model.KindStreet, r.ID, e.admin.ID)
	}()
	wg.Wait()

	require.True(t, (approveErr == nil) != (rejectErr == nil), "approve=%v reject=%v", approveErr, rejectErr)

	stored, err := e.wf.Get(ctx, model.KindStreet, r.ID)
	require.NoError(t, err)
	_, streetErr := e.store.StreetByCode(ctx, "race")
	if approveErr == nil {
		assert.Equal(t, model.StatusApproved, stored.Status)
		assert.True(t, model.IsConflict(rejectErr))
		assert.NoError(t, streetErr)
	} else {
		assert.Equal(t, model.StatusRejected, stored.Status)
		assert.True(t, model.IsConflict(approveErr))
		assert.True(t, model.IsNotFound(streetErr))
	}
}

// brokenApprover creates the street and then fails before the pavilion.
type brokenApprover struct {
	streetApprover
}

var errHalfway = errors.New("pavilion storage unavailable")

func (brokenApprover) Materialize(ctx context.Context, tx model.RequestTx, r *model.Request) (uuid.UUID, error) {
	if err := tx.CreateStreet(ctx, &model.Street{Name: r.Payload.StreetName, Code: r.Payload.StreetCode}); err != nil {
		return uuid.Nil, err
	}
	return uuid.Nil, errHalfway
}

func TestFailedApprovalLeavesNoTrace(t *testing.T) {
	broken := newEnv(t, WithApprover(model.KindStreet, brokenApprover{}))
	ctx := context.Background()
	r := broken.submit(t, model.KindStreet, streetPayload("X", "x"))

	_, err := broken.wf.Approve(ctx, model.KindStreet, r.ID, broken.admin.ID)
	assert.ErrorIs(t, err, errHalfway)

	stored, err := broken.wf.Get(ctx, model.KindStreet, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
	assert.Nil(t, stored.DecidedAt)
	_, err = broken.store.StreetByCode(ctx, "x")
	assert.True(t, model.IsNotFound(err))
	assert.Equal(t, []string{model.EventRequestSubmitted}, broken.events.names())

	// The same request can still be approved once materialization works.
	fixed := NewWorkflow(broken.store, broken.store, broken.store)
	approved, err := fixed.Approve(ctx, model.KindStreet, r.ID, broken.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, approved.Status)
}

func TestStreetCodeConflictAtApproval(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := e.submit(t, model.KindStreet, streetPayload("One", "dup"))
	second := e.submit(t, model.KindStreet, streetPayload("Two", "dup"))

	_, err := e.wf.Approve(ctx, model.KindStreet, first.ID, e.admin.ID)
	require.NoError(t, err)
	_, err = e.wf.Approve(ctx, model.KindStreet, second.ID, e.admin.ID)
	assert.True(t, model.IsConflict(err), "got %v", err)

	stored, err := e.wf.Get(ctx, model.KindStreet, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)

	st, err := e.store.StreetByCode(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "One", st.Name)
}

func TestStatsAndPendingTotal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	st := e.approvedStreet(t, "s")
	e.submit(t, model.KindStreet, streetPayload("T", "t"))
	rejected := e.submit(t, model.KindPavilion, model.Payload{StreetID: &st.ID, PavilionTitle: "P", ListingTitle: "L", ListingText: "T"})
	_, err := e.wf.Reject(ctx, model.KindPavilion, rejected.ID, e.admin.ID)
	require.NoError(t, err)
	e.submit(t, model.KindPavilion, model.Payload{StreetID: &st.ID, PavilionTitle: "Q", ListingTitle: "L", ListingText: "T"})

	stats, err := e.wf.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCounts{Total: 2, Pending: 1, Approved: 1}, stats[model.KindStreet])
	assert.Equal(t, model.StatusCounts{Total: 2, Pending: 1, Rejected: 1}, stats[model.KindPavilion])
	assert.Equal(t, model.StatusCounts{}, stats[model.KindAd])

	pending, err := e.wf.PendingTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	onlyPending, err := e.wf.List(ctx, model.RequestFilter{Kind: model.KindPavilion, Status: model.StatusPending})
	require.NoError(t, err)
	require.Len(t, onlyPending, 1)
	assert.Equal(t, "Q", onlyPending[0].Payload.PavilionTitle)
}
