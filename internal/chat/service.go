package chat

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fair/internal/metrics"
	"fair/internal/model"
)

// Listings is the read-only catalog view the messaging core needs.
type Listings interface {
	GetListing(ctx context.Context, id uuid.UUID) (*model.Listing, error)
	ListingsByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Listing, error)
	ListingsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Listing, error)
}

// Directory resolves participants and their display names.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	DisplayNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

// Service posts and reads listing messages. Thread lists and unread counts
// are recomputed from the store on every call.
type Service struct {
	messages model.MessageRepository
	listings Listings
	names    Directory
	now      func() time.Time
}

type Option func(*Service)

// WithClock replaces the time source used to stamp new messages.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(messages model.MessageRepository, listings Listings, names Directory, opts ...Option) *Service {
	s := &Service{
		messages: messages,
		listings: listings,
		names:    names,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PostMessage appends a message from sender to receiver about a listing.
// One of the two must own the listing.
func (s *Service) PostMessage(ctx context.Context, listingID, senderID, receiverID uuid.UUID, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &model.ValidationError{Field: "text", Reason: "message is empty"}
	}
	if senderID == uuid.Nil || receiverID == uuid.Nil {
		return nil, &model.ValidationError{Field: "receiver_id", Reason: "sender and receiver are required"}
	}
	if senderID == receiverID {
		return nil, &model.ValidationError{Field: "receiver_id", Reason: "cannot send a message to yourself"}
	}

	for _, id := range []uuid.UUID{senderID, receiverID} {
		if _, err := s.names.GetUser(ctx, id); err != nil {
			return nil, err
		}
	}
	listing, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID == nil {
		return nil, &model.ValidationError{Field: "listing_id", Reason: "listing has no owner yet"}
	}
	if !listing.OwnedBy(senderID) && !listing.OwnedBy(receiverID) {
		return nil, &model.ValidationError{Field: "receiver_id", Reason: "one participant must own the listing"}
	}

	m := &model.Message{
		ListingID:  listingID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.messages.InsertMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}
	metrics.MessagesPosted.Inc()
	return m, nil
}

// MarkThreadRead marks what counterpart sent to viewer on the listing as read.
func (s *Service) MarkThreadRead(ctx context.Context, listingID, viewerID, counterpartID uuid.UUID) error {
	if listingID == uuid.Nil || viewerID == uuid.Nil || counterpartID == uuid.Nil {
		return &model.ValidationError{Reason: "listing, viewer and counterpart are required"}
	}
	return s.markRead(ctx, model.ReadFilter{ReceiverID: viewerID, ListingID: listingID, SenderID: counterpartID})
}

// MarkAllRead marks every unread message addressed to the viewer as read.
func (s *Service) MarkAllRead(ctx context.Context, viewerID uuid.UUID) error {
	if viewerID == uuid.Nil {
		return &model.ValidationError{Field: "viewer_id", Reason: "viewer is required"}
	}
	return s.markRead(ctx, model.ReadFilter{ReceiverID: viewerID})
}

func (s *Service) markRead(ctx context.Context, f model.ReadFilter) error {
	n, err := s.messages.MarkRead(ctx, f)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if n > 0 {
		metrics.ThreadsMarkedRead.Add(float64(n))
		zap.L().Debug("messages marked read",
			zap.String("receiver", f.ReceiverID.String()),
			zap.String("listing", f.ListingID.String()),
			zap.Int64("count", n))
	}
	return nil
}

// Conversation returns the messages exchanged between viewer and counterpart
// on one listing, oldest first.
func (s *Service) Conversation(ctx context.Context, listingID, viewerID, counterpartID uuid.UUID) ([]model.Message, error) {
	if _, err := s.listings.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	out := make([]model.Message, 0)
	q := model.MessageQuery{ListingIDs: []uuid.UUID{listingID}, ParticipantID: viewerID}
	for m, err := range s.messages.Messages(ctx, q) {
		if err != nil {
			return nil, err
		}
		if m.Involves(counterpartID) {
			out = append(out, m)
		}
	}
	return out, nil
}

// ListingChat is what a participant sees when opening a listing's chat.
// CounterpartID is zero when the owner has no conversation on it yet.
type ListingChat struct {
	Listing       model.Listing   `json:"listing"`
	CounterpartID uuid.UUID       `json:"counterpart_id"`
	Messages      []model.Message `json:"messages"`
}

// OpenListingChat resolves whom the viewer is talking to on a listing and
// returns that conversation. Non-owners always talk to the owner. The owner
// names a counterpart, or gets the party of the latest message on the
// listing when counterpartID is zero.
func (s *Service) OpenListingChat(ctx context.Context, listingID, viewerID, counterpartID uuid.UUID) (*ListingChat, error) {
	listing, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID == nil {
		return nil, &model.ValidationError{Field: "listing_id", Reason: "listing has no owner yet"}
	}
	out := &ListingChat{Listing: *listing, Messages: make([]model.Message, 0)}

	switch {
	case !listing.OwnedBy(viewerID):
		counterpartID = *listing.OwnerID
	case counterpartID == uuid.Nil:
		counterpartID, err = s.latestCounterpart(ctx, listing)
		if err != nil {
			return nil, err
		}
	}
	if counterpartID == uuid.Nil || counterpartID == viewerID {
		return out, nil
	}
	out.CounterpartID = counterpartID
	out.Messages, err = s.Conversation(ctx, listingID, viewerID, counterpartID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// latestCounterpart is the non-owner side of the newest message on the
// listing, or zero when nobody wrote yet.
func (s *Service) latestCounterpart(ctx context.Context, listing *model.Listing) (uuid.UUID, error) {
	var last *model.Message
	q := model.MessageQuery{ListingIDs: []uuid.UUID{listing.ID}, ParticipantID: *listing.OwnerID}
	for m, err := range s.messages.Messages(ctx, q) {
		if err != nil {
			return uuid.Nil, err
		}
		last = &m
	}
	if last == nil {
		return uuid.Nil, nil
	}
	if listing.OwnedBy(last.SenderID) {
		return last.ReceiverID, nil
	}
	return last.SenderID, nil
}

// ListOwnerThreads lists conversations on the listings the user owns.
func (s *Service) ListOwnerThreads(ctx context.Context, ownerID uuid.UUID) ([]model.Thread, error) {
	threads, err := s.threads(ctx, ownerID, OwnerPerspective)
	if err != nil {
		return nil, err
	}
	return threads, s.resolveNames(ctx, threads)
}

// ListCounterpartThreads lists the user's conversations with owners of
// other listings.
func (s *Service) ListCounterpartThreads(ctx context.Context, userID uuid.UUID) ([]model.Thread, error) {
	threads, err := s.threads(ctx, userID, CounterpartPerspective)
	if err != nil {
		return nil, err
	}
	return threads, s.resolveNames(ctx, threads)
}

// TotalUnread is the badge count: unread messages across both perspectives.
func (s *Service) TotalUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	owned, err := s.threads(ctx, userID, OwnerPerspective)
	if err != nil {
		return 0, err
	}
	other, err := s.threads(ctx, userID, CounterpartPerspective)
	if err != nil {
		return 0, err
	}
	return TotalUnread(owned, other), nil
}

func (s *Service) threads(ctx context.Context, userID uuid.UUID, p Perspective) ([]model.Thread, error) {
	var (
		listings map[uuid.UUID]model.Listing
		msgs     iter.Seq2[model.Message, error]
		err      error
	)
	switch p {
	case OwnerPerspective:
		owned, err := s.listings.ListingsByOwner(ctx, userID)
		if err != nil {
			return nil, err
		}
		if len(owned) == 0 {
			return []model.Thread{}, nil
		}
		listings = make(map[uuid.UUID]model.Listing, len(owned))
		ids := make([]uuid.UUID, 0, len(owned))
		for _, l := range owned {
			listings[l.ID] = l
			ids = append(ids, l.ID)
		}
		msgs = s.messages.Messages(ctx, model.MessageQuery{ListingIDs: ids, ParticipantID: userID})
	case CounterpartPerspective:
		msgs = s.messages.Messages(ctx, model.MessageQuery{ParticipantID: userID})
		listings, err = s.listingsOf(ctx, msgs)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown perspective %d", p)
	}
	return Aggregate(userID, p, listings, msgs)
}

// listingsOf loads every listing referenced by the sequence. It consumes one
// pass of msgs; the aggregation then runs a second one.
func (s *Service) listingsOf(ctx context.Context, msgs iter.Seq2[model.Message, error]) (map[uuid.UUID]model.Listing, error) {
	seen := make(map[uuid.UUID]struct{})
	ids := make([]uuid.UUID, 0)
	for m, err := range msgs {
		if err != nil {
			return nil, err
		}
		if _, ok := seen[m.ListingID]; !ok {
			seen[m.ListingID] = struct{}{}
			ids = append(ids, m.ListingID)
		}
	}
	if len(ids) == 0 {
		return map[uuid.UUID]model.Listing{}, nil
	}
	return s.listings.ListingsByIDs(ctx, ids)
}

func (s *Service) resolveNames(ctx context.Context, threads []model.Thread) error {
	if len(threads) == 0 {
		return nil
	}
	seen := make(map[uuid.UUID]struct{}, len(threads))
	ids := make([]uuid.UUID, 0, len(threads))
	for _, t := range threads {
		if _, ok := seen[t.CounterpartID]; !ok {
			seen[t.CounterpartID] = struct{}{}
			ids = append(ids, t.CounterpartID)
		}
	}
	names, err := s.names.DisplayNames(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolve display names: %w", err)
	}
	for i := range threads {
		if name, ok := names[threads[i].CounterpartID]; ok {
			threads[i].CounterpartName = name
		} else {
			threads[i].CounterpartName = model.FallbackName(threads[i].CounterpartID)
		}
	}
	return nil
}
