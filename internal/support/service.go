package support

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fair/internal/model"
)

// ownInboxLimit is how many of their own tickets a user sees.
const ownInboxLimit = 10

// Service is the support inbox: users open tickets, admins reply or close
// them.
type Service struct {
	repo model.SupportRepository
	now  func() time.Time
}

func NewService(repo model.SupportRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Submit(ctx context.Context, userID uuid.UUID, subject, text string) (*model.SupportTicket, error) {
	subject = strings.TrimSpace(subject)
	text = strings.TrimSpace(text)
	if subject == "" {
		return nil, &model.ValidationError{Field: "subject", Reason: "is required"}
	}
	if text == "" {
		return nil, &model.ValidationError{Field: "text", Reason: "is required"}
	}

	t := &model.SupportTicket{
		ID:        uuid.New(),
		UserID:    userID,
		Subject:   subject,
		Text:      text,
		Status:    model.TicketNew,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.InsertTicket(ctx, t); err != nil {
		return nil, fmt.Errorf("submit ticket: %w", err)
	}
	zap.L().Info("support ticket opened", zap.String("ticket", t.ID.String()), zap.String("user", userID.String()))
	return t, nil
}

// Reply stores the admin's answer and closes the ticket.
func (s *Service) Reply(ctx context.Context, ticketID uuid.UUID, reply string) (*model.SupportTicket, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, &model.ValidationError{Field: "reply", Reason: "cannot send an empty reply"}
	}
	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	at := s.now().UTC()
	t.AdminReply = reply
	t.RepliedAt = &at
	t.Status = model.TicketDone
	if err := s.repo.UpdateTicket(ctx, t); err != nil {
		return nil, fmt.Errorf("reply to ticket: %w", err)
	}
	return t, nil
}

func (s *Service) Close(ctx context.Context, ticketID uuid.UUID) (*model.SupportTicket, error) {
	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	t.Status = model.TicketDone
	if err := s.repo.UpdateTicket(ctx, t); err != nil {
		return nil, fmt.Errorf("close ticket: %w", err)
	}
	return t, nil
}

// Inbox returns the user's latest tickets and records that the user has seen
// every reply up to now.
func (s *Service) Inbox(ctx context.Context, userID uuid.UUID) ([]model.SupportTicket, error) {
	tickets, err := s.repo.ListTickets(ctx, userID, ownInboxLimit)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetSupportSeenAt(ctx, userID, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("mark support seen: %w", err)
	}
	return tickets, nil
}

func (s *Service) All(ctx context.Context) ([]model.SupportTicket, error) {
	return s.repo.ListTickets(ctx, uuid.Nil, 0)
}

// UnreadReplies counts replies the user has not seen since last opening
// the inbox.
func (s *Service) UnreadReplies(ctx context.Context, userID uuid.UUID) (int, error) {
	seen, err := s.repo.SupportSeenAt(ctx, userID)
	if err != nil {
		return 0, err
	}
	tickets, err := s.repo.ListTickets(ctx, userID, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tickets {
		if t.AdminReply == "" || t.RepliedAt == nil {
			continue
		}
		if seen == nil || t.RepliedAt.After(*seen) {
			n++
		}
	}
	return n, nil
}

// NewCount counts tickets waiting for an admin.
func (s *Service) NewCount(ctx context.Context) (int, error) {
	tickets, err := s.repo.ListTickets(ctx, uuid.Nil, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tickets {
		if t.Status == model.TicketNew {
			n++
		}
	}
	return n, nil
}
