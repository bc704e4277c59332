package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fair/internal/metrics"
	"fair/internal/model"
)

// Service edits and removes catalog entries after approval. Owners manage
// their own listings; admins manage everything.
type Service struct {
	repo model.CatalogRepository
}

func NewService(repo model.CatalogRepository) *Service {
	return &Service{repo: repo}
}

// Actor is whoever asks for a change.
type Actor struct {
	ID   uuid.UUID
	Role model.Role
}

func (a Actor) isAdmin() bool { return a.Role == model.RoleAdmin }

// authorize loads the listing and checks that the actor may change it.
func (s *Service) authorize(ctx context.Context, actor Actor, listingID uuid.UUID) (*model.Listing, error) {
	l, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if actor.isAdmin() {
		return l, nil
	}
	if actor.Role != model.RoleMaster || !l.OwnedBy(actor.ID) {
		return nil, &model.ForbiddenError{Reason: "only the owner can change this listing"}
	}
	return l, nil
}

// EditListing replaces the title and text of a listing.
func (s *Service) EditListing(ctx context.Context, actor Actor, listingID uuid.UUID, title, text string) (*model.Listing, error) {
	title = strings.TrimSpace(title)
	text = strings.TrimSpace(text)
	if title == "" {
		return nil, &model.ValidationError{Field: "title", Reason: "is required"}
	}
	if text == "" {
		return nil, &model.ValidationError{Field: "text", Reason: "is required"}
	}
	l, err := s.authorize(ctx, actor, listingID)
	if err != nil {
		return nil, err
	}
	l.Title, l.Text = title, text
	if err := s.repo.UpdateListing(ctx, l); err != nil {
		return nil, fmt.Errorf("edit listing: %w", err)
	}
	zap.L().Info("listing edited", zap.String("listing", l.ID.String()), zap.String("actor", actor.ID.String()))
	return l, nil
}

// DeleteListing removes a listing and its conversations.
func (s *Service) DeleteListing(ctx context.Context, actor Actor, listingID uuid.UUID) error {
	if _, err := s.authorize(ctx, actor, listingID); err != nil {
		return err
	}
	if err := s.repo.DeleteListing(ctx, listingID); err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	metrics.Deletions.WithLabelValues("listing").Inc()
	zap.L().Info("listing deleted", zap.String("listing", listingID.String()), zap.String("actor", actor.ID.String()))
	return nil
}

// ClearPavilion removes every listing in the pavilion and returns how many
// went. Admin only.
func (s *Service) ClearPavilion(ctx context.Context, actor Actor, pavilionID uuid.UUID) (int, error) {
	if !actor.isAdmin() {
		return 0, &model.ForbiddenError{Reason: "admin only"}
	}
	n, err := s.repo.ClearPavilion(ctx, pavilionID)
	if err != nil {
		return 0, fmt.Errorf("clear pavilion: %w", err)
	}
	metrics.Deletions.WithLabelValues("listing").Add(float64(n))
	zap.L().Info("pavilion cleared", zap.String("pavilion", pavilionID.String()), zap.Int("listings", n))
	return n, nil
}

// DeletePavilion clears the pavilion and removes it. Admin only.
func (s *Service) DeletePavilion(ctx context.Context, actor Actor, pavilionID uuid.UUID) error {
	if !actor.isAdmin() {
		return &model.ForbiddenError{Reason: "admin only"}
	}
	if err := s.repo.DeletePavilion(ctx, pavilionID); err != nil {
		return fmt.Errorf("delete pavilion: %w", err)
	}
	metrics.Deletions.WithLabelValues("pavilion").Inc()
	zap.L().Info("pavilion deleted", zap.String("pavilion", pavilionID.String()))
	return nil
}
