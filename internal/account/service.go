package account

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fair/internal/metrics"
	"fair/internal/model"
)

// Service lists and removes accounts. Removing an account takes its
// messages, tickets, requests and owned listings with it.
type Service struct {
	users model.UserRepository
}

func NewService(users model.UserRepository) *Service {
	return &Service{users: users}
}

func (s *Service) List(ctx context.Context) ([]model.User, error) {
	return s.users.ListUsers(ctx)
}

// DeleteSelf closes the caller's own account. Admin accounts stay.
func (s *Service) DeleteSelf(ctx context.Context, userID uuid.UUID) error {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role == model.RoleAdmin {
		return &model.ConflictError{Reason: "admin accounts cannot be deleted"}
	}
	return s.delete(ctx, u, userID)
}

// Remove deletes another user's account on an admin's behalf. Admins can't
// remove themselves or each other.
func (s *Service) Remove(ctx context.Context, adminID, userID uuid.UUID) error {
	if adminID == userID {
		return &model.ConflictError{Reason: "cannot delete your own account here"}
	}
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role == model.RoleAdmin {
		return &model.ConflictError{Reason: "admin accounts cannot be deleted"}
	}
	return s.delete(ctx, u, adminID)
}

func (s *Service) delete(ctx context.Context, u *model.User, actorID uuid.UUID) error {
	if err := s.users.DeleteUser(ctx, u.ID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	metrics.Deletions.WithLabelValues("user").Inc()
	zap.L().Info("account deleted",
		zap.String("user", u.ID.String()),
		zap.String("role", string(u.Role)),
		zap.String("actor", actorID.String()))
	return nil
}
