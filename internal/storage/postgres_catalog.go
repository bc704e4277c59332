package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"fair/internal/model"
)

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// affected maps an UPDATE or DELETE that touched no row to NotFoundError.
func affected(res sql.Result, err error, entity string, id uuid.UUID) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &model.NotFoundError{Entity: entity, ID: id.String()}
	}
	return nil
}

func (s *Postgres) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, username`)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	out := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// DeleteUser drops the owned listings explicitly, since listings.owner_id
// only nulls out; messages, tickets and requests follow by cascade.
func (s *Postgres) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := getUserForUpdate(ctx, tx, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM listings WHERE owner_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete owned listings: %w", err)
	}
	listings, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	zap.L().Info("user deleted", zap.String("user", id.String()), zap.Int64("listings", listings))
	return nil
}

func getUserForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.User, error) {
	u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

func (s *Postgres) UpdateListing(ctx context.Context, l *model.Listing) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE listings SET title = $2, text = $3 WHERE id = $1`, l.ID, l.Title, l.Text)
	return affected(res, err, "listing", l.ID)
}

func (s *Postgres) DeleteListing(ctx context.Context, id uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM listings WHERE id = $1`, id)
	return affected(res, err, "listing", id)
}

func (s *Postgres) ClearPavilion(ctx context.Context, id uuid.UUID) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var locked uuid.UUID
	if err := tx.QueryRowContext(ctx, `SELECT id FROM pavilions WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
		return 0, notFound(err, "pavilion", id)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM listings WHERE pavilion_id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("clear pavilion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return int(n), nil
}

func (s *Postgres) DeletePavilion(ctx context.Context, id uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM pavilions WHERE id = $1`, id)
	return affected(res, err, "pavilion", id)
}
