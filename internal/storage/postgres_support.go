package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fair/internal/model"
)

const ticketColumns = `id, user_id, subject, text, status, created_at, admin_reply, replied_at`

func scanTicket(row interface{ Scan(...any) error }) (*model.SupportTicket, error) {
	var (
		t       model.SupportTicket
		replied sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Subject, &t.Text, &t.Status, &t.CreatedAt, &t.AdminReply, &replied); err != nil {
		return nil, err
	}
	if replied.Valid {
		at := replied.Time
		t.RepliedAt = &at
	}
	return &t, nil
}

func (s *Postgres) InsertTicket(ctx context.Context, t *model.SupportTicket) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	stamp(&t.CreatedAt)
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO support_tickets (id, user_id, subject, text, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.UserID, t.Subject, t.Text, t.Status, t.CreatedAt)
	if isForeignKeyViolation(err) {
		return &model.NotFoundError{Entity: "user", ID: t.UserID.String()}
	}
	return err
}

func (s *Postgres) GetTicket(ctx context.Context, id uuid.UUID) (*model.SupportTicket, error) {
	t, err := scanTicket(s.DB.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM support_tickets WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "support ticket", id)
	}
	return t, nil
}

func (s *Postgres) UpdateTicket(ctx context.Context, t *model.SupportTicket) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE support_tickets
		SET status = $2, admin_reply = $3, replied_at = $4
		WHERE id = $1
	`, t.ID, t.Status, t.AdminReply, t.RepliedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &model.NotFoundError{Entity: "support ticket", ID: t.ID.String()}
	}
	return nil
}

func (s *Postgres) ListTickets(ctx context.Context, userID uuid.UUID, limit int) ([]model.SupportTicket, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+ticketColumns+`
		FROM support_tickets
		WHERE ($1::uuid IS NULL OR user_id = $1::uuid)
		ORDER BY created_at DESC, id
		LIMIT $2
	`, nullable(userID), lim)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := make([]model.SupportTicket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Postgres) SupportSeenAt(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	var seen sql.NullTime
	err := s.DB.QueryRowContext(ctx, `SELECT support_seen_at FROM users WHERE id = $1`, userID).Scan(&seen)
	if err != nil {
		return nil, notFound(err, "user", userID)
	}
	if !seen.Valid {
		return nil, nil
	}
	t := seen.Time
	return &t, nil
}

func (s *Postgres) SetSupportSeenAt(ctx context.Context, userID uuid.UUID, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE users SET support_seen_at = $2 WHERE id = $1`, userID, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &model.NotFoundError{Entity: "user", ID: userID.String()}
	}
	return nil
}

// InsertAudit ignores redelivered events.
func (s *Postgres) InsertAudit(ctx context.Context, e *model.AuditEvent) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO audit_log (id, event, kind, request_id, actor_id, at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.Event, e.Kind, e.RequestID, e.ActorID, e.At)
	return err
}

func (s *Postgres) ListAudit(ctx context.Context, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, event, kind, request_id, actor_id, at
		FROM audit_log
		ORDER BY at DESC, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := make([]model.AuditEvent, 0)
	for rows.Next() {
		var e model.AuditEvent
		if err := rows.Scan(&e.ID, &e.Event, &e.Kind, &e.RequestID, &e.ActorID, &e.At); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
