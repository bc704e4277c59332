package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fair/internal/model"
)

var errEmptyMessageQuery = errors.New("message query needs listings or a participant")

// InsertMessage appends a message; the database assigns its sequence number.
func (s *Postgres) InsertMessage(ctx context.Context, m *model.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	stamp(&m.CreatedAt)
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO messages (id, listing_id, sender_id, receiver_id, text, created_at, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`, m.ID, m.ListingID, m.SenderID, m.ReceiverID, m.Text, m.CreatedAt, m.IsRead).Scan(&m.Seq)
	if isForeignKeyViolation(err) {
		return &model.NotFoundError{Entity: "listing or participant", ID: m.ListingID.String()}
	}
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Postgres) MarkRead(ctx context.Context, f model.ReadFilter) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE messages
		SET is_read = TRUE
		WHERE receiver_id = $1
		  AND NOT is_read
		  AND ($2::uuid IS NULL OR listing_id = $2::uuid)
		  AND ($3::uuid IS NULL OR sender_id = $3::uuid)
	`, f.ReceiverID, nullable(f.ListingID), nullable(f.SenderID))
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

// Messages streams matching rows straight from the cursor.
func (s *Postgres) Messages(ctx context.Context, q model.MessageQuery) iter.Seq2[model.Message, error] {
	return func(yield func(model.Message, error) bool) {
		if len(q.ListingIDs) == 0 && q.ParticipantID == uuid.Nil {
			yield(model.Message{}, errEmptyMessageQuery)
			return
		}
		rows, err := s.DB.QueryContext(ctx, `
			SELECT id, seq, listing_id, sender_id, receiver_id, text, created_at, is_read
			FROM messages
			WHERE (cardinality($1::uuid[]) = 0 OR listing_id = ANY($1::uuid[]))
			  AND ($2::uuid IS NULL OR sender_id = $2::uuid OR receiver_id = $2::uuid)
			ORDER BY created_at, seq
		`, pq.Array(uuidStrings(q.ListingIDs)), nullable(q.ParticipantID))
		if err != nil {
			yield(model.Message{}, fmt.Errorf("query failed: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var m model.Message
			if err := rows.Scan(&m.ID, &m.Seq, &m.ListingID, &m.SenderID, &m.ReceiverID, &m.Text, &m.CreatedAt, &m.IsRead); err != nil {
				yield(model.Message{}, fmt.Errorf("scan failed: %w", err))
				return
			}
			if !yield(m, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Message{}, err)
		}
	}
}
