package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"fair/internal/model"
)

const requestColumns = `id, kind, requester_id, payload, status, created_at, decided_at, result_link_id`

func scanRequest(row interface{ Scan(...any) error }) (*model.Request, error) {
	var (
		r       model.Request
		payload []byte
		decided sql.NullTime
		link    uuid.NullUUID
	)
	if err := row.Scan(&r.ID, &r.Kind, &r.RequesterID, &payload, &r.Status, &r.CreatedAt, &decided, &link); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &r.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of request %s: %w", r.ID, err)
	}
	if decided.Valid {
		t := decided.Time
		r.DecidedAt = &t
	}
	if link.Valid {
		id := link.UUID
		r.ResultLinkID = &id
	}
	return &r, nil
}

func (s *Postgres) InsertRequest(ctx context.Context, r *model.Request) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	stamp(&r.CreatedAt)
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO requests (id, kind, requester_id, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.Kind, r.RequesterID, payload, r.Status, r.CreatedAt)
	if isForeignKeyViolation(err) {
		return &model.NotFoundError{Entity: "user", ID: r.RequesterID.String()}
	}
	return err
}

func (s *Postgres) GetRequest(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	r, err := scanRequest(s.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "request", id)
	}
	return r, nil
}

func (s *Postgres) ListRequests(ctx context.Context, f model.RequestFilter) ([]model.Request, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE ($1::text = '' OR kind = $1::text)
		  AND ($2::text = '' OR status = $2::text)
		  AND ($3::uuid IS NULL OR requester_id = $3::uuid)
		ORDER BY created_at DESC, id
	`, string(f.Kind), string(f.Status), nullable(f.RequesterID))
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := make([]model.Request, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Postgres) RequestStats(ctx context.Context) (map[model.Kind]model.StatusCounts, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT kind, status, COUNT(*) FROM requests GROUP BY kind, status`)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := make(map[model.Kind]model.StatusCounts, len(model.Kinds))
	for _, k := range model.Kinds {
		out[k] = model.StatusCounts{}
	}
	for rows.Next() {
		var (
			kind   model.Kind
			status model.Status
			n      int
		)
		if err := rows.Scan(&kind, &status, &n); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		c := out[kind]
		c.AddN(status, n)
		out[kind] = c
	}
	return out, rows.Err()
}

// InTx runs fn in a database transaction. The transaction rolls back when fn
// returns an error.
func (s *Postgres) InTx(ctx context.Context, fn func(tx model.RequestTx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

// LockRequest takes a row lock; a concurrent transition on the same id waits
// here and then reads the committed status.
func (t *pgTx) LockRequest(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	r, err := scanRequest(t.tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "request", id)
	}
	return r, nil
}

func (t *pgTx) SaveDecision(ctx context.Context, r *model.Request) error {
	var link any
	if r.ResultLinkID != nil {
		link = *r.ResultLinkID
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE requests
		SET status = $2, decided_at = $3, result_link_id = $4
		WHERE id = $1 AND status = 'pending'
	`, r.ID, r.Status, r.DecidedAt, link)
	if err != nil {
		return fmt.Errorf("save decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return &model.ConflictError{Reason: "already processed"}
	}
	return nil
}

func (t *pgTx) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return getUser(ctx, t.tx, id)
}

func (t *pgTx) GetStreet(ctx context.Context, id uuid.UUID) (*model.Street, error) {
	return getStreet(ctx, t.tx, id)
}

func (t *pgTx) GetPavilion(ctx context.Context, id uuid.UUID) (*model.Pavilion, error) {
	return getPavilion(ctx, t.tx, id)
}

func (t *pgTx) CreateStreet(ctx context.Context, st *model.Street) error {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	stamp(&st.CreatedAt)
	_, err := t.tx.ExecContext(ctx, `INSERT INTO streets (id, name, code, created_at) VALUES ($1, $2, $3, $4)`,
		st.ID, st.Name, st.Code, st.CreatedAt)
	if isUniqueViolation(err) {
		return &model.ConflictError{Reason: "street code " + st.Code + " is already in use"}
	}
	return err
}

func (t *pgTx) CreatePavilion(ctx context.Context, p *model.Pavilion) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	stamp(&p.CreatedAt)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO pavilions (id, street_id, title, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.StreetID, p.Title, p.Description, p.CreatedAt)
	if isForeignKeyViolation(err) {
		return &model.NotFoundError{Entity: "street", ID: p.StreetID.String()}
	}
	return err
}

func (t *pgTx) CreateListing(ctx context.Context, l *model.Listing) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	stamp(&l.CreatedAt)
	var owner any
	if l.OwnerID != nil {
		owner = *l.OwnerID
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO listings (id, pavilion_id, owner_id, title, text, author_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, l.ID, l.PavilionID, owner, l.Title, l.Text, l.AuthorName, l.CreatedAt)
	if isForeignKeyViolation(err) {
		return &model.NotFoundError{Entity: "pavilion or owner", ID: l.PavilionID.String()}
	}
	return err
}
