// internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"fair/internal/model"
)

//go:embed schema.sql
var schema string

// Postgres implements every repository on PostgreSQL through database/sql.
type Postgres struct {
	DB *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx so lookups can run inside
// or outside a transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	return &Postgres{DB: db}, nil
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	zap.L().Info("postgres schema applied")
	return nil
}

func (s *Postgres) Close() error {
	return s.DB.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func notFound(err error, entity string, id fmt.Stringer) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &model.NotFoundError{Entity: entity, ID: id.String()}
	}
	return err
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

// nullable turns the zero uuid into SQL NULL for optional filters.
func nullable(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func stamp(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}

func (s *Postgres) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	stamp(&u.CreatedAt)
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO users (id, username, full_name, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.Username, u.FullName, u.Role, u.CreatedAt)
	if isUniqueViolation(err) {
		return &model.ConflictError{Reason: "username already taken"}
	}
	return err
}

const userColumns = `id, username, full_name, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func getUser(ctx context.Context, q queryer, id uuid.UUID) (*model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

func (s *Postgres) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return getUser(ctx, s.DB, id)
}

func (s *Postgres) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Entity: "user", ID: username}
	}
	return u, err
}

func (s *Postgres) DisplayNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1::uuid[])`, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out[u.ID] = u.DisplayName()
	}
	return out, rows.Err()
}

func getStreet(ctx context.Context, q queryer, id uuid.UUID) (*model.Street, error) {
	var st model.Street
	err := q.QueryRowContext(ctx, `SELECT id, name, code, created_at FROM streets WHERE id = $1`, id).
		Scan(&st.ID, &st.Name, &st.Code, &st.CreatedAt)
	if err != nil {
		return nil, notFound(err, "street", id)
	}
	return &st, nil
}

func (s *Postgres) GetStreet(ctx context.Context, id uuid.UUID) (*model.Street, error) {
	return getStreet(ctx, s.DB, id)
}

func (s *Postgres) StreetByCode(ctx context.Context, code string) (*model.Street, error) {
	var st model.Street
	err := s.DB.QueryRowContext(ctx, `SELECT id, name, code, created_at FROM streets WHERE code = $1`, code).
		Scan(&st.ID, &st.Name, &st.Code, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Entity: "street", ID: code}
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

const pavilionColumns = `id, street_id, title, description, created_at`

func scanPavilion(row interface{ Scan(...any) error }) (*model.Pavilion, error) {
	var p model.Pavilion
	if err := row.Scan(&p.ID, &p.StreetID, &p.Title, &p.Description, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func getPavilion(ctx context.Context, q queryer, id uuid.UUID) (*model.Pavilion, error) {
	p, err := scanPavilion(q.QueryRowContext(ctx, `SELECT `+pavilionColumns+` FROM pavilions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "pavilion", id)
	}
	return p, nil
}

func (s *Postgres) GetPavilion(ctx context.Context, id uuid.UUID) (*model.Pavilion, error) {
	return getPavilion(ctx, s.DB, id)
}

func (s *Postgres) PavilionsByStreet(ctx context.Context, streetID uuid.UUID) ([]model.Pavilion, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+pavilionColumns+` FROM pavilions WHERE street_id = $1 ORDER BY created_at, id`, streetID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	out := make([]model.Pavilion, 0)
	for rows.Next() {
		p, err := scanPavilion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const listingColumns = `id, pavilion_id, owner_id, title, text, author_name, created_at`

func scanListing(row interface{ Scan(...any) error }) (*model.Listing, error) {
	var (
		l     model.Listing
		owner uuid.NullUUID
	)
	if err := row.Scan(&l.ID, &l.PavilionID, &owner, &l.Title, &l.Text, &l.AuthorName, &l.CreatedAt); err != nil {
		return nil, err
	}
	if owner.Valid {
		id := owner.UUID
		l.OwnerID = &id
	}
	return &l, nil
}

func (s *Postgres) GetListing(ctx context.Context, id uuid.UUID) (*model.Listing, error) {
	l, err := scanListing(s.DB.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "listing", id)
	}
	return l, nil
}

func (s *Postgres) queryListings(ctx context.Context, query string, args ...any) ([]model.Listing, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	out := make([]model.Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *Postgres) ListingsByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Listing, error) {
	return s.queryListings(ctx, `SELECT `+listingColumns+` FROM listings WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
}

func (s *Postgres) ListingsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Listing, error) {
	out := make(map[uuid.UUID]model.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	list, err := s.queryListings(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ANY($1::uuid[])`, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, err
	}
	for _, l := range list {
		out[l.ID] = l
	}
	return out, nil
}
