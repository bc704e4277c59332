// internal/model/catalog.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type Street struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Code      string    `db:"code" json:"code"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Pavilion struct {
	ID          uuid.UUID `db:"id" json:"id"`
	StreetID    uuid.UUID `db:"street_id" json:"street_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Listing is a published offer inside a pavilion. OwnerID is nil while the
// listing has no assigned owner.
type Listing struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	PavilionID uuid.UUID  `db:"pavilion_id" json:"pavilion_id"`
	OwnerID    *uuid.UUID `db:"owner_id" json:"owner_id,omitempty"`
	Title      string     `db:"title" json:"title"`
	Text       string     `db:"text" json:"text"`
	AuthorName string     `db:"author_name" json:"author_name,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// OwnedBy reports whether id is the assigned owner of the listing.
func (l Listing) OwnedBy(id uuid.UUID) bool {
	return l.OwnerID != nil && *l.OwnerID == id
}
