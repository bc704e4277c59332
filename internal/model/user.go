// internal/model/user.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleMaster Role = "master"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleMaster, RoleAdmin:
		return true
	}
	return false
}

// CanSubmitRequests reports whether the role may propose streets, pavilions or listings.
func (r Role) CanSubmitRequests() bool {
	return r == RoleMaster || r == RoleAdmin
}

type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	FullName  string    `db:"full_name" json:"full_name,omitempty"`
	Role      Role      `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DisplayName is the name shown to the other side of a conversation.
func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return FallbackName(u.ID)
}

// FallbackName labels an identity the directory could not resolve.
func FallbackName(id uuid.UUID) string {
	return "ID " + id.String()
}
