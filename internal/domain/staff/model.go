// Package staff manages the pharmacy staff directory: login profiles, roles
// and account activation.
package staff

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/reenvasado/reenvasado/internal/platform/auth"
)

var (
	ErrNotFound           = errors.New("profile not found")
	ErrDuplicateEmail     = errors.New("a profile with this email already exists")
	ErrInvalidEmail       = errors.New("email must contain @")
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrInactiveUser       = errors.New("account disabled by the administrator")
)

// Profile maps to the perfiles table.
type Profile struct {
	UserID       uuid.UUID `db:"user_id" json:"user_id"`
	Email        string    `db:"email" json:"email"`
	Name         *string   `db:"nombre" json:"nombre,omitempty"`
	Role         auth.Role `db:"rol" json:"rol"`
	Active       bool      `db:"activo" json:"activo"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// DisplayName returns the profile name, or the email when no name is set.
func (p *Profile) DisplayName() string {
	if p.Name != nil && *p.Name != "" {
		return *p.Name
	}
	return p.Email
}

// NeedsProfile reports whether the user still has to fill in a name.
func (p *Profile) NeedsProfile() bool {
	return p.Name == nil || *p.Name == ""
}

// NewUser is the input to CreateUser.
type NewUser struct {
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Name     string    `json:"nombre"`
	Role     auth.Role `json:"rol"`
	Active   *bool     `json:"activo"`
}
