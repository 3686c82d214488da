package staff

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reenvasado/reenvasado/internal/platform/auth"
)

// SessionRevoker invalidates tokens issued to a user before now.
type SessionRevoker interface {
	RevokeUser(userID string)
}

type Service struct {
	profiles    ProfileRepository
	loginDomain string
	revoker     SessionRevoker
	logger      zerolog.Logger
}

func NewService(profiles ProfileRepository, loginDomain string, logger zerolog.Logger) *Service {
	return &Service{
		profiles:    profiles,
		loginDomain: strings.TrimPrefix(strings.TrimSpace(loginDomain), "@"),
		logger:      logger.With().Str("component", "staff").Logger(),
	}
}

// SetRevoker attaches the session revocation list. Role, activation and
// password changes revoke outstanding tokens when one is set.
func (s *Service) SetRevoker(r SessionRevoker) {
	s.revoker = r
}

func (s *Service) revoke(id uuid.UUID) {
	if s.revoker != nil {
		s.revoker.RevokeUser(id.String())
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LoginEmail expands a bare login name with the institutional domain.
func (s *Service) LoginEmail(login string) string {
	login = normalizeEmail(login)
	if login == "" || strings.Contains(login, "@") || s.loginDomain == "" {
		return login
	}
	return login + "@" + s.loginDomain
}

func (s *Service) CreateUser(ctx context.Context, in NewUser) (*Profile, error) {
	email := normalizeEmail(in.Email)
	if !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}
	role := in.Role
	if role == "" {
		role = auth.RoleTechnician
	}
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role: %s", role)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	p := &Profile{
		Email:        email,
		Role:         role,
		Active:       true,
		PasswordHash: hash,
	}
	if in.Active != nil {
		p.Active = *in.Active
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		p.Name = &name
	}
	if err := s.profiles.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", p.UserID.String()).Str("role", string(p.Role)).Msg("user created")
	return p, nil
}

// EnsureDevProfile creates the profile behind the development identity so
// records it authors satisfy the perfiles foreign keys. The profile has no
// password and cannot log in.
func (s *Service) EnsureDevProfile(ctx context.Context, id uuid.UUID) error {
	_, err := s.profiles.GetByID(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	name := "dev"
	p := &Profile{UserID: id, Email: "dev@localhost", Name: &name, Role: auth.RoleAdmin, Active: true}
	if err := s.profiles.Create(ctx, p); err != nil && !errors.Is(err, ErrDuplicateEmail) {
		return err
	}
	s.logger.Info().Str("user_id", id.String()).Msg("development profile ready")
	return nil
}

// Authenticate checks a login and password. A login without "@" is expanded
// with the institutional domain.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*Profile, error) {
	p, err := s.profiles.GetByEmail(ctx, s.LoginEmail(login))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(p.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !p.Active {
		return nil, ErrInactiveUser
	}
	return p, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return s.profiles.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context) ([]*Profile, error) {
	return s.profiles.List(ctx)
}

// Names resolves display names for user ids.
func (s *Service) Names(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	return s.profiles.Names(ctx, ids)
}

func (s *Service) ChangeRole(ctx context.Context, id uuid.UUID, role auth.Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role: %s", role)
	}
	if err := s.profiles.UpdateRole(ctx, id, string(role)); err != nil {
		return err
	}
	s.revoke(id)
	s.logger.Info().Str("user_id", id.String()).Str("role", string(role)).Msg("role changed")
	return nil
}

func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if err := s.profiles.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.revoke(id)
	s.logger.Info().Str("user_id", id.String()).Bool("active", active).Msg("activation changed")
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.profiles.UpdatePassword(ctx, id, hash); err != nil {
		return err
	}
	s.revoke(id)
	s.logger.Info().Str("user_id", id.String()).Msg("password changed")
	return nil
}

// CompleteProfile sets the display name the first time a user signs in.
func (s *Service) CompleteProfile(ctx context.Context, id uuid.UUID, name string) (*Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if err := s.profiles.UpdateName(ctx, id, name); err != nil {
		return nil, err
	}
	return s.profiles.GetByID(ctx, id)
}
