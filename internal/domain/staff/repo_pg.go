package staff

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reenvasado/reenvasado/internal/platform/db"
)

type profileRepoPG struct{ pool *pgxpool.Pool }

func NewProfileRepoPG(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepoPG{pool: pool}
}

const profileCols = `user_id, email, nombre, rol, activo, password_hash, created_at, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.UserID, &p.Email, &p.Name, &p.Role, &p.Active, &p.PasswordHash, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *profileRepoPG) Create(ctx context.Context, p *Profile) error {
	if p.UserID == uuid.Nil {
		p.UserID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO perfiles (user_id, email, nombre, rol, activo, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		p.UserID, p.Email, p.Name, p.Role, p.Active, p.PasswordHash,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *profileRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return scanProfile(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+profileCols+` FROM perfiles WHERE user_id = $1`, id))
}

func (r *profileRepoPG) GetByEmail(ctx context.Context, email string) (*Profile, error) {
	return scanProfile(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+profileCols+` FROM perfiles WHERE lower(email) = lower($1)`, email))
}

func (r *profileRepoPG) List(ctx context.Context) ([]*Profile, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+profileCols+` FROM perfiles ORDER BY nombre NULLS LAST, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *profileRepoPG) Names(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT user_id, COALESCE(NULLIF(nombre, ''), email) FROM perfiles WHERE user_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}

func (r *profileRepoPG) update(ctx context.Context, sql string, args ...any) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *profileRepoPG) UpdateRole(ctx context.Context, id uuid.UUID, role string) error {
	return r.update(ctx, `UPDATE perfiles SET rol = $2, updated_at = NOW() WHERE user_id = $1`, id, role)
}

func (r *profileRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.update(ctx, `UPDATE perfiles SET activo = $2, updated_at = NOW() WHERE user_id = $1`, id, active)
}

func (r *profileRepoPG) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	return r.update(ctx, `UPDATE perfiles SET password_hash = $2, updated_at = NOW() WHERE user_id = $1`, id, hash)
}

func (r *profileRepoPG) UpdateName(ctx context.Context, id uuid.UUID, name string) error {
	if err := r.update(ctx, `UPDATE perfiles SET nombre = $2, updated_at = NOW() WHERE user_id = $1`, id, name); err != nil {
		return fmt.Errorf("update name: %w", err)
	}
	return nil
}
