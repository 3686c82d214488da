package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reenvasado/reenvasado/internal/domain/reexpiry"
	"github.com/reenvasado/reenvasado/internal/platform/db"
)

// ---- Medication Repo ----

type medicationRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository {
	return &medicationRepoPG{pool: pool}
}

const medicationCols = `codigo_sap, nombre_medicamento, principio_activo, ubicacion, grupo, activo, updated_at`

func scanMedication(row pgx.Row) (*Medication, error) {
	var m Medication
	err := row.Scan(&m.SAPCode, &m.Name, &m.ActiveIngredient, &m.Location, &m.GroupCode, &m.Active, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *medicationRepoPG) collect(ctx context.Context, sql string, args ...any) ([]*Medication, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, r.attachMethods(ctx, items)
}

// attachMethods loads the method links of meds in one query.
func (r *medicationRepoPG) attachMethods(ctx context.Context, meds []*Medication) error {
	if len(meds) == 0 {
		return nil
	}
	bySAP := make(map[int64]*Medication, len(meds))
	saps := make([]int64, 0, len(meds))
	for _, m := range meds {
		m.Methods = []MethodRef{}
		bySAP[m.SAPCode] = m
		saps = append(saps, m.SAPCode)
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT mm.codigo_sap, mm.metodo_id, mr.tipo_reenvasado
		FROM medicamento_metodo mm
		JOIN metodo_reenvasado mr ON mr.id = mm.metodo_id
		WHERE mm.codigo_sap = ANY($1)
		ORDER BY mm.codigo_sap, mm.metodo_id`, saps)
	if err != nil {
		return fmt.Errorf("load methods: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sap int64
		var ref MethodRef
		if err := rows.Scan(&sap, &ref.MethodID, &ref.Name); err != nil {
			return err
		}
		if m := bySAP[sap]; m != nil {
			m.Methods = append(m.Methods, ref)
		}
	}
	return rows.Err()
}

func likePattern(q string) string {
	q = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)
	return "%" + q + "%"
}

func (r *medicationRepoPG) Search(ctx context.Context, query string, limit int) ([]*Medication, error) {
	return r.collect(ctx, `SELECT `+medicationCols+` FROM medicamentos
		WHERE activo AND (nombre_medicamento ILIKE $1 OR principio_activo ILIKE $1)
		ORDER BY nombre_medicamento LIMIT $2`, likePattern(query), limit)
}

func (r *medicationRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Medication, int, error) {
	where := ` WHERE 1=1`
	var args []any
	idx := 1
	if q := strings.TrimSpace(f.Query); q != "" {
		where += fmt.Sprintf(` AND (nombre_medicamento ILIKE $%d OR codigo_sap::text LIKE $%d)`, idx, idx+1)
		args = append(args, likePattern(q), strings.TrimSpace(q)+"%")
		idx += 2
	}
	if f.ActiveOnly {
		where += ` AND activo`
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM medicamentos`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	sql := `SELECT ` + medicationCols + ` FROM medicamentos` + where +
		fmt.Sprintf(` ORDER BY nombre_medicamento LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)
	items, err := r.collect(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *medicationRepoPG) GetBySAP(ctx context.Context, sap int64) (*Medication, error) {
	m, err := scanMedication(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+medicationCols+` FROM medicamentos WHERE codigo_sap = $1`, sap))
	if err != nil {
		return nil, err
	}
	if err := r.attachMethods(ctx, []*Medication{m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *medicationRepoPG) GetMany(ctx context.Context, saps []int64) (map[int64]*Medication, error) {
	out := make(map[int64]*Medication, len(saps))
	if len(saps) == 0 {
		return out, nil
	}
	items, err := r.collect(ctx, `SELECT `+medicationCols+` FROM medicamentos WHERE codigo_sap = ANY($1)`, saps)
	if err != nil {
		return nil, err
	}
	for _, m := range items {
		out[m.SAPCode] = m
	}
	return out, nil
}

func (r *medicationRepoPG) Create(ctx context.Context, m *Medication) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medicamentos (codigo_sap, nombre_medicamento, principio_activo, ubicacion, grupo, activo)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING updated_at`,
		m.SAPCode, m.Name, m.ActiveIngredient, m.Location, m.GroupCode, m.Active,
	).Scan(&m.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateSAP
	}
	return err
}

func (r *medicationRepoPG) Upsert(ctx context.Context, m *Medication) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medicamentos (codigo_sap, nombre_medicamento, principio_activo, ubicacion, grupo, activo)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (codigo_sap) DO UPDATE SET
			nombre_medicamento = EXCLUDED.nombre_medicamento,
			principio_activo = EXCLUDED.principio_activo,
			ubicacion = EXCLUDED.ubicacion,
			grupo = EXCLUDED.grupo,
			activo = EXCLUDED.activo,
			updated_at = NOW()
		RETURNING updated_at`,
		m.SAPCode, m.Name, m.ActiveIngredient, m.Location, m.GroupCode, m.Active,
	).Scan(&m.UpdatedAt)
}

func (r *medicationRepoPG) SetActive(ctx context.Context, sap int64, active bool) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE medicamentos SET activo = $2, updated_at = NOW() WHERE codigo_sap = $1`, sap, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *medicationRepoPG) ReplaceMethod(ctx context.Context, sap int64, method reexpiry.MethodID) error {
	q := db.Conn(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM medicamento_metodo WHERE codigo_sap = $1`, sap); err != nil {
		return err
	}
	_, err := q.Exec(ctx, `INSERT INTO medicamento_metodo (codigo_sap, metodo_id) VALUES ($1, $2)`, sap, method)
	if db.IsForeignKeyViolation(err) {
		return ErrUnknownMethod
	}
	return err
}

// ---- Method Repo ----

type methodRepoPG struct{ pool *pgxpool.Pool }

func NewMethodRepoPG(pool *pgxpool.Pool) MethodRepository {
	return &methodRepoPG{pool: pool}
}

func (r *methodRepoPG) List(ctx context.Context) ([]*Method, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, tipo_reenvasado FROM metodo_reenvasado ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Method
	for rows.Next() {
		var m Method
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}

func (r *methodRepoPG) GetByID(ctx context.Context, id reexpiry.MethodID) (*Method, error) {
	var m Method
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, tipo_reenvasado FROM metodo_reenvasado WHERE id = $1`, id).Scan(&m.ID, &m.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownMethod
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
