package repackaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reenvasado/reenvasado/internal/platform/db"
)

// ---- Task Repo ----

type taskRepoPG struct{ pool *pgxpool.Pool }

func NewTaskRepoPG(pool *pgxpool.Pool) TaskRepository {
	return &taskRepoPG{pool: pool}
}

const taskCols = `id, codigo_sap, cantidad_solicitada, COALESCE(prioridad, ''), estado, creado_por, creado_en`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.SAPCode, &t.RequestedQuantity, &t.Priority, &t.Status, &t.CreatedBy, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return &t, err
}

func (r *taskRepoPG) Create(ctx context.Context, t *Task) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO tareas_reenvasado (codigo_sap, cantidad_solicitada, prioridad, estado, creado_por)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING id, creado_en`,
		t.SAPCode, t.RequestedQuantity, string(t.Priority), t.Status, t.CreatedBy,
	).Scan(&t.ID, &t.CreatedAt)
}

func (r *taskRepoPG) GetByID(ctx context.Context, id int64) (*Task, error) {
	return scanTask(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+taskCols+` FROM tareas_reenvasado WHERE id = $1`, id))
}

func (r *taskRepoPG) ListPending(ctx context.Context) ([]*Task, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+taskCols+` FROM tareas_reenvasado WHERE estado = $1 ORDER BY creado_en`, TaskPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *taskRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM tareas_reenvasado WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *taskRepoPG) Complete(ctx context.Context, id int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE tareas_reenvasado SET estado = $2 WHERE id = $1 AND estado = $3`, id, TaskCompleted, TaskPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotPending
	}
	return nil
}

// ---- Activity Repo ----

type activityRepoPG struct{ pool *pgxpool.Pool }

func NewActivityRepoPG(pool *pgxpool.Pool) ActivityRepository {
	return &activityRepoPG{pool: pool}
}

const activityCols = `id, tarea_id, codigo_sap, metodo_id, cantidad, cantidad_final, lote_original,
	caducidad_original, caducidad_reenvasado, incidencias, user_id, fecha, estado,
	validado_por, fecha_validacion`

func scanActivity(row pgx.Row) (*Activity, error) {
	var a Activity
	err := row.Scan(&a.ID, &a.TaskID, &a.SAPCode, &a.MethodID, &a.Quantity, &a.FinalQuantity, &a.Batch,
		&a.OriginalExpiry, &a.Reexpiry, &a.Notes, &a.UserID, &a.RecordedAt, &a.Status,
		&a.ValidatedBy, &a.ValidatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrActivityNotFound
	}
	return &a, err
}

func (r *activityRepoPG) Create(ctx context.Context, a *Activity) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO actividad_reenvasado (tarea_id, codigo_sap, metodo_id, cantidad, cantidad_final,
			lote_original, caducidad_original, caducidad_reenvasado, incidencias, user_id, estado)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, fecha`,
		a.TaskID, a.SAPCode, a.MethodID, a.Quantity, a.FinalQuantity,
		a.Batch, a.OriginalExpiry, a.Reexpiry, a.Notes, a.UserID, a.Status,
	).Scan(&a.ID, &a.RecordedAt)
}

func (r *activityRepoPG) GetByID(ctx context.Context, id int64) (*Activity, error) {
	return scanActivity(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+activityCols+` FROM actividad_reenvasado WHERE id = $1`, id))
}

func (r *activityRepoPG) Validate(ctx context.Context, a *Activity) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE actividad_reenvasado SET cantidad_final = $2, lote_original = $3,
			caducidad_original = $4, caducidad_reenvasado = $5, incidencias = $6,
			estado = $7, validado_por = $8, fecha_validacion = $9
		WHERE id = $1 AND estado = $10`,
		a.ID, a.FinalQuantity, a.Batch, a.OriginalExpiry, a.Reexpiry, a.Notes,
		a.Status, a.ValidatedBy, a.ValidatedAt, ActivityPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyValidated
	}
	return nil
}

func (r *activityRepoPG) List(ctx context.Context, f HistoryFilter) ([]*Activity, error) {
	query := `SELECT ` + activityCols + ` FROM actividad_reenvasado WHERE 1=1`
	var args []any
	idx := 1

	if f.Status != "" {
		query += fmt.Sprintf(` AND estado = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.MethodID != 0 {
		query += fmt.Sprintf(` AND metodo_id = $%d`, idx)
		args = append(args, f.MethodID)
		idx++
	}
	if f.From != nil {
		query += fmt.Sprintf(` AND fecha >= $%d`, idx)
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		query += fmt.Sprintf(` AND fecha <= $%d`, idx)
		args = append(args, *f.To)
	}
	query += ` ORDER BY fecha DESC, id DESC`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
