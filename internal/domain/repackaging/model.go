// Package repackaging runs the pharmacy repackaging workflow: pharmacists
// queue tasks, technicians record the repackaged batch with its re-expiry
// date, and pharmacists validate the record.
package repackaging

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reenvasado/reenvasado/internal/domain/catalog"
	"github.com/reenvasado/reenvasado/internal/domain/reexpiry"
)

var (
	ErrTaskNotFound          = errors.New("task not found")
	ErrActivityNotFound      = errors.New("activity not found")
	ErrTaskNotPending        = errors.New("task is not pending")
	ErrAlreadyValidated      = errors.New("activity is already validated")
	ErrMedicationInactive    = errors.New("medication is inactive")
	ErrInvalidQuantity       = errors.New("initial quantity must be greater than zero")
	ErrMissingData           = errors.New("method, batch, expiry dates and a final quantity greater than zero are required")
	ErrReexpiryAfterOriginal = errors.New("re-expiry date cannot be later than the original expiry")
)

// Priority orders the task queue. The zero value is a normal task.
type Priority string

const (
	PriorityNormal     Priority = ""
	PriorityUrgent     Priority = "urgente"
	PriorityVeryUrgent Priority = "muy urgente"
)

// Weight ranks priorities; higher is served first.
func (p Priority) Weight() int {
	switch p {
	case PriorityVeryUrgent:
		return 2
	case PriorityUrgent:
		return 1
	default:
		return 0
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityUrgent, PriorityVeryUrgent:
		return true
	}
	return false
}

// ParsePriority accepts any letter case; "normal" and "" both mean normal.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "normal" {
		return PriorityNormal, nil
	}
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("invalid priority: %s", s)
	}
	return p, nil
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "pendiente"
	TaskCompleted TaskStatus = "completada"
)

type ActivityStatus string

const (
	ActivityPending   ActivityStatus = "pendiente"
	ActivityValidated ActivityStatus = "validado"
)

// Task maps to the tareas_reenvasado table.
type Task struct {
	ID                int64               `db:"id" json:"id"`
	SAPCode           int64               `db:"codigo_sap" json:"codigo_sap"`
	RequestedQuantity int                 `db:"cantidad_solicitada" json:"cantidad_solicitada"`
	Priority          Priority            `db:"prioridad" json:"prioridad"`
	Status            TaskStatus          `db:"estado" json:"estado"`
	CreatedBy         *uuid.UUID          `db:"creado_por" json:"creado_por,omitempty"`
	CreatedAt         time.Time           `db:"creado_en" json:"creado_en"`
	Medication        *catalog.Medication `json:"medicamento,omitempty"`
}

// SortTasks orders tasks by priority weight, highest first, then oldest
// first.
func SortTasks(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		wi, wj := tasks[i].Priority.Weight(), tasks[j].Priority.Weight()
		if wi != wj {
			return wi > wj
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

// Activity maps to the actividad_reenvasado table.
type Activity struct {
	ID             int64             `db:"id" json:"id"`
	TaskID         *int64            `db:"tarea_id" json:"tarea_id,omitempty"`
	SAPCode        int64             `db:"codigo_sap" json:"codigo_sap"`
	MethodID       reexpiry.MethodID `db:"metodo_id" json:"metodo_id"`
	Quantity       int               `db:"cantidad" json:"cantidad"`
	FinalQuantity  int               `db:"cantidad_final" json:"cantidad_final"`
	Batch          string            `db:"lote_original" json:"lote_original"`
	OriginalExpiry time.Time         `db:"caducidad_original" json:"caducidad_original"`
	Reexpiry       time.Time         `db:"caducidad_reenvasado" json:"caducidad_reenvasado"`
	Notes          *string           `db:"incidencias" json:"incidencias,omitempty"`
	UserID         *uuid.UUID        `db:"user_id" json:"user_id,omitempty"`
	RecordedAt     time.Time         `db:"fecha" json:"fecha"`
	Status         ActivityStatus    `db:"estado" json:"estado"`
	ValidatedBy    *uuid.UUID        `db:"validado_por" json:"validado_por,omitempty"`
	ValidatedAt    *time.Time        `db:"fecha_validacion" json:"fecha_validacion,omitempty"`
}

// ActivityInput is what a technician submits after repackaging.
type ActivityInput struct {
	TaskID         *int64
	SAPCode        int64
	MethodID       reexpiry.MethodID
	Quantity       int
	FinalQuantity  int
	Batch          string
	OriginalExpiry time.Time
	Reexpiry       time.Time
	Notes          string
}

// ValidationEdits are the corrections a pharmacist may apply while
// validating. Nil fields keep the recorded value.
type ValidationEdits struct {
	FinalQuantity  *int
	Batch          *string
	OriginalExpiry *time.Time
	Reexpiry       *time.Time
	Notes          *string
}

// HistoryFilter narrows History. Zero values do not filter. To is inclusive.
type HistoryFilter struct {
	Status   ActivityStatus
	MethodID reexpiry.MethodID
	Text     string
	From     *time.Time
	To       *time.Time
}

// UnknownTechnician is shown for activities whose technician has no profile.
const UnknownTechnician = "Usuario desconocido"

// HistoryRecord is an activity with the names a reader needs.
type HistoryRecord struct {
	Activity
	MedicationName string  `json:"nombre_med"`
	TechnicianName string  `json:"nombre_tecnico"`
	ValidatorName  *string `json:"nombre_validador"`
	MethodName     string  `json:"nombre_metodo"`
}

// Matches reports whether text occurs in the medication name, SAP code or
// notes, ignoring case.
func (r *HistoryRecord) Matches(text string) bool {
	q := strings.ToLower(strings.TrimSpace(text))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(r.MedicationName), q) {
		return true
	}
	if strings.Contains(fmt.Sprint(r.SAPCode), q) {
		return true
	}
	return r.Notes != nil && strings.Contains(strings.ToLower(*r.Notes), q)
}
