// Package catalog holds the medication master data and the repackaging
// methods each medication may be processed with.
package catalog

import (
	"errors"
	"time"

	"github.com/reenvasado/reenvasado/internal/domain/reexpiry"
)

var (
	ErrNotFound      = errors.New("medication not found")
	ErrDuplicateSAP  = errors.New("a medication with this SAP code already exists")
	ErrUnknownMethod = errors.New("unknown repackaging method")
)

// StandardMethodName is shown when a medication has no method linked.
const StandardMethodName = "Estándar"

const (
	MinSearchLength = 2
	SearchLimit     = 10
)

// Method maps to the metodo_reenvasado table.
type Method struct {
	ID   reexpiry.MethodID `db:"id" json:"id"`
	Name string            `db:"tipo_reenvasado" json:"tipo_reenvasado"`
}

// MethodRef is a method linked to a medication.
type MethodRef struct {
	MethodID reexpiry.MethodID `json:"metodo_id"`
	Name     string            `json:"tipo_reenvasado"`
}

// Medication maps to the medicamentos table with its linked methods.
type Medication struct {
	SAPCode          int64       `db:"codigo_sap" json:"codigo_sap"`
	Name             string      `db:"nombre_medicamento" json:"nombre_medicamento"`
	ActiveIngredient *string     `db:"principio_activo" json:"principio_activo,omitempty"`
	Location         *string     `db:"ubicacion" json:"ubicacion,omitempty"`
	GroupCode        *string     `db:"grupo" json:"grupo,omitempty"`
	Active           bool        `db:"activo" json:"activo"`
	Methods          []MethodRef `json:"metodos"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
}

// DefaultMethod returns the linked method with the lowest identifier.
func (m *Medication) DefaultMethod() (MethodRef, bool) {
	if len(m.Methods) == 0 {
		return MethodRef{}, false
	}
	best := m.Methods[0]
	for _, ref := range m.Methods[1:] {
		if ref.MethodID < best.MethodID {
			best = ref
		}
	}
	return best, true
}

// DisplayMethod returns the default method name, or StandardMethodName.
func (m *Medication) DisplayMethod() string {
	if ref, ok := m.DefaultMethod(); ok && ref.Name != "" {
		return ref.Name
	}
	return StandardMethodName
}

// ListFilter narrows List. Query matches a name substring or a SAP code prefix.
type ListFilter struct {
	Query      string
	ActiveOnly bool
}
