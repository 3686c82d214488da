package catalog

import (
	"context"

	"github.com/reenvasado/reenvasado/internal/domain/reexpiry"
)

type MedicationRepository interface {
	// Search matches name or active ingredient of active medications.
	Search(ctx context.Context, query string, limit int) ([]*Medication, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Medication, int, error)
	GetBySAP(ctx context.Context, sap int64) (*Medication, error)
	// GetMany returns the medications found among saps, keyed by SAP code.
	GetMany(ctx context.Context, saps []int64) (map[int64]*Medication, error)
	Create(ctx context.Context, m *Medication) error
	Upsert(ctx context.Context, m *Medication) error
	SetActive(ctx context.Context, sap int64, active bool) error
	// ReplaceMethod links sap to exactly one method.
	ReplaceMethod(ctx context.Context, sap int64, method reexpiry.MethodID) error
}

type MethodRepository interface {
	List(ctx context.Context) ([]*Method, error)
	GetByID(ctx context.Context, id reexpiry.MethodID) (*Method, error)
}
