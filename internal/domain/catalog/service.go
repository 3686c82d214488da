package catalog

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/reenvasado/reenvasado/internal/domain/reexpiry"
	"github.com/reenvasado/reenvasado/internal/platform/db"
)

type Service struct {
	meds    MedicationRepository
	methods MethodRepository
	tx      db.TxRunner
	logger  zerolog.Logger
}

func NewService(meds MedicationRepository, methods MethodRepository, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		meds:    meds,
		methods: methods,
		tx:      tx,
		logger:  logger.With().Str("component", "catalog").Logger(),
	}
}

// Search returns up to SearchLimit active medications whose name or active
// ingredient contains query. Queries shorter than MinSearchLength return
// nothing.
func (s *Service) Search(ctx context.Context, query string) ([]*Medication, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinSearchLength {
		return []*Medication{}, nil
	}
	return s.meds.Search(ctx, query, SearchLimit)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Medication, int, error) {
	return s.meds.List(ctx, f, limit, offset)
}

func (s *Service) Get(ctx context.Context, sap int64) (*Medication, error) {
	return s.meds.GetBySAP(ctx, sap)
}

func (s *Service) GetMany(ctx context.Context, saps []int64) (map[int64]*Medication, error) {
	return s.meds.GetMany(ctx, saps)
}

func (s *Service) ListMethods(ctx context.Context) ([]*Method, error) {
	return s.methods.List(ctx)
}

// MethodNames maps every catalog method to its display name.
func (s *Service) MethodNames(ctx context.Context) (map[reexpiry.MethodID]string, error) {
	items, err := s.methods.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[reexpiry.MethodID]string, len(items))
	for _, m := range items {
		out[m.ID] = m.Name
	}
	return out, nil
}

func (s *Service) validate(ctx context.Context, m *Medication, method reexpiry.MethodID) error {
	if m.SAPCode <= 0 {
		return fmt.Errorf("codigo_sap is required")
	}
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return fmt.Errorf("nombre_medicamento is required")
	}
	if method == 0 {
		return fmt.Errorf("metodo_id is required")
	}
	if _, err := s.methods.GetByID(ctx, method); err != nil {
		return err
	}
	m.ActiveIngredient = trimOptional(m.ActiveIngredient)
	m.Location = trimOptional(m.Location)
	m.GroupCode = trimOptional(m.GroupCode)
	return nil
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// Create adds a new medication linked to method. Duplicate SAP codes are
// rejected with ErrDuplicateSAP.
func (s *Service) Create(ctx context.Context, m *Medication, method reexpiry.MethodID) (*Medication, error) {
	if err := s.validate(ctx, m, method); err != nil {
		return nil, err
	}
	m.Active = true
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.meds.Create(ctx, m); err != nil {
			return err
		}
		return s.meds.ReplaceMethod(ctx, m.SAPCode, method)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("sap", m.SAPCode).Int("method", int(method)).Msg("medication created")
	return s.meds.GetBySAP(ctx, m.SAPCode)
}

// Update writes m and replaces its method link.
func (s *Service) Update(ctx context.Context, m *Medication, method reexpiry.MethodID) (*Medication, error) {
	if err := s.validate(ctx, m, method); err != nil {
		return nil, err
	}
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.meds.Upsert(ctx, m); err != nil {
			return err
		}
		return s.meds.ReplaceMethod(ctx, m.SAPCode, method)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("sap", m.SAPCode).Int("method", int(method)).Msg("medication updated")
	return s.meds.GetBySAP(ctx, m.SAPCode)
}

// SetActive hides or restores a medication. Recorded activities keep
// referring to it either way.
func (s *Service) SetActive(ctx context.Context, sap int64, active bool) error {
	if err := s.meds.SetActive(ctx, sap, active); err != nil {
		return err
	}
	s.logger.Info().Int64("sap", sap).Bool("active", active).Msg("medication activation changed")
	return nil
}
