package catalog

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/reenvasado/reenvasado/internal/domain/reexpiry"
	"github.com/reenvasado/reenvasado/internal/platform/db"
)

// -- Mock Repositories --

type mockMethodRepo struct {
	store map[reexpiry.MethodID]*Method
}

func newMockMethodRepo() *mockMethodRepo {
	return &mockMethodRepo{store: map[reexpiry.MethodID]*Method{
		1: {ID: 1, Name: "Sin blister"},
		2: {ID: 2, Name: "Blister"},
		3: {ID: 3, Name: "3 meses"},
		4: {ID: 4, Name: "Unidosis original"},
	}}
}

func (m *mockMethodRepo) List(_ context.Context) ([]*Method, error) {
	var r []*Method
	for _, v := range m.store {
		r = append(r, v)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r, nil
}

func (m *mockMethodRepo) GetByID(_ context.Context, id reexpiry.MethodID) (*Method, error) {
	v, ok := m.store[id]
	if !ok {
		return nil, ErrUnknownMethod
	}
	return v, nil
}

type mockMedicationRepo struct {
	mu      sync.Mutex
	store   map[int64]*Medication
	links   map[int64]reexpiry.MethodID
	methods *mockMethodRepo
}

func newMockMedicationRepo(methods *mockMethodRepo) *mockMedicationRepo {
	return &mockMedicationRepo{
		store:   make(map[int64]*Medication),
		links:   make(map[int64]reexpiry.MethodID),
		methods: methods,
	}
}

// view returns a copy of the stored medication with its method attached.
func (m *mockMedicationRepo) view(med *Medication) *Medication {
	out := *med
	out.Methods = []MethodRef{}
	if id, ok := m.links[med.SAPCode]; ok {
		out.Methods = append(out.Methods, MethodRef{MethodID: id, Name: m.methods.store[id].Name})
	}
	return &out
}

func (m *mockMedicationRepo) sorted(keep func(*Medication) bool) []*Medication {
	var r []*Medication
	for _, med := range m.store {
		if keep(med) {
			r = append(r, m.view(med))
		}
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Name < r[j].Name })
	return r
}

func (m *mockMedicationRepo) Search(_ context.Context, query string, limit int) ([]*Medication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	r := m.sorted(func(med *Medication) bool {
		if !med.Active {
			return false
		}
		if strings.Contains(strings.ToLower(med.Name), q) {
			return true
		}
		return med.ActiveIngredient != nil && strings.Contains(strings.ToLower(*med.ActiveIngredient), q)
	})
	if len(r) > limit {
		r = r[:limit]
	}
	return r, nil
}

func (m *mockMedicationRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Medication, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(f.Query))
	r := m.sorted(func(med *Medication) bool {
		if f.ActiveOnly && !med.Active {
			return false
		}
		return q == "" || strings.Contains(strings.ToLower(med.Name), q) ||
			strings.HasPrefix(strconv.FormatInt(med.SAPCode, 10), q)
	})
	return r, len(r), nil
}

func (m *mockMedicationRepo) GetBySAP(_ context.Context, sap int64) (*Medication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	med, ok := m.store[sap]
	if !ok {
		return nil, ErrNotFound
	}
	return m.view(med), nil
}

func (m *mockMedicationRepo) GetMany(_ context.Context, saps []int64) (map[int64]*Medication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]*Medication)
	for _, sap := range saps {
		if med, ok := m.store[sap]; ok {
			out[sap] = m.view(med)
		}
	}
	return out, nil
}

func (m *mockMedicationRepo) Create(_ context.Context, med *Medication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[med.SAPCode]; ok {
		return ErrDuplicateSAP
	}
	cp := *med
	m.store[med.SAPCode] = &cp
	return nil
}

func (m *mockMedicationRepo) Upsert(_ context.Context, med *Medication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *med
	m.store[med.SAPCode] = &cp
	return nil
}

func (m *mockMedicationRepo) SetActive(_ context.Context, sap int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	med, ok := m.store[sap]
	if !ok {
		return ErrNotFound
	}
	med.Active = active
	return nil
}

func (m *mockMedicationRepo) ReplaceMethod(_ context.Context, sap int64, method reexpiry.MethodID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.methods.store[method]; !ok {
		return ErrUnknownMethod
	}
	m.links[sap] = method
	return nil
}

func newTestService() (*Service, *mockMedicationRepo) {
	methods := newMockMethodRepo()
	meds := newMockMedicationRepo(methods)
	return NewService(meds, methods, db.NoTx{}, zerolog.Nop()), meds
}

func strPtr(s string) *string { return &s }
