package repackaging

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reenvasado/reenvasado/internal/domain/catalog"
	"github.com/reenvasado/reenvasado/internal/domain/reexpiry"
	"github.com/reenvasado/reenvasado/internal/platform/db"
	"github.com/reenvasado/reenvasado/internal/platform/websocket"
)

// -- Mock Repositories --

type mockTaskRepo struct {
	mu     sync.Mutex
	store  map[int64]*Task
	nextID int64
	clock  time.Time
}

func newMockTaskRepo() *mockTaskRepo {
	return &mockTaskRepo{store: make(map[int64]*Task), clock: time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (m *mockTaskRepo) Create(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.clock = m.clock.Add(time.Minute)
	t.ID = m.nextID
	t.CreatedAt = m.clock
	cp := *t
	m.store[t.ID] = &cp
	return nil
}

func (m *mockTaskRepo) GetByID(_ context.Context, id int64) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockTaskRepo) ListPending(_ context.Context) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var r []*Task
	for _, t := range m.store {
		if t.Status == TaskPending {
			cp := *t
			r = append(r, &cp)
		}
	}
	sort.Slice(r, func(i, j int) bool { return r[i].CreatedAt.Before(r[j].CreatedAt) })
	return r, nil
}

func (m *mockTaskRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return ErrTaskNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockTaskRepo) Complete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok || t.Status != TaskPending {
		return ErrTaskNotPending
	}
	t.Status = TaskCompleted
	return nil
}

type mockActivityRepo struct {
	mu     sync.Mutex
	store  map[int64]*Activity
	nextID int64
	clock  time.Time
	// failCreate makes Create fail to exercise transaction rollback paths.
	failCreate error
}

func newMockActivityRepo() *mockActivityRepo {
	return &mockActivityRepo{store: make(map[int64]*Activity), clock: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (m *mockActivityRepo) Create(_ context.Context, a *Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	m.nextID++
	m.clock = m.clock.Add(time.Hour)
	a.ID = m.nextID
	a.RecordedAt = m.clock
	cp := *a
	m.store[a.ID] = &cp
	return nil
}

func (m *mockActivityRepo) GetByID(_ context.Context, id int64) (*Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok {
		return nil, ErrActivityNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockActivityRepo) Validate(_ context.Context, a *Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.store[a.ID]
	if !ok || stored.Status != ActivityPending {
		return ErrAlreadyValidated
	}
	cp := *a
	m.store[a.ID] = &cp
	return nil
}

func (m *mockActivityRepo) List(_ context.Context, f HistoryFilter) ([]*Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var r []*Activity
	for _, a := range m.store {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.MethodID != 0 && a.MethodID != f.MethodID {
			continue
		}
		if f.From != nil && a.RecordedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && a.RecordedAt.After(*f.To) {
			continue
		}
		cp := *a
		r = append(r, &cp)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].RecordedAt.After(r[j].RecordedAt) })
	return r, nil
}

type mockCatalog struct {
	meds map[int64]*catalog.Medication
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{meds: map[int64]*catalog.Medication{
		1001: {SAPCode: 1001, Name: "Paracetamol 1g", Active: true,
			Methods: []catalog.MethodRef{{MethodID: reexpiry.MethodBlister, Name: "Blister"}}},
		2002: {SAPCode: 2002, Name: "Omeprazol 20mg", Active: true},
		3003: {SAPCode: 3003, Name: "Retirado", Active: false},
	}}
}

func (m *mockCatalog) Get(_ context.Context, sap int64) (*catalog.Medication, error) {
	med, ok := m.meds[sap]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return med, nil
}

func (m *mockCatalog) GetMany(_ context.Context, saps []int64) (map[int64]*catalog.Medication, error) {
	out := make(map[int64]*catalog.Medication)
	for _, sap := range saps {
		if med, ok := m.meds[sap]; ok {
			out[sap] = med
		}
	}
	return out, nil
}

func (m *mockCatalog) MethodNames(_ context.Context) (map[reexpiry.MethodID]string, error) {
	return map[reexpiry.MethodID]string{1: "Sin blister", 2: "Blister", 3: "3 meses", 4: "Unidosis original"}, nil
}

type mockNames map[uuid.UUID]string

func (m mockNames) Names(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string)
	for _, id := range ids {
		if n, ok := m[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (p *capturePublisher) Publish(_ context.Context, ev websocket.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// snapshotTx restores the mock stores when fn fails, standing in for a
// database rollback.
type snapshotTx struct {
	tasks *mockTaskRepo
}

func (s snapshotTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.tasks.mu.Lock()
	saved := make(map[int64]Task, len(s.tasks.store))
	for id, t := range s.tasks.store {
		saved[id] = *t
	}
	s.tasks.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.tasks.mu.Lock()
		for id, t := range saved {
			t := t
			s.tasks.store[id] = &t
		}
		s.tasks.mu.Unlock()
		return err
	}
	return nil
}

var _ db.TxRunner = snapshotTx{}

var (
	techID       = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	pharmacistID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	testToday    = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
)

type testEnv struct {
	svc        *Service
	tasks      *mockTaskRepo
	activities *mockActivityRepo
	events     *capturePublisher
}

func newTestEnv() *testEnv {
	tasks := newMockTaskRepo()
	acts := newMockActivityRepo()
	engine := reexpiry.NewEngine(reexpiry.DefaultPolicy()).WithClock(func() time.Time { return testToday })
	names := mockNames{techID: "Teo", pharmacistID: "Pilar"}
	svc := NewService(tasks, acts, newMockCatalog(), names, engine, snapshotTx{tasks: tasks}, zerolog.Nop())
	svc.now = func() time.Time { return testToday }
	events := &capturePublisher{}
	svc.SetPublisher(events)
	return &testEnv{svc: svc, tasks: tasks, activities: acts, events: events}
}

func newTestService() *Service {
	return newTestEnv().svc
}

func day(s string) time.Time {
	d, err := reexpiry.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func validInput() ActivityInput {
	return ActivityInput{
		SAPCode:        1001,
		MethodID:       reexpiry.MethodBlister,
		Quantity:       100,
		FinalQuantity:  98,
		Batch:          "  l-123  ",
		OriginalExpiry: day("2025-12-31"),
		Reexpiry:       day("2025-03-01"),
		Notes:          "   ",
	}
}
