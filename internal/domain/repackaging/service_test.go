package repackaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/reenvasado/reenvasado/internal/domain/catalog"
	"github.com/reenvasado/reenvasado/internal/domain/reexpiry"
	"github.com/reenvasado/reenvasado/internal/platform/reporting"
)

func ptr[T any](v T) *T { return &v }

// -- Priority --

func TestPriority(t *testing.T) {
	if PriorityVeryUrgent.Weight() != 2 || PriorityUrgent.Weight() != 1 || PriorityNormal.Weight() != 0 {
		t.Error("unexpected priority weights")
	}
	for in, want := range map[string]Priority{"": PriorityNormal, "normal": PriorityNormal, "URGENTE": PriorityUrgent, " muy urgente ": PriorityVeryUrgent} {
		got, err := ParsePriority(in)
		if err != nil || got != want {
			t.Errorf("ParsePriority(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePriority("asap"); err == nil {
		t.Error("expected error for unknown priority")
	}
}

func TestSortTasks(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []*Task{
		{ID: 1, Priority: PriorityNormal, CreatedAt: base},
		{ID: 2, Priority: PriorityUrgent, CreatedAt: base.Add(2 * time.Hour)},
		{ID: 3, Priority: PriorityVeryUrgent, CreatedAt: base.Add(3 * time.Hour)},
		{ID: 4, Priority: PriorityUrgent, CreatedAt: base.Add(time.Hour)},
		{ID: 5, Priority: PriorityNormal, CreatedAt: base.Add(-time.Hour)},
	}
	SortTasks(tasks)
	want := []int64{3, 4, 2, 5, 1}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Fatalf("position %d: expected task %d, got %d", i, id, tasks[i].ID)
		}
	}
}

// -- Tasks --

func TestAssignTask(t *testing.T) {
	env := newTestEnv()
	task, err := env.svc.AssignTask(context.Background(), 1001, 50, PriorityUrgent, &pharmacistID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.ID == 0 || task.Status != TaskPending {
		t.Errorf("unexpected task %+v", task)
	}
	if task.Medication == nil || task.Medication.Name != "Paracetamol 1g" {
		t.Error("expected medication to be attached")
	}
	if got := env.events.types(); len(got) != 1 || got[0] != "task.assigned" {
		t.Errorf("expected task.assigned event, got %v", got)
	}
}

func TestAssignTask_Validation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.AssignTask(ctx, 1001, 0, PriorityNormal, nil); err == nil {
		t.Error("expected error for zero quantity")
	}
	if _, err := svc.AssignTask(ctx, 1001, 5, Priority("asap"), nil); err == nil {
		t.Error("expected error for invalid priority")
	}
	if _, err := svc.AssignTask(ctx, 9999, 5, PriorityNormal, nil); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("expected catalog.ErrNotFound, got %v", err)
	}
	if _, err := svc.AssignTask(ctx, 3003, 5, PriorityNormal, nil); !errors.Is(err, ErrMedicationInactive) {
		t.Errorf("expected ErrMedicationInactive, got %v", err)
	}
}

func TestListPendingTasks_OrderAndFilter(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	normal, _ := env.svc.AssignTask(ctx, 1001, 10, PriorityNormal, nil)
	urgent, _ := env.svc.AssignTask(ctx, 2002, 10, PriorityUrgent, nil)
	veryUrgent, _ := env.svc.AssignTask(ctx, 1001, 10, PriorityVeryUrgent, nil)
	done, _ := env.svc.AssignTask(ctx, 2002, 10, PriorityVeryUrgent, nil)
	_ = env.tasks.Complete(ctx, done.ID)

	// A task whose medication was retired after assignment drops out of the queue.
	env.tasks.store[99] = &Task{ID: 99, SAPCode: 3003, Status: TaskPending, Priority: PriorityVeryUrgent}

	queue, err := env.svc.ListPendingTasks(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int64{veryUrgent.ID, urgent.ID, normal.ID}
	if len(queue) != len(want) {
		t.Fatalf("expected %d tasks, got %d", len(want), len(queue))
	}
	for i, id := range want {
		if queue[i].ID != id {
			t.Errorf("position %d: expected task %d, got %d", i, id, queue[i].ID)
		}
		if queue[i].Medication == nil {
			t.Errorf("task %d has no medication", queue[i].ID)
		}
	}
}

func TestDeleteTask(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	task, _ := env.svc.AssignTask(ctx, 1001, 10, PriorityNormal, nil)
	if err := env.svc.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := env.svc.DeleteTask(ctx, task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
	if got := env.events.types(); got[len(got)-1] != "task.deleted" {
		t.Errorf("expected task.deleted event, got %v", got)
	}
}

// -- Re-expiry --

func TestSuggestExpiry_UsesServiceClock(t *testing.T) {
	svc := newTestService()
	sug := svc.SuggestExpiry(day("2025-12-31"), reexpiry.MethodBlister)
	if !sug.OK || !sug.NewExpiry.Equal(day("2025-03-01")) {
		t.Errorf("expected 2025-03-01, got %+v", sug)
	}
	sug = svc.SuggestExpiry(day("2025-12-31"), reexpiry.MethodLooseUnit)
	if !sug.OK || !sug.NewExpiry.Equal(day("2025-12-31")) {
		t.Errorf("expected original expiry kept, got %+v", sug)
	}
	if sug = svc.SuggestExpiry(day("2024-12-31"), reexpiry.MethodBlister); sug.OK {
		t.Error("expected no suggestion for expired stock")
	}
}

// -- Activities --

func TestRecordActivity_Success(t *testing.T) {
	env := newTestEnv()
	a, err := env.svc.RecordActivity(context.Background(), validInput(), &techID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Batch != "l-123" {
		t.Errorf("expected trimmed batch, got %q", a.Batch)
	}
	if a.Notes != nil {
		t.Error("expected blank notes to be stored as nil")
	}
	if a.Status != ActivityPending {
		t.Errorf("expected pendiente, got %q", a.Status)
	}
	if a.UserID == nil || *a.UserID != techID {
		t.Error("expected technician id")
	}
}

func TestRecordActivity_PreconditionOrder(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	cases := []struct {
		name string
		mod  func(in *ActivityInput)
		want error
	}{
		{"zero quantity wins over missing data", func(in *ActivityInput) { in.Quantity = 0; in.Batch = "" }, ErrInvalidQuantity},
		{"missing method", func(in *ActivityInput) { in.MethodID = 0 }, ErrMissingData},
		{"blank batch", func(in *ActivityInput) { in.Batch = "   " }, ErrMissingData},
		{"zero final quantity", func(in *ActivityInput) { in.FinalQuantity = 0 }, ErrMissingData},
		{"missing date", func(in *ActivityInput) { in.Reexpiry = time.Time{} }, ErrMissingData},
		{"missing data wins over bad dates", func(in *ActivityInput) { in.FinalQuantity = 0; in.Reexpiry = day("2026-06-01") }, ErrMissingData},
		{"re-expiry after original", func(in *ActivityInput) { in.Reexpiry = day("2026-01-01") }, ErrReexpiryAfterOriginal},
		{"unknown medication", func(in *ActivityInput) { in.SAPCode = 9999 }, catalog.ErrNotFound},
		{"unknown method", func(in *ActivityInput) { in.MethodID = 9 }, catalog.ErrUnknownMethod},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mod(&in)
			if _, err := svc.RecordActivity(ctx, in, &techID); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRecordActivity_EqualDatesAccepted(t *testing.T) {
	svc := newTestService()
	in := validInput()
	in.Reexpiry = in.OriginalExpiry
	if _, err := svc.RecordActivity(context.Background(), in, &techID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecordActivity_CompletesTask(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	task, _ := env.svc.AssignTask(ctx, 1001, 100, PriorityNormal, &pharmacistID)

	in := validInput()
	in.TaskID = &task.ID
	if _, err := env.svc.RecordActivity(ctx, in, &techID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := env.tasks.GetByID(ctx, task.ID)
	if stored.Status != TaskCompleted {
		t.Errorf("expected task completed, got %q", stored.Status)
	}
	queue, _ := env.svc.ListPendingTasks(ctx)
	if len(queue) != 0 {
		t.Errorf("expected empty queue, got %d", len(queue))
	}
	types := env.events.types()
	if !contains(types, "task.completed") || !contains(types, "activity.recorded") {
		t.Errorf("expected completion events, got %v", types)
	}

	// Recording against a completed task is a conflict.
	if _, err := env.svc.RecordActivity(ctx, in, &techID); !errors.Is(err, ErrTaskNotPending) {
		t.Errorf("expected ErrTaskNotPending, got %v", err)
	}
}

func TestRecordActivity_FailedInsertLeavesTaskPending(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	task, _ := env.svc.AssignTask(ctx, 1001, 100, PriorityNormal, nil)
	env.activities.failCreate = errors.New("insert failed")

	in := validInput()
	in.TaskID = &task.ID
	if _, err := env.svc.RecordActivity(ctx, in, &techID); err == nil {
		t.Fatal("expected error")
	}
	stored, _ := env.tasks.GetByID(ctx, task.ID)
	if stored.Status != TaskPending {
		t.Errorf("expected task to stay pending, got %q", stored.Status)
	}
}

func TestRecordActivity_UnknownTask(t *testing.T) {
	svc := newTestService()
	in := validInput()
	in.TaskID = ptr(int64(404))
	if _, err := svc.RecordActivity(context.Background(), in, &techID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestValidateActivity(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	a, _ := env.svc.RecordActivity(ctx, validInput(), &techID)

	got, err := env.svc.ValidateActivity(ctx, a.ID, ValidationEdits{
		FinalQuantity: ptr(95),
		Notes:         ptr("CN 712345"),
	}, pharmacistID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != ActivityValidated {
		t.Errorf("expected validado, got %q", got.Status)
	}
	if got.Batch != "L-123" {
		t.Errorf("expected upper-cased batch, got %q", got.Batch)
	}
	if got.FinalQuantity != 95 || got.Notes == nil || *got.Notes != "CN 712345" {
		t.Errorf("edits not applied: %+v", got)
	}
	if got.ValidatedBy == nil || *got.ValidatedBy != pharmacistID {
		t.Error("expected validator id")
	}
	if got.ValidatedAt == nil || !got.ValidatedAt.Equal(testToday) {
		t.Errorf("expected validation timestamp, got %v", got.ValidatedAt)
	}

	if _, err := env.svc.ValidateActivity(ctx, a.ID, ValidationEdits{}, pharmacistID); !errors.Is(err, ErrAlreadyValidated) {
		t.Errorf("expected ErrAlreadyValidated, got %v", err)
	}
}

func TestValidateActivity_GuardReapplied(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	a, _ := env.svc.RecordActivity(ctx, validInput(), &techID)

	_, err := env.svc.ValidateActivity(ctx, a.ID, ValidationEdits{OriginalExpiry: ptr(day("2025-02-01"))}, pharmacistID)
	if !errors.Is(err, ErrReexpiryAfterOriginal) {
		t.Fatalf("expected ErrReexpiryAfterOriginal, got %v", err)
	}
	stored, _ := env.activities.GetByID(ctx, a.ID)
	if stored.Status != ActivityPending || !stored.OriginalExpiry.Equal(day("2025-12-31")) {
		t.Error("rejected validation must not change the stored activity")
	}

	if _, err := env.svc.ValidateActivity(ctx, a.ID, ValidationEdits{FinalQuantity: ptr(0)}, pharmacistID); !errors.Is(err, ErrMissingData) {
		t.Errorf("expected ErrMissingData, got %v", err)
	}
	if _, err := env.svc.ValidateActivity(ctx, 404, ValidationEdits{}, pharmacistID); !errors.Is(err, ErrActivityNotFound) {
		t.Errorf("expected ErrActivityNotFound, got %v", err)
	}
}

// -- History --

func seedHistory(t *testing.T, env *testEnv) (first, second, third *Activity) {
	t.Helper()
	ctx := context.Background()
	var err error
	first, err = env.svc.RecordActivity(ctx, validInput(), &techID)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	in := validInput()
	in.SAPCode = 2002
	in.MethodID = reexpiry.MethodLooseUnit
	in.Reexpiry = in.OriginalExpiry
	in.Notes = "Marca Cinfa"
	second, err = env.svc.RecordActivity(ctx, in, nil)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	third, err = env.svc.RecordActivity(ctx, validInput(), &techID)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := env.svc.ValidateActivity(ctx, third.ID, ValidationEdits{}, pharmacistID); err != nil {
		t.Fatalf("validate: %v", err)
	}
	// A record whose medication left the catalog.
	env.activities.store[99] = &Activity{ID: 99, SAPCode: 7777, MethodID: 9, Status: ActivityPending,
		RecordedAt: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), UserID: ptr(uuid.New())}
	return first, second, third
}

func TestHistory_Enrichment(t *testing.T) {
	env := newTestEnv()
	_, second, third := seedHistory(t, env)

	records, err := env.svc.History(context.Background(), HistoryFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	if records[0].ID != third.ID {
		t.Errorf("expected newest first, got %d", records[0].ID)
	}
	if records[0].ValidatorName == nil || *records[0].ValidatorName != "Pilar" {
		t.Error("expected validator name")
	}
	if records[0].TechnicianName != "Teo" || records[0].MethodName != "Blister" {
		t.Errorf("unexpected enrichment %+v", records[0])
	}
	if records[1].ID != second.ID || records[1].TechnicianName != UnknownTechnician {
		t.Errorf("expected unknown technician fallback, got %+v", records[1])
	}
	last := records[3]
	if last.MedicationName != "SAP: 7777" || last.MethodName != catalog.StandardMethodName || last.ValidatorName != nil {
		t.Errorf("unexpected fallbacks %+v", last)
	}
}

func TestHistory_Filters(t *testing.T) {
	env := newTestEnv()
	first, second, third := seedHistory(t, env)
	ctx := context.Background()

	count := func(f HistoryFilter) int {
		t.Helper()
		records, err := env.svc.History(ctx, f)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return len(records)
	}

	if n := count(HistoryFilter{Status: ActivityValidated}); n != 1 {
		t.Errorf("validado: expected 1, got %d", n)
	}
	if n := count(HistoryFilter{Status: ActivityPending}); n != 3 {
		t.Errorf("pendiente: expected 3, got %d", n)
	}
	if n := count(HistoryFilter{MethodID: reexpiry.MethodLooseUnit}); n != 1 {
		t.Errorf("method: expected 1, got %d", n)
	}
	if n := count(HistoryFilter{Text: "OMEPRAZOL"}); n != 1 {
		t.Errorf("name text: expected 1, got %d", n)
	}
	if n := count(HistoryFilter{Text: "cinfa"}); n != 1 {
		t.Errorf("notes text: expected 1, got %d", n)
	}
	if n := count(HistoryFilter{Text: "777"}); n != 1 {
		t.Errorf("sap text: expected 1, got %d", n)
	}

	from := second.RecordedAt
	to := third.RecordedAt
	if n := count(HistoryFilter{From: &from, To: &to}); n != 2 {
		t.Errorf("date range: expected 2, got %d", n)
	}
	to = first.RecordedAt
	if n := count(HistoryFilter{To: &to}); n != 2 {
		t.Errorf("to inclusive: expected 2, got %d", n)
	}
}

func TestReportRecords(t *testing.T) {
	env := newTestEnv()
	_, _, third := seedHistory(t, env)

	records, err := env.svc.ReportRecords(context.Background(), reporting.Query{Status: "validado"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.ID != third.ID || r.ValidatorName != "Pilar" || r.MedicationName != "Paracetamol 1g" || r.Batch != "L-123" {
		t.Errorf("unexpected record %+v", r)
	}

	if _, err := env.svc.ReportRecords(context.Background(), reporting.Query{Status: "borrado"}); err == nil {
		t.Error("expected error for unknown status")
	}
}
