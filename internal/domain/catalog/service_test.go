package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/reenvasado/reenvasado/internal/domain/reexpiry"
)

func seed(t *testing.T, svc *Service, sap int64, name string, method reexpiry.MethodID) *Medication {
	t.Helper()
	m, err := svc.Create(context.Background(), &Medication{SAPCode: sap, Name: name}, method)
	if err != nil {
		t.Fatalf("create %d: %v", sap, err)
	}
	return m
}

func TestMedication_DefaultMethod(t *testing.T) {
	m := &Medication{Methods: []MethodRef{{MethodID: 3, Name: "3 meses"}, {MethodID: 2, Name: "Blister"}}}
	ref, ok := m.DefaultMethod()
	if !ok || ref.MethodID != 2 {
		t.Errorf("expected method 2, got %v (ok=%v)", ref.MethodID, ok)
	}
	if m.DisplayMethod() != "Blister" {
		t.Errorf("expected Blister, got %q", m.DisplayMethod())
	}

	empty := &Medication{}
	if _, ok := empty.DefaultMethod(); ok {
		t.Error("expected no default method")
	}
	if empty.DisplayMethod() != StandardMethodName {
		t.Errorf("expected %q, got %q", StandardMethodName, empty.DisplayMethod())
	}
}

func TestCreate_Success(t *testing.T) {
	svc, _ := newTestService()
	m, err := svc.Create(context.Background(), &Medication{
		SAPCode:          1001,
		Name:             "  Paracetamol 1g  ",
		ActiveIngredient: strPtr("paracetamol"),
		Location:         strPtr("   "),
	}, reexpiry.MethodBlister)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Name != "Paracetamol 1g" {
		t.Errorf("expected trimmed name, got %q", m.Name)
	}
	if !m.Active {
		t.Error("expected new medication to be active")
	}
	if m.Location != nil {
		t.Error("expected blank location to be cleared")
	}
	if len(m.Methods) != 1 || m.Methods[0].MethodID != reexpiry.MethodBlister {
		t.Errorf("expected blister link, got %v", m.Methods)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	cases := []struct {
		name   string
		med    Medication
		method reexpiry.MethodID
	}{
		{"missing sap", Medication{Name: "X"}, 1},
		{"missing name", Medication{SAPCode: 1, Name: " "}, 1},
		{"missing method", Medication{SAPCode: 1, Name: "X"}, 0},
		{"unknown method", Medication{SAPCode: 1, Name: "X"}, 9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			med := tc.med
			if _, err := svc.Create(ctx, &med, tc.method); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCreate_DuplicateSAP(t *testing.T) {
	svc, _ := newTestService()
	seed(t, svc, 1001, "Paracetamol", 1)
	_, err := svc.Create(context.Background(), &Medication{SAPCode: 1001, Name: "Otro"}, 1)
	if !errors.Is(err, ErrDuplicateSAP) {
		t.Errorf("expected ErrDuplicateSAP, got %v", err)
	}
}

func TestUpdate_ReplacesMethod(t *testing.T) {
	svc, _ := newTestService()
	orig := seed(t, svc, 1001, "Paracetamol", reexpiry.MethodLooseUnit)
	orig.Name = "Paracetamol 650"
	got, err := svc.Update(context.Background(), orig, reexpiry.MethodThreeMonths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "Paracetamol 650" {
		t.Errorf("expected updated name, got %q", got.Name)
	}
	if len(got.Methods) != 1 || got.Methods[0].MethodID != reexpiry.MethodThreeMonths {
		t.Errorf("expected single link to method 3, got %v", got.Methods)
	}
}

func TestUpdate_Upserts(t *testing.T) {
	svc, _ := newTestService()
	got, err := svc.Update(context.Background(), &Medication{SAPCode: 2002, Name: "Ibuprofeno", Active: true}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SAPCode != 2002 || !got.Active {
		t.Errorf("unexpected medication %+v", got)
	}
}

func TestSearch(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	seed(t, svc, 1, "Paracetamol", 1)
	seed(t, svc, 2, "Omeprazol", 2)
	inactive := seed(t, svc, 3, "Paroxetina", 2)
	if err := svc.SetActive(ctx, inactive.SAPCode, false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if _, err := svc.Update(ctx, &Medication{SAPCode: 4, Name: "Gelocatil", ActiveIngredient: strPtr("Paracetamol"), Active: true}, 1); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := svc.Search(ctx, " P ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no results for short query, got %d", len(got))
	}

	got, err = svc.Search(ctx, "para")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 active matches, got %d", len(got))
	}
	for _, m := range got {
		if m.SAPCode == inactive.SAPCode {
			t.Error("inactive medication must not be searchable")
		}
	}
}

func TestSearch_Limit(t *testing.T) {
	svc, _ := newTestService()
	for i := int64(1); i <= SearchLimit+5; i++ {
		seed(t, svc, i, "Amoxicilina", 1)
	}
	got, err := svc.Search(context.Background(), "amox")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != SearchLimit {
		t.Errorf("expected %d results, got %d", SearchLimit, len(got))
	}
}

func TestList_IncludesInactive(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	seed(t, svc, 1001, "Paracetamol", 1)
	seed(t, svc, 2002, "Omeprazol", 2)
	_ = svc.SetActive(ctx, 2002, false)

	items, total, err := svc.List(ctx, ListFilter{}, 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("expected 2 medications, got %d", total)
	}

	items, _, _ = svc.List(ctx, ListFilter{Query: "200"}, 50, 0)
	if len(items) != 1 || items[0].SAPCode != 2002 {
		t.Errorf("expected SAP prefix match, got %v", items)
	}
}

func TestSetActive_NotFound(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.SetActive(context.Background(), 404, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMethodNames(t *testing.T) {
	svc, _ := newTestService()
	names, err := svc.MethodNames(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names[reexpiry.MethodBlister] != "Blister" || len(names) != 4 {
		t.Errorf("unexpected names %v", names)
	}
}
