// Package sandbox generates reproducible demo data for development and
// training environments: a medication catalog and a queue of pending
// repackaging tasks.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// SeedConfig controls the volume and shape of generated demo data.
type SeedConfig struct {
	Medications int   `json:"medications"`
	Tasks       int   `json:"tasks"`
	FirstSAP    int64 `json:"first_sap"`
	Seed        int64 `json:"seed"`
}

// DefaultSeedConfig returns a small catalog with a short work queue.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		Medications: 40,
		Tasks:       12,
		FirstSAP:    1000001,
	}
}

// Medication is a generated catalog entry. MethodID is the catalog
// repackaging method it is linked to.
type Medication struct {
	SAPCode          int64
	Name             string
	ActiveIngredient string
	Location         string
	GroupCode        string
	MethodID         int
}

// Task is a generated repackaging request. Priority uses the task store
// values: empty, "urgente" or "muy urgente".
type Task struct {
	SAPCode  int64
	Quantity int
	Priority string
}

// Sink receives generated data. Implementations skip entries that already
// exist so a seed can be re-run.
type Sink interface {
	AddMedication(ctx context.Context, m Medication) error
	AddTask(ctx context.Context, t Task) error
}

// SeedResult summarizes a seed run.
type SeedResult struct {
	Medications int           `json:"medications"`
	Tasks       int           `json:"tasks"`
	Duration    time.Duration `json:"duration"`
}

type ingredient struct {
	name      string
	brand     string
	strengths []string
	group     string
}

var (
	ingredients = []ingredient{
		{"paracetamol", "Paracetamol", []string{"500 mg", "650 mg", "1 g"}, "N02BE"},
		{"ibuprofeno", "Ibuprofeno", []string{"400 mg", "600 mg"}, "M01AE"},
		{"omeprazol", "Omeprazol", []string{"20 mg", "40 mg"}, "A02BC"},
		{"enalapril", "Enalapril", []string{"5 mg", "10 mg", "20 mg"}, "C09AA"},
		{"metformina", "Metformina", []string{"850 mg", "1000 mg"}, "A10BA"},
		{"atorvastatina", "Atorvastatina", []string{"10 mg", "20 mg", "40 mg"}, "C10AA"},
		{"furosemida", "Furosemida", []string{"40 mg"}, "C03CA"},
		{"levotiroxina", "Eutirox", []string{"50 mcg", "100 mcg"}, "H03AA"},
		{"lorazepam", "Lorazepam", []string{"1 mg"}, "N05BA"},
		{"amlodipino", "Amlodipino", []string{"5 mg", "10 mg"}, "C08CA"},
		{"bisoprolol", "Bisoprolol", []string{"2,5 mg", "5 mg"}, "C07AB"},
		{"acido acetilsalicilico", "Adiro", []string{"100 mg"}, "B01AC"},
	}
	forms     = []string{"comprimidos", "comprimidos recubiertos", "capsulas duras"}
	aisles    = []string{"A", "B", "C", "D"}
	methodIDs = []int{1, 2, 3, 4}
	// Weighted toward normal priority, as in a typical shift.
	priorities = []string{"", "", "", "urgente", "muy urgente"}
)

// Generator produces deterministic demo data.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a generator seeded for reproducibility. If seed is 0
// a time-based seed is chosen.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Medication generates the catalog entry for sap.
func (g *Generator) Medication(sap int64) Medication {
	ing := ingredients[g.rng.Intn(len(ingredients))]
	strength := ing.strengths[g.rng.Intn(len(ing.strengths))]
	form := forms[g.rng.Intn(len(forms))]
	return Medication{
		SAPCode:          sap,
		Name:             fmt.Sprintf("%s %s %s", ing.brand, strength, form),
		ActiveIngredient: ing.name,
		Location:         fmt.Sprintf("%s-%02d-%d", aisles[g.rng.Intn(len(aisles))], 1+g.rng.Intn(20), 1+g.rng.Intn(5)),
		GroupCode:        ing.group,
		MethodID:         methodIDs[g.rng.Intn(len(methodIDs))],
	}
}

// Task generates a request against one of saps.
func (g *Generator) Task(saps []int64) Task {
	return Task{
		SAPCode:  saps[g.rng.Intn(len(saps))],
		Quantity: 10 * (1 + g.rng.Intn(20)),
		Priority: priorities[g.rng.Intn(len(priorities))],
	}
}

// Seeder orchestrates a full seed run into a Sink.
type Seeder struct {
	generator *Generator
	config    SeedConfig
}

func NewSeeder(config SeedConfig) *Seeder {
	if config.FirstSAP <= 0 {
		config.FirstSAP = DefaultSeedConfig().FirstSAP
	}
	return &Seeder{generator: NewGenerator(config.Seed), config: config}
}

// Seed writes the configured medications and then the tasks. Tasks need at
// least one medication.
func (s *Seeder) Seed(ctx context.Context, sink Sink) (*SeedResult, error) {
	start := time.Now()
	result := &SeedResult{}

	saps := make([]int64, 0, s.config.Medications)
	for i := 0; i < s.config.Medications; i++ {
		m := s.generator.Medication(s.config.FirstSAP + int64(i))
		if err := sink.AddMedication(ctx, m); err != nil {
			return result, fmt.Errorf("seed medication %d: %w", m.SAPCode, err)
		}
		saps = append(saps, m.SAPCode)
		result.Medications++
	}

	if s.config.Tasks > 0 && len(saps) == 0 {
		return result, fmt.Errorf("tasks require at least one medication")
	}
	for i := 0; i < s.config.Tasks; i++ {
		t := s.generator.Task(saps)
		if err := sink.AddTask(ctx, t); err != nil {
			return result, fmt.Errorf("seed task for %d: %w", t.SAPCode, err)
		}
		result.Tasks++
	}

	result.Duration = time.Since(start)
	return result, nil
}
