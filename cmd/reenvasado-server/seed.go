package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/reenvasado/reenvasado/internal/domain/catalog"
	"github.com/reenvasado/reenvasado/internal/domain/reexpiry"
	"github.com/reenvasado/reenvasado/internal/domain/repackaging"
	"github.com/reenvasado/reenvasado/internal/domain/staff"
	"github.com/reenvasado/reenvasado/internal/platform/db"
	"github.com/reenvasado/reenvasado/internal/platform/sandbox"
)

type medicationCreator interface {
	Create(ctx context.Context, m *catalog.Medication, method reexpiry.MethodID) (*catalog.Medication, error)
}

type taskAssigner interface {
	AssignTask(ctx context.Context, sap int64, quantity int, priority repackaging.Priority, createdBy *uuid.UUID) (*repackaging.Task, error)
}

// serviceSink writes demo data through the domain services so it passes the
// same validation as API traffic.
type serviceSink struct {
	catalog medicationCreator
	tasks   taskAssigner
	skipped int
}

func (s *serviceSink) AddMedication(ctx context.Context, m sandbox.Medication) error {
	med := &catalog.Medication{
		SAPCode:          m.SAPCode,
		Name:             m.Name,
		ActiveIngredient: optional(m.ActiveIngredient),
		Location:         optional(m.Location),
		GroupCode:        optional(m.GroupCode),
	}
	_, err := s.catalog.Create(ctx, med, reexpiry.MethodID(m.MethodID))
	if errors.Is(err, catalog.ErrDuplicateSAP) {
		s.skipped++
		return nil
	}
	return err
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *serviceSink) AddTask(ctx context.Context, t sandbox.Task) error {
	priority, err := repackaging.ParsePriority(t.Priority)
	if err != nil {
		return err
	}
	_, err = s.tasks.AssignTask(ctx, t.SAPCode, t.Quantity, priority, nil)
	return err
}

func seedCmd() *cobra.Command {
	defaults := sandbox.DefaultSeedConfig()
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo medications and pending tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sc sandbox.SeedConfig
			sc.Medications, _ = cmd.Flags().GetInt("medications")
			sc.Tasks, _ = cmd.Flags().GetInt("tasks")
			sc.FirstSAP, _ = cmd.Flags().GetInt64("first-sap")
			sc.Seed, _ = cmd.Flags().GetInt64("seed")

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if !cfg.IsDev() {
				return fmt.Errorf("seed only runs with ENV=development")
			}

			logger := newLogger(true)
			txRunner := db.PoolTxRunner{Pool: pool}
			staffSvc := staff.NewService(staff.NewProfileRepoPG(pool), cfg.LoginEmailDomain, logger)
			catalogSvc := catalog.NewService(catalog.NewMedicationRepoPG(pool), catalog.NewMethodRepoPG(pool), txRunner, logger)
			policy, err := cfg.ReexpiryPolicy()
			if err != nil {
				return err
			}
			repackSvc := repackaging.NewService(
				repackaging.NewTaskRepoPG(pool),
				repackaging.NewActivityRepoPG(pool),
				catalogSvc,
				staffSvc,
				reexpiry.NewEngine(policy),
				txRunner,
				logger,
			)

			sink := &serviceSink{catalog: catalogSvc, tasks: repackSvc}
			res, err := sandbox.NewSeeder(sc).Seed(ctx, sink)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d medication(s) (%d already present) and %d task(s) in %s.\n",
				res.Medications-sink.skipped, sink.skipped, res.Tasks, res.Duration)
			return nil
		},
	}
	cmd.Flags().Int("medications", defaults.Medications, "Number of medications to generate")
	cmd.Flags().Int("tasks", defaults.Tasks, "Number of pending tasks to generate")
	cmd.Flags().Int64("first-sap", defaults.FirstSAP, "SAP code of the first generated medication")
	cmd.Flags().Int64("seed", 0, "Random seed (0 picks one from the clock)")
	return cmd
}
