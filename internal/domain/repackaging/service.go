package repackaging

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reenvasado/reenvasado/internal/domain/catalog"
	"github.com/reenvasado/reenvasado/internal/domain/reexpiry"
	"github.com/reenvasado/reenvasado/internal/platform/db"
	"github.com/reenvasado/reenvasado/internal/platform/reporting"
	"github.com/reenvasado/reenvasado/internal/platform/telemetry"
	"github.com/reenvasado/reenvasado/internal/platform/websocket"
)

// MedicationLookup is the slice of the catalog the workflow reads.
type MedicationLookup interface {
	Get(ctx context.Context, sap int64) (*catalog.Medication, error)
	GetMany(ctx context.Context, saps []int64) (map[int64]*catalog.Medication, error)
	MethodNames(ctx context.Context) (map[reexpiry.MethodID]string, error)
}

// NameLookup resolves staff display names.
type NameLookup interface {
	Names(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

type Service struct {
	tasks      TaskRepository
	activities ActivityRepository
	meds       MedicationLookup
	people     NameLookup
	engine     *reexpiry.Engine
	tx         db.TxRunner
	events     websocket.EventPublisher
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(tasks TaskRepository, activities ActivityRepository, meds MedicationLookup, people NameLookup,
	engine *reexpiry.Engine, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		tasks:      tasks,
		activities: activities,
		meds:       meds,
		people:     people,
		engine:     engine,
		tx:         tx,
		logger:     logger.With().Str("component", "repackaging").Logger(),
		now:        time.Now,
	}
}

// SetPublisher attaches the realtime event publisher.
func (s *Service) SetPublisher(p websocket.EventPublisher) {
	s.events = p
}

// SetMetrics attaches the workflow counters.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

func (s *Service) publish(ctx context.Context, topic, typ, resource string, id int64, data any) {
	if s.events == nil {
		return
	}
	ev, err := websocket.NewEvent(topic, typ, resource, strconv.FormatInt(id, 10), data)
	if err == nil {
		err = s.events.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("event", typ).Int64("id", id).Msg("publish failed")
	}
}

// -- Tasks --

func (s *Service) AssignTask(ctx context.Context, sap int64, quantity int, priority Priority, createdBy *uuid.UUID) (*Task, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("requested quantity must be greater than zero")
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("invalid priority: %s", priority)
	}
	med, err := s.meds.Get(ctx, sap)
	if err != nil {
		return nil, err
	}
	if !med.Active {
		return nil, ErrMedicationInactive
	}
	t := &Task{
		SAPCode:           sap,
		RequestedQuantity: quantity,
		Priority:          priority,
		Status:            TaskPending,
		CreatedBy:         createdBy,
	}
	if err := s.tasks.Create(ctx, t); err != nil {
		return nil, err
	}
	t.Medication = med
	s.logger.Info().Int64("task_id", t.ID).Int64("sap", sap).Str("priority", string(priority)).Msg("task assigned")
	s.metrics.TaskEvent("assigned")
	s.publish(ctx, websocket.TopicTasks, "task.assigned", "task", t.ID, t)
	return t, nil
}

// ListPendingTasks returns the work queue: pending tasks of active
// medications, most urgent first and oldest first within a priority.
func (s *Service) ListPendingTasks(ctx context.Context) ([]*Task, error) {
	tasks, err := s.tasks.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	saps := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		saps = append(saps, t.SAPCode)
	}
	meds, err := s.meds.GetMany(ctx, saps)
	if err != nil {
		return nil, err
	}
	queue := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		med, ok := meds[t.SAPCode]
		if !ok || !med.Active {
			continue
		}
		t.Medication = med
		queue = append(queue, t)
	}
	SortTasks(queue)
	return queue, nil
}

func (s *Service) DeleteTask(ctx context.Context, id int64) error {
	if err := s.tasks.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Int64("task_id", id).Msg("task deleted")
	s.metrics.TaskEvent("deleted")
	s.publish(ctx, websocket.TopicTasks, "task.deleted", "task", id, nil)
	return nil
}

// -- Re-expiry --

// SuggestExpiry proposes the re-expiry date for a unit repackaged today.
func (s *Service) SuggestExpiry(originalExpiry time.Time, method reexpiry.MethodID) reexpiry.Suggestion {
	sug := s.engine.Suggest(originalExpiry, method)
	s.metrics.ObserveSuggestion(sug.Class.String(), sug.OK)
	return sug
}

func (s *Service) rejectReexpiry(stage string, original, re time.Time) error {
	s.metrics.ReexpiryRejected(stage)
	s.logger.Warn().
		Str("stage", stage).
		Str("original", original.Format(reexpiry.DateLayout)).
		Str("reexpiry", re.Format(reexpiry.DateLayout)).
		Msg("re-expiry after original rejected")
	return ErrReexpiryAfterOriginal
}

func optionalText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// -- Activities --

// RecordActivity stores a repackaging record. When the record fulfils a task
// the task is completed in the same transaction.
func (s *Service) RecordActivity(ctx context.Context, in ActivityInput, userID *uuid.UUID) (*Activity, error) {
	if in.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	batch := strings.TrimSpace(in.Batch)
	if in.MethodID == 0 || batch == "" || in.FinalQuantity <= 0 {
		return nil, ErrMissingData
	}
	if in.OriginalExpiry.IsZero() || in.Reexpiry.IsZero() {
		return nil, ErrMissingData
	}
	if !reexpiry.IsReexpiryValid(in.OriginalExpiry, in.Reexpiry) {
		return nil, s.rejectReexpiry("record", in.OriginalExpiry, in.Reexpiry)
	}
	if _, err := s.meds.Get(ctx, in.SAPCode); err != nil {
		return nil, err
	}
	methods, err := s.meds.MethodNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("load methods: %w", err)
	}
	if _, ok := methods[in.MethodID]; !ok {
		return nil, catalog.ErrUnknownMethod
	}

	a := &Activity{
		TaskID:         in.TaskID,
		SAPCode:        in.SAPCode,
		MethodID:       in.MethodID,
		Quantity:       in.Quantity,
		FinalQuantity:  in.FinalQuantity,
		Batch:          batch,
		OriginalExpiry: reexpiry.CalendarDay(in.OriginalExpiry),
		Reexpiry:       reexpiry.CalendarDay(in.Reexpiry),
		Notes:          optionalText(in.Notes),
		UserID:         userID,
		Status:         ActivityPending,
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if a.TaskID != nil {
			t, err := s.tasks.GetByID(ctx, *a.TaskID)
			if err != nil {
				return err
			}
			if t.Status != TaskPending {
				return ErrTaskNotPending
			}
		}
		if err := s.activities.Create(ctx, a); err != nil {
			return err
		}
		if a.TaskID != nil {
			return s.tasks.Complete(ctx, *a.TaskID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := s.logger.Info().Int64("activity_id", a.ID).Int64("sap", a.SAPCode).Int("final_quantity", a.FinalQuantity)
	s.metrics.ActivityRecorded(a.FinalQuantity)
	if a.TaskID != nil {
		log = log.Int64("task_id", *a.TaskID)
		s.metrics.TaskEvent("completed")
		s.publish(ctx, websocket.TopicTasks, "task.completed", "task", *a.TaskID, a)
	}
	log.Msg("activity recorded")
	s.publish(ctx, websocket.TopicActivities, "activity.recorded", "activity", a.ID, a)
	return a, nil
}

// ValidateActivity applies a pharmacist's corrections and marks the activity
// validated. Validated activities are final.
func (s *Service) ValidateActivity(ctx context.Context, id int64, edits ValidationEdits, validatorID uuid.UUID) (*Activity, error) {
	a, err := s.activities.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != ActivityPending {
		return nil, ErrAlreadyValidated
	}

	if edits.FinalQuantity != nil {
		a.FinalQuantity = *edits.FinalQuantity
	}
	if edits.Batch != nil {
		a.Batch = *edits.Batch
	}
	if edits.OriginalExpiry != nil {
		a.OriginalExpiry = reexpiry.CalendarDay(*edits.OriginalExpiry)
	}
	if edits.Reexpiry != nil {
		a.Reexpiry = reexpiry.CalendarDay(*edits.Reexpiry)
	}
	if edits.Notes != nil {
		a.Notes = optionalText(*edits.Notes)
	}
	a.Batch = strings.ToUpper(strings.TrimSpace(a.Batch))

	if a.FinalQuantity <= 0 || a.Batch == "" {
		return nil, ErrMissingData
	}
	if !reexpiry.IsReexpiryValid(a.OriginalExpiry, a.Reexpiry) {
		return nil, s.rejectReexpiry("validate", a.OriginalExpiry, a.Reexpiry)
	}

	now := s.now().UTC()
	a.Status = ActivityValidated
	a.ValidatedBy = &validatorID
	a.ValidatedAt = &now
	if err := s.activities.Validate(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info().Int64("activity_id", a.ID).Str("validator", validatorID.String()).Msg("activity validated")
	s.metrics.ActivityValidated()
	s.publish(ctx, websocket.TopicActivities, "activity.validated", "activity", a.ID, a)
	return a, nil
}

// History returns enriched activities, newest first.
func (s *Service) History(ctx context.Context, f HistoryFilter) ([]*HistoryRecord, error) {
	acts, err := s.activities.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(acts) == 0 {
		return []*HistoryRecord{}, nil
	}

	sapSet := make(map[int64]bool)
	userSet := make(map[uuid.UUID]bool)
	for _, a := range acts {
		sapSet[a.SAPCode] = true
		if a.UserID != nil {
			userSet[*a.UserID] = true
		}
		if a.ValidatedBy != nil {
			userSet[*a.ValidatedBy] = true
		}
	}
	saps := make([]int64, 0, len(sapSet))
	for sap := range sapSet {
		saps = append(saps, sap)
	}
	users := make([]uuid.UUID, 0, len(userSet))
	for id := range userSet {
		users = append(users, id)
	}

	meds, err := s.meds.GetMany(ctx, saps)
	if err != nil {
		return nil, fmt.Errorf("load medications: %w", err)
	}
	names, err := s.people.Names(ctx, users)
	if err != nil {
		return nil, fmt.Errorf("load names: %w", err)
	}
	methods, err := s.meds.MethodNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("load methods: %w", err)
	}

	out := make([]*HistoryRecord, 0, len(acts))
	for _, a := range acts {
		r := &HistoryRecord{
			Activity:       *a,
			MedicationName: fmt.Sprintf("SAP: %d", a.SAPCode),
			TechnicianName: UnknownTechnician,
			MethodName:     catalog.StandardMethodName,
		}
		if med, ok := meds[a.SAPCode]; ok {
			r.MedicationName = med.Name
		}
		if a.UserID != nil {
			if n, ok := names[*a.UserID]; ok {
				r.TechnicianName = n
			}
		}
		if a.ValidatedBy != nil {
			if n, ok := names[*a.ValidatedBy]; ok {
				r.ValidatorName = &n
			}
		}
		if n, ok := methods[a.MethodID]; ok {
			r.MethodName = n
		}
		if !r.Matches(f.Text) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ReportRecords adapts History to the reporting package.
func (s *Service) ReportRecords(ctx context.Context, q reporting.Query) ([]reporting.Record, error) {
	f := HistoryFilter{
		Status:   ActivityStatus(q.Status),
		MethodID: reexpiry.MethodID(q.MethodID),
		Text:     q.Text,
		From:     q.From,
		To:       q.To,
	}
	if f.Status != "" && f.Status != ActivityPending && f.Status != ActivityValidated {
		return nil, fmt.Errorf("invalid status: %s", q.Status)
	}
	history, err := s.History(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]reporting.Record, 0, len(history))
	for _, h := range history {
		r := reporting.Record{
			ID:             h.ID,
			RecordedAt:     h.RecordedAt,
			SAPCode:        h.SAPCode,
			MedicationName: h.MedicationName,
			MethodName:     h.MethodName,
			TechnicianName: h.TechnicianName,
			Batch:          h.Batch,
			OriginalExpiry: h.OriginalExpiry,
			Reexpiry:       h.Reexpiry,
			Quantity:       h.Quantity,
			FinalQuantity:  h.FinalQuantity,
			Status:         string(h.Status),
		}
		if h.Notes != nil {
			r.Notes = *h.Notes
		}
		if h.ValidatorName != nil {
			r.ValidatorName = *h.ValidatorName
		}
		out = append(out, r)
	}
	return out, nil
}

