package repackaging

import (
	"context"
)

type TaskRepository interface {
	Create(ctx context.Context, t *Task) error
	GetByID(ctx context.Context, id int64) (*Task, error)
	// ListPending returns pending tasks, oldest first.
	ListPending(ctx context.Context) ([]*Task, error)
	Delete(ctx context.Context, id int64) error
	// Complete moves a pending task to completada. It returns
	// ErrTaskNotPending when the task is no longer pending.
	Complete(ctx context.Context, id int64) error
}

type ActivityRepository interface {
	Create(ctx context.Context, a *Activity) error
	GetByID(ctx context.Context, id int64) (*Activity, error)
	// Validate persists a validated activity. It returns ErrAlreadyValidated
	// when the stored activity is no longer pending.
	Validate(ctx context.Context, a *Activity) error
	// List applies the status, method and date filters, newest first. The
	// text filter is not applied.
	List(ctx context.Context, f HistoryFilter) ([]*Activity, error)
}
