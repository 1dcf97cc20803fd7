package runs

import (
	"context"
	"time"
)

// stuckRunMessage is recorded on runs failed by the startup janitor.
const stuckRunMessage = "generation interrupted by restart"

// Repo defines persistence operations for documentation runs.
type Repo interface {
	Create(ctx context.Context, run Run) error
	GetByID(ctx context.Context, runID string) (Run, error)
	List(ctx context.Context, limit, offset int) ([]Run, error)
	UpdateStatusAndError(ctx context.Context, runID, status string, errorCode, errorMessage *string, errorRetryable *bool, startedAt, completedAt *time.Time) error
	// UpdateProgress records a progress snapshot. The percent never
	// regresses; a stale update keeps its message but not a lower number.
	UpdateProgress(ctx context.Context, runID string, progress int, message string) error
	UpdateSections(ctx context.Context, runID string, sections []SectionState) error
	UpdateResult(ctx context.Context, runID, documentKey string, sections []SectionState, promptHash string, completedAt *time.Time) error
	Delete(ctx context.Context, runID string) error
	ResetForRetry(ctx context.Context, runID string) error
	MarkStuckFailed(ctx context.Context, cutoff time.Time) (int, error)
}
