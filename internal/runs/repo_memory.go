package runs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores runs in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Run
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Run)}
}

// Create stores the run.
func (r *MemoryRepo) Create(ctx context.Context, run Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.CreatedAt
	}
	r.byID[run.ID] = run
	return nil
}

// GetByID returns a run by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, runID string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.byID[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return run, nil
}

// List returns runs newest-first with limit/offset.
func (r *MemoryRepo) List(ctx context.Context, limit, offset int) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}

	r.mu.RLock()
	all := make([]Run, 0, len(r.byID))
	for _, run := range r.byID {
		all = append(all, run)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []Run{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

// UpdateStatusAndError updates status/error fields and timestamps.
func (r *MemoryRepo) UpdateStatusAndError(ctx context.Context, runID, status string, errorCode, errorMessage *string, errorRetryable *bool, startedAt, completedAt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok {
		return ErrNotFound
	}
	run.Status = status
	if errorCode != nil {
		run.ErrorCode = *errorCode
	}
	if errorMessage != nil {
		run.ErrorMessage = errorMessage
	}
	if errorRetryable != nil {
		run.ErrorRetryable = *errorRetryable
	}
	if startedAt != nil {
		run.StartedAt = startedAt
	} else if status == StatusProcessing && run.StartedAt == nil {
		now := time.Now().UTC()
		run.StartedAt = &now
	}
	if completedAt != nil {
		run.CompletedAt = completedAt
	} else if (status == StatusCompleted || status == StatusFailed) && run.CompletedAt == nil {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}
	run.UpdatedAt = time.Now().UTC()
	r.byID[runID] = run
	return nil
}

// UpdateProgress records a progress snapshot without letting the percent
// move backwards.
func (r *MemoryRepo) UpdateProgress(ctx context.Context, runID string, progress int, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok {
		return ErrNotFound
	}
	if progress > run.Progress {
		run.Progress = progress
	}
	run.Message = message
	run.UpdatedAt = time.Now().UTC()
	r.byID[runID] = run
	return nil
}

// UpdateSections replaces the persisted section states.
func (r *MemoryRepo) UpdateSections(ctx context.Context, runID string, sections []SectionState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok {
		return ErrNotFound
	}
	run.Sections = sections
	run.UpdatedAt = time.Now().UTC()
	r.byID[runID] = run
	return nil
}

// UpdateResult marks the run completed with its compiled document.
func (r *MemoryRepo) UpdateResult(ctx context.Context, runID, documentKey string, sections []SectionState, promptHash string, completedAt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok {
		return ErrNotFound
	}
	run.Status = StatusCompleted
	run.DocumentKey = documentKey
	run.Sections = sections
	if promptHash != "" {
		run.PromptHash = promptHash
	}
	run.Progress = 100
	if completedAt != nil {
		run.CompletedAt = completedAt
	} else if run.CompletedAt == nil {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}
	run.UpdatedAt = time.Now().UTC()
	r.byID[runID] = run
	return nil
}

// Delete removes the run.
func (r *MemoryRepo) Delete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[runID]; !ok {
		return ErrNotFound
	}
	delete(r.byID, runID)
	return nil
}

// ResetForRetry re-queues a run and clears its previous outcome.
func (r *MemoryRepo) ResetForRetry(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok {
		return ErrNotFound
	}
	run.Status = StatusQueued
	run.Progress = 0
	run.Message = ""
	run.Sections = nil
	run.ErrorCode = ""
	run.ErrorMessage = nil
	run.ErrorRetryable = false
	run.StartedAt = nil
	run.CompletedAt = nil
	run.UpdatedAt = time.Now().UTC()
	r.byID[runID] = run
	return nil
}

// MarkStuckFailed fails queued or processing runs untouched since cutoff.
func (r *MemoryRepo) MarkStuckFailed(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id, run := range r.byID {
		if run.Status != StatusQueued && run.Status != StatusProcessing {
			continue
		}
		if !run.UpdatedAt.Before(cutoff) {
			continue
		}
		msg := stuckRunMessage
		now := time.Now().UTC()
		run.Status = StatusFailed
		run.ErrorCode = ErrorCodeInternal
		run.ErrorMessage = &msg
		run.ErrorRetryable = true
		run.CompletedAt = &now
		run.UpdatedAt = now
		r.byID[id] = run
		count++
	}
	return count, nil
}

var _ Repo = (*MemoryRepo)(nil)
