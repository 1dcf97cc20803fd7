package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a new run.
func (r *PGRepo) Create(ctx context.Context, run Run) error {
	const query = `
INSERT INTO runs (
	id, title, status, source_key, document_key, sections, progress, message,
	provider, model, generator_version, prompt_hash, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`
	sectionsPayload, err := marshalSections(run.Sections)
	if err != nil {
		return err
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = r.DB.ExecContext(ctx, query,
		run.ID,
		run.Title,
		run.Status,
		run.SourceKey,
		nullString(run.DocumentKey),
		sectionsPayload,
		run.Progress,
		run.Message,
		run.Provider,
		run.Model,
		run.GeneratorVersion,
		nullString(run.PromptHash),
		createdAt,
	)
	return err
}

// GetByID returns a run by ID.
func (r *PGRepo) GetByID(ctx context.Context, runID string) (Run, error) {
	const query = `
SELECT id, title, status, source_key, document_key, sections, progress, message,
       provider, model, generator_version, prompt_hash,
       error_code, error_message, error_retryable, started_at, completed_at, created_at, updated_at
FROM runs
WHERE id = $1 AND deleted_at IS NULL
LIMIT 1`
	var run Run
	var documentKey sql.NullString
	var sections sql.NullString
	var provider sql.NullString
	var model sql.NullString
	var generatorVersion sql.NullString
	var promptHash sql.NullString
	var errorCode sql.NullString
	var errorMessage sql.NullString
	var errorRetryable sql.NullBool
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	err := r.DB.QueryRowContext(ctx, query, runID).Scan(
		&run.ID,
		&run.Title,
		&run.Status,
		&run.SourceKey,
		&documentKey,
		&sections,
		&run.Progress,
		&run.Message,
		&provider,
		&model,
		&generatorVersion,
		&promptHash,
		&errorCode,
		&errorMessage,
		&errorRetryable,
		&startedAt,
		&completedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	if documentKey.Valid {
		run.DocumentKey = documentKey.String
	}
	if sections.Valid {
		if err := json.Unmarshal([]byte(sections.String), &run.Sections); err != nil {
			run.Sections = nil
		}
	}
	if provider.Valid {
		run.Provider = provider.String
	}
	if model.Valid {
		run.Model = model.String
	}
	if generatorVersion.Valid {
		run.GeneratorVersion = generatorVersion.String
	}
	if promptHash.Valid {
		run.PromptHash = promptHash.String
	}
	if errorCode.Valid {
		run.ErrorCode = errorCode.String
	}
	if errorMessage.Valid {
		run.ErrorMessage = &errorMessage.String
	}
	if errorRetryable.Valid {
		run.ErrorRetryable = errorRetryable.Bool
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// List lists runs ordered newest-first.
func (r *PGRepo) List(ctx context.Context, limit, offset int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	const query = `
SELECT id, title, status, source_key, document_key, sections, progress, message,
       provider, model, generator_version, prompt_hash,
       error_code, error_message, error_retryable, started_at, completed_at, created_at, updated_at
FROM runs
WHERE deleted_at IS NULL
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`

	rows, err := r.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var run Run
		var documentKey sql.NullString
		var sections sql.NullString
		var provider sql.NullString
		var model sql.NullString
		var generatorVersion sql.NullString
		var promptHash sql.NullString
		var errorCode sql.NullString
		var errorMessage sql.NullString
		var errorRetryable sql.NullBool
		var startedAt sql.NullTime
		var completedAt sql.NullTime
		if err := rows.Scan(
			&run.ID,
			&run.Title,
			&run.Status,
			&run.SourceKey,
			&documentKey,
			&sections,
			&run.Progress,
			&run.Message,
			&provider,
			&model,
			&generatorVersion,
			&promptHash,
			&errorCode,
			&errorMessage,
			&errorRetryable,
			&startedAt,
			&completedAt,
			&run.CreatedAt,
			&run.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if documentKey.Valid {
			run.DocumentKey = documentKey.String
		}
		if sections.Valid {
			if err := json.Unmarshal([]byte(sections.String), &run.Sections); err != nil {
				run.Sections = nil
			}
		}
		if provider.Valid {
			run.Provider = provider.String
		}
		if model.Valid {
			run.Model = model.String
		}
		if generatorVersion.Valid {
			run.GeneratorVersion = generatorVersion.String
		}
		if promptHash.Valid {
			run.PromptHash = promptHash.String
		}
		if errorCode.Valid {
			run.ErrorCode = errorCode.String
		}
		if errorMessage.Valid {
			run.ErrorMessage = &errorMessage.String
		}
		if errorRetryable.Valid {
			run.ErrorRetryable = errorRetryable.Bool
		}
		if startedAt.Valid {
			run.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// UpdateStatusAndError updates status/error fields and timestamps.
func (r *PGRepo) UpdateStatusAndError(ctx context.Context, runID, status string, errorCode, errorMessage *string, errorRetryable *bool, startedAt, completedAt *time.Time) error {
	const query = `
UPDATE runs
SET status = $1,
    error_code = COALESCE($2::text, error_code),
    error_message = COALESCE($3::text, error_message),
    error_retryable = CASE
        WHEN $4::boolean IS NOT NULL THEN $4::boolean
        ELSE error_retryable
    END,
    started_at = CASE
        WHEN $5::timestamptz IS NOT NULL THEN $5::timestamptz
        WHEN $1 = 'processing' AND started_at IS NULL THEN now()
        ELSE started_at
    END,
    completed_at = CASE
        WHEN $6::timestamptz IS NOT NULL THEN $6::timestamptz
        WHEN ($1 = 'completed' OR $1 = 'failed') AND completed_at IS NULL THEN now()
        ELSE completed_at
    END,
    updated_at = now()
WHERE id = $7::uuid AND deleted_at IS NULL`

	res, err := r.DB.ExecContext(ctx, query, status, errorCode, errorMessage, errorRetryable, startedAt, completedAt, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProgress records a progress snapshot. GREATEST keeps the percent
// from moving backwards when updates land out of order.
func (r *PGRepo) UpdateProgress(ctx context.Context, runID string, progress int, message string) error {
	const query = `
UPDATE runs
SET progress = GREATEST(progress, $1::int),
    message = $2,
    updated_at = now()
WHERE id = $3::uuid AND deleted_at IS NULL`

	res, err := r.DB.ExecContext(ctx, query, progress, message, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSections replaces the persisted section states.
func (r *PGRepo) UpdateSections(ctx context.Context, runID string, sections []SectionState) error {
	const query = `
UPDATE runs
SET sections = $1::jsonb,
    updated_at = now()
WHERE id = $2::uuid AND deleted_at IS NULL`

	payload, err := marshalSections(sections)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, query, payload, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateResult marks the run completed with its compiled document.
func (r *PGRepo) UpdateResult(ctx context.Context, runID, documentKey string, sections []SectionState, promptHash string, completedAt *time.Time) error {
	const query = `
UPDATE runs
SET status = 'completed',
    document_key = $1,
    sections = $2::jsonb,
    prompt_hash = COALESCE(NULLIF($3::text, ''), prompt_hash),
    progress = 100,
    completed_at = COALESCE($4::timestamptz, completed_at, now()),
    updated_at = now()
WHERE id = $5::uuid AND deleted_at IS NULL`

	payload, err := marshalSections(sections)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, query, documentKey, payload, promptHash, completedAt, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes a run.
func (r *PGRepo) Delete(ctx context.Context, runID string) error {
	const query = `
UPDATE runs
SET deleted_at = now(),
    updated_at = now()
WHERE id = $1::uuid AND deleted_at IS NULL`

	res, err := r.DB.ExecContext(ctx, query, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetForRetry re-queues a run and clears its previous outcome.
func (r *PGRepo) ResetForRetry(ctx context.Context, runID string) error {
	const query = `
UPDATE runs
SET status = 'queued',
    progress = 0,
    message = '',
    sections = '[]'::jsonb,
    error_code = NULL,
    error_message = NULL,
    error_retryable = NULL,
    started_at = NULL,
    completed_at = NULL,
    updated_at = now()
WHERE id = $1::uuid AND deleted_at IS NULL`

	res, err := r.DB.ExecContext(ctx, query, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkStuckFailed fails queued or processing runs untouched since cutoff.
func (r *PGRepo) MarkStuckFailed(ctx context.Context, cutoff time.Time) (int, error) {
	const query = `
UPDATE runs
SET status = 'failed',
    error_code = $1,
    error_message = $2,
    error_retryable = TRUE,
    completed_at = now(),
    updated_at = now()
WHERE status IN ('queued', 'processing') AND updated_at < $3 AND deleted_at IS NULL`

	res, err := r.DB.ExecContext(ctx, query, ErrorCodeInternal, stuckRunMessage, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

var _ Repo = (*PGRepo)(nil)

func marshalSections(sections []SectionState) ([]byte, error) {
	if sections == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(sections)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
