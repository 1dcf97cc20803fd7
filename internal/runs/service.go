package runs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"techdoc-backend/internal/generate"
	"techdoc-backend/internal/llm"
	"techdoc-backend/internal/shared/metrics"
	"techdoc-backend/internal/shared/storage/object"
	"techdoc-backend/internal/shared/telemetry"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	defaultWorkerTimeout = 120 * time.Second
	workerTemperature    = 0.3
	maxSourceBytes       = 1 << 20
)

// Service contains business logic for documentation runs.
type Service struct {
	Repo             Repo
	Store            object.ObjectStore
	LLM              llm.Client
	Prompts          llm.Pack
	Provider         string
	Model            string
	GeneratorVersion string
	WorkerTimeout    time.Duration
	WorkerStagger    time.Duration

	mu    sync.Mutex
	buses map[string]*generate.Bus
}

// Create enqueues a new run and kicks off asynchronous generation.
func (s *Service) Create(ctx context.Context, title, srsText string) (Run, error) {
	if strings.TrimSpace(srsText) == "" {
		return Run{}, errors.New("validation: srsText is required")
	}
	if len(srsText) > maxSourceBytes {
		return Run{}, ErrSourceTooLarge
	}
	if s.Store == nil {
		return Run{}, errors.New("missing object store dependency")
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled Project"
	}

	run := Run{
		ID:               uuid.NewString(),
		Title:            title,
		Status:           StatusQueued,
		Provider:         normalizeProvider(s.Provider),
		Model:            s.Model,
		GeneratorVersion: normalizeGeneratorVersion(s.GeneratorVersion),
		CreatedAt:        time.Now().UTC(),
	}
	run.SourceKey = sourceKey(run.ID)

	if _, err := s.Store.Save(ctx, run.SourceKey, "text/plain; charset=utf-8", strings.NewReader(srsText)); err != nil {
		return Run{}, fmt.Errorf("store srs text: %w", err)
	}
	if err := s.Repo.Create(ctx, run); err != nil {
		return Run{}, err
	}

	go s.generateAsync(backgroundWithRequestID(ctx), run.ID)

	return run, nil
}

// Get returns a run by ID.
func (s *Service) Get(ctx context.Context, runID string) (Run, error) {
	if runID == "" {
		return Run{}, errors.New("runID is required")
	}
	return s.Repo.GetByID(ctx, runID)
}

// List returns runs ordered newest-first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Run, error) {
	return s.Repo.List(ctx, limit, offset)
}

// Document returns a completed run together with its compiled markdown.
func (s *Service) Document(ctx context.Context, runID string) (Run, string, error) {
	if runID == "" {
		return Run{}, "", errors.New("runID is required")
	}
	run, err := s.Repo.GetByID(ctx, runID)
	if err != nil {
		return Run{}, "", err
	}
	if run.Status != StatusCompleted || run.DocumentKey == "" {
		return run, "", ErrNoDocument
	}
	doc, err := loadText(ctx, s.Store, run.DocumentKey)
	if err != nil {
		return run, "", fmt.Errorf("load document key=%s: %w", run.DocumentKey, err)
	}
	return run, doc, nil
}

// Delete removes a run and its stored objects.
func (s *Service) Delete(ctx context.Context, runID string) error {
	if runID == "" {
		return errors.New("runID is required")
	}
	run, err := s.Repo.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, runID); err != nil {
		return err
	}
	s.closeBus(runID)
	if s.Store != nil {
		for _, key := range []string{run.SourceKey, run.DocumentKey} {
			if key == "" {
				continue
			}
			if err := s.Store.Delete(ctx, key); err != nil {
				telemetry.Warn("run.object_delete_failed", map[string]any{
					"run_id": runID,
					"key":    key,
					"error":  err.Error(),
				})
			}
		}
	}
	return nil
}

// Reset re-queues a terminal run for another generation attempt. Queued and
// processing runs are left alone.
func (s *Service) Reset(ctx context.Context, runID string) (Run, error) {
	if runID == "" {
		return Run{}, errors.New("runID is required")
	}
	run, err := s.Repo.GetByID(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	if run.Status == StatusQueued || run.Status == StatusProcessing {
		return run, ErrRunActive
	}
	if err := s.Repo.ResetForRetry(ctx, runID); err != nil {
		return Run{}, err
	}
	run, err = s.Repo.GetByID(ctx, runID)
	if err != nil {
		return Run{}, err
	}

	go s.generateAsync(backgroundWithRequestID(ctx), runID)

	return run, nil
}

// ResetStuck fails runs left queued or processing for longer than maxAge,
// usually after an unclean restart.
func (s *Service) ResetStuck(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	cutoff := time.Now().UTC().Add(-maxAge)
	n, err := s.Repo.MarkStuckFailed(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		telemetry.Info("run.reset_stuck", map[string]any{"count": n})
	}
	return n, nil
}

// Subscribe attaches a progress listener for a run. The channel closes when
// the run reaches a terminal status; listeners attaching mid-run see only
// events published after attachment.
func (s *Service) Subscribe(ctx context.Context, runID string) (<-chan generate.Event, func(), error) {
	if runID == "" {
		return nil, nil, errors.New("runID is required")
	}
	run, err := s.Repo.GetByID(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if isTerminal(run.Status) {
		ch := make(chan generate.Event)
		close(ch)
		return ch, func() {}, nil
	}

	ch, cancel := s.busFor(runID).Subscribe()

	// The run may have finished between the status check and the
	// subscription, leaving the caller on a bus that will never publish
	// again. Re-check and close the subscription in that case.
	run, err = s.Repo.GetByID(ctx, runID)
	if err == nil && isTerminal(run.Status) {
		cancel()
	}
	return ch, cancel, nil
}

func (s *Service) busFor(runID string) *generate.Bus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buses == nil {
		s.buses = make(map[string]*generate.Bus)
	}
	bus, ok := s.buses[runID]
	if !ok {
		bus = generate.NewBus()
		s.buses[runID] = bus
	}
	return bus
}

func (s *Service) closeBus(runID string) {
	s.mu.Lock()
	bus, ok := s.buses[runID]
	if ok {
		delete(s.buses, runID)
	}
	s.mu.Unlock()
	if ok {
		bus.Close()
	}
}

func (s *Service) generateAsync(ctx context.Context, runID string) {
	defer s.closeBus(runID)
	defer func() {
		if r := recover(); r != nil {
			s.failRun(ctx, runID, fmt.Errorf("panic: %v", r), nil)
		}
	}()

	startedAt := time.Now().UTC()
	if err := s.Repo.UpdateStatusAndError(ctx, runID, StatusProcessing, nil, nil, nil, &startedAt, nil); err != nil {
		s.failRun(ctx, runID, fmt.Errorf("set processing failed: %w", err), &startedAt)
		return
	}

	run, err := s.Repo.GetByID(ctx, runID)
	if err != nil {
		s.failRun(ctx, runID, fmt.Errorf("run lookup: %w", err), &startedAt)
		return
	}
	metrics.IncRunStarted()
	telemetry.Info("run.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"run_id":            runID,
		"status":            StatusProcessing,
		"status_transition": "queued->processing",
	})

	if s.Store == nil {
		s.failRun(ctx, runID, errors.New("missing object store dependency"), &startedAt)
		return
	}
	if s.LLM == nil {
		s.failRun(ctx, runID, errors.New("missing llm client"), &startedAt)
		return
	}

	source, err := loadText(ctx, s.Store, run.SourceKey)
	if err != nil {
		s.failRun(ctx, runID, fmt.Errorf("load source text key=%s: %w", run.SourceKey, err), &startedAt)
		return
	}
	if strings.TrimSpace(source) == "" {
		s.failRun(ctx, runID, errors.New("validation: source text is empty"), &startedAt)
		return
	}

	requestID := requestIDFromContext(ctx)
	client := newRetryingClient(s.LLM, runID, requestID)

	var promptHash string
	genCtx := llm.WithPromptHashCapture(ctx, &promptHash)

	rec := &progressRecorder{svc: s, ctx: ctx, runID: runID, bus: s.busFor(runID)}
	dispatcher := &generate.Dispatcher{
		Worker: &generate.Worker{
			Client:      client,
			Prompts:     s.prompts(),
			Timeout:     s.workerTimeout(),
			Temperature: workerTemperature,
		},
		Events:  rec,
		Stagger: s.WorkerStagger,
	}

	results, err := dispatcher.Dispatch(genCtx, source)
	if err != nil {
		s.failRun(ctx, runID, fmt.Errorf("dispatch sections: %w", err), &startedAt)
		return
	}

	sections := sectionStates(results)
	if err := s.Repo.UpdateSections(ctx, runID, sections); err != nil {
		s.failRun(ctx, runID, fmt.Errorf("set sections failed: %w", err), &startedAt)
		return
	}

	rec.Publish(generate.Event{
		Stage:   generate.StageCompile,
		Status:  generate.EventStarted,
		Message: "Compiling final technical documentation...",
		Percent: 100,
	})

	doc, err := generate.Compile(run.Title, results)
	if err != nil {
		rec.Publish(generate.Event{
			Stage:   generate.StageCompile,
			Status:  generate.EventFailed,
			Message: "Compilation failed",
			Percent: 100,
		})
		s.failRun(ctx, runID, fmt.Errorf("compile document: %w", err), &startedAt)
		return
	}

	docKey := documentKey(runID)
	if _, err := s.Store.Save(ctx, docKey, "text/markdown; charset=utf-8", strings.NewReader(doc)); err != nil {
		rec.Publish(generate.Event{
			Stage:   generate.StageCompile,
			Status:  generate.EventFailed,
			Message: "Compilation failed",
			Percent: 100,
		})
		s.failRun(ctx, runID, fmt.Errorf("store document: %w", err), &startedAt)
		return
	}

	completedAt := time.Now().UTC()
	if err := s.Repo.UpdateResult(ctx, runID, docKey, sections, promptHash, &completedAt); err != nil {
		s.failRun(ctx, runID, fmt.Errorf("set run result failed: %w", err), &startedAt)
		return
	}

	rec.Publish(generate.Event{
		Stage:   generate.StageCompile,
		Status:  generate.EventCompleted,
		Message: "Final documentation compiled successfully",
		Percent: 100,
	})

	metrics.IncRunCompleted()
	metrics.ObserveRunDurationMs(durationMs(&startedAt, &completedAt))
	telemetry.Info("run.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"run_id":            runID,
		"status":            StatusCompleted,
		"status_transition": "processing->completed",
		"duration_ms":       durationMs(&startedAt, &completedAt),
		"sections_failed":   failedCount(sections),
	})
}

func (s *Service) failRun(ctx context.Context, runID string, err error, startedAt *time.Time) {
	code, retryable := classifyFailure(err)
	msg := sanitizeError(err)
	completedAt := time.Now().UTC()
	if updateErr := s.Repo.UpdateStatusAndError(context.Background(), runID, StatusFailed, &code, &msg, &retryable, nil, &completedAt); updateErr != nil {
		fmt.Printf("failRun: update failed id=%s err=%v orig=%v\n", runID, updateErr, err)
	}
	metrics.IncRunFailed()
	if startedAt != nil {
		metrics.ObserveRunDurationMs(durationMs(startedAt, &completedAt))
	}
	telemetry.Info("run.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"run_id":            runID,
		"status":            StatusFailed,
		"status_transition": "processing->failed",
		"error_code":        code,
		"duration_ms":       durationMs(startedAt, &completedAt),
	})
}

// progressRecorder fans events out to stream subscribers and persists each
// snapshot. The high-water clamp keeps delivered percents monotonic even
// when workers publish out of order.
type progressRecorder struct {
	svc   *Service
	ctx   context.Context
	runID string
	bus   *generate.Bus
	high  atomic.Int32
}

func (p *progressRecorder) Publish(ev generate.Event) {
	ev.Percent = p.clamp(ev.Percent)
	p.bus.Publish(ev)

	if ev.Status == generate.EventFailed && ev.Stage != generate.StageCompile {
		metrics.IncSectionFailed()
	}
	if err := p.svc.Repo.UpdateProgress(p.ctx, p.runID, ev.Percent, ev.Message); err != nil {
		telemetry.Warn("run.progress_update_failed", map[string]any{
			"run_id": p.runID,
			"error":  err.Error(),
		})
	}
}

func (p *progressRecorder) clamp(percent int) int {
	for {
		cur := p.high.Load()
		if int32(percent) <= cur {
			return int(cur)
		}
		if p.high.CompareAndSwap(cur, int32(percent)) {
			return percent
		}
	}
}

func (s *Service) prompts() llm.Pack {
	if s.Prompts != nil {
		return s.Prompts
	}
	return llm.DefaultPack()
}

func (s *Service) workerTimeout() time.Duration {
	if s.WorkerTimeout > 0 {
		return s.WorkerTimeout
	}
	return defaultWorkerTimeout
}

func sectionStates(results [generate.NumRoles]generate.SectionResult) []SectionState {
	out := make([]SectionState, 0, len(results))
	for _, res := range results {
		state := SectionState{
			Role:   res.Role.Key(),
			Status: string(res.Status),
			Chars:  len(res.Content),
		}
		if res.Err != nil {
			state.Error = sanitizeError(res.Err)
		}
		out = append(out, state)
	}
	return out
}

func failedCount(sections []SectionState) int {
	n := 0
	for _, s := range sections {
		if s.Status == string(generate.SectionFailed) {
			n++
		}
	}
	return n
}

func isTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

func sourceKey(runID string) string {
	return "srs/" + runID + ".txt"
}

func documentKey(runID string) string {
	return "docs/" + runID + ".md"
}

func normalizeProvider(provider string) string {
	if strings.TrimSpace(provider) == "" {
		return "openai"
	}
	return provider
}

func normalizeGeneratorVersion(version string) string {
	if strings.TrimSpace(version) == "" {
		return "unknown"
	}
	return strings.TrimSpace(version)
}

func durationMs(startedAt, completedAt *time.Time) float64 {
	if startedAt == nil || completedAt == nil {
		return 0
	}
	return float64(completedAt.Sub(*startedAt).Microseconds()) / 1000.0
}

func classifyFailure(err error) (string, bool) {
	if err == nil {
		return ErrorCodeInternal, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeLLMTimeout, true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "openai request timeout") {
		return ErrorCodeLLMTimeout, true
	}
	if strings.Contains(msg, "timeout") && strings.Contains(msg, "llm") {
		return ErrorCodeLLMTimeout, true
	}
	if strings.Contains(msg, "all sections failed") || strings.Contains(msg, "model returned empty output") {
		return ErrorCodeGeneration, true
	}
	if strings.Contains(msg, "validation") && !strings.Contains(msg, "llm") {
		return ErrorCodeValidation, false
	}
	if strings.Contains(msg, "source text") ||
		strings.Contains(msg, "store document") ||
		strings.Contains(msg, "storage") ||
		strings.Contains(msg, "set sections") ||
		strings.Contains(msg, "set run result") ||
		strings.Contains(msg, "set processing") {
		return ErrorCodeStorage, true
	}
	return ErrorCodeInternal, false
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

func loadText(ctx context.Context, store object.ObjectStore, key string) (string, error) {
	body, err := store.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
