package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"techdoc-backend/internal/llm"
)

// SectionStatus is the terminal state of one section worker.
type SectionStatus string

const (
	SectionSucceeded SectionStatus = "succeeded"
	SectionFailed    SectionStatus = "failed"
)

// SectionResult is the outcome of one role worker. A failed worker carries
// its error here; it is never propagated to siblings.
type SectionResult struct {
	Role    Role
	Status  SectionStatus
	Content string
	Err     error
}

// Failed reports whether the worker ended in failure.
func (r SectionResult) Failed() bool {
	return r.Status == SectionFailed
}

// Worker runs a single role prompt against the model client under a
// per-section deadline.
type Worker struct {
	Client      llm.Client
	Prompts     llm.Pack
	Timeout     time.Duration
	Temperature float32
}

// Run builds the role's prompt from the source text and performs one model
// call. All failures, including a deadline hit, are captured in the result.
func (w Worker) Run(ctx context.Context, role Role, source string) SectionResult {
	prompt, ok := w.Prompts.For(role.Key())
	if !ok {
		return SectionResult{
			Role:   role,
			Status: SectionFailed,
			Err:    fmt.Errorf("no prompt template for section %s", role.Key()),
		}
	}

	callCtx := ctx
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	content, err := w.Client.Complete(callCtx, llm.CompletionInput{
		System:      prompt.System,
		Prompt:      prompt.Render(source),
		Temperature: w.Temperature,
	})
	if err != nil {
		return SectionResult{Role: role, Status: SectionFailed, Err: err}
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return SectionResult{
			Role:   role,
			Status: SectionFailed,
			Err:    fmt.Errorf("model returned empty output for section %s", role.Key()),
		}
	}

	return SectionResult{Role: role, Status: SectionSucceeded, Content: content}
}
