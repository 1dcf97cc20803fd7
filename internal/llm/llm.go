package llm

import (
	"context"
	"errors"
)

// Client abstracts model providers for section generation.
type Client interface {
	Complete(ctx context.Context, input CompletionInput) (string, error)
}

// CompletionInput carries one system+user prompt pair to the provider.
type CompletionInput struct {
	System      string
	Prompt      string
	Temperature float32
}

type promptHashKey struct{}

// WithPromptHashCapture returns a context that asks the provider to write the
// hash of the rendered prompt into sink.
func WithPromptHashCapture(ctx context.Context, sink *string) context.Context {
	if sink == nil {
		return ctx
	}
	return context.WithValue(ctx, promptHashKey{}, sink)
}

// PromptHashSinkFromContext returns the prompt hash sink, if any.
func PromptHashSinkFromContext(ctx context.Context) (*string, bool) {
	sink, ok := ctx.Value(promptHashKey{}).(*string)
	return sink, ok
}

// ErrNotConfigured is returned by the placeholder client.
var ErrNotConfigured = errors.New("llm provider not configured")

// PlaceholderClient is the stand-in when no provider is configured. Every
// call fails, which exercises the degraded-run path end to end.
type PlaceholderClient struct{}

// Complete returns ErrNotConfigured.
func (PlaceholderClient) Complete(ctx context.Context, input CompletionInput) (string, error) {
	_ = ctx
	_ = input
	return "", ErrNotConfigured
}

var _ Client = PlaceholderClient{}
