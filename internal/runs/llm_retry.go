package runs

import (
	"context"
	"errors"
	"log"
	"net"
	"strings"
	"time"

	"techdoc-backend/internal/llm"
)

const (
	llmRetryBaseDelay = 300 * time.Millisecond
	llmRetryMax       = 2
)

// retryingClient retries transient model failures with doubling backoff.
// Dispatch-level code never retries; this is the only retry layer.
type retryingClient struct {
	base      llm.Client
	runID     string
	requestID string
}

func newRetryingClient(base llm.Client, runID, requestID string) llm.Client {
	if base == nil {
		return nil
	}
	return retryingClient{base: base, runID: runID, requestID: requestID}
}

func (r retryingClient) Complete(ctx context.Context, in llm.CompletionInput) (string, error) {
	out, err := r.base.Complete(ctx, in)
	if err == nil || !shouldRetryLLM(err) {
		return out, err
	}

	delay := llmRetryBaseDelay
	for attempt := 1; attempt <= llmRetryMax; attempt++ {
		log.Printf("llm retry attempt=%d request_id=%s run_id=%s error=%s", attempt, r.requestID, r.runID, sanitizeError(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}

		out, err = r.base.Complete(ctx, in)
		if err == nil || !shouldRetryLLM(err) {
			return out, err
		}
		delay *= 2
	}
	return out, err
}

func shouldRetryLLM(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && (netErr.Timeout() || netErr.Temporary()) {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "http status 5") || strings.Contains(msg, "server_error") {
		return true
	}
	if strings.Contains(msg, "timeout") && (strings.Contains(msg, "openai") || strings.Contains(msg, "llm") || strings.Contains(msg, "client.timeout")) {
		return true
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "eof") {
		return true
	}

	return false
}
