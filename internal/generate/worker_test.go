package generate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"techdoc-backend/internal/llm"
)

// fakeClient records every completion call and answers with fn, or with a
// canned body when fn is nil.
type fakeClient struct {
	mu    sync.Mutex
	calls []llm.CompletionInput
	fn    func(ctx context.Context, in llm.CompletionInput) (string, error)
}

func (f *fakeClient) Complete(ctx context.Context, in llm.CompletionInput) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, in)
	}
	return "section body", nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testPack() llm.Pack {
	pack := llm.Pack{}
	for _, role := range Roles() {
		pack[role.Key()] = llm.Prompt{
			System: "you are the " + role.Label(),
			User:   "write the " + role.Key() + " section for {srs}",
		}
	}
	return pack
}

func TestWorkerRunRendersPrompt(t *testing.T) {
	client := &fakeClient{}
	w := Worker{Client: client, Prompts: testPack(), Temperature: 0.3}

	res := w.Run(context.Background(), RoleRequirements, "SRS BODY")
	if res.Failed() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Content != "section body" {
		t.Fatalf("content = %q", res.Content)
	}
	call := client.calls[0]
	if !strings.Contains(call.Prompt, "SRS BODY") {
		t.Fatalf("prompt does not carry the source text: %q", call.Prompt)
	}
	if call.System != "you are the Requirements Analyst" {
		t.Fatalf("system = %q", call.System)
	}
	if call.Temperature != 0.3 {
		t.Fatalf("temperature = %v", call.Temperature)
	}
}

func TestWorkerRunMissingPrompt(t *testing.T) {
	w := Worker{Client: &fakeClient{}, Prompts: llm.Pack{}}

	res := w.Run(context.Background(), RoleArchitecture, "text")
	if !res.Failed() {
		t.Fatal("expected failure for missing prompt template")
	}
	if res.Role != RoleArchitecture {
		t.Fatalf("role = %v", res.Role)
	}
}

func TestWorkerRunCapturesClientError(t *testing.T) {
	boom := errors.New("model unavailable")
	client := &fakeClient{fn: func(context.Context, llm.CompletionInput) (string, error) {
		return "", boom
	}}
	w := Worker{Client: client, Prompts: testPack()}

	res := w.Run(context.Background(), RoleDatabaseDesign, "text")
	if !res.Failed() || !errors.Is(res.Err, boom) {
		t.Fatalf("result = %+v", res)
	}
}

func TestWorkerRunEmptyOutputFails(t *testing.T) {
	client := &fakeClient{fn: func(context.Context, llm.CompletionInput) (string, error) {
		return "   \n\t", nil
	}}
	w := Worker{Client: client, Prompts: testPack()}

	res := w.Run(context.Background(), RoleSoftwareArchitecture, "text")
	if !res.Failed() {
		t.Fatal("expected blank model output to fail the section")
	}
}

func TestWorkerRunHonorsTimeout(t *testing.T) {
	client := &fakeClient{fn: func(ctx context.Context, _ llm.CompletionInput) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	w := Worker{Client: client, Prompts: testPack(), Timeout: 10 * time.Millisecond}

	res := w.Run(context.Background(), RoleDatabaseDesign, "text")
	if !res.Failed() || !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", res.Err)
	}
}
