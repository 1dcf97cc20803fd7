package runs

import "time"

// SectionState is the persisted outcome of one section worker.
type SectionState struct {
	Role   string `json:"role"`
	Status string `json:"status"`
	Chars  int    `json:"chars"`
	Error  string `json:"error,omitempty"`
}

// Run represents one SRS-to-documentation generation job.
type Run struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Status           string         `json:"status"`
	SourceKey        string         `json:"sourceKey"`
	DocumentKey      string         `json:"documentKey,omitempty"`
	Sections         []SectionState `json:"sections,omitempty"`
	Progress         int            `json:"progress"`
	Message          string         `json:"message,omitempty"`
	Provider         string         `json:"provider"`
	Model            string         `json:"model"`
	GeneratorVersion string         `json:"generatorVersion"`
	PromptHash       string         `json:"promptHash,omitempty"`
	ErrorCode        string         `json:"errorCode,omitempty"`
	ErrorMessage     *string        `json:"errorMessage,omitempty"`
	ErrorRetryable   bool           `json:"errorRetryable,omitempty"`
	StartedAt        *time.Time     `json:"startedAt,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}
