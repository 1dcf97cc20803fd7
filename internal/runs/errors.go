package runs

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrRunActive      = errors.New("run is still in progress")
	ErrNoDocument     = errors.New("document not ready")
	ErrSourceTooLarge = errors.New("validation: srs text exceeds the size limit")
)

const (
	ErrorCodeValidation = "VALIDATION_ERROR"
	ErrorCodeLLMTimeout = "LLM_TIMEOUT"
	ErrorCodeGeneration = "GENERATION_FAILED"
	ErrorCodeStorage    = "STORAGE_ERROR"
	ErrorCodeInternal   = "INTERNAL_ERROR"
)
