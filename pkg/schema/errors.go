package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeParse      = "PARSE_ERROR"
	ErrCodePolicy     = "POLICY_VIOLATION"
	ErrCodeResolution = "RESOLUTION_ERROR"
	ErrCodeRateLimit  = "RATE_LIMITED"
	ErrCodeTimeout    = "STEP_TIMEOUT"
	ErrCodeInvocation = "INVOCATION_ERROR"
	ErrCodeScript     = "SCRIPT_ERROR"
	ErrCodeStore      = "STORE_ERROR"
	ErrCodeBudget     = "BUDGET_EXCEEDED"
	ErrCodeNotFound   = "NOT_FOUND"
)

// TroupeError is the structured error type for all troupe operations.
type TroupeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	AgentID string         `json:"agent_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *TroupeError) Error() string {
	if e.AgentID != "" {
		return fmt.Sprintf("[%s] agent %s: %s", e.Code, e.AgentID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *TroupeError) Unwrap() error {
	return e.Cause
}

// NewError creates a new TroupeError.
func NewError(code, message string) *TroupeError {
	return &TroupeError{Code: code, Message: message}
}

// NewErrorf creates a new TroupeError with a formatted message.
func NewErrorf(code, format string, args ...any) *TroupeError {
	return &TroupeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithAgent attaches an agent ID to the error.
func (e *TroupeError) WithAgent(agentID string) *TroupeError {
	e.AgentID = agentID
	return e
}

// WithCause attaches an underlying cause.
func (e *TroupeError) WithCause(err error) *TroupeError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *TroupeError) WithDetails(details map[string]any) *TroupeError {
	e.Details = details
	return e
}
