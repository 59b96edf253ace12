package tools

import "github.com/nextlevelbuilder/miniclaw/internal/providers"

// ErrorKind classifies a tool execution failure for the Agent Loop (spec
// §4.E). Only Recoverable() signals that retrying the same call might
// succeed.
type ErrorKind string

const (
	ErrInvalidArguments          ErrorKind = "invalid_arguments"
	ErrNotFound                  ErrorKind = "not_found"
	ErrPermissionDenied          ErrorKind = "permission_denied"
	ErrExecutionFailed           ErrorKind = "execution_failed"
	ErrExecutionFailedRecoverable ErrorKind = "execution_failed_recoverable"
	ErrTimeout                   ErrorKind = "timeout"
)

// Recoverable reports whether the Agent Loop may usefully retry the call
// that produced this kind.
func (k ErrorKind) Recoverable() bool {
	return k == ErrExecutionFailedRecoverable
}

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string    `json:"for_llm"`           // content sent to the LLM
	ForUser string    `json:"for_user,omitempty"` // content shown to the user
	Silent  bool      `json:"silent"`             // suppress user message
	IsError bool      `json:"is_error"`           // marks error
	Kind    ErrorKind `json:"kind,omitempty"`     // only meaningful when IsError
	Async   bool      `json:"async"`              // running asynchronously
	Err     error     `json:"-"`                  // internal error (not serialized)

	// Usage holds token usage from tools that make internal LLM calls.
	Usage    *providers.Usage `json:"-"`
	Provider string           `json:"-"`
	Model    string           `json:"-"`
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func SilentResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Silent: true}
}

// ErrorResult builds a generic ExecutionFailed error result.
func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true, Kind: ErrExecutionFailed}
}

// KindResult builds an error result with an explicit taxonomy kind.
func KindResult(kind ErrorKind, message string) *Result {
	return &Result{ForLLM: message, IsError: true, Kind: kind}
}

func UserResult(content string) *Result {
	return &Result{ForLLM: content, ForUser: content}
}

func AsyncResult(message string) *Result {
	return &Result{ForLLM: message, Async: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

// Recoverable reports whether the Agent Loop may retry this call.
func (r *Result) Recoverable() bool {
	return r.IsError && r.Kind.Recoverable()
}
