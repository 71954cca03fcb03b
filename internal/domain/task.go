package domain

import "encoding/json"

// Task is the immutable value the queue delivers: a request to run one
// unit of user code. It round-trips through JSON using the camelCase
// wire names the control plane's queue messages use (see §6 of the
// design notes this agent implements).
type Task struct {
	RequestID    string          `json:"requestId"`
	FunctionID   string          `json:"functionId"`
	RuntimeRaw   string          `json:"runtime"`
	S3Bucket     string          `json:"s3Bucket"`
	S3Key        string          `json:"s3Key"`
	TimeoutMs    int             `json:"timeoutMs,omitempty"`
	MemoryMB     *int            `json:"memoryMb,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
}

// DefaultTimeoutMs is applied when a task omits timeoutMs or sets it to
// a non-positive value.
const DefaultTimeoutMs = 10000

// DefaultMemoryMB is the sizing baseline the optimization tip uses when
// a task carries no memoryMb hint.
const DefaultMemoryMB = 128

// Normalize fills in defaults and validates the invariants §3 names:
// request_id and function_id non-empty, timeout_ms positive.
func (t *Task) Normalize() error {
	if t.RequestID == "" {
		return &ErrInvalidTask{Field: "requestId"}
	}
	if t.FunctionID == "" {
		return &ErrInvalidTask{Field: "functionId"}
	}
	if t.TimeoutMs <= 0 {
		t.TimeoutMs = DefaultTimeoutMs
	}
	return nil
}

// EffectiveMemoryMB returns the configured memory hint, or the default
// baseline when the task did not supply one.
func (t *Task) EffectiveMemoryMB() int {
	if t.MemoryMB == nil {
		return DefaultMemoryMB
	}
	return *t.MemoryMB
}

// ErrInvalidTask reports a task message that parsed as JSON but failed
// the non-empty-field invariant. The dispatcher treats this the same as
// a JSON parse failure: ack and drop (a poison pill cannot be retried
// into validity).
type ErrInvalidTask struct {
	Field string
}

func (e *ErrInvalidTask) Error() string { return "invalid task: missing " + e.Field }

func (e *ErrInvalidTask) ErrorClass() string { return "JSON_PARSE" }
