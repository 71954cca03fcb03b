package domain

// ExecutionResult is the pipeline's output record: published to the
// notification bus, persisted under its TTL key, and used to derive the
// CloudWatch-style peak-memory sample. Field names match the wire
// contract's camelCase keys.
type ExecutionResult struct {
	RequestID       string   `json:"requestId"`
	FunctionID      string   `json:"functionId"`
	ExitCode        int      `json:"exitCode"`
	Stdout          string   `json:"stdout"`
	Stderr          string   `json:"stderr"`
	DurationMillis  int64    `json:"durationMillis"`
	PeakMemoryBytes *int64   `json:"peakMemoryBytes,omitempty"`
	OptimizationTip string   `json:"optimizationTip,omitempty"`
	OutputFiles     []string `json:"outputFiles"`
}

// executionResultWire is the JSON-serializable shape of ExecutionResult,
// adding the two fields that are derived rather than stored: the
// "SUCCESS"/"FAILED" status string and the MiB-rounded peak memory.
type executionResultWire struct {
	RequestID       string   `json:"requestId"`
	FunctionID      string   `json:"functionId"`
	Status          string   `json:"status"`
	ExitCode        int      `json:"exitCode"`
	DurationMillis  int64    `json:"durationMillis"`
	Stdout          string   `json:"stdout"`
	Stderr          string   `json:"stderr"`
	PeakMemoryBytes *int64   `json:"peakMemoryBytes,omitempty"`
	PeakMemoryMB    *int64   `json:"peakMemoryMB,omitempty"`
	OptimizationTip string   `json:"optimizationTip,omitempty"`
	OutputFiles     []string `json:"outputFiles"`
}

// Success reports the derived success flag: exit_code == 0.
func (r *ExecutionResult) Success() bool { return r.ExitCode == 0 }

// Status returns the "SUCCESS"/"FAILED" string derived from Success().
func (r *ExecutionResult) Status() string {
	if r.Success() {
		return "SUCCESS"
	}
	return "FAILED"
}

// Wire returns the publish-ready representation, computing the derived
// status and MiB fields. peakMemoryMB is an integer floor division by
// 1 048 576, matching §4.A.
func (r *ExecutionResult) Wire() any {
	w := executionResultWire{
		RequestID:       r.RequestID,
		FunctionID:      r.FunctionID,
		Status:          r.Status(),
		ExitCode:        r.ExitCode,
		DurationMillis:  r.DurationMillis,
		Stdout:          r.Stdout,
		Stderr:          r.Stderr,
		OptimizationTip: r.OptimizationTip,
		OutputFiles:     r.OutputFiles,
	}
	if r.OutputFiles == nil {
		w.OutputFiles = []string{}
	}
	if r.PeakMemoryBytes != nil {
		w.PeakMemoryBytes = r.PeakMemoryBytes
		mb := *r.PeakMemoryBytes >> 20
		w.PeakMemoryMB = &mb
	}
	return w
}
