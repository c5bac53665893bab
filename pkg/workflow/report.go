package workflow

import (
	"encoding/json"
	"io"
	"time"
)

// Report is the serializable summary of a finished run: overall status
// plus the terminal state of every step, sufficient to reproduce why the
// run ended where it did.
type Report struct {
	Success   bool                   `json:"success"`
	Status    RunStatus              `json:"status"`
	RunID     string                 `json:"run_id"`
	Workflow  string                 `json:"workflow"`
	AbortedBy string                 `json:"aborted_by,omitempty"`
	StartedAt time.Time              `json:"started_at"`
	Duration  int64                  `json:"duration_ms"`
	Results   map[string]*StepReport `json:"results"`
}

// StepReport is the report entry for one step.
type StepReport struct {
	Status   StepStatus   `json:"status"`
	Value    Value        `json:"value"`
	Error    *StepError   `json:"error,omitempty"`
	Attempts int          `json:"attempts,omitempty"`
	Duration int64        `json:"duration_ms"`
	Items    []StepReport `json:"items,omitempty"`
}

// BuildReport freezes the run state into a Report. Call it only after
// Run has returned; it reads without synchronization beyond the
// context's own locks.
func BuildReport(ec *ExecutionContext) *Report {
	report := &Report{
		Success:   ec.Status() == RunCompleted,
		Status:    ec.Status(),
		RunID:     ec.RunID(),
		Workflow:  ec.Workflow(),
		AbortedBy: ec.AbortedBy(),
		StartedAt: ec.StartedAt(),
		Duration:  ec.EndedAt().Sub(ec.StartedAt()).Milliseconds(),
		Results:   make(map[string]*StepReport),
	}
	for _, r := range ec.Results() {
		entry := stepReport(r)
		report.Results[r.StepID] = &entry
	}
	return report
}

// stepReport converts one result, recursing into foreach sub-results.
func stepReport(r *StepResult) StepReport {
	entry := StepReport{
		Status:   r.Status,
		Value:    r.Value,
		Error:    r.Error,
		Attempts: r.Attempts,
		Duration: r.Duration.Milliseconds(),
	}
	for i := range r.Items {
		entry.Items = append(entry.Items, stepReport(&r.Items[i]))
	}
	return entry
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
