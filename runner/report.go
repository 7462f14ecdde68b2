package runner

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a task node.
type Status string

const (
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
	StatusTimedOut Status = "timed-out"
)

// ReportError carries the failure message of a report. It exists so reports
// marshal cleanly; the native error type cannot be marshaled to JSON.
type ReportError struct {
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ReportError) Error() string { return e.Message }

// Report is the recorded outcome of one task node. Group reports reference
// their children by ID.
type Report struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Kind       string       `json:"kind"`
	Status     Status       `json:"status"`
	Err        *ReportError `json:"error,omitempty"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	// Attempts is how many repeat iterations ran. A failing iteration is
	// reported once for the node, with FailedAttempt identifying it.
	Attempts      int      `json:"attempts,omitempty"`
	FailedAttempt int      `json:"failedAttempt,omitempty"`
	Children      []string `json:"children,omitempty"`
}

// NewReport creates a report with a fresh ID.
func NewReport(name, kind string, status Status, err error, children ...string) Report {
	r := Report{
		ID:       uuid.New().String(),
		Name:     name,
		Kind:     kind,
		Status:   status,
		Children: children,
	}
	if err != nil {
		r.Err = &ReportError{Message: err.Error()}
	}

	return r
}

// Reporter collects reports as tasks complete. Implementations must be safe
// for concurrent use; parallel groups report from multiple goroutines.
type Reporter interface {
	AddReport(report Report) error
	GetReports() ([]Report, error)
}

// MemoryReporter stores reports in memory. It is thread-safe.
type MemoryReporter struct {
	reports []Report
	mu      sync.RWMutex
}

// NewMemoryReporter creates a new MemoryReporter.
func NewMemoryReporter() *MemoryReporter {
	return &MemoryReporter{}
}

// AddReport adds a report.
func (m *MemoryReporter) AddReport(report Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reports = append(m.reports, report)

	return nil
}

// GetReports returns a copy of all reports in completion order.
func (m *MemoryReporter) GetReports() ([]Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reports := make([]Report, len(m.reports))
	copy(reports, m.reports)

	return reports, nil
}

// Summary is the aggregated outcome of a scenario run.
type Summary struct {
	Passed   bool
	Total    int
	Failed   int
	Skipped  int
	TimedOut int
	// Failures holds one report per failed or timed-out leaf, with its
	// diagnostic.
	Failures []Report
}

// Summarize aggregates leaf reports into the overall verdict. Group reports
// are excluded from the counts; skipped leaves do not fail the run on their
// own.
func Summarize(reports []Report) Summary {
	s := Summary{Passed: true}
	for _, r := range reports {
		if r.Kind == kindSerial || r.Kind == kindParallel {
			continue
		}
		s.Total++
		switch r.Status {
		case StatusFailed:
			s.Failed++
			s.Passed = false
			s.Failures = append(s.Failures, r)
		case StatusTimedOut:
			s.TimedOut++
			s.Passed = false
			s.Failures = append(s.Failures, r)
		case StatusSkipped:
			s.Skipped++
		case StatusPassed:
		}
	}

	return s
}

// String renders a one-line verdict.
func (s Summary) String() string {
	verdict := "PASS"
	if !s.Passed {
		verdict = "FAIL"
	}

	return fmt.Sprintf("%s: %d tasks, %d failed, %d timed out, %d skipped",
		verdict, s.Total, s.Failed, s.TimedOut, s.Skipped)
}
