package propagator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nickromney-org/release-propagator/internal/failure"
	"github.com/nickromney-org/release-propagator/internal/git"
	"github.com/nickromney-org/release-propagator/internal/manifest"
	"github.com/nickromney-org/release-propagator/pkg/types"
)

// Outcome of a single pipeline step
type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeCreated   Outcome = "created"
	OutcomeDelivered Outcome = "delivered"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Status summarises a whole run
type Status string

const (
	StatusPropagated Status = "propagated"
	StatusDryRun     Status = "dry-run"
	StatusFailed     Status = "failed"
)

// StepReport is one line of the run report
type StepReport struct {
	Name    string  `json:"name"`
	Outcome Outcome `json:"outcome"`
}

// Result contains everything a run did, including how far it got before a
// failure
type Result struct {
	RunID      string               `json:"run_id"`
	Requested  string               `json:"requested"`
	Version    string               `json:"version,omitempty"`
	DryRun     bool                 `json:"dry_run"`
	Manifest   *manifest.Update     `json:"manifest,omitempty"`
	Commit     *git.CommitResult    `json:"commit,omitempty"`
	Tag        *git.TagResult       `json:"tag,omitempty"`
	LatestTag  string               `json:"latest_tag,omitempty"`
	Downstream string               `json:"downstream,omitempty"`
	Dispatched *types.DispatchEvent `json:"dispatched,omitempty"`
	Steps      []StepReport         `json:"steps"`
	FailedStep string               `json:"failed_step,omitempty"`
	Error      string               `json:"error,omitempty"`
	Kind       failure.Kind         `json:"kind,omitempty"`
	StartedAt  time.Time            `json:"-"`
	FinishedAt time.Time            `json:"-"`
}

// Status returns the overall status of the run
func (r *Result) Status() Status {
	switch {
	case r.FailedStep != "" || r.Error != "":
		return StatusFailed
	case r.DryRun:
		return StatusDryRun
	default:
		return StatusPropagated
	}
}

// Duration returns how long the run took
func (r *Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Outcome returns the recorded outcome of step, or "" if it never ran
func (r *Result) Outcome(step string) Outcome {
	for _, s := range r.Steps {
		if s.Name == step {
			return s.Outcome
		}
	}
	return ""
}

func (r *Result) record(step string, outcome Outcome) {
	r.Steps = append(r.Steps, StepReport{Name: step, Outcome: outcome})
}

// fail records step as the point the run stopped and returns err tagged
// with it. Unclassified errors are wrapped with the step name.
func (r *Result) fail(step string, err error) error {
	r.record(step, OutcomeFailed)
	r.FailedStep = step
	r.Kind = failure.KindOf(err)
	if r.Kind != "" {
		err = failure.AtStep(step, err)
	} else {
		err = fmt.Errorf("%s: %w", step, err)
	}
	r.Error = err.Error()
	return err
}

// MarshalJSON implements custom JSON marshaling
func (r *Result) MarshalJSON() ([]byte, error) {
	type Alias Result
	return json.MarshalIndent(&struct {
		Status     Status `json:"status"`
		StartedAt  string `json:"started_at,omitempty"`
		DurationMS *int64 `json:"duration_ms,omitempty"`
		*Alias
	}{
		Status:     r.Status(),
		StartedAt:  timeString(r.StartedAt),
		DurationMS: durationMS(r),
		Alias:      (*Alias)(r),
	}, "", "  ")
}

// Helper functions for JSON marshaling
func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func durationMS(r *Result) *int64 {
	if r.FinishedAt.IsZero() {
		return nil
	}
	ms := r.Duration().Milliseconds()
	return &ms
}

// Aborted returns the report for a run that failed before the pipeline
// itself started, e.g. while preparing a clone
func Aborted(requested, step string, err error) (*Result, error) {
	r := &Result{Requested: requested}
	return r, r.fail(step, err)
}
