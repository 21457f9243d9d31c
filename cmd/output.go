package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	colour "github.com/fatih/color"
	"github.com/nickromney-org/release-propagator/internal/failure"
	"github.com/nickromney-org/release-propagator/internal/propagator"
)

// pipelineSteps in execution order
var pipelineSteps = []string{
	failure.StepValidate,
	failure.StepManifest,
	failure.StepCommit,
	failure.StepTag,
	failure.StepLatest,
	failure.StepDispatch,
}

func outputJSON(w io.Writer, result *propagator.Result) error {
	data, err := result.MarshalJSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func outputTerminal(w io.Writer, result *propagator.Result) error {
	// Always print latest tag first (for script compatibility)
	if result.LatestTag != "" {
		fmt.Fprintln(w, result.LatestTag)
		fmt.Fprintln(w)
	}

	status := result.Status()
	getStatusColour(status).Fprintf(w, "%s %s\n", getStatusIcon(status), statusLine(result))

	fmt.Fprintln(w)
	cyan.Fprintln(w, "📋 Pipeline")
	cyan.Fprintln(w, "─────────────────────────────────────────────")
	for _, step := range pipelineSteps {
		outcome := result.Outcome(step)
		if outcome == "" {
			continue
		}
		line := fmt.Sprintf("  %-16s %-10s %s", step, outcome, stepDetail(result, step))
		if outcome == propagator.OutcomeFailed {
			red.Fprintln(w, line)
		} else {
			fmt.Fprintln(w, line)
		}
	}

	grey.Fprintf(w, "\nFinished at: %s (%s)\n", formatUKDateTime(finishedAt(result)), formatDuration(result.Duration()))
	return nil
}

func outputCI(w io.Writer, result *propagator.Result) error {
	// Always print latest tag first (for script compatibility)
	if result.LatestTag != "" {
		fmt.Fprintln(w, result.LatestTag)
	}

	status := result.Status()
	icon := getStatusIcon(status)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "::group::🚀 Release Propagation")
	if result.Version != "" {
		fmt.Fprintf(w, "Version: v%s\n", result.Version)
	} else if result.Requested != "" {
		fmt.Fprintf(w, "Requested: %s\n", result.Requested)
	}
	for _, step := range pipelineSteps {
		if outcome := result.Outcome(step); outcome != "" {
			fmt.Fprintf(w, "%-16s %-10s %s\n", step, outcome, stepDetail(result, step))
		}
	}
	fmt.Fprintf(w, "Status: %s\n", getStatusText(status))
	fmt.Fprintln(w, "::endgroup::")
	fmt.Fprintln(w)

	// Use appropriate workflow command based on status
	switch status {
	case propagator.StatusFailed:
		fmt.Fprintf(w, "::error title=Release Propagation Failed::%s %s\n", icon, result.Error)
	case propagator.StatusDryRun:
		fmt.Fprintf(w, "::notice title=Release Dry Run::%s %s\n", icon, statusLine(result))
	case propagator.StatusPropagated:
		fmt.Fprintf(w, "::notice title=Release Propagated::%s %s\n", icon, statusLine(result))
	}

	// Write markdown summary to $GITHUB_STEP_SUMMARY
	if summaryFile := os.Getenv("GITHUB_STEP_SUMMARY"); summaryFile != "" {
		if err := writeGitHubSummary(summaryFile, result); err != nil {
			fmt.Fprintf(w, "::warning::Failed to write job summary: %v\n", err)
		}
	}

	return nil
}

func writeGitHubSummary(summaryFile string, result *propagator.Result) error {
	f, err := os.OpenFile(summaryFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	status := result.Status()
	statusEmoji := getStatusIcon(status)
	statusText := getStatusText(status)

	// Write markdown summary
	fmt.Fprintf(f, "## %s Release Propagation: %s\n\n", statusEmoji, statusText)

	// Summary table
	fmt.Fprintf(f, "| Metric | Value |\n")
	fmt.Fprintf(f, "|--------|-------|\n")
	fmt.Fprintf(f, "| Requested Version | %s |\n", result.Requested)
	if result.Manifest != nil {
		fmt.Fprintf(f, "| Previous Version | %s |\n", result.Manifest.Previous)
	}
	if result.Commit != nil && result.Commit.Hash != "" {
		fmt.Fprintf(f, "| Commit | `%s` |\n", shortHash(result.Commit.Hash))
	}
	if result.Tag != nil {
		fmt.Fprintf(f, "| Tag | %s |\n", result.Tag.Name)
	}
	if result.LatestTag != "" {
		fmt.Fprintf(f, "| Latest Tag | %s |\n", result.LatestTag)
	}
	if result.Downstream != "" {
		fmt.Fprintf(f, "| Downstream | %s |\n", result.Downstream)
	}
	fmt.Fprintf(f, "| Status | %s %s |\n", statusEmoji, statusText)
	if result.RunID != "" {
		fmt.Fprintf(f, "| Run ID | `%s` |\n", result.RunID)
	}

	// Action required section
	if status == propagator.StatusFailed {
		fmt.Fprintf(f, "\n### ⚠️ Action Required\n\n")
		if result.FailedStep != "" {
			fmt.Fprintf(f, "The **%s** step failed", result.FailedStep)
			if result.Kind != "" {
				fmt.Fprintf(f, " with `%s`", result.Kind)
			}
			fmt.Fprintf(f, ". Steps before it are not rolled back.\n\n")
		}
		fmt.Fprintf(f, "```\n%s\n```\n", result.Error)
	}

	// Add timestamp
	fmt.Fprintf(f, "\n*Finished at: %s*\n", formatUKDateTime(finishedAt(result)))
	fmt.Fprintf(f, "\n---\n\n")

	return nil
}

func statusLine(result *propagator.Result) string {
	switch result.Status() {
	case propagator.StatusFailed:
		return result.Error
	case propagator.StatusDryRun:
		if result.Manifest != nil {
			return fmt.Sprintf("Dry run: %s would move from %s to %s", result.Manifest.Path, result.Manifest.Previous, result.Manifest.Current)
		}
		return "Dry run complete"
	default:
		return fmt.Sprintf("Released v%s and notified %s with %s", result.Version, result.Downstream, result.LatestTag)
	}
}

func stepDetail(result *propagator.Result, step string) string {
	if step == result.FailedStep {
		if result.Kind != "" {
			return string(result.Kind)
		}
		return ""
	}
	switch step {
	case failure.StepManifest:
		if m := result.Manifest; m != nil {
			if m.Previous == m.Current {
				return m.Current
			}
			return fmt.Sprintf("%s → %s", m.Previous, m.Current)
		}
	case failure.StepCommit:
		if c := result.Commit; c != nil && c.Hash != "" {
			return fmt.Sprintf("%s on %s", shortHash(c.Hash), c.Branch)
		}
	case failure.StepTag:
		if t := result.Tag; t != nil {
			return t.Name
		}
	case failure.StepLatest:
		return result.LatestTag
	case failure.StepDispatch:
		if d := result.Dispatched; d != nil {
			return fmt.Sprintf("%s (%s)", d.Repository, d.EventType)
		}
	}
	return ""
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

func finishedAt(result *propagator.Result) time.Time {
	if result.FinishedAt.IsZero() {
		return time.Now()
	}
	return result.FinishedAt
}

func getStatusText(status propagator.Status) string {
	switch status {
	case propagator.StatusPropagated:
		return "Propagated"
	case propagator.StatusDryRun:
		return "Dry Run"
	case propagator.StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

func getStatusIcon(status propagator.Status) string {
	switch status {
	case propagator.StatusPropagated:
		return "✅"
	case propagator.StatusDryRun:
		return "🧪"
	case propagator.StatusFailed:
		return "❌"
	default:
		return "ℹ️ "
	}
}

func getStatusColour(status propagator.Status) *colour.Color {
	switch status {
	case propagator.StatusPropagated:
		return green
	case propagator.StatusDryRun:
		return yellow
	case propagator.StatusFailed:
		return red
	default:
		return cyan
	}
}
