package bench

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/dustin/go-humanize"
	"github.com/ethpandaops/commitbenchoor/pkg/config"
	"github.com/ethpandaops/commitbenchoor/pkg/fsutil"
	"github.com/ethpandaops/commitbenchoor/pkg/logparse"
	"github.com/ethpandaops/commitbenchoor/pkg/runner"
	"github.com/ethpandaops/commitbenchoor/pkg/sysinfo"
	"github.com/ethpandaops/commitbenchoor/pkg/vcs"
)

// SummaryFile is the markdown summary written into the results directory.
const SummaryFile = "summary.md"

// maxSummaryChars caps the failure section of the markdown summary.
const maxSummaryChars = 64 * 1024

// Summary describes a finished or interrupted benchmark.
type Summary struct {
	ID         string
	Started    time.Time
	Finished   time.Time
	Commits    []CommitResult
	Skipped    int
	CSVPath    string
	FigurePath string
	System     *sysinfo.Info
}

// CommitResult holds the outcome of every phase for one commit.
type CommitResult struct {
	Sequence    int
	Commit      vcs.Commit
	Label       string
	Dir         string
	RelevantLOC int
	Phases      []PhaseResult

	// Precision is nil when no comparison ran or its log had no summary.
	Precision  *logparse.PrecisionRecord
	CompareErr error
}

// Phase returns the result of the phase with the given id.
func (c *CommitResult) Phase(id string) (PhaseResult, bool) {
	for _, p := range c.Phases {
		if p.Phase.ID == id {
			return p, true
		}
	}

	return PhaseResult{}, false
}

// Failed reports whether any phase failed.
func (c *CommitResult) Failed() bool {
	for _, p := range c.Phases {
		if !p.Succeeded() {
			return true
		}
	}

	return false
}

// PhaseResult is one analyzer run.
type PhaseResult struct {
	Phase     config.PhaseConfig
	Dir       string
	Artifacts *runner.RunArtifacts
	Record    *logparse.AnalyzerRecord
	Err       error
	// Skipped is set when an earlier phase of the same commit failed.
	Skipped bool
}

// Succeeded reports whether the run produced a runtime.
func (p PhaseResult) Succeeded() bool {
	return !p.Skipped && p.Err == nil && p.Record != nil
}

// RuntimeSeconds is the recorded runtime, 0 for failed or skipped runs.
func (p PhaseResult) RuntimeSeconds() float64 {
	if !p.Succeeded() {
		return 0
	}

	return p.Record.RuntimeSeconds
}

// FailedRuns counts failed and skipped phases over all commits.
func (s *Summary) FailedRuns() int {
	n := 0

	for _, c := range s.Commits {
		for _, p := range c.Phases {
			if !p.Succeeded() {
				n++
			}
		}
	}

	return n
}

// Markdown renders the summary.
func (s *Summary) Markdown(maxChars int) string {
	var sb strings.Builder

	sb.Grow(4096)

	fmt.Fprintf(&sb, "# Benchmark: %s\n\n", s.ID)

	s.writeOverview(&sb)
	s.writeCommits(&sb)
	s.System.WriteMarkdown(&sb)

	// Failures go last, they get truncated if needed.
	s.writeFailures(&sb, maxChars)

	return sb.String()
}

// WriteMarkdown writes the summary to path.
func (s *Summary) WriteMarkdown(path string, owner *fsutil.Owner) error {
	if err := fsutil.WriteFile(path, []byte(s.Markdown(maxSummaryChars)), 0o644, owner); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}

	return nil
}

func (s *Summary) writeOverview(sb *strings.Builder) {
	sb.WriteString("## Overview\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")

	fmt.Fprintf(sb, "| Commits | %d |\n", len(s.Commits))

	if s.Skipped > 0 {
		fmt.Fprintf(sb, "| Skipped Commits | %d |\n", s.Skipped)
	}

	fmt.Fprintf(sb, "| Failed Runs | %d |\n", s.FailedRuns())

	if !s.Started.IsZero() {
		fmt.Fprintf(sb, "| Started | %s |\n", s.Started.UTC().Format("2006-01-02 15:04:05 UTC"))
	}

	if !s.Finished.IsZero() && !s.Started.IsZero() {
		fmt.Fprintf(sb, "| Duration | %s |\n", formatDuration(s.Finished.Sub(s.Started)))
	}

	sb.WriteByte('\n')
}

func (s *Summary) writeCommits(sb *strings.Builder) {
	if len(s.Commits) == 0 {
		return
	}

	phases := s.Commits[0].Phases

	sb.WriteString("## Runtimes\n\n")
	sb.WriteString("| Commit | Relevant LOC |")

	for _, p := range phases {
		fmt.Fprintf(sb, " %s |", p.Phase.ID)
	}

	sb.WriteString("\n|---|---|")
	sb.WriteString(strings.Repeat("---|", len(phases)))
	sb.WriteByte('\n')

	for _, c := range s.Commits {
		fmt.Fprintf(sb, "| `%s` | %s |", c.Label, humanize.Comma(int64(c.RelevantLOC)))

		for _, p := range c.Phases {
			switch {
			case p.Succeeded():
				fmt.Fprintf(sb, " %s s |", p.Record.Runtime)
			case p.Skipped:
				sb.WriteString(" - |")
			default:
				sb.WriteString(" failed |")
			}
		}

		sb.WriteByte('\n')
	}

	sb.WriteByte('\n')
}

type failedRun struct {
	Label string
	Phase string
	Err   string
}

// collectFailures lists failed phases and comparisons in commit order.
func (s *Summary) collectFailures() []failedRun {
	failed := make([]failedRun, 0)

	for _, c := range s.Commits {
		for _, p := range c.Phases {
			if p.Err != nil {
				failed = append(failed, failedRun{Label: c.Label, Phase: p.Phase.ID, Err: p.Err.Error()})
			}
		}

		if c.CompareErr != nil {
			failed = append(failed, failedRun{Label: c.Label, Phase: "compare", Err: c.CompareErr.Error()})
		}
	}

	return failed
}

func (s *Summary) writeFailures(sb *strings.Builder, maxChars int) {
	failed := s.collectFailures()
	if len(failed) == 0 {
		return
	}

	sb.WriteString("## Failed Runs\n\n")
	sb.WriteString("| Commit | Phase | Error |\n")
	sb.WriteString("|---|---|---|\n")

	// Reserve space for the truncation message.
	const reserveChars = 100

	for i, f := range failed {
		row := fmt.Sprintf("| `%s` | %s | %s |\n", f.Label, f.Phase, strings.ReplaceAll(f.Err, "|", `\|`))

		if maxChars > 0 && sb.Len()+len(row)+reserveChars > maxChars {
			fmt.Fprintf(sb, "\n*%d more failed run(s) not shown (output truncated at %d chars)*\n",
				len(failed)-i, maxChars)

			return
		}

		sb.WriteString(row)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}

	return units.HumanDuration(d)
}
