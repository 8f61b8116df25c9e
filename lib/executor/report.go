package executor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/scopeseq/lib/sequence"
)

// State is the run state.
type State int

// Run states.
const (
	Idle State = iota
	Running
	Succeeded
	Failed
)

var stateNames = [...]string{"idle", "running", "succeeded", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	for i, name := range stateNames {
		if name == s {
			return State(i), nil
		}
	}
	return Idle, fmt.Errorf("unknown run state %q", s)
}

// Outcome is the result of one step.
type Outcome string

// Step outcomes.
const (
	Applied Outcome = "applied"
	Skipped Outcome = "skipped"
	Failure Outcome = "failed"
)

// StepReport describes one executed step.
type StepReport struct {
	Index    int
	Kind     sequence.Kind
	Outcome  Outcome
	Message  string
	Err      error
	Terminal bool
	Started  time.Time
	Duration time.Duration
}

func (s *StepReport) applied(msg string) {
	s.Outcome, s.Message = Applied, msg
}

func (s *StepReport) skip(reason error) {
	s.Outcome, s.Message, s.Err = Skipped, reason.Error(), reason
}

func (s *StepReport) fail(err error, terminal bool) {
	s.Outcome, s.Message, s.Err, s.Terminal = Failure, err.Error(), err, terminal
}

// Line formats the step for the progress log.
func (s StepReport) Line() string {
	line := fmt.Sprintf("%d. %s: %s", s.Index, s.Kind, s.Outcome)
	if s.Message != "" {
		line += " (" + s.Message + ")"
	}
	return line
}

// Report describes a finished run.
type Report struct {
	ID       string
	Sequence string
	State    State
	Steps    []StepReport
	Started  time.Time
	Finished time.Time
	// Err is the error that halted the run.
	Err error
}

// FailedCount returns the number of failed steps.
func (r Report) FailedCount() int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == Failure {
			n++
		}
	}
	return n
}

// Summary is the final progress line of a run.
func (r Report) Summary() string {
	switch {
	case r.Err != nil:
		return "Sequence failed: " + r.Err.Error()
	case r.FailedCount() > 0:
		return fmt.Sprintf("Sequence finished with %d failed step(s) of %d", r.FailedCount(), len(r.Steps))
	default:
		return fmt.Sprintf("Sequence completed: %d step(s)", len(r.Steps))
	}
}

// Lines returns the whole progress log of the run.
func (r Report) Lines() []string {
	out := make([]string, 0, len(r.Steps)+1)
	for _, s := range r.Steps {
		out = append(out, s.Line())
	}
	return append(out, r.Summary())
}

func formatSeconds(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
