package orchestrator

import (
	"fmt"
	"strings"
	"time"
)

// State is a node of the per-task state machine.
type State string

const (
	Fetching       State = "FETCHING"
	Classifying    State = "CLASSIFYING"
	GatheringMedia State = "GATHERING_MEDIA"
	Inferring      State = "INFERRING"
	Submitting     State = "SUBMITTING"
	Next           State = "NEXT"
	Done           State = "DONE"
	Failed         State = "FAILED"
)

// Terminal reports whether the run ends in s.
func (s State) Terminal() bool { return s == Done || s == Failed }

// SessionState is the mutable state of one run. Only the loop touches it.
type SessionState struct {
	RunID          string
	CurrentURL     string
	TaskIndex      int
	AttemptCount   int
	TasksCompleted int
	TasksFailed    int
	StartedAt      time.Time
	LastCall       time.Time
}

// SinceLastCall is the time elapsed since the last inference call, zero before the first.
func (s SessionState) SinceLastCall(now time.Time) time.Duration {
	if s.LastCall.IsZero() {
		return 0
	}
	return now.Sub(s.LastCall)
}

// Transition is one observable step of a run.
type Transition struct {
	RunID     string    `json:"run_id"`
	TaskIndex int       `json:"task"`
	Attempt   int       `json:"attempt"`
	State     State     `json:"state"`
	URL       string    `json:"url"`
	Strategy  string    `json:"strategy,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// TaskRecord summarises one task that reached submission or failed for good.
type TaskRecord struct {
	URL      string `json:"url"`
	Strategy string `json:"strategy,omitempty"`
	Answer   string `json:"answer,omitempty"`
	Correct  *bool  `json:"correct,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Result is what a run reports when it reaches DONE or FAILED.
type Result struct {
	RunID          string        `json:"run_id"`
	State          State         `json:"state"`
	StartURL       string        `json:"start_url"`
	LastURL        string        `json:"last_url"`
	TasksCompleted int           `json:"tasks_completed"`
	TasksFailed    int           `json:"tasks_failed"`
	Correct        int           `json:"correct"`
	Incorrect      int           `json:"incorrect"`
	Elapsed        time.Duration `json:"elapsed"`
	Tasks          []TaskRecord  `json:"tasks"`
	Err            error         `json:"-"`
	Reason         string        `json:"reason,omitempty"`
}

// ExitCode is 0 for DONE and 1 otherwise.
func (r Result) ExitCode() int {
	if r.State == Done {
		return 0
	}
	return 1
}

// Summary renders the human-readable report printed at the end of a run.
func (r Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s %s: %d task(s) completed, %d failed attempt(s)", r.RunID, r.State, r.TasksCompleted, r.TasksFailed)
	if r.Correct+r.Incorrect > 0 {
		fmt.Fprintf(&b, " (%d correct, %d incorrect)", r.Correct, r.Incorrect)
	}
	fmt.Fprintf(&b, " in %s\n", r.Elapsed.Round(time.Millisecond))
	for i, t := range r.Tasks {
		fmt.Fprintf(&b, "  [%d] %s", i+1, t.URL)
		if t.Strategy != "" {
			fmt.Fprintf(&b, " strategy=%s", t.Strategy)
		}
		if t.Answer != "" {
			fmt.Fprintf(&b, " answer=%q", t.Answer)
		}
		if t.Correct != nil {
			fmt.Fprintf(&b, " correct=%t", *t.Correct)
		}
		if t.Reason != "" {
			fmt.Fprintf(&b, " reason=%q", t.Reason)
		}
		if t.Error != "" {
			fmt.Fprintf(&b, " error=%q", t.Error)
		}
		fmt.Fprintf(&b, " attempts=%d\n", t.Attempts)
	}
	if r.State == Failed && r.Reason != "" {
		fmt.Fprintf(&b, "stalled at %s: %s\n", r.LastURL, r.Reason)
	}
	return b.String()
}
