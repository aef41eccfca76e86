// Package batch runs the archive pipeline over the worklist: it claims each
// thread, archives its attachments, swaps the thread for a digest and
// decides whether another invocation is needed.
package batch

import (
	"time"

	"github.com/altafino/thread-archiver/internal/failure"
	"github.com/altafino/thread-archiver/internal/state"
)

type Action int

const (
	// Continue moves on to the next item.
	Continue Action = iota
	// StopBatch ends the invocation; the dependency is throttled.
	StopBatch
)

func (a Action) String() string {
	if a == StopBatch {
		return "stop_batch"
	}
	return "continue"
}

// Outcome is the result of processing one item.
type Outcome struct {
	Action Action
	State  state.State
	Kind   failure.Kind
	Stage  string
	Err    error
	Files  int
}

// Pipeline stages, reported with failures.
const (
	StageClaim    = "claim"
	StageFetch    = "fetch"
	StageSafety   = "safety"
	StageUpload   = "upload"
	StageCompose  = "compose"
	StageDraft    = "draft"
	StageSend     = "send"
	StageLocate   = "locate"
	StageFinalize = "finalize"
)

type ItemResult struct {
	ID    string      `json:"id"`
	State state.State `json:"state"`
	Kind  string      `json:"kind,omitempty"`
	Stage string      `json:"stage,omitempty"`
	Error string      `json:"error,omitempty"`
	Files int         `json:"files"`
}

// Report summarizes one invocation.
type Report struct {
	RunID              string        `json:"run_id"`
	Items              []ItemResult  `json:"items"`
	Archived           int           `json:"archived"`
	Skipped            int           `json:"skipped"`
	Errored            int           `json:"errored"`
	Reset              int           `json:"reset"`
	Untouched          int           `json:"untouched"`
	BudgetExceeded     bool          `json:"budget_exceeded"`
	StoppedBy          string        `json:"stopped_by,omitempty"`
	ContinuationNeeded bool          `json:"continuation_needed"`
	ContinuationDelay  time.Duration `json:"continuation_delay,omitempty"`
	Duration           time.Duration `json:"duration"`
}

func (r *Report) add(id string, out Outcome) {
	res := ItemResult{ID: id, State: out.State, Stage: out.Stage, Files: out.Files}
	if out.Err != nil {
		res.Kind = out.Kind.String()
		res.Error = out.Err.Error()
	}
	r.Items = append(r.Items, res)

	switch out.State {
	case state.Archived:
		r.Archived++
	case state.Skipped:
		r.Skipped++
	case state.Errored:
		r.Errored++
	case state.Eligible:
		if out.Err != nil {
			r.Reset++
		}
	}
}
