package pipeline

import "time"

// Status classifies one stage outcome.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped-already-done"
	StatusBlocked   Status = "skipped-blocked"
	StatusFailed    Status = "failed"
)

// StageResult reports what one stage did during a single invocation.
// Units counts the work units present when the stage finished,
// Expected the units the stage was asked for; the two differ only on
// partial failure.
type StageResult struct {
	Stage    Stage         `json:"stage"`
	Status   Status        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Units    int           `json:"units"`
	Expected int           `json:"expected"`
	Took     time.Duration `json:"took_ns"`
}

// Result is the outcome of one Runner.Run invocation. Stages holds one
// entry per requested stage, in execution order.
type Result struct {
	Site   string        `json:"site"`
	Season int           `json:"season"`
	RunID  string        `json:"run_id"`
	Stages []StageResult `json:"stages"`
}

// Failed reports whether any stage failed.
func (r *Result) Failed() bool {
	for _, s := range r.Stages {
		if s.Status == StatusFailed {
			return true
		}
	}
	return false
}
