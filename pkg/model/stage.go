package model

import "time"

// Stage names the fixed pipeline stages
type Stage string

const (
	StageParse   Stage = "parse"
	StageRoute   Stage = "route"
	StageSolve   Stage = "solve"
	StageVerify  Stage = "verify"
	StageExplain Stage = "explain"
)

// StageStatus is the trace status of one executed stage
type StageStatus string

const (
	StageCompleted StageStatus = "completed"
	StageEscalated StageStatus = "escalated"
	StageFailed    StageStatus = "failed"
)

// StageResult is the common envelope every stage produces alongside its
// typed payload. It is owned by the producing stage and read-only downstream.
type StageResult struct {
	Stage      Stage           `json:"stage"`
	Confidence ConfidenceScore `json:"confidence"`

	Escalated bool   `json:"escalated,omitempty"`
	Question  string `json:"question,omitempty"`

	// Error marks a degraded result: the stage hit an internal failure and
	// returned a best-effort fallback instead of propagating.
	Error string `json:"error,omitempty"`
}

// TraceEntry is one append-only record of stage execution
type TraceEntry struct {
	Stage    Stage         `json:"stage"`
	Status   StageStatus   `json:"status"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration"`
}

// OutcomeStatus discriminates the pipeline outcome variants
type OutcomeStatus string

const (
	OutcomeSuccess            OutcomeStatus = "success"
	OutcomeEscalationRequired OutcomeStatus = "escalation_required"
	OutcomeFailure            OutcomeStatus = "failure"
)

// Outcome is the single result of one pipeline run
type Outcome struct {
	RunID  RunID         `json:"run_id"`
	Status OutcomeStatus `json:"status"`
	Trace  []TraceEntry  `json:"trace"`

	// EscalationRequired
	Question string `json:"question,omitempty"`
	Origin   Stage  `json:"originating_stage,omitempty"`

	// Success
	Results     map[Stage]*StageResult `json:"results,omitempty"`
	Context     *ProblemContext        `json:"-"`
	Explanation *Explanation           `json:"explanation,omitempty"`
	RecordID    RecordID               `json:"record_id,omitempty"`

	// Failure
	Err error `json:"-"`
}

// NewEscalationOutcome builds the hard-stop escalation variant
func NewEscalationOutcome(runID RunID, stage Stage, question string, trace []TraceEntry) *Outcome {
	return &Outcome{
		RunID:    runID,
		Status:   OutcomeEscalationRequired,
		Question: question,
		Origin:   stage,
		Trace:    trace,
	}
}

// NewFailureOutcome builds the contract-violation variant
func NewFailureOutcome(runID RunID, err error, trace []TraceEntry) *Outcome {
	return &Outcome{
		RunID:  runID,
		Status: OutcomeFailure,
		Err:    err,
		Trace:  trace,
	}
}
