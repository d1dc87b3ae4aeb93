package model

import (
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidModality = goerr.New("invalid modality")
	ErrInvalidFeedback = goerr.New("invalid feedback")
)

type RunID string

// NewRunID generates a new unique RunID
func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// Modality tags where the raw problem text came from
type Modality string

const (
	ModalityText    Modality = "text"
	ModalityImage   Modality = "image-derived"
	ModalityAudio   Modality = "audio-derived"
	ModalityUnknown Modality = "unknown"
)

// Validate checks if the modality is valid
func (m Modality) Validate() error {
	switch m {
	case ModalityText, ModalityImage, ModalityAudio:
		return nil
	default:
		return goerr.Wrap(ErrInvalidModality, "unknown modality", goerr.V("modality", m))
	}
}

// Topic is a coarse subject classification of a problem
type Topic string

const (
	TopicAlgebra         Topic = "algebra"
	TopicCalculus        Topic = "calculus"
	TopicTrigonometry    Topic = "trigonometry"
	TopicProbability     Topic = "probability"
	TopicStatistics      Topic = "statistics"
	TopicGeometry        Topic = "geometry"
	TopicNumberTheory    Topic = "number_theory"
	TopicCombinatorics   Topic = "combinatorics"
	TopicMatrices        Topic = "matrices"
	TopicVectors         Topic = "vectors"
	TopicComplexNumbers  Topic = "complex_numbers"
	TopicSequencesSeries Topic = "sequences_series"
	TopicGeneral         Topic = "general"
)

// ProblemContext is the immutable input envelope for one pipeline run.
// Stage outputs extend it by producing a new context via the With* methods;
// an existing context is never mutated in place.
type ProblemContext struct {
	Input    string
	Modality Modality

	Parsed       *ParsedProblem
	Route        *RouteDecision
	Solution     *Solution
	Verification *Verification
	Explanation  *Explanation
}

// NewProblemContext creates the initial context for a run
func NewProblemContext(input string, modality Modality) *ProblemContext {
	return &ProblemContext{
		Input:    input,
		Modality: modality,
	}
}

func (x *ProblemContext) WithParsed(p *ParsedProblem) *ProblemContext {
	c := *x
	c.Parsed = p
	return &c
}

func (x *ProblemContext) WithRoute(r *RouteDecision) *ProblemContext {
	c := *x
	c.Route = r
	return &c
}

func (x *ProblemContext) WithSolution(s *Solution) *ProblemContext {
	c := *x
	c.Solution = s
	return &c
}

func (x *ProblemContext) WithVerification(v *Verification) *ProblemContext {
	c := *x
	c.Verification = v
	return &c
}

func (x *ProblemContext) WithExplanation(e *Explanation) *ProblemContext {
	c := *x
	c.Explanation = e
	return &c
}

// ParsedProblem is the structured output of the Parse stage
type ParsedProblem struct {
	CleanText             string   `json:"clean_text"`
	PrimaryTopic          Topic    `json:"primary_topic"`
	SecondaryTopics       []Topic  `json:"secondary_topics,omitempty"`
	Variables             []string `json:"variables,omitempty"`
	Constraints           []string `json:"constraints,omitempty"`
	ProblemType           string   `json:"problem_type"`
	NeedsClarification    bool     `json:"needs_clarification"`
	ClarificationQuestion string   `json:"clarification_question,omitempty"`
	AmbiguityReason       string   `json:"ambiguity_reason,omitempty"`
}

// Validate checks the parse output satisfies its contract
func (p *ParsedProblem) Validate() error {
	if p.CleanText == "" {
		return goerr.New("parsed problem has no clean text")
	}
	if p.PrimaryTopic == "" {
		return goerr.New("parsed problem has no primary topic")
	}
	if p.NeedsClarification && p.ClarificationQuestion == "" {
		return goerr.New("clarification requested without a question")
	}
	return nil
}

// Difficulty is a rough exam-level grading used for solver strategy
type Difficulty string

const (
	DifficultyBasic        Difficulty = "jee_basic"
	DifficultyIntermediate Difficulty = "jee_intermediate"
	DifficultyAdvanced     Difficulty = "jee_advanced"
)

// RouteDecision is the structured output of the Route stage
type RouteDecision struct {
	Solver           string     `json:"solver"`
	Difficulty       Difficulty `json:"difficulty"`
	UseRetrieval     bool       `json:"use_retrieval"`
	RetrievalFilters []string   `json:"retrieval_filters,omitempty"`
	StrategyNotes    string     `json:"strategy_notes,omitempty"`
}

// Validate checks the route output satisfies its contract
func (r *RouteDecision) Validate() error {
	if r.Solver == "" {
		return goerr.New("route decision has no solver")
	}
	return nil
}

// Solution is the structured output of the Solve stage
type Solution struct {
	Answer    string     `json:"answer"`
	Steps     []string   `json:"steps"`
	Citations []Citation `json:"citations,omitempty"`
	Check     string     `json:"check,omitempty"`

	// Degraded marks a fallback result produced after an internal failure
	Degraded bool `json:"degraded,omitempty"`
}

// Validate checks the solve output satisfies its contract
func (s *Solution) Validate() error {
	if s.Answer == "" {
		return goerr.New("solution has no answer")
	}
	return nil
}

// Verdict is the outcome category of the Verify stage
type Verdict string

const (
	VerdictPass      Verdict = "pass"
	VerdictUncertain Verdict = "uncertain"
	VerdictFail      Verdict = "fail"
)

// Verification is the structured output of the Verify stage
type Verification struct {
	Verdict     Verdict  `json:"verdict"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Validate checks the verify output satisfies its contract
func (v *Verification) Validate() error {
	switch v.Verdict {
	case VerdictPass, VerdictUncertain, VerdictFail:
		return nil
	default:
		return goerr.New("invalid verification verdict", goerr.V("verdict", v.Verdict))
	}
}
