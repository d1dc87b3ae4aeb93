package pipeline

import (
	"bytes"
	"context"
	_ "embed"
	"text/template"

	"github.com/m-mizutani/sensei/pkg/adapter"
	"github.com/m-mizutani/sensei/pkg/confidence"
	"github.com/m-mizutani/sensei/pkg/model"
	"github.com/m-mizutani/sensei/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/route.md
var routePromptRaw string

var routePromptTmpl = template.Must(template.New("route").Parse(routePromptRaw))

const maxStrategyNotes = 500

const fallbackSolver = "general_solver"

// topicSolvers maps each topic to its specialized solver strategy
var topicSolvers = map[model.Topic]string{
	model.TopicAlgebra:         "algebraic_solver",
	model.TopicCalculus:        "calculus_solver",
	model.TopicTrigonometry:    "trig_solver",
	model.TopicProbability:     "probability_solver",
	model.TopicStatistics:      "statistics_solver",
	model.TopicGeometry:        "geometry_solver",
	model.TopicNumberTheory:    "number_theory_solver",
	model.TopicCombinatorics:   "combinatorics_solver",
	model.TopicMatrices:        "matrix_solver",
	model.TopicVectors:         "vector_solver",
	model.TopicComplexNumbers:  "complex_solver",
	model.TopicSequencesSeries: "sequence_solver",
	model.TopicGeneral:         fallbackSolver,
}

// estimateDifficulty grades the problem from structural signals: more
// variables and constraints, or inherently hard problem types, push the
// grade up
func estimateDifficulty(parsed *model.ParsedProblem) model.Difficulty {
	hardType := parsed.ProblemType == "proof" || parsed.ProblemType == "optimization"
	switch {
	case len(parsed.Variables) >= 3 || len(parsed.Constraints) >= 2 || hardType:
		return model.DifficultyAdvanced
	case len(parsed.Variables) == 2 || len(parsed.Constraints) == 1:
		return model.DifficultyIntermediate
	default:
		return model.DifficultyBasic
	}
}

// retrievalFilters builds the citation keywords for the retriever: primary
// topic, at most two secondary topics, and the problem type
func retrievalFilters(parsed *model.ParsedProblem) []string {
	filters := []string{string(parsed.PrimaryTopic)}
	for i, t := range parsed.SecondaryTopics {
		if i >= 2 {
			break
		}
		filters = append(filters, string(t))
	}
	if parsed.ProblemType != "" && parsed.ProblemType != "unknown" {
		filters = append(filters, parsed.ProblemType)
	}
	return filters
}

// runRoute picks the solver strategy for a parsed problem. Routing is
// heuristic-first: the LLM only contributes optional strategy notes, so this
// stage never escalates and survives any backend failure.
func (p *Pipeline) runRoute(ctx context.Context, pctx *model.ProblemContext) (*model.RouteDecision, *model.StageResult) {
	parsed := pctx.Parsed

	solver, mapped := topicSolvers[parsed.PrimaryTopic]
	if !mapped {
		solver = fallbackSolver
	}
	if override, ok := p.cfg.Route.SolverOverrides[parsed.PrimaryTopic]; ok && override != "" {
		solver = override
		mapped = true
	}

	decision := &model.RouteDecision{
		Solver:           solver,
		Difficulty:       estimateDifficulty(parsed),
		UseRetrieval:     true,
		RetrievalFilters: retrievalFilters(parsed),
	}

	notes, notesErr := p.strategyNotes(ctx, parsed, decision.Difficulty)
	if notesErr != nil {
		logging.From(ctx).Warn("strategy notes unavailable", "error", notesErr)
	}
	decision.StrategyNotes = notes

	if p.policy != nil {
		overridden, err := p.policy.ApplyRouteOverride(ctx, parsed, decision)
		if err != nil {
			logging.From(ctx).Warn("route policy evaluation failed", "error", err)
		} else {
			decision = overridden
		}
	}

	factors := map[string]float64{
		"solver_match": pick(mapped && solver != fallbackSolver, 0.9, 0.5),
		"llm_strategy": pick(notesErr == nil && notes != "", 0.9, 0.7),
	}

	// Threshold 0: routing always has a workable fallback, so it never
	// escalates on its own
	score := confidence.Aggregate(factors, string(model.StageRoute), 0)

	result := &model.StageResult{
		Stage:      model.StageRoute,
		Confidence: score,
	}
	if notesErr != nil {
		result.Error = notesErr.Error()
	}

	return decision, result
}

func (p *Pipeline) strategyNotes(ctx context.Context, parsed *model.ParsedProblem, difficulty model.Difficulty) (string, error) {
	var buf bytes.Buffer
	if err := routePromptTmpl.Execute(&buf, map[string]any{
		"CleanText":   parsed.CleanText,
		"Topic":       parsed.PrimaryTopic,
		"ProblemType": parsed.ProblemType,
		"Difficulty":  difficulty,
		"Variables":   parsed.Variables,
		"Constraints": parsed.Constraints,
	}); err != nil {
		return "", err
	}

	resp, err := p.gemini.GenerateContent(ctx,
		[]*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)},
		&genai.GenerateContentConfig{},
	)
	if err != nil {
		return "", err
	}

	notes, err := adapter.ResponseText(resp)
	if err != nil {
		return "", err
	}

	if len(notes) > maxStrategyNotes {
		notes = notes[:maxStrategyNotes]
	}
	return notes, nil
}
