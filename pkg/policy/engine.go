// Package policy evaluates operator-supplied Rego rules at two decision
// points: overriding routing decisions (data.route) and flagging domain
// violations in candidate solutions (data.verify). With no policy files
// both decision points are no-ops.
package policy

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sensei/pkg/model"
	"github.com/m-mizutani/sensei/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// regoPrintHook forwards Rego print() statements to the context logger
type regoPrintHook struct{}

func (h *regoPrintHook) Print(pctx print.Context, message string) error {
	logging.From(pctx.Context).Debug("rego print", "message", message)
	return nil
}

// Engine holds the prepared queries for both decision points
type Engine struct {
	routePolicy  *rego.PreparedEvalQuery
	verifyPolicy *rego.PreparedEvalQuery
}

// New loads all *.rego files under policyDir. An empty policyDir disables
// policy evaluation entirely.
func New(ctx context.Context, policyDir string) (*Engine, error) {
	if policyDir == "" {
		return &Engine{}, nil
	}

	route, verify, err := loadPolicies(ctx, policyDir)
	if err != nil {
		return nil, err
	}

	return &Engine{
		routePolicy:  route,
		verifyPolicy: verify,
	}, nil
}

// ApplyRouteOverride evaluates data.route against the parsed problem and the
// LLM's routing decision, and returns the decision with any policy overrides
// applied. The original decision is returned untouched when no policy is
// loaded or the policy produces no overrides.
func (e *Engine) ApplyRouteOverride(ctx context.Context, parsed *model.ParsedProblem, decision *model.RouteDecision) (*model.RouteDecision, error) {
	if e.routePolicy == nil {
		return decision, nil
	}

	input := map[string]any{
		"primary_topic":    string(parsed.PrimaryTopic),
		"secondary_topics": parsed.SecondaryTopics,
		"problem_type":     parsed.ProblemType,
		"variables":        parsed.Variables,
		"solver":           decision.Solver,
		"difficulty":       string(decision.Difficulty),
		"use_retrieval":    decision.UseRetrieval,
	}

	rs, err := e.routePolicy.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&regoPrintHook{}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate route policy")
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return decision, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok || len(data) == 0 {
		return decision, nil
	}

	overridden := *decision
	changed := false
	if solver := getString(data, "solver"); solver != "" && solver != overridden.Solver {
		overridden.Solver = solver
		changed = true
	}
	if difficulty := getString(data, "difficulty"); difficulty != "" && model.Difficulty(difficulty) != overridden.Difficulty {
		overridden.Difficulty = model.Difficulty(difficulty)
		changed = true
	}
	if useRetrieval, ok := data["use_retrieval"].(bool); ok && useRetrieval != overridden.UseRetrieval {
		overridden.UseRetrieval = useRetrieval
		changed = true
	}
	if notes := getString(data, "notes"); notes != "" {
		overridden.StrategyNotes = notes
	}

	if changed {
		logging.From(ctx).Info("route decision overridden by policy",
			"solver", overridden.Solver,
			"difficulty", overridden.Difficulty,
			"use_retrieval", overridden.UseRetrieval,
		)
	}

	return &overridden, nil
}

// CheckSolution evaluates data.verify against a candidate solution and
// returns the violations the policy reports. An empty slice means the
// solution passed every loaded rule.
func (e *Engine) CheckSolution(ctx context.Context, parsed *model.ParsedProblem, solution *model.Solution) ([]string, error) {
	if e.verifyPolicy == nil {
		return nil, nil
	}

	input := map[string]any{
		"primary_topic": string(parsed.PrimaryTopic),
		"problem_type":  parsed.ProblemType,
		"answer":        solution.Answer,
		"steps":         solution.Steps,
	}

	rs, err := e.verifyPolicy.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&regoPrintHook{}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate verify policy")
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, nil
	}

	raw, ok := data["violations"].([]any)
	if !ok {
		return nil, nil
	}

	violations := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			violations = append(violations, s)
		}
	}

	return violations, nil
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
