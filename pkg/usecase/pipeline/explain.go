package pipeline

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"text/template"

	"github.com/m-mizutani/sensei/pkg/adapter"
	"github.com/m-mizutani/sensei/pkg/confidence"
	"github.com/m-mizutani/sensei/pkg/model"
	"github.com/m-mizutani/sensei/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/explain.md
var explainPromptRaw string

var explainPromptTmpl = template.Must(template.New("explain").Parse(explainPromptRaw))

var explainResponseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"problem_overview": {Type: genai.TypeString},
		"approach":         {Type: genai.TypeString},
		"steps": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"step_number":  {Type: genai.TypeInteger},
					"action":       {Type: genai.TypeString},
					"explanation":  {Type: genai.TypeString},
					"formula_used": {Type: genai.TypeString},
				},
				Required: []string{"step_number", "action", "explanation"},
			},
		},
		"final_answer":             {Type: genai.TypeString},
		"key_concepts":             {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"exam_tips":                {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"common_mistakes_to_avoid": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"alternative_approaches":   {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
	Required: []string{"problem_overview", "approach", "steps", "final_answer"},
}

// runExplain turns the verified solution into a structured student-facing
// explanation. It never escalates: a backend failure falls back to a
// minimal formatting of the solution itself.
func (p *Pipeline) runExplain(ctx context.Context, pctx *model.ProblemContext) (*model.Explanation, *model.StageResult) {
	parsed := pctx.Parsed
	solution := pctx.Solution

	var buf bytes.Buffer
	if err := explainPromptTmpl.Execute(&buf, map[string]any{
		"CleanText":  parsed.CleanText,
		"Topic":      parsed.PrimaryTopic,
		"Difficulty": pctx.Route.Difficulty,
		"Answer":     solution.Answer,
		"Steps":      solution.Steps,
		"Issues":     pctx.Verification.Issues,
	}); err != nil {
		return fallbackExplanation(ctx, pctx, err)
	}

	resp, err := p.gemini.GenerateContent(ctx,
		[]*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   explainResponseSchema,
		},
	)
	if err != nil {
		return fallbackExplanation(ctx, pctx, err)
	}

	text, err := adapter.ResponseText(resp)
	if err != nil {
		return fallbackExplanation(ctx, pctx, err)
	}

	var explanation model.Explanation
	if err := json.Unmarshal([]byte(adapter.ExtractJSON(text)), &explanation); err != nil {
		return fallbackExplanation(ctx, pctx, err)
	}
	if explanation.FinalAnswer == "" {
		explanation.FinalAnswer = solution.Answer
	}
	if len(explanation.Steps) == 0 {
		explanation.Steps = stepsFromSolution(solution)
	}

	score := confidence.Aggregate(map[string]float64{
		"llm_explanation": 0.9,
	}, string(model.StageExplain), 0)

	return &explanation, &model.StageResult{
		Stage:      model.StageExplain,
		Confidence: score,
	}
}

// fallbackExplanation formats the solution directly when structured
// explanation generation is unavailable
func fallbackExplanation(ctx context.Context, pctx *model.ProblemContext, cause error) (*model.Explanation, *model.StageResult) {
	logging.From(ctx).Warn("explain stage degraded", "error", cause)

	approach := pctx.Route.StrategyNotes
	if approach == "" {
		approach = "Direct solution"
	}

	explanation := &model.Explanation{
		Overview:    pctx.Parsed.CleanText,
		Approach:    approach,
		Steps:       stepsFromSolution(pctx.Solution),
		FinalAnswer: pctx.Solution.Answer,
	}

	score := confidence.Aggregate(map[string]float64{
		"llm_explanation": 0.5,
	}, string(model.StageExplain), 0)

	return explanation, &model.StageResult{
		Stage:      model.StageExplain,
		Confidence: score,
		Error:      cause.Error(),
	}
}

func stepsFromSolution(solution *model.Solution) []model.ExplanationStep {
	steps := make([]model.ExplanationStep, 0, len(solution.Steps))
	for i, s := range solution.Steps {
		steps = append(steps, model.ExplanationStep{
			Number: i + 1,
			Action: "Step",
			Detail: s,
		})
	}
	if len(steps) == 0 {
		steps = append(steps, model.ExplanationStep{
			Number: 1,
			Action: "Answer",
			Detail: solution.Answer,
		})
	}
	return steps
}
