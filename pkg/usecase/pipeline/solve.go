package pipeline

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sensei/pkg/adapter"
	"github.com/m-mizutani/sensei/pkg/confidence"
	"github.com/m-mizutani/sensei/pkg/model"
	"github.com/m-mizutani/sensei/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/solve.md
var solvePromptRaw string

var solvePromptTmpl = template.Must(template.New("solve").Parse(solvePromptRaw))

// maxToolIterations bounds the function-calling loop; a solver that needs
// more calculator round-trips than this is stuck
const maxToolIterations = 6

// maxMemoryExamples caps how many previously solved problems enter the prompt
const maxMemoryExamples = 2

type solveResponse struct {
	Answer     string   `json:"answer"`
	Steps      []string `json:"steps"`
	Check      string   `json:"check"`
	Confidence any      `json:"confidence"`
}

// runSolve produces a grounded solution using retrieval context, episodic
// memory, and the calculator tool loop. Internal failures degrade into an
// explicit "unable to solve" result at floor confidence.
func (p *Pipeline) runSolve(ctx context.Context, pctx *model.ProblemContext, similar []*model.SimilarRecord) (*model.Solution, *model.StageResult) {
	parsed := pctx.Parsed
	route := pctx.Route

	var retrieved *model.RetrievalResult
	if route.UseRetrieval && p.retriever != nil {
		var err error
		retrieved, err = p.retriever.Retrieve(ctx, parsed.CleanText, p.cfg.Retrieval.TopK, route.RetrievalFilters)
		if err != nil {
			logging.From(ctx).Warn("knowledge retrieval failed", "error", err)
			retrieved = nil
		}
	}

	var buf bytes.Buffer
	if err := solvePromptTmpl.Execute(&buf, map[string]any{
		"CleanText":     parsed.CleanText,
		"Topic":         parsed.PrimaryTopic,
		"ProblemType":   parsed.ProblemType,
		"Difficulty":    route.Difficulty,
		"StrategyNotes": route.StrategyNotes,
		"Context":       formatRetrievalContext(retrieved),
		"Memory":        formatMemoryContext(similar),
	}); err != nil {
		return degradedSolution(ctx, err)
	}

	text, err := p.generateWithTools(ctx, buf.String())
	if err != nil {
		return degradedSolution(ctx, err)
	}

	solution := parseSolution(text)

	var citations []model.Citation
	if retrieved != nil {
		citations = collectCitations(retrieved.Chunks)
	}
	solution.Citations = citations

	factors := map[string]float64{
		"rag_coverage":     ragCoverage(route.UseRetrieval, retrieved),
		"citation_quality": pick(len(citations) > 0, 0.9, 0.4),
		"llm_confidence":   solution.llmConfidence,
		"has_verification": pick(solution.Check != "", 0.9, 0.6),
	}

	score := confidence.Aggregate(factors, string(model.StageSolve), p.cfg.Thresholds.Solve)

	return &solution.Solution, &model.StageResult{
		Stage:      model.StageSolve,
		Confidence: score,
		Escalated:  score.NeedsHITL,
	}
}

type parsedSolution struct {
	model.Solution
	llmConfidence float64
}

// parseSolution decodes the solver's JSON reply, falling back to treating
// the whole text as a plain answer when the reply is not valid JSON
func parseSolution(text string) parsedSolution {
	var resp solveResponse
	if err := json.Unmarshal([]byte(adapter.ExtractJSON(text)), &resp); err == nil && resp.Answer != "" {
		return parsedSolution{
			Solution: model.Solution{
				Answer: resp.Answer,
				Steps:  resp.Steps,
				Check:  resp.Check,
			},
			llmConfidence: confidence.Coerce(resp.Confidence),
		}
	}

	trimmed := strings.TrimSpace(text)
	return parsedSolution{
		Solution: model.Solution{
			Answer: trimmed,
			Steps:  []string{trimmed},
		},
		llmConfidence: confidence.Coerce(nil),
	}
}

// generateWithTools runs the Gemini request with the calculator registry
// attached, feeding tool results back until the model stops calling tools
func (p *Pipeline) generateWithTools(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	config := &genai.GenerateContentConfig{}
	if p.registry != nil {
		config.Tools = p.registry.Specs()
	}

	var finalText string
	for i := 0; i < maxToolIterations; i++ {
		resp, err := p.gemini.GenerateContent(ctx, contents, config)
		if err != nil {
			return "", goerr.Wrap(err, "failed to generate solution")
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return "", goerr.New("invalid response structure from gemini")
		}

		hasFunctionCall := false
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			contents = append(contents, candidate.Content)

			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					finalText = part.Text
				}
				if part.FunctionCall == nil {
					continue
				}

				hasFunctionCall = true
				funcResp, execErr := p.registry.Execute(ctx, *part.FunctionCall)
				if execErr != nil {
					funcResp = &genai.FunctionResponse{
						Name:     part.FunctionCall.Name,
						Response: map[string]any{"error": execErr.Error()},
					}
				}
				logging.From(ctx).Debug("solver tool call",
					"tool", part.FunctionCall.Name,
					"failed", execErr != nil,
				)
				contents = append(contents, &genai.Content{
					Role:  genai.RoleUser,
					Parts: []*genai.Part{{FunctionResponse: funcResp}},
				})
			}
		}

		if !hasFunctionCall {
			break
		}
	}

	if finalText == "" {
		return "", goerr.New("solver produced no text output")
	}
	return finalText, nil
}

func degradedSolution(ctx context.Context, cause error) (*model.Solution, *model.StageResult) {
	logging.From(ctx).Warn("solve stage degraded", "error", cause)

	const degradedScore = 0.2
	solution := &model.Solution{
		Answer:   "unable to solve",
		Steps:    []string{"the solver backend was unavailable"},
		Degraded: true,
	}

	return solution, &model.StageResult{
		Stage: model.StageSolve,
		Confidence: model.ConfidenceScore{
			Score:     degradedScore,
			Level:     model.LevelOf(degradedScore),
			Source:    string(model.StageSolve),
			Factors:   map[string]float64{"degraded": degradedScore},
			NeedsHITL: true,
			Reason:    "solver failed",
		},
		Escalated: true,
		Error:     cause.Error(),
	}
}

// formatRetrievalContext renders retrieved chunks as cited excerpt blocks
func formatRetrievalContext(result *model.RetrievalResult) string {
	if result == nil || len(result.Chunks) == 0 {
		return ""
	}

	var b strings.Builder
	for _, chunk := range result.Chunks {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", chunk.Citation().String(), chunk.Text)
	}
	return b.String()
}

// formatMemoryContext renders at most maxMemoryExamples similar episodes
func formatMemoryContext(similar []*model.SimilarRecord) string {
	if len(similar) == 0 {
		return ""
	}

	var b strings.Builder
	for i, rec := range similar {
		if i >= maxMemoryExamples {
			break
		}
		fmt.Fprintf(&b, "Problem: %s\nAnswer: %s\n", rec.Input, rec.Answer)
		if rec.Feedback == model.FeedbackIncorrect && rec.Correction != "" {
			fmt.Fprintf(&b, "Note: the answer above was marked incorrect; the correction was: %s\n", rec.Correction)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func collectCitations(chunks []model.RetrievedChunk) []model.Citation {
	seen := make(map[string]bool)
	var citations []model.Citation
	for _, chunk := range chunks {
		c := chunk.Citation()
		key := c.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		citations = append(citations, c)
	}
	return citations
}

func ragCoverage(useRetrieval bool, result *model.RetrievalResult) float64 {
	if !useRetrieval {
		return 0.9
	}
	if result != nil && result.Count > 0 {
		return 0.9
	}
	return 0.3
}
