package pipeline

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"unicode"

	"github.com/m-mizutani/sensei/pkg/adapter"
	"github.com/m-mizutani/sensei/pkg/confidence"
	"github.com/m-mizutani/sensei/pkg/model"
	"github.com/m-mizutani/sensei/pkg/tool/calculator"
	"github.com/m-mizutani/sensei/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/verify.md
var verifyPromptRaw string

var verifyPromptTmpl = template.Must(template.New("verify").Parse(verifyPromptRaw))

// equationTolerance is the relative error allowed when re-checking the
// solver's arithmetic
const equationTolerance = 1e-3

// numericEquationPattern matches purely numeric "lhs = rhs" fragments that
// can be re-evaluated without symbol bindings
var numericEquationPattern = regexp.MustCompile(`([0-9][0-9.\s+\-*/^()]*)=([0-9.\s+\-*/^()]*[0-9])`)

var firstNumberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

var trigValuePattern = regexp.MustCompile(`(?:sin|cos)\s*\([^)]*\)\s*=\s*(-?\d+(?:\.\d+)?)`)

type verifyResponse struct {
	LogicalConsistency bool     `json:"logical_consistency"`
	Completeness       bool     `json:"completeness"`
	Reasonableness     bool     `json:"reasonableness"`
	Issues             []string `json:"issues"`
	Suggestions        []string `json:"suggestions"`
	Confidence         any      `json:"confidence"`
}

var verifyResponseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"logical_consistency": {Type: genai.TypeBoolean, Description: "Steps follow from one another"},
		"completeness":        {Type: genai.TypeBoolean, Description: "Everything asked is addressed"},
		"reasonableness":      {Type: genai.TypeBoolean, Description: "Final answer is plausible"},
		"issues":              {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"suggestions":         {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"confidence":          {Type: genai.TypeNumber, Description: "Review confidence in [0,1]"},
	},
	Required: []string{"logical_consistency", "completeness", "reasonableness", "confidence"},
}

// runVerify reviews the candidate solution with mechanical checks first
// (domain constraints, arithmetic re-evaluation, deployment policy) and an
// LLM consistency review second. An unavailable LLM degrades the verdict to
// uncertain and escalates.
func (p *Pipeline) runVerify(ctx context.Context, pctx *model.ProblemContext, solverScore float64) (*model.Verification, *model.StageResult) {
	parsed := pctx.Parsed
	solution := pctx.Solution

	arithmeticIssues := checkArithmetic(solution)
	domainIssues := checkDomainConstraints(parsed, solution)

	if p.policy != nil {
		violations, err := p.policy.CheckSolution(ctx, parsed, solution)
		if err != nil {
			logging.From(ctx).Warn("verify policy evaluation failed", "error", err)
		}
		domainIssues = append(domainIssues, violations...)
	}

	findings := append(append([]string{}, arithmeticIssues...), domainIssues...)

	review, reviewErr := p.llmReview(ctx, parsed, solution, findings)
	if reviewErr != nil {
		return degradedVerification(ctx, findings, reviewErr)
	}

	factors := map[string]float64{
		"logical_consistency":      pick(review.LogicalConsistency, 0.95, 0.4),
		"mathematical_correctness": pick(len(arithmeticIssues) == 0, 0.95, 0.3),
		"completeness":             pick(review.Completeness, 0.9, 0.5),
		"reasonableness":           pick(review.Reasonableness, 0.9, 0.4),
		"no_domain_violations":     pick(len(domainIssues) == 0, 0.9, 0.3),
		"solver_confidence":        solverScore,
		"llm_verification":         confidence.Coerce(review.Confidence),
	}

	score := confidence.Aggregate(factors, string(model.StageVerify), p.cfg.Thresholds.Verify)

	issues := append(findings, review.Issues...)
	verification := &model.Verification{
		Verdict:     verdictOf(score.Score, issues),
		Issues:      issues,
		Suggestions: review.Suggestions,
	}

	return verification, &model.StageResult{
		Stage:      model.StageVerify,
		Confidence: score,
		Escalated:  score.NeedsHITL,
	}
}

func verdictOf(score float64, issues []string) model.Verdict {
	switch {
	case score >= 0.8 && len(issues) == 0:
		return model.VerdictPass
	case score >= 0.5:
		return model.VerdictUncertain
	default:
		return model.VerdictFail
	}
}

func (p *Pipeline) llmReview(ctx context.Context, parsed *model.ParsedProblem, solution *model.Solution, findings []string) (*verifyResponse, error) {
	var buf bytes.Buffer
	if err := verifyPromptTmpl.Execute(&buf, map[string]any{
		"CleanText":   parsed.CleanText,
		"Topic":       parsed.PrimaryTopic,
		"ProblemType": parsed.ProblemType,
		"Answer":      solution.Answer,
		"Steps":       solution.Steps,
		"Check":       solution.Check,
		"Findings":    findings,
	}); err != nil {
		return nil, err
	}

	resp, err := p.gemini.GenerateContent(ctx,
		[]*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   verifyResponseSchema,
		},
	)
	if err != nil {
		return nil, err
	}

	text, err := adapter.ResponseText(resp)
	if err != nil {
		return nil, err
	}

	var review verifyResponse
	if err := json.Unmarshal([]byte(adapter.ExtractJSON(text)), &review); err != nil {
		return nil, err
	}

	return &review, nil
}

func degradedVerification(ctx context.Context, findings []string, cause error) (*model.Verification, *model.StageResult) {
	logging.From(ctx).Warn("verify stage degraded", "error", cause)

	const degradedScore = 0.5
	verification := &model.Verification{
		Verdict: model.VerdictUncertain,
		Issues:  findings,
	}

	return verification, &model.StageResult{
		Stage: model.StageVerify,
		Confidence: model.ConfidenceScore{
			Score:     degradedScore,
			Level:     model.LevelOf(degradedScore),
			Source:    string(model.StageVerify),
			Factors:   map[string]float64{"degraded": degradedScore},
			NeedsHITL: true,
			Reason:    "verification review failed",
		},
		Escalated: true,
		Error:     cause.Error(),
	}
}

// functionNameStripper removes the evaluator functions that may
// legitimately appear in an otherwise numeric equation
var functionNameStripper = strings.NewReplacer(
	"sqrt", "", "sin", "", "cos", "", "tan", "",
	"log", "", "exp", "", "abs", "", "pi", "",
)

// isNumericLine reports whether a line contains no free symbols, so every
// equation in it can be re-evaluated without variable bindings
func isNumericLine(line string) bool {
	stripped := functionNameStripper.Replace(strings.ToLower(line))
	for _, r := range stripped {
		if unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// checkArithmetic re-evaluates every purely numeric equation found in the
// solution steps with the calculator. Lines with free symbols are skipped:
// "x^2 - 5x + 6 = 0" cannot be checked without a binding for x.
func checkArithmetic(solution *model.Solution) []string {
	var issues []string

	lines := append(append([]string{}, solution.Steps...), solution.Check)
	for _, line := range lines {
		if !isNumericLine(line) {
			continue
		}
		for _, match := range numericEquationPattern.FindAllStringSubmatch(line, -1) {
			lhs := strings.TrimSpace(match[1])
			rhs := strings.TrimSpace(match[2])
			if lhs == "" || rhs == "" {
				continue
			}

			holds, left, right, err := calculator.VerifyEquation(lhs+" = "+rhs, equationTolerance)
			if err != nil {
				continue
			}
			if !holds {
				issues = append(issues, fmt.Sprintf("arithmetic check failed: %s = %s (evaluates to %g vs %g)", lhs, rhs, left, right))
			}
		}
	}

	return issues
}

// checkDomainConstraints applies topic-specific validity rules to the answer
func checkDomainConstraints(parsed *model.ParsedProblem, solution *model.Solution) []string {
	var issues []string

	switch parsed.PrimaryTopic {
	case model.TopicProbability:
		if v, ok := firstNumber(solution.Answer); ok && (v < 0 || v > 1) {
			issues = append(issues, fmt.Sprintf("probability %g is outside [0, 1]", v))
		}
	case model.TopicTrigonometry:
		for _, line := range append(solution.Steps, solution.Answer) {
			for _, match := range trigValuePattern.FindAllStringSubmatch(line, -1) {
				if v, err := strconv.ParseFloat(match[1], 64); err == nil && (v < -1 || v > 1) {
					issues = append(issues, fmt.Sprintf("sin/cos value %g is outside [-1, 1]", v))
				}
			}
		}
	}

	return issues
}

func firstNumber(s string) (float64, bool) {
	match := firstNumberPattern.FindString(s)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
