package pipeline

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"
	"unicode"

	"github.com/m-mizutani/sensei/pkg/adapter"
	"github.com/m-mizutani/sensei/pkg/confidence"
	"github.com/m-mizutani/sensei/pkg/model"
	"github.com/m-mizutani/sensei/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/parse.md
var parsePromptRaw string

var parsePromptTmpl = template.Must(template.New("parse").Parse(parsePromptRaw))

// topicKeywords drives the heuristic topic detection that backs up (and
// sanity-checks) the LLM's classification
var topicKeywords = map[model.Topic][]string{
	model.TopicAlgebra:         {"equation", "polynomial", "quadratic", "roots", "factor", "inequality", "logarithm"},
	model.TopicCalculus:        {"derivative", "integral", "differentiate", "integrate", "limit", "maxima", "minima", "tangent"},
	model.TopicTrigonometry:    {"sin", "cos", "tan", "angle", "triangle", "radian", "identity"},
	model.TopicProbability:     {"probability", "dice", "coin", "random", "event", "odds"},
	model.TopicStatistics:      {"mean", "median", "variance", "deviation", "distribution"},
	model.TopicGeometry:        {"circle", "radius", "area", "perimeter", "polygon", "coordinate", "line segment"},
	model.TopicNumberTheory:    {"divisible", "prime", "remainder", "modulo", "gcd", "lcm", "integer solutions"},
	model.TopicCombinatorics:   {"permutation", "combination", "arrangements", "choose", "ways to"},
	model.TopicMatrices:        {"matrix", "determinant", "eigen", "inverse of"},
	model.TopicVectors:         {"vector", "dot product", "cross product", "magnitude"},
	model.TopicComplexNumbers:  {"complex number", "imaginary", "argand", "modulus of z"},
	model.TopicSequencesSeries: {"sequence", "series", "arithmetic progression", "geometric progression", "sum of terms"},
}

var notationReplacer = strings.NewReplacer(
	"²", "^2",
	"³", "^3",
	"×", "*",
	"÷", "/",
	"√", "sqrt",
	"π", "pi",
	"−", "-",
	"≤", "<=",
	"≥", ">=",
	"≠", "!=",
)

// normalizeNotation rewrites common unicode math notation into ASCII
func normalizeNotation(text string) string {
	return notationReplacer.Replace(text)
}

// detectTopic scans for topic keywords; the first topic whose keyword
// matches wins, scored by total hits
func detectTopic(text string) (model.Topic, bool) {
	lower := strings.ToLower(text)

	best := model.TopicGeneral
	bestHits := 0
	for _, topic := range orderedTopics {
		hits := 0
		for _, kw := range topicKeywords[topic] {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best = topic
			bestHits = hits
		}
	}

	return best, bestHits > 0
}

// orderedTopics fixes the iteration order so keyword ties resolve the same
// way on every run
var orderedTopics = []model.Topic{
	model.TopicAlgebra,
	model.TopicCalculus,
	model.TopicTrigonometry,
	model.TopicProbability,
	model.TopicStatistics,
	model.TopicGeometry,
	model.TopicNumberTheory,
	model.TopicCombinatorics,
	model.TopicMatrices,
	model.TopicVectors,
	model.TopicComplexNumbers,
	model.TopicSequencesSeries,
}

// extractVariables finds standalone single-letter symbols. The letters a, i
// and o are skipped since they are almost always words, not variables.
func extractVariables(text string) []string {
	seen := make(map[rune]bool)
	var vars []string

	runes := []rune(text)
	for idx, r := range runes {
		if !unicode.IsLetter(r) || unicode.IsUpper(r) {
			continue
		}
		if r == 'a' || r == 'i' || r == 'o' {
			continue
		}
		prevOK := idx == 0 || !unicode.IsLetter(runes[idx-1])
		nextOK := idx == len(runes)-1 || !unicode.IsLetter(runes[idx+1])
		if prevOK && nextOK && !seen[r] {
			seen[r] = true
			vars = append(vars, string(r))
		}
	}

	return vars
}

type parseResponse struct {
	CleanText             string   `json:"clean_text"`
	PrimaryTopic          string   `json:"primary_topic"`
	SecondaryTopics       []string `json:"secondary_topics"`
	Variables             []string `json:"variables"`
	Constraints           []string `json:"constraints"`
	ProblemType           string   `json:"problem_type"`
	NeedsClarification    bool     `json:"needs_clarification"`
	ClarificationQuestion string   `json:"clarification_question"`
	AmbiguityReason       string   `json:"ambiguity_reason"`
	Confidence            any      `json:"confidence"`
}

var parseResponseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"clean_text":             {Type: genai.TypeString, Description: "Problem restated in standard notation"},
		"primary_topic":          {Type: genai.TypeString, Description: "Primary topic classification"},
		"secondary_topics":       {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"variables":              {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"constraints":            {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"problem_type":           {Type: genai.TypeString, Description: "e.g. equation, proof, optimization"},
		"needs_clarification":    {Type: genai.TypeBoolean},
		"clarification_question": {Type: genai.TypeString},
		"ambiguity_reason":       {Type: genai.TypeString},
		"confidence":             {Type: genai.TypeNumber, Description: "Interpretation confidence in [0,1]"},
	},
	Required: []string{"clean_text", "primary_topic", "problem_type", "needs_clarification"},
}

// runParse analyzes the raw statement into a ParsedProblem. Internal
// failures degrade into a clarification request instead of propagating.
func (p *Pipeline) runParse(ctx context.Context, pctx *model.ProblemContext) (*model.ParsedProblem, *model.StageResult) {
	normalized := normalizeNotation(pctx.Input)
	detected, topicFound := detectTopic(normalized)
	vars := extractVariables(normalized)

	var buf bytes.Buffer
	if err := parsePromptTmpl.Execute(&buf, map[string]any{
		"Input":         normalized,
		"DetectedTopic": detected,
		"Variables":     vars,
	}); err != nil {
		return p.degradedParse(ctx, normalized, detected, err)
	}

	resp, err := p.gemini.GenerateContent(ctx,
		[]*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   parseResponseSchema,
		},
	)
	if err != nil {
		return p.degradedParse(ctx, normalized, detected, err)
	}

	text, err := adapter.ResponseText(resp)
	if err != nil {
		return p.degradedParse(ctx, normalized, detected, err)
	}

	var analysis parseResponse
	if err := json.Unmarshal([]byte(adapter.ExtractJSON(text)), &analysis); err != nil {
		return p.degradedParse(ctx, normalized, detected, err)
	}

	parsed := &model.ParsedProblem{
		CleanText:             strings.TrimSpace(analysis.CleanText),
		PrimaryTopic:          parseTopic(analysis.PrimaryTopic, detected),
		Variables:             analysis.Variables,
		Constraints:           analysis.Constraints,
		ProblemType:           analysis.ProblemType,
		NeedsClarification:    analysis.NeedsClarification,
		ClarificationQuestion: analysis.ClarificationQuestion,
		AmbiguityReason:       analysis.AmbiguityReason,
	}
	if parsed.CleanText == "" {
		parsed.CleanText = normalized
	}
	if len(parsed.Variables) == 0 {
		parsed.Variables = vars
	}
	for _, st := range analysis.SecondaryTopics {
		if topic := parseTopic(st, ""); topic != "" && topic != parsed.PrimaryTopic {
			parsed.SecondaryTopics = append(parsed.SecondaryTopics, topic)
		}
	}
	if parsed.NeedsClarification && parsed.ClarificationQuestion == "" {
		parsed.ClarificationQuestion = "Could you restate the problem with the missing details?"
	}

	factors := map[string]float64{
		"source_reliability": sourceReliability(pctx.Modality),
		"topic_detection":    pick(topicFound, 0.9, 0.6),
		"llm_confidence":     confidence.Coerce(analysis.Confidence),
		"has_variables":      pick(len(parsed.Variables) > 0, 0.9, 0.5),
		"not_ambiguous":      pick(!parsed.NeedsClarification, 0.9, 0.1),
	}

	score := confidence.Aggregate(factors, string(model.StageParse), p.cfg.Thresholds.Parse)

	result := &model.StageResult{
		Stage:      model.StageParse,
		Confidence: score,
		Escalated:  score.NeedsHITL || parsed.NeedsClarification,
	}
	if result.Escalated {
		result.Question = escalationQuestion(parsed, score)
	}

	return parsed, result
}

// degradedParse is the fallback when the LLM analysis is unavailable: the
// heuristics still produce a usable ParsedProblem, but it always asks for
// clarification at depressed confidence.
func (p *Pipeline) degradedParse(ctx context.Context, normalized string, detected model.Topic, cause error) (*model.ParsedProblem, *model.StageResult) {
	logging.From(ctx).Warn("parse stage degraded", "error", cause)

	parsed := &model.ParsedProblem{
		CleanText:             normalized,
		PrimaryTopic:          detected,
		Variables:             extractVariables(normalized),
		ProblemType:           "unknown",
		NeedsClarification:    true,
		ClarificationQuestion: "Could you restate the problem? It could not be analyzed automatically.",
		AmbiguityReason:       "automatic analysis unavailable",
	}

	const degradedScore = 0.3
	return parsed, &model.StageResult{
		Stage: model.StageParse,
		Confidence: model.ConfidenceScore{
			Score:     degradedScore,
			Level:     model.LevelOf(degradedScore),
			Source:    string(model.StageParse),
			Factors:   map[string]float64{"degraded": degradedScore},
			NeedsHITL: true,
			Reason:    "parse analysis failed",
		},
		Escalated: true,
		Question:  parsed.ClarificationQuestion,
		Error:     cause.Error(),
	}
}

func escalationQuestion(parsed *model.ParsedProblem, score model.ConfidenceScore) string {
	if parsed.ClarificationQuestion != "" {
		return parsed.ClarificationQuestion
	}
	return "Could you rephrase the problem more precisely? (" + score.Reason + ")"
}

func parseTopic(raw string, fallback model.Topic) model.Topic {
	topic := model.Topic(strings.ToLower(strings.TrimSpace(raw)))
	switch topic {
	case model.TopicAlgebra, model.TopicCalculus, model.TopicTrigonometry,
		model.TopicProbability, model.TopicStatistics, model.TopicGeometry,
		model.TopicNumberTheory, model.TopicCombinatorics, model.TopicMatrices,
		model.TopicVectors, model.TopicComplexNumbers, model.TopicSequencesSeries,
		model.TopicGeneral:
		return topic
	default:
		return fallback
	}
}

func sourceReliability(m model.Modality) float64 {
	if m == model.ModalityText {
		return 1.0
	}
	return 0.8
}

func pick(cond bool, yes, no float64) float64 {
	if cond {
		return yes
	}
	return no
}
