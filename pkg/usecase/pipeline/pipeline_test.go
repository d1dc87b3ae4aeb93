package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/sensei/pkg/model"
	"github.com/m-mizutani/sensei/pkg/rag"
	"github.com/m-mizutani/sensei/pkg/repository"
	"github.com/m-mizutani/sensei/pkg/tool"
	"github.com/m-mizutani/sensei/pkg/tool/calculator"
	"github.com/m-mizutani/sensei/pkg/usecase/pipeline"
	"google.golang.org/genai"
)

// mockGemini is a mock implementation of adapter.Gemini for testing
type mockGemini struct {
	generateFunc  func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	embeddingFunc func(ctx context.Context, text string) (*genai.EmbedContentResponse, error)
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if m.generateFunc != nil {
		return m.generateFunc(ctx, contents, config)
	}
	return nil, errors.New("not implemented")
}

func (m *mockGemini) Embedding(ctx context.Context, text string) (*genai.EmbedContentResponse, error) {
	if m.embeddingFunc != nil {
		return m.embeddingFunc(ctx, text)
	}
	return &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: []float32{1, 0, 0}}},
	}, nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: text}},
			},
		}},
	}
}

// scriptedGemini answers each stage prompt with a canned response and
// records which stages were invoked
type scriptedGemini struct {
	mockGemini

	calls     []string
	responses map[string]func() (*genai.GenerateContentResponse, error)
}

// stageMarkers identify each stage by a phrase unique to its prompt
var stageMarkers = map[string]string{
	"parse":   "parsing front-end",
	"route":   "strategy note",
	"verify":  "review a candidate solution",
	"solve":   "the solver of a math tutoring system",
	"explain": "student-facing explanation",
}

func newScriptedGemini() *scriptedGemini {
	s := &scriptedGemini{
		responses: make(map[string]func() (*genai.GenerateContentResponse, error)),
	}
	s.generateFunc = func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		prompt := contents[0].Parts[0].Text
		for stage, marker := range stageMarkers {
			if strings.Contains(prompt, marker) {
				s.calls = append(s.calls, stage)
				if fn, ok := s.responses[stage]; ok {
					return fn()
				}
				return nil, errors.New("no scripted response for " + stage)
			}
		}
		return nil, errors.New("unrecognized prompt")
	}
	return s
}

func (s *scriptedGemini) respond(stage, text string) {
	s.responses[stage] = func() (*genai.GenerateContentResponse, error) {
		return textResponse(text), nil
	}
}

func (s *scriptedGemini) fail(stage string, err error) {
	s.responses[stage] = func() (*genai.GenerateContentResponse, error) {
		return nil, err
	}
}

func (s *scriptedGemini) called(stage string) bool {
	for _, c := range s.calls {
		if c == stage {
			return true
		}
	}
	return false
}

const (
	parseQuadratic = `{"clean_text":"Solve x^2 - 5*x + 6 = 0","primary_topic":"algebra",` +
		`"secondary_topics":[],"variables":["x"],"constraints":[],"problem_type":"equation",` +
		`"needs_clarification":false,"confidence":0.9}`

	solveQuadratic = `{"answer":"x = 2 or x = 3","steps":["Factor: (x - 2)*(x - 3) = 0",` +
		`"Apply the zero product rule"],"check":"2^2 - 5*2 + 6 = 0","confidence":0.9}`

	verifyPass = `{"logical_consistency":true,"completeness":true,"reasonableness":true,` +
		`"issues":[],"suggestions":[],"confidence":0.9}`

	explainQuadratic = `{"problem_overview":"A quadratic equation in x.",` +
		`"approach":"Factorization","steps":[{"step_number":1,"action":"Factor",` +
		`"explanation":"Split into (x - 2)(x - 3)","formula_used":"zero product rule"}],` +
		`"final_answer":"x = 2 or x = 3","key_concepts":["factorization"]}`
)

func scriptQuadratic(s *scriptedGemini) {
	s.respond("parse", parseQuadratic)
	s.respond("route", "Factor the quadratic and apply the zero product rule.")
	s.respond("solve", solveQuadratic)
	s.respond("verify", verifyPass)
	s.respond("explain", explainQuadratic)
}

// quadraticIndex builds a tiny knowledge index whose stub embedding makes
// every chunk maximally relevant
func quadraticIndex(t *testing.T) *rag.Retriever {
	t.Helper()

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	}
	index := rag.NewMemoryIndex(embed)
	gt.NoError(t, index.Rebuild(context.Background(), []model.KnowledgeChunk{
		{
			ID:      "algebra_notes.md#0000",
			Text:    "A quadratic a*x^2 + b*x + c = 0 factors when its discriminant is a perfect square.",
			Source:  "algebra_notes.md",
			Section: "Quadratic equations",
		},
	}))

	return rag.NewRetriever(index)
}

func newTestPipeline(t *testing.T, gemini *scriptedGemini, repo repository.Repository) *pipeline.Pipeline {
	t.Helper()

	p, err := pipeline.New(pipeline.Input{
		Gemini:     gemini,
		Retriever:  quadraticIndex(t),
		Repository: repo,
		Registry:   tool.New(calculator.New()),
	})
	gt.NoError(t, err)
	return p
}

func TestRunQuadraticEndToEnd(t *testing.T) {
	ctx := context.Background()
	gemini := newScriptedGemini()
	scriptQuadratic(gemini)
	repo := repository.NewMemory()

	p := newTestPipeline(t, gemini, repo)
	outcome := p.Run(ctx, "Solve x² - 5x + 6 = 0", model.ModalityText)

	gt.V(t, outcome.Status).Equal(model.OutcomeSuccess)
	gt.V(t, outcome.RunID).NotEqual(model.RunID(""))

	gt.A(t, outcome.Trace).Length(5)
	for _, entry := range outcome.Trace {
		gt.V(t, entry.Status).Equal(model.StageCompleted)
	}

	gt.V(t, outcome.Explanation).NotNil()
	gt.V(t, outcome.Explanation.FinalAnswer).Equal("x = 2 or x = 3")

	gt.V(t, outcome.Context.Verification.Verdict).Equal(model.VerdictPass)
	gt.V(t, outcome.Context.Route.Solver).Equal("algebraic_solver")
	gt.True(t, outcome.Results[model.StageVerify].Confidence.Score >= 0.7)

	// Citations came from the retrieved chunk
	gt.A(t, outcome.Context.Solution.Citations).Length(1)
	gt.V(t, outcome.Context.Solution.Citations[0].Source).Equal("algebra_notes.md")

	// Episode was persisted and is retrievable
	gt.V(t, outcome.RecordID).NotEqual(model.RecordID(0))
	record := gt.R1(repo.GetRecord(ctx, outcome.RecordID)).NoError(t)
	gt.V(t, record.Topic).Equal(model.TopicAlgebra)
	gt.V(t, record.Answer).Equal("x = 2 or x = 3")
	gt.A(t, record.Embedding).Length(3)
}

func TestRunParseEscalationStopsPipeline(t *testing.T) {
	ctx := context.Background()
	gemini := newScriptedGemini()
	gemini.respond("parse", `{"clean_text":"Find the value","primary_topic":"general",`+
		`"problem_type":"unknown","needs_clarification":true,`+
		`"clarification_question":"Find the value of what expression?",`+
		`"ambiguity_reason":"no target specified","confidence":0.4}`)

	p := newTestPipeline(t, gemini, repository.NewMemory())
	outcome := p.Run(ctx, "Find the value", model.ModalityText)

	gt.V(t, outcome.Status).Equal(model.OutcomeEscalationRequired)
	gt.V(t, outcome.Origin).Equal(model.StageParse)
	gt.V(t, outcome.Question).Equal("Find the value of what expression?")

	gt.A(t, outcome.Trace).Length(1)
	gt.V(t, outcome.Trace[0].Status).Equal(model.StageEscalated)

	// The hard stop means no downstream stage ever ran
	gt.False(t, gemini.called("route"))
	gt.False(t, gemini.called("solve"))
	gt.False(t, gemini.called("verify"))
	gt.False(t, gemini.called("explain"))
}

func TestRunSolveDegradation(t *testing.T) {
	ctx := context.Background()
	gemini := newScriptedGemini()
	scriptQuadratic(gemini)
	gemini.fail("solve", errors.New("backend unavailable"))

	p := newTestPipeline(t, gemini, repository.NewMemory())
	outcome := p.Run(ctx, "Solve x^2 - 5x + 6 = 0", model.ModalityText)

	// A degraded solver does not abort the run
	gt.V(t, outcome.Status).Equal(model.OutcomeSuccess)
	gt.V(t, outcome.Context.Solution.Answer).Equal("unable to solve")
	gt.True(t, outcome.Context.Solution.Degraded)
	gt.V(t, outcome.Results[model.StageSolve].Confidence.Score).Equal(0.2)
	gt.V(t, outcome.Results[model.StageSolve].Error).NotEqual("")
}

func TestRunVerifyEscalationIsAdvisory(t *testing.T) {
	ctx := context.Background()
	gemini := newScriptedGemini()
	scriptQuadratic(gemini)
	gemini.fail("verify", errors.New("backend unavailable"))

	p := newTestPipeline(t, gemini, repository.NewMemory())
	outcome := p.Run(ctx, "Solve x^2 - 5x + 6 = 0", model.ModalityText)

	// The run still completes with an explanation
	gt.V(t, outcome.Status).Equal(model.OutcomeSuccess)
	gt.V(t, outcome.Explanation).NotNil()
	gt.V(t, outcome.Context.Verification.Verdict).Equal(model.VerdictUncertain)
	gt.V(t, outcome.Results[model.StageVerify].Confidence.Score).Equal(0.5)

	var verifyEntry *model.TraceEntry
	for i := range outcome.Trace {
		if outcome.Trace[i].Stage == model.StageVerify {
			verifyEntry = &outcome.Trace[i]
		}
	}
	gt.V(t, verifyEntry).NotNil()
	gt.V(t, verifyEntry.Status).Equal(model.StageEscalated)

	gt.True(t, gemini.called("explain"))
}

func TestRunEmptyInput(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, newScriptedGemini(), repository.NewMemory())

	outcome := p.Run(ctx, "   ", model.ModalityText)
	gt.V(t, outcome.Status).Equal(model.OutcomeFailure)
	gt.V(t, outcome.Err).NotNil()
}
