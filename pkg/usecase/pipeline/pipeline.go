// Package pipeline runs the fixed Parse -> Route -> Solve -> Verify ->
// Explain stage graph over one problem statement, scoring every stage and
// escalating to a human when confidence falls below its threshold.
package pipeline

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sensei/pkg/adapter"
	"github.com/m-mizutani/sensei/pkg/input"
	"github.com/m-mizutani/sensei/pkg/model"
	"github.com/m-mizutani/sensei/pkg/policy"
	"github.com/m-mizutani/sensei/pkg/rag"
	"github.com/m-mizutani/sensei/pkg/repository"
	"github.com/m-mizutani/sensei/pkg/tool"
	"github.com/m-mizutani/sensei/pkg/utils/logging"
)

// Pipeline executes the stage graph. One instance is safe for sequential
// reuse; a single Run is strictly sequential.
type Pipeline struct {
	gemini    adapter.Gemini
	retriever *rag.Retriever
	repo      repository.Repository
	registry  *tool.Registry
	policy    *policy.Engine
	cfg       *Config
}

// Input carries the injected collaborators. Gemini is mandatory; everything
// else degrades gracefully when absent (no retrieval context, no memory, no
// tools, no policy).
type Input struct {
	Gemini     adapter.Gemini
	Retriever  *rag.Retriever
	Repository repository.Repository
	Registry   *tool.Registry
	Policy     *policy.Engine
	Config     *Config
}

func New(in Input) (*Pipeline, error) {
	if in.Gemini == nil {
		return nil, goerr.New("pipeline requires a gemini adapter")
	}
	cfg := in.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}

	return &Pipeline{
		gemini:    in.Gemini,
		retriever: in.Retriever,
		repo:      in.Repository,
		registry:  in.Registry,
		policy:    in.Policy,
		cfg:       cfg,
	}, nil
}

// Run executes the whole pipeline for one raw problem statement and always
// returns a well-formed Outcome: Success, EscalationRequired (a question for
// the student), or Failure (a stage broke its output contract).
func (p *Pipeline) Run(ctx context.Context, raw string, modality model.Modality) *model.Outcome {
	runID := model.NewRunID()
	logger := logging.From(ctx).With("run_id", runID)
	ctx = logging.With(ctx, logger)

	var trace []model.TraceEntry

	processor, err := input.ForModality(modality)
	if err != nil {
		return model.NewFailureOutcome(runID, err, trace)
	}
	processed, err := processor.Process(ctx, raw)
	if err != nil {
		return model.NewFailureOutcome(runID, goerr.Wrap(err, "failed to process input"), trace)
	}
	if processed.NeedsReview {
		return model.NewEscalationOutcome(runID, model.StageParse,
			"Please confirm the captured problem text: "+processed.CleanText, trace)
	}

	pctx := model.NewProblemContext(processed.CleanText, modality)
	results := make(map[model.Stage]*model.StageResult)

	// Parse: a low-confidence or ambiguous interpretation stops the run
	// before any solving happens
	start := time.Now()
	parsed, parseResult := p.runParse(ctx, pctx)
	results[model.StageParse] = parseResult
	trace = append(trace, traceEntry(parseResult, start))

	if err := parsed.Validate(); err != nil {
		return model.NewFailureOutcome(runID, goerr.Wrap(err, "parse stage broke its contract"), trace)
	}
	pctx = pctx.WithParsed(parsed)

	if parseResult.Escalated {
		logger.Info("parse escalated", "question", parseResult.Question)
		return model.NewEscalationOutcome(runID, model.StageParse, parseResult.Question, trace)
	}

	// The parse-text embedding serves both memory lookup and persistence.
	// Failure degrades to running without memory.
	embedding := p.embedParseText(ctx, parsed.CleanText)
	similar := p.findSimilar(ctx, embedding, parsed.PrimaryTopic)

	start = time.Now()
	route, routeResult := p.runRoute(ctx, pctx)
	results[model.StageRoute] = routeResult
	trace = append(trace, traceEntry(routeResult, start))

	if err := route.Validate(); err != nil {
		return model.NewFailureOutcome(runID, goerr.Wrap(err, "route stage broke its contract"), trace)
	}
	pctx = pctx.WithRoute(route)

	start = time.Now()
	solution, solveResult := p.runSolve(ctx, pctx, similar)
	results[model.StageSolve] = solveResult
	trace = append(trace, traceEntry(solveResult, start))

	if err := solution.Validate(); err != nil {
		return model.NewFailureOutcome(runID, goerr.Wrap(err, "solve stage broke its contract"), trace)
	}
	pctx = pctx.WithSolution(solution)

	start = time.Now()
	verification, verifyResult := p.runVerify(ctx, pctx, solveResult.Confidence.Score)
	results[model.StageVerify] = verifyResult
	trace = append(trace, traceEntry(verifyResult, start))

	if err := verification.Validate(); err != nil {
		return model.NewFailureOutcome(runID, goerr.Wrap(err, "verify stage broke its contract"), trace)
	}
	pctx = pctx.WithVerification(verification)

	// Verify escalation is advisory: the student still gets an explanation,
	// with the uncertainty visible in the trace and the verdict
	if verifyResult.Escalated {
		logger.Info("verification flagged for review",
			"verdict", verification.Verdict,
			"reason", verifyResult.Confidence.Reason,
		)
	}

	start = time.Now()
	explanation, explainResult := p.runExplain(ctx, pctx)
	results[model.StageExplain] = explainResult
	trace = append(trace, traceEntry(explainResult, start))

	if err := explanation.Validate(); err != nil {
		return model.NewFailureOutcome(runID, goerr.Wrap(err, "explain stage broke its contract"), trace)
	}
	pctx = pctx.WithExplanation(explanation)

	recordID := p.persist(ctx, pctx, verifyResult.Confidence.Score, embedding)

	return &model.Outcome{
		RunID:       runID,
		Status:      model.OutcomeSuccess,
		Trace:       trace,
		Results:     results,
		Context:     pctx,
		Explanation: explanation,
		RecordID:    recordID,
	}
}

func (p *Pipeline) embedParseText(ctx context.Context, text string) []float32 {
	resp, err := p.gemini.Embedding(ctx, text)
	if err != nil {
		logging.From(ctx).Warn("embedding unavailable, continuing without memory", "error", err)
		return nil
	}
	values, err := adapter.EmbeddingValues(resp)
	if err != nil {
		logging.From(ctx).Warn("embedding unavailable, continuing without memory", "error", err)
		return nil
	}
	return values
}

func (p *Pipeline) findSimilar(ctx context.Context, embedding []float32, topic model.Topic) []*model.SimilarRecord {
	if p.repo == nil || len(embedding) == 0 {
		return nil
	}

	similar, err := p.repo.FindSimilar(ctx, embedding, topic,
		p.cfg.Memory.SimilarityThreshold, p.cfg.Memory.SimilarLimit)
	if err != nil {
		logging.From(ctx).Warn("memory lookup failed", "error", err)
		return nil
	}
	return similar
}

// persist writes the completed episode to memory. Persistence failure never
// fails the run; the outcome just carries no record id.
func (p *Pipeline) persist(ctx context.Context, pctx *model.ProblemContext, verifierScore float64, embedding []float32) model.RecordID {
	if p.repo == nil {
		return 0
	}

	record := &model.MemoryRecord{
		CreatedAt:          time.Now(),
		Modality:           pctx.Modality,
		Input:              pctx.Input,
		Parsed:             pctx.Parsed,
		Topic:              pctx.Parsed.PrimaryTopic,
		Citations:          pctx.Solution.Citations,
		Answer:             pctx.Solution.Answer,
		Steps:              pctx.Solution.Steps,
		VerifierConfidence: verifierScore,
		Embedding:          embedding,
	}

	id, err := p.repo.PutRecord(ctx, record)
	if err != nil {
		logging.From(ctx).Warn("failed to persist memory record", "error", err)
		return 0
	}

	logging.From(ctx).Debug("memory record persisted", "record_id", id)
	return id
}

func traceEntry(result *model.StageResult, start time.Time) model.TraceEntry {
	entry := model.TraceEntry{
		Stage:    result.Stage,
		Status:   model.StageCompleted,
		Duration: time.Since(start),
	}

	switch {
	case result.Escalated:
		entry.Status = model.StageEscalated
		entry.Message = result.Confidence.Reason
		if entry.Message == "" {
			entry.Message = result.Question
		}
	case result.Error != "":
		entry.Status = model.StageFailed
		entry.Message = result.Error
	}

	return entry
}
