package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sensei/pkg/model"
	"github.com/m-mizutani/sensei/pkg/usecase/pipeline"
	"github.com/urfave/cli/v3"
)

// maxClarifications bounds the interactive clarification loop
const maxClarifications = 3

func solveCommand() *cli.Command {
	var (
		cfg     config
		noInput bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "no-input",
			Usage:       "Never prompt; print the clarification question and exit",
			Destination: &noInput,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, pipelineFlags(&cfg)...)

	return &cli.Command{
		Name:      "solve",
		Usage:     "Solve a problem statement",
		ArgsUsage: "<problem>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			problem := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if problem == "" {
				return goerr.New("problem statement is required")
			}

			p, repo, err := cfg.newPipeline(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			w := c.Root().Writer

			for attempt := 0; attempt <= maxClarifications; attempt++ {
				outcome := runWithSpinner(ctx, p, problem)

				switch outcome.Status {
				case model.OutcomeSuccess:
					printSuccess(w, outcome)
					return nil

				case model.OutcomeFailure:
					return goerr.Wrap(outcome.Err, "pipeline failed", goerr.V("run_id", outcome.RunID))

				case model.OutcomeEscalationRequired:
					fmt.Fprintf(w, "This problem needs your input (%s stage):\n\n  %s\n\n", outcome.Origin, outcome.Question)
					if noInput || attempt == maxClarifications {
						return nil
					}

					answer, err := askClarification()
					if err != nil || answer == "" {
						return nil
					}
					problem = problem + "\nClarification: " + answer
				}
			}

			return nil
		},
	}
}

func runWithSpinner(ctx context.Context, p *pipeline.Pipeline, problem string) *model.Outcome {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " solving..."
	s.Start()
	defer s.Stop()

	return p.Run(ctx, problem, model.ModalityText)
}

func askClarification() (string, error) {
	rl, err := readline.New("clarify> ")
	if err != nil {
		return "", goerr.Wrap(err, "failed to open prompt")
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func printSuccess(w io.Writer, outcome *model.Outcome) {
	fmt.Fprintln(w, outcome.Explanation.Markdown())

	if verification := outcome.Context.Verification; verification != nil && verification.Verdict != model.VerdictPass {
		fmt.Fprintf(w, "\n> Verifier verdict: %s\n", verification.Verdict)
		for _, issue := range verification.Issues {
			fmt.Fprintf(w, "> - %s\n", issue)
		}
	}

	fmt.Fprintf(w, "\n---\n")
	for _, stage := range []model.Stage{model.StageParse, model.StageRoute, model.StageSolve, model.StageVerify, model.StageExplain} {
		if result, ok := outcome.Results[stage]; ok {
			fmt.Fprintf(w, "%-8s %.2f (%s)\n", stage, result.Confidence.Score, result.Confidence.Level)
		}
	}
	if outcome.RecordID != 0 {
		fmt.Fprintf(w, "\nSaved as record %d. Rate it with: sensei feedback %d correct|incorrect\n",
			outcome.RecordID, outcome.RecordID)
	}
}
