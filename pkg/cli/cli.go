// Package cli is the command-line surface of the tutoring agent.
package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "sensei",
		Usage: "Structured-problem tutoring agent",
		Commands: []*cli.Command{
			solveCommand(),
			indexCommand(),
			recentCommand(),
			feedbackCommand(),
			correctionsCommand(),
			statsCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
