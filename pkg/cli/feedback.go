package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sensei/pkg/model"
	"github.com/urfave/cli/v3"
)

func feedbackCommand() *cli.Command {
	var (
		cfg        config
		correction string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "correction",
			Usage:       "The right answer, when marking a record incorrect",
			Destination: &correction,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:      "feedback",
		Usage:     "Rate a solved problem",
		ArgsUsage: "<record-id> <correct|incorrect>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			if c.Args().Len() != 2 {
				return goerr.New("usage: feedback <record-id> <correct|incorrect>")
			}

			id, err := strconv.ParseInt(c.Args().Get(0), 10, 64)
			if err != nil {
				return goerr.Wrap(err, "invalid record id", goerr.V("arg", c.Args().Get(0)))
			}

			feedback := model.Feedback(c.Args().Get(1))
			if err := feedback.Validate(); err != nil {
				return err
			}

			repo, err := cfg.newRepository()
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.UpdateFeedback(ctx, model.RecordID(id), feedback, correction); err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Record %d marked %s\n", id, feedback)
			return nil
		},
	}
}
