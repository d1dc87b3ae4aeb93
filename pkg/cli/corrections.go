package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/sensei/pkg/model"
	"github.com/urfave/cli/v3"
)

func correctionsCommand() *cli.Command {
	var (
		cfg   config
		limit int64
		topic string
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of corrections to show",
			Value:       10,
			Destination: &limit,
		},
		&cli.StringFlag{
			Name:        "topic",
			Aliases:     []string{"t"},
			Usage:       "Only show corrections of this topic",
			Destination: &topic,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "corrections",
		Usage: "List problems that were answered wrong, with their corrections",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			repo, err := cfg.newRepository()
			if err != nil {
				return err
			}
			defer repo.Close()

			records, err := repo.ListCorrections(ctx, model.Topic(topic), int(limit))
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if len(records) == 0 {
				fmt.Fprintln(w, "No corrections recorded")
				return nil
			}

			for _, rec := range records {
				fmt.Fprintf(w, "record %d (%s)\n", rec.ID, rec.Topic)
				fmt.Fprintf(w, "  problem:    %s\n", truncate(rec.Input, 70))
				fmt.Fprintf(w, "  answered:   %s\n", truncate(rec.Answer, 70))
				fmt.Fprintf(w, "  correction: %s\n\n", truncate(rec.Correction, 70))
			}
			return nil
		},
	}
}
