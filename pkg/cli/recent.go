package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/sensei/pkg/model"
	"github.com/urfave/cli/v3"
)

func recentCommand() *cli.Command {
	var (
		cfg   config
		limit int64
		topic string
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of records to show",
			Value:       10,
			Destination: &limit,
		},
		&cli.StringFlag{
			Name:        "topic",
			Aliases:     []string{"t"},
			Usage:       "Only show records of this topic",
			Destination: &topic,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "recent",
		Usage: "List recently solved problems",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			repo, err := cfg.newRepository()
			if err != nil {
				return err
			}
			defer repo.Close()

			records, err := repo.ListRecent(ctx, int(limit), model.Topic(topic))
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if len(records) == 0 {
				fmt.Fprintln(w, "No records yet")
				return nil
			}

			for _, rec := range records {
				feedback := string(rec.Feedback)
				if feedback == "" {
					feedback = "-"
				}
				fmt.Fprintf(w, "%6d  %s  %-16s  %-9s  %.2f  %s\n",
					rec.ID,
					rec.CreatedAt.Format("2006-01-02 15:04"),
					rec.Topic,
					feedback,
					rec.VerifierConfidence,
					truncate(rec.Input, 60),
				)
			}
			return nil
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
