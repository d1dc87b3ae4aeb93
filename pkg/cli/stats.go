package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func statsCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "stats",
		Usage: "Show memory store statistics",
		Flags: globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			repo, err := cfg.newRepository()
			if err != nil {
				return err
			}
			defer repo.Close()

			stats, err := repo.Stats(ctx)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "Total records:            %d\n", stats.Total)
			fmt.Fprintf(w, "Mean verifier confidence: %.2f\n", stats.MeanVerifierConfidence)

			if len(stats.ByTopic) > 0 {
				fmt.Fprintln(w, "\nBy topic:")
				for topic, count := range stats.ByTopic {
					fmt.Fprintf(w, "  %-18s %d\n", topic, count)
				}
			}
			if len(stats.ByFeedback) > 0 {
				fmt.Fprintln(w, "\nBy feedback:")
				for feedback, count := range stats.ByFeedback {
					name := string(feedback)
					if name == "" {
						name = "(none)"
					}
					fmt.Fprintf(w, "  %-18s %d\n", name, count)
				}
			}
			return nil
		},
	}
}
