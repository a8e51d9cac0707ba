package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"xp-integrity-service/internal/config"
)

// NewLeaderboardCmd groups read-only leaderboard queries.
func NewLeaderboardCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Inspect the projected leaderboard",
	}

	var (
		region string
		limit  int
	)
	top := &cobra.Command{
		Use:   "top",
		Short: "Print the highest ranked actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			rt, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			entries, err := rt.projector.Top(ctx, region, limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%d\n", e.Rank, e.ActorID, e.TotalPoints)
			}
			return nil
		},
	}
	top.Flags().StringVar(&region, "region", "", "restrict to one region")
	top.Flags().IntVar(&limit, "limit", 10, "number of rows")
	cmd.AddCommand(top)
	return cmd
}
