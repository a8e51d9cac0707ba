package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"xp-integrity-service/internal/config"
)

// NewReconcileCmd runs one reconciliation pass over recently active actors.
func NewReconcileCmd(configPath *string) *cobra.Command {
	var (
		lookback time.Duration
		actorID  string
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair leaderboard documents from the points aggregate and ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, *configPath, actorID, lookback)
		},
	}
	cmd.Flags().DurationVar(&lookback, "lookback", 24*time.Hour, "reconcile actors active within this window")
	cmd.Flags().StringVar(&actorID, "actor", "", "reconcile a single actor")
	return cmd
}

func runReconcile(cmd *cobra.Command, configPath, actorID string, lookback time.Duration) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	if actorID != "" {
		report, err := rt.reconciler.ReconcileActor(ctx, actorID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\tpoints=%d\tdrift=%t\trepaired=%t\n", report.ActorID, report.Aggregate.TotalPoints, report.AggregateDrift, report.LeaderboardRepaired)
		return nil
	}

	reports, err := rt.reconciler.Run(ctx, lookback)
	for _, report := range reports {
		fmt.Fprintf(out, "%s\tpoints=%d\tdrift=%t\trepaired=%t\n", report.ActorID, report.Aggregate.TotalPoints, report.AggregateDrift, report.LeaderboardRepaired)
	}
	return err
}
