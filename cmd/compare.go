package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/naka-gawa/github-weekly/internal/calendar"
	"github.com/naka-gawa/github-weekly/internal/compare"
	"github.com/naka-gawa/github-weekly/internal/domain"
	"github.com/naka-gawa/github-weekly/internal/render"
	"github.com/naka-gawa/github-weekly/internal/store"
	"github.com/spf13/cobra"
)

var compareCmd = &cobra.Command{
	Use:   "compare [YYYY-WW]",
	Short: "Compares a week with the week before it",
	Long: `Compares commits, pull requests and line changes of a stored week with the
previous ISO week, for the whole team and for every contributor. A missing
previous week counts as a week without activity.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		format, colors, err := output(cmd)
		if err != nil {
			return err
		}
		week, err := weekArg(args)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		current, err := st.Load(ctx, week)
		if err != nil {
			return err
		}
		previous, err := loadOptional(ctx, st, calendar.PreviousWeek(week))
		if err != nil {
			return err
		}

		result := compare.CompareWeeks(current, previous)
		if format == render.TableFormat {
			return render.Comparison(cmd.OutOrStdout(), result, colors)
		}
		return render.JSON(cmd.OutOrStdout(), result)
	},
}

var trendCmd = &cobra.Command{
	Use:   "trend [YYYY-WW]",
	Short: "Shows weekly series over several weeks",
	Long: `Builds per-contributor, per-repository and team series over the weeks ending
with the given week (default current week). Weeks without a snapshot are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		format, _, err := output(cmd)
		if err != nil {
			return err
		}
		last, err := weekArg(args)
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetInt("weeks")
		if count < 1 {
			return fmt.Errorf("invalid --weeks %d: must be at least 1", count)
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		first := last
		for i := 1; i < count; i++ {
			first = calendar.PreviousWeek(first)
		}
		var snapshots []*domain.WeekSnapshot
		for _, w := range calendar.WeeksBetween(first, last) {
			s, err := loadOptional(ctx, st, w)
			if err != nil {
				return err
			}
			snapshots = append(snapshots, s)
		}

		result := compare.CompareMultipleWeeks(snapshots)
		if format == render.TableFormat {
			return render.Trend(cmd.OutOrStdout(), result)
		}
		return render.JSON(cmd.OutOrStdout(), result)
	},
}

// loadOptional loads a snapshot, returning nil when the week was never collected.
func loadOptional(ctx context.Context, st store.Store, week calendar.Week) (*domain.WeekSnapshot, error) {
	s, err := st.Load(ctx, week)
	if errors.Is(err, store.ErrSnapshotNotFound) {
		return nil, nil
	}
	return s, err
}

func init() {
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(trendCmd)
	trendCmd.Flags().IntP("weeks", "n", 4, "Number of weeks in the trend")
}
