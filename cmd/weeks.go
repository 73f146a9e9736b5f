package cmd

import (
	"context"
	"fmt"

	"github.com/naka-gawa/github-weekly/internal/calendar"
	"github.com/naka-gawa/github-weekly/internal/render"
	"github.com/spf13/cobra"
)

var weeksCmd = &cobra.Command{
	Use:   "weeks",
	Short: "Lists stored weeks, or the ISO weeks of a year",
	Long: `Lists the weeks that have a stored snapshot with their Monday-to-Sunday date
range and the number of backups kept. With --year, lists every ISO week of
that year instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _, err := output(cmd)
		if err != nil {
			return err
		}

		var ranges []render.WeekRange
		if year, _ := cmd.Flags().GetInt("year"); year != 0 {
			first := calendar.Week{Year: year, Number: 1}
			if !first.Valid() {
				return fmt.Errorf("%w: year %d", calendar.ErrInvalidWeek, year)
			}
			ranges = render.WeekRanges(calendar.WeeksBetween(first, calendar.Week{Year: year, Number: calendar.WeeksInYear(year)}))
		} else if ranges, err = storedWeeks(cmd); err != nil {
			return err
		}

		if format == render.TableFormat {
			return render.Weeks(cmd.OutOrStdout(), ranges)
		}
		return render.JSON(cmd.OutOrStdout(), ranges)
	},
}

// storedWeeks lists the stored weeks with the number of backups kept for each.
func storedWeeks(cmd *cobra.Command) ([]render.WeekRange, error) {
	ctx := context.Background()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	weeks, err := st.List(ctx)
	if err != nil {
		return nil, err
	}
	ranges := render.WeekRanges(weeks)
	for i, w := range weeks {
		history, err := st.History(ctx, w)
		if err != nil {
			return nil, err
		}
		ranges[i].Backups = len(history)
	}
	return ranges, nil
}

func init() {
	rootCmd.AddCommand(weeksCmd)
	weeksCmd.Flags().Int("year", 0, "List the ISO weeks of this year instead of stored weeks")
}
