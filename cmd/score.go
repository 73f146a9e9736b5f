package cmd

import (
	"context"

	"github.com/naka-gawa/github-weekly/internal/render"
	"github.com/naka-gawa/github-weekly/internal/scoring"
	"github.com/spf13/cobra"
)

var scoreCmd = &cobra.Command{
	Use:   "score [YYYY-WW]",
	Short: "Ranks contributors of a week by contribution score",
	Long: `Scores every contributor of a stored week from commits, pull requests,
reviews and capped line changes, and lists them by descending score.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		format, _, err := output(cmd)
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

		snapshot, err := st.Load(ctx, week)
		if err != nil {
			return err
		}
		ranking := scoring.Rank(snapshot)
		if format == render.TableFormat {
			return render.Ranking(cmd.OutOrStdout(), snapshot.Week, ranking)
		}
		return render.JSON(cmd.OutOrStdout(), ranking)
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
}
