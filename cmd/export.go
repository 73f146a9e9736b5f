package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/naka-gawa/github-weekly/internal/calendar"
	"github.com/naka-gawa/github-weekly/internal/domain"
	"github.com/naka-gawa/github-weekly/internal/export"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Exports stored snapshots to Parquet files",
	Long: `Flattens the stored snapshots into per-day rows and writes user_days.parquet
and repository_days.parquet to the output directory. --from and --to restrict
the exported weeks.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		logger := newLogger(cmd)
		outDir, _ := cmd.Flags().GetString("out")
		fromStr, _ := cmd.Flags().GetString("from")
		toStr, _ := cmd.Flags().GetString("to")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		weeks, err := st.List(ctx)
		if err != nil {
			return err
		}
		var from, to *calendar.Week
		if fromStr != "" {
			w, err := calendar.ParseWeek(fromStr)
			if err != nil {
				return err
			}
			from = &w
		}
		if toStr != "" {
			w, err := calendar.ParseWeek(toStr)
			if err != nil {
				return err
			}
			to = &w
		}

		var snapshots []*domain.WeekSnapshot
		for _, w := range weeks {
			if (from != nil && w.Before(*from)) || (to != nil && to.Before(w)) {
				continue
			}
			s, err := st.Load(ctx, w)
			if err != nil {
				return err
			}
			snapshots = append(snapshots, s)
		}
		logger.Printf("Exporting %d weeks to %s...", len(snapshots), outDir)

		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		userRows := export.UserDays(snapshots)
		if err := export.WriteParquet(userRows, filepath.Join(outDir, "user_days.parquet")); err != nil {
			return err
		}
		repoRows := export.RepositoryDays(snapshots)
		if err := export.WriteParquet(repoRows, filepath.Join(outDir, "repository_days.parquet")); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d weeks: %d user-day rows, %d repository-day rows to %s\n",
			len(snapshots), len(userRows), len(repoRows), outDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("out", "o", "export", "Output directory")
	exportCmd.Flags().String("from", "", "First week to export (YYYY-WW)")
	exportCmd.Flags().String("to", "", "Last week to export (YYYY-WW)")
}
