package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/naka-gawa/github-weekly/internal/calendar"
	"github.com/naka-gawa/github-weekly/internal/config"
	"github.com/naka-gawa/github-weekly/internal/gateway"
	"github.com/naka-gawa/github-weekly/internal/render"
	"github.com/naka-gawa/github-weekly/internal/usecase"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var collectCmd = &cobra.Command{
	Use:   "collect [YYYY-WW]",
	Short: "Collects GitHub activity into the snapshot of a week",
	Long: `Collects commits, pull requests, reviews and comments of the configured
repositories for the dates of the week that are not covered yet, and merges them
into the stored snapshot. The week defaults to the current one; use --from and
--to to backfill a range of weeks.

Exits with status 2 when the snapshot was saved but some repositories failed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		logger := newLogger(cmd)
		format, colors, err := output(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if len(cfg.Repositories) == 0 {
			return fmt.Errorf("no repositories configured: set %s in the config file or pass --%s", config.KeyRepositories, config.KeyRepositories)
		}
		from, to, err := collectRange(cmd, args)
		if err != nil {
			return err
		}

		token := os.Getenv("GITHUB_TOKEN")
		if token == "" {
			return errors.New("GITHUB_TOKEN environment variable is not set")
		}

		// Inject dependencies and run the main business logic.
		githubGateway, err := gateway.NewGitHubGateway(token, cfg.Pager, logger)
		if err != nil {
			return fmt.Errorf("failed to create GitHub gateway: %w", err)
		}
		if q, err := githubGateway.Quota(ctx); err != nil {
			logger.Printf("Could not read rate limit: %v", err)
		} else {
			logger.Printf("Rate limit: %d/%d remaining, resets at %s", q.Remaining, q.Limit, q.Reset.Format("15:04:05"))
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		collector := usecase.NewCollector(githubGateway, st, cfg.Repositories, cfg.Workers, logger)
		reports, err := collector.Backfill(ctx, from, to)
		if writeErr := writeReports(cmd, format, colors, reports); writeErr != nil && err == nil {
			err = writeErr
		}
		if err != nil {
			return err
		}
		for _, r := range reports {
			if r.Partial {
				return errPartial
			}
		}
		return nil
	},
}

// collectRange resolves the weeks to collect from the argument and the --from/--to flags.
func collectRange(cmd *cobra.Command, args []string) (calendar.Week, calendar.Week, error) {
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")
	if fromStr == "" && toStr == "" {
		w, err := weekArg(args)
		return w, w, err
	}
	if len(args) > 0 {
		return calendar.Week{}, calendar.Week{}, errors.New("a week argument cannot be combined with --from/--to")
	}
	to := calendar.CurrentWeek(now())
	if toStr != "" {
		var err error
		if to, err = calendar.ParseWeek(toStr); err != nil {
			return calendar.Week{}, calendar.Week{}, err
		}
	}
	from := to
	if fromStr != "" {
		var err error
		if from, err = calendar.ParseWeek(fromStr); err != nil {
			return calendar.Week{}, calendar.Week{}, err
		}
	}
	if to.Before(from) {
		return calendar.Week{}, calendar.Week{}, fmt.Errorf("--from %s is after --to %s", from, to)
	}
	return from, to, nil
}

func writeReports(cmd *cobra.Command, format render.Format, colors bool, reports []*usecase.Report) error {
	if format == render.TableFormat {
		return render.Reports(cmd.OutOrStdout(), reports, colors)
	}
	if reports == nil {
		reports = []*usecase.Report{}
	}
	return render.JSON(cmd.OutOrStdout(), reports)
}

func init() {
	rootCmd.AddCommand(collectCmd)
	flags := collectCmd.Flags()
	flags.String("from", "", "First week of a backfill (YYYY-WW)")
	flags.String("to", "", "Last week of a backfill (YYYY-WW, default current week)")
	flags.Int(config.KeyPageSize, gateway.DefaultPageSize, "Items requested per page (1-100)")
	flags.Int(config.KeyQuotaThreshold, gateway.DefaultQuotaThreshold, "Remaining requests below which to wait for the rate limit reset")
	flags.Duration(config.KeyQuotaMargin, gateway.DefaultQuotaMargin, "Extra wait after the rate limit reset")
	flags.Duration(config.KeyQuotaMaxWait, gateway.DefaultMaxQuotaWait, "Longest acceptable wait for a rate limit reset")
	flags.Int(config.KeyMaxRetries, gateway.DefaultMaxRetries, "Retries of a failed request")
	flags.Int(config.KeyWorkers, usecase.DefaultWorkers, "Concurrent pull request fetches")

	for _, key := range []string{config.KeyPageSize, config.KeyQuotaThreshold, config.KeyQuotaMargin, config.KeyQuotaMaxWait, config.KeyMaxRetries, config.KeyWorkers} {
		if err := viper.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(err)
		}
	}
}
