// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/naka-gawa/github-weekly/internal/calendar"
	"github.com/naka-gawa/github-weekly/internal/config"
	"github.com/naka-gawa/github-weekly/internal/render"
	"github.com/naka-gawa/github-weekly/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// errPartial is returned when a collection saved its results but some
// repositories failed. Execute maps it to exit status 2.
var errPartial = errors.New("collection finished with failures")

// now is the clock used to resolve the current week.
var now = time.Now

var rootCmd = &cobra.Command{
	Use:   "github-weekly",
	Short: "A CLI tool to collect and compare weekly GitHub activity.",
	Long: `github-weekly collects commits, pull requests, reviews and comments of a set
of GitHub repositories into one snapshot per ISO week, then compares weeks,
shows multi-week trends and ranks contributors.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if errors.Is(err, errPartial) {
		fmt.Fprintln(os.Stderr, "Warning:", err)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	// Add a persistent flag for verbose output, available to all commands.
	flags.BoolP("verbose", "v", false, "Enable verbose/debug logging")
	flags.String("config", "", "Config file (default is .github-weekly.yaml in . or $HOME)")
	flags.StringP("format", "f", string(render.JSONFormat), "Output format: json or table")
	flags.Bool("no-color", false, "Disable colours in table output")
	flags.StringSliceP(config.KeyRepositories, "r", nil, "Repositories to collect, as owner/name")
	flags.String(config.KeyDataDir, "data", "Directory holding the week snapshots")
	flags.String(config.KeyStoreBackend, string(store.FileBackend), "Snapshot store: file, sqlite or postgres")
	flags.String(config.KeyStoreDSN, "", "Database file or connection string for the sqlite and postgres stores")

	for _, key := range []string{config.KeyRepositories, config.KeyDataDir, config.KeyStoreBackend, config.KeyStoreDSN} {
		if err := viper.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(err)
		}
	}
}

// newLogger discards all logs unless --verbose is set, in which case it logs to standard error.
func newLogger(cmd *cobra.Command) *log.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := log.New(io.Discard, "", log.LstdFlags)
	if verbose {
		logger.SetOutput(cmd.ErrOrStderr())
	}
	return logger
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	return config.Load(viper.GetViper(), configFile)
}

func openStore(cfg *config.Config) (store.Store, error) {
	st, err := store.Open(cfg.StoreBackend, cfg.DataDir, cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	return st, nil
}

// output resolves the --format and --no-color flags.
func output(cmd *cobra.Command) (render.Format, bool, error) {
	name, _ := cmd.Flags().GetString("format")
	format, err := render.ParseFormat(name)
	if err != nil {
		return "", false, err
	}
	noColor, _ := cmd.Flags().GetBool("no-color")
	return format, !noColor, nil
}

// weekArg parses the optional week argument, defaulting to the current week.
func weekArg(args []string) (calendar.Week, error) {
	if len(args) == 0 {
		return calendar.CurrentWeek(now()), nil
	}
	return calendar.ParseWeek(args[0])
}
