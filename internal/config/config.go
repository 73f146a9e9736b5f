// Package config resolves the application settings from the config file,
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/naka-gawa/github-weekly/internal/gateway"
	"github.com/naka-gawa/github-weekly/internal/store"
	"github.com/naka-gawa/github-weekly/internal/usecase"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the environment variables overriding config keys.
const EnvPrefix = "GITHUB_WEEKLY"

// Config keys, shared with the command-line flags of the same name.
const (
	KeyRepositories   = "repositories"
	KeyDataDir        = "data-dir"
	KeyStoreBackend   = "store-backend"
	KeyStoreDSN       = "store-dsn"
	KeyPageSize       = "page-size"
	KeyQuotaThreshold = "quota-threshold"
	KeyQuotaMargin    = "quota-margin"
	KeyQuotaMaxWait   = "quota-max-wait"
	KeyMaxRetries     = "max-retries"
	KeyWorkers        = "workers"
)

// RawInput holds the unvalidated values merged by viper.
type RawInput struct {
	Repositories   []string      `mapstructure:"repositories"`
	DataDir        string        `mapstructure:"data-dir"`
	StoreBackend   string        `mapstructure:"store-backend"`
	StoreDSN       string        `mapstructure:"store-dsn"`
	PageSize       int           `mapstructure:"page-size"`
	QuotaThreshold int           `mapstructure:"quota-threshold"`
	QuotaMargin    time.Duration `mapstructure:"quota-margin"`
	QuotaMaxWait   time.Duration `mapstructure:"quota-max-wait"`
	MaxRetries     int           `mapstructure:"max-retries"`
	Workers        int           `mapstructure:"workers"`
}

// Config is the validated configuration.
type Config struct {
	Repositories []string
	DataDir      string
	StoreBackend store.Backend
	StoreDSN     string
	Pager        gateway.PagerOptions
	Workers      int
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyRepositories, []string{})
	v.SetDefault(KeyDataDir, "data")
	v.SetDefault(KeyStoreBackend, string(store.FileBackend))
	v.SetDefault(KeyStoreDSN, "")
	v.SetDefault(KeyPageSize, gateway.DefaultPageSize)
	v.SetDefault(KeyQuotaThreshold, gateway.DefaultQuotaThreshold)
	v.SetDefault(KeyQuotaMargin, gateway.DefaultQuotaMargin)
	v.SetDefault(KeyQuotaMaxWait, gateway.DefaultMaxQuotaWait)
	v.SetDefault(KeyMaxRetries, gateway.DefaultMaxRetries)
	v.SetDefault(KeyWorkers, usecase.DefaultWorkers)
}

// Load reads the config file (configFile, or .github-weekly.yaml in the
// working or home directory), applies environment overrides and validates the
// result. A missing default config file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(".github-weekly")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var input RawInput
	if err := v.Unmarshal(&input); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	return Validate(input)
}

// Validate checks raw input and converts it into a Config.
func Validate(in RawInput) (*Config, error) {
	repos, err := normalizeRepositories(in.Repositories)
	if err != nil {
		return nil, err
	}

	backend := store.Backend(strings.ToLower(strings.TrimSpace(in.StoreBackend)))
	switch backend {
	case store.FileBackend, store.SQLiteBackend:
	case store.PostgresBackend:
		if in.StoreDSN == "" {
			return nil, fmt.Errorf("%s is required when %s is %s", KeyStoreDSN, KeyStoreBackend, backend)
		}
	default:
		return nil, fmt.Errorf("invalid %s %q: must be file, sqlite or postgres", KeyStoreBackend, in.StoreBackend)
	}
	if backend != store.PostgresBackend && in.DataDir == "" {
		return nil, fmt.Errorf("%s must not be empty", KeyDataDir)
	}

	if in.PageSize < 1 || in.PageSize > 100 {
		return nil, fmt.Errorf("invalid %s %d: must be between 1 and 100", KeyPageSize, in.PageSize)
	}
	if in.QuotaThreshold < 0 {
		return nil, fmt.Errorf("invalid %s %d: must not be negative", KeyQuotaThreshold, in.QuotaThreshold)
	}
	if in.QuotaMargin < 0 || in.QuotaMaxWait < 0 {
		return nil, fmt.Errorf("%s and %s must not be negative", KeyQuotaMargin, KeyQuotaMaxWait)
	}
	if in.MaxRetries < 0 {
		return nil, fmt.Errorf("invalid %s %d: must not be negative", KeyMaxRetries, in.MaxRetries)
	}
	if in.Workers < 1 {
		return nil, fmt.Errorf("invalid %s %d: must be at least 1", KeyWorkers, in.Workers)
	}

	return &Config{
		Repositories: repos,
		DataDir:      in.DataDir,
		StoreBackend: backend,
		StoreDSN:     in.StoreDSN,
		Pager: gateway.PagerOptions{
			PageSize:       in.PageSize,
			QuotaThreshold: in.QuotaThreshold,
			QuotaMargin:    in.QuotaMargin,
			MaxQuotaWait:   in.QuotaMaxWait,
			MaxRetries:     in.MaxRetries,
		},
		Workers: in.Workers,
	}, nil
}

// normalizeRepositories trims and de-duplicates "owner/name" entries, keeping their order.
func normalizeRepositories(raw []string) ([]string, error) {
	repos := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		owner, name, ok := strings.Cut(r, "/")
		if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			return nil, fmt.Errorf("invalid repository %q: want owner/name", r)
		}
		if !seen[r] {
			seen[r] = true
			repos = append(repos, r)
		}
	}
	return repos, nil
}
