package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pegcrawler/internal/alphavantage"
	"pegcrawler/internal/fetcher"
	"pegcrawler/internal/persist"
	"pegcrawler/internal/schedule"
	"pegcrawler/internal/yahoo"
)

// Supported providers.
const (
	ProviderYahoo        = "yahoo"
	ProviderAlphavantage = "alphavantage"
)

// Config holds all configuration for a crawl.
type Config struct {
	// Universe
	Tickers []string `mapstructure:"tickers"`

	// Provider selection and endpoints
	Provider            string `mapstructure:"provider"`
	YahooBaseURL        string `mapstructure:"yahoo_base_url"`
	YahooSessionURL     string `mapstructure:"yahoo_session_url"`
	AlphavantageAPIKey  string `mapstructure:"alphavantage_api_key"`
	AlphavantageBaseURL string `mapstructure:"alphavantage_base_url"`
	HTTPRetries         int    `mapstructure:"http_retries"`

	// Output
	OutputDir      string `mapstructure:"output_dir"`
	TableFormat    string `mapstructure:"table_format"`
	TableLabels    string `mapstructure:"table_labels"`
	TableDataset   string `mapstructure:"table_dataset"`
	ArchiveDataset string `mapstructure:"archive_dataset"`

	// Pacing and retries
	BatchSize         int           `mapstructure:"batch_size"`
	PerItemDelay      time.Duration `mapstructure:"per_item_delay"`
	PerBatchDelay     time.Duration `mapstructure:"per_batch_delay"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	MinFields         int           `mapstructure:"min_fields"`
	InterAttemptDelay time.Duration `mapstructure:"inter_attempt_delay"`
	ErrorBackoff      time.Duration `mapstructure:"error_backoff"`

	RunTimeout time.Duration `mapstructure:"run_timeout"`
	LogLevel   string        `mapstructure:"log_level"`
}

var defaults = map[string]any{
	"tickers":               []string{},
	"provider":              ProviderYahoo,
	"yahoo_base_url":        yahoo.DefaultBaseURL,
	"yahoo_session_url":     yahoo.DefaultSessionURL,
	"alphavantage_api_key":  "",
	"alphavantage_base_url": alphavantage.DefaultBaseURL,
	"http_retries":          0,
	"output_dir":            ".",
	"table_format":          string(persist.FormatCSV),
	"table_labels":          string(persist.LabelsKorean),
	"table_dataset":         persist.DefaultTableDataset,
	"archive_dataset":       persist.DefaultArchiveDataset,
	"batch_size":            schedule.DefaultBatchSize,
	"per_item_delay":        schedule.DefaultPerItemDelay,
	"per_batch_delay":       schedule.DefaultPerBatchDelay,
	"max_attempts":          fetcher.DefaultMaxAttempts,
	"min_fields":            fetcher.DefaultMinFields,
	"inter_attempt_delay":   fetcher.DefaultInterAttemptDelay,
	"error_backoff":         fetcher.DefaultErrorBackoff,
	"run_timeout":           30 * time.Minute,
	"log_level":             "info",
}

// Load reads configuration from, in increasing precedence, defaults, an
// optional config file, a .env file, environment variables and flags.
//
// Every key can be set through the upper-cased environment variable of the
// same name (TICKERS, PROVIDER, ALPHAVANTAGE_API_KEY, OUTPUT_DIR, ...).
// Flags use the key with dashes instead of underscores. A --config flag
// names an explicit config file, which must then exist; otherwise config.yaml
// is looked up in the working directory and $HOME/.pegcrawler.
func Load(flags *pflag.FlagSet) (*Config, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var explicit string
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			explicit = f.Value.String()
		}
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" {
				return
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pegcrawler")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.Provider = strings.ToLower(strings.TrimSpace(config.Provider))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []string

	hasTicker := false
	for _, t := range c.Tickers {
		if strings.TrimSpace(t) != "" {
			hasTicker = true
			break
		}
	}
	if !hasTicker {
		problems = append(problems, "tickers is required")
	}

	switch c.Provider {
	case ProviderYahoo:
	case ProviderAlphavantage:
		if c.AlphavantageAPIKey == "" {
			problems = append(problems, "alphavantage_api_key is required for the alphavantage provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown provider %q (yahoo, alphavantage)", c.Provider))
	}

	if _, err := persist.ParseFormat(c.TableFormat); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := persist.ParseLabels(c.TableLabels); err != nil {
		problems = append(problems, err.Error())
	}
	if err := c.Schedule().Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if err := c.Fetcher().Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.HTTPRetries < 0 {
		problems = append(problems, "http_retries must be >= 0")
	}
	if c.RunTimeout < 0 {
		problems = append(problems, "run_timeout must be >= 0")
	}
	if _, err := c.Level(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Schedule returns the batching settings.
func (c *Config) Schedule() schedule.Config {
	return schedule.Config{
		BatchSize:     c.BatchSize,
		PerItemDelay:  c.PerItemDelay,
		PerBatchDelay: c.PerBatchDelay,
	}
}

// Fetcher returns the retry settings.
func (c *Config) Fetcher() fetcher.Config {
	return fetcher.Config{
		MaxAttempts:       c.MaxAttempts,
		MinFields:         c.MinFields,
		InterAttemptDelay: c.InterAttemptDelay,
		ErrorBackoff:      c.ErrorBackoff,
	}
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return level, nil
}
