package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// clearEnv blanks every config variable; viper ignores empty values.
func clearEnv(t *testing.T) {
	t.Helper()
	for key := range defaults {
		t.Setenv(strings.ToUpper(key), "")
	}
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("pegcrawler", pflag.ContinueOnError)
	flags.String("config", "", "")
	flags.StringSlice("tickers", nil, "")
	flags.String("provider", "", "")
	flags.String("output-dir", "", "")
	flags.Int("batch-size", 0, "")
	if err := flags.Parse(args); err != nil {
		t.Fatalf("Parse() returned unexpected error: %v", err)
	}
	return flags
}

func TestLoad_WithDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TICKERS", "aapl,msft")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if !slices.Equal(cfg.Tickers, []string{"aapl", "msft"}) {
		t.Errorf("Tickers = %v, want [aapl msft]", cfg.Tickers)
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"Provider", cfg.Provider, "yahoo"},
		{"YahooBaseURL", cfg.YahooBaseURL, "https://query2.finance.yahoo.com"},
		{"YahooSessionURL", cfg.YahooSessionURL, "https://fc.yahoo.com"},
		{"AlphavantageBaseURL", cfg.AlphavantageBaseURL, "https://www.alphavantage.co/query"},
		{"OutputDir", cfg.OutputDir, "."},
		{"TableFormat", cfg.TableFormat, "csv"},
		{"TableLabels", cfg.TableLabels, "ko"},
		{"TableDataset", cfg.TableDataset, "nasdaq100_real_data"},
		{"ArchiveDataset", cfg.ArchiveDataset, "nasdaq100_real"},
		{"BatchSize", cfg.BatchSize, 5},
		{"PerItemDelay", cfg.PerItemDelay, 2 * time.Second},
		{"PerBatchDelay", cfg.PerBatchDelay, 5 * time.Second},
		{"MaxAttempts", cfg.MaxAttempts, 3},
		{"MinFields", cfg.MinFields, 5},
		{"InterAttemptDelay", cfg.InterAttemptDelay, time.Second},
		{"ErrorBackoff", cfg.ErrorBackoff, 2 * time.Second},
		{"RunTimeout", cfg.RunTimeout, 30 * time.Minute},
		{"LogLevel", cfg.LogLevel, "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TICKERS", "NVDA")
	t.Setenv("PROVIDER", "AlphaVantage")
	t.Setenv("ALPHAVANTAGE_API_KEY", "test_alphavantage_key")
	t.Setenv("PER_ITEM_DELAY", "12s")
	t.Setenv("TABLE_FORMAT", "parquet")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.Provider != ProviderAlphavantage {
		t.Errorf("Provider = %q, want alphavantage", cfg.Provider)
	}
	if cfg.AlphavantageAPIKey != "test_alphavantage_key" {
		t.Errorf("AlphavantageAPIKey = %q", cfg.AlphavantageAPIKey)
	}
	if cfg.PerItemDelay != 12*time.Second {
		t.Errorf("PerItemDelay = %v, want 12s", cfg.PerItemDelay)
	}
	if cfg.TableFormat != "parquet" {
		t.Errorf("TableFormat = %q, want parquet", cfg.TableFormat)
	}
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("TICKERS", "AAPL")
	t.Setenv("OUTPUT_DIR", "/from/env")

	flags := newFlags(t, "--tickers=TSLA,AMZN", "--output-dir=/from/flag", "--batch-size=10")

	cfg, err := Load(flags)
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if !slices.Equal(cfg.Tickers, []string{"TSLA", "AMZN"}) {
		t.Errorf("Tickers = %v, want [TSLA AMZN]", cfg.Tickers)
	}
	if cfg.OutputDir != "/from/flag" {
		t.Errorf("OutputDir = %q, want /from/flag", cfg.OutputDir)
	}
	if cfg.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want 10", cfg.BatchSize)
	}
}

func TestLoad_UnsetFlagsKeepDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TICKERS", "AAPL")

	cfg, err := Load(newFlags(t))
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.BatchSize != 5 {
		t.Errorf("BatchSize = %d, want default 5", cfg.BatchSize)
	}
	if cfg.Provider != ProviderYahoo {
		t.Errorf("Provider = %q, want default yahoo", cfg.Provider)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "crawl.yaml")
	content := `tickers:
  - AAPL
  - MSFT
  - GOOGL
batch_size: 2
per_batch_delay: 1m
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(newFlags(t, "--config="+path))
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if len(cfg.Tickers) != 3 {
		t.Errorf("Tickers = %v, want 3 entries", cfg.Tickers)
	}
	if cfg.BatchSize != 2 {
		t.Errorf("BatchSize = %d, want 2", cfg.BatchSize)
	}
	if cfg.PerBatchDelay != time.Minute {
		t.Errorf("PerBatchDelay = %v, want 1m", cfg.PerBatchDelay)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoad_ExplicitConfigFileMissing(t *testing.T) {
	clearEnv(t)
	t.Setenv("TICKERS", "AAPL")

	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := Load(newFlags(t, "--config="+missing)); err == nil {
		t.Error("Load() expected error for missing explicit config file, got nil")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name         string
		setupEnv     map[string]string
		wantErrTexts []string
	}{
		{
			name:         "missing tickers",
			setupEnv:     map[string]string{},
			wantErrTexts: []string{"invalid configuration", "tickers is required"},
		},
		{
			name: "alphavantage without key",
			setupEnv: map[string]string{
				"TICKERS":  "AAPL",
				"PROVIDER": "alphavantage",
			},
			wantErrTexts: []string{"alphavantage_api_key is required"},
		},
		{
			name: "unknown provider",
			setupEnv: map[string]string{
				"TICKERS":  "AAPL",
				"PROVIDER": "bloomberg",
			},
			wantErrTexts: []string{`unknown provider "bloomberg"`},
		},
		{
			name: "several problems reported together",
			setupEnv: map[string]string{
				"BATCH_SIZE":   "0",
				"MAX_ATTEMPTS": "0",
				"TABLE_FORMAT": "xlsx",
				"TABLE_LABELS": "fr",
				"LOG_LEVEL":    "loud",
			},
			wantErrTexts: []string{
				"tickers is required",
				"batch size must be >= 1",
				"max attempts must be >= 1",
				`unsupported table format "xlsx"`,
				`unsupported table labels "fr"`,
				`invalid log_level "loud"`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for key, value := range tt.setupEnv {
				t.Setenv(key, value)
			}

			_, err := Load(nil)
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			for _, want := range tt.wantErrTexts {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Load() error = %q, want it to contain %q", err.Error(), want)
				}
			}
		})
	}
}

func TestConfig_Level(t *testing.T) {
	cfg := &Config{LogLevel: "DEBUG"}
	level, err := cfg.Level()
	if err != nil {
		t.Fatalf("Level() returned unexpected error: %v", err)
	}
	if level.String() != "DEBUG" {
		t.Errorf("Level() = %v, want DEBUG", level)
	}
}
