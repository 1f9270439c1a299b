package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"pegcrawler/internal/alphavantage"
	"pegcrawler/internal/config"
	"pegcrawler/internal/coordinator"
	"pegcrawler/internal/fetcher"
	"pegcrawler/internal/persist"
	"pegcrawler/internal/ratelimit"
	"pegcrawler/internal/schedule"
	"pegcrawler/internal/trigger"
	"pegcrawler/internal/universe"
	"pegcrawler/internal/yahoo"
)

func main() {
	flags := pflag.NewFlagSet("pegcrawler", pflag.ExitOnError)
	flags.String("config", "", "path to a config file")
	flags.StringSlice("tickers", nil, "tickers to crawl, comma separated")
	flags.String("provider", "", "snapshot provider (yahoo, alphavantage)")
	flags.String("output-dir", "", "directory for the table and archive")
	flags.String("table-format", "", "table format (csv, parquet)")
	flags.String("table-labels", "", "CSV header language (ko, en)")
	flags.Int("batch-size", 0, "tickers per batch")
	flags.Duration("per-item-delay", 0, "minimum spacing between provider requests")
	flags.Duration("per-batch-delay", 0, "pause between batches")
	flags.Duration("run-timeout", 0, "abort the run after this long")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Create context with cancellation for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	update, crawl, err := build(cfg, afero.NewOsFs(), logger)
	if err != nil {
		logger.Error("failed to initialise", "error", err)
		os.Exit(2)
	}

	res := update.Run(ctx)
	printResult(crawl, res)

	if !res.Success {
		os.Exit(1)
	}
}

// build wires the pipeline for cfg. It returns the update trigger and the
// crawl step so the caller can report on the run afterwards.
func build(cfg *config.Config, fsys afero.Fs, logger *slog.Logger) (*trigger.Trigger, *trigger.CrawlStep, error) {
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, nil, err
	}

	u := universe.New(cfg.Tickers)
	limiter := ratelimit.New(cfg.PerItemDelay, nil)

	sched, err := schedule.New(cfg.Schedule(), u)
	if err != nil {
		return nil, nil, err
	}

	f, err := fetcher.New(cfg.Fetcher(), provider, limiter, logger)
	if err != nil {
		return nil, nil, err
	}

	format, err := persist.ParseFormat(cfg.TableFormat)
	if err != nil {
		return nil, nil, err
	}
	labels, err := persist.ParseLabels(cfg.TableLabels)
	if err != nil {
		return nil, nil, err
	}
	writer, err := persist.NewWriter(fsys, persist.Options{
		Dir:            cfg.OutputDir,
		TableDataset:   cfg.TableDataset,
		ArchiveDataset: cfg.ArchiveDataset,
		Format:         format,
		Labels:         labels,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, err
	}

	coord := coordinator.New(u, sched, f, limiter, logger)
	crawl := trigger.NewCrawlStep(coord, writer, time.Now, logger)
	datasets := append([]string{cfg.TableDataset}, persist.LegacyTableDatasets...)
	handoff := trigger.NewHandoffStep(fsys, cfg.OutputDir, crawl, time.Now, logger, datasets...)

	return trigger.New(logger, crawl, handoff), crawl, nil
}

func newProvider(cfg *config.Config) (fetcher.Provider, error) {
	switch cfg.Provider {
	case config.ProviderYahoo:
		return yahoo.NewProvider(fetcher.NewHTTPClient(cfg.YahooBaseURL, cfg.HTTPRetries), cfg.YahooSessionURL), nil
	case config.ProviderAlphavantage:
		client := fetcher.NewHTTPClient(cfg.AlphavantageBaseURL, cfg.HTTPRetries)
		return alphavantage.NewProvider(cfg.AlphavantageAPIKey, client), nil
	default:
		return nil, errors.New("unknown provider " + cfg.Provider)
	}
}

func printResult(crawl *trigger.CrawlStep, res trigger.Result) {
	fmt.Println("================================================")
	if result := crawl.Result(); result != nil {
		s := result.Summary()
		fmt.Printf("Total: %d  Success: %d  Failure: %d  Skipped: %d  (%.1f%%)\n",
			s.Total, s.Success, s.Failure, s.Skipped, s.SuccessRate*100)

		if top := result.TopPEG(5); len(top) > 0 {
			fmt.Println("Lowest PEG:")
			for i, rec := range top {
				fmt.Printf("  %d. %s (%s): %.2f\n", i+1, rec.CompanyName, rec.Ticker, *rec.PEGRatio)
			}
		}
		if p := crawl.Paths(); p.Table != "" {
			fmt.Printf("Table:   %s\n", p.Table)
		}
		if p := crawl.Paths(); p.Archive != "" {
			fmt.Printf("Archive: %s\n", p.Archive)
		}
	}
	fmt.Println("================================================")

	if res.Success {
		fmt.Println(res.Message)
	} else {
		fmt.Fprintln(os.Stderr, res.Message)
	}
}
