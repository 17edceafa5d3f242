package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/weslintw/jira-issue-monitor/config"
	"github.com/weslintw/jira-issue-monitor/internal/api"
	"github.com/weslintw/jira-issue-monitor/internal/comments"
	"github.com/weslintw/jira-issue-monitor/internal/db"
	"github.com/weslintw/jira-issue-monitor/internal/publish"
	"github.com/weslintw/jira-issue-monitor/internal/report"
	"github.com/weslintw/jira-issue-monitor/internal/sync"
	"github.com/weslintw/jira-issue-monitor/internal/xlsx"
)

func main() {
	// Define command-line flags
	configPath := flag.String("config", "config.json", "Path to configuration file (.json, .yaml or .yml)")
	createConfig := flag.Bool("init", false, "Create a default configuration file if it doesn't exist")
	syncAll := flag.Bool("sync-all", false, "Sync every query in the configuration")
	sheet := flag.String("sheet", "", "Sync only the query of this sheet")
	dryRun := flag.Bool("dry-run", false, "Fetch and merge, print the changes, but do not write the report")
	flag.Parse()

	// Create default configuration if requested
	if *createConfig {
		if err := config.CreateDefaultConfig(*configPath); err != nil {
			log.Fatalf("Failed to create default configuration: %v", err)
		}
		log.Printf("Created default configuration at %s", *configPath)
		return
	}

	if !*syncAll && *sheet == "" {
		// No sync operation requested
		printUsage(os.Stdout)
		return
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	queries, err := selectQueries(cfg, *sheet)
	if err != nil {
		log.Fatalf("Invalid query selection: %v", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	color.NoColor = !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Initialize tracker client
	tracker, err := newTracker(cfg)
	if err != nil {
		log.Fatalf("Failed to create tracker client: %v", err)
	}

	// Initialize comment cache
	cache, closeCache, err := newCache(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to comment cache: %v", err)
	}
	defer closeCache()

	resolver := comments.NewResolver(tracker, cache, comments.Options{
		Count:    cfg.Settings.RecentCommentsCount,
		Field:    comments.TimestampField(cfg.Settings.TimestampField),
		Location: loc,
	})

	// Open the report
	startTime := time.Now()
	reportPath := cfg.ReportPath(startTime)
	if err := os.MkdirAll(filepath.Dir(reportPath), 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	doc, err := openDocument(cfg, reportPath)
	if err != nil {
		log.Fatalf("Failed to open report: %v", err)
	}
	defer doc.Close()

	// Initialize syncer
	syncer := sync.New(tracker, resolver, doc, sync.Options{
		PageSize:      cfg.Settings.MaxResults,
		Workers:       cfg.Settings.Workers,
		HighlightDays: cfg.Settings.HighlightDays,
		Remarks:       cfg.Settings.RemarkColumn,
		DryRun:        *dryRun,
		Location:      loc,
	})

	log.Printf("Syncing %d queries into %s", len(queries), reportPath)
	results, err := syncer.SyncAll(ctx, queries)
	printSummary(os.Stdout, results, *dryRun)
	if err != nil {
		log.Fatalf("Sync failed: %v", err)
	}

	if *dryRun {
		log.Printf("Dry run completed in %v; report not written", time.Since(startTime).Round(time.Millisecond))
		return
	}

	if info, err := os.Stat(reportPath); err == nil {
		log.Printf("Wrote %s (%s)", reportPath, humanize.Bytes(uint64(info.Size())))
	}

	if cfg.Publish.Endpoint != "" {
		uploader, err := publish.New(publish.Options{
			Endpoint:  cfg.Publish.Endpoint,
			AccessKey: cfg.Publish.AccessKey,
			SecretKey: cfg.Publish.SecretKey,
			Bucket:    cfg.Publish.Bucket,
			Prefix:    cfg.Publish.Prefix,
			UseSSL:    cfg.Publish.UseSSL,
			Region:    cfg.Publish.Region,
		})
		if err != nil {
			log.Fatalf("Failed to create publisher: %v", err)
		}
		if _, err := uploader.Upload(ctx, reportPath); err != nil {
			log.Fatalf("Failed to publish report: %v", err)
		}
	}

	duration := time.Since(startTime)
	log.Printf("Sync completed in %v", duration.Round(time.Millisecond))
}

// selectQueries returns the configured queries to sync, or only the one
// named sheet
func selectQueries(cfg *config.Config, sheet string) ([]sync.Query, error) {
	var queries []sync.Query
	for _, q := range cfg.Queries {
		if sheet != "" && q.Sheet != sheet {
			continue
		}
		filter, err := report.CompileFilter(q.Filter)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", q.Sheet, err)
		}
		queries = append(queries, sync.Query{Sheet: q.Sheet, Query: q.Query, Filter: filter})
	}

	if len(queries) == 0 {
		return nil, fmt.Errorf("no query configured for sheet %q", sheet)
	}
	return queries, nil
}

func newTracker(cfg *config.Config) (api.Tracker, error) {
	switch cfg.Tracker.Kind {
	case config.TrackerGitHub:
		if cfg.Tracker.BaseURL != "" {
			return api.NewGitHubClientWithBaseURL(cfg.Tracker.APIToken, cfg.Tracker.BaseURL)
		}
		return api.NewGitHubClient(cfg.Tracker.APIToken), nil
	default:
		return api.NewJiraClient(cfg.Tracker.BaseURL, cfg.Tracker.Username, cfg.Tracker.APIToken, cfg.Tracker.BearerToken), nil
	}
}

func newCache(cfg *config.Config) (comments.Cache, func(), error) {
	if cfg.Cache.RedisURL == "" {
		return comments.NewMemoryCache(), func() {}, nil
	}

	cache, err := comments.NewRedisCache(cfg.Cache.RedisURL, cfg.CacheTTL())
	if err != nil {
		return nil, nil, err
	}
	return cache, func() { cache.Close() }, nil
}

func openDocument(cfg *config.Config, path string) (report.Document, error) {
	if cfg.Output.Format == config.FormatSQLite {
		database, err := db.New(path)
		if err != nil {
			return nil, err
		}
		if err := database.Initialize(); err != nil {
			database.Close()
			return nil, err
		}
		return database, nil
	}
	return xlsx.Open(path, cfg.Output.HighlightColor)
}

func printSummary(w io.Writer, results []*sync.Result, dryRun bool) {
	title := color.New(color.Bold)
	added := color.New(color.FgGreen)
	changed := color.New(color.FgYellow)
	muted := color.New(color.Faint)

	for _, res := range results {
		state := ""
		if res.Created {
			state = " (new sheet)"
		}
		title.Fprintf(w, "%s%s\n", res.Sheet, state)
		fmt.Fprintf(w, "  %s issues fetched", humanize.Comma(int64(res.Fetched)))
		if res.Filtered > 0 {
			fmt.Fprintf(w, ", %s filtered out", humanize.Comma(int64(res.Filtered)))
		}
		fmt.Fprintln(w)
		added.Fprintf(w, "  %s appended\n", humanize.Comma(int64(res.Appended)))
		changed.Fprintf(w, "  %s updated\n", humanize.Comma(int64(res.Updated)))
		muted.Fprintf(w, "  %s unchanged, %s kept from earlier runs\n",
			humanize.Comma(int64(res.Unchanged)), humanize.Comma(int64(res.Retained)))

		if dryRun {
			for _, c := range res.Changes {
				fmt.Fprintf(w, "    %s\n", report.DescribeChange(c, !color.NoColor))
			}
		}
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "JIM - Jira Issue Monitor")
	fmt.Fprintln(w, "------------------------")
	fmt.Fprintln(w, "Use -sync-all to sync every query in the configuration")
	fmt.Fprintln(w, "Use -sheet NAME to sync a single query")
	fmt.Fprintln(w, "Use -dry-run to preview the changes without writing the report")
	fmt.Fprintln(w, "Use -init to create a default configuration file")
	fmt.Fprintln(w, "Use -config path/to/config.json to specify a custom configuration file")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Credentials can be provided via the %s, %s and %s environment variables\n",
		config.EnvJiraToken, config.EnvJiraBearerToken, config.EnvGithubToken)
}
