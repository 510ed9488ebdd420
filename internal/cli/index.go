package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cperrin88/archdex/internal/logger"
	"github.com/cperrin88/archdex/pkg/config"
	"github.com/cperrin88/archdex/pkg/indexer"
	"github.com/cperrin88/archdex/pkg/metrics"
	"github.com/cperrin88/archdex/pkg/mirror"
	"github.com/cperrin88/archdex/pkg/search"
	"github.com/spf13/cobra"
)

type indexOptions struct {
	concurrency int
	mirrorURL   string
}

// NewIndexCmd creates the index command.
func NewIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [REPOSITORY...]",
		Short: "Index repository packages and systemd units",
		Long: `Stream the files database of each repository from the mirror, submit
every package's metadata to the search index and extract the systemd
service and timer units it ships.

Repositories given as arguments replace the configured list.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd.OutOrStdout(), args, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 0, "packages processed at once (default from config)")
	cmd.Flags().StringVar(&opts.mirrorURL, "mirror", "", "mirror base URL (default from config)")

	return cmd
}

func runIndex(ctx context.Context, out io.Writer, repos []string, opts indexOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyIndexOverrides(cfg, repos, opts); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ix, err := buildIndexer(ctx, cfg)
	if err != nil {
		return err
	}

	logger.Debug("Starting index run", logger.Fields{
		"mirror":       cfg.Mirror.URL,
		"search":       cfg.Search.URL,
		"repositories": cfg.Repositories,
		"concurrency":  cfg.Settings.Concurrency,
	})

	summaries, err := ix.IndexAll(ctx, cfg.Repositories)
	printSummaries(out, summaries)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	logger.Success("All repositories indexed", logger.Fields{"repositories": len(summaries)})
	return nil
}

func applyIndexOverrides(cfg *config.Config, repos []string, opts indexOptions) error {
	if len(repos) > 0 {
		cfg.Repositories = repos
	}
	if opts.concurrency != 0 {
		cfg.Settings.Concurrency = opts.concurrency
	}
	if opts.mirrorURL != "" {
		cfg.Mirror.URL = opts.mirrorURL
	}
	return cfg.Validate()
}

func buildIndexer(ctx context.Context, cfg *config.Config) (*indexer.Indexer, error) {
	mc, err := mirror.NewClient(cfg.Mirror.URL, cfg.Mirror.Arch, cfg.Settings.HTTPTimeout, userAgent())
	if err != nil {
		return nil, err
	}
	sc, err := search.NewClient(search.Options{
		URL:               cfg.Search.URL,
		Key:               cfg.Search.Key.Value(),
		RequestsPerSecond: cfg.Search.RequestsPerSecond,
		Timeout:           cfg.Settings.HTTPTimeout,
		UserAgent:         userAgent(),
	})
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	if cfg.Settings.MetricsAddr != "" {
		addr, err := m.Serve(ctx, cfg.Settings.MetricsAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
		logger.Info("Serving metrics", logger.Fields{"addr": addr})
	}

	return indexer.New(sc, mc, indexer.Options{
		Concurrency: cfg.Settings.Concurrency,
		Metrics:     m,
	}), nil
}

func printSummaries(out io.Writer, summaries []indexer.Summary) {
	if len(summaries) == 0 {
		return
	}
	tabWriter := tabwriter.NewWriter(out, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(tabWriter, "REPOSITORY\tPACKAGES\tFAILED\tDURATION")
	_, _ = fmt.Fprintln(tabWriter, "----------\t--------\t------\t--------")
	for _, s := range summaries {
		_, _ = fmt.Fprintf(tabWriter, "%s\t%d\t%d\t%s\n", s.Repo, s.Packages, s.Failed, s.Duration.Round(time.Millisecond))
	}
	_ = tabWriter.Flush()
}
