// Package indexer reads a repository files database from a mirror and
// submits package metadata and systemd unit files to a search index.
package indexer

import (
	"context"
	"time"

	"github.com/cperrin88/archdex/internal/logger"
	"github.com/cperrin88/archdex/pkg/archive"
	"github.com/cperrin88/archdex/pkg/dispatch"
	"github.com/cperrin88/archdex/pkg/errors"
	"github.com/cperrin88/archdex/pkg/metrics"
	"github.com/cperrin88/archdex/pkg/mirror"
	"github.com/cperrin88/archdex/pkg/repo"
)

// Options configure an Indexer.
type Options struct {
	// Concurrency bounds the packages processed at once per repository.
	Concurrency int
	Hooks       dispatch.Hooks
	Metrics     *metrics.Metrics
}

// Summary describes one repository run.
type Summary struct {
	Repo     string
	Packages int
	Failed   int
	Duration time.Duration
}

// Indexer runs full passes over repositories.
type Indexer struct {
	mirror    Mirror
	processor *Processor
	opts      Options
}

// New creates an Indexer reading from m and writing to sink.
func New(sink Sink, m Mirror, opts Options) *Indexer {
	return &Indexer{
		mirror:    m,
		processor: NewProcessor(sink, m, opts.Metrics),
		opts:      opts,
	}
}

// IndexRepo streams the files database of repoName and processes every
// package in it. Package failures are logged and counted in the Summary.
// The error is set only when the files database itself could not be
// fetched or read.
func (ix *Indexer) IndexRepo(ctx context.Context, repoName string) (Summary, error) {
	start := time.Now()
	summary := Summary{Repo: repoName}

	body, err := ix.mirror.OpenDatabase(ctx, repoName)
	if err != nil {
		return summary, errors.Wrapf(err, "failed to fetch files database of %s", repoName)
	}
	defer func() { _ = body.Close() }()

	logger.Info("indexing repository", logger.Fields{"repo": repoName})

	d := dispatch.New(dispatch.Options{
		Limit:  ix.opts.Concurrency,
		Hooks:  ix.opts.Hooks,
		Fields: logger.Fields{"repo": repoName},
	})
	records := repo.Records(archive.Walk(ctx, mirror.DatabaseName(repoName), body))
	outcomes, err := d.Run(ctx, records, func(ctx context.Context, rec *repo.Record) error {
		return ix.process(ctx, repoName, rec)
	})

	summary.Packages = len(outcomes)
	summary.Failed = len(dispatch.Failed(outcomes))
	summary.Duration = time.Since(start)

	fields := logger.Fields{
		"repo":     repoName,
		"packages": summary.Packages,
		"failed":   summary.Failed,
		"duration": summary.Duration.Round(time.Millisecond).String(),
	}
	if err != nil {
		logger.Error("files database aborted", fields, logger.Fields{"error": err.Error()})
		return summary, errors.Wrapf(err, "failed to read files database of %s", repoName)
	}
	logger.Success("repository indexed", fields)
	return summary, nil
}

// IndexAll indexes repos one after another. A repository whose files
// database fails does not stop the others; the failures are returned
// joined.
func (ix *Indexer) IndexAll(ctx context.Context, repos []string) ([]Summary, error) {
	summaries := make([]Summary, 0, len(repos))
	var errs []error
	for _, name := range repos {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		s, err := ix.IndexRepo(ctx, name)
		summaries = append(summaries, s)
		if err != nil {
			logger.Error("repository failed", logger.Fields{"repo": name, "error": err.Error()})
			errs = append(errs, err)
		}
	}
	return summaries, errors.Join(errs...)
}

func (ix *Indexer) process(ctx context.Context, repoName string, rec *repo.Record) error {
	m := ix.opts.Metrics
	start := time.Now()
	m.WorkerStarted()
	defer m.WorkerFinished()

	err := ix.processor.Process(ctx, repoName, rec)
	if err != nil {
		m.PackageFailed(repoName, time.Since(start))
		return err
	}
	m.PackageDone(repoName, time.Since(start))
	return nil
}
