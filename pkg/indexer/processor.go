package indexer

import (
	"context"
	"fmt"

	"github.com/cperrin88/archdex/internal/logger"
	"github.com/cperrin88/archdex/pkg/archive"
	"github.com/cperrin88/archdex/pkg/desc"
	"github.com/cperrin88/archdex/pkg/errors"
	"github.com/cperrin88/archdex/pkg/metrics"
	"github.com/cperrin88/archdex/pkg/repo"
	"github.com/cperrin88/archdex/pkg/search"
)

// Processor turns one package record into index documents.
type Processor struct {
	sink    Sink
	mirror  Mirror
	metrics *metrics.Metrics
}

// NewProcessor creates a Processor. m may be nil.
func NewProcessor(sink Sink, mirror Mirror, m *metrics.Metrics) *Processor {
	return &Processor{sink: sink, mirror: mirror, metrics: m}
}

// Process submits the package metadata of rec to the packages index and,
// when the package ships systemd units, extracts them from the package
// archive and submits them to the services and timers indexes. The
// metadata is always submitted before any unit document.
func (p *Processor) Process(ctx context.Context, repoName string, rec *repo.Record) error {
	d, err := desc.Parse(rec.Desc)
	if err != nil {
		return errors.Wrapf(err, "failed to parse desc of %s", rec.Root)
	}
	d.Set(desc.KeyRepo, repoName)

	if err := p.sink.Put(ctx, search.IndexPackages, d); err != nil {
		return errors.Wrapf(err, "failed to submit metadata of %s", rec.Root)
	}

	services, timers := ScanFiles(rec.Files)
	if services.Len() == 0 && timers.Len() == 0 {
		return nil
	}

	filename, ok := d.Single(desc.KeyFilename)
	if !ok {
		return fmt.Errorf("%w: %s in %s", errors.ErrMissingField, desc.KeyFilename, rec.Root)
	}
	name, ok := d.Single(desc.KeyName)
	if !ok {
		return fmt.Errorf("%w: %s in %s", errors.ErrMissingField, desc.KeyName, rec.Root)
	}

	units, err := p.extract(ctx, repoName, filename, []archive.TargetSet{services, timers})
	if err != nil {
		return err
	}

	counts := make(logger.Fields, 2)
	for _, set := range []archive.TargetSet{services, timers} {
		docs := unitDocuments(repoName, name, units[set.Label])
		counts[set.Label] = fmt.Sprintf("%d/%d", len(docs), set.Len())
		if len(docs) == 0 {
			continue
		}
		if err := p.sink.PutBatch(ctx, set.Label, docs); err != nil {
			return errors.Wrapf(err, "failed to submit %s of %s", set.Label, name)
		}
		p.metrics.UnitsSubmitted(repoName, set.Label, len(docs))
	}

	logger.Info("indexed systemd units", logger.Fields{"repo": repoName, "package": name}, counts)
	return nil
}

func (p *Processor) extract(ctx context.Context, repoName, filename string, sets []archive.TargetSet) (map[string][]archive.Unit, error) {
	body, err := p.mirror.OpenPackage(ctx, repoName, filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s", filename)
	}
	defer func() { _ = body.Close() }()

	return archive.Match(ctx, filename, body, sets)
}
