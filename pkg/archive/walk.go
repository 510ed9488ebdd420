// Package archive reads the tar archives served by a package mirror: the
// per-repository files database and individual package archives.
//
// Both are consumed as streams in archive order. Compression is detected
// from the file name and the leading bytes, so gzip, zstd and xz packages
// are all accepted.
package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"iter"

	"github.com/cperrin88/archdex/pkg/errors"
	"github.com/cperrin88/archdex/pkg/repo"
	"github.com/mholt/archives"
)

// Walk streams the members of the archive read from r. name is used to
// identify the format. Each yielded entry can only be opened until the loop
// body returns. A read or format failure is yielded as the final element.
func Walk(ctx context.Context, name string, r io.Reader) iter.Seq2[repo.Entry, error] {
	return func(yield func(repo.Entry, error) bool) {
		ex, stream, err := identify(ctx, name, r)
		if err != nil {
			yield(repo.Entry{}, err)
			return
		}

		stopped := false
		err = ex.Extract(ctx, stream, func(_ context.Context, f archives.FileInfo) error {
			e := repo.Entry{Path: f.NameInArchive}
			if !f.IsDir() {
				open := f.Open
				e.Open = func() (io.ReadCloser, error) { return open() }
			}
			if !yield(e, nil) {
				stopped = true
				return fs.SkipAll
			}
			return nil
		})
		if err != nil && !stopped {
			yield(repo.Entry{}, errors.Wrapf(err, "failed to read archive %s", name))
		}
	}
}

// identify resolves the compression and archive format of r.
func identify(ctx context.Context, name string, r io.Reader) (archives.Extractor, io.Reader, error) {
	format, stream, err := archives.Identify(ctx, name, r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", errors.ErrUnsupportedArchive, name, err)
	}
	ex, ok := format.(archives.Extractor)
	if !ok {
		return nil, nil, errors.Wrapf(errors.ErrUnsupportedArchive, "%s is not an extractable archive", name)
	}
	return ex, stream, nil
}
