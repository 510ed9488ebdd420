// Package repo groups the flat entry stream of a repository files database
// into one Record per package.
//
// A files database lists, for every package, a directory marker followed by
// the package's desc and files members:
//
//	acl-2.3.2-1/
//	acl-2.3.2-1/desc
//	acl-2.3.2-1/files
//
// Grouping relies on the producer writing every member of a package
// contiguously. A label that shows up again after another package has been
// seen starts a second record for the same label; this is not detected.
package repo

import (
	"io"
	"iter"
	"strings"

	"github.com/cperrin88/archdex/internal/logger"
	"github.com/cperrin88/archdex/pkg/errors"
)

// Member names routed into a Record.
const (
	DescMember  = "desc"
	FilesMember = "files"
)

// Entry is one member of the files database.
type Entry struct {
	// Path is the slash-separated path inside the archive.
	Path string
	// Open returns the member content. It may be nil for directories.
	Open func() (io.ReadCloser, error)
}

// Record holds all raw text belonging to one package directory.
type Record struct {
	Root  string
	Desc  string
	Files string
}

// Accumulator is fed entries one at a time and hands back a Record each time
// the root label changes. The zero value is ready to use.
type Accumulator struct {
	root  string
	open  bool
	desc  strings.Builder
	files strings.Builder
}

// Feed consumes e. When e belongs to a different root than the open record,
// the open record is finalized and returned. The returned error is a read
// failure on the underlying stream.
func (a *Accumulator) Feed(e Entry) (*Record, error) {
	parts := splitPath(e.Path)
	if len(parts) == 0 {
		logger.Debug("skipping entry without path components", logger.Fields{"path": e.Path})
		return nil, nil
	}
	root := parts[0]
	if root == ".." {
		logger.Warn("invalid root component in files database", logger.Fields{"path": e.Path})
		return nil, nil
	}

	var done *Record
	if !a.open || root != a.root {
		done = a.take()
		a.root = root
		a.open = true
	}

	if len(parts) == 1 {
		return done, nil
	}

	var dst *strings.Builder
	if len(parts) == 2 {
		switch parts[1] {
		case DescMember:
			dst = &a.desc
		case FilesMember:
			dst = &a.files
		}
	}
	if dst == nil {
		logger.Warn("unexpected entry in files database", logger.Fields{"path": e.Path, "package": root})
		return done, nil
	}
	if err := readInto(dst, e); err != nil {
		return done, errors.Wrapf(err, "failed to read %s", e.Path)
	}
	return done, nil
}

// Flush finalizes and returns the open record, or nil if none is open.
func (a *Accumulator) Flush() *Record {
	return a.take()
}

func (a *Accumulator) take() *Record {
	if !a.open {
		return nil
	}
	rec := &Record{
		Root:  a.root,
		Desc:  a.desc.String(),
		Files: a.files.String(),
	}
	a.root = ""
	a.open = false
	a.desc.Reset()
	a.files.Reset()
	return rec
}

// Records turns an entry stream into a lazy record stream. Records are
// yielded in the order their labels first appear. The sequence is single
// pass: it consumes entries as it goes. An error from entries, or from
// reading a member, ends the sequence after being yielded.
func Records(entries iter.Seq2[Entry, error]) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		var acc Accumulator
		for e, err := range entries {
			if err != nil {
				yield(nil, err)
				return
			}
			rec, err := acc.Feed(e)
			if rec != nil && !yield(rec, nil) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
		if rec := acc.Flush(); rec != nil {
			yield(rec, nil)
		}
	}
}

func readInto(dst *strings.Builder, e Entry) error {
	if e.Open == nil {
		return nil
	}
	rc, err := e.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	_, err = io.Copy(dst, rc)
	return err
}

func splitPath(p string) []string {
	raw := strings.Split(p, "/")
	parts := raw[:0]
	for _, s := range raw {
		if s == "" || s == "." {
			continue
		}
		parts = append(parts, s)
	}
	return parts
}
