package archive

import (
	"context"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/cperrin88/archdex/internal/logger"
	"github.com/cperrin88/archdex/pkg/errors"
	"github.com/mholt/archives"
)

// TargetSet is a labelled set of archive paths to extract. The zero value
// is an empty set ready for Add.
type TargetSet struct {
	Label string
	paths map[string]struct{}
}

// NewTargetSet makes a set holding the normalized form of paths.
func NewTargetSet(label string, paths ...string) TargetSet {
	s := TargetSet{Label: label, paths: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		s.Add(p)
	}
	return s
}

// Add inserts p. Empty paths are ignored.
func (s *TargetSet) Add(p string) {
	if p = NormalizePath(p); p == "" {
		return
	}
	if s.paths == nil {
		s.paths = make(map[string]struct{})
	}
	s.paths[p] = struct{}{}
}

// Contains reports whether the normalized p is in the set.
func (s TargetSet) Contains(p string) bool {
	_, ok := s.paths[NormalizePath(p)]
	return ok
}

// Len returns the number of paths in the set.
func (s TargetSet) Len() int { return len(s.paths) }

// Unit is one extracted archive member.
type Unit struct {
	Path     string
	Filename string
	Content  []byte
}

// readMember loads the content of a matched member.
var readMember = func(f archives.FileInfo) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

// Match scans the archive read from r once and extracts every member whose
// path is in one of sets. Sets are checked in order and the first match
// wins. Only matched members are read. The result has an entry for every
// label in sets, in archive order.
func Match(ctx context.Context, name string, r io.Reader, sets []TargetSet) (map[string][]Unit, error) {
	out := make(map[string][]Unit, len(sets))
	wanted := make(map[string]struct{})
	for _, s := range sets {
		if _, ok := out[s.Label]; !ok {
			out[s.Label] = []Unit{}
		}
		for p := range s.paths {
			wanted[p] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		return out, nil
	}

	ex, stream, err := identify(ctx, name, r)
	if err != nil {
		return nil, err
	}

	found := make(map[string]struct{}, len(wanted))
	err = ex.Extract(ctx, stream, func(_ context.Context, f archives.FileInfo) error {
		if f.IsDir() {
			return nil
		}
		p := NormalizePath(f.NameInArchive)
		for _, s := range sets {
			if _, ok := s.paths[p]; !ok {
				continue
			}
			found[p] = struct{}{}

			filename := unitFilename(p)
			if filename == "" {
				logger.Warn("matched entry has no filename, skipping", logger.Fields{"archive": name, "path": f.NameInArchive})
				break
			}
			content, err := readMember(f)
			if err != nil {
				return errors.Wrapf(err, "failed to read %s", p)
			}
			logger.Debug("extracted archive member", logger.Fields{"archive": name, "path": p, "label": s.Label})
			out[s.Label] = append(out[s.Label], Unit{Path: p, Filename: filename, Content: content})
			break
		}
		if len(found) == len(wanted) {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan archive %s", name)
	}
	return out, nil
}

// NormalizePath makes archive paths and file-list paths comparable: no
// leading slash or "./", no trailing slash, cleaned.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	for strings.HasPrefix(p, "./") || strings.HasPrefix(p, "/") {
		p = strings.TrimPrefix(strings.TrimPrefix(p, "./"), "/")
	}
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return ""
	}
	return p
}

func unitFilename(p string) string {
	base := path.Base(p)
	switch base {
	case "", ".", "/", "..":
		return ""
	}
	return base
}
