package testutil

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/mholt/archives"
)

// Member is one tar entry written by TarBytes.
type Member struct {
	Name string
	Body string
	Dir  bool
	Link string
}

// Dir returns a directory member.
func Dir(name string) Member { return Member{Name: name, Dir: true} }

// File returns a regular file member.
func File(name, body string) Member { return Member{Name: name, Body: body} }

// Symlink returns a symlink member.
func Symlink(name, target string) Member { return Member{Name: name, Link: target} }

var fixtureTime = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

// TarBytes writes members in the given order and compresses the result with
// c. A nil c leaves the tar uncompressed.
func TarBytes(t testing.TB, c archives.Compressor, members ...Member) []byte {
	t.Helper()

	var buf bytes.Buffer
	var w io.Writer = &buf
	var cw io.WriteCloser
	if c != nil {
		var err error
		cw, err = c.OpenWriter(&buf)
		if err != nil {
			t.Fatalf("Failed to open compressor: %v", err)
		}
		w = cw
	}

	tw := tar.NewWriter(w)
	for _, m := range members {
		hdr := &tar.Header{Name: m.Name, Mode: 0o644, ModTime: fixtureTime}
		switch {
		case m.Dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		case m.Link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = m.Link
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(m.Body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("Failed to write header for %s: %v", m.Name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.WriteString(tw, m.Body); err != nil {
				t.Fatalf("Failed to write body for %s: %v", m.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Failed to close tar writer: %v", err)
	}
	if cw != nil {
		if err := cw.Close(); err != nil {
			t.Fatalf("Failed to close compressor: %v", err)
		}
	}
	return buf.Bytes()
}

// Package describes one package of a generated files database.
type Package struct {
	Dir   string
	Desc  string
	Files []string
}

// FilesDatabase returns a gzip tar laid out like <repo>.files.tar.gz.
func FilesDatabase(t testing.TB, pkgs ...Package) []byte {
	t.Helper()
	members := make([]Member, 0, len(pkgs)*3)
	for _, p := range pkgs {
		members = append(members,
			Dir(p.Dir+"/"),
			File(p.Dir+"/desc", p.Desc),
			File(p.Dir+"/files", "%FILES%\n"+strings.Join(p.Files, "\n")+"\n"),
		)
	}
	return TarBytes(t, archives.Gz{}, members...)
}

// DescText renders tag/value pairs as desc text. Values containing
// newlines become multi-line sections.
func DescText(pairs ...string) string {
	if len(pairs)%2 != 0 {
		panic("DescText needs tag/value pairs")
	}
	var b strings.Builder
	for i := 0; i < len(pairs); i += 2 {
		fmt.Fprintf(&b, "%%%s%%\n%s\n\n", pairs[i], pairs[i+1])
	}
	return b.String()
}
