package mirror

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/cperrin88/archdex/pkg/errors"
	"github.com/cperrin88/archdex/test/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		arch    string
		wantErr bool
	}{
		{name: "https mirror", baseURL: "https://mirrors.ustc.edu.cn/archlinux", arch: "x86_64"},
		{name: "empty arch uses default", baseURL: "http://localhost:8080"},
		{name: "missing scheme", baseURL: "mirrors.ustc.edu.cn/archlinux", wantErr: true},
		{name: "ftp scheme", baseURL: "ftp://mirror.example.org", wantErr: true},
		{name: "unparsable", baseURL: "http://[::1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.baseURL, tt.arch, time.Second, "archdex/test")
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, c.arch)
		})
	}
}

func TestClient_URL(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		arch     string
		repo     string
		filename string
		want     string
	}{
		{
			name:     "files database",
			baseURL:  "https://mirrors.ustc.edu.cn/archlinux",
			arch:     "x86_64",
			repo:     "core",
			filename: DatabaseName("core"),
			want:     "https://mirrors.ustc.edu.cn/archlinux/core/os/x86_64/core.files.tar.gz",
		},
		{
			name:     "trailing slash on base",
			baseURL:  "https://mirror.example.org/arch/",
			arch:     "aarch64",
			repo:     "extra",
			filename: "cronie-1.7.2-1-aarch64.pkg.tar.zst",
			want:     "https://mirror.example.org/arch/extra/os/aarch64/cronie-1.7.2-1-aarch64.pkg.tar.zst",
		},
		{
			name:     "default arch",
			baseURL:  "http://localhost:8080",
			repo:     "core",
			filename: "acl-2.3.2-1-x86_64.pkg.tar.zst",
			want:     "http://localhost:8080/core/os/x86_64/acl-2.3.2-1-x86_64.pkg.tar.zst",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.baseURL, tt.arch, 0, "")
			require.NoError(t, err)
			got, err := c.URL(tt.repo, tt.filename)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_OpenDatabase(t *testing.T) {
	m := testutil.NewMirror(t)
	m.Put("/core/os/x86_64/core.files.tar.gz", []byte("database bytes"))

	c, err := NewClient(m.URL, "x86_64", 5*time.Second, "archdex/1.2.3")
	require.NoError(t, err)

	body, err := c.OpenDatabase(context.Background(), "core")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "database bytes", string(data))
	assert.Equal(t, "archdex/1.2.3", m.UserAgent())
	assert.Equal(t, 1, m.Hits("/core/os/x86_64/core.files.tar.gz"))
}

func TestClient_OpenPackage(t *testing.T) {
	m := testutil.NewMirror(t)
	m.Put("/extra/os/x86_64/cronie-1.7.2-1-x86_64.pkg.tar.zst", []byte("pkg"))

	c, err := NewClient(m.URL, "", time.Second, "archdex/test")
	require.NoError(t, err)

	body, err := c.OpenPackage(context.Background(), "extra", "cronie-1.7.2-1-x86_64.pkg.tar.zst")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "pkg", string(data))
}

func TestClient_OpenErrors(t *testing.T) {
	m := testutil.NewMirror(t)
	m.Fail("/core/os/x86_64/core.files.tar.gz", http.StatusInternalServerError)

	c, err := NewClient(m.URL, "x86_64", time.Second, "archdex/test")
	require.NoError(t, err)

	tests := []struct {
		name    string
		open    func() (io.ReadCloser, error)
		wantMsg string
	}{
		{
			name:    "server error",
			open:    func() (io.ReadCloser, error) { return c.OpenDatabase(context.Background(), "core") },
			wantMsg: "unexpected status code: 500",
		},
		{
			name:    "not found",
			open:    func() (io.ReadCloser, error) { return c.OpenPackage(context.Background(), "core", "missing.pkg.tar.zst") },
			wantMsg: "unexpected status code: 404",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := tt.open()
			require.Error(t, err)
			assert.Nil(t, body)
			assert.ErrorIs(t, err, errors.ErrFetchFailed)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestClient_CanceledContext(t *testing.T) {
	m := testutil.NewMirror(t)
	m.Put("/core/os/x86_64/core.files.tar.gz", []byte("x"))

	c, err := NewClient(m.URL, "x86_64", time.Second, "archdex/test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.OpenDatabase(ctx, "core")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFetchFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_DatabaseStreamOutlivesTimeout(t *testing.T) {
	m := testutil.NewMirror(t)
	path := "/core/os/x86_64/core.files.tar.gz"
	want := bytes.Repeat([]byte("usr/lib/systemd/system/a.service\n"), 64)
	m.Put(path, want)
	m.Trickle(path, 6, 60*time.Millisecond)

	c, err := NewClient(m.URL, "x86_64", 100*time.Millisecond, "archdex/test")
	require.NoError(t, err)

	body, err := c.OpenDatabase(context.Background(), "core")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err, "the files database is bounded by its context only")
	assert.Equal(t, want, data)
}

func TestClient_PackageDownloadBoundedByTimeout(t *testing.T) {
	m := testutil.NewMirror(t)
	path := "/extra/os/x86_64/cronie-1.7.2-1-x86_64.pkg.tar.zst"
	m.Put(path, bytes.Repeat([]byte{0x28}, 4096))
	m.Trickle(path, 8, 60*time.Millisecond)

	c, err := NewClient(m.URL, "x86_64", 100*time.Millisecond, "archdex/test")
	require.NoError(t, err)

	body, err := c.OpenPackage(context.Background(), "extra", "cronie-1.7.2-1-x86_64.pkg.tar.zst")
	require.NoError(t, err)
	defer body.Close()

	_, err = io.ReadAll(body)
	assert.Error(t, err, "package archives keep a whole-request bound")
}

func TestClient_HeaderTimeout(t *testing.T) {
	m := testutil.NewMirror(t)
	path := "/core/os/x86_64/core.files.tar.gz"
	m.Put(path, []byte("late"))
	m.Stall(path, time.Second)

	c, err := NewClient(m.URL, "x86_64", 50*time.Millisecond, "archdex/test")
	require.NoError(t, err)

	start := time.Now()
	_, err = c.OpenDatabase(context.Background(), "core")
	assert.ErrorIs(t, err, errors.ErrFetchFailed)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}
