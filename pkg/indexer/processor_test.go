package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/cperrin88/archdex/pkg/errors"
	mock_indexer "github.com/cperrin88/archdex/pkg/indexer/mocks"
	"github.com/cperrin88/archdex/pkg/repo"
	"github.com/cperrin88/archdex/pkg/search"
	"github.com/cperrin88/archdex/test/testutil"
	"github.com/mholt/archives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const cronieFilename = "cronie-1.7.2-1-x86_64.pkg.tar.zst"

var cronieDesc = testutil.DescText(
	"FILENAME", cronieFilename,
	"NAME", "cronie",
	"VERSION", "1.7.2-1",
	"DEPENDS", "pam\nbash",
)

const cronieFiles = `%FILES%
etc/
etc/cron.d/0hourly
usr/lib/systemd/system/cronie.service
usr/lib/systemd/system/cronie@.service
usr/lib/systemd/system/cronie-daily.timer
usr/share/doc/cronie/timer-notes.timer
`

func cronieArchive(t *testing.T) []byte {
	return testutil.TarBytes(t, archives.Zstd{},
		testutil.File(".PKGINFO", "pkgname = cronie\n"),
		testutil.Dir("usr/lib/systemd/system/"),
		testutil.File("usr/lib/systemd/system/cronie.service", "[Unit]\nDescription=Command Scheduler\n"),
		testutil.File("usr/lib/systemd/system/cronie@.service", "[Unit]\nDescription=Instance %i\n"),
		testutil.File("usr/lib/systemd/system/cronie-daily.timer", "[Timer]\nOnCalendar=daily\n"),
		testutil.File("usr/bin/crond", "\x7fELF"),
	)
}

func body(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(data))
}

func marshal(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestProcess_MetadataOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mock_indexer.NewMockSink(ctrl)
	mirror := mock_indexer.NewMockMirror(ctrl)

	sink.EXPECT().Put(gomock.Any(), search.IndexPackages, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, doc any) error {
			assert.JSONEq(t, `{"name":"foo","depends":["bar","baz"],"repo":"core"}`, marshal(t, doc))
			return nil
		}).Times(1)

	rec := &repo.Record{Root: "foo-1.0-1", Desc: "%NAME%\nfoo\n%DEPENDS%\nbar\nbaz\n", Files: "%FILES%\nusr/bin/foo\n"}
	require.NoError(t, NewProcessor(sink, mirror, nil).Process(context.Background(), "core", rec))
}

func TestProcess_ExtractsUnits(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mock_indexer.NewMockSink(ctrl)
	mirror := mock_indexer.NewMockMirror(ctrl)

	var services, timers []UnitDocument
	gomock.InOrder(
		sink.EXPECT().Put(gomock.Any(), search.IndexPackages, gomock.Any()).Return(nil),
		mirror.EXPECT().OpenPackage(gomock.Any(), "extra", cronieFilename).Return(body(cronieArchive(t)), nil),
		sink.EXPECT().PutBatch(gomock.Any(), search.IndexServices, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ string, docs any) error {
				services = docs.([]UnitDocument)
				return nil
			}),
		sink.EXPECT().PutBatch(gomock.Any(), search.IndexTimers, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ string, docs any) error {
				timers = docs.([]UnitDocument)
				return nil
			}),
	)

	rec := &repo.Record{Root: "cronie-1.7.2-1", Desc: cronieDesc, Files: cronieFiles}
	require.NoError(t, NewProcessor(sink, mirror, nil).Process(context.Background(), "extra", rec))

	assert.Equal(t, []UnitDocument{
		{
			ID:       "cronie-cronie-service",
			Package:  "cronie",
			Content:  "[Unit]\nDescription=Command Scheduler\n",
			Filename: "cronie.service",
			Repo:     "extra",
		},
		{
			ID:       "cronie-cronie_-service",
			Package:  "cronie",
			Content:  "[Unit]\nDescription=Instance %i\n",
			Filename: "cronie@.service",
			Repo:     "extra",
		},
	}, services)
	require.Len(t, timers, 1)
	assert.Equal(t, "cronie-cronie-daily-timer", timers[0].ID)
	assert.Equal(t, "[Timer]\nOnCalendar=daily\n", timers[0].Content)
}

func TestProcess_SkipsEmptyBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mock_indexer.NewMockSink(ctrl)
	mirror := mock_indexer.NewMockMirror(ctrl)

	archive := testutil.TarBytes(t, archives.Zstd{},
		testutil.File("usr/lib/systemd/system/cronie-daily.timer", "[Timer]\n"),
	)
	sink.EXPECT().Put(gomock.Any(), search.IndexPackages, gomock.Any()).Return(nil)
	mirror.EXPECT().OpenPackage(gomock.Any(), "extra", cronieFilename).Return(body(archive), nil)
	sink.EXPECT().PutBatch(gomock.Any(), search.IndexTimers, gomock.Len(1)).Return(nil)

	rec := &repo.Record{Root: "cronie-1.7.2-1", Desc: cronieDesc, Files: cronieFiles}
	require.NoError(t, NewProcessor(sink, mirror, nil).Process(context.Background(), "extra", rec))
}

func TestProcess_Errors(t *testing.T) {
	boom := fmt.Errorf("%w: connection reset", errors.ErrFetchFailed)

	tests := []struct {
		name    string
		desc    string
		files   string
		setup   func(sink *mock_indexer.MockSink, mirror *mock_indexer.MockMirror)
		wantErr error
	}{
		{
			name:    "malformed metadata submits nothing",
			desc:    "%NAME%\nfoo\n%BOGUS%\nx\n",
			files:   cronieFiles,
			setup:   func(*mock_indexer.MockSink, *mock_indexer.MockMirror) {},
			wantErr: errors.ErrUnknownKey,
		},
		{
			name:  "metadata submission failure stops the record",
			desc:  cronieDesc,
			files: cronieFiles,
			setup: func(sink *mock_indexer.MockSink, _ *mock_indexer.MockMirror) {
				sink.EXPECT().Put(gomock.Any(), search.IndexPackages, gomock.Any()).Return(errors.ErrSubmitFailed)
			},
			wantErr: errors.ErrSubmitFailed,
		},
		{
			name:  "missing filename",
			desc:  "%NAME%\ncronie\n",
			files: cronieFiles,
			setup: func(sink *mock_indexer.MockSink, _ *mock_indexer.MockMirror) {
				sink.EXPECT().Put(gomock.Any(), search.IndexPackages, gomock.Any()).Return(nil)
			},
			wantErr: errors.ErrMissingField,
		},
		{
			name:  "missing name",
			desc:  "%FILENAME%\n" + cronieFilename + "\n",
			files: cronieFiles,
			setup: func(sink *mock_indexer.MockSink, _ *mock_indexer.MockMirror) {
				sink.EXPECT().Put(gomock.Any(), search.IndexPackages, gomock.Any()).Return(nil)
			},
			wantErr: errors.ErrMissingField,
		},
		{
			name:  "package fetch failure",
			desc:  cronieDesc,
			files: cronieFiles,
			setup: func(sink *mock_indexer.MockSink, mirror *mock_indexer.MockMirror) {
				sink.EXPECT().Put(gomock.Any(), search.IndexPackages, gomock.Any()).Return(nil)
				mirror.EXPECT().OpenPackage(gomock.Any(), "core", cronieFilename).Return(nil, boom)
			},
			wantErr: errors.ErrFetchFailed,
		},
		{
			name:  "corrupt package archive",
			desc:  cronieDesc,
			files: cronieFiles,
			setup: func(sink *mock_indexer.MockSink, mirror *mock_indexer.MockMirror) {
				sink.EXPECT().Put(gomock.Any(), search.IndexPackages, gomock.Any()).Return(nil)
				mirror.EXPECT().OpenPackage(gomock.Any(), "core", cronieFilename).Return(body([]byte("not an archive")), nil)
			},
		},
		{
			name:  "unit submission failure",
			desc:  cronieDesc,
			files: cronieFiles,
			setup: func(sink *mock_indexer.MockSink, mirror *mock_indexer.MockMirror) {
				sink.EXPECT().Put(gomock.Any(), search.IndexPackages, gomock.Any()).Return(nil)
				mirror.EXPECT().OpenPackage(gomock.Any(), "core", cronieFilename).Return(body(cronieArchive(t)), nil)
				sink.EXPECT().PutBatch(gomock.Any(), search.IndexServices, gomock.Any()).Return(errors.ErrSubmitFailed)
			},
			wantErr: errors.ErrSubmitFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			sink := mock_indexer.NewMockSink(ctrl)
			mirror := mock_indexer.NewMockMirror(ctrl)
			tt.setup(sink, mirror)

			rec := &repo.Record{Root: "cronie-1.7.2-1", Desc: tt.desc, Files: tt.files}
			err := NewProcessor(sink, mirror, nil).Process(context.Background(), "core", rec)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestScanFiles(t *testing.T) {
	services, timers := ScanFiles(cronieFiles)

	assert.Equal(t, search.IndexServices, services.Label)
	assert.Equal(t, search.IndexTimers, timers.Label)
	assert.Equal(t, 2, services.Len())
	assert.True(t, services.Contains("usr/lib/systemd/system/cronie.service"))
	assert.True(t, services.Contains("usr/lib/systemd/system/cronie@.service"))
	assert.Equal(t, 1, timers.Len())
	assert.True(t, timers.Contains("usr/lib/systemd/system/cronie-daily.timer"))
	assert.False(t, timers.Contains("usr/share/doc/cronie/timer-notes.timer"), "paths outside systemd are ignored")
}

func TestScanFiles_Lines(t *testing.T) {
	tests := []struct {
		name         string
		files        string
		wantServices int
		wantTimers   int
	}{
		{name: "empty", files: ""},
		{name: "header only", files: "%FILES%\n"},
		{name: "surrounding whitespace", files: "  usr/lib/systemd/system/a.service \r\n", wantServices: 1},
		{name: "user units", files: "usr/lib/systemd/user/b.timer\n", wantTimers: 1},
		{name: "other unit types", files: "usr/lib/systemd/system/c.socket\nusr/lib/systemd/system/d.path\n"},
		{name: "suffix must be last", files: "usr/lib/systemd/system/e.service.d/override.conf\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			services, timers := ScanFiles(tt.files)
			assert.Equal(t, tt.wantServices, services.Len())
			assert.Equal(t, tt.wantTimers, timers.Len())
		})
	}
}

func TestUnitID(t *testing.T) {
	tests := []struct {
		pkg, filename, want string
	}{
		{pkg: "cronie", filename: "cronie.service", want: "cronie-cronie-service"},
		{pkg: "systemd", filename: "getty@.service", want: "systemd-getty_-service"},
		{pkg: "pacman-contrib", filename: "paccache.timer", want: "pacman-contrib-paccache-timer"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, UnitID(tt.pkg, tt.filename))
		})
	}
}
