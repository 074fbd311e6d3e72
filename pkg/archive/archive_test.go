// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcCollector adapts a function to the Collector interface.
type funcCollector func(ctx context.Context, stagingDir string) error

func (f funcCollector) Collect(ctx context.Context, stagingDir string) error {
	return f(ctx, stagingDir)
}

func writeFiles(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "facts.json"), []byte(`{"os":"linux"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sys"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sys", "uptime"), []byte("12345\n"), 0o644))
}

func testCollector(t *testing.T) Collector {
	return funcCollector(func(_ context.Context, stagingDir string) error {
		writeFiles(t, stagingDir)
		return nil
	})
}

// readTarball decompresses and untars the archive into a name->content map.
func readTarball(t *testing.T, ar *Archive) map[string]string {
	t.Helper()
	f, err := ar.Open()
	require.NoError(t, err)
	defer f.Close()

	var r io.Reader = f
	switch ar.Compression {
	case Gzip:
		gr, err := gzip.NewReader(f)
		require.NoError(t, err)
		defer gr.Close()
		r = gr
	case Zstd:
		zr, err := zstd.NewReader(f)
		require.NoError(t, err)
		defer zr.Close()
		r = zr
	}

	contents := map[string]string{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		contents[hdr.Name] = string(data)
	}
	return contents
}

func TestProduceRoundTrip(t *testing.T) {
	for _, compression := range []Compression{Gzip, Zstd, None} {
		t.Run(string(compression), func(t *testing.T) {
			p := &Producer{
				Collector:   testCollector(t),
				Compression: compression,
				Hostname:    "web01",
				TmpRoot:     t.TempDir(),
			}
			ar, err := p.Produce(context.Background())
			require.NoError(t, err)
			defer ar.Delete()

			assert.Greater(t, ar.Size, int64(0))
			assert.True(t, strings.HasPrefix(ar.Name(), "web01-"))
			assert.True(t, strings.HasSuffix(ar.Name(), compression.extension()))

			contents := readTarball(t, ar)
			require.Len(t, contents, 2)
			for name, data := range contents {
				assert.True(t, strings.HasPrefix(name, "web01-"), "entries live under the host dir, got %s", name)
				if strings.HasSuffix(name, "facts.json") {
					assert.Equal(t, `{"os":"linux"}`, data)
				}
			}
		})
	}
}

func TestProduceCollectorFailureLeavesNothing(t *testing.T) {
	tmpRoot := t.TempDir()
	p := &Producer{
		Collector: funcCollector(func(context.Context, string) error {
			return errors.New("collector exploded")
		}),
		Compression: Gzip,
		Hostname:    "web01",
		TmpRoot:     tmpRoot,
	}
	_, err := p.Produce(context.Background())
	require.Error(t, err)

	entries, err := os.ReadDir(tmpRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "a failed produce must remove its staging data")
}

func TestProduceCancelledContext(t *testing.T) {
	tmpRoot := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Producer{
		Collector: funcCollector(func(_ context.Context, stagingDir string) error {
			writeFiles(t, stagingDir)
			cancel() // cancellation lands while collection is in flight
			return nil
		}),
		Compression: Gzip,
		Hostname:    "web01",
		TmpRoot:     tmpRoot,
	}
	_, err := p.Produce(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(tmpRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteRemovesProducedArchive(t *testing.T) {
	p := &Producer{
		Collector:   testCollector(t),
		Compression: Gzip,
		Hostname:    "web01",
		TmpRoot:     t.TempDir(),
	}
	ar, err := p.Produce(context.Background())
	require.NoError(t, err)

	require.NoError(t, ar.Delete())
	assert.NoFileExists(t, ar.Path)
}

func TestFromFileIsNotOwned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prebuilt.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("prebuilt"), 0o644))

	ar, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, Gzip, ar.Compression)
	assert.Equal(t, int64(8), ar.Size)

	require.NoError(t, ar.Delete())
	assert.FileExists(t, path, "caller-supplied archives must not be deleted")
}

func TestFromReaderSpools(t *testing.T) {
	ar, err := FromReader(bytes.NewReader([]byte("streamed bytes")), Gzip)
	require.NoError(t, err)

	assert.Equal(t, int64(14), ar.Size)
	assert.Equal(t, "payload.tar.gz", ar.Name())

	var buf bytes.Buffer
	_, err = ar.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, "streamed bytes", buf.String())

	require.NoError(t, ar.Delete())
	assert.NoFileExists(t, ar.Path)
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		raw  string
		want Compression
		ok   bool
	}{
		{"gz", Gzip, true},
		{"gzip", Gzip, true},
		{"ZSTD", Zstd, true},
		{"none", None, true},
		{"", None, true},
		{"bz2", None, false},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.raw)
		if tt.ok {
			require.NoError(t, err, tt.raw)
			assert.Equal(t, tt.want, got)
		} else {
			assert.Error(t, err, tt.raw)
		}
	}
}

func TestCommandCollector(t *testing.T) {
	dir := t.TempDir()
	// the staging dir is appended as the last collector argument
	c := CommandCollector{Command: "touch"}
	require.NoError(t, c.Collect(context.Background(), dir))

	c = CommandCollector{Command: ""}
	assert.Error(t, c.Collect(context.Background(), dir))

	c = CommandCollector{Command: "false"}
	assert.Error(t, c.Collect(context.Background(), dir))
}

func TestStageKeepsDirectory(t *testing.T) {
	p := &Producer{
		Collector: testCollector(t),
		TmpRoot:   t.TempDir(),
	}
	dir, err := p.Stage(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "facts.json"))
}
