package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTarGz(t *testing.T, entries map[string]string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0o644, Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return &buf
}

func TestExtractWritesFiles(t *testing.T) {
	dir := t.TempDir()
	src := buildTarGz(t, map[string]string{
		"myapp/options.ini": "[fats]\nname=myapp\n",
		"myapp/main.go":     "package main\n",
	})

	require.NoError(t, Extract(src, dir))

	data, err := os.ReadFile(filepath.Join(dir, "myapp", "options.ini"))
	require.NoError(t, err)
	assert.Equal(t, "[fats]\nname=myapp\n", string(data))
}

func TestExtractRejectsZipSlip(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "../../etc/passwd", Mode: 0o644, Size: 4,
	}))
	_, err := tw.Write([]byte("evil"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	err = Extract(&buf, dir)
	require.Error(t, err)
}

func TestExtractRejectsEscapingSymlink(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "link", Typeflag: tar.TypeSymlink, Linkname: "../../etc/passwd",
	}))
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	err := Extract(&buf, dir)
	require.Error(t, err)
}

func TestTopLevelEntriesSingleDir(t *testing.T) {
	dir := t.TempDir()
	src := buildTarGz(t, map[string]string{"myapp/main.go": "package main\n"})
	require.NoError(t, Extract(src, dir))

	entries, err := TopLevelEntries(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"myapp"}, entries)
}
