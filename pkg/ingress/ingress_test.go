package ingress

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoge23/fats/pkg/builder"
	"github.com/geoge23/fats/pkg/scheduler"
	"github.com/geoge23/fats/pkg/secrets"
	"github.com/geoge23/fats/pkg/storage"
)

func buildTarGz(t *testing.T, entries map[string]string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return &buf
}

func newTestServer(t *testing.T) (*Server, storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "fats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	b := builder.New(builder.Config{Store: store, WorkRoot: t.TempDir(), BinDir: t.TempDir()})
	secretsMgr := secrets.NewManager(store)
	sched := scheduler.New()
	reconcile := sched.Register("reconcile", time.Hour, func(ctx context.Context) error { return nil })

	return New(b, secretsMgr, sched, reconcile), store
}

func TestHandleSecretStoresValue(t *testing.T) {
	srv, store := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mgmt/secret/DB_URL", strings.NewReader("postgres://localhost"))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	secret, err := store.GetSecret(context.Background(), "DB_URL")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost", secret.Value)
}

func TestHandleSecretRejectsEmptyValue(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mgmt/secret/DB_URL", strings.NewReader(""))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTarUploadRejectsInvalidArchive(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mgmt/tar-upload", strings.NewReader("not a tarball"))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

