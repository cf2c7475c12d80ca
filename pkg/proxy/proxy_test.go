package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoge23/fats/pkg/storage"
	"github.com/geoge23/fats/pkg/types"
)

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "fats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSplitAppPath(t *testing.T) {
	cases := []struct {
		path, app, remainder string
	}{
		{"/myapp", "myapp", "/"},
		{"/myapp/", "myapp", "/"},
		{"/myapp/sub/path", "myapp", "/sub/path"},
		{"/myapp:1.0.0/health", "myapp:1.0.0", "/health"},
	}
	for _, c := range cases {
		app, remainder := splitAppPath(c.path)
		assert.Equal(t, c.app, app, c.path)
		assert.Equal(t, c.remainder, remainder, c.path)
	}
}

func TestResolveUncachedExactVersion(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	project, err := store.UpsertProject(ctx, &types.Project{Name: "myapp", Version: "1.0.0", Image: "myapp:1.0.0"})
	require.NoError(t, err)
	_, err = store.CreateServiceRecord(ctx, &types.ServiceRecord{
		ContainerID: "c1", Hostname: "fats-myapp100-1", Port: 30001, ProjectID: project.ID,
	})
	require.NoError(t, err)

	p := New(store)
	record, err := p.resolveUncached(ctx, "myapp:1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "fats-myapp100-1", record.Hostname)
}

func TestResolveUncachedPrefersLatestLiteral(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old, err := store.UpsertProject(ctx, &types.Project{Name: "myapp", Version: "2.0.0", Image: "myapp:2.0.0"})
	require.NoError(t, err)
	_, err = store.CreateServiceRecord(ctx, &types.ServiceRecord{ContainerID: "old", Hostname: "old-host", Port: 1, ProjectID: old.ID})
	require.NoError(t, err)

	latest, err := store.UpsertProject(ctx, &types.Project{Name: "myapp", Version: "latest", Image: "myapp:latest"})
	require.NoError(t, err)
	_, err = store.CreateServiceRecord(ctx, &types.ServiceRecord{ContainerID: "latest", Hostname: "latest-host", Port: 2, ProjectID: latest.ID})
	require.NoError(t, err)

	p := New(store)
	record, err := p.resolveUncached(ctx, "myapp")
	require.NoError(t, err)
	assert.Equal(t, "latest-host", record.Hostname)
}

func TestResolveUncachedFallsBackToLexicographicMax(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, version := range []string{"1.0.0", "2.0.0", "1.5.0"} {
		project, err := store.UpsertProject(ctx, &types.Project{Name: "myapp", Version: version, Image: "myapp:" + version})
		require.NoError(t, err)
		_, err = store.CreateServiceRecord(ctx, &types.ServiceRecord{
			ContainerID: version, Hostname: "host-" + version, Port: 1, ProjectID: project.ID,
		})
		require.NoError(t, err)
	}

	p := New(store)
	record, err := p.resolveUncached(ctx, "myapp")
	require.NoError(t, err)
	assert.Equal(t, "host-2.0.0", record.Hostname)
}

func TestResolveUncachedUnknownAppReturnsNotFound(t *testing.T) {
	store := openTestStore(t)
	p := New(store)
	_, err := p.resolveUncached(context.Background(), "doesnotexist")
	assert.Error(t, err)
}

func TestServeHTTPReturns404ForUnknownApp(t *testing.T) {
	store := openTestStore(t)
	p := New(store)

	req := httptest.NewRequest(http.MethodGet, "/doesnotexist/path", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeHTTPProxiesToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hello", r.URL.Path)
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	store := openTestStore(t)
	ctx := context.Background()
	project, err := store.UpsertProject(ctx, &types.Project{Name: "myapp", Version: "1.0.0", Image: "myapp:1.0.0"})
	require.NoError(t, err)

	upstreamURL, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	record := &types.ServiceRecord{
		ContainerID: "c1",
		Hostname:    upstreamURL.Hostname(),
		Port:        atoiOrZero(upstreamURL.Port()),
		ProjectID:   project.ID,
	}
	_, err = store.CreateServiceRecord(ctx, record)
	require.NoError(t, err)

	p := New(store)
	req := httptest.NewRequest(http.MethodGet, "/myapp:1.0.0/hello", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Empty(t, rec.Header().Get("Connection"))
}

func atoiOrZero(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
