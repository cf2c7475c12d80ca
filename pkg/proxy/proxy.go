// Package proxy is the reverse proxy that resolves an incoming
// "/{name}[:{version}]/..." request to a running container and
// forwards it there, streaming in both directions with no timeouts.
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/geoge23/fats/pkg/log"
	"github.com/geoge23/fats/pkg/metrics"
	"github.com/geoge23/fats/pkg/storage"
	"github.com/geoge23/fats/pkg/types"
)

// cacheTTL is how long a resolved target is trusted before the next
// request re-resolves it from storage.
const cacheTTL = 300 * time.Second

// hopByHopHeaders must never be forwarded between the client and the
// upstream container, per RFC 7230 section 6.1.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// target is a resolved upstream, cached by app name.
type target struct {
	record    *types.ServiceRecord
	expiresAt time.Time
}

// Proxy resolves "{name}[:{version}]" to a live container and forwards
// HTTP requests to it.
type Proxy struct {
	store storage.Store

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]target
}

// New returns a Proxy backed by store.
func New(store storage.Store) *Proxy {
	return &Proxy{store: store, cache: make(map[string]target)}
}

// ServeHTTP implements http.Handler. The first path segment names the
// application; the rest of the path and the query string are forwarded
// unchanged to the resolved container.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	appName, remainder := splitAppPath(r.URL.Path)
	if appName == "" {
		http.NotFound(w, r)
		return
	}

	timer := metrics.NewTimer()
	record, err := p.resolve(r.Context(), appName)
	timer.ObserveDuration(metrics.ProxyResolutionDuration)
	if err != nil {
		metrics.ProxyRequestsTotal.WithLabelValues("not_found").Inc()
		http.Error(w, "application not found", http.StatusNotFound)
		return
	}

	target, err := url.Parse(fmt.Sprintf("http://%s:%d", record.Hostname, record.Port))
	if err != nil {
		metrics.ProxyRequestsTotal.WithLabelValues("error").Inc()
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	r.URL.Path = remainder
	forwardedFor := r.Header.Get("X-Forwarded-For")
	if forwardedFor == "" {
		forwardedFor = r.RemoteAddr
	}
	forwardedProto := r.Header.Get("X-Forwarded-Proto")
	if forwardedProto == "" {
		forwardedProto = "http"
	}
	stripHopByHop(r.Header)

	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Header.Set("X-Forwarded-For", forwardedFor)
			req.Header.Set("X-Forwarded-Proto", forwardedProto)
		},
		ModifyResponse: func(resp *http.Response) error {
			stripHopByHop(resp.Header)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			metrics.ProxyRequestsTotal.WithLabelValues("upstream_error").Inc()
			log.Logger.Warn().Err(err).Str("app", appName).Msg("proxy upstream error")
			http.Error(w, "bad gateway", http.StatusBadGateway)
		},
	}
	metrics.ProxyRequestsTotal.WithLabelValues("ok").Inc()
	rp.ServeHTTP(w, r)
}

// splitAppPath splits "/{app}/{rest...}" into the app name and the
// remaining path (always starting with "/", possibly just "/").
func splitAppPath(path string) (app, remainder string) {
	trimmed := strings.TrimPrefix(path, "/")
	idx := strings.IndexByte(trimmed, '/')
	if idx < 0 {
		return trimmed, "/"
	}
	return trimmed[:idx], trimmed[idx:]
}

func stripHopByHop(h http.Header) {
	for _, header := range hopByHopHeaders {
		h.Del(header)
	}
}

// resolve returns the ServiceRecord backing appName, using a 300
// second cache and single-flighting concurrent misses for the same
// name so a cold cache doesn't stampede storage.
func (p *Proxy) resolve(ctx context.Context, appName string) (*types.ServiceRecord, error) {
	p.mu.Lock()
	cached, ok := p.cache[appName]
	p.mu.Unlock()
	if ok && time.Now().Before(cached.expiresAt) {
		return cached.record, nil
	}

	v, err, _ := p.group.Do(appName, func() (interface{}, error) {
		record, err := p.resolveUncached(ctx, appName)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cache[appName] = target{record: record, expiresAt: time.Now().Add(cacheTTL)}
		p.mu.Unlock()
		return record, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.ServiceRecord), nil
}

// resolveUncached implements the app-name grammar: "name:version" is an
// exact match; "name" alone resolves to the Project literally named
// "latest" if one exists, otherwise the lexicographically greatest
// version.
func (p *Proxy) resolveUncached(ctx context.Context, appName string) (*types.ServiceRecord, error) {
	name, version, hasVersion := strings.Cut(appName, ":")

	var project *types.Project
	if hasVersion {
		proj, err := p.store.GetProjectByNameVersion(ctx, name, version)
		if err != nil {
			return nil, fmt.Errorf("proxy: resolving %s: %w", appName, err)
		}
		project = proj
	} else {
		versions, err := p.store.ListProjectVersions(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("proxy: listing versions of %s: %w", name, err)
		}
		if len(versions) == 0 {
			return nil, storage.ErrNotFound
		}
		project = pickLatest(versions)
	}

	record, err := p.store.GetServiceRecordByProject(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("proxy: no running container for %s: %w", appName, err)
	}
	return record, nil
}

// pickLatest prefers a Project literally versioned "latest"; failing
// that, it returns the lexicographically greatest version.
func pickLatest(projects []*types.Project) *types.Project {
	for _, p := range projects {
		if p.Version == "latest" {
			return p
		}
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Version > projects[j].Version })
	return projects[0]
}
