package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/lifecycle"
	"github.com/iTrooz/offline-cache-proxy/internal/metrics"
	"github.com/iTrooz/offline-cache-proxy/internal/network"
	"github.com/iTrooz/offline-cache-proxy/internal/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFetcher answers every request with "network <path>", or fails when offline
type stubFetcher struct {
	offline bool
	calls   atomic.Int32
}

func (f *stubFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	f.calls.Add(1)
	if f.offline {
		return nil, errors.New("network unreachable")
	}
	body := "network " + req.URL.Path
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/html"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}

// recordingStorage counts every call made to the wrapped store
type recordingStorage struct {
	storage.Storage
	calls atomic.Int32
}

func (r *recordingStorage) Open(ctx context.Context, name string) (storage.Cache, error) {
	r.calls.Add(1)
	return r.Storage.Open(ctx, name)
}

func (r *recordingStorage) Match(ctx context.Context, req *http.Request) (*http.Response, error) {
	r.calls.Add(1)
	return r.Storage.Match(ctx, req)
}

func (r *recordingStorage) Keys(ctx context.Context) ([]string, error) {
	r.calls.Add(1)
	return r.Storage.Keys(ctx)
}

func (r *recordingStorage) Delete(ctx context.Context, name string) (bool, error) {
	r.calls.Add(1)
	return r.Storage.Delete(ctx, name)
}

type fixture struct {
	manager *Manager
	worker  *lifecycle.Worker
	store   *recordingStorage
	fetcher *stubFetcher
	metrics *metrics.Metrics
}

func fixture_manager(t *testing.T, origin, cacheName string) *fixture {
	cfg := config.Default()
	cfg.Worker.Origin = origin
	cfg.Worker.CacheName = cacheName

	f := &fixture{
		store:   &recordingStorage{Storage: storage.NewMemory()},
		fetcher: &stubFetcher{},
		metrics: metrics.New(),
	}
	manager, err := New(&cfg, f.store, f.fetcher, f.metrics)
	require.NoError(t, err)
	f.manager = manager
	f.worker = lifecycle.NewWorker(manager)
	return f
}

func request(t *testing.T, method, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	return req
}

func assertCounter(t *testing.T, m *metrics.Metrics, name, help, sample string) {
	t.Helper()
	expected := fmt.Sprintf("# HELP %s %s\n# TYPE %s counter\n%s\n", name, help, name, sample)
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), name))
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestNewResolvesResources(t *testing.T) {
	f := fixture_manager(t, "https://jannah.app", "jannah-v1")

	assert.Equal(t, []string{
		"https://jannah.app/",
		"https://jannah.app/index.html",
		"https://jannah.app/manifest.json",
	}, f.manager.Resources())
	assert.False(t, f.manager.Development())
	assert.Equal(t, "jannah-v1", f.manager.CacheName())
}

func TestDevelopmentModeBypassesStore(t *testing.T) {
	for _, origin := range []string{"http://localhost:5173", "http://127.0.0.1:8080"} {
		t.Run(origin, func(t *testing.T) {
			f := fixture_manager(t, origin, "jannah-v1")
			require.True(t, f.manager.Development())

			require.NoError(t, f.worker.Install(context.Background()))
			assert.True(t, f.worker.SkippedWaiting())

			assert.Zero(t, f.store.calls.Load())
			assert.Zero(t, f.fetcher.calls.Load())

			ev := lifecycle.NewFetchEvent(request(t, http.MethodGet, origin+"/index.html"))
			f.manager.HandleFetch(ev)
			_, _, responded := ev.Response()
			assert.False(t, responded)
			assert.Zero(t, f.store.calls.Load())
			assert.Zero(t, f.fetcher.calls.Load())
			assertCounter(t, f.metrics, "offline_install_total", "Install events by outcome", `offline_install_total{result="skipped"} 1`)
		})
	}
}

func TestInstallPopulatesCurrentCache(t *testing.T) {
	f := fixture_manager(t, "https://jannah.app", "jannah-v1")
	ctx := context.Background()

	require.NoError(t, f.worker.Start(ctx))
	assert.Equal(t, int32(3), f.fetcher.calls.Load())

	names, err := f.store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"jannah-v1"}, names)

	// Lookups for the installed URLs are answered without the network
	f.fetcher.offline = true
	for _, resource := range f.manager.Resources() {
		resp, source, ok := f.worker.Fetch(request(t, http.MethodGet, resource))
		require.True(t, ok)
		assert.Equal(t, lifecycle.SourceCache, source)
		assert.Equal(t, "network "+request(t, http.MethodGet, resource).URL.Path, body(t, resp))
	}
	assert.Equal(t, int32(3), f.fetcher.calls.Load())
}

func TestInstallFailureIsSwallowed(t *testing.T) {
	f := fixture_manager(t, "https://jannah.app", "jannah-v1")
	f.fetcher.offline = true
	ctx := context.Background()

	require.NoError(t, f.worker.Start(ctx), "a failed population must not fail the install")
	assert.Equal(t, lifecycle.Active, f.worker.State())

	// The cache was opened but left empty
	c, err := f.store.Open(ctx, "jannah-v1")
	require.NoError(t, err)
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFetchCacheHit(t *testing.T) {
	f := fixture_manager(t, "https://jannah.app", "jannah-v1")
	ctx := context.Background()
	require.NoError(t, f.worker.Start(ctx))
	calls := f.fetcher.calls.Load()

	resp, source, ok := f.worker.Fetch(request(t, http.MethodGet, "https://jannah.app/index.html"))
	require.True(t, ok)
	assert.Equal(t, lifecycle.SourceCache, source)
	assert.Equal(t, "network /index.html", body(t, resp))
	assert.Equal(t, calls, f.fetcher.calls.Load(), "a cache hit must not touch the network")
}

func TestFetchCacheMissUsesNetworkWithoutWriteThrough(t *testing.T) {
	f := fixture_manager(t, "https://jannah.app", "jannah-v1")
	ctx := context.Background()
	require.NoError(t, f.worker.Start(ctx))

	resp, source, ok := f.worker.Fetch(request(t, http.MethodGet, "https://jannah.app/api/prayers"))
	require.True(t, ok)
	assert.Equal(t, lifecycle.SourceNetwork, source)
	assert.Equal(t, "network /api/prayers", body(t, resp))

	cached, err := f.store.Match(ctx, request(t, http.MethodGet, "https://jannah.app/api/prayers"))
	require.NoError(t, err)
	assert.Nil(t, cached, "network responses are not written to the cache")
}

func TestFetchOfflineFallback(t *testing.T) {
	f := fixture_manager(t, "https://jannah.app", "jannah-v1")
	ctx := context.Background()
	require.NoError(t, f.worker.Start(ctx))
	f.fetcher.offline = true

	resp, source, ok := f.worker.Fetch(request(t, http.MethodGet, "https://jannah.app/uncached"))
	require.True(t, ok)
	assert.Equal(t, lifecycle.SourceOffline, source)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, "App is offline", body(t, resp))
	assertCounter(t, f.metrics, "offline_fetch_total", "Fetch events by response source", `offline_fetch_total{source="offline"} 1`)
}

type brokenStorage struct {
	storage.Storage
}

func (brokenStorage) Match(ctx context.Context, req *http.Request) (*http.Response, error) {
	return nil, errors.New("store unavailable")
}

func TestFetchStoreFailureFallsBackOffline(t *testing.T) {
	cfg := config.Default()
	fetcher := &stubFetcher{}
	manager, err := New(&cfg, brokenStorage{Storage: storage.NewMemory()}, fetcher, nil)
	require.NoError(t, err)

	ev := lifecycle.NewFetchEvent(request(t, http.MethodGet, "https://jannah.app/"))
	manager.HandleFetch(ev)

	resp, source, ok := ev.Response()
	require.True(t, ok)
	assert.Equal(t, lifecycle.SourceOffline, source)
	assert.Equal(t, OfflineBody, body(t, resp))
	assert.Zero(t, fetcher.calls.Load())
}

func TestFetchNonGetPassesThrough(t *testing.T) {
	f := fixture_manager(t, "https://jannah.app", "jannah-v1")
	require.NoError(t, f.worker.Start(context.Background()))
	storeCalls := f.store.calls.Load()
	fetchCalls := f.fetcher.calls.Load()

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead} {
		_, _, ok := f.worker.Fetch(request(t, method, "https://jannah.app/api/prayers"))
		assert.False(t, ok, "%s must not be intercepted", method)
	}
	assert.Equal(t, storeCalls, f.store.calls.Load())
	assert.Equal(t, fetchCalls, f.fetcher.calls.Load())
}

func TestActivatePurgesStaleCaches(t *testing.T) {
	f := fixture_manager(t, "https://jannah.app", "jannah-v2")
	ctx := context.Background()

	for _, name := range []string{"jannah-v1", "jannah-v2", "other-app"} {
		_, err := f.store.Open(ctx, name)
		require.NoError(t, err)
	}

	require.NoError(t, f.worker.Start(ctx))

	names, err := f.store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"jannah-v2"}, names)
	assertCounter(t, f.metrics, "offline_caches_deleted_total", "Stale caches deleted on activate", "offline_caches_deleted_total 2")
}

type failingDeleteStorage struct {
	storage.Storage
}

func (failingDeleteStorage) Delete(ctx context.Context, name string) (bool, error) {
	return false, errors.New("permission denied")
}

func TestActivateDeletionFailure(t *testing.T) {
	cfg := config.Default()
	store := failingDeleteStorage{Storage: storage.NewMemory()}
	_, err := store.Open(context.Background(), "jannah-v0")
	require.NoError(t, err)

	manager, err := New(&cfg, store, network.New(nil, 0), nil)
	require.NoError(t, err)

	worker := lifecycle.NewWorker(manager, lifecycle.AssumeInstalled())
	err = worker.Activate(context.Background())
	assert.ErrorContains(t, err, "permission denied")
}

func TestOfflineResponse(t *testing.T) {
	req := request(t, http.MethodGet, "https://jannah.app/")
	resp := OfflineResponse(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, int64(len(OfflineBody)), resp.ContentLength)
	assert.Same(t, req, resp.Request)
	assert.Equal(t, OfflineBody, body(t, resp))
}
