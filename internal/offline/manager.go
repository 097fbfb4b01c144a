// Offline cache policy: what gets cached, when stale caches are purged, and
// how intercepted requests are answered
package offline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/lifecycle"
	"github.com/iTrooz/offline-cache-proxy/internal/metrics"
	"github.com/iTrooz/offline-cache-proxy/internal/network"
	"github.com/iTrooz/offline-cache-proxy/internal/storage"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// OfflineBody is the body of the response served when neither the cache nor
// the network can answer
const OfflineBody = "App is offline"

// Manager implements lifecycle.Handler
type Manager struct {
	cacheName   string
	resources   []string
	development bool
	storage     storage.Storage
	fetcher     network.Fetcher
	metrics     *metrics.Metrics
}

// New creates a manager. Development mode is decided here, once, from the
// configured origin.
func New(cfg *config.Config, store storage.Storage, fetcher network.Fetcher, m *metrics.Metrics) (*Manager, error) {
	origin, err := url.Parse(cfg.Worker.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}

	resources := make([]string, 0, len(cfg.Worker.Resources))
	for _, resource := range cfg.Worker.Resources {
		ref, err := url.Parse(resource)
		if err != nil {
			return nil, fmt.Errorf("invalid resource %q: %w", resource, err)
		}
		resources = append(resources, origin.ResolveReference(ref).String())
	}

	return &Manager{
		cacheName:   cfg.Worker.CacheName,
		resources:   resources,
		development: cfg.IsDevelopment(),
		storage:     store,
		fetcher:     fetcher,
		metrics:     m,
	}, nil
}

// CacheName returns the name of the current cache
func (m *Manager) CacheName() string {
	return m.cacheName
}

// Resources returns the absolute URLs populated on install
func (m *Manager) Resources() []string {
	return append([]string(nil), m.resources...)
}

// Development reports whether caching is bypassed for a local origin
func (m *Manager) Development() bool {
	return m.development
}

// HandleInstall populates the current cache with the resource list.
// A population failure is logged and does not fail the install.
func (m *Manager) HandleInstall(ev *lifecycle.ExtendableEvent) {
	if m.development {
		logrus.Infof("Development mode, skipping cache installation")
		m.metrics.ObserveInstall(metrics.InstallSkipped)
		ev.SkipWaiting()
		return
	}

	ev.WaitUntil(func(ctx context.Context) error {
		if err := m.populate(ctx); err != nil {
			logrus.Errorf("Cache installation failed: %v", err)
			m.metrics.ObserveInstall(metrics.InstallFailed)
			return nil
		}
		m.metrics.ObserveInstall(metrics.InstallPopulated)
		return nil
	})
}

func (m *Manager) populate(ctx context.Context) error {
	c, err := m.storage.Open(ctx, m.cacheName)
	if err != nil {
		return err
	}
	logrus.Infof("Opened cache %s", m.cacheName)

	if err := c.AddAll(ctx, m.fetcher, m.resources); err != nil {
		return err
	}
	logrus.Infof("Cached %d resources in %s", len(m.resources), m.cacheName)
	return nil
}

// HandleFetch answers GET requests from the store, then the network, then
// with the offline response. Other requests pass through.
func (m *Manager) HandleFetch(ev *lifecycle.FetchEvent) {
	req := ev.Request()
	if m.development || req.Method != http.MethodGet {
		m.metrics.ObserveFetch(metrics.FetchPassthrough)
		return
	}

	resp, source := m.respond(ev.Context(), req)
	m.metrics.ObserveFetch(string(source))
	if err := ev.RespondWith(resp, source); err != nil {
		logrus.Errorf("Failed to respond to %s: %v", req.URL, err)
	}
}

func (m *Manager) respond(ctx context.Context, req *http.Request) (*http.Response, lifecycle.Source) {
	resp, err := m.storage.Match(ctx, req)
	if err == nil && resp != nil {
		return resp, lifecycle.SourceCache
	}

	if err == nil {
		resp, err = m.fetcher.Fetch(ctx, req)
		if err == nil {
			return resp, lifecycle.SourceNetwork
		}
	}

	logrus.Warnf("Fetch failed: %v", err)
	return OfflineResponse(req), lifecycle.SourceOffline
}

// HandleActivate deletes every cache whose name is not the current one.
// Deletions run concurrently; the first failure fails the activation.
func (m *Manager) HandleActivate(ev *lifecycle.ExtendableEvent) {
	ev.WaitUntil(func(ctx context.Context) error {
		names, err := m.storage.Keys(ctx)
		if err != nil {
			return err
		}

		var g errgroup.Group
		for _, name := range names {
			name := name
			if name == m.cacheName {
				continue
			}
			logrus.Infof("Deleting old cache: %s", name)
			g.Go(func() error {
				if _, err := m.storage.Delete(ctx, name); err != nil {
					return err
				}
				m.metrics.ObserveCacheDeleted()
				return nil
			})
		}
		return g.Wait()
	})
}

// OfflineResponse builds the fallback answer. The status is 200 so the client
// renders the message like a regular page.
func OfflineResponse(req *http.Request) *http.Response {
	resp := goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusOK, OfflineBody)
	resp.Status = "200 OK"
	resp.Proto = "HTTP/1.1"
	resp.ProtoMajor = 1
	resp.ProtoMinor = 1
	return resp
}
