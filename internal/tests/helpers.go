package tests

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/iTrooz/offline-cache-proxy/internal/app"
	"github.com/iTrooz/offline-cache-proxy/internal/config"
)

// upstream is a test origin that can be taken offline
type upstream struct {
	*httptest.Server
	offline atomic.Bool
	hits    atomic.Int32
}

// fixture_upstream creates a test upstream server
func fixture_upstream() *upstream {
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		u.hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<p>Hello from upstream ` + requ.Method + ` ` + requ.URL.Path + `</p>`))
	}))
	return u
}

// transport dials the upstream for every host, failing while it is offline
func (u *upstream) transport() *http.Transport {
	addr := u.Listener.Addr().String()
	dialer := &net.Dialer{Timeout: time.Second}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			if u.offline.Load() {
				return nil, &net.OpError{Op: "dial", Net: network, Err: errOffline}
			}
			return dialer.DialContext(ctx, network, addr)
		},
		DisableKeepAlives: true,
	}
}

var errOffline = errors.New("network is offline")

// fixture_config creates a test config for the given origin
func fixture_config(origin, tempDir string) *config.Config {
	cfg := config.Default()
	cfg.Worker.Origin = origin
	cfg.Cache.Folder = tempDir
	return &cfg
}

// fixture_proxy builds the application and returns it with an HTTP client using its proxy
func fixture_proxy(cfg *config.Config, u *upstream) (*app.App, *httptest.Server, *http.Client, error) {
	application, err := app.New(cfg, u.transport())
	if err != nil {
		return nil, nil, nil, err
	}

	// Create test proxy HTTP server using goproxy
	proxyTestServer := httptest.NewServer(application.Server.GetProxy())

	// Create HTTP client that uses our proxy
	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			DisableKeepAlives: true,
		},
		Timeout: 10 * time.Second,
	}

	return application, proxyTestServer, client, nil
}
