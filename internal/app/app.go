// Package app wires the configured store, worker and proxy together
package app

import (
	"fmt"
	"net/http"

	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/lifecycle"
	"github.com/iTrooz/offline-cache-proxy/internal/metrics"
	"github.com/iTrooz/offline-cache-proxy/internal/network"
	"github.com/iTrooz/offline-cache-proxy/internal/offline"
	"github.com/iTrooz/offline-cache-proxy/internal/proxy"
	"github.com/iTrooz/offline-cache-proxy/internal/storage"
)

type App struct {
	Config  *config.Config
	Storage storage.Storage
	Metrics *metrics.Metrics
	Manager *offline.Manager
	Worker  *lifecycle.Worker
	Server  *proxy.Server
}

// New builds the application. transport, when set, carries both the worker's
// network fetches and the proxy's pass-through traffic.
func New(cfg *config.Config, transport *http.Transport, opts ...lifecycle.Option) (*App, error) {
	store, err := OpenStorage(cfg)
	if err != nil {
		return nil, err
	}

	timeout, err := cfg.GetFetchTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid fetch timeout: %w", err)
	}

	var rt http.RoundTripper
	if transport != nil {
		rt = transport
	}
	fetcher := network.New(rt, timeout)

	m := metrics.New()

	manager, err := offline.New(cfg, store, fetcher, m)
	if err != nil {
		return nil, err
	}

	opts = append([]lifecycle.Option{lifecycle.WithStateObserver(func(s lifecycle.State) {
		m.SetState(int(s))
	})}, opts...)
	worker := lifecycle.NewWorker(manager, opts...)

	server, err := proxy.New(cfg, worker, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy server: %w", err)
	}
	if transport != nil {
		server.GetProxy().Tr = transport
	}

	return &App{
		Config:  cfg,
		Storage: store,
		Metrics: m,
		Manager: manager,
		Worker:  worker,
		Server:  server,
	}, nil
}

// OpenStorage opens the cache store selected by the configuration
func OpenStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return storage.NewMemory(), nil
	case "disk", "":
		store, err := storage.NewDisk(cfg.Cache.Folder)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache storage: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
}
