package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/lifecycle"
	"github.com/iTrooz/offline-cache-proxy/internal/metrics"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"
)

// Dispatcher delivers fetch events to the offline worker.
// ok is false when the request should go to the network untouched.
type Dispatcher interface {
	Fetch(req *http.Request) (resp *http.Response, source lifecycle.Source, ok bool)
}

// Server is the proxy hosting the offline worker
type Server struct {
	config     *config.Config
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	proxy      *goproxy.ProxyHttpServer
}

// New creates a new proxy server
func New(cfg *config.Config, dispatcher Dispatcher, m *metrics.Metrics) (*Server, error) {
	s := &Server{
		config:     cfg,
		dispatcher: dispatcher,
		metrics:    m,
		proxy:      goproxy.NewProxyHttpServer(),
	}
	s.proxy.Verbose = logrus.IsLevelEnabled(logrus.TraceLevel)
	s.proxy.Logger = logrus.StandardLogger()

	if cfg.Server.HTTPS.Enabled {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			return nil, err
		}
	}

	s.proxy.OnRequest().DoFunc(s.handleRequest)

	return s, nil
}

// GetProxy returns the underlying goproxy server (exported for testing)
func (s *Server) GetProxy() *goproxy.ProxyHttpServer {
	return s.proxy
}

// Start serves the proxy, plus the metrics and transparent HTTPS listeners when configured
func (s *Server) Start() error {
	if addr := s.config.Server.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		go func() {
			logrus.Infof("Serving metrics on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	if addr := s.config.Server.HTTPS.TransparentAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listening for transparent https connections: %w", err)
		}
		logrus.Infof("Accepting transparent HTTPS connections on %s", addr)
		go s.ServeTransparentHTTPS(ln)
	}

	logrus.Infof("Starting offline cache proxy on port %d", s.config.Server.Port)
	logrus.Infof("Origin: %s", s.config.Worker.Origin)
	logrus.Infof("Cache name: %s", s.config.Worker.CacheName)

	return http.ListenAndServe(fmt.Sprintf(":%d", s.config.Server.Port), s.proxy)
}

func (s *Server) handleRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	resp, source, ok := s.dispatcher.Fetch(requ)
	if !ok {
		logrus.Debugf("Passing through %s %s", requ.Method, getTargetURL(requ))
		return requ, nil
	}

	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.Header.Set("X-Cache", cacheHeader(source))

	logrus.Infof("Served %s %s from %s -> %d", requ.Method, getTargetURL(requ), source, resp.StatusCode)
	return requ, resp
}

func cacheHeader(source lifecycle.Source) string {
	switch source {
	case lifecycle.SourceCache:
		return "HIT"
	case lifecycle.SourceOffline:
		return "OFFLINE"
	}
	return "MISS"
}
