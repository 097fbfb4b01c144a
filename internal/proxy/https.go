package proxy

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/iTrooz/offline-cache-proxy/internal/config"

	"github.com/elazarl/goproxy"
	"github.com/inconshreveable/go-vhost"
	"github.com/sirupsen/logrus"
)

func loadCertificate(cfg *config.Config) (*tls.Certificate, error) {
	if cfg.Server.HTTPS.CACertFile == "" || cfg.Server.HTTPS.CAKeyFile == "" {
		logrus.Debugf("No CA certificate configured, using goproxy default certificate")
		return nil, nil // Use default goproxy certificate
	}

	cert, err := tls.LoadX509KeyPair(cfg.Server.HTTPS.CACertFile, cfg.Server.HTTPS.CAKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate and key: %w", err)
	}
	logrus.Debugf("Loaded CA certificate from %s", cfg.Server.HTTPS.CACertFile)
	return &cert, nil
}

// setupHTTPSProxyHandler intercepts CONNECT tunnels so HTTPS requests reach the worker
func (s *Server) setupHTTPSProxyHandler() error {
	caCert, err := loadCertificate(s.config)
	if err != nil {
		return err
	}

	s.proxy.CertStore = newCertStore()

	if caCert == nil {
		logrus.Warnf("TLS interception enabled but no CA certificate loaded, using goproxy default certificate")
		s.proxy.OnRequest().HandleConnect(goproxy.AlwaysMitm)
		return nil
	}

	// Make goproxy use our provided CA certificate
	customCaMitm := &goproxy.ConnectAction{
		Action:    goproxy.ConnectMitm,
		TLSConfig: goproxy.TLSConfigFromCA(caCert),
	}
	customAlwaysMitm := goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		logrus.Debugf("Handling CONNECT request for %s", host)
		return customCaMitm, host
	})
	s.proxy.OnRequest().HandleConnect(customAlwaysMitm)
	return nil
}

// ServeTransparentHTTPS accepts raw TLS connections on ln and routes them by
// SNI, as if the client had sent a CONNECT. Returns when ln is closed.
func (s *Server) ServeTransparentHTTPS(ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.Errorf("Error accepting new connection: %v", err)
			continue
		}
		go func(c net.Conn) {
			tlsConn, err := vhost.TLS(c)
			if err != nil {
				logrus.Errorf("Error reading TLS client hello: %v", err)
				_ = c.Close()
				return
			}
			if tlsConn.Host() == "" {
				logrus.Warnf("Cannot support non-SNI enabled clients")
				_ = c.Close()
				return
			}
			connectReq := &http.Request{
				Method: http.MethodConnect,
				URL: &url.URL{
					Opaque: tlsConn.Host(),
					Host:   net.JoinHostPort(tlsConn.Host(), "443"),
				},
				Host:       tlsConn.Host(),
				Header:     make(http.Header),
				RemoteAddr: c.RemoteAddr().String(),
			}
			s.proxy.ServeHTTP(dumbResponseWriter{tlsConn}, connectReq)
		}(c)
	}
}
