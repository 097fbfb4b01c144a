package httpcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
)

// HTTPCache stores HTTP responses in a GenericCache, keyed by request
type HTTPCache struct {
	cache cache.GenericCache
}

func New(cache cache.GenericCache) *HTTPCache {
	return &HTTPCache{
		cache: cache,
	}
}

// maxSegment bounds an escaped path segment so it fits in a file name
const maxSegment = 200

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Generates a unique key to store a value. Requests are matched on method and
// URL only; headers and body are ignored.
//
// Keys always have four segments: scheme/host/path/METHOD[_queryhash].bin.
// The URL path is escaped into a single segment, so no URL can reach the
// entry of another URL or leave its host directory.
func (d *HTTPCache) GenerateKey(request *http.Request) (string, error) {
	if request.URL == nil || request.URL.Host == "" || request.URL.Scheme == "" {
		return "", fmt.Errorf("request URL must be absolute")
	}

	scheme := strings.ToLower(request.URL.Scheme)
	host := strings.ToLower(request.URL.Host)
	if port := request.URL.Port(); port != "" && defaultPorts[scheme] == port {
		host = strings.TrimSuffix(host, ":"+port)
	}
	if !validSegment(scheme) || !validSegment(host) {
		return "", fmt.Errorf("invalid request URL: %s", request.URL)
	}

	urlPath := request.URL.EscapedPath()
	if !strings.HasPrefix(urlPath, "/") {
		urlPath = "/" + urlPath
	}
	pathSegment := url.PathEscape(urlPath)
	if len(pathSegment) > maxSegment {
		// Escaped paths always start with "%", so hashed ones cannot collide
		hash := sha256.Sum256([]byte(urlPath))
		pathSegment = "_" + hex.EncodeToString(hash[:])
	}

	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	filename := method
	if request.URL.RawQuery != "" {
		hash := sha256.Sum256([]byte(request.URL.RawQuery))
		filename += "_q" + hex.EncodeToString(hash[:])[:16]
	}
	filename += ".bin"

	return filepath.Join(scheme, host, pathSegment, filename), nil
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

func (d *HTTPCache) SetReq(request *http.Request, resp *http.Response) error {
	cacheKey, err := d.GenerateKey(request)
	if err != nil {
		return fmt.Errorf("failed to generate cache key: %w", err)
	}

	return d.SetKey(cacheKey, resp)
}

func (d *HTTPCache) SetKey(requestKey string, resp *http.Response) error {
	data, err := Serialize(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := d.cache.Set(requestKey, data); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}

func (d *HTTPCache) GetReq(req *http.Request) (*http.Response, error) {
	requestKey, err := d.GenerateKey(req)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cache key: %w", err)
	}

	resp, err := d.GetKey(requestKey)
	if err != nil {
		return nil, err
	}
	// Handle no cache hit
	if resp == nil {
		return nil, nil
	}

	// Associate the original request with the response
	resp.Request = req
	return resp, nil
}

func (d *HTTPCache) GetKey(requestKey string) (*http.Response, error) {
	data, err := d.cache.Get(requestKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	if data == nil {
		return nil, nil // Cache miss
	}

	resp, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	return resp, nil
}

// Keys lists the keys of every stored response
func (d *HTTPCache) Keys() ([]string, error) {
	return d.cache.Keys()
}
