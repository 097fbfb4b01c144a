// Named caches of HTTP responses, shared by every consumer of the store
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/iTrooz/offline-cache-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-cache-proxy/internal/network"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidName       = errors.New("invalid cache name")
	ErrUnsupportedMethod = errors.New("only GET requests can be cached")
)

// Storage holds named caches. Implementations are safe for concurrent use.
type Storage interface {
	// Open returns the named cache, creating it if absent
	Open(ctx context.Context, name string) (Cache, error)
	Has(ctx context.Context, name string) (bool, error)
	// Match looks the request up in every cache, in name order.
	// Returns nil, nil on a miss.
	Match(ctx context.Context, req *http.Request) (*http.Response, error)
	// Keys lists cache names in lexical order
	Keys(ctx context.Context) ([]string, error)
	// Delete removes the named cache and reports whether it existed
	Delete(ctx context.Context, name string) (bool, error)
}

// Cache is a single named mapping from request to response
type Cache interface {
	Name() string
	// Match returns the stored response for req, or nil, nil
	Match(ctx context.Context, req *http.Request) (*http.Response, error)
	// Put stores resp for req. The response body is consumed.
	Put(ctx context.Context, req *http.Request, resp *http.Response) error
	// AddAll fetches every URL and stores the responses. Either every URL
	// is fetched with a 2xx status and stored, or nothing is stored.
	AddAll(ctx context.Context, fetcher network.Fetcher, urls []string) error
	// Keys lists the keys of stored entries
	Keys(ctx context.Context) ([]string, error)
}

// backend maps cache names to their generic byte stores
type backend interface {
	names() ([]string, error)
	open(name string) (cache.GenericCache, error)
	lookup(name string) (cache.GenericCache, bool, error)
	remove(name string) (bool, error)
}

type store struct {
	backend backend
}

func (s *store) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	generic, err := s.backend.open(name)
	if err != nil {
		return nil, fmt.Errorf("opening cache %q: %w", name, err)
	}
	return &namedCache{name: name, http: httpcache.New(generic)}, nil
}

func (s *store) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok, err := s.backend.lookup(name)
	return ok, err
}

func (s *store) Match(ctx context.Context, req *http.Request) (*http.Response, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		generic, ok, err := s.backend.lookup(name)
		if err != nil {
			return nil, fmt.Errorf("looking up cache %q: %w", name, err)
		}
		if !ok {
			// Deleted concurrently
			continue
		}
		resp, err := httpcache.New(generic).GetReq(req)
		if err != nil {
			return nil, fmt.Errorf("matching in cache %q: %w", name, err)
		}
		if resp != nil {
			logrus.Debugf("Cache hit for %s %s in %s", req.Method, req.URL, name)
			return resp, nil
		}
	}
	return nil, nil
}

func (s *store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names, err := s.backend.names()
	if err != nil {
		return nil, fmt.Errorf("listing caches: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *store) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	deleted, err := s.backend.remove(name)
	if err != nil {
		return false, fmt.Errorf("deleting cache %q: %w", name, err)
	}
	return deleted, nil
}

type namedCache struct {
	name string
	http *httpcache.HTTPCache
}

func (c *namedCache) Name() string {
	return c.name
}

func (c *namedCache) Match(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.http.GetReq(req)
}

func (c *namedCache) Put(ctx context.Context, req *http.Request, resp *http.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return fmt.Errorf("%w: %s %s", ErrUnsupportedMethod, req.Method, req.URL)
	}
	return c.http.SetReq(req, resp)
}

func (c *namedCache) AddAll(ctx context.Context, fetcher network.Fetcher, urls []string) error {
	requests := make([]*http.Request, len(urls))
	for i, u := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("building request for %s: %w", u, err)
		}
		requests[i] = req
	}

	// Responses are buffered so a late failure leaves the cache untouched
	responses := make([]*http.Response, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			resp, err := fetcher.Fetch(gctx, req)
			if err != nil {
				return err
			}
			defer func(body io.Closer) { _ = body.Close() }(resp.Body)

			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return fmt.Errorf("fetching %s: unexpected status %d", req.URL, resp.StatusCode)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading %s: %w", req.URL, err)
			}
			resp.Body = io.NopCloser(bytes.NewReader(body))
			resp.ContentLength = int64(len(body))
			resp.TransferEncoding = nil
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, req := range requests {
		if err := c.Put(ctx, req, responses[i]); err != nil {
			return fmt.Errorf("storing %s: %w", req.URL, err)
		}
	}
	return nil
}

func (c *namedCache) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.http.Keys()
}
