// Performs live network fetches on behalf of the offline worker
package network

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Fetcher performs a live network request. It fails on transport errors only;
// any HTTP status is a successful fetch.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPFetcher is a Fetcher backed by an http.Client.
// Redirects are returned to the caller instead of being followed.
type HTTPFetcher struct {
	client *http.Client
}

// New creates a fetcher using transport, or a proxy-less clone of the default
// transport when nil. A zero timeout leaves fetches unbounded.
func New(transport http.RoundTripper, timeout time.Duration) *HTTPFetcher {
	if transport == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		// Never route through HTTP_PROXY, which may point back at us
		tr.Proxy = nil
		transport = tr
	}

	return &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	outreq := req.Clone(ctx)
	// Server-side requests carry a RequestURI which http.Client refuses
	outreq.RequestURI = ""

	resp, err := f.client.Do(outreq)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", req.URL, err)
	}
	return resp, nil
}
