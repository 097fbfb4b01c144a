package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var ErrAlreadyResponded = errors.New("fetch event already has a response")

// Source tells where the response to a fetch event came from
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
	SourceOffline Source = "offline"
)

// ExtendableEvent is delivered for the install and activate phases.
// The phase is complete once every function passed to WaitUntil returned.
type ExtendableEvent struct {
	ctx         context.Context
	pending     errgroup.Group
	skipWaiting atomic.Bool
}

func newExtendableEvent(ctx context.Context) *ExtendableEvent {
	return &ExtendableEvent{ctx: ctx}
}

// Context is passed to every WaitUntil function
func (e *ExtendableEvent) Context() context.Context {
	return e.ctx
}

// WaitUntil extends the phase until fn returns. A non-nil error fails the phase.
func (e *ExtendableEvent) WaitUntil(fn func(ctx context.Context) error) {
	e.pending.Go(func() error {
		return fn(e.ctx)
	})
}

// SkipWaiting asks the host to activate right after install
func (e *ExtendableEvent) SkipWaiting() {
	e.skipWaiting.Store(true)
}

func (e *ExtendableEvent) wait() error {
	return e.pending.Wait()
}

// FetchEvent is delivered for each intercepted request. A handler that does
// not call RespondWith lets the request pass through untouched.
type FetchEvent struct {
	request *http.Request

	mu        sync.Mutex
	response  *http.Response
	source    Source
	responded bool
}

// NewFetchEvent wraps an intercepted request
func NewFetchEvent(req *http.Request) *FetchEvent {
	return &FetchEvent{request: req}
}

// Request returns the intercepted request
func (e *FetchEvent) Request() *http.Request {
	return e.request
}

// Context returns the context of the intercepted request
func (e *FetchEvent) Context() context.Context {
	return e.request.Context()
}

// RespondWith answers the request. Only the first call wins.
func (e *FetchEvent) RespondWith(resp *http.Response, source Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.responded {
		return ErrAlreadyResponded
	}
	e.response = resp
	e.source = source
	e.responded = true
	return nil
}

// Response returns the response given to RespondWith, if any
func (e *FetchEvent) Response() (*http.Response, Source, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.response, e.source, e.responded
}
