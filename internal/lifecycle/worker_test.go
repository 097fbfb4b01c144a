package lifecycle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	installErr  error
	activateErr error
	skipWaiting bool
	respond     bool

	installDone  atomic.Bool
	activateDone atomic.Bool
	fetches      atomic.Int32
}

func (h *fakeHandler) HandleInstall(ev *ExtendableEvent) {
	if h.skipWaiting {
		ev.SkipWaiting()
		return
	}
	ev.WaitUntil(func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		h.installDone.Store(true)
		return h.installErr
	})
}

func (h *fakeHandler) HandleActivate(ev *ExtendableEvent) {
	ev.WaitUntil(func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		h.activateDone.Store(true)
		return h.activateErr
	})
}

func (h *fakeHandler) HandleFetch(ev *FetchEvent) {
	h.fetches.Add(1)
	if !h.respond {
		return
	}
	_ = ev.RespondWith(&http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("cached")),
	}, SourceCache)
}

func fixture_request(t *testing.T) *http.Request {
	req, err := http.NewRequest(http.MethodGet, "https://jannah.app/", nil)
	require.NoError(t, err)
	return req
}

func TestStartWaitsForPendingWork(t *testing.T) {
	handler := &fakeHandler{respond: true}
	var states []State
	worker := NewWorker(handler, WithStateObserver(func(s State) { states = append(states, s) }))

	assert.Equal(t, Uninstalled, worker.State())
	require.NoError(t, worker.Start(context.Background()))

	assert.True(t, handler.installDone.Load(), "install must wait for its pending work")
	assert.True(t, handler.activateDone.Load(), "activate must wait for its pending work")
	assert.Equal(t, Active, worker.State())
	assert.Equal(t, []State{Installed, Active}, states)
	assert.False(t, worker.SkippedWaiting())
}

func TestFetchBeforeActive(t *testing.T) {
	handler := &fakeHandler{respond: true}
	worker := NewWorker(handler)

	_, _, ok := worker.Fetch(fixture_request(t))
	assert.False(t, ok)
	assert.Zero(t, handler.fetches.Load(), "an inactive worker must not receive fetch events")

	require.NoError(t, worker.Install(context.Background()))
	_, _, ok = worker.Fetch(fixture_request(t))
	assert.False(t, ok)

	require.NoError(t, worker.Activate(context.Background()))
	resp, source, ok := worker.Fetch(fixture_request(t))
	require.True(t, ok)
	assert.Equal(t, SourceCache, source)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFetchPassThrough(t *testing.T) {
	handler := &fakeHandler{}
	worker := NewWorker(handler)
	require.NoError(t, worker.Start(context.Background()))

	resp, _, ok := worker.Fetch(fixture_request(t))
	assert.False(t, ok)
	assert.Nil(t, resp)
	assert.Equal(t, int32(1), handler.fetches.Load())
}

func TestInstallFailureKeepsUninstalled(t *testing.T) {
	handler := &fakeHandler{installErr: errors.New("boom")}
	worker := NewWorker(handler)

	err := worker.Install(context.Background())
	require.Error(t, err)
	assert.Equal(t, Uninstalled, worker.State())
}

func TestInstallTwice(t *testing.T) {
	worker := NewWorker(&fakeHandler{})
	require.NoError(t, worker.Install(context.Background()))
	assert.ErrorIs(t, worker.Install(context.Background()), ErrAlreadyInstalled)
}

func TestSkipWaiting(t *testing.T) {
	handler := &fakeHandler{skipWaiting: true}
	worker := NewWorker(handler)

	require.NoError(t, worker.Install(context.Background()))
	assert.True(t, worker.SkippedWaiting())
	assert.False(t, handler.installDone.Load())
	assert.Equal(t, Installed, worker.State())
}

func TestActivateRequiresInstall(t *testing.T) {
	worker := NewWorker(&fakeHandler{})
	assert.ErrorIs(t, worker.Activate(context.Background()), ErrNotInstalled)
}

func TestActivateFailureStillActivates(t *testing.T) {
	handler := &fakeHandler{activateErr: errors.New("delete failed")}
	worker := NewWorker(handler)

	require.NoError(t, worker.Install(context.Background()))
	err := worker.Activate(context.Background())
	assert.ErrorContains(t, err, "delete failed")
	assert.Equal(t, Active, worker.State())

	// Further activations are no-ops
	assert.NoError(t, worker.Activate(context.Background()))
}

func TestAssumeInstalled(t *testing.T) {
	handler := &fakeHandler{}
	worker := NewWorker(handler, AssumeInstalled())

	assert.Equal(t, Installed, worker.State())
	require.NoError(t, worker.Activate(context.Background()))
	assert.True(t, handler.activateDone.Load())
	assert.False(t, handler.installDone.Load())
}

func TestWaitUntilAggregatesErrors(t *testing.T) {
	ev := newExtendableEvent(context.Background())

	var finished atomic.Int32
	for i := 0; i < 3; i++ {
		i := i
		ev.WaitUntil(func(ctx context.Context) error {
			time.Sleep(time.Duration(i) * 5 * time.Millisecond)
			finished.Add(1)
			if i == 0 {
				return errors.New("first failed")
			}
			return nil
		})
	}

	err := ev.wait()
	assert.ErrorContains(t, err, "first failed")
	assert.Equal(t, int32(3), finished.Load(), "every pending function runs to completion")
}

func TestRespondWithTwice(t *testing.T) {
	ev := NewFetchEvent(fixture_request(t))

	require.NoError(t, ev.RespondWith(&http.Response{StatusCode: http.StatusOK}, SourceNetwork))
	assert.ErrorIs(t, ev.RespondWith(&http.Response{StatusCode: http.StatusOK}, SourceCache), ErrAlreadyResponded)

	_, source, ok := ev.Response()
	assert.True(t, ok)
	assert.Equal(t, SourceNetwork, source)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninstalled", Uninstalled.String())
	assert.Equal(t, "installed", Installed.String())
	assert.Equal(t, "active", Active.String())
}
