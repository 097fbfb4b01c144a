// Dispatches install, activate and fetch events to an offline worker
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var (
	ErrNotInstalled     = errors.New("worker is not installed")
	ErrAlreadyInstalled = errors.New("worker is already installed")
)

// State of a worker. Transitions only move forward.
type State int32

const (
	Uninstalled State = iota
	Installed
	Active
)

func (s State) String() string {
	switch s {
	case Uninstalled:
		return "uninstalled"
	case Installed:
		return "installed"
	case Active:
		return "active"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Handler reacts to lifecycle events
type Handler interface {
	HandleInstall(ev *ExtendableEvent)
	HandleActivate(ev *ExtendableEvent)
	HandleFetch(ev *FetchEvent)
}

// Worker is the host side of the lifecycle
type Worker struct {
	handler Handler
	state   atomic.Int32
	// serializes phase transitions
	phase          sync.Mutex
	skippedWaiting atomic.Bool
	observers      []func(State)
}

type Option func(*Worker)

// WithStateObserver registers fn to be called after every transition
func WithStateObserver(fn func(State)) Option {
	return func(w *Worker) {
		w.observers = append(w.observers, fn)
	}
}

// AssumeInstalled starts the worker in the Installed state, for a store that
// was populated by a previous run
func AssumeInstalled() Option {
	return func(w *Worker) {
		w.state.Store(int32(Installed))
	}
}

func NewWorker(handler Handler, opts ...Option) *Worker {
	w := &Worker{handler: handler}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

// SkippedWaiting reports whether the install handler asked to skip waiting
func (w *Worker) SkippedWaiting() bool {
	return w.skippedWaiting.Load()
}

func (w *Worker) transition(to State) {
	w.state.Store(int32(to))
	logrus.Debugf("Worker is now %s", to)
	for _, fn := range w.observers {
		fn(to)
	}
}

// Install dispatches the install event and waits for its pending work.
// On failure the worker stays uninstalled.
func (w *Worker) Install(ctx context.Context) error {
	w.phase.Lock()
	defer w.phase.Unlock()

	if w.State() != Uninstalled {
		return ErrAlreadyInstalled
	}

	ev := newExtendableEvent(ctx)
	w.handler.HandleInstall(ev)
	if err := ev.wait(); err != nil {
		return fmt.Errorf("install: %w", err)
	}

	if ev.skipWaiting.Load() {
		w.skippedWaiting.Store(true)
		logrus.Debugf("Install asked to skip waiting")
	}
	w.transition(Installed)
	return nil
}

// Activate dispatches the activate event and waits for its pending work.
// The worker becomes active even when the pending work failed; the error is
// still returned.
func (w *Worker) Activate(ctx context.Context) error {
	w.phase.Lock()
	defer w.phase.Unlock()

	switch w.State() {
	case Uninstalled:
		return ErrNotInstalled
	case Active:
		return nil
	}

	ev := newExtendableEvent(ctx)
	w.handler.HandleActivate(ev)
	err := ev.wait()

	w.transition(Active)
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	return nil
}

// Start installs then activates the worker
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}
	return w.Activate(ctx)
}

// Fetch dispatches a fetch event. Only an active worker intercepts requests;
// ok is false when the request should pass through.
func (w *Worker) Fetch(req *http.Request) (resp *http.Response, source Source, ok bool) {
	if w.State() != Active {
		return nil, "", false
	}

	ev := NewFetchEvent(req)
	w.handler.HandleFetch(ev)
	return ev.Response()
}
