// Package singleton provides a process-local lifecycle wrapper around one
// *gateway.Gateway (spec section 9 Design Notes: "the source exposes a
// process-wide instance with {Uninitialized, Initialized, Disposed}
// lifecycle; re-initialization after disposal is forbidden"). The gateway
// core itself is instance-based and does not require this wrapper — it
// exists purely for callers that want a single process-wide façade.
package singleton

import (
	"errors"
	"sync"

	"github.com/honhatphi/shuttlegw/gateway"
)

// State is the singleton cell's lifecycle state.
type State int

const (
	Uninitialized State = iota
	Initialized
	Disposed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initialized:
		return "Initialized"
	case Disposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// ErrAlreadyInitialized is returned by Init when the cell is already
// Initialized.
var ErrAlreadyInitialized = errors.New("singleton: already initialized")

// ErrDisposed is returned by Init once the cell has been disposed —
// re-initialization after disposal is forbidden.
var ErrDisposed = errors.New("singleton: disposed, cannot re-initialize")

// ErrNotInitialized is returned by Must whenever the cell is not
// Initialized: before Init has succeeded, and after Dispose.
var ErrNotInitialized = errors.New("singleton: not initialized")

// Cell is a process-local, concurrency-safe {Uninitialized, Initialized,
// Disposed} lifecycle cell wrapping one *gateway.Gateway.
type Cell struct {
	mu    sync.Mutex
	state State
	gw    *gateway.Gateway
}

// New constructs an empty, Uninitialized Cell.
func New() *Cell {
	return &Cell{}
}

// Init builds gw via build and stores it, transitioning Uninitialized ->
// Initialized. It fails if the cell is already Initialized or Disposed.
func (c *Cell) Init(build func() (*gateway.Gateway, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Initialized:
		return ErrAlreadyInitialized
	case Disposed:
		return ErrDisposed
	}
	gw, err := build()
	if err != nil {
		return err
	}
	c.gw = gw
	c.state = Initialized
	return nil
}

// Must returns the wrapped Gateway, or ErrNotInitialized if Init has not
// succeeded yet (or the cell has since been disposed).
func (c *Cell) Must() (*gateway.Gateway, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Initialized {
		return nil, ErrNotInitialized
	}
	return c.gw, nil
}

// State returns the cell's current lifecycle state.
func (c *Cell) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dispose tears down the wrapped Gateway and transitions to Disposed,
// terminally — a disposed Cell can never be re-initialized.
func (c *Cell) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Disposed {
		return
	}
	if c.gw != nil {
		c.gw.Dispose()
	}
	c.gw = nil
	c.state = Disposed
}
