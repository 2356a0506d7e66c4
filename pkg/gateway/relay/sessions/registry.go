// Package sessions tracks live relay sessions so the server can enumerate,
// warn, and drain them on shutdown.
package sessions

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyRegistered is returned when a session id is registered twice
// without an intervening release.
var ErrAlreadyRegistered = errors.New("sessions: id already registered")

// Handle is the control surface a session exposes to the registry. Cancel
// asks the session to stop; Warn pushes an operator notice to the client.
type Handle struct {
	Username string
	Cancel   func()
	Warn     func(code, message string) error
}

type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	wg      sync.WaitGroup
}

type entry struct {
	handle Handle
	once   sync.Once
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a session under sessionID and returns a release func. Release
// is idempotent; the first call cancels the session and removes the entry.
func (r *Registry) Register(sessionID string, h Handle) (release func(), err error) {
	if r == nil {
		return func() {}, nil
	}

	e := &entry{handle: h}

	r.mu.Lock()
	if r.entries == nil {
		r.entries = make(map[string]*entry)
	}
	if _, exists := r.entries[sessionID]; exists {
		r.mu.Unlock()
		return nil, ErrAlreadyRegistered
	}
	r.entries[sessionID] = e
	r.wg.Add(1)
	r.mu.Unlock()

	return func() { r.release(sessionID, e) }, nil
}

func (r *Registry) release(sessionID string, e *entry) {
	e.once.Do(func() {
		if e.handle.Cancel != nil {
			e.handle.Cancel()
		}
		r.mu.Lock()
		if r.entries[sessionID] == e {
			delete(r.entries, sessionID)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

// Lookup returns the handle registered under sessionID.
func (r *Registry) Lookup(sessionID string) (Handle, bool) {
	if r == nil {
		return Handle{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return Handle{}, false
	}
	return e.handle, true
}

func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// WarnAll pushes a notice to every live session and reports how many accepted
// it.
func (r *Registry) WarnAll(code, message string) (sent int) {
	if r == nil {
		return 0
	}

	var warns []func(code, message string) error
	r.mu.Lock()
	for _, e := range r.entries {
		if e.handle.Warn == nil {
			continue
		}
		warns = append(warns, e.handle.Warn)
	}
	r.mu.Unlock()

	for _, warn := range warns {
		_ = warn(code, message)
		sent++
	}
	return sent
}

// CancelAll asks every live session to stop.
func (r *Registry) CancelAll() (canceled int) {
	if r == nil {
		return 0
	}

	var cancels []func()
	r.mu.Lock()
	for _, e := range r.entries {
		if e.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, e.handle.Cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has been released, or ctx ends.
func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	if ctx == nil {
		r.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
