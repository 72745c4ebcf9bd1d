package gateway

import (
	"context"
	"sync"
)

// Handle is what the registry can do to a live session from outside its
// reader goroutine.
type Handle struct {
	Cancel func()
}

// Registry tracks live chat sessions so shutdown can cancel them and wait
// for their reader goroutines to drain.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*registered
	wg       sync.WaitGroup
}

type registered struct {
	handle Handle
	once   sync.Once
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*registered)}
}

// Register adds a session and returns its unregister func. Registering a
// duplicate ID evicts the previous holder, which only happens if a uuid
// collides.
func (r *Registry) Register(sessionID string, h Handle) (unregister func()) {
	if r == nil {
		return func() {}
	}
	entry := &registered{handle: h}

	r.mu.Lock()
	if r.sessions == nil {
		r.sessions = make(map[string]*registered)
	}
	old := r.sessions[sessionID]
	r.sessions[sessionID] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		r.unregister(sessionID, old)
	}
	return func() { r.unregister(sessionID, entry) }
}

func (r *Registry) unregister(sessionID string, entry *registered) {
	if r == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		r.mu.Lock()
		if r.sessions != nil && r.sessions[sessionID] == entry {
			delete(r.sessions, sessionID)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CancelAll asks every live session to stop. Sessions leave the registry on
// their own once their reader goroutine exits.
func (r *Registry) CancelAll() (canceled int) {
	if r == nil {
		return 0
	}
	var cancels []func()
	r.mu.Lock()
	for _, entry := range r.sessions {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered, or the
// context expires. Returns false on timeout.
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
