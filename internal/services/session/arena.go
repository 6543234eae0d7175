package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mcoot/provisioner/internal/model"
)

// Arena holds one acquired session and lends it to a single borrower at a time
type Arena struct {
	manager *Manager
	handle  model.SessionHandle
	slot    chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

// OpenArena acquires a session and wraps it in an Arena. Close must be called once done.
func (m *Manager) OpenArena(ctx context.Context, proxy *model.ProxyCredential) (*Arena, error) {
	h, err := m.Acquire(ctx, proxy)
	if err != nil {
		return nil, err
	}
	a := &Arena{
		manager: m,
		handle:  h,
		slot:    make(chan struct{}, 1),
	}
	a.slot <- struct{}{}
	return a, nil
}

// Handle returns the arena's session handle for reporting
func (a *Arena) Handle() model.SessionHandle {
	return a.handle
}

// Borrow waits until the session is free and lends it out. The returned func gives it back
// and may be called more than once.
func (a *Arena) Borrow(ctx context.Context) (model.SessionHandle, func(), error) {
	select {
	case <-a.slot:
	case <-ctx.Done():
		return model.SessionHandle{}, nil, model.NewError(model.KindCancelled, "borrow session", model.ErrCancelled)
	}

	if a.closed.Load() {
		a.slot <- struct{}{}
		return model.SessionHandle{}, nil, model.NewError(model.KindProvisioning, "borrow session", model.ErrSessionReleased)
	}

	var once sync.Once
	giveBack := func() {
		once.Do(func() {
			a.slot <- struct{}{}
		})
	}
	return a.handle, giveBack, nil
}

// Close releases the session. Safe to call more than once.
func (a *Arena) Close(ctx context.Context) {
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		a.manager.Release(ctx, a.handle)
	})
}
