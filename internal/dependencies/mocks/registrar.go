package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/services/registration"
)

// MockRegistrar records registrations and can fail or panic for chosen emails
type MockRegistrar struct {
	mu sync.Mutex

	// FailFor maps an email to the error its registration returns
	FailFor map[string]error
	// PanicFor lists emails whose registration panics
	PanicFor map[string]bool
	// Delay blocks each call, so overlapping calls can be observed
	Delay time.Duration

	calls    []RegisterCall
	active   int
	peak     int
	sessions map[string]int
}

// RegisterCall is one recorded Register invocation
type RegisterCall struct {
	SessionID string
	Email     string
}

// Ensure MockRegistrar implements Registrar
var _ registration.Registrar = (*MockRegistrar)(nil)

// NewMockRegistrar creates a new MockRegistrar
func NewMockRegistrar() *MockRegistrar {
	return &MockRegistrar{
		FailFor:  make(map[string]error),
		PanicFor: make(map[string]bool),
		sessions: make(map[string]int),
	}
}

// Register records the call and returns the configured result
func (r *MockRegistrar) Register(ctx context.Context, session model.SessionHandle, identity model.Identity) error {
	r.mu.Lock()
	r.calls = append(r.calls, RegisterCall{SessionID: session.SessionID, Email: identity.Email})
	r.sessions[session.SessionID]++
	r.active++
	if r.active > r.peak {
		r.peak = r.active
	}
	failErr := r.FailFor[identity.Email]
	shouldPanic := r.PanicFor[identity.Email]
	delay := r.Delay
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}
	if shouldPanic {
		panic(fmt.Sprintf("driver crashed on %s", identity.Email))
	}
	return failErr
}

// Calls returns every recorded call in order
func (r *MockRegistrar) Calls() []RegisterCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RegisterCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// Emails returns the registered emails in call order
func (r *MockRegistrar) Emails() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Email
	}
	return out
}

// PeakConcurrent returns the largest number of overlapping Register calls
func (r *MockRegistrar) PeakConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

// CallsOnSession returns how many registrations ran on one session
func (r *MockRegistrar) CallsOnSession(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}
