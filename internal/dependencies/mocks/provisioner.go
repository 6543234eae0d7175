package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/services/session"
)

// MockProvisioner is an in-memory provisioning API that counts lifecycle calls
type MockProvisioner struct {
	mu sync.Mutex

	// ProvisionErr, when set, fails every Provision call
	ProvisionErr error
	// FailProvisionAt fails the Nth Provision call (1-based) when non-zero
	FailProvisionAt int
	// StopErr and DeleteErr fail the respective cleanup calls
	StopErr   error
	DeleteErr error
	// EmptyEndpoint makes Provision return a session without an endpoint
	EmptyEndpoint bool

	provisioned int
	stopped     map[string]int
	deleted     map[string]int
	open        map[string]bool
	peakOpen    int
	proxies     []*model.ProxyCredential
}

// Ensure MockProvisioner implements Provisioner
var _ session.Provisioner = (*MockProvisioner)(nil)

// NewMockProvisioner creates a new MockProvisioner
func NewMockProvisioner() *MockProvisioner {
	return &MockProvisioner{
		stopped: make(map[string]int),
		deleted: make(map[string]int),
		open:    make(map[string]bool),
	}
}

// Provision creates a fake session, sess-1, sess-2, ...
func (p *MockProvisioner) Provision(ctx context.Context, proxy *model.ProxyCredential) (session.Provisioned, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.provisioned++
	p.proxies = append(p.proxies, proxy)

	if p.ProvisionErr != nil {
		return session.Provisioned{}, p.ProvisionErr
	}
	if p.FailProvisionAt != 0 && p.provisioned == p.FailProvisionAt {
		return session.Provisioned{}, fmt.Errorf("provision call %d failed", p.provisioned)
	}

	id := fmt.Sprintf("sess-%d", p.provisioned)
	p.open[id] = true
	if len(p.open) > p.peakOpen {
		p.peakOpen = len(p.open)
	}

	endpoint := "ws://browser.local/" + id
	if p.EmptyEndpoint {
		endpoint = ""
	}
	return session.Provisioned{SessionID: id, RemoteEndpoint: endpoint}, nil
}

// Stop records a stop call
func (p *MockProvisioner) Stop(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped[sessionID]++
	return p.StopErr
}

// Delete records a delete call and marks the session closed
func (p *MockProvisioner) Delete(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted[sessionID]++
	delete(p.open, sessionID)
	return p.DeleteErr
}

// ProvisionCalls returns the number of Provision calls, including failed ones
func (p *MockProvisioner) ProvisionCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.provisioned
}

// StopCalls returns how many times Stop was called for a session
func (p *MockProvisioner) StopCalls(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped[sessionID]
}

// DeleteCalls returns how many times Delete was called for a session
func (p *MockProvisioner) DeleteCalls(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deleted[sessionID]
}

// TotalDeletes returns the number of Delete calls across all sessions
func (p *MockProvisioner) TotalDeletes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.deleted {
		total += n
	}
	return total
}

// OpenCount returns the number of sessions provisioned and not deleted
func (p *MockProvisioner) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}

// PeakOpen returns the largest number of simultaneously open sessions
func (p *MockProvisioner) PeakOpen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peakOpen
}

// Proxies returns the proxy passed to each Provision call, in call order
func (p *MockProvisioner) Proxies() []*model.ProxyCredential {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*model.ProxyCredential, len(p.proxies))
	copy(out, p.proxies)
	return out
}
