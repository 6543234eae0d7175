package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/provisioner/internal/dependencies/clock"
	"github.com/mcoot/provisioner/internal/metrics"
	"github.com/mcoot/provisioner/internal/model"
)

// Provisioned is what the provisioning API returns for a new session
type Provisioned struct {
	SessionID      string
	RemoteEndpoint string
}

// Provisioner is the fingerprint-browser provisioning boundary
type Provisioner interface {
	// Provision creates and opens a remote browser session, optionally behind proxy
	Provision(ctx context.Context, proxy *model.ProxyCredential) (Provisioned, error)
	// Stop closes the running browser for a session
	Stop(ctx context.Context, sessionID string) error
	// Delete removes the session's remote profile
	Delete(ctx context.Context, sessionID string) error
}

// Config holds configuration for the session manager
type Config struct {
	// ProvisionTimeout bounds a single Provision call
	ProvisionTimeout time.Duration
	// ReleaseTimeout bounds each of the Stop and Delete calls
	ReleaseTimeout time.Duration
}

// DefaultConfig returns default session manager configuration
func DefaultConfig() Config {
	return Config{
		ProvisionTimeout: 60 * time.Second,
		ReleaseTimeout:   15 * time.Second,
	}
}

// Manager owns the lifecycle of shared browser sessions.
// Every successful Acquire must be paired with one Release; extra Releases are no-ops.
type Manager struct {
	provisioner Provisioner
	clock       clock.Clock
	metrics     *metrics.Metrics
	logger      *slog.Logger
	cfg         Config

	mu   sync.Mutex
	live map[string]model.SessionHandle
}

// NewManager creates a new session Manager
func NewManager(provisioner Provisioner, clk clock.Clock, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Manager {
	defaults := DefaultConfig()
	if cfg.ProvisionTimeout == 0 {
		cfg.ProvisionTimeout = defaults.ProvisionTimeout
	}
	if cfg.ReleaseTimeout == 0 {
		cfg.ReleaseTimeout = defaults.ReleaseTimeout
	}
	return &Manager{
		provisioner: provisioner,
		clock:       clk,
		metrics:     m,
		logger:      logger.With(slog.String("component", "session-manager")),
		cfg:         cfg,
		live:        make(map[string]model.SessionHandle),
	}
}

// Acquire provisions a session. Failures are returned as KindProvisioning errors and never retried here.
func (m *Manager) Acquire(ctx context.Context, proxy *model.ProxyCredential) (model.SessionHandle, error) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProvisionTimeout)
	defer cancel()

	p, err := m.provisioner.Provision(pctx, proxy)
	if err == nil {
		switch {
		case p.SessionID == "":
			err = errors.New("provisioner returned no session id")
		case p.RemoteEndpoint == "":
			// A session without an endpoint is unusable but still has to be torn down
			m.cleanup(ctx, p.SessionID)
			err = fmt.Errorf("session %s has no remote debugging endpoint", p.SessionID)
		}
	}
	if err != nil {
		m.metrics.ProvisionFailures.Inc()
		return model.SessionHandle{}, model.NewError(model.KindProvisioning, "acquire session", fmt.Errorf("%w: %w", model.ErrProvisioning, err))
	}

	h := model.SessionHandle{
		SessionID:      p.SessionID,
		RemoteEndpoint: p.RemoteEndpoint,
		Proxy:          proxy,
		CreatedAt:      m.clock.Now(),
	}

	m.mu.Lock()
	m.live[h.SessionID] = h
	m.mu.Unlock()

	m.metrics.SessionsOpened.Inc()
	m.metrics.SessionsActive.Inc()

	attrs := []any{slog.String("session_id", h.SessionID)}
	if proxy != nil {
		attrs = append(attrs, slog.String("proxy", proxy.String()))
	}
	m.logger.Info("session acquired", attrs...)
	return h, nil
}

// Release stops and deletes the remote session. Both calls are always attempted, run even if
// ctx is already cancelled, and their errors are logged rather than returned.
func (m *Manager) Release(ctx context.Context, h model.SessionHandle) {
	m.mu.Lock()
	_, ok := m.live[h.SessionID]
	delete(m.live, h.SessionID)
	m.mu.Unlock()

	if !ok {
		m.logger.Warn("session release ignored - not held",
			slog.String("session_id", h.SessionID))
		return
	}

	m.cleanup(ctx, h.SessionID)
	m.metrics.SessionsClosed.Inc()
	m.metrics.SessionsActive.Dec()

	m.logger.Info("session released",
		slog.String("session_id", h.SessionID),
		slog.Duration("held_for", m.clock.Now().Sub(h.CreatedAt)))
}

func (m *Manager) cleanup(ctx context.Context, sessionID string) {
	base := context.WithoutCancel(ctx)

	stopCtx, cancel := context.WithTimeout(base, m.cfg.ReleaseTimeout)
	if err := m.provisioner.Stop(stopCtx, sessionID); err != nil {
		m.metrics.CleanupFailures.Inc()
		m.logger.Warn("session stop failed",
			slog.String("session_id", sessionID),
			slog.Any("error", model.NewError(model.KindCleanup, "stop session", err)))
	}
	cancel()

	delCtx, cancel := context.WithTimeout(base, m.cfg.ReleaseTimeout)
	if err := m.provisioner.Delete(delCtx, sessionID); err != nil {
		m.metrics.CleanupFailures.Inc()
		m.logger.Warn("session delete failed",
			slog.String("session_id", sessionID),
			slog.Any("error", model.NewError(model.KindCleanup, "delete session", err)))
	}
	cancel()
}

// WithSession acquires a session, runs fn, and releases the session however fn returns,
// including by panic.
func (m *Manager) WithSession(ctx context.Context, proxy *model.ProxyCredential, fn func(model.SessionHandle) error) error {
	h, err := m.Acquire(ctx, proxy)
	if err != nil {
		return err
	}
	defer m.Release(ctx, h)
	return fn(h)
}

// Held returns the number of sessions currently acquired and not yet released
func (m *Manager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}
