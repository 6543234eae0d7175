package oauth

import (
	"context"
	"fmt"

	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/services/progress"
	"github.com/mcoot/provisioner/internal/services/proxy"
	"github.com/mcoot/provisioner/internal/services/session"
)

// Approver completes the interactive half of a device-code grant while the token
// endpoint is being polled. A returned error stops polling; returning nil leaves
// polling to find out whether approval happened.
type Approver interface {
	Approve(ctx context.Context, identity model.Identity, dc model.DeviceCodeSession, emit progress.Emitter) error
}

// ApproverFunc adapts a function to Approver
type ApproverFunc func(ctx context.Context, identity model.Identity, dc model.DeviceCodeSession, emit progress.Emitter) error

// Approve calls f
func (f ApproverFunc) Approve(ctx context.Context, identity model.Identity, dc model.DeviceCodeSession, emit progress.Emitter) error {
	return f(ctx, identity, dc, emit)
}

// ManualApprover publishes the user code so a person can approve it
type ManualApprover struct{}

// Approve emits the user code and verification URI
func (ManualApprover) Approve(ctx context.Context, identity model.Identity, dc model.DeviceCodeSession, emit progress.Emitter) error {
	msg := dc.Message
	if msg == "" {
		msg = fmt.Sprintf("To sign in as %s, open %s and enter the code %s", identity.Email, dc.VerificationURI, dc.UserCode)
	}
	emit.Emit(model.Event{
		Type:    model.EventWarning,
		Email:   identity.Email,
		Step:    model.StepDeviceCodeIssued,
		Message: msg,
		Data: model.DeviceCodeEventData{
			UserCode:        dc.UserCode,
			VerificationURI: dc.VerificationURI,
			ExpiresAt:       dc.ExpiresAt,
		},
	})
	return nil
}

// InteractiveDriver signs in as an identity on a browser session and enters a user code
type InteractiveDriver interface {
	ApproveDevice(ctx context.Context, session model.SessionHandle, identity model.Identity, dc model.DeviceCodeSession) error
}

// SessionApprover drives approval on a short-lived browser session of its own
type SessionApprover struct {
	sessions *session.Manager
	driver   InteractiveDriver
	proxies  *proxy.Rotator
}

// NewSessionApprover creates a SessionApprover. proxies may be nil for direct sessions.
func NewSessionApprover(sessions *session.Manager, driver InteractiveDriver, proxies *proxy.Rotator) *SessionApprover {
	return &SessionApprover{sessions: sessions, driver: driver, proxies: proxies}
}

// Approve acquires a session, drives the approval and always releases the session
func (a *SessionApprover) Approve(ctx context.Context, identity model.Identity, dc model.DeviceCodeSession, emit progress.Emitter) error {
	var px *model.ProxyCredential
	if a.proxies != nil {
		px = a.proxies.Next()
	}
	return a.sessions.WithSession(ctx, px, func(h model.SessionHandle) error {
		emit.Emit(model.Event{
			Type:    model.EventInfo,
			Email:   identity.Email,
			Step:    model.StepSessionOpened,
			Message: fmt.Sprintf("approving device code on session %s", h.SessionID),
			Data:    model.SessionEventData{SessionID: h.SessionID, Size: 1},
		})
		return a.driver.ApproveDevice(ctx, h, identity, dc)
	})
}
