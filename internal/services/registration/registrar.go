package registration

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/remote"
)

// Registrar drives the signup flow for one identity on an already-open browser session.
// Implementations must not close the session; its lifetime belongs to the caller.
type Registrar interface {
	Register(ctx context.Context, session model.SessionHandle, identity model.Identity) error
}

// RegistrarFunc adapts a function to Registrar
type RegistrarFunc func(ctx context.Context, session model.SessionHandle, identity model.Identity) error

// Register calls f
func (f RegistrarFunc) Register(ctx context.Context, session model.SessionHandle, identity model.Identity) error {
	return f(ctx, session, identity)
}

// Driver delegates browser automation to an external driver service that attaches to the
// session's remote debugging endpoint:
//
//	POST {base}/api/v1/registrations {"endpoint", "identity"}
//	POST {base}/api/v1/approvals     {"endpoint", "email", "password", "user_code", "verification_uri"}
type Driver struct {
	client *remote.Client
}

// NewDriver creates a driver client
func NewDriver(cfg remote.Config) *Driver {
	if cfg.Timeout == 0 {
		// A full signup on a slow page routinely takes minutes
		cfg.Timeout = 5 * time.Minute
	}
	return &Driver{client: remote.New(cfg)}
}

// Ensure Driver implements Registrar
var _ Registrar = (*Driver)(nil)

type registrationRequest struct {
	Endpoint string         `json:"endpoint"`
	Identity model.Identity `json:"identity"`
}

type approvalRequest struct {
	Endpoint        string `json:"endpoint"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
}

// Register asks the driver to complete signup for identity
func (d *Driver) Register(ctx context.Context, session model.SessionHandle, identity model.Identity) error {
	req := registrationRequest{Endpoint: session.RemoteEndpoint, Identity: identity}
	if err := d.client.Do(ctx, http.MethodPost, "/api/v1/registrations", req, nil); err != nil {
		return model.NewError(classify(ctx, err), "register", err).WithEmail(identity.Email)
	}
	return nil
}

// classify separates a signup the driver rejected from a driver that could not be reached.
// Only a 4xx answer other than 429 is a registration failure.
func classify(ctx context.Context, err error) model.ErrorKind {
	var se *remote.StatusError
	switch {
	case errors.As(err, &se):
		if se.StatusCode >= http.StatusInternalServerError || se.StatusCode == http.StatusTooManyRequests {
			return model.KindNetwork
		}
		return model.KindRegistration
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return model.KindCancelled
	default:
		return model.KindNetwork
	}
}

// ApproveDevice asks the driver to sign in as identity and enter the user code
func (d *Driver) ApproveDevice(ctx context.Context, session model.SessionHandle, identity model.Identity, dc model.DeviceCodeSession) error {
	req := approvalRequest{
		Endpoint:        session.RemoteEndpoint,
		Email:           identity.Email,
		Password:        identity.Password,
		UserCode:        dc.UserCode,
		VerificationURI: dc.VerificationURI,
	}
	return d.client.Do(ctx, http.MethodPost, "/api/v1/approvals", req, nil)
}
