package session

import (
	"context"
	"net/http"
	"net/url"

	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/remote"
)

// HTTPProvisioner talks to a browser provisioning service over JSON:
//
//	POST   {base}/api/v1/sessions            {"proxy": {...}} -> {"id": "...", "endpoint": "ws://..."}
//	POST   {base}/api/v1/sessions/{id}/stop
//	DELETE {base}/api/v1/sessions/{id}
type HTTPProvisioner struct {
	client *remote.Client
}

// HTTPConfig holds connection settings for HTTPProvisioner
type HTTPConfig = remote.Config

// NewHTTPProvisioner creates a provisioner client
func NewHTTPProvisioner(cfg HTTPConfig) *HTTPProvisioner {
	return &HTTPProvisioner{client: remote.New(cfg)}
}

// Ensure HTTPProvisioner implements Provisioner
var _ Provisioner = (*HTTPProvisioner)(nil)

type provisionRequest struct {
	Proxy *model.ProxyCredential `json:"proxy,omitempty"`
}

type provisionResponse struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
}

// Provision creates and opens a remote session
func (p *HTTPProvisioner) Provision(ctx context.Context, proxy *model.ProxyCredential) (Provisioned, error) {
	var resp provisionResponse
	if err := p.client.Do(ctx, http.MethodPost, "/api/v1/sessions", provisionRequest{Proxy: proxy}, &resp); err != nil {
		return Provisioned{}, err
	}
	return Provisioned{SessionID: resp.ID, RemoteEndpoint: resp.Endpoint}, nil
}

// Stop closes the browser for a session
func (p *HTTPProvisioner) Stop(ctx context.Context, sessionID string) error {
	return p.client.Do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/stop", nil, nil)
}

// Delete removes a session's profile
func (p *HTTPProvisioner) Delete(ctx context.Context, sessionID string) error {
	return p.client.Do(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(sessionID), nil, nil)
}
