package request

import (
	"strings"

	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/services/pipeline"
	"github.com/mcoot/provisioner/internal/services/proxy"
)

// Defaults applied to omitted request fields
const (
	DefaultConcurrency  = 1
	DefaultSessionShare = 3
)

// ProvisionRequest is the request body for starting a provisioning task
type ProvisionRequest struct {
	Quantity     int    `json:"quantity"`
	Concurrency  int    `json:"concurrency,omitempty"`
	SessionShare int    `json:"session_share,omitempty"`
	Domain       string `json:"domain"`
	ClientID     string `json:"client_id"`
	// Proxies are host:port:user:pass lines
	Proxies           []string `json:"proxies,omitempty"`
	TokenConcurrency  int      `json:"token_concurrency,omitempty"`
	SkipAuthorization bool     `json:"skip_authorization,omitempty"`
}

// ToPipeline converts the body into a pipeline request, parsing the proxy list
func (r ProvisionRequest) ToPipeline() (pipeline.Request, error) {
	var proxies []model.ProxyCredential
	if len(r.Proxies) > 0 {
		parsed, err := proxy.ParseList(strings.Join(r.Proxies, "\n"))
		if err != nil {
			return pipeline.Request{}, model.NewError(model.KindValidation, "parse proxies", err)
		}
		proxies = parsed
	}

	req := pipeline.Request{
		Quantity:          r.Quantity,
		Concurrency:       r.Concurrency,
		SessionShare:      r.SessionShare,
		Domain:            strings.TrimSpace(r.Domain),
		ClientID:          strings.TrimSpace(r.ClientID),
		Proxies:           proxies,
		TokenConcurrency:  r.TokenConcurrency,
		SkipAuthorization: r.SkipAuthorization,
	}
	if req.Concurrency == 0 {
		req.Concurrency = DefaultConcurrency
	}
	if req.SessionShare == 0 {
		req.SessionShare = DefaultSessionShare
	}
	return req, nil
}

// TokenRequest is the request body for starting a token task
type TokenRequest struct {
	// Emails selects stored accounts; empty means every unauthorized account
	Emails      []string `json:"emails,omitempty"`
	ClientID    string   `json:"client_id"`
	Concurrency int      `json:"concurrency,omitempty"`
}

// ToPipeline converts the body into a pipeline token request
func (r TokenRequest) ToPipeline() pipeline.TokenRequest {
	return pipeline.TokenRequest{
		Emails:      r.Emails,
		ClientID:    strings.TrimSpace(r.ClientID),
		Concurrency: r.Concurrency,
	}
}
