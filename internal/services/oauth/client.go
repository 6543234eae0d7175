package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/mcoot/provisioner/internal/dependencies/clock"
	"github.com/mcoot/provisioner/internal/model"
)

// DeviceCodeGrantType is the grant_type for device-code token polls
const DeviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// Server defaults used when the device code response omits them
const (
	defaultExpiresIn = 900
	defaultInterval  = 5
)

// OAuth error codes
const (
	codeAuthorizationPending  = "authorization_pending"
	codeSlowDown              = "slow_down"
	codeExpiredToken          = "expired_token"
	codeAuthorizationDeclined = "authorization_declined"
	codeBadVerificationCode   = "bad_verification_code"
	codeInvalidGrant          = "invalid_grant"
	codeUnauthorizedClient    = "unauthorized_client"
)

// Client speaks the token endpoint wire protocol
type Client struct {
	cfg        Config
	clock      clock.Clock
	httpClient *http.Client
}

// NewClient creates a new Client
func NewClient(cfg Config, clk clock.Clock) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:   cfg,
		clock: clk,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
	Message                 string `json:"message"`
	Error                   string `json:"error"`
	ErrorDescription        string `json:"error_description"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// RequestDeviceCode starts a device authorization. ExpiresAt is computed from the
// server's expires_in against the injected clock.
func (c *Client) RequestDeviceCode(ctx context.Context, clientID string) (model.DeviceCodeSession, error) {
	form := url.Values{
		"client_id": {clientID},
		"scope":     {c.cfg.Scope},
	}
	var resp deviceCodeResponse
	if err := c.postForm(ctx, "request device code", c.cfg.DeviceCodeURL(), form, &resp); err != nil {
		return model.DeviceCodeSession{}, err
	}
	if resp.Error != "" {
		return model.DeviceCodeSession{}, model.Errorf(model.KindProtocol, "request device code", "%s: %s", resp.Error, resp.ErrorDescription)
	}
	if resp.DeviceCode == "" {
		return model.DeviceCodeSession{}, model.Errorf(model.KindProtocol, "request device code", "response has no device_code")
	}

	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	interval := resp.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	uri := resp.VerificationURI
	if uri == "" {
		uri = resp.VerificationURIComplete
	}
	return model.DeviceCodeSession{
		DeviceCode:              resp.DeviceCode,
		UserCode:                resp.UserCode,
		VerificationURI:         uri,
		VerificationURIComplete: resp.VerificationURIComplete,
		Message:                 resp.Message,
		ExpiresAt:               c.clock.Now().Add(time.Duration(expiresIn) * time.Second),
		IntervalSeconds:         interval,
	}, nil
}

// pollDeviceToken sends one device-code token request. An OAuth error in the body is
// returned in the response, not as an error.
func (c *Client) pollDeviceToken(ctx context.Context, clientID, deviceCode string) (tokenResponse, error) {
	form := url.Values{
		"grant_type":  {DeviceCodeGrantType},
		"client_id":   {clientID},
		"device_code": {deviceCode},
	}
	var resp tokenResponse
	err := c.postForm(ctx, "poll token", c.cfg.TokenURL(), form, &resp)
	return resp, err
}

// postForm posts an url-encoded form and decodes the JSON body whatever the status,
// since OAuth errors arrive as 400s with a JSON body. Transport failures and
// bodies that are not JSON are network errors.
func (c *Client) postForm(ctx context.Context, op, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return model.NewError(model.KindNetwork, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return model.NewError(model.KindCancelled, op, fmt.Errorf("%w: %w", model.ErrCancelled, err))
		}
		return model.NewError(model.KindNetwork, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.NewError(model.KindNetwork, op, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return model.Errorf(model.KindNetwork, op, "HTTP %d: unreadable body: %w", resp.StatusCode, err)
	}
	return nil
}

func (c *Client) oauth2Config(clientID string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.cfg.TokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: strings.Fields(c.cfg.Scope),
	}
}

func (c *Client) oauth2Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// PasswordToken exchanges an identity's credentials for tokens with one POST
func (c *Client) PasswordToken(ctx context.Context, clientID string, identity model.Identity) (*model.TokenGrant, error) {
	const op = "password grant"
	tok, err := c.oauth2Config(clientID).PasswordCredentialsToken(c.oauth2Context(ctx), identity.Email, identity.Password)
	if err != nil {
		return nil, classifyRetrieveError(ctx, op, err).WithEmail(identity.Email)
	}
	if tok.RefreshToken == "" {
		return nil, model.NewError(model.KindProtocol, op, model.ErrMissingRefreshToken).WithEmail(identity.Email)
	}
	return &model.TokenGrant{
		Email:        identity.Email,
		ClientID:     clientID,
		RefreshToken: tok.RefreshToken,
		AccessToken:  tok.AccessToken,
		ExpiresIn:    tok.ExpiresIn,
		Method:       model.GrantMethodPassword,
	}, nil
}

// Refresh redeems a refresh token for a new access token. The server may rotate the
// refresh token; the returned grant carries whichever is current.
func (c *Client) Refresh(ctx context.Context, clientID, email, refreshToken string) (*model.TokenGrant, error) {
	const op = "refresh token"
	src := c.oauth2Config(clientID).TokenSource(c.oauth2Context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyRetrieveError(ctx, op, err).WithEmail(email)
	}
	rt := tok.RefreshToken
	if rt == "" {
		rt = refreshToken
	}
	return &model.TokenGrant{
		Email:        email,
		ClientID:     clientID,
		RefreshToken: rt,
		AccessToken:  tok.AccessToken,
		ExpiresIn:    tok.ExpiresIn,
	}, nil
}

func classifyRetrieveError(ctx context.Context, op string, err error) *model.Error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		if ctx.Err() != nil {
			return model.NewError(model.KindCancelled, op, fmt.Errorf("%w: %w", model.ErrCancelled, err))
		}
		return model.NewError(model.KindNetwork, op, err)
	}
	desc := re.ErrorDescription
	switch re.ErrorCode {
	case codeInvalidGrant:
		return model.NewError(model.KindProtocol, op, fmt.Errorf("%w: %s", model.ErrInvalidGrant, desc))
	case codeUnauthorizedClient:
		return model.NewError(model.KindProtocol, op, fmt.Errorf("%w: %s", model.ErrUnauthorizedClient, desc))
	case "":
		if re.Response != nil && re.Response.StatusCode >= 500 {
			return model.Errorf(model.KindNetwork, op, "HTTP %d", re.Response.StatusCode)
		}
		return model.NewError(model.KindProtocol, op, err)
	default:
		return model.Errorf(model.KindProtocol, op, "%s: %s", re.ErrorCode, desc)
	}
}
