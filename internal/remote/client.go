// Package remote is a small JSON-over-HTTP client shared by the adapters for
// external collaborators (browser provisioning, automation driver).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds connection settings for a collaborator service
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls a JSON API that reports failures as {"error":{"code","message"}}
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client. A zero timeout means 60s.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// StatusError is a non-2xx response
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s: %s (%s)", e.Method, e.Path, e.Message, e.Code)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Do sends body as JSON (when non-nil) and decodes the response into result (when non-nil)
func (c *Client) Do(ctx context.Context, method, path string, body, result any) error {
	respBody, err := c.send(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// Text performs a GET and returns the body as-is
func (c *Client) Text(ctx context.Context, path string) (string, error) {
	respBody, err := c.send(ctx, http.MethodGet, path, nil, "text/plain")
	if err != nil {
		return "", err
	}
	return string(respBody), nil
}

func (c *Client) send(ctx context.Context, method, path string, body any, accept string) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		se := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
		var eb errorBody
		if err := json.Unmarshal(respBody, &eb); err == nil && eb.Error.Message != "" {
			se.Code = eb.Error.Code
			se.Message = eb.Error.Message
		} else {
			se.Message = strings.TrimSpace(string(respBody))
		}
		return nil, se
	}
	return respBody, nil
}
