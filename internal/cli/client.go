package cli

import (
	"context"
	"net/http"
	"time"

	"github.com/mcoot/provisioner/internal/remote"
)

// Client is an HTTP client for the provisioner API
type Client struct {
	api *remote.Client
}

// NewClient creates a new API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{api: remote.New(remote.Config{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: 30 * time.Second,
	})}
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, path string, result any) error {
	return c.api.Do(ctx, http.MethodGet, path, nil, result)
}

// Post performs a POST request
func (c *Client) Post(ctx context.Context, path string, body, result any) error {
	return c.api.Do(ctx, http.MethodPost, path, body, result)
}

// Delete performs a DELETE request
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.api.Do(ctx, http.MethodDelete, path, nil, nil)
}

// Text performs a GET request for a plain-text resource
func (c *Client) Text(ctx context.Context, path string) (string, error) {
	return c.api.Text(ctx, path)
}
