package server

import (
	"context"
	"net/http"
	"net/url"

	"github.com/remind101/fieldcrypt/httpx"
	"github.com/remind101/fieldcrypt/keyregistry"
	"github.com/remind101/fieldcrypt/rotation"
)

// Client calls a remote fieldcrypt server. Basic auth credentials are taken
// from the URL.
type Client struct {
	*httpx.Client
}

func NewClient(baseURL *url.URL) *Client {
	return &Client{Client: httpx.NewClient("fieldcrypt", baseURL)}
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.Do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Keys(ctx context.Context) (*Keys, error) {
	var k Keys
	if err := c.Do(ctx, http.MethodGet, "/admin/keys", nil, &k); err != nil {
		return nil, err
	}
	return &k, nil
}

func (c *Client) Begin(ctx context.Context, label string) (*keyregistry.KeyRecord, error) {
	var k keyregistry.KeyRecord
	if err := c.Do(ctx, http.MethodPost, "/admin/rotation/begin", &BeginRequest{Label: label}, &k); err != nil {
		return nil, err
	}
	return &k, nil
}

func (c *Client) Run(ctx context.Context, req rotation.Request) (*rotation.Result, error) {
	var res rotation.Result
	if err := c.Do(ctx, http.MethodPost, "/admin/rotation/run", &req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Finalize(ctx context.Context, target string) (*rotation.FinalizeResult, error) {
	var res rotation.FinalizeResult
	if err := c.Do(ctx, http.MethodPost, "/admin/rotation/finalize", &FinalizeRequest{Target: target}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Status(ctx context.Context, target string) (*rotation.Status, error) {
	var st rotation.Status
	path := "/admin/rotation/status"
	if target != "" {
		path += "?target=" + url.QueryEscape(target)
	}
	if err := c.Do(ctx, http.MethodGet, path, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
