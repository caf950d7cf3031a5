package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/retry"
)

// Client is a JSON client for an httpx service. Idempotent (GET) requests
// are retried on network errors and 5xx responses.
type Client struct {
	// Username and Password are sent as basic auth when set.
	Username, Password string

	innerClient *http.Client
	retrier     *retry.Retrier
	baseURL     *url.URL
}

func NewClient(serviceName string, baseURL *url.URL) *Client {
	// DefaultTransport but with different numerical settings
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 90 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 3 * time.Second,
	}

	c := &Client{
		innerClient: &http.Client{Transport: transport},
		retrier: retry.NewErrorTypeRetrier(serviceName,
			retry.DefaultBackOffOpts,
			(*net.OpError)(nil),
			(*RetryableHTTPError)(nil)),
		baseURL: baseURL,
	}
	if u := baseURL.User; u != nil {
		c.Username = u.Username()
		c.Password, _ = u.Password()
	}
	return c
}

// Do sends in (when not nil) as the JSON body and decodes the response into
// out (when not nil).
func (c *Client) Do(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}

	call := func(ctx context.Context) error {
		return c.call(ctx, method, path, body, out)
	}
	if method != http.MethodGet {
		return call(ctx)
	}
	return c.retrier.Retry(ctx, call)
}

func (c *Client) call(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.ParseURL(path), r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := RequestID(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}

	resp, err := c.innerClient.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return opErr
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		if resp.StatusCode >= 500 {
			return &RetryableHTTPError{Path: req.URL.Path, Status: resp.StatusCode, Message: e.Error}
		}
		return &HTTPError{Path: req.URL.Path, Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decoding response")
}

// ParseURL joins path onto the base URL, without credentials.
func (c *Client) ParseURL(path string) string {
	u := *c.baseURL
	u.User = nil
	return strings.TrimRight(u.String(), "/") + path
}

// HTTPError is for generic non-2xx errors
type HTTPError struct {
	Path    string
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Path, e.Status, e.Message)
}

func (e *HTTPError) StatusCode() int { return e.Status }

// RetryableHTTPError is used to represent error codes that can be allowed to retry
type RetryableHTTPError struct {
	Path    string
	Status  int
	Message string
}

func (e *RetryableHTTPError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Path, e.Status, e.Message)
}

func (e *RetryableHTTPError) StatusCode() int { return e.Status }
