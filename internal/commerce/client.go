// Package commerce is a small WooCommerce REST v3 client covering what
// checkout needs: lookup tables, customers and orders.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bbtraining/checkout-api/internal/resilience"
)

const apiPrefix = "/wp-json/wc/v3"

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("commerce: not found")

// APIError is a non-2xx WooCommerce response.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("commerce: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("commerce: status %d", e.Status)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Client calls the WooCommerce REST API with consumer key authentication.
type Client struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	HTTP           *resilience.HTTPClient
}

// NewClient returns a client for the store at baseURL.
func NewClient(baseURL, key, secret string, httpClient *resilience.HTTPClient) *Client {
	return &Client{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		ConsumerKey:    key,
		ConsumerSecret: secret,
		HTTP:           httpClient,
	}
}

// NewHTTPClient returns an http.Client with an instrumented transport.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) (http.Header, error) {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	_, err := c.do(ctx, http.MethodPost, path, nil, body, out)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (http.Header, error) {
	if c.HTTP == nil {
		return nil, errors.New("commerce: http client not configured")
	}
	endpoint := c.BaseURL + apiPrefix + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.ConsumerKey, c.ConsumerSecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return resp.Header, apiErr
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.Header, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.Header, nil
}

// getAll follows X-WP-TotalPages pagination.
func getAll[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var all []T
	for page := 1; ; page++ {
		q := url.Values{"per_page": {"100"}, "page": {strconv.Itoa(page)}}
		var batch []T
		header, err := c.get(ctx, path, q, &batch)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		pages, _ := strconv.Atoi(header.Get("X-WP-TotalPages"))
		if page >= pages || len(batch) == 0 {
			return all, nil
		}
	}
}
