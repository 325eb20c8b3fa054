package redfish

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// The IMC redfish service listens on a fixed non-standard port.
	port = "8443"

	retryMax = 2
)

// Error is the uniform failure mapping for the redfish channel: a transport
// failure, a non-2xx status, or a non-JSON body. It unwraps to
// model.ErrChannelUnavailable so probing callers can treat any of them as
// a soft failure.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("redfish request failed: status %d: %s", e.StatusCode, e.Detail)
	}

	return "redfish request failed: " + e.Detail
}

func (e *Error) Unwrap() error {
	return model.ErrChannelUnavailable
}

// API is the set of wire calls the boot, media and probe components need.
type API interface {
	Get(ctx context.Context, path string) (map[string]any, error)
	Post(ctx context.Context, path string, body any) error
	Patch(ctx context.Context, path string, body any) error
}

// Client speaks JSON over HTTPS to one IMC redfish endpoint with basic
// auth. The management firmware presents self-signed certificates, so
// certificate verification is disabled.
type Client struct {
	endpoint model.Endpoint
	httpc    *retryablehttp.Client
}

func NewClient(endpoint model.Endpoint) *Client {
	httpc := retryablehttp.NewClient()
	httpc.RetryMax = retryMax
	httpc.Logger = nil
	httpc.HTTPClient.Transport = otelhttp.NewTransport(&http.Transport{
		// nolint:gosec // management firmware serves self-signed certs.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	})

	return &Client{
		endpoint: endpoint,
		httpc:    httpc,
	}
}

func (c *Client) url(path string) string {
	address := c.endpoint.Address

	// an explicit port in the address wins over the IMC default
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, port)
	}

	return "https://" + address + path
}

// Get fetches a resource and decodes the JSON body.
func (c *Client) Get(ctx context.Context, path string) (map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resource := map[string]any{}
	if err := json.Unmarshal(body, &resource); err != nil {
		return nil, &Error{Detail: "failed to decode resource: " + err.Error()}
	}

	return resource, nil
}

// Post sends an action request. The response body is discarded, action
// outcomes are verified by polling resource state afterwards.
func (c *Client) Post(ctx context.Context, path string, body any) error {
	_, err := c.do(ctx, http.MethodPost, path, body)
	return err
}

// Patch updates resource attributes.
func (c *Client) Patch(ctx context.Context, path string, body any) error {
	_, err := c.do(ctx, http.MethodPatch, path, body)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload io.Reader

	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode request body")
		}

		payload = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.url(path), payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}

	req.SetBasicAuth(c.endpoint.Username, c.endpoint.Password)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &Error{Detail: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Detail: "failed to read response: " + err.Error()}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &Error{StatusCode: resp.StatusCode, Detail: string(respBody)}
	}

	return respBody, nil
}
