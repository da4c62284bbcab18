package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/looplj/m365gateway/internal/log"
	"github.com/looplj/m365gateway/internal/pkg/streams"
)

// Client is a thin wrapper around *http.Client shared by every Graph call:
// conversation creation, buffered chat, and the SSE chat stream.
type Client struct {
	client *http.Client
}

// New creates a Client with connection pooling tuned for a single upstream
// host, following the proxy-aware transport the reference gateway builds for
// every outbound call.
func New() *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{client: &http.Client{Transport: transport}}
}

// NewWithClient wraps an already-configured *http.Client, mainly for tests.
func NewWithClient(c *http.Client) *Client {
	return &Client{client: c}
}

// Do executes a buffered (non-streaming) request.
func (c *Client) Do(ctx context.Context, request *Request) (*Response, error) {
	rawReq, err := c.buildHTTPRequest(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("build http request: %w", err)
	}

	rawReq.Header.Set("Accept", "application/json")

	rawResp, err := c.client.Do(rawReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		if cerr := rawResp.Body.Close(); cerr != nil {
			log.Warn(ctx, "failed to close response body", log.Cause(cerr))
		}
	}()

	body, err := io.ReadAll(rawResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if log.DebugEnabled(ctx) {
		log.Debug(ctx, "http request complete",
			log.String("method", rawReq.Method),
			log.String("url", rawReq.URL.String()),
			log.Int("status_code", rawResp.StatusCode))
	}

	if rawResp.StatusCode >= 400 {
		return nil, &Error{
			Method:     rawReq.Method,
			URL:        rawReq.URL.String(),
			StatusCode: rawResp.StatusCode,
			Status:     rawResp.Status,
			Body:       body,
		}
	}

	return &Response{
		StatusCode:  rawResp.StatusCode,
		Headers:     rawResp.Header,
		Body:        body,
		RawResponse: rawResp,
		Request:     request,
		RawRequest:  rawReq,
	}, nil
}

// DoStream executes a Server-Sent Events request and returns a decoded event stream.
func (c *Client) DoStream(ctx context.Context, request *Request) (streams.Stream[*StreamEvent], error) {
	rawReq, err := c.buildHTTPRequest(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("build http request: %w", err)
	}

	rawReq.Header.Set("Accept", "text/event-stream")
	rawReq.Header.Set("Cache-Control", "no-cache")
	rawReq.Header.Set("Connection", "keep-alive")

	rawResp, err := c.client.Do(rawReq)
	if err != nil {
		return nil, fmt.Errorf("http stream request failed: %w", err)
	}

	if rawResp.StatusCode >= 400 {
		defer rawResp.Body.Close()

		body, err := io.ReadAll(rawResp.Body)
		if err != nil {
			return nil, err
		}

		return nil, &Error{
			Method:     rawReq.Method,
			URL:        rawReq.URL.String(),
			StatusCode: rawResp.StatusCode,
			Status:     rawResp.Status,
			Body:       body,
		}
	}

	return NewSSEDecoder(ctx, rawResp.Body), nil
}

func (c *Client) buildHTTPRequest(ctx context.Context, request *Request) (*http.Request, error) {
	var body io.Reader
	if len(request.Body) > 0 {
		body = bytes.NewReader(request.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, request.Method, request.URL, body)
	if err != nil {
		return nil, err
	}

	httpReq.Header = request.Headers
	if httpReq.Header == nil {
		httpReq.Header = make(http.Header)
	}

	for k := range blockedHeaders {
		httpReq.Header.Del(k)
	}

	if request.Auth != nil {
		if err := applyAuth(httpReq.Header, request.Auth); err != nil {
			return nil, fmt.Errorf("apply authentication: %w", err)
		}
	}

	if len(request.Query) > 0 {
		if httpReq.URL.RawQuery != "" {
			httpReq.URL.RawQuery += "&"
		}

		httpReq.URL.RawQuery += request.Query.Encode()
	}

	return httpReq, nil
}

func applyAuth(headers http.Header, auth *AuthConfig) error {
	switch auth.Type {
	case "bearer":
		if auth.APIKey == "" {
			return errors.New("bearer token is required")
		}

		headers.Set("Authorization", "Bearer "+auth.APIKey)
	case "api_key":
		if auth.HeaderKey == "" {
			return errors.New("header key is required")
		}

		headers.Set(auth.HeaderKey, auth.APIKey)
	case "":
		// no-op: caller set the Authorization header directly.
	default:
		return fmt.Errorf("unsupported auth type: %s", auth.Type)
	}

	return nil
}
