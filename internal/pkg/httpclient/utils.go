package httpclient

import (
	"fmt"
	"io"
	"net/http"
)

// ReadHTTPRequest buffers an inbound *http.Request body into a Request, so
// the rest of the pipeline never touches http.Request directly.
func ReadHTTPRequest(rawReq *http.Request) (*Request, error) {
	req := &Request{
		Method:     rawReq.Method,
		URL:        rawReq.URL.String(),
		Path:       rawReq.URL.Path,
		Query:      rawReq.URL.Query(),
		Headers:    rawReq.Header,
		RawRequest: rawReq,
	}

	body, err := io.ReadAll(rawReq.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	req.Body = body

	return req, nil
}

// IsHTTPStatusCodeRetryable reports whether a status code is worth retrying:
// 429 and every 5xx are; other 4xx are not.
func IsHTTPStatusCodeRetryable(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}

	if statusCode >= 400 && statusCode < 500 {
		return false
	}

	return statusCode >= 500
}

// The standard library manages these headers automatically; forwarding them
// from an inbound request would corrupt the outbound request.
var libManagedHeaders = map[string]bool{
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Accept-Encoding":   true,
	"Host":              true,
}

var blockedHeaders = map[string]bool{
	"Content-Type": true,
	"Connection":   true,
}

var sensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Api-Key":             true,
	"X-Api-Key":           true,
	"X-Api-Secret":        true,
	"X-Api-Token":         true,
	"Cookie":              true,
	"Set-Cookie":          true,
	"Proxy-Authorization": true,
}

// MaskSensitiveHeaders returns a copy of headers with sensitive values
// replaced, safe to pass to a logger.
func MaskSensitiveHeaders(headers http.Header) http.Header {
	result := make(http.Header, len(headers))

	for key, values := range headers {
		if _, ok := sensitiveHeaders[key]; ok {
			result[key] = []string{"******"}
		} else {
			result[key] = values
		}
	}

	return result
}

// MergeHTTPHeaders merges src into dest, skipping sensitive/blocked headers
// and never overriding a header dest already has.
func MergeHTTPHeaders(dest, src http.Header) http.Header {
	for k, v := range src {
		if sensitiveHeaders[k] || blockedHeaders[k] || libManagedHeaders[k] {
			continue
		}

		if _, ok := dest[k]; ok {
			continue
		}

		dest[k] = v
	}

	return dest
}
