package m365

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/looplj/m365gateway/internal/pkg/httpclient"
	"github.com/looplj/m365gateway/internal/pkg/streams"
)

// GraphConfig carries the URL templates the Graph client substitutes into.
type GraphConfig struct {
	BaseURL                    string
	CreateConversationPath     string
	ChatPathTemplate           string
	ChatOverStreamPathTemplate string
}

// GraphClient is C4: POST-based REST calls against the Graph transport.
type GraphClient struct {
	http *httpclient.Client
	cfg  GraphConfig
}

func NewGraphClient(http *httpclient.Client, cfg GraphConfig) *GraphClient {
	return &GraphClient{http: http, cfg: cfg}
}

// CreateConversation POSTs the configured creation path and returns the new
// conversation id. Succeeds only on HTTP 2xx with a string `id` field.
func (g *GraphClient) CreateConversation(ctx context.Context, bearer string) (string, error) {
	resp, err := g.http.Do(ctx, &httpclient.Request{
		Method:  "POST",
		URL:     g.cfg.BaseURL + g.cfg.CreateConversationPath,
		Headers: bearerHeaders(bearer),
		Body:    []byte("{}"),
	})
	if err != nil {
		return "", WrapError(ErrGraphError, graphStatus(err), "create conversation failed", err)
	}

	id := gjson.GetBytes(resp.Body, "id").String()
	if id == "" {
		return "", NewError(ErrGraphError, 502, "create conversation response missing id")
	}

	return id, nil
}

// Chat POSTs a buffered chat turn and returns the decoded JSON body.
func (g *GraphClient) Chat(ctx context.Context, bearer, conversationID string, payload json.RawMessage) (json.RawMessage, error) {
	path, err := substituteConversationID(g.cfg.ChatPathTemplate, conversationID)
	if err != nil {
		return nil, err
	}

	resp, err := g.http.Do(ctx, &httpclient.Request{
		Method:  "POST",
		URL:     g.cfg.BaseURL + path,
		Headers: bearerHeaders(bearer),
		Body:    payload,
	})
	if err != nil {
		return nil, WrapError(ErrGraphError, graphStatus(err), "chat request failed", err)
	}

	return json.RawMessage(resp.Body), nil
}

// ChatOverStream POSTs a streaming chat turn and returns the raw decoded SSE
// event stream for the caller (C7) to transform into deltas.
func (g *GraphClient) ChatOverStream(
	ctx context.Context,
	bearer, conversationID string,
	payload json.RawMessage,
) (streams.Stream[*httpclient.StreamEvent], error) {
	path, err := substituteConversationID(g.cfg.ChatOverStreamPathTemplate, conversationID)
	if err != nil {
		return nil, err
	}

	stream, err := g.http.DoStream(ctx, &httpclient.Request{
		Method:  "POST",
		URL:     g.cfg.BaseURL + path,
		Headers: bearerHeaders(bearer),
		Body:    payload,
	})
	if err != nil {
		return nil, WrapError(ErrGraphError, graphStatus(err), "chat stream request failed", err)
	}

	return stream, nil
}

func bearerHeaders(bearer string) map[string][]string {
	headers := map[string][]string{"Content-Type": {"application/json"}}
	if bearer != "" {
		headers["Authorization"] = []string{bearer}
	}

	return headers
}

// substituteConversationID replaces the literal "{conversationId}" segment of
// a path template with the percent-encoded conversation id.
func substituteConversationID(template, conversationID string) (string, error) {
	if !strings.Contains(template, "{conversationId}") {
		return "", NewError(ErrGraphError, 500, "path template missing {conversationId} placeholder")
	}

	return strings.ReplaceAll(template, "{conversationId}", url.PathEscape(conversationID)), nil
}

// graphStatus passes through an httpclient.Error's upstream status clamped to
// the 4xx-5xx range, defaulting to 502 for transport-level failures.
func graphStatus(err error) int {
	var httpErr *httpclient.Error
	if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 600 {
		return httpErr.StatusCode
	}

	return 502
}
