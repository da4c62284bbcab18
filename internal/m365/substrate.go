package m365

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/looplj/m365gateway/internal/config"
	"github.com/looplj/m365gateway/internal/log"
)

// terminal Substrate frame types, per the hub protocol's §4.5 frame rules.
const (
	substrateFrameTypeComplete     = 2
	substrateFrameTypeStreamClosed = 3
	substrateFrameTypeInvokeEnd    = 7
)

// SubstrateTurnResult is the outcome of one Substrate chat invocation.
type SubstrateTurnResult struct {
	ConversationID string
	AssistantText  string
	Success        bool
	ErrorMessage   string
}

// OnStreamUpdate is invoked once per writeAtCursor delta seen during a turn.
type OnStreamUpdate func(deltaText, conversationID string)

// SubstrateClient is C5: the WebSocket driver for the Substrate hub protocol.
type SubstrateClient struct {
	cfg config.Substrate
}

func NewSubstrateClient(cfg config.Substrate) *SubstrateClient {
	return &SubstrateClient{cfg: cfg}
}

// substrateConn wraps one dialed hub connection with a write mutex, since the
// keep-alive goroutine and the turn driver both write concurrently.
type substrateConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *substrateConn) writeFrame(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal substrate frame: %w", err)
	}

	payload = append(payload, 0x1E)

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn.Write(ctx, websocket.MessageText, payload)
}

// readFrames blocks for the next WebSocket message and splits it into the
// RS-delimited JSON frames it carries.
func (c *substrateConn) readFrames(ctx context.Context) ([]gjson.Result, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}

	var frames []gjson.Result

	for _, part := range bytes.Split(data, []byte{0x1E}) {
		if len(bytes.TrimSpace(part)) == 0 {
			continue
		}

		frames = append(frames, gjson.ParseBytes(part))
	}

	return frames, nil
}

// RunTurn drives one full Connect/Handshake/Ping/Invoke/Receive/Close cycle.
func (c *SubstrateClient) RunTurn(
	ctx context.Context,
	bearer string,
	conversationID string,
	isStartOfSession bool,
	promptWithContext string,
	contextualResources json.RawMessage,
	location LocationHint,
	onStreamUpdate OnStreamUpdate,
) (*SubstrateTurnResult, error) {
	token := strings.TrimPrefix(bearer, "Bearer ")

	oid, tid, err := extractOIDAndTID(token)
	if err != nil {
		return nil, NewError(ErrSubstrateError, 400, "bearer token is not a usable JWT: "+err.Error())
	}

	timeout := c.cfg.InvocationTimeout()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hubURL := c.buildHubURL(oid, tid, conversationID, token)

	headers := http.Header{}
	if c.cfg.Origin != "" {
		headers.Set("Origin", c.cfg.Origin)
	}

	rawConn, _, err := websocket.Dial(dialCtx, hubURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, WrapError(ErrSubstrateError, 502, "substrate dial failed", err)
	}

	rawConn.SetReadLimit(4 << 20)

	conn := &substrateConn{conn: rawConn}

	defer func() {
		_ = rawConn.Close(websocket.StatusNormalClosure, "")
	}()

	if err := c.handshake(dialCtx, conn); err != nil {
		return nil, err
	}

	if err := conn.writeFrame(dialCtx, map[string]any{"type": 6}); err != nil {
		return nil, WrapError(ErrSubstrateError, 502, "substrate ping failed", err)
	}

	stopKeepAlive := c.startKeepAlive(ctx, conn)
	defer stopKeepAlive()

	if err := conn.writeFrame(dialCtx, c.buildInvokeFrame(conversationID, isStartOfSession, promptWithContext, contextualResources, location)); err != nil {
		return nil, WrapError(ErrSubstrateError, 502, "substrate invoke failed", err)
	}

	return c.receive(ctx, conn, conversationID, onStreamUpdate)
}

func (c *SubstrateClient) handshake(ctx context.Context, conn *substrateConn) error {
	if err := conn.writeFrame(ctx, map[string]any{"protocol": "json", "version": 1}); err != nil {
		return WrapError(ErrSubstrateError, 502, "substrate handshake send failed", err)
	}

	frames, err := conn.readFrames(ctx)
	if err != nil {
		return WrapError(ErrSubstrateError, 502, "substrate handshake read failed", err)
	}

	for _, f := range frames {
		if f.Get("error").Exists() {
			return NewError(ErrSubstrateError, 502, "substrate handshake error: "+f.Get("error").String())
		}
	}

	return nil
}

func (c *SubstrateClient) startKeepAlive(ctx context.Context, conn *substrateConn) func() {
	stop := make(chan struct{})
	ticker := time.NewTicker(c.cfg.KeepAlive())

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := conn.writeFrame(ctx, map[string]any{"type": 6}); err != nil {
					log.Debug(ctx, "substrate keep-alive ping failed", log.Cause(err))

					return
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() { close(stop) }
}

func (c *SubstrateClient) receive(
	ctx context.Context,
	conn *substrateConn,
	conversationID string,
	onStreamUpdate OnStreamUpdate,
) (*SubstrateTurnResult, error) {
	deadline := time.Now().Add(c.cfg.InvocationTimeout())

	var (
		emittedDeltas strings.Builder
		latestBotText string
		sawBotText    bool
		success       = true
		errorMessage  string
	)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, NewError(ErrSubstrateError, 504, "substrate invocation timed out")
		}

		readCtx, cancel := context.WithTimeout(ctx, remaining)
		frames, err := conn.readFrames(readCtx)

		cancel()

		if err != nil {
			return nil, WrapError(ErrSubstrateError, 502, "substrate read failed", err)
		}

		terminal := false

		for _, f := range frames {
			deadline = time.Now().Add(c.cfg.InvocationTimeout())

			if id := extractSubstrateConversationID(f); id != "" {
				conversationID = id
			}

			for _, delta := range extractWriteAtCursors(f) {
				emittedDeltas.WriteString(delta)

				if onStreamUpdate != nil {
					onStreamUpdate(delta, conversationID)
				}
			}

			if text, ok := extractBotMessageText(f); ok {
				latestBotText = text
				sawBotText = true
			}

			if f.Get("error").Exists() {
				success = false
				errorMessage = f.Get("error").String()
			} else if v := f.Get("result.value"); v.Exists() {
				if !isSuccessValue(v.String()) {
					success = false
					errorMessage = v.String()
				}
			}

			if isTerminalFrameType(f) {
				terminal = true
			}
		}

		if terminal {
			break
		}
	}

	assistantText := latestBotText
	if !sawBotText {
		assistantText = emittedDeltas.String()
	}

	if assistantText == "" && success {
		return nil, NewError(ErrSubstrateError, 502, "substrate chat returned no assistant content")
	}

	return &SubstrateTurnResult{
		ConversationID: conversationID,
		AssistantText:  assistantText,
		Success:        success,
		ErrorMessage:   errorMessage,
	}, nil
}

func (c *SubstrateClient) buildHubURL(oid, tid, conversationID, token string) string {
	q := url.Values{}
	q.Set("ClientRequestId", uuid.NewString())
	q.Set("X-SessionId", uuid.NewString())

	if conversationID != "" {
		q.Set("ConversationId", conversationID)
	}

	q.Set("access_token", token)

	if c.cfg.Source != "" {
		source := c.cfg.Source
		if c.cfg.QuoteSourceInQuery {
			source = strconv.Quote(source)
		}

		q.Set("source", source)
	}

	if c.cfg.Scenario != "" {
		q.Set("scenario", c.cfg.Scenario)
	}

	if c.cfg.Product != "" {
		q.Set("product", c.cfg.Product)
	}

	if c.cfg.AgentHost != "" {
		q.Set("agentHost", c.cfg.AgentHost)
	}

	if c.cfg.LicenseType != "" {
		q.Set("licenseType", c.cfg.LicenseType)
	}

	if c.cfg.Agent != "" {
		q.Set("agent", c.cfg.Agent)
	}

	if c.cfg.Variants != "" {
		q.Set("variants", c.cfg.Variants)
	}

	return fmt.Sprintf("wss://%s/%s@%s?%s", c.cfg.HubPath, url.PathEscape(oid), url.PathEscape(tid), q.Encode())
}

func (c *SubstrateClient) buildInvokeFrame(
	conversationID string,
	isStartOfSession bool,
	promptWithContext string,
	contextualResources json.RawMessage,
	location LocationHint,
) map[string]any {
	traceID := strings.ReplaceAll(uuid.NewString(), "-", "")

	message := map[string]any{
		"author":         "user",
		"text":           promptWithContext,
		"locale":         c.cfg.Locale,
		"experienceType": c.cfg.ExperienceType,
		"locationInfo": map[string]any{
			"timeZone":       location.TimeZone,
			"timeZoneOffset": timeZoneOffsetMinutes(location.TimeZone),
		},
	}

	arg := map[string]any{
		"source":              c.cfg.Source,
		"clientCorrelationId": uuid.NewString(),
		"sessionId":           uuid.NewString(),
		"conversationId":      conversationID,
		"traceId":             traceID,
		"isStartOfSession":    isStartOfSession,
		"productThreadType":   c.cfg.ProductThreadType,
		"clientInfo":          map[string]any{"clientPlatform": c.cfg.ClientPlatform},
		"message":             message,
		"optionsSets":         c.cfg.OptionsSets,
		"allowedMessageTypes": c.cfg.AllowedMessageTypes,
	}

	if len(contextualResources) > 0 {
		arg["contextualResources"] = contextualResources
	}

	return map[string]any{
		"arguments":    []any{arg},
		"invocationId": "0",
		"target":       c.cfg.InvocationTarget,
		"type":         c.cfg.InvocationType,
	}
}

// BuildPromptWithContext prefixes the prompt with a "Context:" block of
// additionalContext lines when non-empty, per §4.5's Invoke step.
func BuildPromptWithContext(prompt string, context []ContextMessage) string {
	if len(context) == 0 {
		return "User: " + prompt
	}

	var b strings.Builder

	b.WriteString("Context:\n")

	for _, c := range context {
		b.WriteString(c.Text)
		b.WriteString("\n")
	}

	b.WriteString("User: ")
	b.WriteString(prompt)

	return b.String()
}

func extractOIDAndTID(token string) (string, string, error) {
	parser := jwt.NewParser()

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", "", err
	}

	oid, _ := claims["oid"].(string)
	tid, _ := claims["tid"].(string)

	if oid == "" || tid == "" {
		return "", "", fmt.Errorf("token is missing oid/tid claims")
	}

	return oid, tid, nil
}

// extractSubstrateConversationID applies the "first non-empty, deepest-last
// wins" search order over the frame's known conversationId locations.
func extractSubstrateConversationID(f gjson.Result) string {
	id := ""

	if v := f.Get("conversationId"); v.Exists() && v.String() != "" {
		id = v.String()
	}

	if v := f.Get("item.conversationId"); v.Exists() && v.String() != "" {
		id = v.String()
	}

	for _, arg := range f.Get("arguments").Array() {
		if v := arg.Get("conversationId"); v.Exists() && v.String() != "" {
			id = v.String()
		}

		if v := arg.Get("item.conversationId"); v.Exists() && v.String() != "" {
			id = v.String()
		}
	}

	return id
}

func extractWriteAtCursors(f gjson.Result) []string {
	var deltas []string

	for _, arg := range f.Get("arguments").Array() {
		if v := arg.Get("writeAtCursor"); v.Exists() {
			deltas = append(deltas, v.String())
		}
	}

	return deltas
}

// messageArrayPaths are the known locations of a frame's `messages` array
// across the shapes the hub protocol has been observed to use.
var messageArrayPaths = []string{
	"messages",
	"item.messages",
	"arguments.0.messages",
	"arguments.0.item.messages",
}

func extractBotMessageText(f gjson.Result) (string, bool) {
	var messages gjson.Result

	for _, path := range messageArrayPaths {
		if v := f.Get(path); v.Exists() && v.IsArray() {
			messages = v

			break
		}
	}

	if !messages.Exists() {
		return "", false
	}

	var latest gjson.Result

	found := false

	for _, m := range messages.Array() {
		if m.Get("author").String() != "bot" {
			continue
		}

		switch m.Get("messageType").String() {
		case "Chat", "Disengaged":
		default:
			continue
		}

		latest = m
		found = true
	}

	if !found {
		return "", false
	}

	for _, field := range []string{"text", "hiddenText", "spokenText"} {
		if v := latest.Get(field); v.Exists() && v.String() != "" {
			return v.String(), true
		}
	}

	return "", true
}

func isTerminalFrameType(f gjson.Result) bool {
	t := f.Get("type")
	if !t.Exists() {
		return false
	}

	switch int(t.Int()) {
	case substrateFrameTypeComplete, substrateFrameTypeStreamClosed, substrateFrameTypeInvokeEnd:
		return true
	default:
		return false
	}
}

func isSuccessValue(v string) bool {
	switch strings.ToLower(v) {
	case "success", "apologyresponsereturned":
		return true
	default:
		return false
	}
}

// timeZoneOffsetMinutes mirrors JavaScript's Date.getTimezoneOffset():
// minutes the zone is *behind* UTC (positive west of UTC). Falls back to 0
// when the zone is empty or unrecognized.
func timeZoneOffsetMinutes(tz string) int {
	if tz == "" {
		return 0
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return 0
	}

	_, offsetSeconds := time.Now().In(loc).Zone()

	return -offsetSeconds / 60
}
