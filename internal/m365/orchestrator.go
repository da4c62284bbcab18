package m365

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/looplj/m365gateway/internal/config"
	"github.com/looplj/m365gateway/internal/log"
	"github.com/looplj/m365gateway/internal/pkg/streams"
)

const (
	TransportGraph     = "graph"
	TransportSubstrate = "substrate"
)

// DebugSink is the narrow interface the orchestrator writes per-turn
// diagnostics through. The concrete markdown sink lives outside this
// package and is never imported concretely here.
type DebugSink interface {
	WriteTurn(ctx context.Context, label string, payload []byte)
}

type noopDebugSink struct{}

func (noopDebugSink) WriteTurn(context.Context, string, []byte) {}

// InboundRequest carries everything the HTTP layer extracts from the wire
// before handing control to the orchestrator.
type InboundRequest struct {
	Body []byte

	AuthorizationHeader string

	TransportHeader       string
	ConversationIDHeader  string
	ConversationKeyHeader string
	NewConversationHeader bool
}

// SSEEvent is one frame of an outgoing Server-Sent Events stream. Event is
// empty for a plain "data:" frame; Data for the terminal frame is the
// literal DoneSentinel rather than JSON.
type SSEEvent struct {
	Event string
	Data  string
}

// TurnResult is the orchestrator's HTTP-agnostic answer to one request.
type TurnResult struct {
	Headers map[string]string
	Stream  bool
	Body    json.RawMessage
	Events  streams.Stream[SSEEvent]
}

// Orchestrator is C8: the per-request state machine tying every other
// component together.
type Orchestrator struct {
	cfg       *config.Config
	convStore *ConversationStore
	respStore *ResponseStore
	graph     *GraphClient
	substrate *SubstrateClient
	tokens    *TokenProvider
	debug     DebugSink
}

func NewOrchestrator(
	cfg *config.Config,
	convStore *ConversationStore,
	respStore *ResponseStore,
	graph *GraphClient,
	substrate *SubstrateClient,
	tokens *TokenProvider,
	debug DebugSink,
) *Orchestrator {
	if debug == nil {
		debug = noopDebugSink{}
	}

	return &Orchestrator{
		cfg:       cfg,
		convStore: convStore,
		respStore: respStore,
		graph:     graph,
		substrate: substrate,
		tokens:    tokens,
		debug:     debug,
	}
}

// resolvedTurn is the per-request state the orchestrator threads through its
// steps; it replaces the closure-captured locals a cooperative event loop
// would use.
type resolvedTurn struct {
	bearer              string
	transport           string
	conversationID      string
	conversationKey     string
	createdConversation bool
	canonical           *CanonicalRequest
}

func (o *Orchestrator) resolveAuth(ctx context.Context, in InboundRequest) (string, error) {
	inbound := in.AuthorizationHeader
	if o.cfg.IgnoreIncomingAuthHeader {
		inbound = ""
	}

	bearer, err := o.tokens.ResolveAuthorizationHeader(ctx, inbound)
	if err != nil {
		return "", WrapError(ErrMissingAuthorization, 401, "failed to resolve authorization", err)
	}

	if bearer == "" {
		return "", NewError(ErrMissingAuthorization, 401, "missing authorization")
	}

	return bearer, nil
}

func (o *Orchestrator) resolveTransport(in InboundRequest) (string, error) {
	candidate := in.TransportHeader
	if candidate == "" {
		candidate = jsonString(in.Body, "m365_transport")
	}

	if candidate == "" {
		candidate = jsonString(in.Body, "transport")
	}

	if candidate == "" {
		candidate = o.cfg.Transport
	}

	candidate = strings.ToLower(strings.TrimSpace(candidate))

	switch candidate {
	case TransportGraph, TransportSubstrate:
		return candidate, nil
	default:
		return "", NewError(ErrInvalidTransport, 400, "unsupported transport: "+candidate)
	}
}

// resolveConversation implements §4.8 step 4: explicit id, then (responses
// only) previous-response link, then cache lookup, then creation.
func (o *Orchestrator) resolveConversation(
	ctx context.Context,
	in InboundRequest,
	turn *resolvedTurn,
	previousResponseID string,
) error {
	explicit := in.ConversationIDHeader
	if explicit == "" {
		explicit = jsonString(in.Body, "m365_conversation_id")
	}

	if explicit != "" && !in.NewConversationHeader {
		turn.conversationID = explicit

		return nil
	}

	if previousResponseID != "" {
		link, ok := o.respStore.TryGetConversationLink(previousResponseID)
		if !ok {
			return NewError(ErrInvalidPreviousResponseID, 400, "unknown previous_response_id: "+previousResponseID)
		}

		turn.conversationID = link.ConversationID

		return nil
	}

	key := in.ConversationKeyHeader
	if key == "" {
		key = jsonString(in.Body, "m365_conversation_key")
	}

	if key == "" {
		key = turn.canonical.UserKey
	}

	if key == "" {
		key = "default"
	}

	turn.conversationKey = Key(turn.transport, key)

	if !in.NewConversationHeader {
		if id, ok := o.convStore.TryGet(turn.conversationKey); ok {
			turn.conversationID = id

			return nil
		}
	}

	id, err := o.createConversation(ctx, turn)
	if err != nil {
		return err
	}

	turn.conversationID = id
	turn.createdConversation = true

	o.convStore.Set(turn.conversationKey, id)

	return nil
}

func (o *Orchestrator) createConversation(ctx context.Context, turn *resolvedTurn) (string, error) {
	switch turn.transport {
	case TransportGraph:
		return o.graph.CreateConversation(ctx, turn.bearer)
	case TransportSubstrate:
		// Substrate has no separate creation call: the first invocation with
		// isStartOfSession=true and an empty conversationId yields one.
		return "", nil
	default:
		return "", NewError(ErrInvalidTransport, 400, "unsupported transport: "+turn.transport)
	}
}

// requiresBuffering implements §4.8 step 5: tools or response_format force a
// fully-buffered turn so C6 can see the complete assistant text.
func requiresBuffering(req *CanonicalRequest) bool {
	return len(req.Tooling.Tools) > 0 || req.ResponseFormat != nil
}

// substrateEmptyAssistantMessage is the exact failure text the empty-
// assistant retry policy matches against.
const substrateEmptyAssistantMessage = "substrate chat returned no assistant content"

// runSubstrateTurn executes one Substrate invocation, applying the
// empty-assistant retry exactly once when this is the first turn on a
// newly-created conversation.
func (o *Orchestrator) runSubstrateTurn(
	ctx context.Context,
	turn *resolvedTurn,
	onStreamUpdate OnStreamUpdate,
) (*SubstrateTurnResult, error) {
	prompt := BuildPromptWithContext(turn.canonical.PromptText, turn.canonical.AdditionalContext)

	result, err := o.substrate.RunTurn(
		ctx, turn.bearer, turn.conversationID, turn.createdConversation,
		prompt, turn.canonical.ContextualResources, turn.canonical.LocationHint, onStreamUpdate,
	)

	if err != nil && turn.createdConversation && isSubstrateEmptyAssistantErr(err) {
		log.Debug(ctx, "retrying substrate turn on a fresh conversation after empty assistant content")

		retryResult, retryErr := o.substrate.RunTurn(
			ctx, turn.bearer, "", true,
			prompt, turn.canonical.ContextualResources, turn.canonical.LocationHint, onStreamUpdate,
		)
		if retryErr != nil {
			return nil, retryErr
		}

		turn.conversationID = retryResult.ConversationID
		if o.convStore != nil && turn.conversationKey != "" {
			o.convStore.Set(turn.conversationKey, turn.conversationID)
		}

		return retryResult, nil
	}

	if err != nil {
		return nil, err
	}

	if result.ConversationID != "" {
		turn.conversationID = result.ConversationID
	}

	return result, nil
}

func isSubstrateEmptyAssistantErr(err error) bool {
	var e *Error

	return asM365Error(err, &e) && strings.Contains(e.Message, substrateEmptyAssistantMessage)
}

func asM365Error(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}

	*target = e

	return true
}

// buildAssistantResponseWithStrictRetry applies the strict-tool retry: if
// strict mode produced no valid tool call on a Substrate turn, retry the
// turn once, then re-apply strict enforcement without a further retry.
func (o *Orchestrator) buildAssistantResponseWithStrictRetry(
	ctx context.Context,
	turn *resolvedTurn,
	assistantText string,
) (*AssistantResponse, error) {
	resp := BuildAssistantResponse(turn.canonical, assistantText)

	if resp.StrictToolErrorMessage == "" || turn.transport != TransportSubstrate {
		return resp, nil
	}

	retryResult, err := o.runSubstrateTurn(ctx, turn, nil)
	if err != nil {
		return nil, err
	}

	return BuildAssistantResponse(turn.canonical, retryResult.AssistantText), nil
}

// HandleChatCompletions runs one Chat Completions request end-to-end.
func (o *Orchestrator) HandleChatCompletions(ctx context.Context, in InboundRequest) (*TurnResult, error) {
	if !json.Valid(in.Body) {
		return nil, NewError(ErrInvalidJSON, 400, "request body is not valid JSON")
	}

	canonical, err := ParseChatRequest(in.Body, ParseOptions{
		DefaultTimeZone:              o.cfg.DefaultTimeZone,
		MaxAdditionalContextMessages: o.cfg.MaxAdditionalContext(),
	})
	if err != nil {
		return nil, err
	}

	if canonical.Model == "" {
		canonical.Model = o.cfg.DefaultModel
	}

	turn, err := o.prepareTurn(ctx, in, canonical, "")
	if err != nil {
		return nil, err
	}

	headers := turn.headers()

	if !canonical.Stream {
		assistantText, err := o.executeBuffered(ctx, turn)
		if err != nil {
			return nil, err
		}

		resp, err := o.buildAssistantResponseWithStrictRetry(ctx, turn, assistantText)
		if err != nil {
			return nil, err
		}

		if resp.StrictToolErrorMessage != "" {
			return nil, NewError(ErrInvalidToolOutput, 400, resp.StrictToolErrorMessage)
		}

		headers = turn.headers()
		body := BuildChatCompletion(canonical.Model, resp, turn.conversationID, o.cfg.IncludeConversationIDInBody)

		return &TurnResult{Headers: headers, Body: body}, nil
	}

	if requiresBuffering(canonical) {
		assistantText, err := o.executeBuffered(ctx, turn)
		if err != nil {
			return nil, err
		}

		resp, err := o.buildAssistantResponseWithStrictRetry(ctx, turn, assistantText)
		if err != nil {
			return nil, err
		}

		if resp.StrictToolErrorMessage != "" {
			return nil, NewError(ErrInvalidToolOutput, 400, resp.StrictToolErrorMessage)
		}

		chunks := ChatCompletionChunks(canonical.Model, resp)

		return &TurnResult{Headers: turn.headers(), Stream: true, Events: chunksToSSE(chunks)}, nil
	}

	var events streams.Stream[SSEEvent]

	switch turn.transport {
	case TransportSubstrate:
		events = o.streamChatCompletionSubstrate(ctx, turn)
	default:
		events, err = o.streamChatCompletion(ctx, turn)
		if err != nil {
			return nil, err
		}
	}

	return &TurnResult{Headers: turn.headers(), Stream: true, Events: events}, nil
}

// HandleResponses runs one Responses API request end-to-end.
func (o *Orchestrator) HandleResponses(ctx context.Context, in InboundRequest) (*TurnResult, error) {
	if !json.Valid(in.Body) {
		return nil, NewError(ErrInvalidJSON, 400, "request body is not valid JSON")
	}

	req, err := ParseResponsesRequest(in.Body, ParseOptions{
		DefaultTimeZone:              o.cfg.DefaultTimeZone,
		MaxAdditionalContextMessages: o.cfg.MaxAdditionalContext(),
	})
	if err != nil {
		return nil, err
	}

	if req.Model == "" {
		req.Model = o.cfg.DefaultModel
	}

	turn, err := o.prepareTurn(ctx, in, &req.CanonicalRequest, req.PreviousResponseID)
	if err != nil {
		return nil, err
	}

	seq := NewResponsesEventSequence(req.Model)

	if !req.Stream {
		assistantText, err := o.executeBuffered(ctx, turn)
		if err != nil {
			return nil, err
		}

		resp, err := o.buildAssistantResponseWithStrictRetry(ctx, turn, assistantText)
		if err != nil {
			return nil, err
		}

		if resp.StrictToolErrorMessage != "" {
			return nil, NewError(ErrInvalidToolOutput, 400, resp.StrictToolErrorMessage)
		}

		body := BuildResponsesObject(req, seq.ResponseID(), resp, turn.conversationID, o.cfg.IncludeConversationIDInBody)
		o.respStore.Set(seq.ResponseID(), body, turn.conversationID, time.Now().Unix())
		o.respStore.SetConversationLink(seq.ResponseID(), turn.conversationID)

		return &TurnResult{Headers: turn.headers(), Body: body}, nil
	}

	if !requiresBuffering(&req.CanonicalRequest) {
		var (
			nextDelta func() (string, bool, error)
			closeFn   func() error
		)

		switch turn.transport {
		case TransportSubstrate:
			nextDelta, closeFn = o.responsesDeltaSourceSubstrate(ctx, turn)
		default:
			nextDelta, closeFn, err = o.responsesDeltaSourceGraph(ctx, turn)
			if err != nil {
				return nil, err
			}
		}

		events := o.responsesLiveStream(req, turn, seq, nextDelta, closeFn)

		return &TurnResult{Headers: turn.headers(), Stream: true, Events: events}, nil
	}

	assistantText, err := o.executeBuffered(ctx, turn)
	if err != nil {
		return nil, err
	}

	resp, err := o.buildAssistantResponseWithStrictRetry(ctx, turn, assistantText)
	if err != nil {
		return nil, err
	}

	if resp.StrictToolErrorMessage != "" {
		return nil, NewError(ErrInvalidToolOutput, 400, resp.StrictToolErrorMessage)
	}

	body := BuildResponsesObject(req, seq.ResponseID(), resp, turn.conversationID, o.cfg.IncludeConversationIDInBody)
	o.respStore.Set(seq.ResponseID(), body, turn.conversationID, time.Now().Unix())
	o.respStore.SetConversationLink(seq.ResponseID(), turn.conversationID)

	return &TurnResult{Headers: turn.headers(), Stream: true, Events: responsesEventsToSSE(seq, resp, body)}, nil
}

func (o *Orchestrator) prepareTurn(
	ctx context.Context,
	in InboundRequest,
	canonical *CanonicalRequest,
	previousResponseID string,
) (*resolvedTurn, error) {
	bearer, err := o.resolveAuth(ctx, in)
	if err != nil {
		return nil, err
	}

	transport, err := o.resolveTransport(in)
	if err != nil {
		return nil, err
	}

	turn := &resolvedTurn{bearer: bearer, transport: transport, canonical: canonical}

	if err := o.resolveConversation(ctx, in, turn, previousResponseID); err != nil {
		return nil, err
	}

	return turn, nil
}

func (t *resolvedTurn) headers() map[string]string {
	h := map[string]string{
		"x-m365-transport":       t.transport,
		"x-m365-conversation-id": t.conversationID,
	}

	if t.createdConversation {
		h["x-m365-conversation-created"] = "true"
	}

	return h
}

// executeBuffered runs one full turn against the resolved transport and
// returns the raw assistant text, applying the Substrate empty-assistant
// retry where applicable.
func (o *Orchestrator) executeBuffered(ctx context.Context, turn *resolvedTurn) (string, error) {
	text, err := o.executeBufferedUnlogged(ctx, turn)
	if err == nil {
		o.debug.WriteTurn(ctx, turn.transport, []byte(turn.canonical.PromptText+"\n---\n"+text))
	}

	return text, err
}

func (o *Orchestrator) executeBufferedUnlogged(ctx context.Context, turn *resolvedTurn) (string, error) {
	switch turn.transport {
	case TransportGraph:
		return o.executeGraphBuffered(ctx, turn)
	case TransportSubstrate:
		result, err := o.runSubstrateTurn(ctx, turn, nil)
		if err != nil {
			return "", err
		}

		return result.AssistantText, nil
	default:
		return "", NewError(ErrInvalidTransport, 400, "unsupported transport: "+turn.transport)
	}
}

func (o *Orchestrator) executeGraphBuffered(ctx context.Context, turn *resolvedTurn) (string, error) {
	payload := o.buildGraphPayload(turn)

	body, err := o.graph.Chat(ctx, turn.bearer, turn.conversationID, payload)
	if err != nil {
		return "", err
	}

	return ExtractLatestAssistantText(body, turn.canonical.PromptText), nil
}

func (o *Orchestrator) buildGraphPayload(turn *resolvedTurn) json.RawMessage {
	prompt := BuildPromptWithContext(turn.canonical.PromptText, turn.canonical.AdditionalContext)

	payload := map[string]any{
		"author": "user",
		"text":   prompt,
		"locationInfo": map[string]any{
			"timeZone": turn.canonical.LocationHint.TimeZone,
		},
	}

	if len(turn.canonical.ContextualResources) > 0 {
		payload["contextualResources"] = turn.canonical.ContextualResources
	}

	b, _ := json.Marshal(payload)

	return b
}

// streamChatCompletion pumps the Graph SSE stream through the cumulative-
// snapshot delta transform and the Chat Completions chunk shapes.
func (o *Orchestrator) streamChatCompletion(ctx context.Context, turn *resolvedTurn) (streams.Stream[SSEEvent], error) {
	payload := o.buildGraphPayload(turn)

	upstream, err := o.graph.ChatOverStream(ctx, turn.bearer, turn.conversationID, payload)
	if err != nil {
		return nil, err
	}

	id := newCompletionID()
	created := time.Now().Unix()
	transformer := NewGraphDeltaTransformer(turn.canonical.PromptText)
	sentRole := false
	finished := false

	next := func() (SSEEvent, bool, error) {
		if finished {
			return SSEEvent{}, false, nil
		}

		if !sentRole {
			sentRole = true

			return SSEEvent{Data: string(buildChatChunk(id, turn.canonical.Model, created, chatDelta{Role: "assistant"}, ""))}, true, nil
		}

		for upstream.Next() {
			event := upstream.Current()

			delta, ok := transformer.Next(event.Data)
			if !ok {
				continue
			}

			text := delta

			return SSEEvent{Data: string(buildChatChunk(id, turn.canonical.Model, created, chatDelta{Content: &text}, ""))}, true, nil
		}

		if err := upstream.Err(); err != nil {
			finished = true

			return SSEEvent{Event: "error", Data: string(WrapError(ErrResponseStreamError, 502, "graph stream error", err).Body())}, true, nil
		}

		finished = true

		return SSEEvent{Data: string(buildChatChunk(id, turn.canonical.Model, created, chatDelta{}, string(FinishStop)))}, true, nil
	}

	base := streams.FuncStream(next, upstream.Close)

	return streams.AppendStream(base, SSEEvent{Data: DoneSentinel}), nil
}

// streamChatCompletionSubstrate drives a live Substrate turn, translating
// each writeAtCursor delta into a Chat Completions content chunk as it
// arrives. RunTurn blocks until the turn completes, so the invocation runs on
// its own goroutine and feeds deltas back over a channel.
func (o *Orchestrator) streamChatCompletionSubstrate(ctx context.Context, turn *resolvedTurn) streams.Stream[SSEEvent] {
	id := newCompletionID()
	created := time.Now().Unix()

	updates := make(chan string)
	done := make(chan error, 1)

	go func() {
		defer close(updates)

		_, err := o.runSubstrateTurn(ctx, turn, func(deltaText, _ string) {
			updates <- deltaText
		})
		done <- err
	}()

	sentRole := false
	finished := false

	next := func() (SSEEvent, bool, error) {
		if finished {
			return SSEEvent{}, false, nil
		}

		if !sentRole {
			sentRole = true

			return SSEEvent{Data: string(buildChatChunk(id, turn.canonical.Model, created, chatDelta{Role: "assistant"}, ""))}, true, nil
		}

		if delta, ok := <-updates; ok {
			text := delta

			return SSEEvent{Data: string(buildChatChunk(id, turn.canonical.Model, created, chatDelta{Content: &text}, ""))}, true, nil
		}

		finished = true

		if err := <-done; err != nil {
			return SSEEvent{Event: "error", Data: string(WrapError(ErrResponseStreamError, 502, "substrate stream error", err).Body())}, true, nil
		}

		return SSEEvent{Data: string(buildChatChunk(id, turn.canonical.Model, created, chatDelta{}, string(FinishStop)))}, true, nil
	}

	base := streams.FuncStream(next, func() error { return nil })

	return streams.AppendStream(base, SSEEvent{Data: DoneSentinel})
}

// chunksToSSE adapts a pre-built slice of Chat Completions chunks (including
// the trailing DoneSentinel) to the SSEEvent stream shape.
func chunksToSSE(chunks []json.RawMessage) streams.Stream[SSEEvent] {
	events := make([]SSEEvent, len(chunks))

	for i, c := range chunks {
		if string(c) == DoneSentinel {
			events[i] = SSEEvent{Data: DoneSentinel}

			continue
		}

		events[i] = SSEEvent{Data: string(c)}
	}

	return streams.SliceStream(events)
}

// responsesEventsToSSE renders the full 7-event Responses API sequence for a
// buffered assistant response, splitting its content into a single delta.
func responsesEventsToSSE(seq *ResponsesEventSequence, resp *AssistantResponse, finalBody json.RawMessage) streams.Stream[SSEEvent] {
	events := []SSEEvent{
		{Data: string(seq.Created())},
		{Data: string(seq.InProgress())},
		{Data: string(seq.OutputItemAdded(resp))},
	}

	if len(resp.ToolCalls) == 0 && resp.Content != nil && *resp.Content != "" {
		events = append(events,
			SSEEvent{Data: string(seq.OutputTextDelta(*resp.Content))},
			SSEEvent{Data: string(seq.OutputTextDone(*resp.Content))},
		)
	}

	events = append(events,
		SSEEvent{Data: string(seq.OutputItemDone(resp))},
		SSEEvent{Data: string(seq.Completed(finalBody))},
		SSEEvent{Data: DoneSentinel},
	)

	return streams.SliceStream(events)
}

// responsesDeltaSourceGraph drives the Graph SSE stream through the
// cumulative-snapshot delta transform, exposing it as a pull-next function
// so responsesLiveStream can share one state machine with the Substrate path.
func (o *Orchestrator) responsesDeltaSourceGraph(
	ctx context.Context,
	turn *resolvedTurn,
) (func() (string, bool, error), func() error, error) {
	payload := o.buildGraphPayload(turn)

	upstream, err := o.graph.ChatOverStream(ctx, turn.bearer, turn.conversationID, payload)
	if err != nil {
		return nil, nil, err
	}

	transformer := NewGraphDeltaTransformer(turn.canonical.PromptText)

	nextDelta := func() (string, bool, error) {
		for upstream.Next() {
			if delta, ok := transformer.Next(upstream.Current().Data); ok {
				return delta, true, nil
			}
		}

		return "", false, upstream.Err()
	}

	return nextDelta, upstream.Close, nil
}

// responsesDeltaSourceSubstrate mirrors streamChatCompletionSubstrate's
// goroutine/channel bridge, but yields raw text deltas instead of pre-built
// chunks so responsesLiveStream can wrap them in Responses API events.
func (o *Orchestrator) responsesDeltaSourceSubstrate(
	ctx context.Context,
	turn *resolvedTurn,
) (func() (string, bool, error), func() error) {
	updates := make(chan string)
	done := make(chan error, 1)

	go func() {
		defer close(updates)

		_, err := o.runSubstrateTurn(ctx, turn, func(deltaText, _ string) {
			updates <- deltaText
		})
		done <- err
	}()

	nextDelta := func() (string, bool, error) {
		if delta, ok := <-updates; ok {
			return delta, true, nil
		}

		return "", false, <-done
	}

	return nextDelta, func() error { return nil }
}

// responsesLiveStream drives the Responses API's event sequence incrementally:
// each nextDelta call yields one response.output_text.delta event as text
// arrives, rather than synthesizing the whole sequence from a buffered
// response after the fact. The final response body is stored once the
// delta source is exhausted, exactly as the buffered path does.
func (o *Orchestrator) responsesLiveStream(
	req *ResponsesRequest,
	turn *resolvedTurn,
	seq *ResponsesEventSequence,
	nextDelta func() (string, bool, error),
	closeFn func() error,
) streams.Stream[SSEEvent] {
	var (
		text      strings.Builder
		resp      *AssistantResponse
		finalBody json.RawMessage
		stage     int
	)

	const (
		stageCreated = iota
		stageInProgress
		stageItemAdded
		stageDeltas
		stageTextDone
		stageItemDone
		stageCompleted
		stageFinished
	)

	next := func() (SSEEvent, bool, error) {
		switch stage {
		case stageCreated:
			stage = stageInProgress

			return SSEEvent{Data: string(seq.Created())}, true, nil
		case stageInProgress:
			stage = stageItemAdded

			return SSEEvent{Data: string(seq.InProgress())}, true, nil
		case stageItemAdded:
			stage = stageDeltas

			return SSEEvent{Data: string(seq.OutputItemAdded(&AssistantResponse{}))}, true, nil
		case stageDeltas:
			delta, ok, err := nextDelta()
			if err != nil {
				stage = stageFinished

				return SSEEvent{Event: "error", Data: string(WrapError(ErrResponseStreamError, 502, "responses stream error", err).Body())}, true, nil
			}

			if ok {
				text.WriteString(delta)

				return SSEEvent{Data: string(seq.OutputTextDelta(delta))}, true, nil
			}

			resp = BuildAssistantResponse(turn.canonical, text.String())

			if text.Len() == 0 {
				stage = stageItemDone

				return SSEEvent{Data: string(seq.OutputItemDone(resp))}, true, nil
			}

			stage = stageTextDone

			return SSEEvent{Data: string(seq.OutputTextDone(text.String()))}, true, nil
		case stageTextDone:
			stage = stageItemDone

			return SSEEvent{Data: string(seq.OutputItemDone(resp))}, true, nil
		case stageItemDone:
			finalBody = BuildResponsesObject(req, seq.ResponseID(), resp, turn.conversationID, o.cfg.IncludeConversationIDInBody)
			o.respStore.Set(seq.ResponseID(), finalBody, turn.conversationID, time.Now().Unix())
			o.respStore.SetConversationLink(seq.ResponseID(), turn.conversationID)

			stage = stageCompleted

			return SSEEvent{Data: string(seq.Completed(finalBody))}, true, nil
		default:
			return SSEEvent{}, false, nil
		}
	}

	base := streams.FuncStream(next, closeFn)

	return streams.AppendStream(base, SSEEvent{Data: DoneSentinel})
}

// ListResponses, GetResponse, DeleteResponse expose C3 to the HTTP layer.
func (o *Orchestrator) ListResponses(limit int) ResponseList {
	return o.respStore.List(limit)
}

func (o *Orchestrator) GetResponse(id string) (StoredResponse, bool) {
	return o.respStore.TryGet(id)
}

func (o *Orchestrator) DeleteResponse(id string) bool {
	return o.respStore.TryDelete(id)
}

func jsonString(body []byte, path string) string {
	if len(body) == 0 {
		return ""
	}

	return gjson.GetBytes(body, path).String()
}
