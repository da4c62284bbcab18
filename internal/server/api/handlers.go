// Package api adapts gin's *gin.Context request/response plumbing to the
// orchestrator's HTTP-agnostic InboundRequest/TurnResult/SSEEvent types.
package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/looplj/m365gateway/internal/log"
	"github.com/looplj/m365gateway/internal/m365"
	"github.com/looplj/m365gateway/internal/pkg/streams"
)

// Handlers wraps the orchestrator with gin handler methods.
type Handlers struct {
	orchestrator *m365.Orchestrator
	defaultModel string
}

func NewHandlers(orchestrator *m365.Orchestrator, defaultModel string) *Handlers {
	return &Handlers{orchestrator: orchestrator, defaultModel: defaultModel}
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []gin.H{
			{"id": h.defaultModel, "object": "model", "owned_by": "m365-copilot"},
		},
	})
}

func inboundFromContext(c *gin.Context) (m365.InboundRequest, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return m365.InboundRequest{}, err
	}

	return m365.InboundRequest{
		Body:                  body,
		AuthorizationHeader:   c.GetHeader("Authorization"),
		TransportHeader:       strings.ToLower(strings.TrimSpace(c.GetHeader("x-m365-transport"))),
		ConversationIDHeader:  c.GetHeader("x-m365-conversation-id"),
		ConversationKeyHeader: c.GetHeader("x-m365-conversation-key"),
		NewConversationHeader: strings.EqualFold(c.GetHeader("x-m365-new-conversation"), "true"),
	}, nil
}

func writeTurnResult(c *gin.Context, result *m365.TurnResult) {
	for k, v := range result.Headers {
		c.Header(k, v)
	}

	if !result.Stream {
		c.Data(http.StatusOK, "application/json", result.Body)

		return
	}

	writeSSEStream(c, result.Events)
}

// writeSSEStream drains the orchestrator's SSEEvent stream using gin's SSE
// writer discipline, stopping promptly on client disconnect.
func writeSSEStream(c *gin.Context, events streams.Stream[m365.SSEEvent]) {
	ctx := c.Request.Context()

	defer func() {
		if err := events.Close(); err != nil {
			log.Warn(ctx, "error closing event stream", log.Cause(err))
		}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	clientGone := c.Writer.CloseNotify()

	for {
		select {
		case <-clientGone:
			log.Warn(ctx, "client disconnected, stopping stream")

			return
		case <-ctx.Done():
			log.Warn(ctx, "context done, stopping stream")

			return
		default:
		}

		if !events.Next() {
			if err := events.Err(); err != nil {
				log.Error(ctx, "error in sse stream", log.Cause(err))
				c.SSEvent("error", err.Error())
				c.SSEvent("", m365.DoneSentinel)
				c.Writer.Flush()
			}

			return
		}

		cur := events.Current()
		if cur.Event != "" {
			c.SSEvent(cur.Event, cur.Data)
		} else {
			c.SSEvent("", cur.Data)
		}

		c.Writer.Flush()
	}
}

func (h *Handlers) ChatCompletions(c *gin.Context) {
	in, err := inboundFromContext(c)
	if err != nil {
		writeError(c, m365.NewError(m365.ErrInvalidRequest, http.StatusBadRequest, "failed to read request body"))

		return
	}

	result, err := h.orchestrator.HandleChatCompletions(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)

		return
	}

	writeTurnResult(c, result)
}

func (h *Handlers) Responses(c *gin.Context) {
	in, err := inboundFromContext(c)
	if err != nil {
		writeError(c, m365.NewError(m365.ErrInvalidRequest, http.StatusBadRequest, "failed to read request body"))

		return
	}

	result, err := h.orchestrator.HandleResponses(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)

		return
	}

	writeTurnResult(c, result)
}

func (h *Handlers) ListResponses(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	list := h.orchestrator.ListResponses(limit)

	items := make([]gin.H, len(list.Responses))
	for i, r := range list.Responses {
		items[i] = gin.H{
			"id":              r.ResponseID,
			"created_at":      r.CreatedAtUnix,
			"conversation_id": r.ConversationID,
			"response":        r.ResponseBody,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"object":   "list",
		"data":     items,
		"has_more": list.HasMore,
		"first_id": list.FirstID,
		"last_id":  list.LastID,
	})
}

func (h *Handlers) GetResponse(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, m365.NewError(m365.ErrMissingResponseID, http.StatusBadRequest, "response id is required"))

		return
	}

	stored, ok := h.orchestrator.GetResponse(id)
	if !ok {
		writeError(c, m365.NewError(m365.ErrResponseNotFound, http.StatusNotFound, "response not found: "+id))

		return
	}

	c.Data(http.StatusOK, "application/json", stored.ResponseBody)
}

func (h *Handlers) DeleteResponse(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, m365.NewError(m365.ErrMissingResponseID, http.StatusBadRequest, "response id is required"))

		return
	}

	if !h.orchestrator.DeleteResponse(id) {
		writeError(c, m365.NewError(m365.ErrResponseNotFound, http.StatusNotFound, "response not found: "+id))

		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "object": "response", "deleted": true})
}
