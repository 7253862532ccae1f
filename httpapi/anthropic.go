package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/turnbridge/turnbridge/logger"
	metrics "github.com/turnbridge/turnbridge/metrics/prometheus"
	"github.com/turnbridge/turnbridge/registry"
	"github.com/turnbridge/turnbridge/session"
)

// AnthropicMessage is one entry of an Anthropic Messages "messages" array.
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicRequest is the request envelope for POST /v1/messages. model is
// parsed identically to the OpenAI path: a bare SessionId, or one suffixed
// with "|A"/"|B" (SPEC_FULL.md §4.4 addendum).
type AnthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []AnthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream,omitempty"`
}

// AnthropicContentBlock is one entry of an AnthropicResponse's "content".
type AnthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// AnthropicUsage mirrors the Anthropic Messages usage shape.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicResponse is the response envelope for a completed rendezvous
// turn addressed through the Anthropic adapter.
type AnthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Model      string                  `json:"model"`
	Content    []AnthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      AnthropicUsage          `json:"usage"`
}

// AnthropicErrorBody is the Anthropic-shaped error envelope:
// {"type":"error","error":{type,message}}.
type AnthropicErrorBody struct {
	Type  string               `json:"type"`
	Error AnthropicErrorDetail `json:"error"`
}

// AnthropicErrorDetail carries the same taxonomy as ErrorDetail, reshaped
// for the Anthropic wire format.
type AnthropicErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicMessagesHandler is a pure codec over the same Session machinery
// as ChatCompletionsHandler — it contributes no new Session, Registry, or
// Reaper logic (SPEC_FULL.md §9).
type AnthropicMessagesHandler struct {
	registry    *registry.Registry
	maxBodySize int64
}

// NewAnthropicMessagesHandler creates a Handler for the Anthropic adapter,
// bound to the same Registry the OpenAI endpoint uses.
func NewAnthropicMessagesHandler(reg *registry.Registry, maxBodySize int64) *AnthropicMessagesHandler {
	return &AnthropicMessagesHandler{registry: reg, maxBodySize: maxBodySize}
}

func (h *AnthropicMessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAnthropicError(w, http.StatusRequestEntityTooLarge, "request body too large", ErrTypeInvalidRequest)
		return
	}

	if msg, verr := validateAgainst(anthropicMessageValidator, body); verr != nil {
		writeAnthropicError(w, http.StatusInternalServerError, "schema validation unavailable", ErrTypeServerError)
		return
	} else if msg != "" {
		writeAnthropicError(w, http.StatusUnprocessableEntity, msg, ErrTypeInvalidRequest)
		return
	}

	var req AnthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeAnthropicError(w, http.StatusUnprocessableEntity, "malformed JSON body", ErrTypeInvalidRequest)
		return
	}
	if len(req.Messages) == 0 {
		writeAnthropicError(w, http.StatusUnprocessableEntity, "messages must be non-empty", ErrTypeInvalidRequest)
		return
	}

	sessionID, side := parseModel(req.Model)
	content := req.Messages[len(req.Messages)-1].Content

	sess, err := h.registry.GetOrCreate(sessionID)
	if err != nil {
		metrics.RecordRegistryRejected()
		writeAnthropicError(w, http.StatusServiceUnavailable, "session capacity exhausted", ErrTypeInvalidRequest)
		return
	}

	aConnected, _ := sess.ConnectedSides()
	isHandshake := !aConnected

	start := time.Now()
	counterpart, err := sess.ProcessRequest(r.Context(), content, side)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		recordTurnOutcome(sessionID, isHandshake, side, err, elapsed)
		mapAnthropicError(w, err)
		return
	}
	recordTurnOutcome(sessionID, isHandshake, side, nil, elapsed)

	if req.Stream {
		setSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
		writeAnthropicSSEEvents(w, "msg-"+sessionID, req.Model, countTokens(content), counterpart)
		return
	}

	resp := AnthropicResponse{
		ID:         "msg-" + sessionID,
		Type:       "message",
		Role:       "assistant",
		Model:      req.Model,
		Content:    []AnthropicContentBlock{{Type: "text", Text: counterpart}},
		StopReason: "end_turn",
		Usage: AnthropicUsage{
			InputTokens:  countTokens(content),
			OutputTokens: countTokens(counterpart),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func mapAnthropicError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrTimeout), errors.Is(err, session.ErrClosed), errors.Is(err, session.ErrCancelled):
		writeAnthropicError(w, http.StatusRequestTimeout, "timed out waiting for counterpart", ErrTypeTimeout)
	default:
		logger.Error("unexpected session error", "error", err)
		writeAnthropicError(w, http.StatusInternalServerError, "internal error", ErrTypeServerError)
	}
}

func writeAnthropicError(w http.ResponseWriter, status int, message, errType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(AnthropicErrorBody{
		Type:  "error",
		Error: AnthropicErrorDetail{Type: errType, Message: message},
	})
}
