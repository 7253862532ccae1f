package httpapi

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/turnbridge/turnbridge/session"
)

// ChatMessage is one entry of an OpenAI Chat Completions "messages" array.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the request envelope for POST /v1/chat/completions.
//
// model is overloaded: it carries a SessionId, optionally suffixed with
// "|A" or "|B" to declare the sender's side explicitly. temperature and
// max_tokens are accepted and ignored by the rendezvous core.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// ChatCompletionChoice is one entry of a ChatCompletionResponse's "choices".
type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage reports token counts for a completed exchange, all measured in
// Unicode code points (see countTokens).
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the non-streaming response envelope for a
// successful rendezvous turn.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   Usage                  `json:"usage"`
}

// ChatCompletionChunkDelta carries the incremental content of one SSE chunk.
type ChatCompletionChunkDelta struct {
	Content string `json:"content"`
}

// ChatCompletionChunkChoice is one entry of a streaming chunk's "choices".
type ChatCompletionChunkChoice struct {
	Index        int                      `json:"index"`
	Delta        ChatCompletionChunkDelta `json:"delta"`
	FinishReason *string                  `json:"finish_reason"`
}

// ChatCompletionChunk is one `data: {...}` line of the SSE framing used
// when the request sets stream=true.
type ChatCompletionChunk struct {
	ID      string                      `json:"id"`
	Object  string                      `json:"object"`
	Created int64                       `json:"created"`
	Model   string                      `json:"model"`
	Choices []ChatCompletionChunkChoice `json:"choices"`
}

// ErrorBody is the body of the OpenAI endpoint's non-2xx responses and of
// the rate-limit and version-gate middleware on both chat endpoints:
// {"error": {message, type, code?, param?}}. The Anthropic adapter's own
// errors use AnthropicErrorBody instead.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the taxonomy from SPEC_FULL.md §7.
type ErrorDetail struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Code    *string `json:"code,omitempty"`
	Param   *string `json:"param,omitempty"`
}

// Error type constants used in ErrorDetail.Type.
const (
	ErrTypeInvalidRequest  = "invalid_request_error"
	ErrTypeTimeout         = "timeout_error"
	ErrTypeServerError     = "server_error"
	ErrTypeRateLimit       = "rate_limit_error"
	ErrTypeUpgradeRequired = "upgrade_required_error"
	ErrTypeUnauthorized    = "unauthorized_error"
)

// parseModel splits the overloaded "model" field into a SessionId and an
// optional explicit Side. An unrecognized suffix is treated as part of the
// SessionId with no side hint, per SPEC_FULL.md §4.4 step 2.
func parseModel(model string) (sessionID string, side session.Side) {
	if rest, ok := strings.CutSuffix(model, "|A"); ok && rest != "" {
		return rest, session.SideA
	}
	if rest, ok := strings.CutSuffix(model, "|B"); ok && rest != "" {
		return rest, session.SideB
	}
	return model, ""
}

// countTokens measures a string in Unicode code points — the chosen unit
// for prompt_tokens/completion_tokens/total_tokens (SPEC_FULL.md §4.5 Open
// Question: code points, matching the original source's Python len()
// behavior on ordinary text).
func countTokens(s string) int {
	return utf8.RuneCountInString(s)
}

// lastContent returns the content field of the last message in the
// envelope, the payload the Handler hands to Session.ProcessRequest.
func lastContent(messages []ChatMessage) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].Content
}

// buildResponse assembles the non-streaming OpenAI Chat Completions
// response envelope around a counterpart payload that has already been
// produced by one Session.ProcessRequest call.
func buildResponse(model, promptContent, counterpart string, created int64) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:      fmt.Sprintf("chatcmpl-%d-%s", created, model),
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []ChatCompletionChoice{{
			Index: 0,
			Message: ChatMessage{
				Role:    "assistant",
				Content: counterpart,
			},
			FinishReason: "stop",
		}},
		Usage: Usage{
			PromptTokens:     countTokens(promptContent),
			CompletionTokens: countTokens(counterpart),
			TotalTokens:      countTokens(promptContent) + countTokens(counterpart),
		},
	}
}

// buildErrorBody assembles a taxonomy-conformant error body.
func buildErrorBody(message, errType string) ErrorBody {
	return ErrorBody{Error: ErrorDetail{Message: message, Type: errType}}
}
