package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// writeSSEChunks frames a completed counterpart payload as OpenAI-style
// Server-Sent Events, word by word, finishing with "data: [DONE]\n\n".
//
// Grounded on the original source's stream_completion: the rendezvous
// payload is produced atomically by one Session.ProcessRequest call before
// this function ever runs, so splitting it into words here is purely a
// presentation choice over an already-settled result (SPEC_FULL.md §9 —
// "chunking is a presentation concern and does not change the state
// machine"). The split happens per call, not across state-machine steps.
func writeSSEChunks(w http.ResponseWriter, model, counterpart string, created int64) {
	flusher, canFlush := w.(http.Flusher)

	id := fmt.Sprintf("chatcmpl-%d-%s", created, model)
	words := strings.Fields(counterpart)

	if len(words) == 0 {
		writeChunk(w, chunkFor(id, model, created, "", stopReason()))
		if canFlush {
			flusher.Flush()
		}
		writeDone(w)
		return
	}

	for i, word := range words {
		piece := word
		if i < len(words)-1 {
			piece += " "
		}
		var finish *string
		if i == len(words)-1 {
			finish = stopReason()
		}
		writeChunk(w, chunkFor(id, model, created, piece, finish))
		if canFlush {
			flusher.Flush()
		}
	}
	writeDone(w)
}

func stopReason() *string {
	s := "stop"
	return &s
}

func chunkFor(id, model string, created int64, piece string, finish *string) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []ChatCompletionChunkChoice{{
			Index:        0,
			Delta:        ChatCompletionChunkDelta{Content: piece},
			FinishReason: finish,
		}},
	}
}

func writeChunk(w http.ResponseWriter, chunk ChatCompletionChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeDone(w http.ResponseWriter) {
	fmt.Fprint(w, "data: [DONE]\n\n")
}

// setSSEHeaders marks the response as an event stream, as required before
// the first write.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// writeAnthropicSSEEvents frames a completed counterpart payload as
// Anthropic-style named SSE events (message_start, content_block_start,
// a content_block_delta per word, content_block_stop, message_delta,
// message_stop). Like writeSSEChunks, chunking is purely presentational —
// the rendezvous payload is already settled by the time this runs.
func writeAnthropicSSEEvents(w http.ResponseWriter, id, model string, inputTokens int, counterpart string) {
	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	writeEvent(w, "message_start", anthropicMessageStart{
		Type: "message_start",
		Message: anthropicStreamMessage{
			ID:      id,
			Type:    "message",
			Role:    "assistant",
			Model:   model,
			Content: []AnthropicContentBlock{},
			Usage:   AnthropicUsage{InputTokens: inputTokens},
		},
	})
	flush()

	writeEvent(w, "content_block_start", anthropicContentBlockStart{
		Type:         "content_block_start",
		Index:        0,
		ContentBlock: AnthropicContentBlock{Type: "text", Text: ""},
	})
	flush()

	words := strings.Fields(counterpart)
	outputTokens := 0
	for i, word := range words {
		piece := word
		if i < len(words)-1 {
			piece += " "
		}
		outputTokens += countTokens(piece)
		writeEvent(w, "content_block_delta", anthropicContentBlockDelta{
			Type:  "content_block_delta",
			Index: 0,
			Delta: anthropicTextDelta{Type: "text_delta", Text: piece},
		})
		flush()
	}

	writeEvent(w, "content_block_stop", anthropicContentBlockStop{Type: "content_block_stop", Index: 0})
	flush()

	writeEvent(w, "message_delta", anthropicMessageDelta{
		Type:  "message_delta",
		Delta: anthropicMessageDeltaFields{StopReason: "end_turn"},
		Usage: anthropicStreamUsage{OutputTokens: outputTokens},
	})
	flush()

	writeEvent(w, "message_stop", anthropicMessageStop{Type: "message_stop"})
	flush()
}

func writeEvent(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

type anthropicStreamMessage struct {
	ID      string                  `json:"id"`
	Type    string                  `json:"type"`
	Role    string                  `json:"role"`
	Model   string                  `json:"model"`
	Content []AnthropicContentBlock `json:"content"`
	Usage   AnthropicUsage          `json:"usage"`
}

type anthropicMessageStart struct {
	Type    string                 `json:"type"`
	Message anthropicStreamMessage `json:"message"`
}

type anthropicContentBlockStart struct {
	Type         string                `json:"type"`
	Index        int                   `json:"index"`
	ContentBlock AnthropicContentBlock `json:"content_block"`
}

type anthropicTextDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicContentBlockDelta struct {
	Type  string             `json:"type"`
	Index int                `json:"index"`
	Delta anthropicTextDelta `json:"delta"`
}

type anthropicContentBlockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type anthropicMessageDeltaFields struct {
	StopReason string `json:"stop_reason"`
}

type anthropicStreamUsage struct {
	OutputTokens int `json:"output_tokens"`
}

type anthropicMessageDelta struct {
	Type  string                      `json:"type"`
	Delta anthropicMessageDeltaFields `json:"delta"`
	Usage anthropicStreamUsage        `json:"usage"`
}

type anthropicMessageStop struct {
	Type string `json:"type"`
}
