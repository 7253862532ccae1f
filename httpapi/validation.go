package httpapi

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// chatCompletionSchema is the JSON Schema SPEC_FULL.md §4.4 requires the
// OpenAI envelope to satisfy before it reaches the Handler: a non-empty
// messages array of {role, content} with role restricted to the values the
// wire format actually uses.
const chatCompletionSchema = `{
  "type": "object",
  "required": ["model", "messages"],
  "properties": {
    "model": {"type": "string", "minLength": 1},
    "messages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": {"type": "string", "enum": ["user", "assistant", "system"]},
          "content": {"type": "string"}
        }
      }
    },
    "temperature": {"type": "number"},
    "max_tokens": {"type": "integer"},
    "stream": {"type": "boolean"}
  }
}`

// anthropicMessagesSchema is the Anthropic-shaped counterpart of
// chatCompletionSchema.
const anthropicMessagesSchema = `{
  "type": "object",
  "required": ["model", "messages", "max_tokens"],
  "properties": {
    "model": {"type": "string", "minLength": 1},
    "messages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": {"type": "string", "enum": ["user", "assistant"]},
          "content": {"type": "string"}
        }
      }
    },
    "max_tokens": {"type": "integer"},
    "stream": {"type": "boolean"}
  }
}`

var (
	chatCompletionValidator *gojsonschema.Schema
	anthropicMessageValidator *gojsonschema.Schema
)

func init() {
	var err error
	chatCompletionValidator, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(chatCompletionSchema))
	if err != nil {
		panic(fmt.Sprintf("httpapi: invalid chat completion schema: %v", err))
	}
	anthropicMessageValidator, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(anthropicMessagesSchema))
	if err != nil {
		panic(fmt.Sprintf("httpapi: invalid anthropic messages schema: %v", err))
	}
}

// validateAgainst runs a raw JSON body through schema and returns a
// human-readable description of the first violation, or "" if it passes.
func validateAgainst(schema *gojsonschema.Schema, body []byte) (string, error) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return "", err
	}
	if result.Valid() {
		return "", nil
	}
	errs := result.Errors()
	if len(errs) == 0 {
		return "request failed schema validation", nil
	}
	return errs[0].String(), nil
}
