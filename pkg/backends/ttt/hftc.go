// Package ttt implements the text-to-text punctuation restoration backend
// (ttt_hftc): a post-processing pass over STT final text that restores
// sentence case and punctuation before the text reaches a client.
package ttt

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// HFTC drives a chat-completion model as a punctuation restorer, the same
// request-shape pkg/providers/llm/openai.go speaks over raw
// HTTP, here issued through the real openai-go SDK client instead of a
// hand-rolled request/response struct pair.
type HFTC struct {
	client *openai.Client
	model  string
}

// NewHFTC builds an HFTC backend using the given API key and model
// (defaults to "gpt-4o-mini", a cost-appropriate choice for a
// single-sentence restoration task).
func NewHFTC(apiKey, model string) *HFTC {
	if model == "" {
		model = "gpt-4o-mini"
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &HFTC{client: &client, model: model}
}

// Restore punctuates and cases raw STT output. Empty text, or a response
// with no usable content, comes back unchanged with a nil error; a failed
// completion call returns "" and the error, and the orchestrator then
// passes the original text through, so restoration never blocks a
// transcript from reaching the client.
func (h *HFTC) Restore(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	completion, err := h.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: h.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("Restore punctuation and sentence casing in the user's text. Return only the corrected text, nothing else."),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return "", fmt.Errorf("ttt: hftc completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return text, nil
	}

	restored := strings.TrimSpace(completion.Choices[0].Message.Content)
	if restored == "" {
		return text, nil
	}
	return restored, nil
}
