// Package ai generates chat replies with the OpenAI chat completions API.
package ai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultSystemPrompt = "You are a friendly chat bot in a live stream chat. " +
	"Keep replies to one or two short sentences, never use slurs or insults, " +
	"and stay on the topic of the stream."

// Responder answers chat messages addressed to the bot. Messages that don't
// mention the bot and aren't questions get an empty reply, which the caller
// treats as "stay quiet".
type Responder struct {
	// BotName, when set, gates replies to mentions and questions.
	BotName      string
	Model        string
	SystemPrompt string
	MaxTokens    int

	client *openai.Client
}

// NewResponder builds a responder. baseURL is overridable for tests; empty
// means the production API.
func NewResponder(apiKey, baseURL string) *Responder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Responder{
		Model:        openai.GPT4oMini,
		SystemPrompt: defaultSystemPrompt,
		MaxTokens:    150,
		client:       openai.NewClientWithConfig(cfg),
	}
}

// Respond returns a reply for the message, or "" when the bot should stay
// quiet.
func (r *Responder) Respond(ctx context.Context, scope, subject, text string) (string, error) {
	if !r.shouldRespond(text) {
		return "", nil
	}
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     r.Model,
		MaxTokens: r.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: r.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("%s says: %s", subject, text)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// shouldRespond keeps the bot from replying to every line of chat: only
// mentions and direct questions get an answer.
func (r *Responder) shouldRespond(text string) bool {
	if r.BotName == "" {
		return true
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "@"+strings.ToLower(r.BotName)) {
		return true
	}
	return strings.HasSuffix(strings.TrimSpace(text), "?")
}
