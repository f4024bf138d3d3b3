// Package classifier provides content-classifier implementations for the
// moderation engine: an OpenAI moderations-endpoint client and a caching
// decorator that bounds repeated lookups for identical text.
package classifier

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/onnwee/chatwarden/moderation"
)

// OpenAI classifies text via the OpenAI moderations endpoint. A custom
// BaseURL points it at a compatible proxy (or a test server).
type OpenAI struct {
	client *openai.Client
	model  string
}

var _ moderation.Classifier = (*OpenAI)(nil)

// NewOpenAI builds a classifier from an API key and optional base URL.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.ModerationTextLatest,
	}
}

// Classify submits text for moderation. The correlation id keeps retried
// calls distinguishable in the provider's own request tracking.
func (c *OpenAI) Classify(ctx context.Context, text, correlationID string) (moderation.Verdict, error) {
	resp, err := c.client.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: c.model,
	})
	if err != nil {
		return moderation.Verdict{}, fmt.Errorf("moderation request %s: %w", correlationID, err)
	}
	if len(resp.Results) == 0 {
		return moderation.Verdict{}, fmt.Errorf("moderation request %s: empty result", correlationID)
	}
	res := resp.Results[0]
	if !res.Flagged {
		return moderation.Verdict{}, nil
	}
	return moderation.Verdict{
		IsOffensive:    true,
		OffendingTerms: flaggedCategories(res.Categories),
	}, nil
}

// flaggedCategories lists the category names the endpoint flagged; they stand
// in for offending terms since the endpoint does not echo the source tokens.
func flaggedCategories(c openai.ResultCategories) []string {
	var out []string
	add := func(flagged bool, name string) {
		if flagged {
			out = append(out, name)
		}
	}
	add(c.Hate, "hate")
	add(c.HateThreatening, "hate/threatening")
	add(c.Harassment, "harassment")
	add(c.HarassmentThreatening, "harassment/threatening")
	add(c.SelfHarm, "self-harm")
	add(c.SelfHarmIntent, "self-harm/intent")
	add(c.SelfHarmInstructions, "self-harm/instructions")
	add(c.Sexual, "sexual")
	add(c.SexualMinors, "sexual/minors")
	add(c.Violence, "violence")
	add(c.ViolenceGraphic, "violence/graphic")
	return out
}
