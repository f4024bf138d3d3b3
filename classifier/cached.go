package classifier

import (
	"context"

	"github.com/onnwee/chatwarden/cache"
	"github.com/onnwee/chatwarden/moderation"
)

// Cached fronts a classifier with a bounded TTL/LRU cache keyed by the exact
// text. Chat traffic repeats itself (emote spam, copypasta), so identical
// text skips the round trip. Errors are never cached.
type Cached struct {
	Inner moderation.Classifier
	Cache *cache.Cache[string, moderation.Verdict]
}

var _ moderation.Classifier = (*Cached)(nil)

type hitFlagKey struct{}

// WithHitFlag arranges for Classify to report into hit whether the verdict
// came from cache. Callers that hold only a moderation.Classifier (the
// decision engine) can't see ClassifyWithHit's extra return, so the flag
// travels through the context instead.
func WithHitFlag(ctx context.Context, hit *bool) context.Context {
	return context.WithValue(ctx, hitFlagKey{}, hit)
}

// Classify satisfies moderation.Classifier.
func (c *Cached) Classify(ctx context.Context, text, correlationID string) (moderation.Verdict, error) {
	v, hit, err := c.ClassifyWithHit(ctx, text, correlationID)
	if flag, ok := ctx.Value(hitFlagKey{}).(*bool); ok && flag != nil {
		*flag = hit
	}
	return v, err
}

// ClassifyWithHit additionally reports whether the verdict came from cache,
// which feeds the per-message analytics cache-hit flag.
func (c *Cached) ClassifyWithHit(ctx context.Context, text, correlationID string) (moderation.Verdict, bool, error) {
	if c.Cache != nil {
		if v, ok := c.Cache.Get(text); ok {
			return v, true, nil
		}
	}
	v, err := c.Inner.Classify(ctx, text, correlationID)
	if err != nil {
		return moderation.Verdict{}, false, err
	}
	if c.Cache != nil {
		c.Cache.Set(text, v)
	}
	return v, false, nil
}
