package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/onnwee/chatwarden/cache"
)

const (
	defaultHelixBaseURL = "https://api.twitch.tv"
	defaultTokenURL     = "https://id.twitch.tv/oauth2/token"
)

// NewAppTokenSource builds a cached client-credentials token source for the
// Helix API. tokenURL is overridable for tests; empty means production.
func NewAppTokenSource(ctx context.Context, clientID, clientSecret, tokenURL string) oauth2.TokenSource {
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return cfg.TokenSource(ctx)
}

// Helix is a minimal client for the Helix endpoints the bot needs: user id
// resolution and the moderation bans surface.
type Helix struct {
	TokenSource oauth2.TokenSource
	ClientID    string
	HTTPClient  *http.Client
	// BaseURL overrides the production API host, for tests.
	BaseURL string
	// UserIDs fronts login-to-id lookups; logins are stable, so a long TTL
	// is fine.
	UserIDs *cache.Cache[string, string]
}

func (h *Helix) http() *http.Client {
	if h.HTTPClient != nil {
		return h.HTTPClient
	}
	return http.DefaultClient
}

func (h *Helix) base() string {
	if h.BaseURL != "" {
		return h.BaseURL
	}
	return defaultHelixBaseURL
}

func (h *Helix) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	tok, err := h.TokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("app token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.base()+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", h.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	return req, nil
}

// GetUserID resolves a login name to its user ID, consulting the cache first.
func (h *Helix) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	if h.UserIDs != nil {
		if id, ok := h.UserIDs.Get(login); ok {
			return id, nil
		}
	}
	req, err := h.newRequest(ctx, http.MethodGet, "/helix/users", nil)
	if err != nil {
		return "", err
	}
	q := req.URL.Query()
	q.Set("login", login)
	req.URL.RawQuery = q.Encode()
	resp, err := h.http().Do(req)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return "", helixError("get user", resp)
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found: %s", login)
	}
	if h.UserIDs != nil {
		h.UserIDs.Set(login, body.Data[0].ID)
	}
	return body.Data[0].ID, nil
}

// BanUser issues a ban (durationSeconds == 0) or a timeout (> 0) against a
// user in a broadcaster's channel, acting as moderatorID.
func (h *Helix) BanUser(ctx context.Context, broadcasterID, moderatorID, userID string, durationSeconds int, reason string) error {
	payload := map[string]any{
		"data": map[string]any{
			"user_id": userID,
			"reason":  reason,
		},
	}
	if durationSeconds > 0 {
		payload["data"].(map[string]any)["duration"] = durationSeconds
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := h.newRequest(ctx, http.MethodPost, "/helix/moderation/bans", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	q := req.URL.Query()
	q.Set("broadcaster_id", broadcasterID)
	q.Set("moderator_id", moderatorID)
	req.URL.RawQuery = q.Encode()
	resp, err := h.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode >= 300 {
		return helixError("ban user", resp)
	}
	return nil
}

// UnbanUser lifts a ban or active timeout.
func (h *Helix) UnbanUser(ctx context.Context, broadcasterID, moderatorID, userID string) error {
	req, err := h.newRequest(ctx, http.MethodDelete, "/helix/moderation/bans", nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("broadcaster_id", broadcasterID)
	q.Set("moderator_id", moderatorID)
	q.Set("user_id", userID)
	req.URL.RawQuery = q.Encode()
	resp, err := h.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode >= 300 {
		return helixError("unban user", resp)
	}
	return nil
}

func helixError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s failed: %s: %s", op, resp.Status, strings.TrimSpace(string(b)))
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
