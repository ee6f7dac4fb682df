// Package notify delivers push notifications through the external metadata
// service. Delivery is best effort: failures are logged and reported as a
// boolean, never as an error, so callers can fire and forget.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// PushSender posts push notifications for a user.
type PushSender interface {
	// Send delivers a push with the given title and body; extra keys are
	// merged into the notification payload. Returns true when the upstream
	// accepted the push.
	Send(ctx context.Context, userID, title, body string, extra map[string]any) bool
}

// Pusher sends notifications to {baseURL}/notifications/{userID}/send with a
// bearer token. A Pusher without a token is unconfigured and drops every send.
type Pusher struct {
	hc        *http.Client
	baseURL   string
	authToken string
}

var _ PushSender = (*Pusher)(nil)

// NewPusher builds a Pusher. timeout bounds each delivery attempt.
func NewPusher(baseURL, authToken string, timeout time.Duration) *Pusher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Pusher{
		hc:        &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
	}
}

// IsConfigured reports whether a delivery token is present.
func (p *Pusher) IsConfigured() bool { return p.authToken != "" }

// Send implements PushSender.
func (p *Pusher) Send(ctx context.Context, userID, title, body string, extra map[string]any) bool {
	if !p.IsConfigured() {
		return false
	}

	data := map[string]any{
		"title": title,
		"body":  body,
	}
	for k, v := range extra {
		data[k] = v
	}

	payload, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("push payload marshal failed")
		return false
	}

	endpoint := p.baseURL + "/notifications/" + url.PathEscape(userID) + "/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("push request build failed")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.authToken)

	resp, err := p.hc.Do(req)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("push notification error")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error().Int("status", resp.StatusCode).Str("user_id", userID).Msg("push notification failed")
		return false
	}
	return true
}
