// ABOUTME: Checkout session creation against an external payment provider
// ABOUTME: The paid admission path redirects through this provider and trusts the return

package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Session describes a pending paid admission handed to the provider.
type Session struct {
	GatheringID   string
	ParticipantID string
	AmountCents   int64
	Title         string
}

// Provider creates checkout sessions for paid gatherings. Implementations
// return a URL the participant's browser is redirected to; completion is
// signalled by the provider redirecting back to the confirm URL. There is no
// webhook or server-side verification of payment completion.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, s Session) (redirectURL string, err error)
}

// HTTPProvider talks to a checkout endpoint over JSON.
type HTTPProvider struct {
	endpoint   string
	apiKey     string
	confirmURL string
	client     *http.Client
}

var _ Provider = (*HTTPProvider)(nil)

func NewHTTPProvider(endpoint, apiKey, confirmURL string) *HTTPProvider {
	return &HTTPProvider{
		endpoint:   endpoint,
		apiKey:     apiKey,
		confirmURL: confirmURL,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

type checkoutRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
	SuccessURL  string `json:"success_url"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

// CreateCheckoutSession opens a session with the provider and returns the
// hosted checkout URL. The success URL carries the gathering and participant
// ids back to the gateway so the redirect can complete the admission.
func (p *HTTPProvider) CreateCheckoutSession(ctx context.Context, s Session) (string, error) {
	success, err := url.Parse(p.confirmURL)
	if err != nil {
		return "", fmt.Errorf("invalid confirm URL: %w", err)
	}
	q := success.Query()
	q.Set("gatheringId", s.GatheringID)
	q.Set("participantId", s.ParticipantID)
	success.RawQuery = q.Encode()

	body, err := json.Marshal(checkoutRequest{
		AmountCents: s.AmountCents,
		Description: s.Title,
		SuccessURL:  success.String(),
	})
	if err != nil {
		return "", fmt.Errorf("encoding checkout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building checkout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("creating checkout session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("checkout endpoint returned %d: %s", resp.StatusCode, data)
	}

	var out checkoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("parsing checkout response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("checkout endpoint returned no URL")
	}
	return out.URL, nil
}
