package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPSessionProvider validates bearer credentials against an external
// validation endpoint: POST {"token": ...} answered with
// {"valid": bool, "identity": string}.
type HTTPSessionProvider struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSessionProvider creates a provider for the given endpoint URL.
func NewHTTPSessionProvider(endpoint string) *HTTPSessionProvider {
	return &HTTPSessionProvider{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

func (p *HTTPSessionProvider) ValidateSession(ctx context.Context, token string) (Session, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return Session{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Session{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Session{}, fmt.Errorf("session provider returned status %d", resp.StatusCode)
	}

	var out struct {
		Valid    bool   `json:"valid"`
		Identity string `json:"identity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Session{}, fmt.Errorf("decoding session provider response: %w", err)
	}

	return Session{Valid: out.Valid, Identity: out.Identity}, nil
}

// RejectAllSessions is the provider used when no validation endpoint is
// configured: every credential is reported invalid.
type RejectAllSessions struct{}

func (RejectAllSessions) ValidateSession(context.Context, string) (Session, error) {
	return Session{}, nil
}
