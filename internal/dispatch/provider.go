package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ProviderError is a non-2xx response from the telephony/messaging provider.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Transient reports whether the attempt is worth repeating on a later tick.
func (e *ProviderError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// CredentialRejected reports a campaign-fatal condition: the sender identity
// or API key was refused before any per-recipient processing.
func (e *ProviderError) CredentialRejected() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// OriginateRequest asks the telephony provider to place an outbound call.
type OriginateRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	PromptRef string `json:"prompt_ref"`
	ClientRef string `json:"client_ref"`
}

// SendRequest asks the messaging provider to deliver a single message.
type SendRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
	ClientRef string `json:"client_ref"`
}

// CallClient wraps the telephony provider's call origination endpoint.
type CallClient interface {
	Originate(ctx context.Context, req OriginateRequest) (string, error)
}

// MessageClient wraps the messaging provider's send endpoint. It serves both
// SMS and WhatsApp; WhatsApp addresses are channel-prefixed by the caller.
type MessageClient interface {
	Send(ctx context.Context, req SendRequest) (string, error)
}

type HTTPCallClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPCallClient(baseURL, apiKey string) *HTTPCallClient {
	return &HTTPCallClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPCallClient) Originate(ctx context.Context, req OriginateRequest) (string, error) {
	var resp struct {
		CallID string `json:"call_id"`
	}
	if err := postJSON(ctx, c.Client, c.BaseURL+"/v1/calls", c.APIKey, req, &resp); err != nil {
		return "", err
	}
	return resp.CallID, nil
}

type HTTPMessageClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPMessageClient(baseURL, apiKey string) *HTTPMessageClient {
	return &HTTPMessageClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPMessageClient) Send(ctx context.Context, req SendRequest) (string, error) {
	var resp struct {
		MessageID string `json:"message_id"`
	}
	if err := postJSON(ctx, c.Client, c.BaseURL+"/v1/messages", c.APIKey, req, &resp); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

func postJSON(ctx context.Context, client *http.Client, url, apiKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		provErr := &ProviderError{StatusCode: resp.StatusCode}
		var detail struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&detail); err == nil {
			provErr.Code = detail.Code
			provErr.Message = detail.Message
		}
		return provErr
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

var _ CallClient = (*HTTPCallClient)(nil)
var _ MessageClient = (*HTTPMessageClient)(nil)
