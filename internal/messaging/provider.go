package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/perchfield/relayq/internal/domain"
)

// Receipt is what the sending channel returns for an accepted message.
type Receipt struct {
	// ProviderMessageID is the channel's identifier for the message.
	// Delivery-receipt callbacks reference it later.
	ProviderMessageID string

	// StatusRaw is the provider's raw status payload, stored verbatim
	// for diagnostics.
	StatusRaw string
}

// ProviderError reports a failed send attempt. Permanent errors mean
// retrying the same send can never succeed (bad recipient, rejected
// content); the message record should be terminalized. Transient errors
// (timeouts, 5xx) are worth retrying.
type ProviderError struct {
	// Permanent is true when retrying cannot help.
	Permanent bool

	// Status is the terminal delivery status a permanent failure maps
	// to, e.g. bounced for a rejected recipient. Zero value means
	// failed.
	Status domain.DeliveryStatus

	// Message describes the failure.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// TerminalStatus returns the delivery status a permanent failure maps to.
func (e *ProviderError) TerminalStatus() domain.DeliveryStatus {
	if e.Status != "" {
		return e.Status
	}
	return domain.DeliveryStatusFailed
}

// Provider abstracts the external channel that physically sends
// messages. Implementations must be safe for concurrent use.
type Provider interface {
	// Send delivers the message through the channel and returns the
	// provider's receipt. Failures are reported as *ProviderError so
	// the caller can distinguish transient from permanent ones.
	Send(ctx context.Context, message *domain.Message) (*Receipt, error)
}

// HTTPProvider sends messages through a JSON-over-HTTP message gateway.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider creates a provider client for the gateway at baseURL.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Ensure HTTPProvider implements Provider interface
var _ Provider = (*HTTPProvider)(nil)

// sendRequest is the gateway's send payload.
type sendRequest struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

// sendResponse is the gateway's accepted-send response.
type sendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// Send implements Provider.Send.
// 4xx responses are permanent (the request itself is unacceptable);
// 5xx responses and transport errors are transient.
func (p *HTTPProvider) Send(ctx context.Context, message *domain.Message) (*Receipt, error) {
	body, err := json.Marshal(sendRequest{
		Channel:   string(message.Channel),
		Recipient: message.Recipient,
		Body:      message.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/messages", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{
			Message: "send request failed",
			Err:     err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ProviderError{
			Message: "failed to read provider response",
			Err:     err,
		}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var accepted sendResponse
		if err := json.Unmarshal(respBody, &accepted); err != nil {
			return nil, &ProviderError{
				Message: "malformed provider response",
				Err:     err,
			}
		}
		return &Receipt{
			ProviderMessageID: accepted.MessageID,
			StatusRaw:         string(respBody),
		}, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &ProviderError{
			Permanent: true,
			Message:   fmt.Sprintf("provider rejected send: %d %s", resp.StatusCode, respBody),
		}

	default:
		return nil, &ProviderError{
			Message: fmt.Sprintf("provider unavailable: %d", resp.StatusCode),
		}
	}
}

// AsProviderError extracts a *ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}
