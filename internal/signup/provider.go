package signup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ProviderConfig points at the telephony provider's subscriber-creation
// endpoint. Requests authenticate with HTTP basic auth using the project ID
// and API token pair.
type ProviderConfig struct {
	SubscriberURL string        `env:"PROVIDER_SUBSCRIBER_URL,required"`
	ProjectID     string        `env:"PROVIDER_PROJECT_ID,required"`
	APIToken      string        `env:"PROVIDER_API_TOKEN,required"`
	Timeout       time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"15s"`
}

// SubscriberRequest is the payload forwarded to the provider.
type SubscriberRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Subscriber is the summary of a created subscriber returned to callers.
type Subscriber struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
}

// ProviderError carries a non-2xx provider response. Validation failures
// (status 422) include the provider's error list verbatim so clients can show
// field-level messages.
type ProviderError struct {
	Status  int
	Message string
	Errors  []json.RawMessage
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider returned %d", e.Status)
}

// Provider is the HTTP client for the subscriber-creation endpoint.
type Provider struct {
	cfg  ProviderConfig
	http *http.Client
}

func NewProvider(cfg ProviderConfig) *Provider {
	return &Provider{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type providerResponse struct {
	ID         string `json:"id"`
	CreatedAt  string `json:"created_at"`
	Message    string `json:"message"`
	Subscriber struct {
		Email       string `json:"email"`
		FirstName   string `json:"first_name"`
		LastName    string `json:"last_name"`
		DisplayName string `json:"display_name"`
	} `json:"subscriber"`
	Errors []json.RawMessage `json:"errors"`
}

// CreateSubscriber posts the request to the provider and decodes the created
// subscriber. Non-2xx responses come back as *ProviderError.
func (p *Provider) CreateSubscriber(ctx context.Context, req SubscriberRequest) (*Subscriber, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding subscriber request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.SubscriberURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building subscriber request: %w", err)
	}
	httpReq.SetBasicAuth(p.cfg.ProjectID, p.cfg.APIToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling provider: %w", err)
	}
	defer resp.Body.Close()

	var decoded providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &ProviderError{Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("decoding provider response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, &ProviderError{
			Status:  resp.StatusCode,
			Message: decoded.Message,
			Errors:  decoded.Errors,
		}
	}

	return &Subscriber{
		ID:          decoded.ID,
		Email:       decoded.Subscriber.Email,
		FirstName:   decoded.Subscriber.FirstName,
		LastName:    decoded.Subscriber.LastName,
		DisplayName: decoded.Subscriber.DisplayName,
		CreatedAt:   decoded.CreatedAt,
	}, nil
}
