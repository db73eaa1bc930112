package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hvacdash/hvacdash/pkg/ingest"
)

// ReadingsPath is the ingest route relative to the server base URL
const ReadingsPath = "/api/v1/readings"

// Transport defines the interface for sending readings
type Transport interface {
	Send(ctx context.Context, samples []ingest.Sample) error
}

// HTTPTransport posts batches to the readings endpoint
type HTTPTransport struct {
	endpoint string
	apiKey   string
	client   *resty.Client
}

// NewHTTP creates a new HTTP transport. endpoint is the full readings URL,
// e.g. http://localhost:8080/api/v1/readings.
func NewHTTP(endpoint, apiKey string) (*HTTPTransport, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	client := resty.New().
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &HTTPTransport{endpoint: endpoint, apiKey: apiKey, client: client}, nil
}

// Send sends samples to the ingest endpoint, split into requests the server accepts.
func (t *HTTPTransport) Send(ctx context.Context, samples []ingest.Sample) error {
	for len(samples) > 0 {
		n := min(len(samples), ingest.MaxReadingsPerRequest)
		if err := t.post(ctx, samples[:n]); err != nil {
			return err
		}
		samples = samples[n:]
	}
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, samples []ingest.Sample) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(ingest.IngestRequest{Readings: samples}).
		Post(t.endpoint)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
