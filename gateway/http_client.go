package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClientConfig configures a JSON client for a gateway API
type HTTPClientConfig struct {
	Gateway        string
	BaseURL        string
	Timeout        time.Duration
	DefaultHeaders map[string]string
}

// HTTPResponse is a completed gateway response
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// HTTPClient sends JSON requests and classifies failures
type HTTPClient struct {
	config HTTPClientConfig
	client *http.Client
}

// NewHTTPClient creates a client with a 30 second default timeout
func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// SendJSON posts body to endpoint. Transport failures come back as
// connection errors and non-2xx answers as classified errors carrying the
// status code.
func (c *HTTPClient) SendJSON(ctx context.Context, op, method, endpoint string, headers map[string]string, body any) (*HTTPResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, joinURL(c.config.BaseURL, endpoint), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for key, value := range c.config.DefaultHeaders {
		req.Header.Set(key, value)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ConnectionError(c.config.Gateway, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ConnectionError(c.config.Gateway, op, err)
	}

	response := &HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return response, Classify(c.config.Gateway, op, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return response, nil
}

func joinURL(base, endpoint string) string {
	if strings.HasSuffix(base, "/") && strings.HasPrefix(endpoint, "/") {
		return base + endpoint[1:]
	}
	if !strings.HasSuffix(base, "/") && !strings.HasPrefix(endpoint, "/") {
		return base + "/" + endpoint
	}
	return base + endpoint
}
