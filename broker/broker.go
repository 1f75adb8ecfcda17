// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker is the HTTP client for the external message broker,
// the service that relays operator-facing notifications out of the
// daemon. The router guards it with a circuit breaker and treats it as
// a Transport; this package only speaks the wire protocol and
// classifies failures as worth retrying or not.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/warren/lib/netutil"
)

// Message is one notification handed to the broker for delivery.
type Message struct {
	// Target is the destination channel the broker fans out to.
	Target string `json:"target"`

	// Sender identifies the producing container, or "warren" for
	// daemon-originated notices.
	Sender string `json:"sender"`

	// Body is the message text.
	Body string `json:"body"`
}

// BrokerError is a structured error response from the broker service.
// Callers extract it with errors.As to branch on the status code.
type BrokerError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
	// Message is the broker's error description.
	Message string `json:"error"`
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker: %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether err is worth retrying: connection
// failures, HTTP 429, and HTTP 5xx. A 4xx other than 429 means the
// broker understood the request and rejected it; retrying cannot
// change that, so it must not count toward tripping the breaker.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var brokerErr *BrokerError
	if errors.As(err, &brokerErr) {
		if brokerErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		if brokerErr.StatusCode >= 500 {
			return true
		}
		if brokerErr.StatusCode >= 400 {
			return false
		}
	}
	// Connection refused, timeout, EOF: the broker never saw the
	// message.
	return true
}

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the broker service's base URL
	// (e.g., "http://localhost:8200"). Required.
	BaseURL string

	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client
}

// Client speaks the broker's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a broker client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("broker: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("broker: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// Publish delivers one message. A non-2xx response comes back as a
// *BrokerError carrying the status code; a network failure comes back
// wrapped. Both classify through Transient.
func (c *Client) Publish(ctx context.Context, message Message) error {
	encoded, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("broker: encoding message: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/messages", bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("broker: building publish request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("broker: publishing to %q: %w", message.Target, err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	return errorFromResponse(response)
}

// Healthy probes the broker's health endpoint. The circuit breaker
// calls this while open; nil means the broker is accepting traffic.
func (c *Client) Healthy(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/healthz", nil)
	if err != nil {
		return fmt.Errorf("broker: building health request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("broker: health probe: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	return errorFromResponse(response)
}

// errorFromResponse decodes the broker's error shape, falling back to
// the raw body when the response is not JSON.
func errorFromResponse(response *http.Response) error {
	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return &BrokerError{StatusCode: response.StatusCode, Message: "unreadable response body"}
	}

	var brokerErr BrokerError
	if json.Unmarshal(body, &brokerErr) != nil || brokerErr.Message == "" {
		brokerErr.Message = strings.TrimSpace(string(body))
	}
	brokerErr.StatusCode = response.StatusCode
	return &brokerErr
}
