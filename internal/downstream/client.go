// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package downstream is the HTTP client for the metered Web3 data API.
//
// Every endpoint is a JSON POST to {base}/{endpoint} authenticated with an
// "apikey" header. Responses use the envelope {result, message, data}, where
// result 200 means success. HTTP-level failures become *APIError; envelope
// failures become a Response with Success=false.
package downstream

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/rootgate/internal/model"
)

// Configuration constants for the data API.
const (
	// DefaultBaseURL is the base URL for the data API.
	DefaultBaseURL = "https://api.rootdata.com/open"

	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts for transient errors.
	DefaultMaxRetries = 3

	// DefaultRetryBaseDelay is the base delay for exponential backoff.
	DefaultRetryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay caps the backoff delay.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024

	resultOK = 200
)

// errTransport marks connection-level failures, which are retried.
var errTransport = errors.New("transport failure")

// DefaultCosts is the credits charged per successful call by endpoint.
var DefaultCosts = map[string]int{
	"ser_inv":       0,
	"get_item":      2,
	"get_org":       2,
	"get_people":    2,
	"quotacredits":  0,
	"get_fac":       2,
	"ecosystem_map": 50,
	"hot_index":     10,
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	APIKey         string
	Language       string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	// Strict turns payload validation warnings into ErrValidation.
	Strict bool
	// Costs overrides DefaultCosts per endpoint.
	Costs map[string]int
	// HTTPClient replaces the default pooled client.
	HTTPClient *http.Client
}

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	Result  int             `json:"result"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client implements model.Executor over HTTP.
type Client struct {
	apiKey     string
	baseURL    string
	language   string
	httpClient *http.Client
	maxRetries int
	retryBase  time.Duration
	strict     bool
	costs      map[string]int
}

var _ model.Executor = (*Client)(nil)

// New creates a Client.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if opts.Language == "" {
		opts.Language = "en"
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	costs := make(map[string]int, len(DefaultCosts)+len(opts.Costs))
	for k, v := range DefaultCosts {
		costs[k] = v
	}
	for k, v := range opts.Costs {
		costs[k] = v
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		language:   opts.Language,
		httpClient: httpClient,
		maxRetries: opts.MaxRetries,
		retryBase:  opts.RetryBaseDelay,
		strict:     opts.Strict,
		costs:      costs,
	}
}

// IsConfigured returns true if the client has an API key configured.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// KeyFingerprint returns a short hash of the API key for logs.
func (c *Client) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// Cost returns the credits charged for one successful call to endpoint.
func (c *Client) Cost(endpoint string) int {
	return c.costs[endpoint]
}

// Execute implements model.Executor. Transient failures (429, 5xx,
// transport errors) are retried with exponential backoff.
func (c *Client) Execute(ctx context.Context, endpointID string, params map[string]any) (*model.Response, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if endpointID == "" {
		return nil, errors.New("downstream: empty endpoint")
	}

	body, err := json.Marshal(nonNil(params))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	lang := c.headerLanguage(params)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		env, err := c.doRequest(ctx, endpointID, lang, body)
		if err != nil {
			if c.isRetryable(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return c.toResponse(endpointID, env)
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, endpointID, lang string, body []byte) (*envelope, error) {
	url := c.baseURL + "/" + endpointID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("language", lang)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "rootgate/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	req.Header.Del("apikey")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w: %w", errTransport, err)
	}
	defer resp.Body.Close()
	log.Printf("DOWNSTREAM_RESPONSE | endpoint=%s status=%d duration=%s", endpointID, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	raw, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, handleErrorResponse(resp.StatusCode, raw)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &APIError{Status: resp.StatusCode, Code: CodeBadResponse, Message: fmt.Sprintf("invalid envelope: %v", err)}
	}
	return &env, nil
}

func (c *Client) toResponse(endpointID string, env *envelope) (*model.Response, error) {
	if env.Result != resultOK {
		log.Printf("DOWNSTREAM_SOFT_FAILURE | endpoint=%s result=%d message=%q", endpointID, env.Result, env.Message)
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("result %d", env.Result)
		}
		return &model.Response{Success: false, Error: msg}, nil
	}

	var data any
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, &APIError{Status: http.StatusOK, Code: CodeBadResponse, Message: fmt.Sprintf("invalid data: %v", err)}
		}
	}

	if warning := Validate(endpointID, data); warning != nil {
		if c.strict {
			return nil, fmt.Errorf("%w: %v", ErrValidation, warning)
		}
		log.Printf("VALIDATION_WARNING | endpoint=%s problem=%q", endpointID, warning.Problem)
	}

	return &model.Response{
		Success:         true,
		Data:            data,
		CreditsConsumed: c.costs[endpointID],
	}, nil
}

// headerLanguage maps the call's language onto the API's header values.
func (c *Client) headerLanguage(params map[string]any) string {
	lang := c.language
	if v, ok := params["language"].(string); ok && v != "" {
		lang = v
	}
	if strings.HasPrefix(strings.ToLower(lang), "zh") || lang == "cn" {
		return "cn"
	}
	return "en"
}

// readResponse reads the response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts an HTTP error status into an *APIError,
// using the envelope message when the body carries one.
func handleErrorResponse(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		msg = env.Message
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Code: codeForStatus(status), Message: msg}
}

// isRetryable determines if an error should trigger a retry.
func (c *Client) isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return errors.Is(err, errTransport)
}

// calculateBackoff returns the delay to wait before the next retry.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := c.retryBase * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

func nonNil(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return params
}
