// =============================================================================
// Convoloop OpenAI-Compatible Provider
// =============================================================================
// Chat-completions client for any OpenAI-compatible endpoint (OpenAI, DeepSeek,
// Gemini's compat layer, local gateways). The orchestration core only needs a
// single-prompt completion, so the request always carries one user message.
// =============================================================================

package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/convoloop/llm"
	"github.com/BaSui01/convoloop/types"
	"go.uber.org/zap"
)

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	// ProviderName is the unique identifier for this provider (e.g. "openai").
	ProviderName string

	// APIKey is the authentication key for the provider's API.
	APIKey string

	// BaseURL is the base URL for the provider's API.
	BaseURL string

	// DefaultModel is the model to use when none is specified in the request.
	DefaultModel string

	// Timeout is the HTTP client timeout. Defaults to 60s if zero.
	Timeout time.Duration

	// EndpointPath is the chat completions endpoint path.
	// Defaults to "/v1/chat/completions".
	EndpointPath string

	// ModelsEndpoint is the models list endpoint path. Defaults to "/v1/models".
	ModelsEndpoint string

	// BuildHeaders is an optional function to set custom headers on each
	// request. If nil, the default "Authorization: Bearer <apiKey>" is used.
	BuildHeaders func(req *http.Request, apiKey string)
}

// Provider is an llm.Provider backed by an OpenAI-compatible chat API.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates a new OpenAI-compatible provider with the given config.
func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "openaicompat: api key is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "openaicompat: base url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openaicompat"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.cfg.ProviderName }

// wire types for the chat completions endpoint

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index   int         `json:"index"`
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// buildHeaders applies headers to the HTTP request.
func (p *Provider) buildHeaders(req *http.Request) {
	if p.cfg.BuildHeaders != nil {
		p.cfg.BuildHeaders(req, p.cfg.APIKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

// endpoint builds the full URL for a given path.
func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

// Complete performs a single-prompt chat completion. A per-request
// Timeout tightens the client-level deadline for this call only.
func (p *Provider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	body := chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.Err(types.ErrUpstreamError, err.Error(), p.Name()).
			WithHTTPStatus(http.StatusBadGateway).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), p.Name())
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, llm.Err(types.ErrUpstreamError, err.Error(), p.Name()).
			WithHTTPStatus(http.StatusBadGateway).WithRetryable(true)
	}
	if len(cr.Choices) == 0 {
		return nil, llm.Err(types.ErrUpstreamError, "empty choices in response", p.Name()).
			WithHTTPStatus(http.StatusBadGateway).WithRetryable(true)
	}

	out := &llm.CompletionResponse{
		Provider: p.Name(),
		Model:    cr.Model,
		Text:     cr.Choices[0].Message.Content,
	}
	if cr.Created != 0 {
		out.CreatedAt = time.Unix(cr.Created, 0)
	}
	return out, nil
}

// HealthCheck verifies the provider is reachable.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(p.cfg.ModelsEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("%s health check failed: status=%d msg=%s", p.Name(), resp.StatusCode, readErrorMessage(resp.Body))
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// readErrorMessage extracts a short error message from an error response body.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &parsed) == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// mapHTTPError converts an upstream HTTP status to a structured error.
func mapHTTPError(status int, msg, provider string) *types.Error {
	var code types.ErrorCode
	retryable := false
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = types.ErrUnauthorized
	case status == http.StatusTooManyRequests:
		code = types.ErrRateLimited
		retryable = true
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		code = types.ErrUpstreamTimeout
		retryable = true
	case status >= 500:
		code = types.ErrUpstreamError
		retryable = true
	default:
		code = types.ErrInvalidRequest
	}
	return llm.Err(code, msg, provider).WithHTTPStatus(status).WithRetryable(retryable)
}

var _ llm.Provider = (*Provider)(nil)
