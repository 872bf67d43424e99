package provider

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

// AnthropicBaseURL is the default messages-API endpoint.
const AnthropicBaseURL = "https://api.anthropic.com"

const anthropicVersion = "2023-06-01"

// AnthropicClient speaks the Anthropic messages wire format.
type AnthropicClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewAnthropicClient creates a messages-API client.
func NewAnthropicClient(baseURL, apiKey string, timeout time.Duration) *AnthropicClient {
	return &AnthropicClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name implements Client.
func (c *AnthropicClient) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Content []anthropicContent `json:"content"`
	Usage   *anthropicUsage    `json:"usage,omitempty"`
}

type anthropicErrorResponse struct {
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate implements Client.
func (c *AnthropicClient) Generate(ctx context.Context, prompt string, cfg GenConfig) (*Response, error) {
	body, err := json.Marshal(&anthropicRequest{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, &FatalError{Provider: c.Name(), Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &FatalError{Provider: c.Name(), Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(c.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(c.Name(), err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicErrorResponse
		if jsonErr := json.Unmarshal(respBody, &errResp); jsonErr == nil && errResp.Error != nil {
			return nil, classifyStatus(c.Name(), resp.StatusCode,
				fmt.Errorf("API error [%d]: %s (type: %s)", resp.StatusCode, errResp.Error.Message, errResp.Error.Type))
		}
		return nil, classifyStatus(c.Name(), resp.StatusCode,
			fmt.Errorf("API error [%d]: %s", resp.StatusCode, string(respBody)))
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &TransientError{Provider: c.Name(), Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}

	var content string
	for _, block := range result.Content {
		if block.Type == "text" {
			content = block.Text
			break
		}
	}

	out := &Response{
		Content: content,
		Model:   result.Model,
		Latency: time.Since(started),
	}
	if result.Usage != nil {
		out.PromptTokens = result.Usage.InputTokens
		out.CompletionTokens = result.Usage.OutputTokens
		out.TotalTokens = result.Usage.InputTokens + result.Usage.OutputTokens
	}
	return out, nil
}
