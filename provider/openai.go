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

// Default endpoints for the OpenAI-compatible backends. Groq, Together and
// NVIDIA all speak the same chat-completions dialect, so one client covers
// them with an endpoint and credential swap.
const (
	OpenAIBaseURL   = "https://api.openai.com"
	GroqBaseURL     = "https://api.groq.com/openai"
	TogetherBaseURL = "https://api.together.xyz"
	NvidiaBaseURL   = "https://integrate.api.nvidia.com"
)

// OpenAIClient speaks the OpenAI chat-completions wire format.
type OpenAIClient struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAIClient creates a chat-completions client. name labels the backend
// variant (openai, groq, together, nvidia) in errors and metrics.
func NewOpenAIClient(name, baseURL, apiKey string, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{
		name:       name,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name implements Client.
func (c *OpenAIClient) Name() string { return c.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}

type apiErrorResponse struct {
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, cfg GenConfig) (*Response, error) {
	temp := cfg.Temperature
	maxTokens := cfg.MaxTokens
	body, err := json.Marshal(&chatCompletionRequest{
		Model:       cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return nil, &FatalError{Provider: c.name, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &FatalError{Provider: c.name, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(c.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp apiErrorResponse
		if jsonErr := json.Unmarshal(respBody, &errResp); jsonErr == nil && errResp.Error != nil {
			return nil, classifyStatus(c.name, resp.StatusCode,
				fmt.Errorf("API error [%d]: %s (type: %s)", resp.StatusCode, errResp.Error.Message, errResp.Error.Type))
		}
		return nil, classifyStatus(c.name, resp.StatusCode,
			fmt.Errorf("API error [%d]: %s", resp.StatusCode, string(respBody)))
	}

	var result chatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &TransientError{Provider: c.name, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	if len(result.Choices) == 0 || result.Choices[0].Message == nil {
		return nil, &TransientError{Provider: c.name, Err: fmt.Errorf("response carried no choices")}
	}

	out := &Response{
		Content: result.Choices[0].Message.Content,
		Model:   result.Model,
		Latency: time.Since(started),
	}
	if result.Usage != nil {
		out.PromptTokens = result.Usage.PromptTokens
		out.CompletionTokens = result.Usage.CompletionTokens
		out.TotalTokens = result.Usage.TotalTokens
	}
	return out, nil
}
