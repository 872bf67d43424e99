package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// MockClient is an offline backend used for local development and smoke
// tests. Responses are derived from a hash of the prompt, so repeated calls
// are deterministic and benchmark runs against it are reproducible.
type MockClient struct{}

// NewMockClient creates a mock backend.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Name implements Client.
func (m *MockClient) Name() string { return "mock" }

// Generate implements Client.
func (m *MockClient) Generate(ctx context.Context, prompt string, cfg GenConfig) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	content := m.respond(prompt)
	return &Response{
		Content:          content,
		Model:            cfg.Model,
		PromptTokens:     len(prompt) / 4,
		CompletionTokens: len(content) / 4,
		TotalTokens:      (len(prompt) + len(content)) / 4,
		Latency:          time.Millisecond,
	}, nil
}

func (m *MockClient) respond(prompt string) string {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	seed := h.Sum32()

	confidence := 55 + seed%35

	if strings.Contains(prompt, "A or B") {
		choice := "A"
		if seed%4 == 0 {
			choice = "B"
		}
		return fmt.Sprintf("%s\nConfidence: %d\nRationale: cutting the weaker position preserves capital.", choice, confidence)
	}

	actions := []string{"HOLD", "BUY", "SELL", "ABSTAIN"}
	action := actions[seed%uint32(len(actions))]
	target := 120 + seed%80
	return fmt.Sprintf("%s\nPrice target: $%d\nConfidence: %d\nRationale: synthetic response for offline runs.", action, target, confidence)
}
