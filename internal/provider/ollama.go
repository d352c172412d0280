package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"SafeChat/internal/session"

	"go.opentelemetry.io/otel/trace"
)

// OllamaRequest represents the request body for the Ollama chat API
type OllamaRequest struct {
	Model       string              `json:"model"`
	Messages    []map[string]string `json:"messages"`
	Stream      bool                `json:"stream"`
	Temperature float64             `json:"temperature,omitempty"`
}

// OllamaResponse represents the response from the Ollama chat API
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

type ollamaErrorBody struct {
	Error string `json:"error"`
}

// ollamaClient talks to a self-hosted Ollama server.
type ollamaClient struct {
	baseURL string
	model   string
	http    *http.Client
	tracer  trace.Tracer
}

func (c *ollamaClient) Generate(ctx context.Context, messages []session.Message, temperature float64) (string, error) {
	ctx, span := c.tracer.Start(ctx, "ollama_api_call")
	defer span.End()

	reqMessages := make([]map[string]string, len(messages))
	for i, msg := range messages {
		reqMessages[i] = map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		}
	}

	reqBody := OllamaRequest{
		Model:       c.model,
		Messages:    reqMessages,
		Stream:      false,
		Temperature: temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransport(err, VariantOllama)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr ollamaErrorBody
		_ = json.Unmarshal(body, &apiErr)
		return "", classifyStatus(resp.StatusCode, VariantOllama, truncate(apiErr.Error, 200))
	}

	var apiResp OllamaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if apiResp.Message.Content == "" {
		return "", newError(KindUnknown, "empty response from ollama", nil)
	}

	return apiResp.Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
