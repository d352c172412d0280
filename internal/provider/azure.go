package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"SafeChat/internal/session"

	"go.opentelemetry.io/otel/trace"
)

// AzureRequest represents the request body for Azure OpenAI chat
// completions (OpenAI-compatible schema).
type AzureRequest struct {
	Messages    []map[string]string `json:"messages"`
	Temperature float64             `json:"temperature"`
}

// AzureResponse represents the response from Azure OpenAI chat
// completions.
type AzureResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage map[string]interface{} `json:"usage"`
}

type azureErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// azureClient talks to a managed Azure OpenAI deployment.
type azureClient struct {
	endpoint   string
	apiKey     string
	apiVersion string
	model      string
	http       *http.Client
	tracer     trace.Tracer
}

func (c *azureClient) Generate(ctx context.Context, messages []session.Message, temperature float64) (string, error) {
	ctx, span := c.tracer.Start(ctx, "azure_api_call")
	defer span.End()

	reqMessages := make([]map[string]string, len(messages))
	for i, msg := range messages {
		reqMessages[i] = map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		}
	}

	reqBody := AzureRequest{
		Messages:    reqMessages,
		Temperature: temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, url.PathEscape(c.model), url.QueryEscape(c.apiVersion))

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("content-type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransport(err, VariantAzure)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr azureErrorBody
		_ = json.Unmarshal(body, &apiErr)
		return "", classifyStatus(resp.StatusCode, VariantAzure, truncate(apiErr.Error.Message, 200))
	}

	var apiResp AzureResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(apiResp.Choices) > 0 {
		return apiResp.Choices[0].Message.Content, nil
	}

	return "", newError(KindUnknown, "empty response from azure", nil)
}
