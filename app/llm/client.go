package llm

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

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

func NewClient(endpoint, model, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *Client) Model() string {
	return c.model
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Chat sends one system+user exchange and returns the assistant's reply.
func (c *Client) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.endpoint == "" || c.model == "" {
		return "", newError(CodeRequestFailed, 0, fmt.Errorf("llm client misconfigured"))
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", newError(CodeRequestFailed, 0, fmt.Errorf("marshal chat payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", newError(CodeRequestFailed, 0, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", newError(CodeRequestFailed, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", newError(CodeRequestFailed, resp.StatusCode,
			fmt.Errorf("llm error %s: %s", resp.Status, strings.TrimSpace(string(payload))))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", newError(CodeBadResponse, 0, fmt.Errorf("decode response: %w", err))
	}

	if len(parsed.Choices) == 0 {
		return "", newError(CodeBadResponse, 0, fmt.Errorf("response has no choices"))
	}

	choice := parsed.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", newError(CodeRefused, 0, fmt.Errorf("model refused the request"))
	}

	reply := strings.TrimSpace(choice.Message.Content)
	if reply == "" {
		return "", newError(CodeBadResponse, 0, fmt.Errorf("response content is empty"))
	}

	return reply, nil
}

// extractJSON strips markdown code fences that models wrap around JSON
// payloads despite instructions not to.
func extractJSON(reply string) string {
	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(reply, "```") {
		reply = strings.TrimPrefix(reply, "```json")
		reply = strings.TrimPrefix(reply, "```")
		reply = strings.TrimSuffix(reply, "```")
		reply = strings.TrimSpace(reply)
	}
	return reply
}
