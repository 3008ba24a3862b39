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

	"ProposalTracker/internal/config"
	"ProposalTracker/internal/infrastructure/webclient"
	"ProposalTracker/internal/ports"
)

const maxErrorBody = 1024

// ChatGPTClient implements ports.ChatClient backed by OpenAI-compatible APIs.
type ChatGPTClient struct {
	endpoint   string
	model      string
	apiKey     string
	attempts   int
	httpClient *http.Client
}

var _ ports.ChatClient = (*ChatGPTClient)(nil)

// NewChatGPTClient builds a client from configuration; nil when no API key is set.
func NewChatGPTClient(cfg config.ClassifierConfig) *ChatGPTClient {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	return &ChatGPTClient{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		attempts:   2,
		httpClient: webclient.NewDefault(cfg.Timeout.Std()),
	}
}

// Complete posts a system and a user message and returns the first choice's content.
func (c *ChatGPTClient) Complete(ctx context.Context, system, user string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("chatgpt client is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return "", fmt.Errorf("chatgpt client misconfigured")
	}

	body, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chatgpt payload: %w", err)
	}

	res, err := webclient.DoWithRetry(ctx, c.attempts, time.Second, func() (webclient.Result, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return webclient.Result{}, fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return webclient.Result{}, fmt.Errorf("send completion: %w", err)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return webclient.Result{Status: resp.StatusCode}, fmt.Errorf("read completion: %w", err)
		}
		return webclient.Result{
			Status:     resp.StatusCode,
			Body:       payload,
			RetryAfter: webclient.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}, nil
	})
	if err != nil {
		return "", err
	}

	if res.Status >= http.StatusBadRequest {
		snippet := res.Body
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return "", fmt.Errorf("chatgpt error %d: %s", res.Status, strings.TrimSpace(string(snippet)))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(res.Body, &result); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in completion")
	}
	return result.Choices[0].Message.Content, nil
}
