package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	envOpenAIAPIKey    = "OPENAI_API_KEY"
	envOpenAIModel     = "OPENAI_MODEL"
	defaultOpenAIModel = "gpt-4o-mini"

	openAIAPIURL = "https://api.openai.com/v1/chat/completions"
)

type openAIClient struct {
	apiKey string
	model  string
	http   *http.Client
	logger zerolog.Logger
}

func NewOpenAI(logger zerolog.Logger) (Client, error) {
	key := strings.TrimSpace(os.Getenv(envOpenAIAPIKey))
	if key == "" {
		return nil, fmt.Errorf("missing %s", envOpenAIAPIKey)
	}
	model := strings.TrimSpace(os.Getenv(envOpenAIModel))
	if model == "" {
		model = defaultOpenAIModel
	}
	model = strings.Trim(model, "\"'")
	return &openAIClient{
		apiKey: key,
		model:  model,
		http:   &http.Client{Timeout: requestTimeout},
		logger: logger.With().Str("component", "llm-openai").Logger(),
	}, nil
}

func (c *openAIClient) Name() string { return c.model }

func (c *openAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("no messages")
	}
	clampRequest(&req, c.logger)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		messages := make([]openAIMessage, 0, len(req.Messages)+1)
		if req.System != "" {
			messages = append(messages, openAIMessage{Role: "system", Content: req.System})
		}
		for _, m := range req.Messages {
			messages = append(messages, openAIMessage{Role: m.Role, Content: m.Content})
		}

		payload := openAIPayload{
			Model:       c.model,
			Messages:    messages,
			Temperature: float64(req.Temperature),
			MaxTokens:   maxTokensOr(req.MaxTokens),
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return Response{}, fmt.Errorf("marshal payload: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIAPIURL, bytes.NewReader(body))
		if err != nil {
			return Response{}, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		var apiResp openAIResponse
		if err := json.Unmarshal(data, &apiResp); err != nil && resp.StatusCode < 400 {
			lastErr = fmt.Errorf("parse response: %w", err)
			continue
		}

		if resp.StatusCode >= 400 {
			msg := string(data)
			if apiResp.Error != nil && apiResp.Error.Message != "" {
				msg = apiResp.Error.Message
			} else if len(msg) > 500 {
				msg = msg[:500] + "..."
			}
			lastErr = fmt.Errorf("openai %d: %s", resp.StatusCode, msg)
			c.logger.Error().
				Int("status", resp.StatusCode).
				Int("attempt", attempt).
				Msg("OpenAI API error")
			if resp.StatusCode == 429 || resp.StatusCode >= 500 {
				continue
			}
			return Response{}, lastErr
		}

		if len(apiResp.Choices) == 0 {
			return Response{}, errors.New("no choices in response")
		}
		text := apiResp.Choices[0].Message.Content
		if text == "" {
			return Response{}, errors.New("empty response content")
		}
		return Response{Text: text}, nil
	}

	return Response{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

type openAIPayload struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}
