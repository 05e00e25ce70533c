// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package openai adapts the go-openai chat completion API to the transport
// contract. Each call is a single attempt: failures are normalized and
// returned to the caller without retrying.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"github.com/your-org/infra-advisor/internal/transport"
	"go.uber.org/zap"
)

const (
	// DefaultModel is used when no model is configured
	DefaultModel = openai.GPT4oMini
	// previewLength bounds message previews written to the log
	previewLength = 100
)

// Config holds the settings of the chat client
type Config struct {
	APIKey      string
	Endpoint    string
	Model       string
	MaxTokens   int
	Temperature float32
	HTTPClient  *http.Client
}

// Client talks to an OpenAI-compatible chat completion endpoint
type Client struct {
	client      *openai.Client
	logger      *zap.Logger
	model       string
	maxTokens   int
	temperature float32
}

var _ transport.Transport = (*Client)(nil)

// NewClient creates a chat client. The API key is mandatory.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		oc.BaseURL = cfg.Endpoint
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	logger.Info("Chat client initialized",
		zap.String("model", model),
		zap.String("endpoint", oc.BaseURL),
	)

	return &Client{
		client:      openai.NewClientWithConfig(oc),
		logger:      logger,
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.model
}

// Start opens a conversation with prompt as its first message
func (c *Client) Start(ctx context.Context, prompt string) (transport.Session, string, error) {
	history := []transport.Message{{Role: transport.RoleUser, Content: prompt}}

	reply, err := c.complete(ctx, transport.OpStart, history)
	if err != nil {
		msg := "An unknown error occurred while starting the chat with the AI."
		if detail := err.Error(); detail != "" {
			msg = "An error occurred while starting the chat with the AI: " + detail
		}
		return transport.Session{}, "", transport.NewError(transport.OpStart, msg, err)
	}

	session := transport.Session{
		ID:      uuid.NewString(),
		Model:   c.model,
		History: append(history, transport.Message{Role: transport.RoleModel, Content: reply}),
	}

	c.logger.Info("Chat session started",
		zap.String("chat_session_id", session.ID),
		zap.Int("reply_length", len(reply)),
	)

	return session, reply, nil
}

// Continue sends a follow-up message through an open session
func (c *Client) Continue(ctx context.Context, session *transport.Session, message string) (string, error) {
	if session == nil || len(session.History) == 0 {
		return "", transport.NewError(transport.OpFollowUp, "There is no open chat session.", nil)
	}

	history := make([]transport.Message, len(session.History), len(session.History)+2)
	copy(history, session.History)
	history = append(history, transport.Message{Role: transport.RoleUser, Content: message})

	reply, err := c.complete(ctx, transport.OpFollowUp, history)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "An unknown error occurred while sending the message to the AI."
		}
		return "", transport.NewError(transport.OpFollowUp, msg, err)
	}

	session.History = append(history, transport.Message{Role: transport.RoleModel, Content: reply})

	c.logger.Debug("Follow-up answered",
		zap.String("chat_session_id", session.ID),
		zap.Int("history_length", len(session.History)),
	)

	return reply, nil
}

// complete sends the history as one chat completion request
func (c *Client) complete(ctx context.Context, op string, history []transport.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toChatMessages(history),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	c.logger.Debug("Creating chat completion",
		zap.String("operation", op),
		zap.String("model", c.model),
		zap.Int("message_count", len(req.Messages)),
		zap.String("last_message_preview", truncateText(history[len(history)-1].Content, previewLength)),
	)

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		err = c.handleAPIError(err)
		c.logger.Error("Chat completion failed",
			zap.String("operation", op),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned by the model")
	}

	c.logger.Debug("Chat completion successful",
		zap.String("operation", op),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("latency", time.Since(start)),
	)

	return resp.Choices[0].Message.Content, nil
}

// handleAPIError turns provider errors into plain errors with readable messages
func (c *Client) handleAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized:
			return fmt.Errorf("invalid API key or unauthorized access: %s", apiErr.Message)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("rate limited by the model provider: %s", apiErr.Message)
		case apiErr.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("model provider unavailable (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
		default:
			return fmt.Errorf("model provider error (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("request to the model provider failed (status %d): %w", reqErr.HTTPStatusCode, reqErr.Err)
	}

	return err
}

func toChatMessages(history []transport.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(history))
	for i, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == transport.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}

// truncateText keeps the first maxLength runes of text for logging
func truncateText(text string, maxLength int) string {
	if utf8.RuneCountInString(text) <= maxLength {
		return text
	}
	return string([]rune(text)[:maxLength]) + "..."
}
