package model

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds OpenAI-compatible client configuration
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// OpenAIClient is an OpenAI-compatible generation client
type OpenAIClient struct {
	client       *openai.Client
	apiKey       string
	defaultModel string
}

// NewOpenAIClient creates a new OpenAI-compatible client
func NewOpenAIClient(cfg *OpenAIConfig) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client:       openai.NewClientWithConfig(clientCfg),
		apiKey:       cfg.APIKey,
		defaultModel: cfg.Model,
	}, nil
}

func (c *OpenAIClient) buildMessages(req *Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if req.Prompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Prompt,
		})
	}
	return msgs
}

// Complete sends a full completion request
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: c.buildMessages(req),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &Response{
		Content:    resp.Choices[0].Message.Content,
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// Stream sends a streaming completion request. Text deltas and
// finish metadata arrive on the same channel.
func (c *OpenAIClient) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: c.buildMessages(req),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("stream start failed: %w", err)
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				ch <- Chunk{Done: true}
				return
			}
			if err != nil {
				ch <- Chunk{Err: fmt.Errorf("stream recv failed: %w", err), Done: true}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			chunk := Chunk{Content: resp.Choices[0].Delta.Content}
			if reason := resp.Choices[0].FinishReason; reason != "" {
				chunk.Meta = map[string]string{"finish_reason": string(reason), "model": resp.Model}
			}
			ch <- chunk
		}
	}()
	return ch, nil
}

// Health checks whether the client is usable
func (c *OpenAIClient) Health() error {
	if c.apiKey == "" {
		return fmt.Errorf("API key is not configured")
	}
	return nil
}
