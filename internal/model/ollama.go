package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaConfig holds Ollama client configuration
type OllamaConfig struct {
	URL          string
	DefaultModel string
}

// OllamaClient is an Ollama generation client
type OllamaClient struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// NewOllamaClient creates a new Ollama client
func NewOllamaClient(cfg *OllamaConfig) (*OllamaClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ollama URL is required")
	}
	return &OllamaClient{
		baseURL:      cfg.URL,
		defaultModel: cfg.DefaultModel,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

// ollamaResponse represents one Ollama API response object. With
// stream=true one arrives per line.
type ollamaResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count"`
}

func (c *OllamaClient) buildPrompt(req *Request) string {
	var sb strings.Builder
	if req.System != "" {
		sb.WriteString(req.System)
		sb.WriteString("\n\n")
	}
	for _, m := range req.Messages {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	sb.WriteString(req.Prompt)
	return sb.String()
}

func (c *OllamaClient) post(ctx context.Context, req *Request, stream bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	body, err := json.Marshal(map[string]interface{}{
		"model":  model,
		"prompt": c.buildPrompt(req),
		"stream": stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/generate", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

// Complete sends a non-streaming generation request
func (c *OllamaClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &Response{
		Content:    parsed.Response,
		Model:      parsed.Model,
		TokensUsed: parsed.EvalCount,
	}, nil
}

// Stream sends a streaming generation request; Ollama emits one JSON
// object per line.
func (c *OllamaClient) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var parsed ollamaResponse
			if err := json.Unmarshal(line, &parsed); err != nil {
				ch <- Chunk{Err: fmt.Errorf("bad stream line: %w", err), Done: true}
				return
			}
			if parsed.Done {
				ch <- Chunk{Content: parsed.Response, Meta: map[string]string{"model": parsed.Model}, Done: true}
				return
			}
			ch <- Chunk{Content: parsed.Response}
		}
		if err := scanner.Err(); err != nil {
			ch <- Chunk{Err: fmt.Errorf("stream read failed: %w", err), Done: true}
			return
		}
		ch <- Chunk{Done: true}
	}()
	return ch, nil
}

// Health checks if Ollama is reachable
func (c *OllamaClient) Health() error {
	url := fmt.Sprintf("%s/api/tags", c.baseURL)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned status %d", resp.StatusCode)
	}
	return nil
}
