// Package inference provides the HTTP client for the vision + completion
// gateway. The gateway speaks the OpenAI-compatible chat completions API,
// which covers hosted services and local runtimes alike.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/healthcompanion/processor/internal/core"
)

// Options configures the gateway client.
type Options struct {
	// Endpoint is the base URL of the inference service, without a
	// trailing slash.
	Endpoint string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Model is used for all completion calls.
	Model string
	// Timeout bounds a single call. Zero uses a 120s default.
	Timeout time.Duration
	// HTTPClient overrides the default client (useful for tests).
	HTTPClient *http.Client
}

// Client talks to the inference gateway.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	http     *http.Client
}

// NewClient creates a gateway client and validates its options.
func NewClient(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("inference endpoint is required")
	}
	if opts.Model == "" {
		return nil, errors.New("inference model is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		apiKey:   opts.APIKey,
		model:    opts.Model,
		http:     httpClient,
	}, nil
}

const visionSystemPrompt = `You are a visual analysis service. Respond only with a JSON object:
{"caption": "one sentence description", "tags": ["tag", ...], "objects": ["object", ...]}`

// AnalyzeImage runs visual analysis over an image and returns the caption,
// tags and detected objects.
func (c *Client) AnalyzeImage(ctx context.Context, image []byte) (*core.ImageAnalysis, error) {
	content, err := c.chatWithImage(ctx, visionSystemPrompt,
		"Describe this image. List every distinct food item you can identify.", image)
	if err != nil {
		return nil, err
	}

	var analysis core.ImageAnalysis
	if err := json.Unmarshal(extractJSON(content), &analysis); err != nil {
		return nil, fmt.Errorf("parse image analysis: %w", err)
	}
	return &analysis, nil
}

// ExtractText runs OCR over a document image and returns its text.
func (c *Client) ExtractText(ctx context.Context, doc []byte) (string, error) {
	content, err := c.chatWithImage(ctx,
		"You are an OCR service. Transcribe all text from the document exactly. Respond with the text only.",
		"Extract all text from this document.", doc)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// Complete sends a structured completion request and returns the model's
// JSON response document. A response that does not contain a JSON object
// is an error: callers depend on structured output.
func (c *Client) Complete(ctx context.Context, req core.CompletionRequest) (json.RawMessage, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens: req.MaxTokens,
		ResponseFormat: &responseFormat{
			Type: "json_object",
		},
	}
	content, err := c.chat(ctx, payload)
	if err != nil {
		return nil, err
	}

	doc := extractJSON(content)
	if !json.Valid(doc) {
		return nil, fmt.Errorf("completion response is not valid JSON: %q", truncate(content, 200))
	}
	return doc, nil
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role string `json:"role"`
	// Content is either a plain string or a list of content parts.
	Content any `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// chatWithImage sends a multimodal message carrying one inline image.
func (c *Client) chatWithImage(ctx context.Context, system, prompt string, image []byte) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(image)
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{
					URL: "data:image/jpeg;base64," + encoded,
				}},
			}},
		},
	}
	return c.chat(ctx, payload)
}

func (c *Client) chat(ctx context.Context, payload chatRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("inference request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read inference response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("inference service returned %d: %s",
			resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse inference response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("inference service error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("inference response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// extractJSON strips markdown fences and surrounding prose so the first
// JSON object in the content can be decoded. Models occasionally wrap
// structured output despite instructions.
func extractJSON(content string) json.RawMessage {
	s := strings.TrimSpace(content)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = strings.TrimSuffix(strings.TrimSpace(after), "```")
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = strings.TrimSuffix(strings.TrimSpace(after), "```")
	}
	s = strings.TrimSpace(s)

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start != -1 && end > start {
		s = s[start : end+1]
	}
	return json.RawMessage(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
