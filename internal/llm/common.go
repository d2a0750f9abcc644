package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// maxErrorBody bounds how much of a non-2xx body ends up in error messages.
const maxErrorBody = 512

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessageContent is either a plain string or an array of parts.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

func TextContent(s string) MessageContent {
	return MessageContent{Text: s}
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = MessageContent{}
		return nil
	}
	if data[0] == '[' {
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = MessageContent{Parts: parts}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = MessageContent{Text: s}
	return nil
}

// String flattens the content. Part texts are joined with newlines, empty
// parts are skipped.
func (c MessageContent) String() string {
	if c.Parts == nil {
		return c.Text
	}
	texts := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

type ChatResponse struct {
	Choices []Choice  `json:"choices"`
	Error   *APIError `json:"error,omitempty"`
}

type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

type GenerationParams struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

func NewChatRequest(p GenerationParams, prompt string, stream bool) ChatRequest {
	return ChatRequest{
		Model: p.Model,
		Messages: []Message{
			{Role: "user", Content: TextContent(prompt)},
		},
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Stream:      stream,
	}
}

func HandleHTTPError(statusCode int, body []byte, logger *zap.Logger, provider string) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}

	var cause error
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		cause = ErrAuthFailed
	case http.StatusTooManyRequests:
		cause = ErrRateLimit
	default:
		cause = ErrRequestFailed
		logger.Error(provider+" request failed",
			zap.Int("status", statusCode),
			zap.String("body", msg),
		)
	}
	return &Error{Kind: KindTransport, StatusCode: statusCode, Message: msg, Cause: cause}
}

func ParseChatResponse(body []byte) (*ChatResponse, error) {
	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Kind: KindProtocol, Message: "unmarshal response", Cause: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	return &resp, nil
}

func ExtractContent(resp *ChatResponse) (string, error) {
	if resp.Error != nil && resp.Error.Message != "" {
		return "", &Error{Kind: KindTransport, Message: resp.Error.Message, Cause: ErrRequestFailed}
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := resp.Choices[0].Message.Content.String()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func DoRequest(client *http.Client, req *http.Request) ([]byte, int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, WrapTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, WrapTransportError(fmt.Errorf("read response: %w", err))
	}

	return body, resp.StatusCode, nil
}

type requestIDKey struct{}

// WithRequestID tags ctx with the logical request id sent on every attempt.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishOther  FinishReason = "other"
)

// ClassifyFinish maps a provider finish_reason onto stop/length/other.
// An empty reason stays empty.
func ClassifyFinish(raw string) FinishReason {
	switch raw {
	case "":
		return ""
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	}
	return FinishOther
}
