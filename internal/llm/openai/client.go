package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kitbuilder587/genstream/internal/llm"
)

const (
	DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	providerName   = "openai-compat"
)

type Config struct {
	BaseURL string
	// HTTPClient is used for both modes. It should not carry a global
	// Timeout: deadlines come from the attempt context.
	HTTPClient *http.Client
}

type Client struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		client:   cfg.HTTPClient,
		logger:   logger,
	}
}

func (c *Client) Complete(ctx context.Context, apiKey string, req llm.ChatRequest) ([]byte, error) {
	req.Stream = false
	httpReq, err := c.newRequest(ctx, apiKey, req)
	if err != nil {
		return nil, err
	}

	respBody, statusCode, err := llm.DoRequest(c.client, httpReq)
	if err != nil {
		return nil, err
	}

	if statusCode < 200 || statusCode >= 300 {
		return nil, llm.HandleHTTPError(statusCode, respBody, c.logger, providerName)
	}

	return respBody, nil
}

func (c *Client) Stream(ctx context.Context, apiKey string, req llm.ChatRequest) (io.ReadCloser, error) {
	req.Stream = true
	httpReq, err := c.newRequest(ctx, apiKey, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, llm.WrapTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, llm.HandleHTTPError(resp.StatusCode, body, c.logger, providerName)
	}

	return resp.Body, nil
}

func (c *Client) newRequest(ctx context.Context, apiKey string, req llm.ChatRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	if id := llm.RequestIDFrom(ctx); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}
	return httpReq, nil
}

var _ llm.Transport = (*Client)(nil)
