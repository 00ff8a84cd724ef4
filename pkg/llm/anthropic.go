package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"cms-assistant-go/internal/config"
)

const (
	anthropicVersion  = "2023-06-01"
	anthropicPageSize = 100
)

type anthropicClient struct {
	cfg    config.AnthropicConfig
	client *http.Client
}

// NewAnthropicProvider 创建支持视觉输入的文本模型服务商。timeout 应已经过 ClampTimeout。
func NewAnthropicProvider(cfg config.AnthropicConfig, timeout time.Duration) Provider {
	return &anthropicClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *anthropicClient) Name() string { return "anthropic" }

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicBlock struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Model   string           `json:"model"`
	Content []anthropicBlock `json:"content"`
	Usage   *Usage           `json:"usage"`
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicModelPage struct {
	Data []struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"data"`
	HasMore bool   `json:"has_more"`
	LastID  string `json:"last_id"`
}

func (c *anthropicClient) SendMessage(ctx context.Context, req Request) (*Reply, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrMissingCredentials
	}
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	msgs := mergeAdjacent(req.Messages)
	body := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  make([]anthropicMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		body.Messages = append(body.Messages, anthropicMessage{Role: m.Role, Content: encodeAnthropicContent(m.Content)})
	}

	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal messages request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/v1/messages"), bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create messages request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	var resp anthropicResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	if sb.Len() == 0 || resp.Usage == nil {
		return nil, ErrEmptyResponse
	}
	if resp.Model != "" {
		model = resp.Model
	}
	return &Reply{Content: sb.String(), Model: model, Usage: *resp.Usage}, nil
}

func (c *anthropicClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrMissingCredentials
	}

	var models []ModelInfo
	afterID := ""
	for {
		q := url.Values{}
		q.Set("limit", fmt.Sprint(anthropicPageSize))
		if afterID != "" {
			q.Set("after_id", afterID)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/v1/models")+"?"+q.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create models request: %w", err)
		}
		c.setHeaders(httpReq)

		var page anthropicModelPage
		if err := c.do(httpReq, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Data {
			name := m.DisplayName
			if name == "" {
				name = m.ID
			}
			models = append(models, ModelInfo{ID: m.ID, DisplayName: name, Provider: c.Name()})
		}
		if !page.HasMore || page.LastID == "" || page.LastID == afterID {
			break
		}
		afterID = page.LastID
	}

	sortModels(models)
	return models, nil
}

func (c *anthropicClient) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *anthropicClient) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}

// do 执行请求并把 2xx 响应解码到 out；非 2xx 转为 *ProviderError。
func (c *anthropicClient) do(req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call anthropic api: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read anthropic response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		pe := &ProviderError{Provider: c.Name(), StatusCode: resp.StatusCode, Type: "api_error", Message: resp.Status}
		var eb anthropicErrorBody
		if json.Unmarshal(bodyBytes, &eb) == nil && eb.Error.Message != "" {
			pe.Type = eb.Error.Type
			pe.Message = eb.Error.Message
		}
		return pe
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode anthropic response: %w", err)
	}
	return nil
}

func encodeAnthropicContent(c Content) interface{} {
	if !c.IsMultimodal() {
		return c.Text
	}
	blocks := make([]anthropicBlock, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		switch b.Type {
		case BlockImage:
			blocks = append(blocks, anthropicBlock{
				Type:   BlockImage,
				Source: &anthropicImageSource{Type: "base64", MediaType: b.MimeType, Data: b.Data},
			})
		default:
			blocks = append(blocks, anthropicBlock{Type: BlockText, Text: b.Text})
		}
	}
	return blocks
}

// sortModels 按显示名排序（不区分大小写），显示名相同时按 ID。
func sortModels(models []ModelInfo) {
	sort.SliceStable(models, func(i, j int) bool {
		a, b := strings.ToLower(models[i].DisplayName), strings.ToLower(models[j].DisplayName)
		if a != b {
			return a < b
		}
		return models[i].ID < models[j].ID
	})
}
