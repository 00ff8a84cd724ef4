package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"cms-assistant-go/internal/config"
)

// OpenAIProvider 是支持语音转写的服务商，对话与模型列表同样可用。
type OpenAIProvider struct {
	client *openai.Client
	cfg    config.OpenAIConfig
}

// NewOpenAIProvider 创建 OpenAI 兼容的服务商。API Key 为空时仍可创建，调用时才会报错。
func NewOpenAIProvider(cfg config.OpenAIConfig, timeout time.Duration) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = openai.Whisper1
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) SendMessage(ctx context.Context, req Request) (*Reply, error) {
	if p.cfg.APIKey == "" {
		return nil, ErrMissingCredentials
	}
	model := req.Model
	if model == "" {
		model = p.cfg.ChatModel
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, convertOpenAIMessage(m))
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, p.translateError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}
	if resp.Model != "" {
		model = resp.Model
	}

	return &Reply{
		Content: resp.Choices[0].Message.Content,
		Model:   model,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// ListModels 返回 /models 的全部结果；该接口一次返回完整列表。
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if p.cfg.APIKey == "" {
		return nil, ErrMissingCredentials
	}
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, p.translateError(err)
	}
	models := make([]ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, ModelInfo{ID: m.ID, DisplayName: m.ID, Provider: p.Name()})
	}
	sortModels(models)
	return models, nil
}

// Transcribe 把一段音频转写为文本。
func (p *OpenAIProvider) Transcribe(ctx context.Context, audio io.Reader, fileName string) (string, error) {
	if p.cfg.APIKey == "" {
		return "", ErrMissingCredentials
	}
	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.cfg.TranscriptionModel,
		Reader:   audio,
		FilePath: fileName,
	})
	if err != nil {
		return "", p.translateError(err)
	}
	return resp.Text, nil
}

// translateError 把 go-openai 的错误转为 *ProviderError，保留服务商的错误类型与信息。
func (p *OpenAIProvider) translateError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		errType := apiErr.Type
		if errType == "" {
			errType = "api_error"
		}
		return &ProviderError{Provider: p.Name(), StatusCode: apiErr.HTTPStatusCode, Type: errType, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &ProviderError{Provider: p.Name(), StatusCode: reqErr.HTTPStatusCode, Type: "request_error", Message: msg}
	}
	return fmt.Errorf("failed to call openai api: %w", err)
}

func convertOpenAIMessage(m Message) openai.ChatCompletionMessage {
	if !m.Content.IsMultimodal() {
		return openai.ChatCompletionMessage{Role: m.Role, Content: m.Content.Text}
	}
	parts := make([]openai.ChatMessagePart, 0, len(m.Content.Blocks))
	for _, b := range m.Content.Blocks {
		if b.Type == BlockImage {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", b.MimeType, b.Data),
					Detail: openai.ImageURLDetailAuto,
				},
			})
			continue
		}
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: b.Text})
	}
	return openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts}
}
