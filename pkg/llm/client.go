// Package llm provides a vendor-agnostic client for interacting with Large Language Models.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// 角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// 超时的安全范围（秒）
const (
	MinTimeoutSeconds = 10
	MaxTimeoutSeconds = 300
)

var (
	// ErrMissingCredentials 表示服务商未配置 API Key。
	ErrMissingCredentials = errors.New("llm: missing api credentials")
	// ErrEmptyResponse 表示响应中缺少预期的内容字段。
	ErrEmptyResponse = errors.New("llm: response has no content")
)

// ProviderError 是服务商返回的非 2xx 响应，保留了服务商自己的错误类型和信息。
type ProviderError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s api error (status %d, %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
}

// Provider 定义了所有模型服务商的统一能力。
type Provider interface {
	Name() string
	// SendMessage 发送消息历史与系统提示，返回生成文本与本次调用的 token 用量。
	SendMessage(ctx context.Context, req Request) (*Reply, error)
	// ListModels 分页拉取全部可用模型，按显示名（不区分大小写）排序。
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Transcriber 是支持语音转写的服务商额外具备的能力。
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, fileName string) (string, error)
}

// Request 是一次对话调用的输入。
type Request struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
}

// Reply 是一次对话调用的输出。
type Reply struct {
	Content string
	Model   string
	Usage   Usage
}

// Usage 是单次调用的 token 用量。
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ModelInfo 描述一个可用模型。
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Provider    string `json:"provider"`
}

// Message 表示一条角色消息。
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// 内容块类型
const (
	BlockText  = "text"
	BlockImage = "image"
)

// Block 是多模态消息中的一个内容块：文本块或 base64 图片块。
type Block struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
}

// TextBlock 构造一个文本块。
func TextBlock(text string) Block { return Block{Type: BlockText, Text: text} }

// ImageBlock 构造一个 base64 图片块。
func ImageBlock(mimeType, base64Data string) Block {
	return Block{Type: BlockImage, MimeType: mimeType, Data: base64Data}
}

// Content 是消息内容：纯文本，或有序的内容块列表（仅带图片的 user 消息使用）。
type Content struct {
	Text   string
	Blocks []Block
}

// Text 构造纯文本内容。
func Text(s string) Content { return Content{Text: s} }

// Blocks 构造内容块列表。
func Blocks(blocks ...Block) Content { return Content{Blocks: blocks} }

// IsMultimodal 判断内容是否为内容块列表。
func (c Content) IsMultimodal() bool { return len(c.Blocks) > 0 }

// PlainText 返回内容中的全部文本，图片块被忽略。
func (c Content) PlainText() string {
	if !c.IsMultimodal() {
		return c.Text
	}
	var out string
	for _, b := range c.Blocks {
		if b.Type != BlockText {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += b.Text
	}
	return out
}

// HasImages 判断内容中是否含有图片块。
func (c Content) HasImages() bool {
	for _, b := range c.Blocks {
		if b.Type == BlockImage {
			return true
		}
	}
	return false
}

// MarshalJSON 纯文本编码为 JSON 字符串，内容块编码为数组。
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsMultimodal() {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON 同时接受字符串与内容块数组两种形式。
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Content{Text: s}
		return nil
	}
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or a block list: %w", err)
	}
	*c = Content{Blocks: blocks}
	return nil
}

// ClampTimeout 把配置的超时秒数限制在安全范围内。
func ClampTimeout(seconds int) time.Duration {
	if seconds < MinTimeoutSeconds {
		seconds = MinTimeoutSeconds
	}
	if seconds > MaxTimeoutSeconds {
		seconds = MaxTimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

// mergeAdjacent 合并相邻的同角色消息。压缩后的摘要消息之后可能紧跟一条 user 消息，
// 而部分服务商要求 user/assistant 严格交替。
func mergeAdjacent(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		n := len(out)
		if n == 0 || out[n-1].Role != m.Role {
			out = append(out, m)
			continue
		}
		prev := out[n-1].Content
		if !prev.IsMultimodal() && !m.Content.IsMultimodal() {
			out[n-1].Content = Text(prev.Text + "\n\n" + m.Content.Text)
			continue
		}
		out[n-1].Content = Blocks(append(toBlocks(prev), toBlocks(m.Content)...)...)
	}
	return out
}

func toBlocks(c Content) []Block {
	if c.IsMultimodal() {
		return append([]Block(nil), c.Blocks...)
	}
	return []Block{TextBlock(c.Text)}
}
