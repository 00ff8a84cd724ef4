package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"

	"cms-assistant-go/internal/apperr"
)

// EditorMode 是页面生成器的编辑模式。
type EditorMode string

const (
	EditorHTML     EditorMode = "html"
	EditorElements EditorMode = "elements"
)

// GeneratedElement 是元素模式下页面中的一个区块。
type GeneratedElement struct {
	Element   string                 `json:"element"`
	Overrides map[string]interface{} `json:"overrides,omitempty"`
}

// GeneratedPage 是生成阶段解析出的结构化页面。
type GeneratedPage struct {
	Title        string                 `json:"title"`
	Slug         string                 `json:"slug"`
	Body         string                 `json:"body,omitempty"`
	Elements     []GeneratedElement     `json:"elements,omitempty"`
	CustomFields map[string]interface{} `json:"custom_fields,omitempty"`
}

var (
	fencePattern   = regexp.MustCompile("(?s)^```[a-zA-Z0-9_-]*\\s*\\n?(.*?)\\n?\\s*```$")
	nonSlugPattern = regexp.MustCompile(`[^a-z0-9]+`)
)

// StripCodeFences 去掉回复外层的 ``` 代码块标记。
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// Slugify 小写化，把连续的非字母数字字符替换为一个连字符，并去掉首尾连字符。
func Slugify(title string) string {
	return strings.Trim(nonSlugPattern.ReplaceAllString(strings.ToLower(title), "-"), "-")
}

// ParseGeneration 把模型的回复解析为 GeneratedPage。
// 回复必须是单个 JSON 对象；失败时返回 GenerationParse 错误。
func ParseGeneration(raw string, mode EditorMode) (*GeneratedPage, error) {
	text := StripCodeFences(raw)
	if !strings.HasPrefix(text, "{") {
		return nil, apperr.GenerationParse("回复不是 JSON 对象", nil)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	var page GeneratedPage
	if err := dec.Decode(&page); err != nil {
		return nil, apperr.GenerationParse("回复不是合法的 JSON", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, apperr.GenerationParse("JSON 对象之后还有多余内容", nil)
	}

	page.Title = strings.TrimSpace(page.Title)
	if page.Title == "" {
		return nil, apperr.GenerationParse("缺少 title", nil)
	}
	switch mode {
	case EditorElements:
		if len(page.Elements) == 0 && strings.TrimSpace(page.Body) == "" {
			return nil, apperr.GenerationParse("缺少 elements 或 body", nil)
		}
	default:
		if strings.TrimSpace(page.Body) == "" {
			return nil, apperr.GenerationParse("缺少 body", nil)
		}
	}

	page.Slug = Slugify(page.Slug)
	if page.Slug == "" {
		page.Slug = Slugify(page.Title)
	}
	return &page, nil
}
