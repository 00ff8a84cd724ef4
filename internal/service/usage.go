package service

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"cms-assistant-go/internal/config"
	"cms-assistant-go/internal/model"
	"cms-assistant-go/pkg/events"
	"cms-assistant-go/pkg/llm"
	"cms-assistant-go/pkg/log"
)

// UsageReport 是返回给客户端的用量：本次调用的增量加上会话累计与上下文占比。
type UsageReport struct {
	InputTokens       int     `json:"input_tokens"`
	OutputTokens      int     `json:"output_tokens"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	ContextWindow     int     `json:"context_window"`
	ContextPercent    float64 `json:"context_percent"`
}

// UsagePublisher 投递用量事件，由 Kafka 生产者实现。
type UsagePublisher interface {
	Publish(ctx context.Context, evt events.UsageEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, events.UsageEvent) error { return nil }

// NopPublisher 在未配置 Kafka 时使用。
var NopPublisher UsagePublisher = nopPublisher{}

// ContextWindow 返回模型的上下文窗口大小，未知模型使用默认值。
func ContextWindow(cfg config.AIConfig, modelID string) int {
	if w, ok := cfg.ContextWindows[strings.ToLower(modelID)]; ok && w > 0 {
		return w
	}
	if cfg.DefaultContextWindow > 0 {
		return cfg.DefaultContextWindow
	}
	return 100000
}

// ContextPercent 用累计用量计算上下文占比，保留一位小数，最多 100。
func ContextPercent(totals model.UsageTotals, window int) float64 {
	if window <= 0 {
		return 0
	}
	p := float64(totals.InputTokens+totals.OutputTokens) / float64(window) * 100
	p = math.Round(p*10) / 10
	if p > 100 {
		return 100
	}
	return p
}

func newUsageReport(u llm.Usage, totals model.UsageTotals, window int) UsageReport {
	return UsageReport{
		InputTokens:       u.InputTokens,
		OutputTokens:      u.OutputTokens,
		TotalInputTokens:  totals.InputTokens,
		TotalOutputTokens: totals.OutputTokens,
		ContextWindow:     window,
		ContextPercent:    ContextPercent(totals, window),
	}
}

// EstimateTokens 粗略估算消息占用的 token 数（约 4 个字符一个 token）。
func EstimateTokens(msgs []model.Message) int {
	chars := 0
	for _, m := range msgs {
		chars += utf8.RuneCountInString(m.Content)
	}
	return (chars + 3) / 4
}

func publishUsage(p UsagePublisher, userID, conversationID uint, surface, modelID string, u llm.Usage) {
	evt := events.UsageEvent{
		EventID:        uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Surface:        surface,
		Model:          modelID,
		InputTokens:    u.InputTokens,
		OutputTokens:   u.OutputTokens,
		OccurredAt:     time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Publish(ctx, evt); err != nil {
		log.Warnf("[Usage] 投递用量事件失败, conversation: %d, error: %v", conversationID, err)
	}
}
