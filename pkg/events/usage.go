// Package events defines the messages that are sent to Kafka.
package events

import "time"

// 用量事件的来源
const (
	SurfaceContentAssistant = "content_assistant"
	SurfaceElementAssistant = "element_assistant"
	SurfacePageGenerator    = "page_generator"
	SurfaceCompaction       = "compaction"
)

// UsageEvent 记录一次模型调用的 token 用量，每个 assistant 回合发送一条。
type UsageEvent struct {
	EventID        string    `json:"event_id"`
	UserID         uint      `json:"user_id"`
	ConversationID uint      `json:"conversation_id"`
	Surface        string    `json:"surface"`
	Model          string    `json:"model"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	OccurredAt     time.Time `json:"occurred_at"`
}
