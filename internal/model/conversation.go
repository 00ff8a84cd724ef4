// Package model 包含了应用的数据模型定义。
package model

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Scope 是会话解析的作用域键：内容项、元素，或两者皆无（独立的创作会话）。
type Scope struct {
	ContentID *uint
	ElementID *uint
}

// NoScope 表示不绑定任何内容或元素的作用域。
var NoScope = Scope{}

// ContentScope 返回绑定到某个内容项的作用域。
func ContentScope(id uint) Scope { return Scope{ContentID: &id} }

// ElementScope 返回绑定到某个元素的作用域。
func ElementScope(id uint) Scope { return Scope{ElementID: &id} }

// Conversation 对应 ai_conversations 表。
// 累计用量作为聚合列与每次消息插入在同一事务中更新。
type Conversation struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"index:idx_conv_scope,priority:1;not null" json:"userId"`
	ContentID         *uint     `gorm:"index:idx_conv_scope,priority:2" json:"contentId,omitempty"`
	ElementID         *uint     `gorm:"index:idx_conv_scope,priority:3" json:"elementId,omitempty"`
	Title             *string   `gorm:"type:varchar(255)" json:"title,omitempty"`
	TotalInputTokens  int64     `gorm:"not null;default:0" json:"totalInputTokens"`
	TotalOutputTokens int64     `gorm:"not null;default:0" json:"totalOutputTokens"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time `gorm:"index" json:"updatedAt"`
}

func (Conversation) TableName() string {
	return "ai_conversations"
}

// Scope 返回会话所属的作用域。
func (c *Conversation) Scope() Scope {
	return Scope{ContentID: c.ContentID, ElementID: c.ElementID}
}

// Totals 返回会话当前的累计用量。
func (c *Conversation) Totals() UsageTotals {
	return UsageTotals{InputTokens: c.TotalInputTokens, OutputTokens: c.TotalOutputTokens}
}

// Message 对应 ai_messages 表，一行即一条不可变的消息记录。
// (conversation_id, sequence) 唯一，保证并发追加不会互相覆盖。
type Message struct {
	ID             uint           `gorm:"primaryKey" json:"-"`
	ConversationID uint           `gorm:"uniqueIndex:idx_msg_conv_seq,priority:1;not null" json:"-"`
	Sequence       int            `gorm:"uniqueIndex:idx_msg_conv_seq,priority:2;not null" json:"-"`
	Role           string         `gorm:"type:varchar(16);not null" json:"role"`
	Content        string         `gorm:"type:longtext;not null" json:"content"`
	Attachments    datatypes.JSON `json:"-"`
	InputTokens    *int           `json:"-"`
	OutputTokens   *int           `json:"-"`
	IsSummary      bool           `gorm:"not null;default:false" json:"is_summary"`
	Compacted      bool           `gorm:"not null;default:false;index" json:"-"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"timestamp"`
}

func (Message) TableName() string {
	return "ai_messages"
}

// AttachmentList 解析附件列。列缺失或格式错误时返回空列表，而不是报错。
func (m *Message) AttachmentList() []Attachment {
	if len(m.Attachments) == 0 {
		return []Attachment{}
	}
	var list []Attachment
	if err := json.Unmarshal(m.Attachments, &list); err != nil {
		return []Attachment{}
	}
	return list
}

// Usage 返回该消息携带的单轮用量；只有 assistant 消息才可能非空。
func (m *Message) Usage() *Usage {
	if m.InputTokens == nil && m.OutputTokens == nil {
		return nil
	}
	u := &Usage{}
	if m.InputTokens != nil {
		u.InputTokens = *m.InputTokens
	}
	if m.OutputTokens != nil {
		u.OutputTokens = *m.OutputTokens
	}
	return u
}

// Attachment 是用户随消息提交的文件引用。
type Attachment struct {
	URL      string `json:"url"`
	MediaID  uint   `json:"media_id"`
	MimeType string `json:"mime_type"`
	Type     string `json:"type,omitempty"`
}

// IsImage 只有 image/ 开头的 MIME 类型才能作为视觉块发送。
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(a.MimeType), "image/")
}

// Usage 是单次模型调用的 token 用量。
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// UsageTotals 是会话的累计用量，严格由每轮 assistant 的增量累加而来。
type UsageTotals struct {
	InputTokens  int64 `json:"total_input_tokens"`
	OutputTokens int64 `json:"total_output_tokens"`
}

// Add 返回累加了一次增量之后的总量。
func (t UsageTotals) Add(u Usage) UsageTotals {
	return UsageTotals{
		InputTokens:  t.InputTokens + int64(u.InputTokens),
		OutputTokens: t.OutputTokens + int64(u.OutputTokens),
	}
}
