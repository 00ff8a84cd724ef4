// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// Media 定义了 media 表的 ORM 模型。
// 它记录了上传到对象存储的图片的元数据，音频只转写不落盘。
type Media struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	StorageKey string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"-"`
	FileName   string    `gorm:"type:varchar(255);not null" json:"fileName"`
	MimeType   string    `gorm:"type:varchar(100);not null" json:"mimeType"`
	Size       int64     `gorm:"not null" json:"size"`
	UserID     uint      `gorm:"index;not null" json:"userId"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Media) TableName() string {
	return "media"
}

// UsageRecord 对应 ai_usage_records 表：由 Kafka 消费者写入的用量流水。
type UsageRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID        string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"eventId"`
	UserID         uint      `gorm:"index;not null" json:"userId"`
	ConversationID uint      `gorm:"index;not null" json:"conversationId"`
	Surface        string    `gorm:"type:varchar(32);not null" json:"surface"`
	Model          string    `gorm:"type:varchar(100);not null" json:"model"`
	InputTokens    int       `gorm:"not null" json:"inputTokens"`
	OutputTokens   int       `gorm:"not null" json:"outputTokens"`
	OccurredAt     time.Time `gorm:"index;not null" json:"occurredAt"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (UsageRecord) TableName() string {
	return "ai_usage_records"
}
