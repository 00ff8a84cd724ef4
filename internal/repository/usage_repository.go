package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cms-assistant-go/internal/model"
)

// UsageRepository 是模型用量流水的持久化操作。
type UsageRepository interface {
	// Record 写入一条流水；同一 EventID 重复写入时忽略。
	Record(ctx context.Context, record *model.UsageRecord) error
	ListByConversation(ctx context.Context, conversationID uint) ([]model.UsageRecord, error)
}

type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository 创建一个新的 UsageRepository 实例。
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

func (r *usageRepository) Record(ctx context.Context, record *model.UsageRecord) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to record usage event %s: %w", record.EventID, err)
	}
	return nil
}

func (r *usageRepository) ListByConversation(ctx context.Context, conversationID uint) ([]model.UsageRecord, error) {
	var records []model.UsageRecord
	err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("occurred_at").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return records, nil
}
