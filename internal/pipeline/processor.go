// Package pipeline 定义了用量事件的入库流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"cms-assistant-go/internal/model"
	"cms-assistant-go/internal/repository"
	"cms-assistant-go/pkg/events"
	"cms-assistant-go/pkg/log"
)

// Processor 把 Kafka 中的用量事件写入用量流水表。
type Processor struct {
	usageRepo repository.UsageRepository
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(usageRepo repository.UsageRepository) *Processor {
	return &Processor{usageRepo: usageRepo}
}

// Process 校验并写入一条用量事件。重复投递的事件按 EventID 去重。
func (p *Processor) Process(ctx context.Context, evt events.UsageEvent) error {
	if evt.EventID == "" {
		return errors.New("用量事件缺少 event_id")
	}
	if evt.InputTokens < 0 || evt.OutputTokens < 0 {
		log.Warnf("[Processor] 用量为负数, 忽略事件: %s", evt.EventID)
		return nil
	}

	record := &model.UsageRecord{
		EventID:        evt.EventID,
		UserID:         evt.UserID,
		ConversationID: evt.ConversationID,
		Surface:        evt.Surface,
		Model:          evt.Model,
		InputTokens:    evt.InputTokens,
		OutputTokens:   evt.OutputTokens,
		OccurredAt:     evt.OccurredAt,
	}
	if err := p.usageRepo.Record(ctx, record); err != nil {
		return fmt.Errorf("写入用量流水失败: %w", err)
	}
	log.Infof("[Processor] 用量事件入库, event: %s, conversation: %d, in: %d, out: %d",
		evt.EventID, evt.ConversationID, evt.InputTokens, evt.OutputTokens)
	return nil
}
