// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cms-assistant-go/internal/apperr"
	"cms-assistant-go/internal/model"
)

// 追加消息时遇到序号冲突的最大重试次数
const maxAppendAttempts = 3

// NewMessage 是待追加的一条消息。Usage 只在 assistant 回合传入。
type NewMessage struct {
	Role        string
	Content     string
	Attachments []model.Attachment
	Usage       *model.Usage
	IsSummary   bool
}

// ConversationRepository 定义了会话与消息日志的持久化操作。
type ConversationRepository interface {
	// ResolveOrCreate 返回 (user, scope) 下最近更新的会话，不存在时创建一个空会话。
	ResolveOrCreate(ctx context.Context, userID uint, scope model.Scope) (*model.Conversation, error)
	// Create 总是创建一个新会话。
	Create(ctx context.Context, userID uint, scope model.Scope) (*model.Conversation, error)
	// ResolveByID 按 ID 获取会话；不存在或不属于该用户时返回 NotFound。
	ResolveByID(ctx context.Context, conversationID, userID uint) (*model.Conversation, error)
	// AppendMessage 在一个事务中追加消息、更新 updated_at 并累加用量，返回更新后的日志。
	AppendMessage(ctx context.Context, conversationID uint, msg NewMessage) ([]model.Message, error)
	// AppendExchange 在同一个事务中追加一轮 user + assistant 消息，两条要么都写入要么都不写入。
	AppendExchange(ctx context.Context, conversationID uint, user, assistant NewMessage) ([]model.Message, error)
	// GetMessages 返回未被压缩的消息：摘要在前，其余按序号升序。
	GetMessages(ctx context.Context, conversationID uint) ([]model.Message, error)
	// ListByScope 返回 (user, scope) 下的全部会话，按 updated_at 倒序。
	ListByScope(ctx context.Context, userID uint, scope model.Scope) ([]model.Conversation, error)
	// MessagesFor 批量返回多个会话的未压缩消息。
	MessagesFor(ctx context.Context, conversationIDs []uint) (map[uint][]model.Message, error)
	// Compact 把序号不大于 throughSequence 的未压缩消息标记为已压缩，并插入一条摘要消息。
	// attachments 挂在摘要消息上，保留被压缩消息中的图片引用。
	Compact(ctx context.Context, conversationID uint, throughSequence int, summary string, attachments []model.Attachment) ([]model.Message, error)
	// SetTitle 设置会话标题；onlyIfEmpty 为 true 时只在标题为空时写入。
	SetTitle(ctx context.Context, conversationID uint, title string, onlyIfEmpty bool) error
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func scoped(db *gorm.DB, userID uint, scope model.Scope) *gorm.DB {
	db = db.Where("user_id = ?", userID)
	if scope.ContentID != nil {
		db = db.Where("content_id = ?", *scope.ContentID)
	} else {
		db = db.Where("content_id IS NULL")
	}
	if scope.ElementID != nil {
		db = db.Where("element_id = ?", *scope.ElementID)
	} else {
		db = db.Where("element_id IS NULL")
	}
	return db
}

func (r *conversationRepository) ResolveOrCreate(ctx context.Context, userID uint, scope model.Scope) (*model.Conversation, error) {
	var conv model.Conversation
	err := scoped(r.db.WithContext(ctx), userID, scope).
		Order("updated_at DESC").Order("id DESC").
		First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to resolve conversation: %w", err)
	}
	return r.Create(ctx, userID, scope)
}

func (r *conversationRepository) Create(ctx context.Context, userID uint, scope model.Scope) (*model.Conversation, error) {
	conv := &model.Conversation{
		UserID:    userID,
		ContentID: scope.ContentID,
		ElementID: scope.ElementID,
		UpdatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (r *conversationRepository) ResolveByID(ctx context.Context, conversationID, userID uint) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", conversationID, userID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("会话 %d 不存在", conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation %d: %w", conversationID, err)
	}
	return &conv, nil
}

func (r *conversationRepository) AppendMessage(ctx context.Context, conversationID uint, msg NewMessage) ([]model.Message, error) {
	return r.appendRows(ctx, conversationID, msg)
}

func (r *conversationRepository) AppendExchange(ctx context.Context, conversationID uint, user, assistant NewMessage) ([]model.Message, error) {
	return r.appendRows(ctx, conversationID, user, assistant)
}

// appendRows 锁住会话行后按顺序分配连续序号写入 msgs，序号冲突时整体重试。
func (r *conversationRepository) appendRows(ctx context.Context, conversationID uint, msgs ...NewMessage) ([]model.Message, error) {
	rows := make([]model.Message, len(msgs))
	var delta *model.UsageTotals
	for i, msg := range msgs {
		attachments, err := marshalAttachments(msg.Attachments)
		if err != nil {
			return nil, err
		}
		rows[i] = model.Message{
			ConversationID: conversationID,
			Role:           msg.Role,
			Content:        msg.Content,
			Attachments:    attachments,
			IsSummary:      msg.IsSummary,
		}
		if msg.Usage != nil {
			in, out := msg.Usage.InputTokens, msg.Usage.OutputTokens
			rows[i].InputTokens, rows[i].OutputTokens = &in, &out
			if delta == nil {
				delta = &model.UsageTotals{}
			}
			*delta = delta.Add(*msg.Usage)
		}
	}

	var err error
	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			seq, err := lockAndNextSequence(tx, conversationID)
			if err != nil {
				return err
			}
			for i := range rows {
				rows[i].ID = 0
				rows[i].Sequence = seq + i
				if err := tx.Create(&rows[i]).Error; err != nil {
					return err
				}
			}
			return touch(tx, conversationID, delta)
		})
		if err == nil || !isDuplicateKey(err) {
			break
		}
	}
	if err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		return nil, fmt.Errorf("failed to append messages to conversation %d: %w", conversationID, err)
	}
	return r.GetMessages(ctx, conversationID)
}

func (r *conversationRepository) GetMessages(ctx context.Context, conversationID uint) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND compacted = ?", conversationID, false).
		Order("is_summary DESC").Order("sequence ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages of conversation %d: %w", conversationID, err)
	}
	return msgs, nil
}

func (r *conversationRepository) ListByScope(ctx context.Context, userID uint, scope model.Scope) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := scoped(r.db.WithContext(ctx), userID, scope).
		Order("updated_at DESC").Order("id DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

func (r *conversationRepository) MessagesFor(ctx context.Context, conversationIDs []uint) (map[uint][]model.Message, error) {
	out := make(map[uint][]model.Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var msgs []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id IN ? AND compacted = ?", conversationIDs, false).
		Order("conversation_id").Order("is_summary DESC").Order("sequence ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	for _, m := range msgs {
		out[m.ConversationID] = append(out[m.ConversationID], m)
	}
	return out, nil
}

func (r *conversationRepository) Compact(ctx context.Context, conversationID uint, throughSequence int, summary string, attachments []model.Attachment) ([]model.Message, error) {
	attJSON, err := marshalAttachments(attachments)
	if err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := lockAndNextSequence(tx, conversationID)
		if err != nil {
			return err
		}
		// 旧的摘要同样被压缩进新摘要
		err = tx.Model(&model.Message{}).
			Where("conversation_id = ? AND compacted = ? AND (sequence <= ? OR is_summary = ?)", conversationID, false, throughSequence, true).
			Update("compacted", true).Error
		if err != nil {
			return err
		}
		row := model.Message{
			ConversationID: conversationID,
			Sequence:       seq,
			Role:           model.RoleUser,
			Content:        summary,
			Attachments:    attJSON,
			IsSummary:      true,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return touch(tx, conversationID, nil)
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		return nil, fmt.Errorf("failed to compact conversation %d: %w", conversationID, err)
	}
	return r.GetMessages(ctx, conversationID)
}

func (r *conversationRepository) SetTitle(ctx context.Context, conversationID uint, title string, onlyIfEmpty bool) error {
	db := r.db.WithContext(ctx).Model(&model.Conversation{}).Where("id = ?", conversationID)
	if onlyIfEmpty {
		db = db.Where("title IS NULL OR title = ''")
	}
	// 标题变化不算会话活动，不更新 updated_at
	if err := db.UpdateColumn("title", title).Error; err != nil {
		return fmt.Errorf("failed to set title of conversation %d: %w", conversationID, err)
	}
	return nil
}

// lockAndNextSequence 锁住会话行并返回下一条消息的序号。
func lockAndNextSequence(tx *gorm.DB, conversationID uint) (int, error) {
	var conv model.Conversation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&conv, conversationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apperr.NotFound("会话 %d 不存在", conversationID)
	}
	if err != nil {
		return 0, err
	}
	var maxSeq int
	err = tx.Model(&model.Message{}).
		Where("conversation_id = ?", conversationID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return 0, err
	}
	return maxSeq + 1, nil
}

// touch 更新 updated_at，并在有用量时累加聚合列。
func touch(tx *gorm.DB, conversationID uint, delta *model.UsageTotals) error {
	updates := map[string]interface{}{"updated_at": time.Now()}
	if delta != nil {
		updates["total_input_tokens"] = gorm.Expr("total_input_tokens + ?", delta.InputTokens)
		updates["total_output_tokens"] = gorm.Expr("total_output_tokens + ?", delta.OutputTokens)
	}
	return tx.Model(&model.Conversation{}).Where("id = ?", conversationID).UpdateColumns(updates).Error
}

func marshalAttachments(list []model.Attachment) (datatypes.JSON, error) {
	if len(list) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attachments: %w", err)
	}
	return datatypes.JSON(b), nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}
