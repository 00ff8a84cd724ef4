// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"cms-assistant-go/internal/apperr"
	"cms-assistant-go/internal/model"
	"cms-assistant-go/internal/repository"
	"cms-assistant-go/pkg/events"
	"cms-assistant-go/pkg/llm"
	"cms-assistant-go/pkg/log"
)

const (
	autoTitleRunes = 60
	maxTitleRunes  = 255
)

// MessageView 是返回给客户端的一条消息。
type MessageView struct {
	Role        string             `json:"role"`
	Content     string             `json:"content"`
	Attachments []model.Attachment `json:"attachments"`
	Usage       *model.Usage       `json:"usage,omitempty"`
	IsSummary   bool               `json:"is_summary"`
	Timestamp   model.LocalTime    `json:"timestamp"`
}

// ConversationView 是会话列表中的一项。
type ConversationView struct {
	ID        uint              `json:"id"`
	Title     *string           `json:"title,omitempty"`
	Messages  []MessageView     `json:"messages"`
	Usage     model.UsageTotals `json:"usage"`
	CreatedAt model.LocalTime   `json:"created_at"`
	UpdatedAt model.LocalTime   `json:"updated_at"`
}

// CompactResult 是一次会话压缩的结果。token 数为估算值。
type CompactResult struct {
	Compacted    bool          `json:"compacted"`
	OldTokens    int           `json:"old_tokens"`
	NewTokens    int           `json:"new_tokens"`
	SummaryUsage llm.Usage     `json:"summary_usage"`
	Messages     []MessageView `json:"messages"`
}

// ConversationService 定义了会话解析、记录与管理的业务逻辑。
type ConversationService interface {
	// Resolve 返回本轮使用的会话。conversationID 不存在或不属于该用户时，
	// 回退到 (user, scope) 的当前会话，而不是返回错误。
	Resolve(ctx context.Context, userID uint, conversationID *uint, scope model.Scope) (*model.Conversation, error)
	// StartNew 显式新建一个会话。
	StartNew(ctx context.Context, userID uint, scope model.Scope) (*model.Conversation, error)
	Messages(ctx context.Context, conversationID uint) ([]model.Message, error)
	// RecordExchange 追加一条 user 消息与一条 assistant 消息，返回更新后的会话。
	RecordExchange(ctx context.Context, conv *model.Conversation, user, assistant repository.NewMessage) (*model.Conversation, error)
	History(ctx context.Context, userID uint, scope model.Scope) ([]ConversationView, error)
	Compact(ctx context.Context, userID, conversationID uint) (*CompactResult, error)
	Rename(ctx context.Context, userID, conversationID uint, title string) error
}

type conversationService struct {
	repo      repository.ConversationRepository
	provider  llm.Provider
	publisher UsagePublisher
	keepLast  int
}

// NewConversationService 创建一个新的 ConversationService。provider 只用于会话压缩时生成摘要。
func NewConversationService(repo repository.ConversationRepository, provider llm.Provider, publisher UsagePublisher, keepLast int) ConversationService {
	if publisher == nil {
		publisher = NopPublisher
	}
	if keepLast < 1 {
		keepLast = 1
	}
	return &conversationService{repo: repo, provider: provider, publisher: publisher, keepLast: keepLast}
}

func (s *conversationService) Resolve(ctx context.Context, userID uint, conversationID *uint, scope model.Scope) (*model.Conversation, error) {
	if conversationID != nil && *conversationID > 0 {
		conv, err := s.repo.ResolveByID(ctx, *conversationID, userID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		// 会话不存在或属于其他用户：不报错，回退到该用户在此作用域下的当前会话
		log.Warnw("[ConversationService] 会话不可用, 回退到当前作用域的会话",
			"conversationId", *conversationID, "userId", userID)
	}
	return s.repo.ResolveOrCreate(ctx, userID, scope)
}

func (s *conversationService) StartNew(ctx context.Context, userID uint, scope model.Scope) (*model.Conversation, error) {
	return s.repo.Create(ctx, userID, scope)
}

func (s *conversationService) Messages(ctx context.Context, conversationID uint) ([]model.Message, error) {
	return s.repo.GetMessages(ctx, conversationID)
}

func (s *conversationService) RecordExchange(ctx context.Context, conv *model.Conversation, user, assistant repository.NewMessage) (*model.Conversation, error) {
	user.Role = model.RoleUser
	assistant.Role = model.RoleAssistant
	if _, err := s.repo.AppendExchange(ctx, conv.ID, user, assistant); err != nil {
		return nil, fmt.Errorf("failed to record exchange: %w", err)
	}
	if conv.Title == nil || *conv.Title == "" {
		if title := autoTitle(user.Content); title != "" {
			if err := s.repo.SetTitle(ctx, conv.ID, title, true); err != nil {
				log.Warnf("[ConversationService] 设置自动标题失败, conversation: %d, error: %v", conv.ID, err)
			}
		}
	}
	return s.repo.ResolveByID(ctx, conv.ID, conv.UserID)
}

func (s *conversationService) History(ctx context.Context, userID uint, scope model.Scope) ([]ConversationView, error) {
	convs, err := s.repo.ListByScope(ctx, userID, scope)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	byConv, err := s.repo.MessagesFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		views = append(views, ConversationView{
			ID:        c.ID,
			Title:     c.Title,
			Messages:  messageViews(byConv[c.ID]),
			Usage:     c.Totals(),
			CreatedAt: model.LocalTime(c.CreatedAt),
			UpdatedAt: model.LocalTime(c.UpdatedAt),
		})
	}
	return views, nil
}

func (s *conversationService) Compact(ctx context.Context, userID, conversationID uint) (*CompactResult, error) {
	conv, err := s.repo.ResolveByID(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	live, err := s.repo.GetMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	oldTokens := EstimateTokens(live)
	if len(live) <= s.keepLast {
		return &CompactResult{OldTokens: oldTokens, NewTokens: oldTokens, Messages: messageViews(live)}, nil
	}

	older := live[:len(live)-s.keepLast]
	through := 0
	for _, m := range older {
		if m.Sequence > through {
			through = m.Sequence
		}
	}

	reply, err := s.provider.SendMessage(ctx, llm.Request{
		System:   compactionPrompt(),
		Messages: []llm.Message{{Role: llm.RoleUser, Content: llm.Text(transcript(older))}},
	})
	if err != nil {
		return nil, upstreamError(err)
	}

	summary := "Summary of the earlier part of this conversation:\n\n" + strings.TrimSpace(reply.Content)
	compacted, err := s.repo.Compact(context.Background(), conv.ID, through, summary, imageAttachments(older))
	if err != nil {
		return nil, err
	}
	publishUsage(s.publisher, userID, conv.ID, events.SurfaceCompaction, reply.Model, reply.Usage)

	log.Infof("[ConversationService] 会话 %d 压缩完成, 消息 %d -> %d", conv.ID, len(live), len(compacted))
	return &CompactResult{
		Compacted:    true,
		OldTokens:    oldTokens,
		NewTokens:    EstimateTokens(compacted),
		SummaryUsage: reply.Usage,
		Messages:     messageViews(compacted),
	}, nil
}

func (s *conversationService) Rename(ctx context.Context, userID, conversationID uint, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return apperr.Validation("标题不能为空")
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return apperr.Validation("标题不能超过 %d 个字符", maxTitleRunes)
	}
	if _, err := s.repo.ResolveByID(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.repo.SetTitle(ctx, conversationID, title, false)
}

// autoTitle 取首条用户消息的前 60 个字符作为标题，换行折叠为空格。
func autoTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= autoTitleRunes {
		return text
	}
	return string([]rune(text)[:autoTitleRunes])
}

// imageAttachments 收集被压缩消息中的图片附件（按 URL 去重），以免压缩后丢失图片 URL 集合。
func imageAttachments(msgs []model.Message) []model.Attachment {
	seen := make(map[string]struct{})
	var out []model.Attachment
	for i := range msgs {
		for _, a := range msgs[i].AttachmentList() {
			if !a.IsImage() {
				continue
			}
			if _, ok := seen[a.URL]; ok {
				continue
			}
			seen[a.URL] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

func transcript(msgs []model.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		role := "User"
		if m.Role == model.RoleAssistant {
			role = "Assistant"
		}
		if m.IsSummary {
			role = "Earlier summary"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, m.Content)
		for _, a := range m.AttachmentList() {
			if a.IsImage() {
				fmt.Fprintf(&sb, "  (image attached: %s)\n", a.URL)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func messageViews(msgs []model.Message) []MessageView {
	views := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		views = append(views, MessageView{
			Role:        m.Role,
			Content:     m.Content,
			Attachments: m.AttachmentList(),
			Usage:       m.Usage(),
			IsSummary:   m.IsSummary,
			Timestamp:   model.LocalTime(m.CreatedAt),
		})
	}
	return views
}
