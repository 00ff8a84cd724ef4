package service

import (
	"context"
	"errors"

	"cms-assistant-go/internal/apperr"
	"cms-assistant-go/internal/catalogue"
	"cms-assistant-go/internal/config"
	"cms-assistant-go/internal/model"
	"cms-assistant-go/internal/repository"
	"cms-assistant-go/pkg/llm"
	"cms-assistant-go/pkg/log"
)

// turn 是一次完整的对话回合：用户消息、系统提示词与目标模型。Attachments 必须已经过 AttachmentPipeline.Verify。
type turn struct {
	UserID      uint
	Surface     string
	Model       string
	System      string
	Text        string
	Attachments []model.Attachment
}

// turnResult 是一次回合的结果。Conversation 是持久化之后重新读取的会话。
type turnResult struct {
	Reply        *llm.Reply
	Conversation *model.Conversation
	Usage        UsageReport
}

// Orchestrator 把会话、附件管线与模型服务商组合起来执行一次回合。
// 各个创作入口共享它，区别只在提示词与对回复的后处理。
type Orchestrator struct {
	conversations ConversationService
	pipeline      AttachmentPipeline
	provider      llm.Provider
	publisher     UsagePublisher
	ai            config.AIConfig
}

// NewOrchestrator 创建一个新的 Orchestrator。publisher 为 nil 时不投递用量事件。
func NewOrchestrator(conversations ConversationService, pipeline AttachmentPipeline, provider llm.Provider, publisher UsagePublisher, ai config.AIConfig) *Orchestrator {
	if publisher == nil {
		publisher = NopPublisher
	}
	return &Orchestrator{
		conversations: conversations,
		pipeline:      pipeline,
		provider:      provider,
		publisher:     publisher,
		ai:            ai,
	}
}

// run 调用模型并在成功后持久化 user + assistant 两条消息。
// history 是本轮之前的有效日志。服务商失败时什么都不写入。
func (r *Orchestrator) run(ctx context.Context, conv *model.Conversation, history []model.Message, t turn) (*turnResult, error) {
	messages := r.buildHistory(ctx, conv.UserID, history)
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: r.pipeline.BuildUserContent(ctx, t.UserID, t.Text, t.Attachments),
	})
	log.Debugf("[Orchestrator] 调用模型 %s, conversation: %d, surface: %s, 消息 %d 条", t.Model, conv.ID, t.Surface, len(messages))

	reply, err := r.provider.SendMessage(ctx, llm.Request{
		Model:    t.Model,
		System:   t.System,
		Messages: messages,
	})
	if err != nil {
		log.Errorf("[Orchestrator] 模型调用失败, conversation: %d, surface: %s, error: %v", conv.ID, t.Surface, err)
		return nil, upstreamError(err)
	}

	// 客户端可能已经断开，回合仍然要完整落库
	usage := model.Usage{InputTokens: reply.Usage.InputTokens, OutputTokens: reply.Usage.OutputTokens}
	updated, err := r.conversations.RecordExchange(context.Background(), conv,
		repository.NewMessage{Content: t.Text, Attachments: t.Attachments},
		repository.NewMessage{Content: reply.Content, Usage: &usage},
	)
	if err != nil {
		return nil, err
	}
	publishUsage(r.publisher, t.UserID, conv.ID, t.Surface, reply.Model, reply.Usage)

	modelID := reply.Model
	if modelID == "" {
		modelID = t.Model
	}
	return &turnResult{
		Reply:        reply,
		Conversation: updated,
		Usage:        newUsageReport(reply.Usage, updated.Totals(), ContextWindow(r.ai, modelID)),
	}, nil
}

// buildHistory 把持久化的日志还原为服务商消息。带图片的用户消息重新组装视觉块，摘要消息按纯文本发送。
func (r *Orchestrator) buildHistory(ctx context.Context, userID uint, history []model.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	for i := range history {
		m := &history[i]
		role := llm.RoleUser
		if m.Role == model.RoleAssistant {
			role = llm.RoleAssistant
		}
		content := llm.Text(m.Content)
		if role == llm.RoleUser && !m.IsSummary {
			if atts := m.AttachmentList(); len(atts) > 0 {
				content = r.pipeline.BuildUserContent(ctx, userID, m.Content, atts)
			}
		}
		out = append(out, llm.Message{Role: role, Content: content})
	}
	return out
}

// upstreamError 把服务商错误统一转换为 Upstream 业务错误，原始错误不会透出给客户端。
func upstreamError(err error) error {
	var pe *llm.ProviderError
	switch {
	case errors.As(err, &pe):
		return apperr.Upstream(pe.Type, pe.Message, err)
	case errors.Is(err, llm.ErrMissingCredentials):
		return apperr.Upstream("missing_credentials", "未配置 AI 服务的 API Key", err)
	case errors.Is(err, llm.ErrEmptyResponse):
		return apperr.Upstream("empty_response", "AI 服务返回了空内容", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Upstream("timeout", "AI 服务响应超时", err)
	default:
		return apperr.Upstream("network_error", "无法连接 AI 服务", err)
	}
}

// loadCatalogue 读取全部元素与组件。组件树损坏时跳过该组件。
func loadCatalogue(ctx context.Context, repo repository.CatalogueRepository) ([]catalogue.Item, error) {
	elements, err := repo.ListElements(ctx)
	if err != nil {
		return nil, err
	}
	components, err := repo.ListComponents(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]catalogue.Item, 0, len(elements)+len(components))
	for _, e := range elements {
		items = append(items, catalogue.FromElement(e))
	}
	for _, c := range components {
		it, err := catalogue.FromComponent(c)
		if err != nil {
			log.Warnf("[Orchestrator] 跳过组件, error: %v", err)
			continue
		}
		items = append(items, it)
	}
	return items, nil
}
