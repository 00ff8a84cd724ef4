package service

import (
	"context"
	"strings"

	"cms-assistant-go/internal/apperr"
	"cms-assistant-go/internal/catalogue"
	"cms-assistant-go/internal/model"
	"cms-assistant-go/internal/repository"
	"cms-assistant-go/pkg/events"
)

// ContentChatRequest 是内容助手的一次请求。
type ContentChatRequest struct {
	Message        string
	ContentID      *uint
	ConversationID *uint
}

// ElementChatRequest 是元素助手的一次请求。CurrentHTML/CurrentCSS 是编辑器中尚未保存的内容。
type ElementChatRequest struct {
	Message        string
	ElementID      *uint
	ConversationID *uint
	Model          string
	CurrentHTML    string
	CurrentCSS     string
}

// ChatResult 是单轮助手的结果。
type ChatResult struct {
	Response       string      `json:"response"`
	ConversationID uint        `json:"conversation_id"`
	Usage          UsageReport `json:"usage"`
}

// AssistantService 定义了内容助手与元素助手两个单轮创作入口。
type AssistantService interface {
	ContentChat(ctx context.Context, userID uint, req ContentChatRequest) (*ChatResult, error)
	ElementChat(ctx context.Context, userID uint, req ElementChatRequest) (*ChatResult, error)
}

type assistantService struct {
	runner        *Orchestrator
	conversations ConversationService
	models        ModelService
	contentRepo   repository.ContentRepository
	catalogueRepo repository.CatalogueRepository
}

// NewAssistantService 创建一个新的 AssistantService 实例。
func NewAssistantService(
	runner *Orchestrator,
	conversations ConversationService,
	models ModelService,
	contentRepo repository.ContentRepository,
	catalogueRepo repository.CatalogueRepository,
) AssistantService {
	return &assistantService{
		runner:        runner,
		conversations: conversations,
		models:        models,
		contentRepo:   contentRepo,
		catalogueRepo: catalogueRepo,
	}
}

func (s *assistantService) ContentChat(ctx context.Context, userID uint, req ContentChatRequest) (*ChatResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, apperr.Validation("消息不能为空")
	}

	scope := model.NoScope
	var content *model.Content
	if req.ContentID != nil && *req.ContentID > 0 {
		c, err := s.contentRepo.FindByID(ctx, *req.ContentID)
		if err != nil {
			return nil, err
		}
		content = c
		scope = model.ContentScope(c.ID)
	}

	conv, err := s.conversations.Resolve(ctx, userID, req.ConversationID, scope)
	if err != nil {
		return nil, err
	}
	history, err := s.conversations.Messages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	res, err := s.runner.run(ctx, conv, history, turn{
		UserID:  userID,
		Surface: events.SurfaceContentAssistant,
		Model:   s.models.ResolveModel(ctx, ""),
		System:  contentAssistantPrompt(content),
		Text:    message,
	})
	if err != nil {
		return nil, err
	}
	return &ChatResult{Response: res.Reply.Content, ConversationID: conv.ID, Usage: res.Usage}, nil
}

func (s *assistantService) ElementChat(ctx context.Context, userID uint, req ElementChatRequest) (*ChatResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, apperr.Validation("消息不能为空")
	}

	scope := model.NoScope
	var element *model.Element
	if req.ElementID != nil && *req.ElementID > 0 {
		e, err := s.catalogueRepo.FindElement(ctx, *req.ElementID)
		if err != nil {
			return nil, err
		}
		element = e
		scope = model.ElementScope(e.ID)
	}

	items, err := loadCatalogue(ctx, s.catalogueRepo)
	if err != nil {
		return nil, err
	}
	if element != nil {
		// 正在编辑的元素已经单独给出
		items = withoutItem(items, element.Slug)
	}

	conv, err := s.conversations.Resolve(ctx, userID, req.ConversationID, scope)
	if err != nil {
		return nil, err
	}
	history, err := s.conversations.Messages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	res, err := s.runner.run(ctx, conv, history, turn{
		UserID:  userID,
		Surface: events.SurfaceElementAssistant,
		Model:   s.models.ResolveModel(ctx, req.Model),
		System:  elementAssistantPrompt(element, req.CurrentHTML, req.CurrentCSS, catalogue.SummarizeCatalogue(items)),
		Text:    message,
	})
	if err != nil {
		return nil, err
	}
	return &ChatResult{Response: res.Reply.Content, ConversationID: conv.ID, Usage: res.Usage}, nil
}

func withoutItem(items []catalogue.Item, identifier string) []catalogue.Item {
	out := items[:0:0]
	for _, it := range items {
		if it.Kind == catalogue.KindElement && it.Identifier == identifier {
			continue
		}
		out = append(out, it)
	}
	return out
}
