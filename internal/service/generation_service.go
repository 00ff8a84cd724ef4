package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"

	"cms-assistant-go/internal/apperr"
	"cms-assistant-go/internal/catalogue"
	"cms-assistant-go/internal/config"
	"cms-assistant-go/internal/model"
	"cms-assistant-go/internal/repository"
	"cms-assistant-go/pkg/events"
	"cms-assistant-go/pkg/log"
)

// Step 是页面生成器的阶段。请求只接受 gathering 与 generating，其余值只出现在响应中。
// 阶段不保存在会话上，每次请求由客户端带上。
type Step string

const (
	StepGathering        Step = "gathering"
	StepReady            Step = "ready"
	StepGenerating       Step = "generating"
	StepGenerated        Step = "generated"
	StepGenerationFailed Step = "generation_failed"
)

const (
	maxSlugAttempts = 50
	fallbackSlug    = "untitled"
)

// PageTurnRequest 是页面生成器的一次请求。
type PageTurnRequest struct {
	Message        string
	ConversationID *uint
	ContentType    string
	Step           Step
	Attachments    []model.Attachment
	EditorMode     EditorMode
	Model          string
}

// PageTurnResult 是页面生成器一次回合的结果。Generated 只在 Step 为 generated 时非空。
type PageTurnResult struct {
	Response       string         `json:"response"`
	ConversationID uint           `json:"conversation_id"`
	Step           Step           `json:"step"`
	Generated      *GeneratedPage `json:"generated"`
	Usage          UsageReport    `json:"usage"`
}

// CreatePageRequest 根据生成结果新建内容项。
type CreatePageRequest struct {
	ContentType  string
	Title        string
	Slug         string
	Body         string
	Elements     []GeneratedElement
	Status       string
	CustomFields map[string]interface{}
}

// CreatePageResult 是新建内容项的结果。
type CreatePageResult struct {
	ContentID uint   `json:"content_id"`
	Slug      string `json:"slug"`
	EditURL   string `json:"edit_url"`
}

// PageGeneratorService 定义了“先收集需求、再生成整页”的两阶段创作流程。
type PageGeneratorService interface {
	Turn(ctx context.Context, userID uint, req PageTurnRequest) (*PageTurnResult, error)
	CreatePage(ctx context.Context, userID uint, req CreatePageRequest) (*CreatePageResult, error)
}

type pageGeneratorService struct {
	orchestrator  *Orchestrator
	conversations ConversationService
	pipeline      AttachmentPipeline
	models        ModelService
	contentRepo   repository.ContentRepository
	catalogueRepo repository.CatalogueRepository
	ai            config.AIConfig
}

// NewPageGeneratorService 创建一个新的 PageGeneratorService 实例。
func NewPageGeneratorService(
	orchestrator *Orchestrator,
	conversations ConversationService,
	pipeline AttachmentPipeline,
	models ModelService,
	contentRepo repository.ContentRepository,
	catalogueRepo repository.CatalogueRepository,
	ai config.AIConfig,
) PageGeneratorService {
	return &pageGeneratorService{
		orchestrator:  orchestrator,
		conversations: conversations,
		pipeline:      pipeline,
		models:        models,
		contentRepo:   contentRepo,
		catalogueRepo: catalogueRepo,
		ai:            ai,
	}
}

func (s *pageGeneratorService) Turn(ctx context.Context, userID uint, req PageTurnRequest) (*PageTurnResult, error) {
	if req.Step != StepGathering && req.Step != StepGenerating {
		return nil, apperr.Validation("step 只能是 gathering 或 generating")
	}
	mode := req.EditorMode
	if mode == "" {
		mode = EditorHTML
	}
	if mode != EditorHTML && mode != EditorElements {
		return nil, apperr.Validation("editor_mode 只能是 html 或 elements")
	}
	typeSlug := strings.TrimSpace(req.ContentType)
	if typeSlug == "" {
		return nil, apperr.Validation("content_type 不能为空")
	}

	attachments, err := s.pipeline.Verify(ctx, userID, req.Attachments)
	if err != nil {
		return nil, err
	}

	ct, err := s.contentRepo.FindContentType(ctx, typeSlug)
	if err != nil {
		return nil, err
	}
	typeName, fields := describeContentType(typeSlug, ct)

	// 1. 确定本轮的用户消息与会话
	message := strings.TrimSpace(req.Message)
	hasConversation := req.ConversationID != nil && *req.ConversationID > 0
	var conv *model.Conversation
	switch {
	case message == "" && req.Step == StepGathering && !hasConversation:
		// 选择内容类型即开始一个新的独立创作会话
		message = fmt.Sprintf("I want to create a new %s.", typeName)
		conv, err = s.conversations.StartNew(ctx, userID, model.NoScope)
	case message == "" && req.Step == StepGenerating:
		message = fmt.Sprintf("Generate the %s now.", typeName)
		conv, err = s.conversations.Resolve(ctx, userID, req.ConversationID, model.NoScope)
	case message == "":
		return nil, apperr.Validation("消息不能为空")
	default:
		conv, err = s.conversations.Resolve(ctx, userID, req.ConversationID, model.NoScope)
	}
	if err != nil {
		return nil, err
	}
	history, err := s.conversations.Messages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	// 2. 按阶段组装系统提示词
	params := pagePromptParams{
		ContentTypeName: typeName,
		EditorMode:      mode,
		CustomFields:    fields,
		ReadyMarker:     s.ai.ReadyMarker,
	}
	var items []catalogue.Item
	if mode == EditorElements {
		if items, err = loadCatalogue(ctx, s.catalogueRepo); err != nil {
			return nil, err
		}
		params.CatalogueSummary = catalogue.SummarizeCatalogue(items)
	}
	var system string
	if req.Step == StepGathering {
		if params.PublishedPages, err = s.contentRepo.ListPublished(ctx, s.ai.PublishedPagesLimit); err != nil {
			return nil, err
		}
		system = gatheringPrompt(params)
	} else {
		params.ImageURLs = s.pipeline.CollectImageURLs(history, attachments)
		system = generationPrompt(params)
	}

	// 3. 调用模型并落库
	res, err := s.orchestrator.run(ctx, conv, history, turn{
		UserID:      userID,
		Surface:     events.SurfacePageGenerator,
		Model:       s.models.ResolveModel(ctx, req.Model),
		System:      system,
		Text:        message,
		Attachments: attachments,
	})
	if err != nil {
		return nil, err
	}

	// 4. 按阶段解释回复
	out := &PageTurnResult{ConversationID: conv.ID, Usage: res.Usage}
	raw := res.Reply.Content
	if req.Step == StepGathering {
		text, ready := StripReadyMarker(raw, s.ai.ReadyMarker)
		out.Response = text
		out.Step = StepGathering
		if ready {
			out.Step = StepReady
		}
		return out, nil
	}

	out.Response = raw
	page, err := ParseGeneration(raw, mode)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindGenerationParse {
			return nil, err
		}
		// 解析失败不是错误：回合已经落库，客户端可以直接重试
		log.Warnw("[PageGenerator] 生成结果解析失败", "conversationId", conv.ID, "error", err)
		out.Step = StepGenerationFailed
		return out, nil
	}
	if mode == EditorElements {
		page.Elements = filterElements(page.Elements, items, conv.ID)
		if len(page.Elements) == 0 && strings.TrimSpace(page.Body) == "" {
			log.Warnw("[PageGenerator] 生成结果中没有可用的区块", "conversationId", conv.ID)
			out.Step = StepGenerationFailed
			return out, nil
		}
	}
	out.Step = StepGenerated
	out.Generated = page
	return out, nil
}

func (s *pageGeneratorService) CreatePage(ctx context.Context, userID uint, req CreatePageRequest) (*CreatePageResult, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperr.Validation("标题不能为空")
	}
	if strings.TrimSpace(req.Body) == "" && len(req.Elements) == 0 {
		return nil, apperr.Validation("body 与 elements 不能同时为空")
	}
	status := req.Status
	if status == "" {
		status = model.ContentStatusDraft
	}
	if status != model.ContentStatusDraft && status != model.ContentStatusPublished {
		return nil, apperr.Validation("status 只能是 draft 或 published")
	}
	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = "page"
	}

	slug, err := s.uniqueSlug(ctx, req.Slug, title)
	if err != nil {
		return nil, err
	}

	content := &model.Content{
		ContentType: contentType,
		Title:       title,
		Slug:        slug,
		Body:        req.Body,
		Status:      status,
		AuthorID:    userID,
	}
	if len(req.Elements) > 0 {
		b, err := json.Marshal(req.Elements)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal elements: %w", err)
		}
		content.Elements = datatypes.JSON(b)
	}
	if len(req.CustomFields) > 0 {
		b, err := json.Marshal(req.CustomFields)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal custom fields: %w", err)
		}
		content.CustomFields = datatypes.JSON(b)
	}
	if err := s.contentRepo.Create(ctx, content); err != nil {
		return nil, err
	}

	log.Infof("[PageGenerator] 用户 %d 创建了内容 %d (%s)", userID, content.ID, slug)
	return &CreatePageResult{
		ContentID: content.ID,
		Slug:      slug,
		EditURL:   fmt.Sprintf("%s/content/%d/edit", strings.TrimRight(s.ai.AdminBaseURL, "/"), content.ID),
	}, nil
}

// uniqueSlug 规范化请求的 slug（为空时由标题派生），冲突时追加 -2、-3……
func (s *pageGeneratorService) uniqueSlug(ctx context.Context, requested, title string) (string, error) {
	base := Slugify(requested)
	if base == "" {
		base = Slugify(title)
	}
	if base == "" {
		base = fallbackSlug
	}
	candidate := base
	for i := 2; i <= maxSlugAttempts+1; i++ {
		exists, err := s.contentRepo.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", apperr.Validation("slug %s 已被占用", base)
}

// StripReadyMarker 去掉回复中独占一行的就绪标记，返回展示用文本以及标记是否出现。
// 句中提到标记不算就绪，文本原样保留。
func StripReadyMarker(text, marker string) (string, bool) {
	if marker == "" {
		return text, false
	}
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	found := false
	for _, line := range lines {
		if strings.TrimSpace(line) == marker {
			found = true
			continue
		}
		kept = append(kept, line)
	}
	if !found {
		return text, false
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), true
}

func describeContentType(slug string, ct *model.ContentType) (string, []model.CustomField) {
	if ct == nil {
		return slug, nil
	}
	name := ct.Name
	if name == "" {
		name = slug
	}
	if len(ct.Fields) == 0 {
		return name, nil
	}
	var fields []model.CustomField
	if err := json.Unmarshal(ct.Fields, &fields); err != nil {
		log.Warnf("[PageGenerator] 内容类型 %s 的字段定义无法解析, error: %v", slug, err)
		return name, nil
	}
	return name, fields
}

// filterElements 丢弃目录中不存在的区块，以及区块上未知的覆盖键。
func filterElements(list []GeneratedElement, items []catalogue.Item, conversationID uint) []GeneratedElement {
	byID := make(map[string]catalogue.Item, len(items))
	for _, it := range items {
		byID[it.Identifier] = it
	}
	out := make([]GeneratedElement, 0, len(list))
	for _, ge := range list {
		it, ok := byID[ge.Element]
		if !ok {
			log.Warnw("[PageGenerator] 丢弃未知区块", "conversationId", conversationID, "element", ge.Element)
			continue
		}
		if len(ge.Overrides) > 0 {
			accepted, unknown := catalogue.ValidOverrides(it.SlotPaths(), ge.Overrides)
			if len(unknown) > 0 {
				log.Warnw("[PageGenerator] 丢弃未知覆盖键", "conversationId", conversationID, "element", ge.Element, "keys", unknown)
			}
			ge.Overrides = accepted
		}
		out = append(out, ge)
	}
	return out
}
