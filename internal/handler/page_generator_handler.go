package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cms-assistant-go/internal/model"
	"cms-assistant-go/internal/service"
)

// PageGeneratorHandler 处理页面生成器的对话与建页请求。
type PageGeneratorHandler struct {
	pages service.PageGeneratorService
}

// NewPageGeneratorHandler 创建一个新的 PageGeneratorHandler。
func NewPageGeneratorHandler(pages service.PageGeneratorService) *PageGeneratorHandler {
	return &PageGeneratorHandler{pages: pages}
}

// PageChatRequest 是页面生成器一轮对话的请求体。step 只能是 gathering 或 generating。
type PageChatRequest struct {
	Message        string             `json:"message"`
	ConversationID *uint              `json:"conversation_id"`
	ContentType    string             `json:"content_type"`
	Step           string             `json:"step"`
	Attachments    []model.Attachment `json:"attachments"`
	EditorMode     string             `json:"editor_mode"`
	Model          string             `json:"model"`
}

// CreatePageRequest 是根据生成结果建页的请求体。
type CreatePageRequest struct {
	ContentType  string                     `json:"content_type"`
	Title        string                     `json:"title"`
	Slug         string                     `json:"slug"`
	Body         string                     `json:"body"`
	Elements     []service.GeneratedElement `json:"elements"`
	Status       string                     `json:"status"`
	CustomFields map[string]interface{}     `json:"custom_fields"`
}

// Chat 处理页面生成器的一轮对话。解析失败不是 HTTP 错误，而是 step=generation_failed。
func (h *PageGeneratorHandler) Chat(c *gin.Context) {
	var req PageChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "PageGeneratorChat", err)
		return
	}

	res, err := h.pages.Turn(c.Request.Context(), currentUserID(c), service.PageTurnRequest{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		ContentType:    req.ContentType,
		Step:           service.Step(req.Step),
		Attachments:    req.Attachments,
		EditorMode:     service.EditorMode(req.EditorMode),
		Model:          req.Model,
	})
	if err != nil {
		fail(c, "PageGeneratorChat", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"response":        res.Response,
		"conversation_id": res.ConversationID,
		"step":            res.Step,
		"generated":       res.Generated,
		"usage":           res.Usage,
	})
}

// Create 根据生成结果新建内容项。
func (h *PageGeneratorHandler) Create(c *gin.Context) {
	var req CreatePageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "PageGeneratorCreate", err)
		return
	}

	res, err := h.pages.CreatePage(c.Request.Context(), currentUserID(c), service.CreatePageRequest{
		ContentType:  req.ContentType,
		Title:        req.Title,
		Slug:         req.Slug,
		Body:         req.Body,
		Elements:     req.Elements,
		Status:       req.Status,
		CustomFields: req.CustomFields,
	})
	if err != nil {
		fail(c, "PageGeneratorCreate", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"content_id": res.ContentID,
		"slug":       res.Slug,
		"edit_url":   res.EditURL,
	})
}
