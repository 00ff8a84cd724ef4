package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cms-assistant-go/internal/service"
)

// AssistantHandler 处理内容助手与元素助手的对话请求。
type AssistantHandler struct {
	assistants service.AssistantService
}

// NewAssistantHandler 创建一个新的 AssistantHandler。
func NewAssistantHandler(assistants service.AssistantService) *AssistantHandler {
	return &AssistantHandler{assistants: assistants}
}

// ContentChatRequest 是内容助手的请求体。
type ContentChatRequest struct {
	Message        string `json:"message"`
	ContentID      *uint  `json:"content_id"`
	ConversationID *uint  `json:"conversation_id"`
}

// ElementChatRequest 是元素助手的请求体。
type ElementChatRequest struct {
	Message        string `json:"message"`
	ElementID      *uint  `json:"element_id"`
	ConversationID *uint  `json:"conversation_id"`
	Model          string `json:"model"`
	CurrentHTML    string `json:"current_html"`
	CurrentCSS     string `json:"current_css"`
}

// ContentChat 处理内容助手的一轮对话。
func (h *AssistantHandler) ContentChat(c *gin.Context) {
	var req ContentChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "ContentChat", err)
		return
	}

	res, err := h.assistants.ContentChat(c.Request.Context(), currentUserID(c), service.ContentChatRequest{
		Message:        req.Message,
		ContentID:      req.ContentID,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		fail(c, "ContentChat", err)
		return
	}
	c.JSON(http.StatusOK, chatResponse(res))
}

// ElementChat 处理元素助手的一轮对话。
func (h *AssistantHandler) ElementChat(c *gin.Context) {
	var req ElementChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "ElementChat", err)
		return
	}

	res, err := h.assistants.ElementChat(c.Request.Context(), currentUserID(c), service.ElementChatRequest{
		Message:        req.Message,
		ElementID:      req.ElementID,
		ConversationID: req.ConversationID,
		Model:          req.Model,
		CurrentHTML:    req.CurrentHTML,
		CurrentCSS:     req.CurrentCSS,
	})
	if err != nil {
		fail(c, "ElementChat", err)
		return
	}
	c.JSON(http.StatusOK, chatResponse(res))
}

func chatResponse(res *service.ChatResult) gin.H {
	return gin.H{
		"success":         true,
		"response":        res.Response,
		"conversation_id": res.ConversationID,
		"usage":           res.Usage,
	}
}
