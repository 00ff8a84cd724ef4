package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cms-assistant-go/internal/apperr"
	"cms-assistant-go/internal/model"
	"cms-assistant-go/internal/service"
)

// ConversationHandler 处理会话历史、压缩与重命名请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// RenameRequest 是重命名会话的请求体。
type RenameRequest struct {
	Title string `json:"title"`
}

// GetConversations 返回当前用户在某个作用域下的全部会话，最近更新的在前。
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	contentID, err := queryID(c, "content_id")
	if err != nil {
		fail(c, "GetConversations", err)
		return
	}
	elementID, err := queryID(c, "element_id")
	if err != nil {
		fail(c, "GetConversations", err)
		return
	}
	if contentID != nil && elementID != nil {
		fail(c, "GetConversations", apperr.Validation("content_id 与 element_id 不能同时指定"))
		return
	}

	history, err := h.service.History(c.Request.Context(), currentUserID(c), model.Scope{ContentID: contentID, ElementID: elementID})
	if err != nil {
		fail(c, "GetConversations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversations": history})
}

// Compact 压缩会话中较早的消息。
func (h *ConversationHandler) Compact(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		fail(c, "CompactConversation", err)
		return
	}
	res, err := h.service.Compact(c.Request.Context(), currentUserID(c), id)
	if err != nil {
		fail(c, "CompactConversation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"conversation_id": id,
		"compacted":       res.Compacted,
		"old_tokens":      res.OldTokens,
		"new_tokens":      res.NewTokens,
		"usage":           res.SummaryUsage,
		"messages":        res.Messages,
	})
}

// Rename 修改会话标题。
func (h *ConversationHandler) Rename(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		fail(c, "RenameConversation", err)
		return
	}
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "RenameConversation", err)
		return
	}
	if err := h.service.Rename(c.Request.Context(), currentUserID(c), id, req.Title); err != nil {
		fail(c, "RenameConversation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
