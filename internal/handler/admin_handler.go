package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cms-assistant-go/internal/service"
	"cms-assistant-go/pkg/log"
)

// AdminHandler 负责管理员的 AI 模型管理请求。
type AdminHandler struct {
	models service.ModelService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(models service.ModelService) *AdminHandler {
	return &AdminHandler{models: models}
}

// EnableModelsRequest 是设置已启用模型的请求体。
type EnableModelsRequest struct {
	ModelIDs []string `json:"model_ids"`
}

// ListModels 返回全部可用模型及其启用状态。
func (h *AdminHandler) ListModels(c *gin.Context) {
	models, err := h.models.ListModels(c.Request.Context())
	if err != nil {
		fail(c, "ListModels", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "models": models})
}

// EnableModels 覆盖已启用的模型列表。
func (h *AdminHandler) EnableModels(c *gin.Context) {
	var req EnableModelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "EnableModels", err)
		return
	}
	if err := h.models.SetEnabled(c.Request.Context(), req.ModelIDs); err != nil {
		fail(c, "EnableModels", err)
		return
	}
	log.Infof("EnableModels: 管理员 %d 更新了已启用模型", currentUserID(c))
	c.JSON(http.StatusOK, gin.H{"success": true})
}
