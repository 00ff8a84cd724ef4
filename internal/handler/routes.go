package handler

import (
	"github.com/gin-gonic/gin"
)

// Handlers 汇总了全部 AI 接口的处理器。
type Handlers struct {
	Assistant     *AssistantHandler
	PageGenerator *PageGeneratorHandler
	Conversation  *ConversationHandler
	Admin         *AdminHandler
	Media         *MediaHandler
}

// Middlewares 是路由使用的中间件：认证、CSRF 校验与管理员校验。
type Middlewares struct {
	Auth  gin.HandlerFunc
	CSRF  gin.HandlerFunc
	Admin gin.HandlerFunc
}

// RegisterRoutes 在 /api/v1/ai 下注册全部 AI 接口。所有接口都需要认证，状态变更接口需要 CSRF token。
func RegisterRoutes(r gin.IRouter, h Handlers, m Middlewares) {
	ai := r.Group("/api/v1/ai")
	ai.Use(m.Auth, m.CSRF)
	{
		ai.POST("/content/chat", h.Assistant.ContentChat)
		ai.POST("/element/chat", h.Assistant.ElementChat)

		pages := ai.Group("/page-generator")
		{
			pages.POST("/chat", h.PageGenerator.Chat)
			pages.POST("/create", h.PageGenerator.Create)
		}

		conversations := ai.Group("/conversations")
		{
			conversations.GET("", h.Conversation.GetConversations)
			conversations.POST("/:id/compact", h.Conversation.Compact)
			conversations.PUT("/:id/title", h.Conversation.Rename)
		}

		ai.POST("/media", h.Media.Upload)
		ai.GET("/media/:id", h.Media.Get)
		ai.POST("/transcribe", h.Media.Transcribe)

		// 管理员路由组，需要额外通过管理员授权中间件
		admin := ai.Group("/admin")
		admin.Use(m.Admin)
		{
			admin.GET("/models", h.Admin.ListModels)
			admin.POST("/models", h.Admin.EnableModels)
		}
	}
}
