package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cms-assistant-go/internal/model"
	"cms-assistant-go/pkg/log"
)

// AdminAuthMiddleware 只放行管理员，用于模型启用配置等接口。
// 此中间件必须在 AuthMiddleware 之后使用。
func AdminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get("user")
		user, ok := value.(*model.User)
		if !exists || !ok {
			log.Errorf("AdminAuthMiddleware: 上下文中没有用户, path=%s", c.FullPath())
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "无法获取用户信息"})
			return
		}

		if !user.IsAdmin() {
			log.Warnw("非管理员访问管理接口", "user_id", user.ID, "role", user.Role, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "权限不足，需要管理员权限"})
			return
		}

		c.Next()
	}
}
