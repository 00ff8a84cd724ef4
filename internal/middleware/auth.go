// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cms-assistant-go/internal/repository"
	"cms-assistant-go/pkg/log"
	"cms-assistant-go/pkg/token"
)

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 令牌由 CMS 的会话服务签发；这里只校验签名与有效期，并把 User 与 claims 存入上下文。
func AuthMiddleware(jwtManager *token.JWTManager, userRepo repository.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "请求未包含授权头"})
			return
		}

		// Token 以 "Bearer <token>" 的形式提供
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "无效的授权头格式"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "无效或已过期的 token"})
			return
		}

		// 角色以数据库为准，令牌中的角色可能已经过时
		user, err := userRepo.FindByID(c.Request.Context(), claims.UserID)
		if err != nil {
			log.Warnf("AuthMiddleware: 用户 %d 不存在, error: %v", claims.UserID, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "用户不存在"})
			return
		}

		c.Set("user", user)
		c.Set("claims", claims)
		c.Next()
	}
}

// CSRFMiddleware 要求状态变更请求携带与令牌中 csrf 声明一致的 X-CSRF-Token 头。
// 此中间件必须在 AuthMiddleware 之后使用。
func CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		claims, ok := c.MustGet("claims").(*token.CustomClaims)
		header := c.GetHeader("X-CSRF-Token")
		if !ok || claims.CSRF == "" || header != claims.CSRF {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "CSRF 校验失败"})
			return
		}
		c.Next()
	}
}
