// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cms-assistant-go/internal/apperr"
	"cms-assistant-go/pkg/log"
	"cms-assistant-go/pkg/token"
)

// fail 把业务错误写成统一的 {success:false, error} 响应。内部错误的细节只进日志。
func fail(c *gin.Context, op string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s: %v", op, err)
	} else {
		log.Warnf("%s: %v", op, err)
	}
	c.JSON(status, gin.H{"success": false, "error": apperr.PublicMessage(err)})
}

// badRequest 用于请求体无法绑定的情况。
func badRequest(c *gin.Context, op string, err error) {
	log.Warnf("%s: 无效的请求负载, error: %v", op, err)
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "无效的请求负载"})
}

func currentUserID(c *gin.Context) uint {
	return c.MustGet("claims").(*token.CustomClaims).UserID
}

// pathID 解析路径中的数字 ID。
func pathID(c *gin.Context, name string) (uint, error) {
	return parseID(c.Param(name), name)
}

// queryID 解析可选的数字查询参数，缺省时返回 nil。
func queryID(c *gin.Context, name string) (*uint, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := parseID(raw, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseID(raw, name string) (uint, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return 0, apperr.Validation("无效的 %s", name)
	}
	return uint(v), nil
}
