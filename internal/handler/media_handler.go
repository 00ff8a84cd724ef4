package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"cms-assistant-go/internal/apperr"
	"cms-assistant-go/internal/service"
	"cms-assistant-go/pkg/log"
)

// MediaHandler 处理创作助手的图片上传、图片读取与语音转写请求。
type MediaHandler struct {
	media service.MediaService
}

// NewMediaHandler 创建一个新的 MediaHandler。
func NewMediaHandler(media service.MediaService) *MediaHandler {
	return &MediaHandler{media: media}
}

// Upload 上传一张图片，返回可以直接放进对话附件列表的附件对象。
func (h *MediaHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		fail(c, "UploadMedia", apperr.Validation("缺少文件"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		fail(c, "UploadMedia", fmt.Errorf("failed to open upload: %w", err))
		return
	}
	defer file.Close()

	att, err := h.media.UploadImage(c.Request.Context(), currentUserID(c), fileHeader.Filename, file)
	if err != nil {
		fail(c, "UploadMedia", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "attachment": att})
}

// Get 输出图片内容。
func (h *MediaHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		fail(c, "GetMedia", err)
		return
	}
	rc, media, err := h.media.Open(c.Request.Context(), currentUserID(c), id)
	if err != nil {
		fail(c, "GetMedia", err)
		return
	}
	defer rc.Close()

	c.Header("Cache-Control", "private, max-age=86400")
	c.DataFromReader(http.StatusOK, media.Size, media.MimeType, rc, nil)
}

// Transcribe 把上传的音频转写为文本。
func (h *MediaHandler) Transcribe(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		fail(c, "Transcribe", apperr.Validation("缺少音频文件"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		fail(c, "Transcribe", fmt.Errorf("failed to open upload: %w", err))
		return
	}
	defer file.Close()

	text, err := h.media.Transcribe(c.Request.Context(), fileHeader.Filename, file)
	if err != nil {
		fail(c, "Transcribe", err)
		return
	}
	log.Infof("Transcribe: 用户 %d 转写完成, %d 字符", currentUserID(c), len([]rune(text)))
	c.JSON(http.StatusOK, gin.H{"success": true, "text": text})
}
