package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"cms-assistant-go/internal/apperr"
	"cms-assistant-go/internal/model"
	"cms-assistant-go/internal/repository"
	"cms-assistant-go/pkg/llm"
	"cms-assistant-go/pkg/log"
	"cms-assistant-go/pkg/storage"
)

// 语音转写接口的单文件上限 (25MB)
const maxAudioBytes = 25 * 1024 * 1024

// MediaService 负责创作助手使用的图片上传与语音转写。
// 上传与对话是串行的：客户端拿到 URL 之后才能把它放进对话的附件列表。
type MediaService interface {
	UploadImage(ctx context.Context, userID uint, fileName string, r io.Reader) (*model.Attachment, error)
	// Open 读取媒体内容，只有上传者本人可以读取。
	Open(ctx context.Context, userID, mediaID uint) (io.ReadCloser, *model.Media, error)
	Transcribe(ctx context.Context, fileName string, r io.Reader) (string, error)
}

type mediaService struct {
	store       storage.FileStore
	mediaRepo   repository.MediaRepository
	transcriber llm.Transcriber
	maxBytes    int64
	baseURL     string
}

// NewMediaService 创建一个新的 MediaService 实例。transcriber 为 nil 时转写接口返回 Upstream 错误。
func NewMediaService(store storage.FileStore, mediaRepo repository.MediaRepository, transcriber llm.Transcriber, maxBytes int64, baseURL string) MediaService {
	return &mediaService{
		store:       store,
		mediaRepo:   mediaRepo,
		transcriber: transcriber,
		maxBytes:    maxBytes,
		baseURL:     baseURL,
	}
}

func (s *mediaService) UploadImage(ctx context.Context, userID uint, fileName string, r io.Reader) (*model.Attachment, error) {
	data, err := readCapped(r, s.maxBytes)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, apperr.Validation("文件为空")
	}
	// 以文件内容为准，不信任客户端声明的类型
	mimeType := http.DetectContentType(data)
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, apperr.Validation("只支持上传图片, 实际类型: %s", mimeType)
	}

	key := fmt.Sprintf("ai/%d/%s%s", userID, uuid.NewString(), extensionFor(fileName, mimeType))
	if err := s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mimeType); err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	media := &model.Media{
		StorageKey: key,
		FileName:   filepath.Base(fileName),
		MimeType:   mimeType,
		Size:       int64(len(data)),
		UserID:     userID,
	}
	if err := s.mediaRepo.Create(ctx, media); err != nil {
		return nil, err
	}
	log.Infof("[MediaService] 用户 %d 上传图片成功, media: %d, key: %s", userID, media.ID, key)

	att := mediaAttachment(s.baseURL, media)
	return &att, nil
}

func (s *mediaService) Open(ctx context.Context, userID, mediaID uint) (io.ReadCloser, *model.Media, error) {
	media, err := s.mediaRepo.FindByID(ctx, mediaID)
	if err != nil {
		return nil, nil, err
	}
	if media.UserID != userID {
		return nil, nil, apperr.Forbidden("无权访问媒体文件 %d", mediaID)
	}
	rc, _, err := s.store.Open(ctx, media.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open media %d: %w", mediaID, err)
	}
	return rc, media, nil
}

func (s *mediaService) Transcribe(ctx context.Context, fileName string, r io.Reader) (string, error) {
	if s.transcriber == nil {
		return "", upstreamError(llm.ErrMissingCredentials)
	}
	data, err := readCapped(r, maxAudioBytes)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", apperr.Validation("音频文件为空")
	}
	text, err := s.transcriber.Transcribe(ctx, bytes.NewReader(data), filepath.Base(fileName))
	if err != nil {
		return "", upstreamError(err)
	}
	return strings.TrimSpace(text), nil
}

// readCapped 读取全部内容，超过 limit 时返回 Validation 错误。
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, apperr.Validation("文件超过大小限制 (%d 字节)", limit)
	}
	return data, nil
}

func extensionFor(fileName, mimeType string) string {
	if ext := strings.ToLower(filepath.Ext(fileName)); ext != "" {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
