package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"cms-assistant-go/internal/apperr"
	"cms-assistant-go/internal/model"
	"cms-assistant-go/internal/repository"
	"cms-assistant-go/pkg/llm"
	"cms-assistant-go/pkg/log"
	"cms-assistant-go/pkg/storage"
)

// AttachmentPipeline 把用户的图片附件转换为视觉块，并维护会话中出现过的图片 URL 集合。
type AttachmentPipeline interface {
	// Verify 校验附件引用的媒体存在且属于该用户，并以媒体记录为准重建 url 与 mime_type。
	Verify(ctx context.Context, userID uint, attachments []model.Attachment) ([]model.Attachment, error)
	// BuildUserContent 没有图片附件时原样返回文本；否则每张可读图片一个 base64 块，末尾一个文本块列出图片 URL。
	BuildUserContent(ctx context.Context, userID uint, text string, attachments []model.Attachment) llm.Content
	// CollectImageURLs 按首次出现顺序返回历史消息与本轮附件中全部去重后的图片 URL。
	CollectImageURLs(prior []model.Message, current []model.Attachment) []string
}

type attachmentPipeline struct {
	store     storage.FileStore
	mediaRepo repository.MediaRepository
	maxBytes  int64
	baseURL   string
}

// NewAttachmentPipeline 创建一个新的 AttachmentPipeline。maxBytes 为单张图片的大小上限，baseURL 为媒体读取接口的前缀。
func NewAttachmentPipeline(store storage.FileStore, mediaRepo repository.MediaRepository, maxBytes int64, baseURL string) AttachmentPipeline {
	return &attachmentPipeline{store: store, mediaRepo: mediaRepo, maxBytes: maxBytes, baseURL: baseURL}
}

func (p *attachmentPipeline) Verify(ctx context.Context, userID uint, attachments []model.Attachment) ([]model.Attachment, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	out := make([]model.Attachment, 0, len(attachments))
	for _, att := range attachments {
		if att.MediaID == 0 {
			return nil, apperr.Validation("附件缺少 media_id")
		}
		media, err := p.mediaRepo.FindByID(ctx, att.MediaID)
		if err != nil {
			return nil, err
		}
		if media.UserID != userID {
			log.Warnw("[AttachmentPipeline] 拒绝使用其他用户的媒体", "userId", userID, "mediaId", media.ID)
			return nil, apperr.Forbidden("无权使用媒体文件 %d", media.ID)
		}
		out = append(out, mediaAttachment(p.baseURL, media))
	}
	return out, nil
}

func (p *attachmentPipeline) BuildUserContent(ctx context.Context, userID uint, text string, attachments []model.Attachment) llm.Content {
	var (
		blocks []llm.Block
		urls   []string
	)
	for _, att := range attachments {
		if !att.IsImage() {
			continue
		}
		media, data, err := p.load(ctx, userID, att)
		if err != nil {
			log.Warnf("[AttachmentPipeline] 跳过无法读取的图片, media: %d, error: %v", att.MediaID, err)
			continue
		}
		blocks = append(blocks, llm.ImageBlock(media.MimeType, base64.StdEncoding.EncodeToString(data)))
		urls = append(urls, MediaURL(p.baseURL, media.ID))
	}
	if len(blocks) == 0 {
		return llm.Text(text)
	}

	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteString("\n\nAttached images (use these exact URLs when referencing them):")
	for i, u := range urls {
		fmt.Fprintf(&sb, "\nImage %d: %s", i+1, u)
	}
	return llm.Blocks(append(blocks, llm.TextBlock(sb.String()))...)
}

// load 读取附件对应的图片。媒体必须属于 userID 且确实是图片。
func (p *attachmentPipeline) load(ctx context.Context, userID uint, att model.Attachment) (*model.Media, []byte, error) {
	if att.MediaID == 0 {
		return nil, nil, fmt.Errorf("attachment has no media id")
	}
	media, err := p.mediaRepo.FindByID(ctx, att.MediaID)
	if err != nil {
		return nil, nil, err
	}
	if media.UserID != userID {
		return nil, nil, apperr.Forbidden("无权使用媒体文件 %d", media.ID)
	}
	if !strings.HasPrefix(strings.ToLower(media.MimeType), "image/") {
		return nil, nil, fmt.Errorf("media %d is %s, not an image", media.ID, media.MimeType)
	}
	data, err := p.store.ReadAll(ctx, media.StorageKey, p.maxBytes)
	if err != nil {
		return nil, nil, err
	}
	return media, data, nil
}

func (p *attachmentPipeline) CollectImageURLs(prior []model.Message, current []model.Attachment) []string {
	return CollectImageURLs(prior, current)
}

// CollectImageURLs 是 AttachmentPipeline.CollectImageURLs 的纯函数实现。
func CollectImageURLs(prior []model.Message, current []model.Attachment) []string {
	seen := make(map[string]struct{})
	urls := []string{}
	add := func(atts []model.Attachment) {
		for _, a := range atts {
			if !a.IsImage() || a.URL == "" {
				continue
			}
			if _, ok := seen[a.URL]; ok {
				continue
			}
			seen[a.URL] = struct{}{}
			urls = append(urls, a.URL)
		}
	}
	for i := range prior {
		add(prior[i].AttachmentList())
	}
	add(current)
	return urls
}

// MediaURL 返回媒体读取接口上的地址。
func MediaURL(baseURL string, mediaID uint) string {
	return fmt.Sprintf("%s/%d", strings.TrimRight(baseURL, "/"), mediaID)
}

// mediaAttachment 以媒体记录为准构造附件。
func mediaAttachment(baseURL string, media *model.Media) model.Attachment {
	att := model.Attachment{
		URL:      MediaURL(baseURL, media.ID),
		MediaID:  media.ID,
		MimeType: media.MimeType,
	}
	if att.IsImage() {
		att.Type = "image"
	}
	return att
}
