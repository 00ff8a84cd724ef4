package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"cms-assistant-go/internal/apperr"
	"cms-assistant-go/internal/model"
)

// ContentRepository 读取内容与内容类型，页面生成器通过它新建内容。
type ContentRepository interface {
	FindByID(ctx context.Context, id uint) (*model.Content, error)
	// ListPublished 返回最近更新的已发布页面。
	ListPublished(ctx context.Context, limit int) ([]model.Content, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	Create(ctx context.Context, content *model.Content) error
	// FindContentType 按 slug 查找内容类型；不存在时返回 (nil, nil)。
	FindContentType(ctx context.Context, slug string) (*model.ContentType, error)
}

type contentRepository struct {
	db *gorm.DB
}

// NewContentRepository 创建一个新的 ContentRepository 实例。
func NewContentRepository(db *gorm.DB) ContentRepository {
	return &contentRepository{db: db}
}

func (r *contentRepository) FindByID(ctx context.Context, id uint) (*model.Content, error) {
	var content model.Content
	err := r.db.WithContext(ctx).First(&content, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("内容 %d 不存在", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find content %d: %w", id, err)
	}
	return &content, nil
}

func (r *contentRepository) ListPublished(ctx context.Context, limit int) ([]model.Content, error) {
	var contents []model.Content
	err := r.db.WithContext(ctx).
		Select("id", "content_type", "title", "slug", "status", "updated_at").
		Where("status = ?", model.ContentStatusPublished).
		Order("updated_at DESC").
		Limit(limit).
		Find(&contents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list published contents: %w", err)
	}
	return contents, nil
}

func (r *contentRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Content{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return count > 0, nil
}

func (r *contentRepository) Create(ctx context.Context, content *model.Content) error {
	if err := r.db.WithContext(ctx).Create(content).Error; err != nil {
		return fmt.Errorf("failed to create content: %w", err)
	}
	return nil
}

func (r *contentRepository) FindContentType(ctx context.Context, slug string) (*model.ContentType, error) {
	var ct model.ContentType
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&ct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find content type %s: %w", slug, err)
	}
	return &ct, nil
}
