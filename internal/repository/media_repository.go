package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"cms-assistant-go/internal/apperr"
	"cms-assistant-go/internal/model"
)

// MediaRepository 定义了媒体文件元数据的持久化操作。
type MediaRepository interface {
	Create(ctx context.Context, media *model.Media) error
	FindByID(ctx context.Context, id uint) (*model.Media, error)
}

type mediaRepository struct {
	db *gorm.DB
}

// NewMediaRepository 创建一个新的 MediaRepository 实例。
func NewMediaRepository(db *gorm.DB) MediaRepository {
	return &mediaRepository{db: db}
}

func (r *mediaRepository) Create(ctx context.Context, media *model.Media) error {
	if err := r.db.WithContext(ctx).Create(media).Error; err != nil {
		return fmt.Errorf("failed to create media record: %w", err)
	}
	return nil
}

func (r *mediaRepository) FindByID(ctx context.Context, id uint) (*model.Media, error) {
	var media model.Media
	err := r.db.WithContext(ctx).First(&media, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("媒体文件 %d 不存在", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find media %d: %w", id, err)
	}
	return &media, nil
}
