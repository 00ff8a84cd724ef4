package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"cms-assistant-go/internal/apperr"
	"cms-assistant-go/internal/model"
)

// CatalogueRepository 读取可复用元素与构建器组件。
type CatalogueRepository interface {
	ListElements(ctx context.Context) ([]model.Element, error)
	FindElement(ctx context.Context, id uint) (*model.Element, error)
	ListComponents(ctx context.Context) ([]model.Component, error)
}

type catalogueRepository struct {
	db *gorm.DB
}

// NewCatalogueRepository 创建一个新的 CatalogueRepository 实例。
func NewCatalogueRepository(db *gorm.DB) CatalogueRepository {
	return &catalogueRepository{db: db}
}

func (r *catalogueRepository) ListElements(ctx context.Context) ([]model.Element, error) {
	var elements []model.Element
	if err := r.db.WithContext(ctx).Order("category").Order("name").Find(&elements).Error; err != nil {
		return nil, fmt.Errorf("failed to list elements: %w", err)
	}
	return elements, nil
}

func (r *catalogueRepository) FindElement(ctx context.Context, id uint) (*model.Element, error) {
	var element model.Element
	err := r.db.WithContext(ctx).First(&element, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("元素 %d 不存在", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find element %d: %w", id, err)
	}
	return &element, nil
}

func (r *catalogueRepository) ListComponents(ctx context.Context) ([]model.Component, error) {
	var components []model.Component
	if err := r.db.WithContext(ctx).Order("name").Find(&components).Error; err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}
	return components, nil
}
