package service

import (
	"context"
	"fmt"
	"strings"

	"cms-assistant-go/internal/apperr"
	"cms-assistant-go/internal/repository"
	"cms-assistant-go/pkg/llm"
	"cms-assistant-go/pkg/log"
)

// EnabledModelsKey 是保存已启用模型列表的设置项。
const EnabledModelsKey = "ai.enabled_models"

// ModelView 是模型管理页面中的一项。
type ModelView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Provider    string `json:"provider"`
	Enabled     bool   `json:"enabled"`
	Default     bool   `json:"default"`
}

// ModelService 定义了模型列表与启用设置的业务逻辑。
type ModelService interface {
	ListModels(ctx context.Context) ([]ModelView, error)
	SetEnabled(ctx context.Context, modelIDs []string) error
	// ResolveModel 返回本次调用使用的模型：请求的模型已启用时使用它，否则使用默认模型。
	ResolveModel(ctx context.Context, requested string) string
}

// listingCache 由带模型列表缓存的 provider 实现，启用设置变化后需要刷新。
type listingCache interface {
	Invalidate()
}

type modelService struct {
	provider     llm.Provider
	settings     repository.SettingsRepository
	defaultModel string
}

// NewModelService 创建一个新的 ModelService 实例。
func NewModelService(provider llm.Provider, settings repository.SettingsRepository, defaultModel string) ModelService {
	return &modelService{provider: provider, settings: settings, defaultModel: defaultModel}
}

func (s *modelService) ListModels(ctx context.Context) ([]ModelView, error) {
	models, err := s.provider.ListModels(ctx)
	if err != nil {
		return nil, upstreamError(err)
	}
	enabled, configured, err := s.settings.GetList(ctx, EnabledModelsKey)
	if err != nil {
		return nil, err
	}
	set := toSet(enabled)

	views := make([]ModelView, 0, len(models))
	for _, m := range models {
		_, on := set[m.ID]
		views = append(views, ModelView{
			ID:          m.ID,
			DisplayName: m.DisplayName,
			Provider:    m.Provider,
			// 未配置过时只启用默认模型
			Enabled: on || (!configured && m.ID == s.defaultModel),
			Default: m.ID == s.defaultModel,
		})
	}
	return views, nil
}

func (s *modelService) SetEnabled(ctx context.Context, modelIDs []string) error {
	seen := make(map[string]struct{}, len(modelIDs))
	cleaned := make([]string, 0, len(modelIDs))
	for _, id := range modelIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return apperr.Validation("model_ids 中包含空值")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		cleaned = append(cleaned, id)
	}
	if err := s.settings.SetList(ctx, EnabledModelsKey, cleaned); err != nil {
		return fmt.Errorf("failed to save enabled models: %w", err)
	}
	if c, ok := s.provider.(listingCache); ok {
		c.Invalidate()
	}
	log.Infof("[ModelService] 已启用模型更新为 %v", cleaned)
	return nil
}

func (s *modelService) ResolveModel(ctx context.Context, requested string) string {
	requested = strings.TrimSpace(requested)
	if requested == "" || requested == s.defaultModel {
		return s.defaultModel
	}
	enabled, _, err := s.settings.GetList(ctx, EnabledModelsKey)
	if err != nil {
		log.Warnf("[ModelService] 读取已启用模型失败, 使用默认模型, error: %v", err)
		return s.defaultModel
	}
	if _, ok := toSet(enabled)[requested]; ok {
		return requested
	}
	log.Warnf("[ModelService] 模型 %s 未启用, 使用默认模型 %s", requested, s.defaultModel)
	return s.defaultModel
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
