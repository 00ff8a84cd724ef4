package llm

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"cms-assistant-go/pkg/log"
)

const modelListTTL = 10 * time.Minute

// Registry 是对编排层暴露的唯一 Provider：按模型 ID 路由到对应服务商，未知模型走默认服务商。
type Registry struct {
	defaultProvider Provider
	providers       []Provider
	listings        *expirable.LRU[string, []ModelInfo]
}

// NewRegistry 创建服务商注册表，defaultProvider 同时参与模型列表的合并。
func NewRegistry(defaultProvider Provider, others ...Provider) *Registry {
	return &Registry{
		defaultProvider: defaultProvider,
		providers:       append([]Provider{defaultProvider}, others...),
		listings:        expirable.NewLRU[string, []ModelInfo](len(others)+1, nil, modelListTTL),
	}
}

func (r *Registry) Name() string { return r.defaultProvider.Name() }

// SendMessage 把请求转发给拥有该模型的服务商。
func (r *Registry) SendMessage(ctx context.Context, req Request) (*Reply, error) {
	return r.ForModel(ctx, req.Model).SendMessage(ctx, req)
}

// ListModels 合并所有已配置凭据的服务商的模型列表。
func (r *Registry) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var (
		all     []ModelInfo
		lastErr error
		ok      bool
	)
	for _, p := range r.providers {
		models, err := r.listingFor(ctx, p)
		if err != nil {
			if !errors.Is(err, ErrMissingCredentials) {
				log.Warnf("[Registry] 拉取模型列表失败, provider: %s, error: %v", p.Name(), err)
				lastErr = err
			}
			continue
		}
		ok = true
		all = append(all, models...)
	}
	if !ok && lastErr != nil {
		return nil, lastErr
	}
	sortModels(all)
	return all, nil
}

// ForModel 返回拥有 modelID 的服务商；列表不可用或未找到时返回默认服务商。
func (r *Registry) ForModel(ctx context.Context, modelID string) Provider {
	if modelID == "" {
		return r.defaultProvider
	}
	for _, p := range r.providers {
		models, err := r.listingFor(ctx, p)
		if err != nil {
			continue
		}
		for _, m := range models {
			if m.ID == modelID {
				return p
			}
		}
	}
	return r.defaultProvider
}

// Transcriber 返回第一个支持语音转写的服务商。
func (r *Registry) Transcriber() (Transcriber, bool) {
	for _, p := range r.providers {
		if t, ok := p.(Transcriber); ok {
			return t, true
		}
	}
	return nil, false
}

// Transcribe 使用第一个支持语音转写的服务商。
func (r *Registry) Transcribe(ctx context.Context, audio io.Reader, fileName string) (string, error) {
	t, ok := r.Transcriber()
	if !ok {
		return "", ErrMissingCredentials
	}
	return t.Transcribe(ctx, audio, fileName)
}

// Invalidate 清空模型列表缓存。
func (r *Registry) Invalidate() {
	r.listings.Purge()
}

func (r *Registry) listingFor(ctx context.Context, p Provider) ([]ModelInfo, error) {
	if models, ok := r.listings.Get(p.Name()); ok {
		return models, nil
	}
	models, err := p.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	r.listings.Add(p.Name(), models)
	return models, nil
}
