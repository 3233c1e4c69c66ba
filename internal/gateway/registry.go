package gateway

import (
	"fmt"
	"strings"
)

// Factory 根据渠道配置构建适配器
type Factory func(raw map[string]interface{}) (Adapter, error)

// Registry 提供方到适配器工厂的映射
type Registry struct {
	factories map[string]Factory
}

// NewRegistry 创建适配器注册表
func NewRegistry(factories map[string]Factory) *Registry {
	normalized := make(map[string]Factory, len(factories))
	for provider, factory := range factories {
		key := strings.ToLower(strings.TrimSpace(provider))
		if key == "" || factory == nil {
			continue
		}
		normalized[key] = factory
	}
	return &Registry{factories: normalized}
}

// Supports 判断提供方是否已注册
func (r *Registry) Supports(provider string) bool {
	_, ok := r.factories[strings.ToLower(strings.TrimSpace(provider))]
	return ok
}

// Resolve 根据提供方与渠道配置构建适配器
func (r *Registry) Resolve(provider string, raw map[string]interface{}) (Adapter, error) {
	factory, ok := r.factories[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %s", ErrConfigInvalid, provider)
	}
	return factory(raw)
}
