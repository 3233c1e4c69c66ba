package service

import (
	"strings"

	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/models"
	"github.com/visapay-next/internal/repository"
)

// ChannelService 支付渠道管理服务
type ChannelService struct {
	channelRepo repository.ChannelRepository
	resolver    AdapterResolver
}

// NewChannelService 创建支付渠道管理服务
func NewChannelService(channelRepo repository.ChannelRepository, resolver AdapterResolver) *ChannelService {
	return &ChannelService{
		channelRepo: channelRepo,
		resolver:    resolver,
	}
}

// ChannelInput 渠道创建/更新输入
type ChannelInput struct {
	Provider  string
	Name      string
	Config    map[string]interface{}
	IsActive  *bool
	SortOrder *int
}

// CreateChannel 创建支付渠道，配置需能构建出对应适配器
func (s *ChannelService) CreateChannel(input ChannelInput) (*models.Channel, error) {
	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	if !isSupportedProvider(provider) {
		return nil, ErrChannelConfigInvalid
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrChannelConfigInvalid
	}
	if _, err := s.resolver.Resolve(provider, input.Config); err != nil {
		return nil, ErrChannelConfigInvalid
	}

	existing, _, err := s.channelRepo.List(repository.ChannelListFilter{Provider: provider, PageSize: 1})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, ErrChannelExists
	}

	channel := &models.Channel{
		Provider:   provider,
		Name:       name,
		ConfigJSON: models.JSON(input.Config),
		IsActive:   true,
	}
	if input.IsActive != nil {
		channel.IsActive = *input.IsActive
	}
	if input.SortOrder != nil {
		channel.SortOrder = *input.SortOrder
	}
	if err := s.channelRepo.Create(channel); err != nil {
		return nil, err
	}
	paymentLogger("provider", provider, "channel_id", channel.ID).Infow("payment_channel_created")
	return channel, nil
}

// UpdateChannel 更新支付渠道。Provider 不可变更，配置变更需重新通过适配器校验。
func (s *ChannelService) UpdateChannel(id uint, input ChannelInput) (*models.Channel, error) {
	channel, err := s.channelRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return nil, ErrChannelNotFound
	}

	if name := strings.TrimSpace(input.Name); name != "" {
		channel.Name = name
	}
	if input.Config != nil {
		if _, err := s.resolver.Resolve(channel.Provider, input.Config); err != nil {
			return nil, ErrChannelConfigInvalid
		}
		channel.ConfigJSON = models.JSON(input.Config)
	}
	if input.IsActive != nil {
		channel.IsActive = *input.IsActive
	}
	if input.SortOrder != nil {
		channel.SortOrder = *input.SortOrder
	}

	if err := s.channelRepo.Update(channel); err != nil {
		return nil, err
	}
	paymentLogger("provider", channel.Provider, "channel_id", channel.ID).Infow("payment_channel_updated")
	return channel, nil
}

// GetChannel 按 ID 获取支付渠道
func (s *ChannelService) GetChannel(id uint) (*models.Channel, error) {
	channel, err := s.channelRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return nil, ErrChannelNotFound
	}
	return channel, nil
}

// ListChannels 支付渠道列表
func (s *ChannelService) ListChannels(filter repository.ChannelListFilter) ([]models.Channel, int64, error) {
	return s.channelRepo.List(filter)
}

// ListActiveProviders 列出当前可用的提供方（对外收银台展示用）
func (s *ChannelService) ListActiveProviders() ([]models.Channel, error) {
	channels, _, err := s.channelRepo.List(repository.ChannelListFilter{ActiveOnly: true, PageSize: 100})
	if err != nil {
		return nil, err
	}
	return channels, nil
}

func isSupportedProvider(provider string) bool {
	for _, candidate := range constants.SupportedProviders {
		if candidate == provider {
			return true
		}
	}
	return false
}
