package repository

import (
	"errors"
	"strings"

	"github.com/visapay-next/internal/models"

	"gorm.io/gorm"
)

// ChannelRepository 支付渠道数据访问接口
type ChannelRepository interface {
	Create(channel *models.Channel) error
	Update(channel *models.Channel) error
	GetByID(id uint) (*models.Channel, error)
	GetActiveByProvider(provider string) (*models.Channel, error)
	List(filter ChannelListFilter) ([]models.Channel, int64, error)
}

// GormChannelRepository GORM 实现
type GormChannelRepository struct {
	db *gorm.DB
}

// NewChannelRepository 创建支付渠道仓库
func NewChannelRepository(db *gorm.DB) *GormChannelRepository {
	return &GormChannelRepository{db: db}
}

// Create 创建支付渠道
func (r *GormChannelRepository) Create(channel *models.Channel) error {
	return r.db.Create(channel).Error
}

// Update 更新支付渠道
func (r *GormChannelRepository) Update(channel *models.Channel) error {
	return r.db.Save(channel).Error
}

// GetByID 根据 ID 获取支付渠道
func (r *GormChannelRepository) GetByID(id uint) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.First(&channel, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &channel, nil
}

// GetActiveByProvider 获取指定提供方的启用渠道
func (r *GormChannelRepository) GetActiveByProvider(provider string) (*models.Channel, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return nil, nil
	}
	var channel models.Channel
	result := r.db.Where("provider = ? AND is_active = ?", provider, true).Limit(1).Find(&channel)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &channel, nil
}

// List 支付渠道列表
func (r *GormChannelRepository) List(filter ChannelListFilter) ([]models.Channel, int64, error) {
	query := r.db.Model(&models.Channel{})

	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	var channels []models.Channel
	if err := query.Order("sort_order DESC, id ASC").Find(&channels).Error; err != nil {
		return nil, 0, err
	}
	return channels, total, nil
}
