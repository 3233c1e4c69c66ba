package admin

import (
	"strconv"
	"strings"

	"github.com/visapay-next/internal/http/response"
	"github.com/visapay-next/internal/repository"
	"github.com/visapay-next/internal/service"

	"github.com/gin-gonic/gin"
)

// ChannelRequest 渠道创建/更新请求
type ChannelRequest struct {
	Provider  string                 `json:"provider"`
	Name      string                 `json:"name"`
	Config    map[string]interface{} `json:"config"`
	IsActive  *bool                  `json:"is_active"`
	SortOrder *int                   `json:"sort_order"`
}

// GetChannels 获取支付渠道列表
func (h *Handler) GetChannels(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)

	filter := repository.ChannelListFilter{
		Page:       page,
		PageSize:   pageSize,
		Provider:   strings.TrimSpace(c.Query("provider")),
		ActiveOnly: c.Query("active_only") == "true",
	}
	channels, total, err := h.ChannelService.ListChannels(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "支付渠道列表获取失败", err)
		return
	}
	response.SuccessWithPage(c, channels, response.BuildPagination(page, pageSize, total))
}

// GetChannel 获取支付渠道详情
func (h *Handler) GetChannel(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, response.CodeBadRequest, "渠道 ID 非法", err)
		return
	}
	channel, err := h.ChannelService.GetChannel(uint(id))
	if err != nil {
		respondWithMappedError(c, err, channelErrorRules, response.CodeInternal, "支付渠道获取失败")
		return
	}
	response.Success(c, channel)
}

// CreateChannel 创建支付渠道
func (h *Handler) CreateChannel(c *gin.Context) {
	var req ChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数非法", err)
		return
	}
	channel, err := h.ChannelService.CreateChannel(service.ChannelInput{
		Provider:  req.Provider,
		Name:      req.Name,
		Config:    req.Config,
		IsActive:  req.IsActive,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		respondWithMappedError(c, err, channelErrorRules, response.CodeInternal, "支付渠道创建失败")
		return
	}
	response.Success(c, channel)
}

// UpdateChannel 更新支付渠道
func (h *Handler) UpdateChannel(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, response.CodeBadRequest, "渠道 ID 非法", err)
		return
	}
	var req ChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数非法", err)
		return
	}
	channel, err := h.ChannelService.UpdateChannel(uint(id), service.ChannelInput{
		Provider:  req.Provider,
		Name:      req.Name,
		Config:    req.Config,
		IsActive:  req.IsActive,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		respondWithMappedError(c, err, channelErrorRules, response.CodeInternal, "支付渠道更新失败")
		return
	}
	response.Success(c, channel)
}
