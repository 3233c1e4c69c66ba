package public

import (
	"github.com/visapay-next/internal/http/handlers/shared"
	"github.com/visapay-next/internal/http/response"
	"github.com/visapay-next/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func requestLog(c *gin.Context) *zap.SugaredLogger {
	return shared.RequestLog(c)
}

func respondError(c *gin.Context, code int, msg string, err error) {
	shared.RespondError(c, code, msg, err)
}

func getUserID(c *gin.Context) (uint, bool) {
	return shared.GetContextUint(c, "user_id")
}

// ProviderView 对外展示的支付渠道信息
type ProviderView struct {
	Provider  string `json:"provider"`
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order"`
}

// GetProviders 列出当前可用的支付提供方
func (h *Handler) GetProviders(c *gin.Context) {
	channels, err := h.ChannelService.ListActiveProviders()
	if err != nil {
		respondError(c, response.CodeInternal, "支付渠道获取失败", err)
		return
	}
	views := make([]ProviderView, 0, len(channels))
	for _, channel := range channels {
		views = append(views, ProviderView{
			Provider:  channel.Provider,
			Name:      channel.Name,
			SortOrder: channel.SortOrder,
		})
	}
	response.Success(c, views)
}

// ownedPayment 校验支付单归属当前用户
func ownedPayment(payment *models.Payment, userID uint) bool {
	return payment != nil && payment.OwnerID == userID
}
