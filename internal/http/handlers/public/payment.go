package public

import (
	"github.com/visapay-next/internal/http/response"
	"github.com/visapay-next/internal/service"

	"github.com/gin-gonic/gin"
)

// CreatePaymentRequest 创建支付单请求
type CreatePaymentRequest struct {
	ServiceType    string            `json:"service_type" binding:"required"`
	Provider       string            `json:"provider" binding:"required"`
	Amount         int64             `json:"amount"`
	ApplicationRef string            `json:"application_ref"`
	Description    string            `json:"description"`
	Metadata       map[string]string `json:"metadata"`
}

// CreatePayment 创建支付单
func (h *Handler) CreatePayment(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数非法", err)
		return
	}

	payment, err := h.PaymentService.CreatePayment(c.Request.Context(), service.CreatePaymentInput{
		OwnerID:        userID,
		ServiceType:    req.ServiceType,
		Provider:       req.Provider,
		Amount:         req.Amount,
		ApplicationRef: req.ApplicationRef,
		Description:    req.Description,
		Metadata:       req.Metadata,
	})
	if err != nil {
		respondWithMappedError(c, err, paymentCreateErrorRules, response.CodeInternal, "支付单创建失败")
		return
	}
	response.Success(c, payment)
}

// GetPayment 查询本人支付单
func (h *Handler) GetPayment(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	payment, err := h.PaymentService.GetPaymentByInvoiceNo(c.Param("invoice_no"))
	if err != nil {
		respondError(c, response.CodeNotFound, "支付单不存在", nil)
		return
	}
	if !ownedPayment(payment, userID) {
		response.Forbidden(c, "无权访问该支付单")
		return
	}
	response.Success(c, payment)
}

// CancelPayment 取消本人待支付单
func (h *Handler) CancelPayment(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	payment, err := h.PaymentService.GetPaymentByInvoiceNo(c.Param("invoice_no"))
	if err != nil {
		respondError(c, response.CodeNotFound, "支付单不存在", nil)
		return
	}
	if !ownedPayment(payment, userID) {
		response.Forbidden(c, "无权访问该支付单")
		return
	}

	cancelled, err := h.PaymentService.CancelPayment(payment.ID)
	if err != nil {
		respondWithMappedError(c, err, paymentCancelErrorRules, response.CodeInternal, "支付单取消失败")
		return
	}
	response.Success(c, cancelled)
}
