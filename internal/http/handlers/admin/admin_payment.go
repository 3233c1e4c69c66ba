package admin

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/visapay-next/internal/http/response"
	"github.com/visapay-next/internal/models"
	"github.com/visapay-next/internal/repository"
	"github.com/visapay-next/internal/service"

	"github.com/gin-gonic/gin"
)

// GetPayments 获取支付单列表
func (h *Handler) GetPayments(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)

	filter, err := buildPaymentFilter(c, page, pageSize)
	if err != nil {
		respondError(c, response.CodeBadRequest, "筛选参数非法", err)
		return
	}

	payments, total, err := h.PaymentService.ListPayments(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "支付单列表获取失败", err)
		return
	}
	response.SuccessWithPage(c, payments, response.BuildPagination(page, pageSize, total))
}

// PaymentDetail 支付单详情返回
type PaymentDetail struct {
	Payment *models.Payment        `json:"payment"`
	Refunds []models.RefundEntry   `json:"refunds"`
	Events  []models.CallbackEvent `json:"events"`
}

// GetPayment 获取支付单详情（含退款明细与观测事件）
func (h *Handler) GetPayment(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, response.CodeBadRequest, "支付单 ID 非法", err)
		return
	}

	payment, err := h.PaymentService.GetPayment(uint(id))
	if err != nil {
		respondError(c, response.CodeNotFound, "支付单不存在", nil)
		return
	}

	refunds, err := h.RefundService.ListRefunds(payment.ID)
	if err != nil {
		respondError(c, response.CodeInternal, "退款明细获取失败", err)
		return
	}
	events := make([]models.CallbackEvent, 0)
	if payment.GatewayInvoiceID != "" {
		events, err = h.EventRepo.ListByGatewayInvoiceID(payment.GatewayInvoiceID)
		if err != nil {
			respondError(c, response.CodeInternal, "观测事件获取失败", err)
			return
		}
	}

	response.Success(c, PaymentDetail{
		Payment: payment,
		Refunds: refunds,
		Events:  events,
	})
}

// RefundPaymentRequest 发起退款请求，金额缺省时退剩余可退全额
type RefundPaymentRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// RefundPayment 对支付单发起（部分）退款
func (h *Handler) RefundPayment(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, response.CodeBadRequest, "支付单 ID 非法", err)
		return
	}

	var req RefundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数非法", err)
		return
	}

	payment, entry, err := h.RefundService.RefundPayment(c.Request.Context(), service.RefundInput{
		PaymentID: uint(id),
		Amount:    req.Amount,
		Reason:    req.Reason,
		ActorID:   adminID,
	})
	if err != nil {
		respondWithMappedError(c, err, refundErrorRules, response.CodeInternal, "退款失败")
		return
	}
	response.Success(c, gin.H{
		"payment": payment,
		"refund":  entry,
	})
}

// ConfirmPaymentRequest 人工确认到账请求
type ConfirmPaymentRequest struct {
	Note string `json:"note"`
}

// ConfirmPayment 人工确认到账（银行转账等线下渠道）
func (h *Handler) ConfirmPayment(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, response.CodeBadRequest, "支付单 ID 非法", err)
		return
	}

	var req ConfirmPaymentRequest
	_ = c.ShouldBindJSON(&req)

	payment, err := h.ReconcileService.ConfirmManual(uint(id), adminID, req.Note)
	if err != nil {
		respondWithMappedError(c, err, confirmErrorRules, response.CodeInternal, "人工确认失败")
		return
	}
	response.Success(c, payment)
}

// GetPaymentSummary 获取支付汇总报表
func (h *Handler) GetPaymentSummary(c *gin.Context) {
	startAt, err := parseTimeQuery(c.Query("start_at"))
	if err != nil {
		respondError(c, response.CodeBadRequest, "起始时间非法", err)
		return
	}
	endAt, err := parseTimeQuery(c.Query("end_at"))
	if err != nil {
		respondError(c, response.CodeBadRequest, "结束时间非法", err)
		return
	}

	summary, err := h.ReportService.GetSummary(c.Request.Context(), startAt, endAt)
	if err != nil {
		respondWithMappedError(c, err, summaryErrorRules, response.CodeInternal, "汇总报表获取失败")
		return
	}
	response.Success(c, summary)
}

// ExportPayments 导出支付流水 CSV
func (h *Handler) ExportPayments(c *gin.Context) {
	filter, err := buildPaymentFilter(c, 1, 0)
	if err != nil {
		respondError(c, response.CodeBadRequest, "筛选参数非法", err)
		return
	}

	filename := fmt.Sprintf("payments_%s.csv", time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))

	if err := h.ReportService.ExportPaymentsCSV(c.Writer, filter); err != nil {
		requestLog(c).Errorw("admin_payment_export_failed", "error", err)
	}
}

func buildPaymentFilter(c *gin.Context, page, pageSize int) (repository.PaymentListFilter, error) {
	filter := repository.PaymentListFilter{
		Page:        page,
		PageSize:    pageSize,
		Provider:    strings.TrimSpace(c.Query("provider")),
		ServiceType: strings.TrimSpace(c.Query("service_type")),
		Status:      strings.TrimSpace(c.Query("status")),
		InvoiceNo:   strings.TrimSpace(c.Query("invoice_no")),
	}
	if raw := strings.TrimSpace(c.Query("owner_id")); raw != "" {
		ownerID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, err
		}
		filter.OwnerID = uint(ownerID)
	}
	createdFrom, err := parseTimeQuery(c.Query("created_from"))
	if err != nil {
		return filter, err
	}
	filter.CreatedFrom = createdFrom
	createdTo, err := parseTimeQuery(c.Query("created_to"))
	if err != nil {
		return filter, err
	}
	filter.CreatedTo = createdTo
	return filter, nil
}

// parseTimeQuery 解析时间查询参数，支持 RFC3339 与 2006-01-02
func parseTimeQuery(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return &parsed, nil
	}
	parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
