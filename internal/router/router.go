package router

import (
	"fmt"
	"strings"

	"github.com/visapay-next/internal/cache"
	"github.com/visapay-next/internal/config"
	adminhandlers "github.com/visapay-next/internal/http/handlers/admin"
	publichandlers "github.com/visapay-next/internal/http/handlers/public"
	"github.com/visapay-next/internal/logger"
	"github.com/visapay-next/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	// 初始化 Handler（按前台/后台分组）
	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "vp"
	}
	redisClient := cache.Client()
	callbackRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:callback", redisPrefix),
		WindowSeconds: cfg.Security.CallbackRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.CallbackRateLimit.MaxRequests,
		Message:       "回调请求过于频繁",
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// API 路由组
	apiV1 := r.Group("/api/v1")
	{
		// 公开接口
		public := apiV1.Group("/public")
		{
			public.GET("/providers", publicHandler.GetProviders)
		}

		// 网关异步回调（部分网关以 GET 携带 query 回调）
		callbackLimiter := RateLimitMiddleware(redisClient, callbackRule, KeyByProviderAndIP)
		apiV1.POST("/payments/callback/:provider", callbackLimiter, publicHandler.PaymentCallback)
		apiV1.GET("/payments/callback/:provider", callbackLimiter, publicHandler.PaymentCallback)

		// 用户接口（需鉴权）
		user := apiV1.Group("")
		user.Use(UserJWTAuthMiddleware(cfg.JWT.SecretKey))
		{
			user.POST("/payments", publicHandler.CreatePayment)
			user.GET("/payments/:invoice_no", publicHandler.GetPayment)
			user.POST("/payments/:invoice_no/cancel", publicHandler.CancelPayment)
		}

		// 管理员接口
		admin := apiV1.Group("/admin")
		admin.Use(JWTAuthMiddleware(cfg.JWT.SecretKey))
		{
			// 支付单管理
			admin.GET("/payments", adminHandler.GetPayments)
			admin.GET("/payments/summary", adminHandler.GetPaymentSummary)
			admin.GET("/payments/export", adminHandler.ExportPayments)
			admin.GET("/payments/:id", adminHandler.GetPayment)
			admin.POST("/payments/:id/refund", adminHandler.RefundPayment)
			admin.POST("/payments/:id/confirm", adminHandler.ConfirmPayment)

			// 支付渠道管理
			admin.GET("/channels", adminHandler.GetChannels)
			admin.GET("/channels/:id", adminHandler.GetChannel)
			admin.POST("/channels", adminHandler.CreateChannel)
			admin.PUT("/channels/:id", adminHandler.UpdateChannel)
		}
	}

	return r
}
