package main

import (
	"fmt"

	"github.com/visapay-next/internal/config"
	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/logger"
	"github.com/visapay-next/internal/models"
)

// 初始化五个默认支付渠道（沙箱占位配置），已存在则只刷新名称与排序，不覆盖凭证。
func main() {
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	channels := []models.Channel{
		{
			Provider: constants.ProviderQPay,
			Name:     "QPay 扫码支付",
			ConfigJSON: models.JSON(map[string]interface{}{
				"endpoint":      "https://merchant-sandbox.qpay.mn",
				"username":      "SANDBOX_MERCHANT",
				"password":      "change-me",
				"invoice_code":  "SANDBOX_INVOICE",
				"callback_base": "http://localhost:8080",
			}),
			IsActive:  false,
			SortOrder: 500,
		},
		{
			Provider: constants.ProviderSocialPay,
			Name:     "SocialPay",
			ConfigJSON: models.JSON(map[string]interface{}{
				"endpoint": "https://sp-api-sandbox.golomtbank.com",
				"terminal": "SANDBOX_TERMINAL",
				"key":      "change-me",
			}),
			IsActive:  false,
			SortOrder: 400,
		},
		{
			Provider: constants.ProviderMonpay,
			Name:     "Monpay 钱包",
			ConfigJSON: models.JSON(map[string]interface{}{
				"endpoint":      "https://wallet-sandbox.monpay.mn",
				"client_id":     "SANDBOX_CLIENT",
				"client_secret": "change-me",
				"branch_id":     "1",
			}),
			IsActive:  false,
			SortOrder: 300,
		},
		{
			Provider: constants.ProviderStorepay,
			Name:     "Storepay 分期",
			ConfigJSON: models.JSON(map[string]interface{}{
				"endpoint":   "https://service-sandbox.storepay.mn",
				"username":   "SANDBOX_MERCHANT",
				"password":   "change-me",
				"store_code": "SANDBOX_STORE",
			}),
			IsActive:  false,
			SortOrder: 200,
		},
		{
			Provider: constants.ProviderBankTransfer,
			Name:     "银行转账（人工确认）",
			ConfigJSON: models.JSON(map[string]interface{}{
				"bank_name":      "Khan Bank",
				"account_name":   "VisaPay LLC",
				"account_number": "0000000000",
			}),
			IsActive:  true,
			SortOrder: 100,
		},
	}

	for _, ch := range channels {
		var existing models.Channel
		if err := models.DB.Where("provider = ?", ch.Provider).First(&existing).Error; err != nil {
			if err := models.DB.Create(&ch).Error; err != nil {
				stdLog.Printf("Failed to create channel %s: %v", ch.Provider, err)
			} else {
				stdLog.Printf("Created channel: %s", ch.Provider)
			}
			continue
		}
		existing.Name = ch.Name
		existing.SortOrder = ch.SortOrder
		if err := models.DB.Save(&existing).Error; err != nil {
			stdLog.Printf("Failed to update channel %s: %v", ch.Provider, err)
		} else {
			stdLog.Printf("Updated channel: %s", ch.Provider)
		}
	}

	fmt.Println("\n✅ Seed data ready!")
	fmt.Println("Summary:")
	fmt.Printf("- %d payment channels (sandbox placeholders, fill real credentials before enabling)\n", len(channels))
}
