package provider

import (
	"github.com/visapay-next/internal/cache"
	"github.com/visapay-next/internal/config"
	"github.com/visapay-next/internal/constants"
	"github.com/visapay-next/internal/gateway"
	"github.com/visapay-next/internal/gateway/banktransfer"
	"github.com/visapay-next/internal/gateway/monpay"
	"github.com/visapay-next/internal/gateway/qpay"
	"github.com/visapay-next/internal/gateway/socialpay"
	"github.com/visapay-next/internal/gateway/storepay"
	"github.com/visapay-next/internal/logger"
	"github.com/visapay-next/internal/models"
	"github.com/visapay-next/internal/queue"
	"github.com/visapay-next/internal/repository"
	"github.com/visapay-next/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client
	Registry    *gateway.Registry

	// Repositories
	PaymentRepo repository.PaymentRepository
	RefundRepo  repository.RefundRepository
	EventRepo   repository.CallbackEventRepository
	ChannelRepo repository.ChannelRepository
	SummaryRepo repository.SummaryRepository

	// Services
	PaymentService   *service.PaymentService
	ReconcileService *service.ReconcileService
	RefundService    *service.RefundService
	ReportService    *service.ReportService
	ChannelService   *service.ChannelService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
		Registry:    NewGatewayRegistry(),
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化 Services
	c.initServices()

	return c
}

// NewGatewayRegistry 注册全部内建网关适配器
func NewGatewayRegistry() *gateway.Registry {
	return gateway.NewRegistry(map[string]gateway.Factory{
		constants.ProviderQPay:         qpay.Factory,
		constants.ProviderSocialPay:    socialpay.Factory,
		constants.ProviderMonpay:       monpay.Factory,
		constants.ProviderStorepay:     storepay.Factory,
		constants.ProviderBankTransfer: banktransfer.Factory,
	})
}

func (c *Container) initRepositories() {
	db := models.DB
	c.PaymentRepo = repository.NewPaymentRepository(db)
	c.RefundRepo = repository.NewRefundRepository(db)
	c.EventRepo = repository.NewCallbackEventRepository(db)
	c.ChannelRepo = repository.NewChannelRepository(db)
	c.SummaryRepo = repository.NewSummaryRepository(db)
}

func (c *Container) initServices() {
	payCfg := c.Config.Payment
	c.PaymentService = service.NewPaymentService(c.PaymentRepo, c.ChannelRepo, c.Registry, c.QueueClient, payCfg.Currency, payCfg.ExpireMinutes, payCfg.ServicePrices)
	c.ReconcileService = service.NewReconcileService(c.PaymentRepo, c.EventRepo, c.ChannelRepo, c.Registry, c.QueueClient, payCfg.PollGraceMinutes, payCfg.SweepBatchSize)
	c.RefundService = service.NewRefundService(c.PaymentRepo, c.RefundRepo, c.ChannelRepo, c.Registry)
	c.ReportService = service.NewReportService(c.SummaryRepo, c.PaymentRepo, payCfg.SummaryCacheSeconds)
	c.ChannelService = service.NewChannelService(c.ChannelRepo, c.Registry)
}
