package constants

// 支付状态常量
const (
	PaymentStatusPending           = "pending"
	PaymentStatusProcessing        = "processing"
	PaymentStatusPaid              = "paid"
	PaymentStatusFailed            = "failed"
	PaymentStatusCancelled         = "cancelled"
	PaymentStatusRefunded          = "refunded"
	PaymentStatusPartiallyRefunded = "partially_refunded"
)

// 支付提供方常量
const (
	ProviderQPay         = "qpay"
	ProviderSocialPay    = "socialpay"
	ProviderMonpay       = "monpay"
	ProviderStorepay     = "storepay"
	ProviderBankTransfer = "bank_transfer"
)

// 支持的提供方顺序（渠道列表展示顺序）
var SupportedProviders = []string{
	ProviderQPay,
	ProviderSocialPay,
	ProviderMonpay,
	ProviderStorepay,
	ProviderBankTransfer,
}

// 业务类型常量
const (
	ServiceTypeApplication  = "application"
	ServiceTypeConsultation = "consultation"
	ServiceTypeTranslation  = "translation"
	ServiceTypeExpress      = "express"
)

// 支持的业务类型顺序
var SupportedServiceTypes = []string{
	ServiceTypeApplication,
	ServiceTypeConsultation,
	ServiceTypeTranslation,
	ServiceTypeExpress,
}

// 对账观察来源常量
const (
	ObservationSourceWebhook = "webhook"
	ObservationSourcePoll    = "poll"
	ObservationSourceSweep   = "sweep"
	ObservationSourceAdmin   = "admin"
)

// 队列常量
const (
	QueueDefault      = "default"
	TaskPaymentExpire = "payment:timeout_expire"
	TaskPaymentPoll   = "payment:poll_status"
)

// 缓存默认配置常量
const (
	RedisPrefixDefault = "vp"
)

// 币种常量
const (
	SiteCurrencyDefault = "MNT"
)

// 发票号前缀常量
const (
	InvoiceNoPrefix = "VP"
)
