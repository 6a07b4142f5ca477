package constants

// 购物车状态常量
const (
	CartStatusActive    = "active"
	CartStatusConverted = "converted"
	CartStatusAbandoned = "abandoned"
)

// 购物车归属前缀常量
const (
	CartOwnerUserPrefix    = "user"
	CartOwnerSessionPrefix = "session"
)

// 结算步骤常量（顺序即向导顺序）
const (
	CheckoutStepIdentification = "identification"
	CheckoutStepAddress        = "address"
	CheckoutStepShipping       = "shipping"
	CheckoutStepPayment        = "payment"
	CheckoutStepReview         = "review"
)

// 购物车校验提示类型常量
const (
	CartAlertItemRemoved     = "item_removed"
	CartAlertOutOfStock      = "out_of_stock"
	CartAlertQuantityClamped = "quantity_clamped"
	CartAlertPriceChanged    = "price_changed"
)

// 库存预占过期基准常量
const (
	ReservationTTLBasisCreated  = "created"
	ReservationTTLBasisActivity = "activity"
)

// 队列常量
const (
	QueueDefault          = "default"
	QueueCritical         = "critical"
	TaskReservationExpire = "cart:reservation_expire"
)

// 缓存默认配置常量
const (
	RedisPrefixDefault           = "dj"
	CheckoutSessionPrefixDefault = "checkout"
)

// 币种常量
const (
	SiteCurrencyDefault = "BRL"
)
