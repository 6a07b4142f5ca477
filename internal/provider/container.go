package provider

import (
	"github.com/dujiao-next/cart-core/internal/cache"
	"github.com/dujiao-next/cart-core/internal/config"
	"github.com/dujiao-next/cart-core/internal/logger"
	"github.com/dujiao-next/cart-core/internal/models"
	"github.com/dujiao-next/cart-core/internal/queue"
	"github.com/dujiao-next/cart-core/internal/repository"
	"github.com/dujiao-next/cart-core/internal/service"

	"gorm.io/gorm"
)

// Collaborators 外部协作方（计价、下单）
type Collaborators struct {
	Discounts   service.DiscountProvider
	OrderPlacer service.OrderPlacer
}

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// Repositories
	CartRepo            repository.CartRepository
	StockRepo           repository.StockRepository
	ReservationRepo     repository.ReservationRepository
	CheckoutSessionRepo repository.CheckoutSessionRepository

	// Services
	ReservationLedger     *service.ReservationLedger
	CartService           *service.CartService
	CartValidationService *service.CartValidationService
	CartMergeService      *service.CartMergeService
	CheckoutStore         service.CheckoutStore
	DBCheckoutStore       *service.DBCheckoutStore
	CheckoutService       *service.CheckoutService
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

	c := Build(cfg, models.DB, Collaborators{})
	c.QueueClient = queueClient
	return c
}

// Build 基于指定数据库构建容器（不初始化 Redis 与队列）
func Build(cfg *config.Config, db *gorm.DB, collaborators Collaborators) *Container {
	c := &Container{Config: cfg}

	// 1. 初始化 Repositories
	c.initRepositories(db)

	// 2. 初始化 Services
	c.initServices(collaborators)

	return c
}

func (c *Container) initRepositories(db *gorm.DB) {
	cartRepo := repository.NewCartRepository(db)
	if c.Config != nil {
		cartRepo.WithLockTimeout(c.Config.Cart.LockTimeout())
	}
	c.CartRepo = cartRepo
	c.StockRepo = repository.NewStockRepository(db)
	c.ReservationRepo = repository.NewReservationRepository(db)
	c.CheckoutSessionRepo = repository.NewCheckoutSessionRepository(db)
}

func (c *Container) initServices(collaborators Collaborators) {
	cartCfg := c.Config.Cart
	checkoutCfg := c.Config.Checkout

	c.ReservationLedger = service.NewReservationLedger(c.ReservationRepo, c.StockRepo, cartCfg.ReservationTTLBasis)
	c.CartService = service.NewCartService(c.CartRepo, c.StockRepo, c.ReservationLedger, collaborators.Discounts, cartCfg.Currency)
	c.CartValidationService = service.NewCartValidationService(c.CartService)
	c.CartMergeService = service.NewCartMergeService(c.CartService, cartCfg.MergeMaxAttempts, cartCfg.MergeRetryBackoff())

	c.DBCheckoutStore = service.NewDBCheckoutStore(c.CheckoutSessionRepo, checkoutCfg.SessionTTL())
	if cache.Enabled() {
		c.CheckoutStore = service.NewRedisCheckoutStore(checkoutCfg.SessionKeyPrefix, checkoutCfg.SessionTTL())
	} else {
		c.CheckoutStore = c.DBCheckoutStore
	}
	c.CheckoutService = service.NewCheckoutService(c.CartService, c.CartValidationService, c.CheckoutStore, collaborators.OrderPlacer)
}

// Close 释放外部连接
func (c *Container) Close() {
	if c == nil {
		return
	}
	if err := c.QueueClient.Close(); err != nil {
		logger.Warnw("provider_close_queue_client_failed", "error", err)
	}
	if err := cache.Close(); err != nil {
		logger.Warnw("provider_close_redis_failed", "error", err)
	}
}
