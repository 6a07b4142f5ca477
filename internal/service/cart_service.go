package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dujiao-next/cart-core/internal/constants"
	"github.com/dujiao-next/cart-core/internal/logger"
	"github.com/dujiao-next/cart-core/internal/models"
	"github.com/dujiao-next/cart-core/internal/repository"

	"gorm.io/gorm"
)

// CartOwner 购物车归属（用户与匿名会话二选一）
type CartOwner struct {
	UserID    uint
	SessionID string
}

// Key 生成归属键
func (o CartOwner) Key() (string, error) {
	sessionID := strings.TrimSpace(o.SessionID)
	switch {
	case o.UserID > 0 && sessionID != "":
		return "", ErrInvalidOwner
	case o.UserID > 0:
		return userOwnerKey(o.UserID), nil
	case sessionID != "":
		return sessionOwnerKey(sessionID), nil
	default:
		return "", ErrInvalidOwner
	}
}

func userOwnerKey(userID uint) string {
	return fmt.Sprintf("%s:%d", constants.CartOwnerUserPrefix, userID)
}

func sessionOwnerKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", constants.CartOwnerSessionPrefix, strings.TrimSpace(sessionID))
}

// checkoutClaimLease 下单占用有效期，超时视为占用方已失效
const checkoutClaimLease = 5 * time.Minute

// DiscountProvider 外部计价协作方（优惠金额透传）
type DiscountProvider interface {
	Discount(ctx context.Context, cart *models.Cart) (int64, error)
}

// NoDiscount 不提供优惠
type NoDiscount struct{}

// Discount 返回 0
func (NoDiscount) Discount(ctx context.Context, cart *models.Cart) (int64, error) {
	return 0, nil
}

// AddCartItemInput 加购输入
type AddCartItemInput struct {
	CartID    uint
	ProductID uint
	SKUID     uint
	Quantity  int
}

// CartService 购物车服务
type CartService struct {
	cartRepo  repository.CartRepository
	stockRepo repository.StockRepository
	ledger    *ReservationLedger
	discounts DiscountProvider
	currency  string
}

// NewCartService 创建购物车服务
func NewCartService(cartRepo repository.CartRepository, stockRepo repository.StockRepository, ledger *ReservationLedger, discounts DiscountProvider, currency string) *CartService {
	if discounts == nil {
		discounts = NoDiscount{}
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = constants.SiteCurrencyDefault
	}
	return &CartService{
		cartRepo:  cartRepo,
		stockRepo: stockRepo,
		ledger:    ledger,
		discounts: discounts,
		currency:  currency,
	}
}

// Ledger 返回库存预占账本
func (s *CartService) Ledger() *ReservationLedger {
	return s.ledger
}

// GetOrCreate 获取归属的活跃购物车，不存在时创建
func (s *CartService) GetOrCreate(ctx context.Context, owner CartOwner) (*models.Cart, error) {
	ownerKey, err := owner.Key()
	if err != nil {
		return nil, err
	}
	repo := s.cartRepo.WithContext(ctx)
	cart, err := repo.GetActiveByOwnerKey(ownerKey)
	if err != nil {
		return nil, err
	}
	if cart != nil {
		return cart, nil
	}

	cart = s.newCart(owner, ownerKey)
	if err := repo.Create(cart); err != nil {
		if !repository.IsDuplicateKey(err) {
			return nil, err
		}
		// 并发创建，读取胜出方
		existing, readErr := repo.GetActiveByOwnerKey(ownerKey)
		if readErr != nil {
			return nil, readErr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}
	logger.ForCart(cart.ID).Debugw("cart_created", "owner_key", ownerKey)
	return cart, nil
}

// newCart 构造归属的空购物车
func (s *CartService) newCart(owner CartOwner, ownerKey string) *models.Cart {
	cart := &models.Cart{
		OwnerKey: &ownerKey,
		Status:   constants.CartStatusActive,
		Currency: s.currency,
		Items:    []models.CartItem{},
	}
	if owner.UserID > 0 {
		userID := owner.UserID
		cart.UserID = &userID
	} else {
		sessionID := strings.TrimSpace(owner.SessionID)
		cart.SessionID = &sessionID
	}
	return cart
}

// Get 获取购物车（含购物车项）
func (s *CartService) Get(ctx context.Context, cartID uint) (*models.Cart, error) {
	cart, err := s.cartRepo.WithContext(ctx).GetByID(cartID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, ErrCartNotFound
	}
	return cart, nil
}

// AddItem 加购；同一商品+规格已存在时累加数量
func (s *CartService) AddItem(ctx context.Context, input AddCartItemInput) (*models.CartItem, error) {
	if input.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if input.ProductID == 0 {
		return nil, ErrProductUnavailable
	}
	var result *models.CartItem
	err := s.cartRepo.Transaction(ctx, func(tx *gorm.DB) error {
		cart, err := s.lockMutableCart(tx, input.CartID)
		if err != nil {
			return err
		}
		unitPrice, err := s.resolvePurchasable(tx, input.ProductID, input.SKUID)
		if err != nil {
			return err
		}
		ref := repository.StockRef{ProductID: input.ProductID, SKUID: input.SKUID}
		repo := s.cartRepo.WithTx(tx)

		item := cart.FindItem(input.ProductID, input.SKUID)
		if item != nil {
			quantity := item.Quantity + input.Quantity
			if err := s.ledger.Reserve(tx, ref, quantity, ReservationOwner{CartID: cart.ID, CartItemID: item.ID}); err != nil {
				return err
			}
			item.Quantity = quantity
			if err := repo.UpdateItem(item); err != nil {
				return err
			}
		} else {
			item = &models.CartItem{
				CartID:    cart.ID,
				ProductID: input.ProductID,
				SKUID:     input.SKUID,
				Quantity:  input.Quantity,
				UnitPrice: unitPrice,
			}
			if err := repo.CreateItem(item); err != nil {
				return err
			}
			if err := s.ledger.Reserve(tx, ref, input.Quantity, ReservationOwner{CartID: cart.ID, CartItemID: item.ID}); err != nil {
				return err
			}
		}
		if err := s.recalculateTx(ctx, tx, cart); err != nil {
			return err
		}
		copied := *item
		result = &copied
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.ForCart(result.CartID).Infow("cart_item_added",
		"item_id", result.ID,
		"product_id", result.ProductID,
		"sku_id", result.SKUID,
		"quantity", result.Quantity,
	)
	return result, nil
}

// UpdateQuantity 修改购物车项数量（数量须大于 0，删除请使用 RemoveItem）
func (s *CartService) UpdateQuantity(ctx context.Context, itemID uint, quantity int) (*models.CartItem, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	existing, err := s.cartRepo.WithContext(ctx).GetItem(itemID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrItemNotFound
	}
	var result *models.CartItem
	err = s.cartRepo.Transaction(ctx, func(tx *gorm.DB) error {
		cart, err := s.lockMutableCart(tx, existing.CartID)
		if err != nil {
			return err
		}
		item := cart.FindItem(existing.ProductID, existing.SKUID)
		if item == nil || item.ID != existing.ID {
			return ErrItemNotFound
		}
		if _, err := s.resolvePurchasable(tx, item.ProductID, item.SKUID); err != nil {
			return err
		}
		ref := repository.StockRef{ProductID: item.ProductID, SKUID: item.SKUID}
		if err := s.ledger.Reserve(tx, ref, quantity, ReservationOwner{CartID: cart.ID, CartItemID: item.ID}); err != nil {
			return err
		}
		item.Quantity = quantity
		if err := s.cartRepo.WithTx(tx).UpdateItem(item); err != nil {
			return err
		}
		if err := s.recalculateTx(ctx, tx, cart); err != nil {
			return err
		}
		copied := *item
		result = &copied
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.ForCart(result.CartID).Infow("cart_item_quantity_updated", "item_id", result.ID, "quantity", result.Quantity)
	return result, nil
}

// RemoveItem 删除购物车项及其预占（幂等）；购物车已关闭时返回 ErrCartNotActive
func (s *CartService) RemoveItem(ctx context.Context, itemID uint) error {
	existing, err := s.cartRepo.WithContext(ctx).GetItem(itemID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	err = s.cartRepo.Transaction(ctx, func(tx *gorm.DB) error {
		cart, err := s.cartRepo.WithTx(tx).GetByIDForUpdate(existing.CartID, false)
		if err != nil {
			return err
		}
		if cart == nil {
			return nil
		}
		if !cart.IsActive() {
			return ErrCartNotActive
		}
		if cart.CheckoutClaimed(time.Now(), checkoutClaimLease) {
			return ErrCheckoutInProgress
		}
		if err := s.ledger.Release(tx, existing.ID); err != nil {
			return err
		}
		affected, err := s.cartRepo.WithTx(tx).DeleteItem(existing.ID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		return s.recalculateTx(ctx, tx, cart)
	})
	if err != nil {
		return err
	}
	logger.ForCart(existing.CartID).Infow("cart_item_removed", "item_id", existing.ID)
	return nil
}

// Recalculate 重新计算购物车金额
func (s *CartService) Recalculate(ctx context.Context, cartID uint) (*models.Cart, error) {
	var result *models.Cart
	err := s.cartRepo.Transaction(ctx, func(tx *gorm.DB) error {
		cart, err := s.cartRepo.WithTx(tx).GetByIDForUpdate(cartID, false)
		if err != nil {
			return err
		}
		if cart == nil {
			return ErrCartNotFound
		}
		if err := s.recalculateTx(ctx, tx, cart); err != nil {
			return err
		}
		result = cart
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkConverted 标记购物车已转化为订单并释放预占，需在事务内调用
func (s *CartService) MarkConverted(tx *gorm.DB, cartID uint) error {
	return s.closeTx(tx, cartID, constants.CartStatusConverted)
}

// Abandon 放弃购物车并释放预占
func (s *CartService) Abandon(ctx context.Context, cartID uint) error {
	err := s.cartRepo.Transaction(ctx, func(tx *gorm.DB) error {
		return s.closeTx(tx, cartID, constants.CartStatusAbandoned)
	})
	if err != nil {
		return err
	}
	logger.ForCart(cartID).Infow("cart_abandoned")
	return nil
}

// Convert 在独立事务中标记购物车已转化
func (s *CartService) Convert(ctx context.Context, cartID uint) error {
	err := s.cartRepo.Transaction(ctx, func(tx *gorm.DB) error {
		return s.MarkConverted(tx, cartID)
	})
	if err != nil {
		return err
	}
	logger.ForCart(cartID).Infow("cart_converted")
	return nil
}

func (s *CartService) closeTx(tx *gorm.DB, cartID uint, status string) error {
	cart, err := s.lockActiveCart(tx, cartID)
	if err != nil {
		return err
	}
	if err := s.ledger.ReleaseCart(tx, cart.ID); err != nil {
		return err
	}
	cart.Status = status
	cart.OwnerKey = nil
	cart.CheckoutKey = nil
	cart.CheckoutAt = nil
	if status == constants.CartStatusConverted {
		now := time.Now()
		cart.ConvertedAt = &now
	}
	return s.cartRepo.WithTx(tx).Update(cart)
}

// lockActiveCart 锁定活跃购物车
func (s *CartService) lockActiveCart(tx *gorm.DB, cartID uint) (*models.Cart, error) {
	if cartID == 0 {
		return nil, ErrCartNotFound
	}
	cart, err := s.cartRepo.WithTx(tx).GetByIDForUpdate(cartID, false)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, ErrCartNotFound
	}
	if !cart.IsActive() {
		return nil, ErrCartNotActive
	}
	return cart, nil
}

// lockMutableCart 锁定可修改的活跃购物车，下单占用期间返回 ErrCheckoutInProgress
func (s *CartService) lockMutableCart(tx *gorm.DB, cartID uint) (*models.Cart, error) {
	cart, err := s.lockActiveCart(tx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.CheckoutClaimed(time.Now(), checkoutClaimLease) {
		return nil, ErrCheckoutInProgress
	}
	return cart, nil
}

// claimCheckoutTx 以结算会话键占用已加锁的购物车，占用期间拒绝修改与重复下单
func (s *CartService) claimCheckoutTx(tx *gorm.DB, cart *models.Cart, sessionKey string) error {
	now := time.Now()
	key := sessionKey
	cart.CheckoutKey = &key
	cart.CheckoutAt = &now
	return s.cartRepo.WithTx(tx).Update(cart)
}

// ReleaseCheckout 解除结算会话对购物车的占用（仅占用方可解除）
func (s *CartService) ReleaseCheckout(ctx context.Context, cartID uint, sessionKey string) error {
	return s.cartRepo.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.cartRepo.WithTx(tx)
		cart, err := repo.GetByIDForUpdate(cartID, false)
		if err != nil {
			return err
		}
		if cart == nil || cart.CheckoutKey == nil || *cart.CheckoutKey != sessionKey {
			return nil
		}
		cart.CheckoutKey = nil
		cart.CheckoutAt = nil
		return repo.Update(cart)
	})
}

// resolvePurchasable 校验商品/规格可购买并返回当前售价
func (s *CartService) resolvePurchasable(tx *gorm.DB, productID, skuID uint) (int64, error) {
	entry, err := loadCatalogEntry(s.stockRepo.WithTx(tx), productID, skuID)
	if err != nil {
		return 0, err
	}
	if skuID == 0 && entry.product != nil && entry.product.IsActive && entry.product.HasActiveSKUs() {
		return 0, ErrProductSKURequired
	}
	if !entry.purchasable(skuID) {
		return 0, ErrProductUnavailable
	}
	return entry.price(), nil
}

// recalculateTx 汇总小计、透传优惠并回写合计
func (s *CartService) recalculateTx(ctx context.Context, tx *gorm.DB, cart *models.Cart) error {
	repo := s.cartRepo.WithTx(tx)
	items, err := repo.ListItems(cart.ID)
	if err != nil {
		return err
	}
	cart.Items = items
	var subtotal int64
	for i := range items {
		subtotal += items[i].LineTotal()
	}
	cart.SubtotalAmount = subtotal

	discount, err := s.discounts.Discount(ctx, cart)
	if err != nil {
		return err
	}
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	cart.DiscountAmount = discount
	cart.TotalAmount = subtotal - discount
	return repo.Update(cart)
}

// catalogEntry 购物车项对应的目录条目，已下架的商品与规格同样返回
type catalogEntry struct {
	product *models.Product
	sku     *models.ProductSKU
}

// loadCatalogEntry 读取商品与规格；商品已删除时 product 为 nil
func loadCatalogEntry(stockRepo repository.StockRepository, productID, skuID uint) (catalogEntry, error) {
	product, err := stockRepo.GetProduct(productID)
	if err != nil {
		return catalogEntry{}, err
	}
	entry := catalogEntry{product: product}
	if product == nil || skuID == 0 {
		return entry, nil
	}
	for i := range product.SKUs {
		if product.SKUs[i].ID == skuID {
			entry.sku = &product.SKUs[i]
			break
		}
	}
	return entry, nil
}

// purchasable 商品上架且规格选择有效
func (e catalogEntry) purchasable(skuID uint) bool {
	if e.product == nil || !e.product.IsActive {
		return false
	}
	if skuID == 0 {
		return !e.product.HasActiveSKUs()
	}
	return e.sku != nil && e.sku.IsActive
}

// price 当前售价
func (e catalogEntry) price() int64 {
	if e.product == nil {
		return 0
	}
	if e.sku != nil {
		return e.sku.EffectivePrice(e.product)
	}
	return e.product.PriceAmount
}

func (e catalogEntry) title(productID uint) string {
	return catalogTitle(e.product, e.sku, productID)
}

// IsStockError 判断是否为库存/可售性错误
func IsStockError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrProductUnavailable) || errors.Is(err, ErrProductSKURequired)
}
