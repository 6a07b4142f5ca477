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

// errMergeStale 加锁后发现购物车状态已变化，需要重试
var errMergeStale = errors.New("cart changed before merge lock")

// MergeResult 登录合并结果
type MergeResult struct {
	Cart   *models.Cart `json:"cart"`
	Alerts []CartAlert  `json:"alerts"`
	Merged bool         `json:"merged"` // 是否实际合并了匿名购物车
}

// CartMergeService 匿名购物车登录合并服务
type CartMergeService struct {
	cartService *CartService
	maxAttempts int
	backoff     time.Duration
}

// NewCartMergeService 创建购物车合并服务
func NewCartMergeService(cartService *CartService, maxAttempts int, backoff time.Duration) *CartMergeService {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if backoff < 0 {
		backoff = 0
	}
	return &CartMergeService{
		cartService: cartService,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// Merge 将匿名会话购物车合并到用户购物车（每次登录调用一次），结果中的购物车总是非空
func (s *CartMergeService) Merge(ctx context.Context, sessionID string, userID uint) (*MergeResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || userID == 0 {
		return nil, ErrInvalidOwner
	}
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		result, err := s.mergeOnce(ctx, sessionID, userID)
		if err == nil {
			if result.Merged {
				logger.Infow("cart_merged",
					"user_id", userID,
					"cart_id", result.Cart.ID,
					"alerts", len(result.Alerts),
					"attempt", attempt,
				)
			}
			return result, nil
		}
		if !isMergeRetryable(err) {
			return nil, err
		}
		lastErr = err
		logger.Warnw("cart_merge_conflict_retry", "user_id", userID, "attempt", attempt, "error", err)
		if attempt < s.maxAttempts && s.backoff > 0 {
			timer := time.NewTimer(s.backoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrMergeConflict, lastErr)
}

func isMergeRetryable(err error) bool {
	return errors.Is(err, repository.ErrLockNotAvailable) ||
		errors.Is(err, repository.ErrDuplicateKey) ||
		errors.Is(err, errMergeStale)
}

func (s *CartMergeService) mergeOnce(ctx context.Context, sessionID string, userID uint) (*MergeResult, error) {
	cartSvc := s.cartService
	result := &MergeResult{Alerts: []CartAlert{}}
	err := cartSvc.cartRepo.Transaction(ctx, func(tx *gorm.DB) error {
		repo := cartSvc.cartRepo.WithTx(tx)
		anon, err := repo.GetActiveByOwnerKey(sessionOwnerKey(sessionID))
		if err != nil {
			return err
		}
		userCart, err := repo.GetActiveByOwnerKey(userOwnerKey(userID))
		if err != nil {
			return err
		}
		if anon == nil && userCart == nil {
			// 两侧都没有购物车时为用户创建空购物车；并发创建冲突按重试处理
			cart := cartSvc.newCart(CartOwner{UserID: userID}, userOwnerKey(userID))
			if err := repo.Create(cart); err != nil {
				return err
			}
			result.Cart = cart
			return nil
		}
		if anon == nil {
			result.Cart = userCart
			return nil
		}
		if userCart == nil {
			cart, err := s.reownTx(tx, anon.ID, userID)
			if err != nil {
				return err
			}
			result.Cart = cart
			result.Merged = true
			return nil
		}

		anonLocked, userLocked, err := s.lockPairTx(tx, anon.ID, userCart.ID)
		if err != nil {
			return err
		}
		alerts, err := s.collapseTx(tx, anonLocked, userLocked)
		if err != nil {
			return err
		}
		if err := cartSvc.recalculateTx(ctx, tx, userLocked); err != nil {
			return err
		}
		result.Cart = userLocked
		result.Alerts = alerts
		result.Merged = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// reownTx 用户无购物车时直接将匿名购物车转归用户
func (s *CartMergeService) reownTx(tx *gorm.DB, anonID, userID uint) (*models.Cart, error) {
	repo := s.cartService.cartRepo.WithTx(tx)
	cart, err := repo.GetByIDForUpdate(anonID, true)
	if err != nil {
		return nil, err
	}
	if cart == nil || !cart.IsActive() {
		return nil, errMergeStale
	}
	if cart.CheckoutClaimed(time.Now(), checkoutClaimLease) {
		return nil, ErrCheckoutInProgress
	}
	ownerKey := userOwnerKey(userID)
	uid := userID
	cart.UserID = &uid
	cart.SessionID = nil
	cart.OwnerKey = &ownerKey
	if err := repo.Update(cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// lockPairTx 按 id 升序以 NOWAIT 锁定两个购物车
func (s *CartMergeService) lockPairTx(tx *gorm.DB, anonID, userID uint) (*models.Cart, *models.Cart, error) {
	repo := s.cartService.cartRepo.WithTx(tx)
	ids := []uint{anonID, userID}
	if ids[0] > ids[1] {
		ids[0], ids[1] = ids[1], ids[0]
	}
	locked := make(map[uint]*models.Cart, 2)
	for _, id := range ids {
		cart, err := repo.GetByIDForUpdate(id, true)
		if err != nil {
			return nil, nil, err
		}
		if cart == nil || !cart.IsActive() {
			return nil, nil, errMergeStale
		}
		if cart.CheckoutClaimed(time.Now(), checkoutClaimLease) {
			return nil, nil, ErrCheckoutInProgress
		}
		locked[id] = cart
	}
	return locked[anonID], locked[userID], nil
}

// collapseTx 逐项合并匿名购物车到用户购物车，数量按总可售量截断，随后删除匿名购物车
func (s *CartMergeService) collapseTx(tx *gorm.DB, anon, userCart *models.Cart) ([]CartAlert, error) {
	cartSvc := s.cartService
	repo := cartSvc.cartRepo.WithTx(tx)
	ledger := cartSvc.ledger
	participants := []uint{anon.ID, userCart.ID}

	items := append([]models.CartItem(nil), anon.Items...)
	sortCartItems(items)
	alerts := make([]CartAlert, 0)
	for i := range items {
		source := &items[i]
		ref := repository.StockRef{ProductID: source.ProductID, SKUID: source.SKUID}
		target := userCart.FindItem(source.ProductID, source.SKUID)
		desired := source.Quantity
		if target != nil {
			desired += target.Quantity
		}

		entry, err := loadCatalogEntry(cartSvc.stockRepo.WithTx(tx), source.ProductID, source.SKUID)
		if err != nil {
			return nil, err
		}
		title := entry.title(source.ProductID)

		_, available, err := ledger.availableForCartsTx(tx, ref, participants)
		if err != nil && !errors.Is(err, ErrProductUnavailable) {
			return nil, err
		}
		if errors.Is(err, ErrProductUnavailable) || !entry.purchasable(source.SKUID) {
			// 不可售的匿名项不迁移，用户购物车原有项交由结算前校验处理
			alerts = append(alerts, CartAlert{
				Code:      constants.CartAlertItemRemoved,
				ProductID: source.ProductID,
				SKUID:     source.SKUID,
				Message:   fmt.Sprintf("%s foi removido do carrinho", title),
			})
			continue
		}
		final := desired
		if final > available {
			final = available
		}

		if final <= 0 {
			if target != nil {
				if err := removeCartItemTx(tx, repo, ledger, target.ID); err != nil {
					return nil, err
				}
			}
			alerts = append(alerts, CartAlert{
				Code:      constants.CartAlertOutOfStock,
				ProductID: source.ProductID,
				SKUID:     source.SKUID,
				Message:   fmt.Sprintf("%s não está mais disponível em estoque e foi removido do carrinho", title),
			})
			continue
		}

		if target != nil {
			target.Quantity = final
			if err := repo.UpdateItem(target); err != nil {
				return nil, err
			}
		} else {
			target = &models.CartItem{
				CartID:    userCart.ID,
				ProductID: source.ProductID,
				SKUID:     source.SKUID,
				Quantity:  final,
				UnitPrice: source.UnitPrice,
			}
			if err := repo.CreateItem(target); err != nil {
				return nil, err
			}
		}
		if err := ledger.put(tx, ref, final, ReservationOwner{CartID: userCart.ID, CartItemID: target.ID}); err != nil {
			return nil, err
		}
		if final < desired {
			alerts = append(alerts, CartAlert{
				Code:      constants.CartAlertQuantityClamped,
				ProductID: source.ProductID,
				SKUID:     source.SKUID,
				Message:   fmt.Sprintf("A quantidade de %s foi ajustada para %d (estoque disponível)", title, final),
			})
		}
	}

	if err := ledger.ReleaseCart(tx, anon.ID); err != nil {
		return nil, err
	}
	if err := repo.DeleteItemsByCart(anon.ID); err != nil {
		return nil, err
	}
	if err := repo.Delete(anon.ID); err != nil {
		return nil, err
	}
	return alerts, nil
}
