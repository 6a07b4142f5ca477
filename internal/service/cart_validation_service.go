package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dujiao-next/cart-core/internal/constants"
	"github.com/dujiao-next/cart-core/internal/logger"
	"github.com/dujiao-next/cart-core/internal/models"
	"github.com/dujiao-next/cart-core/internal/repository"

	"gorm.io/gorm"
)

// CartAlert 购物车校验提示
type CartAlert struct {
	Code      string `json:"code"`
	ProductID uint   `json:"product_id"`
	SKUID     uint   `json:"sku_id"`
	Message   string `json:"message"`
}

// CartValidationResult 校验结果（提示为空表示购物车无需修正）
type CartValidationResult struct {
	Cart   *models.Cart `json:"cart"`
	Alerts []CartAlert  `json:"alerts"`
}

// Changed 是否发生修正
func (r *CartValidationResult) Changed() bool {
	return r != nil && len(r.Alerts) > 0
}

// CartValidationService 购物车结算前校验服务
type CartValidationService struct {
	cartService *CartService
}

// NewCartValidationService 创建购物车校验服务
func NewCartValidationService(cartService *CartService) *CartValidationService {
	return &CartValidationService{cartService: cartService}
}

// Validate 按当前目录与库存修正购物车：移除不可售项、按可用量截断数量、刷新价格
func (s *CartValidationService) Validate(ctx context.Context, cartID uint) (*CartValidationResult, error) {
	var result *CartValidationResult
	err := s.cartService.cartRepo.Transaction(ctx, func(tx *gorm.DB) error {
		validated, err := s.validateTx(ctx, tx, cartID)
		if err != nil {
			return err
		}
		result = validated
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(result.Alerts) > 0 {
		logger.ForCart(cartID).Infow("cart_validation_adjusted", "alerts", len(result.Alerts))
	}
	return result, nil
}

// validateTx 在当前事务内锁定并修正购物车
func (s *CartValidationService) validateTx(ctx context.Context, tx *gorm.DB, cartID uint) (*CartValidationResult, error) {
	cartSvc := s.cartService
	cart, err := cartSvc.lockMutableCart(tx, cartID)
	if err != nil {
		return nil, err
	}
	items := append([]models.CartItem(nil), cart.Items...)
	sortCartItems(items)

	alerts := make([]CartAlert, 0)
	for i := range items {
		alert, err := s.validateItem(tx, cart, &items[i])
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert...)
	}
	if err := cartSvc.recalculateTx(ctx, tx, cart); err != nil {
		return nil, err
	}
	return &CartValidationResult{Cart: cart, Alerts: alerts}, nil
}

func (s *CartValidationService) validateItem(tx *gorm.DB, cart *models.Cart, item *models.CartItem) ([]CartAlert, error) {
	cartSvc := s.cartService
	repo := cartSvc.cartRepo.WithTx(tx)
	ledger := cartSvc.ledger
	owner := ReservationOwner{CartID: cart.ID, CartItemID: item.ID}
	ref := repository.StockRef{ProductID: item.ProductID, SKUID: item.SKUID}

	entry, err := loadCatalogEntry(cartSvc.stockRepo.WithTx(tx), item.ProductID, item.SKUID)
	if err != nil {
		return nil, err
	}
	title := entry.title(item.ProductID)
	if !entry.purchasable(item.SKUID) {
		if err := removeCartItemTx(tx, repo, ledger, item.ID); err != nil {
			return nil, err
		}
		return []CartAlert{{
			Code:      constants.CartAlertItemRemoved,
			ProductID: item.ProductID,
			SKUID:     item.SKUID,
			Message:   fmt.Sprintf("%s foi removido do carrinho", title),
		}}, nil
	}

	alerts := make([]CartAlert, 0, 2)
	reservation, err := ledger.Reservation(tx, item.ID)
	if err != nil {
		return nil, err
	}
	if reservation == nil || reservation.Quantity != item.Quantity {
		granted, err := ledger.ReserveUpTo(tx, ref, item.Quantity, owner)
		if err != nil {
			return nil, err
		}
		if granted <= 0 {
			if err := removeCartItemTx(tx, repo, ledger, item.ID); err != nil {
				return nil, err
			}
			return []CartAlert{{
				Code:      constants.CartAlertOutOfStock,
				ProductID: item.ProductID,
				SKUID:     item.SKUID,
				Message:   fmt.Sprintf("%s não está mais disponível em estoque e foi removido do carrinho", title),
			}}, nil
		}
		if granted < item.Quantity {
			item.Quantity = granted
			alerts = append(alerts, CartAlert{
				Code:      constants.CartAlertQuantityClamped,
				ProductID: item.ProductID,
				SKUID:     item.SKUID,
				Message:   fmt.Sprintf("A quantidade de %s foi ajustada para %d (estoque disponível)", title, granted),
			})
		}
	} else {
		// 预占完整时仍需确认可售量未被下调
		record, available, err := ledger.availableTx(tx, ref, item.ID)
		if err != nil {
			return nil, err
		}
		if record.Managed && available < item.Quantity {
			if available <= 0 {
				if err := removeCartItemTx(tx, repo, ledger, item.ID); err != nil {
					return nil, err
				}
				return []CartAlert{{
					Code:      constants.CartAlertOutOfStock,
					ProductID: item.ProductID,
					SKUID:     item.SKUID,
					Message:   fmt.Sprintf("%s não está mais disponível em estoque e foi removido do carrinho", title),
				}}, nil
			}
			if err := ledger.put(tx, ref, available, owner); err != nil {
				return nil, err
			}
			item.Quantity = available
			alerts = append(alerts, CartAlert{
				Code:      constants.CartAlertQuantityClamped,
				ProductID: item.ProductID,
				SKUID:     item.SKUID,
				Message:   fmt.Sprintf("A quantidade de %s foi ajustada para %d (estoque disponível)", title, available),
			})
		}
	}

	currentPrice := entry.price()
	if currentPrice != item.UnitPrice {
		alerts = append(alerts, CartAlert{
			Code:      constants.CartAlertPriceChanged,
			ProductID: item.ProductID,
			SKUID:     item.SKUID,
			Message: fmt.Sprintf("O preço de %s mudou de %s para %s", title,
				models.FormatMinor(cart.Currency, item.UnitPrice),
				models.FormatMinor(cart.Currency, currentPrice)),
		})
		item.UnitPrice = currentPrice
	}
	if len(alerts) > 0 {
		if err := repo.UpdateItem(item); err != nil {
			return nil, err
		}
	}
	return alerts, nil
}

// removeCartItemTx 删除购物车项并释放预占
func removeCartItemTx(tx *gorm.DB, repo repository.CartRepository, ledger *ReservationLedger, itemID uint) error {
	if err := ledger.Release(tx, itemID); err != nil {
		return err
	}
	_, err := repo.DeleteItem(itemID)
	return err
}

// sortCartItems 按商品、规格排序，保证提示顺序与加锁顺序稳定
func sortCartItems(items []models.CartItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ProductID != items[j].ProductID {
			return items[i].ProductID < items[j].ProductID
		}
		return items[i].SKUID < items[j].SKUID
	})
}

func catalogTitle(product *models.Product, sku *models.ProductSKU, productID uint) string {
	if product == nil {
		return fmt.Sprintf("Produto #%d", productID)
	}
	title := strings.TrimSpace(product.Title)
	if title == "" {
		title = fmt.Sprintf("Produto #%d", product.ID)
	}
	if sku != nil && strings.TrimSpace(sku.Label) != "" {
		title = fmt.Sprintf("%s (%s)", title, strings.TrimSpace(sku.Label))
	}
	return title
}
