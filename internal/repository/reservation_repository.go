package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dujiao-next/cart-core/internal/models"

	"gorm.io/gorm"
)

// ReservationRepository 库存预占数据访问接口
type ReservationRepository interface {
	GetByCartItem(cartItemID uint) (*models.StockReservation, error)
	ListByCart(cartID uint) ([]models.StockReservation, error)
	SumByStock(ref StockRef, excludeCartItemID uint) (int, error)
	SumByStockExcludingCarts(ref StockRef, cartIDs []uint) (int, error)
	Save(reservation *models.StockReservation) error
	DeleteByCartItem(cartItemID uint) (int64, error)
	DeleteByCart(cartID uint) (int64, error)
	DeleteOlderThan(column string, cutoff time.Time) (int64, error)
	WithTx(tx *gorm.DB) ReservationRepository
	WithContext(ctx context.Context) ReservationRepository
}

// GormReservationRepository GORM 实现
type GormReservationRepository struct {
	db *gorm.DB
}

// NewReservationRepository 创建库存预占仓库
func NewReservationRepository(db *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: db}
}

// WithTx 绑定事务
func (r *GormReservationRepository) WithTx(tx *gorm.DB) ReservationRepository {
	if tx == nil {
		return r
	}
	return &GormReservationRepository{db: tx}
}

// WithContext 绑定上下文
func (r *GormReservationRepository) WithContext(ctx context.Context) ReservationRepository {
	if ctx == nil {
		return r
	}
	return &GormReservationRepository{db: r.db.WithContext(ctx)}
}

// GetByCartItem 获取购物车项的预占记录
func (r *GormReservationRepository) GetByCartItem(cartItemID uint) (*models.StockReservation, error) {
	if cartItemID == 0 {
		return nil, nil
	}
	var reservation models.StockReservation
	if err := r.db.Where("cart_item_id = ?", cartItemID).First(&reservation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reservation, nil
}

// ListByCart 获取购物车的全部预占记录
func (r *GormReservationRepository) ListByCart(cartID uint) ([]models.StockReservation, error) {
	var rows []models.StockReservation
	if err := r.db.Where("cart_id = ?", cartID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SumByStock 汇总库存记录的预占量（可排除指定购物车项）
func (r *GormReservationRepository) SumByStock(ref StockRef, excludeCartItemID uint) (int, error) {
	query := r.db.Model(&models.StockReservation{}).
		Where("product_id = ? AND sku_id = ?", ref.ProductID, ref.SKUID)
	if excludeCartItemID > 0 {
		query = query.Where("cart_item_id <> ?", excludeCartItemID)
	}
	var total int64
	if err := query.Select("COALESCE(SUM(quantity), 0)").Scan(&total).Error; err != nil {
		return 0, err
	}
	return int(total), nil
}

// SumByStockExcludingCarts 汇总除指定购物车以外的预占量
func (r *GormReservationRepository) SumByStockExcludingCarts(ref StockRef, cartIDs []uint) (int, error) {
	query := r.db.Model(&models.StockReservation{}).
		Where("product_id = ? AND sku_id = ?", ref.ProductID, ref.SKUID)
	if len(cartIDs) > 0 {
		query = query.Where("cart_id NOT IN ?", cartIDs)
	}
	var total int64
	if err := query.Select("COALESCE(SUM(quantity), 0)").Scan(&total).Error; err != nil {
		return 0, err
	}
	return int(total), nil
}

// Save 创建或更新预占记录
func (r *GormReservationRepository) Save(reservation *models.StockReservation) error {
	if reservation == nil {
		return errors.New("reservation is nil")
	}
	return translateError(r.db.Save(reservation).Error)
}

// DeleteByCartItem 删除购物车项的预占记录
func (r *GormReservationRepository) DeleteByCartItem(cartItemID uint) (int64, error) {
	if cartItemID == 0 {
		return 0, nil
	}
	result := r.db.Where("cart_item_id = ?", cartItemID).Delete(&models.StockReservation{})
	return result.RowsAffected, result.Error
}

// DeleteByCart 删除购物车的全部预占记录
func (r *GormReservationRepository) DeleteByCart(cartID uint) (int64, error) {
	if cartID == 0 {
		return 0, nil
	}
	result := r.db.Where("cart_id = ?", cartID).Delete(&models.StockReservation{})
	return result.RowsAffected, result.Error
}

// DeleteOlderThan 删除指定时间列早于 cutoff 的预占记录
func (r *GormReservationRepository) DeleteOlderThan(column string, cutoff time.Time) (int64, error) {
	switch column {
	case "reserved_at", "touched_at":
	default:
		return 0, errors.New("invalid reservation time column")
	}
	result := r.db.Where(column+" < ?", cutoff).Delete(&models.StockReservation{})
	return result.RowsAffected, result.Error
}
