package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dujiao-next/cart-core/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CartRepository 购物车数据访问接口
type CartRepository interface {
	GetByID(id uint) (*models.Cart, error)
	GetByIDForUpdate(id uint, noWait bool) (*models.Cart, error)
	GetActiveByOwnerKey(ownerKey string) (*models.Cart, error)
	Create(cart *models.Cart) error
	Update(cart *models.Cart) error
	Delete(id uint) error
	GetItem(id uint) (*models.CartItem, error)
	FindItem(cartID, productID, skuID uint) (*models.CartItem, error)
	ListItems(cartID uint) ([]models.CartItem, error)
	CreateItem(item *models.CartItem) error
	UpdateItem(item *models.CartItem) error
	DeleteItem(id uint) (int64, error)
	DeleteItemsByCart(cartID uint) error
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) CartRepository
	WithContext(ctx context.Context) CartRepository
}

// GormCartRepository GORM 实现
type GormCartRepository struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

// NewCartRepository 创建购物车仓库
func NewCartRepository(db *gorm.DB) *GormCartRepository {
	return &GormCartRepository{db: db}
}

// WithLockTimeout 设置事务内阻塞行锁的等待上限（postgres 生效，超时返回 ErrLockNotAvailable）
func (r *GormCartRepository) WithLockTimeout(timeout time.Duration) *GormCartRepository {
	r.lockTimeout = timeout
	return r
}

// WithTx 绑定事务
func (r *GormCartRepository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &GormCartRepository{db: tx, lockTimeout: r.lockTimeout}
}

// WithContext 绑定上下文
func (r *GormCartRepository) WithContext(ctx context.Context) CartRepository {
	if ctx == nil {
		return r
	}
	return &GormCartRepository{db: r.db.WithContext(ctx), lockTimeout: r.lockTimeout}
}

// Transaction 执行事务；配置了锁等待上限时在事务开始处设置 lock_timeout
func (r *GormCartRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	db := r.db
	if ctx != nil {
		db = db.WithContext(ctx)
	}
	return translateError(db.Transaction(func(tx *gorm.DB) error {
		if stmt := lockTimeoutStatement(tx.Dialector.Name(), r.lockTimeout); stmt != "" {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return fn(tx)
	}))
}

// lockTimeoutStatement 生成事务级锁等待语句，非 postgres 或未配置时返回空
func lockTimeoutStatement(dialect string, timeout time.Duration) string {
	if dialect != "postgres" || timeout <= 0 {
		return ""
	}
	ms := timeout.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)
}

// GetByID 获取购物车（含购物车项）
func (r *GormCartRepository) GetByID(id uint) (*models.Cart, error) {
	if id == 0 {
		return nil, nil
	}
	var cart models.Cart
	if err := r.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).First(&cart, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cart, nil
}

// GetByIDForUpdate 加锁获取购物车（noWait 时锁冲突立即失败）
func (r *GormCartRepository) GetByIDForUpdate(id uint, noWait bool) (*models.Cart, error) {
	if id == 0 {
		return nil, nil
	}
	locking := clause.Locking{Strength: "UPDATE"}
	if noWait {
		locking.Options = "NOWAIT"
	}
	var cart models.Cart
	if err := r.db.Clauses(locking).First(&cart, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, translateError(err)
	}
	items, err := r.ListItems(cart.ID)
	if err != nil {
		return nil, err
	}
	cart.Items = items
	return &cart, nil
}

// GetActiveByOwnerKey 按归属键获取活跃购物车
func (r *GormCartRepository) GetActiveByOwnerKey(ownerKey string) (*models.Cart, error) {
	if ownerKey == "" {
		return nil, nil
	}
	var cart models.Cart
	if err := r.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).Where("owner_key = ?", ownerKey).First(&cart).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cart, nil
}

// Create 创建购物车
func (r *GormCartRepository) Create(cart *models.Cart) error {
	if cart == nil {
		return errors.New("cart is nil")
	}
	return translateError(r.db.Omit(clause.Associations).Create(cart).Error)
}

// Update 更新购物车（不级联购物车项）
func (r *GormCartRepository) Update(cart *models.Cart) error {
	if cart == nil {
		return errors.New("cart is nil")
	}
	return translateError(r.db.Omit(clause.Associations).Save(cart).Error)
}

// Delete 删除购物车
func (r *GormCartRepository) Delete(id uint) error {
	if id == 0 {
		return nil
	}
	return r.db.Delete(&models.Cart{}, id).Error
}

// GetItem 获取购物车项
func (r *GormCartRepository) GetItem(id uint) (*models.CartItem, error) {
	if id == 0 {
		return nil, nil
	}
	var item models.CartItem
	if err := r.db.First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// FindItem 按商品与规格查找购物车项
func (r *GormCartRepository) FindItem(cartID, productID, skuID uint) (*models.CartItem, error) {
	var item models.CartItem
	if err := r.db.Where("cart_id = ? AND product_id = ? AND sku_id = ?", cartID, productID, skuID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// ListItems 获取购物车项列表
func (r *GormCartRepository) ListItems(cartID uint) ([]models.CartItem, error) {
	var items []models.CartItem
	if err := r.db.Where("cart_id = ?", cartID).Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// CreateItem 创建购物车项
func (r *GormCartRepository) CreateItem(item *models.CartItem) error {
	if item == nil {
		return errors.New("cart item is nil")
	}
	return translateError(r.db.Create(item).Error)
}

// UpdateItem 更新购物车项
func (r *GormCartRepository) UpdateItem(item *models.CartItem) error {
	if item == nil {
		return errors.New("cart item is nil")
	}
	return translateError(r.db.Save(item).Error)
}

// DeleteItem 删除购物车项
func (r *GormCartRepository) DeleteItem(id uint) (int64, error) {
	if id == 0 {
		return 0, nil
	}
	result := r.db.Delete(&models.CartItem{}, id)
	return result.RowsAffected, result.Error
}

// DeleteItemsByCart 清空购物车项
func (r *GormCartRepository) DeleteItemsByCart(cartID uint) error {
	return r.db.Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error
}
