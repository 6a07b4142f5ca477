package repository

import (
	"context"
	"errors"

	"github.com/dujiao-next/cart-core/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockRef 库存权威记录引用（SKUID 为 0 时指向商品本身）
type StockRef struct {
	ProductID uint
	SKUID     uint
}

// StockRecord 库存记录快照
type StockRecord struct {
	Ref      StockRef
	Managed  bool
	Sellable int
}

// StockRepository 商品目录与库存数据访问接口（只读目录 + 库存行锁）
type StockRepository interface {
	GetProduct(id uint) (*models.Product, error)
	GetSKU(id uint) (*models.ProductSKU, error)
	ListProductsByIDs(ids []uint) ([]models.Product, error)
	ListSKUsByIDs(ids []uint) ([]models.ProductSKU, error)
	GetStockRecord(ref StockRef) (*StockRecord, error)
	LockStockRecord(ref StockRef) (*StockRecord, error)
	WithTx(tx *gorm.DB) StockRepository
	WithContext(ctx context.Context) StockRepository
}

// GormStockRepository GORM 实现
type GormStockRepository struct {
	db *gorm.DB
}

// NewStockRepository 创建库存仓库
func NewStockRepository(db *gorm.DB) *GormStockRepository {
	return &GormStockRepository{db: db}
}

// WithTx 绑定事务
func (r *GormStockRepository) WithTx(tx *gorm.DB) StockRepository {
	if tx == nil {
		return r
	}
	return &GormStockRepository{db: tx}
}

// WithContext 绑定上下文
func (r *GormStockRepository) WithContext(ctx context.Context) StockRepository {
	if ctx == nil {
		return r
	}
	return &GormStockRepository{db: r.db.WithContext(ctx)}
}

// GetProduct 获取商品（含全部规格，已软删除返回 nil）
func (r *GormStockRepository) GetProduct(id uint) (*models.Product, error) {
	if id == 0 {
		return nil, nil
	}
	var product models.Product
	if err := r.db.Preload("SKUs", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).First(&product, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

// GetSKU 获取规格
func (r *GormStockRepository) GetSKU(id uint) (*models.ProductSKU, error) {
	if id == 0 {
		return nil, nil
	}
	var sku models.ProductSKU
	if err := r.db.First(&sku, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sku, nil
}

// ListProductsByIDs 批量获取商品（含规格）
func (r *GormStockRepository) ListProductsByIDs(ids []uint) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}
	var products []models.Product
	if err := r.db.Preload("SKUs").Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// ListSKUsByIDs 批量获取规格
func (r *GormStockRepository) ListSKUsByIDs(ids []uint) ([]models.ProductSKU, error) {
	if len(ids) == 0 {
		return []models.ProductSKU{}, nil
	}
	var skus []models.ProductSKU
	if err := r.db.Where("id IN ?", ids).Find(&skus).Error; err != nil {
		return nil, err
	}
	return skus, nil
}

// GetStockRecord 读取库存记录（不加锁）
func (r *GormStockRepository) GetStockRecord(ref StockRef) (*StockRecord, error) {
	return r.loadStockRecord(r.db, ref)
}

// LockStockRecord 加行锁读取库存记录，需在事务内调用
func (r *GormStockRepository) LockStockRecord(ref StockRef) (*StockRecord, error) {
	return r.loadStockRecord(r.db.Clauses(clause.Locking{Strength: "UPDATE"}), ref)
}

func (r *GormStockRepository) loadStockRecord(db *gorm.DB, ref StockRef) (*StockRecord, error) {
	if ref.ProductID == 0 {
		return nil, errors.New("invalid product id")
	}
	if ref.SKUID > 0 {
		var sku models.ProductSKU
		if err := db.Where("id = ? AND product_id = ?", ref.SKUID, ref.ProductID).First(&sku).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, translateError(err)
		}
		return &StockRecord{Ref: ref, Managed: sku.ManageStock, Sellable: normalizeSellable(sku.StockQuantity)}, nil
	}
	var product models.Product
	if err := db.First(&product, ref.ProductID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, translateError(err)
	}
	return &StockRecord{Ref: ref, Managed: product.ManageStock, Sellable: normalizeSellable(product.StockQuantity)}, nil
}

func normalizeSellable(quantity int) int {
	if quantity < 0 {
		return 0
	}
	return quantity
}
