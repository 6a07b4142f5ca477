package models

import (
	"time"

	"gorm.io/gorm"
)

// ProductSKU 商品规格表（变体维度的价格与库存）
type ProductSKU struct {
	ID            uint           `gorm:"primarykey" json:"id"`                                                                       // 主键
	ProductID     uint           `gorm:"not null;index;uniqueIndex:idx_product_sku_code" json:"product_id"`                          // 商品ID
	SKUCode       string         `gorm:"column:sku_code;type:varchar(64);not null;uniqueIndex:idx_product_sku_code" json:"sku_code"` // SKU编码（同商品内唯一）
	Label         string         `gorm:"type:varchar(255)" json:"label"`                                                             // 规格名称（如颜色/尺码）
	PriceAmount   int64          `gorm:"not null;default:0" json:"price_amount"`                                                     // SKU价格（0 表示沿用商品价格）
	ManageStock   bool           `gorm:"not null;default:false" json:"manage_stock"`                                                 // 是否启用库存控制
	StockQuantity int            `gorm:"not null;default:0" json:"stock_quantity"`                                                   // 可售库存量
	IsActive      bool           `gorm:"default:true;index" json:"is_active"`                                                        // 是否启用
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`                                                                    // 创建时间
	UpdatedAt     time.Time      `gorm:"index" json:"updated_at"`                                                                    // 更新时间
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`                                                                             // 软删除时间

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"` // 关联商品
}

// TableName 指定表名
func (ProductSKU) TableName() string {
	return "product_skus"
}

// EffectivePrice 规格实际售价
func (s *ProductSKU) EffectivePrice(product *Product) int64 {
	if s != nil && s.PriceAmount > 0 {
		return s.PriceAmount
	}
	if product == nil {
		return 0
	}
	return product.PriceAmount
}
