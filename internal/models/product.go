package models

import (
	"time"

	"gorm.io/gorm"
)

// Product 商品表（目录只读输入；未启用规格时同时作为库存权威记录）
type Product struct {
	ID            uint           `gorm:"primarykey" json:"id"`                                         // 主键
	Slug          string         `gorm:"uniqueIndex;not null" json:"slug"`                             // 唯一标识
	Title         string         `gorm:"type:varchar(255);not null" json:"title"`                      // 标题
	PriceAmount   int64          `gorm:"not null;default:0" json:"price_amount"`                       // 价格（最小货币单位）
	PriceCurrency string         `gorm:"type:varchar(8);not null;default:'BRL'" json:"price_currency"` // 币种
	ManageStock   bool           `gorm:"not null;default:false" json:"manage_stock"`                   // 是否启用库存控制
	StockQuantity int            `gorm:"not null;default:0" json:"stock_quantity"`                     // 可售库存量
	IsActive      bool           `gorm:"default:true;index" json:"is_active"`                          // 是否上架
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`                                      // 创建时间
	UpdatedAt     time.Time      `json:"updated_at"`                                                   // 更新时间
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`                                               // 软删除时间

	SKUs []ProductSKU `gorm:"foreignKey:ProductID" json:"skus,omitempty"` // 规格列表
}

// TableName 指定表名
func (Product) TableName() string {
	return "products"
}

// HasActiveSKUs 是否存在启用中的规格
func (p *Product) HasActiveSKUs() bool {
	if p == nil {
		return false
	}
	for i := range p.SKUs {
		if p.SKUs[i].IsActive {
			return true
		}
	}
	return false
}
