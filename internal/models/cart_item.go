package models

import (
	"time"
)

// CartItem 购物车项（同一购物车内商品+规格唯一）
type CartItem struct {
	ID        uint      `gorm:"primarykey" json:"id"`                                                          // 主键
	CartID    uint      `gorm:"not null;uniqueIndex:idx_cart_item_line" json:"cart_id"`                        // 购物车ID
	ProductID uint      `gorm:"not null;uniqueIndex:idx_cart_item_line;index" json:"product_id"`               // 商品ID
	SKUID     uint      `gorm:"column:sku_id;not null;default:0;uniqueIndex:idx_cart_item_line" json:"sku_id"` // 规格ID（0 表示单规格商品）
	Quantity  int       `gorm:"not null" json:"quantity"`                                                      // 数量
	UnitPrice int64     `gorm:"not null;default:0" json:"unit_price"`                                          // 加购时价格快照（最小货币单位）
	CreatedAt time.Time `gorm:"index" json:"created_at"`                                                       // 创建时间
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`                                                       // 更新时间
}

// TableName 指定表名
func (CartItem) TableName() string {
	return "cart_items"
}

// LineTotal 行小计
func (i *CartItem) LineTotal() int64 {
	if i == nil || i.Quantity <= 0 {
		return 0
	}
	return i.UnitPrice * int64(i.Quantity)
}
