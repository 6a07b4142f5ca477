package models

import (
	"time"
)

// StockReservation 库存预占表（与购物车项一一对应）
type StockReservation struct {
	ID         uint      `gorm:"primarykey" json:"id"`                                                       // 主键
	CartItemID uint      `gorm:"not null;uniqueIndex" json:"cart_item_id"`                                   // 购物车项ID
	CartID     uint      `gorm:"not null;index" json:"cart_id"`                                              // 购物车ID
	ProductID  uint      `gorm:"not null;index:idx_reservation_stock" json:"product_id"`                     // 商品ID
	SKUID      uint      `gorm:"column:sku_id;not null;default:0;index:idx_reservation_stock" json:"sku_id"` // 规格ID（0 表示单规格商品）
	Quantity   int       `gorm:"not null" json:"quantity"`                                                   // 预占数量
	ReservedAt time.Time `gorm:"not null;index" json:"reserved_at"`                                          // 首次预占时间
	TouchedAt  time.Time `gorm:"not null;index" json:"touched_at"`                                           // 最近调整时间
}

// TableName 指定表名
func (StockReservation) TableName() string {
	return "stock_reservations"
}
