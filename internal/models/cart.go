package models

import (
	"time"

	"github.com/dujiao-next/cart-core/internal/constants"
)

// Cart 购物车表（归属用户或匿名会话，二者有且仅有其一）
type Cart struct {
	ID             uint       `gorm:"primarykey" json:"id"`                                           // 主键
	UserID         *uint      `gorm:"index" json:"user_id,omitempty"`                                 // 用户ID
	SessionID      *string    `gorm:"type:varchar(64);index" json:"session_id,omitempty"`             // 匿名会话ID
	OwnerKey       *string    `gorm:"type:varchar(96);uniqueIndex" json:"-"`                          // 活跃归属键（非活跃时置空，保证同一归属仅一个活跃购物车）
	Status         string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"` // 状态
	Currency       string     `gorm:"type:varchar(8);not null;default:'BRL'" json:"currency"`         // 币种
	SubtotalAmount int64      `gorm:"not null;default:0" json:"subtotal_amount"`                      // 商品小计（最小货币单位）
	DiscountAmount int64      `gorm:"not null;default:0" json:"discount_amount"`                      // 优惠金额（外部计价透传）
	TotalAmount    int64      `gorm:"not null;default:0" json:"total_amount"`                         // 合计（不含运费）
	ConvertedAt    *time.Time `json:"converted_at,omitempty"`                                         // 转化为订单时间
	CheckoutKey    *string    `gorm:"type:varchar(128)" json:"-"`                                     // 下单占用的结算会话键
	CheckoutAt     *time.Time `json:"-"`                                                              // 下单占用时间
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`                                        // 创建时间
	UpdatedAt      time.Time  `gorm:"index" json:"updated_at"`                                        // 更新时间

	Items []CartItem `gorm:"foreignKey:CartID" json:"items"` // 购物车项
}

// TableName 指定表名
func (Cart) TableName() string {
	return "carts"
}

// IsActive 是否为活跃购物车
func (c *Cart) IsActive() bool {
	return c != nil && c.Status == constants.CartStatusActive
}

// CheckoutClaimed 是否正被未过期的下单占用
func (c *Cart) CheckoutClaimed(now time.Time, lease time.Duration) bool {
	if c == nil || c.CheckoutKey == nil || c.CheckoutAt == nil {
		return false
	}
	return now.Sub(*c.CheckoutAt) < lease
}

// IsEmpty 是否为空购物车
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// FindItem 按商品与规格查找购物车项
func (c *Cart) FindItem(productID, skuID uint) *CartItem {
	if c == nil {
		return nil
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID && c.Items[i].SKUID == skuID {
			return &c.Items[i]
		}
	}
	return nil
}
