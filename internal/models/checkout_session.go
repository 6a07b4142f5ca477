package models

import (
	"time"
)

// CheckoutSession 结算向导会话快照（Redis 不可用时的数据库存储）
type CheckoutSession struct {
	ID         uint      `gorm:"primarykey" json:"id"`                                      // 主键
	SessionKey string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"session_key"` // 会话键
	Payload    string    `gorm:"type:text;not null" json:"payload"`                         // 序列化的结算状态
	ExpiresAt  time.Time `gorm:"not null;index" json:"expires_at"`                          // 过期时间
	CreatedAt  time.Time `json:"created_at"`                                                // 创建时间
	UpdatedAt  time.Time `json:"updated_at"`                                                // 更新时间
}

// TableName 指定表名
func (CheckoutSession) TableName() string {
	return "checkout_sessions"
}
