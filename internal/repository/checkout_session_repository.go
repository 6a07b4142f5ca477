package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dujiao-next/cart-core/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CheckoutSessionRepository 结算会话快照数据访问接口
type CheckoutSessionRepository interface {
	GetByKey(sessionKey string) (*models.CheckoutSession, error)
	Upsert(session *models.CheckoutSession) error
	Touch(sessionKey string, expiresAt time.Time) error
	DeleteByKey(sessionKey string) error
	DeleteExpired(now time.Time) (int64, error)
	WithContext(ctx context.Context) CheckoutSessionRepository
}

// GormCheckoutSessionRepository GORM 实现
type GormCheckoutSessionRepository struct {
	db *gorm.DB
}

// NewCheckoutSessionRepository 创建结算会话仓库
func NewCheckoutSessionRepository(db *gorm.DB) *GormCheckoutSessionRepository {
	return &GormCheckoutSessionRepository{db: db}
}

// WithContext 绑定上下文
func (r *GormCheckoutSessionRepository) WithContext(ctx context.Context) CheckoutSessionRepository {
	if ctx == nil {
		return r
	}
	return &GormCheckoutSessionRepository{db: r.db.WithContext(ctx)}
}

// GetByKey 按会话键获取快照
func (r *GormCheckoutSessionRepository) GetByKey(sessionKey string) (*models.CheckoutSession, error) {
	if sessionKey == "" {
		return nil, nil
	}
	var session models.CheckoutSession
	if err := r.db.Where("session_key = ?", sessionKey).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// Upsert 写入快照（按会话键覆盖）
func (r *GormCheckoutSessionRepository) Upsert(session *models.CheckoutSession) error {
	if session == nil || session.SessionKey == "" {
		return errors.New("invalid checkout session")
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "expires_at", "updated_at"}),
	}).Create(session).Error
}

// Touch 刷新过期时间
func (r *GormCheckoutSessionRepository) Touch(sessionKey string, expiresAt time.Time) error {
	return r.db.Model(&models.CheckoutSession{}).
		Where("session_key = ?", sessionKey).
		Updates(map[string]interface{}{
			"expires_at": expiresAt,
			"updated_at": time.Now(),
		}).Error
}

// DeleteByKey 删除快照
func (r *GormCheckoutSessionRepository) DeleteByKey(sessionKey string) error {
	if sessionKey == "" {
		return nil
	}
	return r.db.Where("session_key = ?", sessionKey).Delete(&models.CheckoutSession{}).Error
}

// DeleteExpired 清理已过期快照
func (r *GormCheckoutSessionRepository) DeleteExpired(now time.Time) (int64, error) {
	result := r.db.Where("expires_at < ?", now).Delete(&models.CheckoutSession{})
	return result.RowsAffected, result.Error
}
