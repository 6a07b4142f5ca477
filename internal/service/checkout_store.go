package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/dujiao-next/cart-core/internal/cache"
	"github.com/dujiao-next/cart-core/internal/logger"
	"github.com/dujiao-next/cart-core/internal/models"
	"github.com/dujiao-next/cart-core/internal/repository"
)

// CheckoutStore 会话级结算状态存储
type CheckoutStore interface {
	// Load 读取快照并刷新有效期，不存在时返回 nil
	Load(ctx context.Context, sessionKey string) (*CheckoutState, error)
	Save(ctx context.Context, sessionKey string, state *CheckoutState) error
	Delete(ctx context.Context, sessionKey string) error
}

// RedisCheckoutStore Redis 实现
type RedisCheckoutStore struct {
	prefix string
	ttl    time.Duration
}

// NewRedisCheckoutStore 创建 Redis 结算状态存储
func NewRedisCheckoutStore(prefix string, ttl time.Duration) *RedisCheckoutStore {
	return &RedisCheckoutStore{prefix: prefix, ttl: ttl}
}

// Load 读取快照
func (s *RedisCheckoutStore) Load(ctx context.Context, sessionKey string) (*CheckoutState, error) {
	if strings.TrimSpace(sessionKey) == "" {
		return nil, ErrCheckoutSessionEmpty
	}
	var state CheckoutState
	found, err := cache.GetCheckoutSnapshot(ctx, cache.CheckoutSnapshotKey(s.prefix, sessionKey), &state, s.ttl)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	state.normalize()
	return &state, nil
}

// Save 写入快照
func (s *RedisCheckoutStore) Save(ctx context.Context, sessionKey string, state *CheckoutState) error {
	if strings.TrimSpace(sessionKey) == "" {
		return ErrCheckoutSessionEmpty
	}
	return cache.SetCheckoutSnapshot(ctx, cache.CheckoutSnapshotKey(s.prefix, sessionKey), state, s.ttl)
}

// Delete 删除快照
func (s *RedisCheckoutStore) Delete(ctx context.Context, sessionKey string) error {
	if strings.TrimSpace(sessionKey) == "" {
		return nil
	}
	return cache.DelCheckoutSnapshot(ctx, cache.CheckoutSnapshotKey(s.prefix, sessionKey))
}

// DBCheckoutStore 数据库实现（Redis 未启用时使用）
type DBCheckoutStore struct {
	repo repository.CheckoutSessionRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewDBCheckoutStore 创建数据库结算状态存储
func NewDBCheckoutStore(repo repository.CheckoutSessionRepository, ttl time.Duration) *DBCheckoutStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &DBCheckoutStore{repo: repo, ttl: ttl, now: time.Now}
}

// Load 读取快照，已过期的快照视为不存在
func (s *DBCheckoutStore) Load(ctx context.Context, sessionKey string) (*CheckoutState, error) {
	if strings.TrimSpace(sessionKey) == "" {
		return nil, ErrCheckoutSessionEmpty
	}
	repo := s.repo.WithContext(ctx)
	row, err := repo.GetByKey(sessionKey)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	now := s.now()
	if !row.ExpiresAt.After(now) {
		if err := repo.DeleteByKey(sessionKey); err != nil {
			logger.Warnw("checkout_session_expired_delete_failed", "session_key", sessionKey, "error", err)
		}
		return nil, nil
	}
	var state CheckoutState
	if err := json.Unmarshal([]byte(row.Payload), &state); err != nil {
		logger.Warnw("checkout_session_payload_invalid", "session_key", sessionKey, "error", err)
		return nil, nil
	}
	if err := repo.Touch(sessionKey, now.Add(s.ttl)); err != nil {
		return nil, err
	}
	state.normalize()
	return &state, nil
}

// Save 写入快照
func (s *DBCheckoutStore) Save(ctx context.Context, sessionKey string, state *CheckoutState) error {
	if strings.TrimSpace(sessionKey) == "" {
		return ErrCheckoutSessionEmpty
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	now := s.now()
	return s.repo.WithContext(ctx).Upsert(&models.CheckoutSession{
		SessionKey: sessionKey,
		Payload:    string(payload),
		ExpiresAt:  now.Add(s.ttl),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// Delete 删除快照
func (s *DBCheckoutStore) Delete(ctx context.Context, sessionKey string) error {
	return s.repo.WithContext(ctx).DeleteByKey(sessionKey)
}

// PurgeExpired 清理过期快照
func (s *DBCheckoutStore) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.WithContext(ctx).DeleteExpired(s.now())
}
