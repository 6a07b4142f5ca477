package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dujiao-next/cart-core/internal/constants"
)

// CheckoutSnapshotKey 结算会话快照键
func CheckoutSnapshotKey(prefix, sessionKey string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = constants.CheckoutSessionPrefixDefault
	}
	return fmt.Sprintf("%s:%s", prefix, strings.TrimSpace(sessionKey))
}

// GetCheckoutSnapshot 读取结算快照并刷新过期时间
func GetCheckoutSnapshot(ctx context.Context, key string, dest interface{}, ttl time.Duration) (bool, error) {
	found, err := GetJSON(ctx, key, dest)
	if err != nil || !found {
		return found, err
	}
	if err := Expire(ctx, key, ttl); err != nil {
		return true, err
	}
	return true, nil
}

// SetCheckoutSnapshot 写入结算快照
func SetCheckoutSnapshot(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return SetJSON(ctx, key, value, ttl)
}

// DelCheckoutSnapshot 删除结算快照
func DelCheckoutSnapshot(ctx context.Context, key string) error {
	return Del(ctx, key)
}
