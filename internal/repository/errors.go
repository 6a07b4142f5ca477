package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// postgres SQLSTATE
const (
	pgCodeUniqueViolation  = "23505"
	pgCodeLockNotAvailable = "55P03"
)

var (
	// ErrLockNotAvailable 行锁获取失败（NOWAIT 冲突或 sqlite 忙）
	ErrLockNotAvailable = errors.New("row lock not available")
	// ErrDuplicateKey 唯一约束冲突
	ErrDuplicateKey = errors.New("duplicate key")
)

// translateError 将驱动层错误归一为仓储错误
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if IsLockNotAvailable(err) && !errors.Is(err, ErrLockNotAvailable) {
		return errors.Join(ErrLockNotAvailable, err)
	}
	if IsDuplicateKey(err) && !errors.Is(err, ErrDuplicateKey) {
		return errors.Join(ErrDuplicateKey, err)
	}
	return err
}

// IsLockNotAvailable 判断是否为锁冲突
func IsLockNotAvailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrLockNotAvailable) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCodeLockNotAvailable
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

// IsDuplicateKey 判断是否为唯一约束冲突
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicateKey) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCodeUniqueViolation
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
