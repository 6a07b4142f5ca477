package service

import (
	"context"
	"errors"
	"time"

	"github.com/dujiao-next/cart-core/internal/constants"
	"github.com/dujiao-next/cart-core/internal/logger"
	"github.com/dujiao-next/cart-core/internal/models"
	"github.com/dujiao-next/cart-core/internal/repository"

	"gorm.io/gorm"
)

// unlimitedQuantity 未启用库存控制时的可用量
const unlimitedQuantity = int(^uint(0) >> 1)

// ReservationOwner 预占归属（购物车项）
type ReservationOwner struct {
	CartID     uint
	CartItemID uint
}

// ReservationLedger 库存预占账本，唯一负责计算与变更已占用库存
type ReservationLedger struct {
	reservationRepo repository.ReservationRepository
	stockRepo       repository.StockRepository
	ttlBasis        string
	now             func() time.Time
}

// NewReservationLedger 创建库存预占账本
func NewReservationLedger(reservationRepo repository.ReservationRepository, stockRepo repository.StockRepository, ttlBasis string) *ReservationLedger {
	if ttlBasis != constants.ReservationTTLBasisCreated {
		ttlBasis = constants.ReservationTTLBasisActivity
	}
	return &ReservationLedger{
		reservationRepo: reservationRepo,
		stockRepo:       stockRepo,
		ttlBasis:        ttlBasis,
		now:             time.Now,
	}
}

// AvailableQuantity 查询当前可用库存（可售量减去全部有效预占）
func (l *ReservationLedger) AvailableQuantity(ctx context.Context, ref repository.StockRef) (int, error) {
	record, err := l.stockRepo.WithContext(ctx).GetStockRecord(ref)
	if err != nil {
		return 0, err
	}
	if record == nil {
		return 0, ErrProductUnavailable
	}
	if !record.Managed {
		return unlimitedQuantity, nil
	}
	reserved, err := l.reservationRepo.WithContext(ctx).SumByStock(ref, 0)
	if err != nil {
		return 0, err
	}
	return clampAvailable(record.Sellable - reserved), nil
}

// availableTx 锁定库存记录并计算可用量（排除指定购物车项自身的预占）
func (l *ReservationLedger) availableTx(tx *gorm.DB, ref repository.StockRef, excludeItemID uint) (*repository.StockRecord, int, error) {
	record, err := l.stockRepo.WithTx(tx).LockStockRecord(ref)
	if err != nil {
		return nil, 0, err
	}
	if record == nil {
		return nil, 0, ErrProductUnavailable
	}
	if !record.Managed {
		return record, unlimitedQuantity, nil
	}
	reserved, err := l.reservationRepo.WithTx(tx).SumByStock(ref, excludeItemID)
	if err != nil {
		return nil, 0, err
	}
	return record, clampAvailable(record.Sellable - reserved), nil
}

// availableForCartsTx 锁定库存记录并计算排除指定购物车全部预占后的可用量
func (l *ReservationLedger) availableForCartsTx(tx *gorm.DB, ref repository.StockRef, cartIDs []uint) (*repository.StockRecord, int, error) {
	record, err := l.stockRepo.WithTx(tx).LockStockRecord(ref)
	if err != nil {
		return nil, 0, err
	}
	if record == nil {
		return nil, 0, ErrProductUnavailable
	}
	if !record.Managed {
		return record, unlimitedQuantity, nil
	}
	reserved, err := l.reservationRepo.WithTx(tx).SumByStockExcludingCarts(ref, cartIDs)
	if err != nil {
		return nil, 0, err
	}
	return record, clampAvailable(record.Sellable - reserved), nil
}

// Reserve 将购物车项的预占量设置为 quantity，超出可用量时返回 InsufficientStockError
func (l *ReservationLedger) Reserve(tx *gorm.DB, ref repository.StockRef, quantity int, owner ReservationOwner) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if owner.CartID == 0 || owner.CartItemID == 0 {
		return ErrItemNotFound
	}
	_, available, err := l.availableTx(tx, ref, owner.CartItemID)
	if err != nil {
		return err
	}
	if quantity > available {
		return &InsufficientStockError{
			ProductID:   ref.ProductID,
			SKUID:       ref.SKUID,
			Requested:   quantity,
			MaxQuantity: available,
		}
	}
	return l.put(tx, ref, quantity, owner)
}

// ReserveUpTo 尽量预占 quantity，返回实际预占量；可用量为 0 时释放该项预占
func (l *ReservationLedger) ReserveUpTo(tx *gorm.DB, ref repository.StockRef, quantity int, owner ReservationOwner) (int, error) {
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}
	_, available, err := l.availableTx(tx, ref, owner.CartItemID)
	if err != nil {
		return 0, err
	}
	granted := quantity
	if granted > available {
		granted = available
	}
	if granted <= 0 {
		return 0, l.Release(tx, owner.CartItemID)
	}
	if err := l.put(tx, ref, granted, owner); err != nil {
		return 0, err
	}
	return granted, nil
}

// put 写入预占记录，调用方须已在同一事务内锁定库存记录并完成可用量校验
func (l *ReservationLedger) put(tx *gorm.DB, ref repository.StockRef, quantity int, owner ReservationOwner) error {
	repo := l.reservationRepo.WithTx(tx)
	existing, err := repo.GetByCartItem(owner.CartItemID)
	if err != nil {
		return err
	}
	now := l.now()
	if existing == nil {
		return repo.Save(&models.StockReservation{
			CartItemID: owner.CartItemID,
			CartID:     owner.CartID,
			ProductID:  ref.ProductID,
			SKUID:      ref.SKUID,
			Quantity:   quantity,
			ReservedAt: now,
			TouchedAt:  now,
		})
	}
	existing.CartID = owner.CartID
	existing.ProductID = ref.ProductID
	existing.SKUID = ref.SKUID
	existing.Quantity = quantity
	existing.TouchedAt = now
	return repo.Save(existing)
}

// Reservation 获取购物车项的预占记录
func (l *ReservationLedger) Reservation(tx *gorm.DB, cartItemID uint) (*models.StockReservation, error) {
	return l.reservationRepo.WithTx(tx).GetByCartItem(cartItemID)
}

// Release 释放购物车项的预占（幂等）
func (l *ReservationLedger) Release(tx *gorm.DB, cartItemID uint) error {
	_, err := l.reservationRepo.WithTx(tx).DeleteByCartItem(cartItemID)
	return err
}

// ReleaseCart 释放购物车的全部预占
func (l *ReservationLedger) ReleaseCart(tx *gorm.DB, cartID uint) error {
	_, err := l.reservationRepo.WithTx(tx).DeleteByCart(cartID)
	return err
}

// ExpireOlderThan 释放早于 cutoff 的预占（按配置的时间基准），返回释放条数
func (l *ReservationLedger) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, errors.New("expire cutoff is zero")
	}
	column := "touched_at"
	if l.ttlBasis == constants.ReservationTTLBasisCreated {
		column = "reserved_at"
	}
	released, err := l.reservationRepo.WithContext(ctx).DeleteOlderThan(column, cutoff)
	if err != nil {
		logger.Errorw("reservation_expire_failed", "cutoff", cutoff, "basis", l.ttlBasis, "error", err)
		return 0, err
	}
	if released > 0 {
		logger.Infow("reservation_expired", "cutoff", cutoff, "basis", l.ttlBasis, "released", released)
	}
	return released, nil
}

// ExpireByTTL 按有效期释放过期预占，ttl 不大于 0 时不处理
func (l *ReservationLedger) ExpireByTTL(ctx context.Context, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, nil
	}
	return l.ExpireOlderThan(ctx, l.now().Add(-ttl))
}

func clampAvailable(value int) int {
	if value < 0 {
		return 0
	}
	return value
}
