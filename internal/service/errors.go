package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOwner          = errors.New("cart owner invalid")
	ErrProductUnavailable    = errors.New("product unavailable")
	ErrProductSKURequired    = errors.New("product sku required")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInvalidQuantity       = errors.New("invalid quantity")
	ErrCartNotFound          = errors.New("cart not found")
	ErrCartNotActive         = errors.New("cart not active")
	ErrItemNotFound          = errors.New("cart item not found")
	ErrMergeConflict         = errors.New("cart merge conflict")
	ErrInvalidStepTransition = errors.New("invalid checkout step")
	ErrCheckoutCartEmpty     = errors.New("checkout cart empty")
	ErrCheckoutNotReady      = errors.New("checkout not ready")
	ErrCheckoutCartChanged   = errors.New("checkout cart changed")
	ErrCheckoutSessionEmpty  = errors.New("checkout session key required")
	ErrShippingQuoteNotFound = errors.New("shipping quote not found")
	ErrOrderPlacementFailed  = errors.New("order placement failed")
	ErrCheckoutInProgress    = errors.New("checkout in progress")
)

// InsufficientStockError 库存不足（携带可满足的最大数量）
type InsufficientStockError struct {
	ProductID   uint
	SKUID       uint
	Requested   int
	MaxQuantity int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: product=%d sku=%d requested=%d max=%d", e.ProductID, e.SKUID, e.Requested, e.MaxQuantity)
}

// Is 匹配 ErrInsufficientStock
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// InvalidStepTransitionError 未知的结算步骤
type InvalidStepTransitionError struct {
	Step string
}

func (e *InvalidStepTransitionError) Error() string {
	return fmt.Sprintf("invalid checkout step: %q", e.Step)
}

// Is 匹配 ErrInvalidStepTransition
func (e *InvalidStepTransitionError) Is(target error) bool {
	return target == ErrInvalidStepTransition
}

// MaxSatisfiableQuantity 从错误中提取可满足的最大数量
func MaxSatisfiableQuantity(err error) (int, bool) {
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		return stockErr.MaxQuantity, true
	}
	return 0, false
}
