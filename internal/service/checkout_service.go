package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dujiao-next/cart-core/internal/logger"
	"github.com/dujiao-next/cart-core/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CheckoutSummary 结算金额汇总
type CheckoutSummary struct {
	Currency       string `json:"currency"`
	SubtotalAmount int64  `json:"subtotal_amount"`
	DiscountAmount int64  `json:"discount_amount"`
	ShippingAmount int64  `json:"shipping_amount"`
	TotalAmount    int64  `json:"total_amount"`
}

// OrderRequest 交给订单协作方的下单请求
type OrderRequest struct {
	SessionKey string          `json:"session_key"` // 结算会话键，同一会话重复提交时可作为幂等键
	Cart       *models.Cart    `json:"cart"`
	State      CheckoutState   `json:"state"`
	Summary    CheckoutSummary `json:"summary"`
}

// OrderReceipt 订单协作方回执
type OrderReceipt struct {
	OrderNo string `json:"order_no"`
}

// OrderPlacer 外部下单协作方
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderReceipt, error)
}

// MountCheckoutInput 进入结算输入
type MountCheckoutInput struct {
	SessionKey string
	CartID     uint
	UserID     uint
}

// CheckoutView 结算页视图
type CheckoutView struct {
	State   *CheckoutState  `json:"state"`
	Cart    *models.Cart    `json:"cart"`
	Alerts  []CartAlert     `json:"alerts"`
	Summary CheckoutSummary `json:"summary"`
}

// PlaceOrderResult 下单结果
type PlaceOrderResult struct {
	Receipt *OrderReceipt   `json:"receipt,omitempty"`
	Summary CheckoutSummary `json:"summary"`
	Alerts  []CartAlert     `json:"alerts"`
}

// CheckoutService 结算向导编排服务
type CheckoutService struct {
	cartService *CartService
	validator   *CartValidationService
	store       CheckoutStore
	placer      OrderPlacer
}

// NewCheckoutService 创建结算向导服务
func NewCheckoutService(cartService *CartService, validator *CartValidationService, store CheckoutStore, placer OrderPlacer) *CheckoutService {
	return &CheckoutService{
		cartService: cartService,
		validator:   validator,
		store:       store,
		placer:      placer,
	}
}

// NewCheckoutSessionKey 生成结算会话键
func NewCheckoutSessionKey() string {
	return uuid.NewString()
}

// Mount 进入结算：校验购物车、恢复或新建状态；购物车为空时返回 ErrCheckoutCartEmpty 及校验提示
func (s *CheckoutService) Mount(ctx context.Context, input MountCheckoutInput) (*CheckoutView, error) {
	sessionKey := strings.TrimSpace(input.SessionKey)
	if sessionKey == "" {
		return nil, ErrCheckoutSessionEmpty
	}
	validation, err := s.validator.Validate(ctx, input.CartID)
	if err != nil {
		return nil, err
	}
	view := &CheckoutView{Cart: validation.Cart, Alerts: validation.Alerts}
	if validation.Cart.IsEmpty() {
		if err := s.store.Delete(ctx, sessionKey); err != nil {
			logger.Warnw("checkout_session_delete_failed", "session_key", sessionKey, "error", err)
		}
		return view, ErrCheckoutCartEmpty
	}

	state, err := s.store.Load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if state == nil || state.CartID != input.CartID || (state.UserID > 0 && state.UserID != input.UserID) {
		state = NewCheckoutState(input.CartID, input.UserID)
	}
	state.UserID = input.UserID
	state.pullBack()
	if err := s.save(ctx, sessionKey, state); err != nil {
		return nil, err
	}
	view.State = state
	view.Summary = Summarize(state, validation.Cart)
	logger.ForSession(sessionKey).Debugw("checkout_mounted", "cart_id", input.CartID, "step", state.Step)
	return view, nil
}

// State 读取当前结算状态
func (s *CheckoutService) State(ctx context.Context, sessionKey string) (*CheckoutState, error) {
	return s.load(ctx, sessionKey)
}

// GoToStep 跳转步骤；后退总是允许，前进须满足途经步骤的条件，不满足时状态不变且不返回错误
func (s *CheckoutService) GoToStep(ctx context.Context, sessionKey, stepName string) (*CheckoutState, error) {
	target, err := ParseCheckoutStep(stepName)
	if err != nil {
		return nil, err
	}
	state, err := s.load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if target == state.Step {
		return state, nil
	}
	if !state.CanAdvanceTo(target) {
		logger.ForSession(sessionKey).Debugw("checkout_step_blocked", "from", state.Step, "to", target)
		return state, nil
	}
	from := state.Step
	state.Step = target
	if err := s.save(ctx, sessionKey, state); err != nil {
		return nil, err
	}
	logger.ForSession(sessionKey).Debugw("checkout_step_changed", "from", from, "to", target)
	return state, nil
}

// SaveIdentification 保存身份信息
func (s *CheckoutService) SaveIdentification(ctx context.Context, sessionKey string, payload IdentificationPayload) (*CheckoutState, error) {
	return s.update(ctx, sessionKey, func(state *CheckoutState) error {
		state.Identification = IdentificationPayload{
			Email: strings.TrimSpace(payload.Email),
			Name:  strings.TrimSpace(payload.Name),
			TaxID: strings.TrimSpace(payload.TaxID),
			Phone: strings.TrimSpace(payload.Phone),
			Extra: payload.Extra,
		}
		return nil
	})
}

// SaveAddress 保存收货地址；邮编变化时清空已选运费
func (s *CheckoutService) SaveAddress(ctx context.Context, sessionKey string, payload AddressPayload) (*CheckoutState, error) {
	return s.update(ctx, sessionKey, func(state *CheckoutState) error {
		if normalizeZipcode(state.Address.Zipcode) != normalizeZipcode(payload.Zipcode) {
			state.Shipping = ShippingSelection{}
		}
		state.Address = AddressPayload{
			Zipcode:      strings.TrimSpace(payload.Zipcode),
			Street:       strings.TrimSpace(payload.Street),
			Number:       strings.TrimSpace(payload.Number),
			Complement:   strings.TrimSpace(payload.Complement),
			Neighborhood: strings.TrimSpace(payload.Neighborhood),
			City:         strings.TrimSpace(payload.City),
			State:        strings.TrimSpace(payload.State),
			Extra:        payload.Extra,
		}
		return nil
	})
}

// SelectShipping 从报价列表中选择运费方案，quoteID 为空时清空选择
func (s *CheckoutService) SelectShipping(ctx context.Context, sessionKey, quoteID string, quotes []ShippingQuote) (*CheckoutState, error) {
	quoteID = strings.TrimSpace(quoteID)
	return s.update(ctx, sessionKey, func(state *CheckoutState) error {
		if quoteID == "" {
			state.Shipping = ShippingSelection{}
			return nil
		}
		for _, quote := range quotes {
			if strings.TrimSpace(quote.ID) != quoteID {
				continue
			}
			state.Shipping = ShippingSelection{
				QuoteID:      quoteID,
				Name:         quote.Name,
				PriceAmount:  quote.PriceAmount,
				DeliveryDays: quote.DeliveryDays,
				Extra:        quote.Extra,
			}
			return nil
		}
		return ErrShippingQuoteNotFound
	})
}

// SelectPayment 选择支付方式，method 为空时清空选择
func (s *CheckoutService) SelectPayment(ctx context.Context, sessionKey string, payment PaymentSelection) (*CheckoutState, error) {
	return s.update(ctx, sessionKey, func(state *CheckoutState) error {
		payment.Method = strings.TrimSpace(payment.Method)
		if payment.Method == "" {
			state.Payment = PaymentSelection{}
			return nil
		}
		state.Payment = payment
		return nil
	})
}

// Summary 按最新购物车金额与已选运费汇总
func (s *CheckoutService) Summary(ctx context.Context, sessionKey string) (*CheckoutSummary, error) {
	state, err := s.load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	cart, err := s.cartService.Get(ctx, state.CartID)
	if err != nil {
		return nil, err
	}
	summary := Summarize(state, cart)
	return &summary, nil
}

// Summarize 合计 = 小计 - 优惠 + 运费
func Summarize(state *CheckoutState, cart *models.Cart) CheckoutSummary {
	summary := CheckoutSummary{}
	if cart != nil {
		summary.Currency = cart.Currency
		summary.SubtotalAmount = cart.SubtotalAmount
		summary.DiscountAmount = cart.DiscountAmount
	}
	if state != nil && shippingSelected(state) {
		summary.ShippingAmount = state.Shipping.PriceAmount
	}
	summary.TotalAmount = summary.SubtotalAmount - summary.DiscountAmount + summary.ShippingAmount
	if summary.TotalAmount < 0 {
		summary.TotalAmount = 0
	}
	return summary
}

// PlaceOrder 确认下单：在购物车行锁内重新校验并以会话键占用购物车，
// 占用成功后交由订单协作方创建订单；成功则标记已转化，失败则解除占用并保留购物车
func (s *CheckoutService) PlaceOrder(ctx context.Context, sessionKey string) (*PlaceOrderResult, error) {
	sessionKey = strings.TrimSpace(sessionKey)
	state, err := s.load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if !state.Ready() {
		return nil, ErrCheckoutNotReady
	}
	if s.placer == nil {
		return nil, fmt.Errorf("%w: order placer not configured", ErrOrderPlacementFailed)
	}

	var validation *CartValidationResult
	err = s.cartService.cartRepo.Transaction(ctx, func(tx *gorm.DB) error {
		validated, err := s.validator.validateTx(ctx, tx, state.CartID)
		if err != nil {
			return err
		}
		validation = validated
		if validated.Cart.IsEmpty() || validated.Changed() {
			// 提交修正结果，不占用购物车
			return nil
		}
		return s.cartService.claimCheckoutTx(tx, validated.Cart, sessionKey)
	})
	if err != nil {
		return nil, err
	}
	result := &PlaceOrderResult{Alerts: validation.Alerts}
	if validation.Cart.IsEmpty() {
		return result, ErrCheckoutCartEmpty
	}
	result.Summary = Summarize(state, validation.Cart)
	if validation.Changed() {
		return result, ErrCheckoutCartChanged
	}

	receipt, err := s.placer.PlaceOrder(ctx, OrderRequest{
		SessionKey: sessionKey,
		Cart:       validation.Cart,
		State:      *state,
		Summary:    result.Summary,
	})
	if err != nil {
		logger.ForSession(sessionKey).Warnw("checkout_order_place_failed", "cart_id", state.CartID, "error", err)
		if releaseErr := s.cartService.ReleaseCheckout(context.WithoutCancel(ctx), state.CartID, sessionKey); releaseErr != nil {
			logger.ForSession(sessionKey).Errorw("checkout_claim_release_failed", "cart_id", state.CartID, "error", releaseErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrOrderPlacementFailed, err)
	}
	if receipt == nil {
		receipt = &OrderReceipt{}
	}
	result.Receipt = receipt

	if err := s.cartService.Convert(ctx, state.CartID); err != nil {
		logger.ForCart(state.CartID).Errorw("checkout_cart_convert_failed", "order_no", receipt.OrderNo, "error", err)
		return nil, err
	}
	if err := s.store.Delete(ctx, sessionKey); err != nil {
		logger.ForSession(sessionKey).Warnw("checkout_session_delete_failed", "error", err)
	}
	logger.ForCart(state.CartID).Infow("checkout_order_placed", "order_no", receipt.OrderNo, "total_amount", result.Summary.TotalAmount)
	return result, nil
}

// Reset 清除结算状态
func (s *CheckoutService) Reset(ctx context.Context, sessionKey string) error {
	if strings.TrimSpace(sessionKey) == "" {
		return ErrCheckoutSessionEmpty
	}
	return s.store.Delete(ctx, sessionKey)
}

func (s *CheckoutService) load(ctx context.Context, sessionKey string) (*CheckoutState, error) {
	if strings.TrimSpace(sessionKey) == "" {
		return nil, ErrCheckoutSessionEmpty
	}
	state, err := s.store.Load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrCheckoutNotReady
	}
	return state, nil
}

// update 修改步骤数据，当前步骤之前的条件失效时回退到最早失效步骤
func (s *CheckoutService) update(ctx context.Context, sessionKey string, mutate func(state *CheckoutState) error) (*CheckoutState, error) {
	state, err := s.load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if err := mutate(state); err != nil {
		return nil, err
	}
	if from := state.Step; state.pullBack() {
		logger.ForSession(sessionKey).Debugw("checkout_step_pulled_back", "from", from, "to", state.Step)
	}
	if err := s.save(ctx, sessionKey, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *CheckoutService) save(ctx context.Context, sessionKey string, state *CheckoutState) error {
	state.UpdatedAt = time.Now()
	if err := s.store.Save(ctx, sessionKey, state); err != nil {
		logger.Errorw("checkout_session_save_failed", "session_key", sessionKey, "error", err)
		return err
	}
	return nil
}

// IsCheckoutRedirect 判断错误是否应引导用户回到购物车页
func IsCheckoutRedirect(err error) bool {
	return errors.Is(err, ErrCheckoutCartEmpty) || errors.Is(err, ErrCheckoutNotReady) || errors.Is(err, ErrCartNotFound) || errors.Is(err, ErrCartNotActive)
}
