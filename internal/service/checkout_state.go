package service

import (
	"strings"
	"time"

	"github.com/dujiao-next/cart-core/internal/constants"
)

// IdentificationPayload 身份信息（游客填写；登录用户可为空）
type IdentificationPayload struct {
	Email string            `json:"email"`
	Name  string            `json:"name"`
	TaxID string            `json:"tax_id"`
	Phone string            `json:"phone,omitempty"`
	Extra map[string]string `json:"extra,omitempty"`
}

// AddressPayload 收货地址
type AddressPayload struct {
	Zipcode      string            `json:"zipcode"`
	Street       string            `json:"street"`
	Number       string            `json:"number"`
	Complement   string            `json:"complement,omitempty"`
	Neighborhood string            `json:"neighborhood"`
	City         string            `json:"city"`
	State        string            `json:"state"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// ShippingQuote 外部运费报价
type ShippingQuote struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	PriceAmount  int64             `json:"price_amount"`
	DeliveryDays int               `json:"delivery_days"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// ShippingSelection 已选运费方案
type ShippingSelection struct {
	QuoteID      string            `json:"quote_id"`
	Name         string            `json:"name"`
	PriceAmount  int64             `json:"price_amount"`
	DeliveryDays int               `json:"delivery_days"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// PaymentSelection 已选支付方式
type PaymentSelection struct {
	Method string            `json:"method"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// CheckoutState 结算向导状态快照
type CheckoutState struct {
	Step           string                `json:"step"`
	CartID         uint                  `json:"cart_id"`
	UserID         uint                  `json:"user_id,omitempty"`
	Identification IdentificationPayload `json:"identification"`
	Address        AddressPayload        `json:"address"`
	Shipping       ShippingSelection     `json:"shipping"`
	Payment        PaymentSelection      `json:"payment"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// checkoutStepOrder 步骤严格前进顺序
var checkoutStepOrder = []string{
	constants.CheckoutStepIdentification,
	constants.CheckoutStepAddress,
	constants.CheckoutStepShipping,
	constants.CheckoutStepPayment,
	constants.CheckoutStepReview,
}

// checkoutStepSuccessor 前进后继表（review 无后继）
var checkoutStepSuccessor = map[string]string{
	constants.CheckoutStepIdentification: constants.CheckoutStepAddress,
	constants.CheckoutStepAddress:        constants.CheckoutStepShipping,
	constants.CheckoutStepShipping:       constants.CheckoutStepPayment,
	constants.CheckoutStepPayment:        constants.CheckoutStepReview,
}

// checkoutStepGates 离开步骤前须满足的条件
var checkoutStepGates = map[string]func(state *CheckoutState) bool{
	constants.CheckoutStepIdentification: identificationComplete,
	constants.CheckoutStepAddress:        addressComplete,
	constants.CheckoutStepShipping:       shippingSelected,
	constants.CheckoutStepPayment:        paymentSelected,
}

var checkoutStepIndex = func() map[string]int {
	index := make(map[string]int, len(checkoutStepOrder))
	for i, step := range checkoutStepOrder {
		index[step] = i
	}
	return index
}()

// ParseCheckoutStep 解析步骤名称（大小写不敏感）
func ParseCheckoutStep(name string) (string, error) {
	step := strings.ToLower(strings.TrimSpace(name))
	if _, ok := checkoutStepIndex[step]; !ok {
		return "", &InvalidStepTransitionError{Step: name}
	}
	return step, nil
}

// CheckoutSteps 返回步骤顺序
func CheckoutSteps() []string {
	return append([]string(nil), checkoutStepOrder...)
}

// NewCheckoutState 创建初始状态
func NewCheckoutState(cartID, userID uint) *CheckoutState {
	return &CheckoutState{
		Step:      constants.CheckoutStepIdentification,
		CartID:    cartID,
		UserID:    userID,
		UpdatedAt: time.Now(),
	}
}

// StepValid 判断步骤条件是否满足（review 恒为真）
func (s *CheckoutState) StepValid(step string) bool {
	gate, ok := checkoutStepGates[step]
	if !ok {
		return true
	}
	return gate(s)
}

// CanAdvanceTo 判断能否从当前步骤前进到 target（途经的每个步骤均须满足条件）
func (s *CheckoutState) CanAdvanceTo(target string) bool {
	current := checkoutStepIndex[s.Step]
	want, ok := checkoutStepIndex[target]
	if !ok || want <= current {
		return ok
	}
	for step := s.Step; step != target; step = checkoutStepSuccessor[step] {
		if !s.StepValid(step) {
			return false
		}
	}
	return true
}

// EarliestInvalidStep 返回当前步骤之前首个不满足条件的步骤，全部满足时返回当前步骤
func (s *CheckoutState) EarliestInvalidStep() string {
	current := checkoutStepIndex[s.Step]
	for i := 0; i < current; i++ {
		if !s.StepValid(checkoutStepOrder[i]) {
			return checkoutStepOrder[i]
		}
	}
	return s.Step
}

// pullBack 当前步骤之前的条件失效时回退到最早失效的步骤，返回是否发生回退
func (s *CheckoutState) pullBack() bool {
	earliest := s.EarliestInvalidStep()
	if earliest == s.Step {
		return false
	}
	s.Step = earliest
	return true
}

// Ready 是否已到达确认步骤且全部条件满足
func (s *CheckoutState) Ready() bool {
	return s.Step == constants.CheckoutStepReview && s.EarliestInvalidStep() == constants.CheckoutStepReview
}

// normalize 修正未知步骤
func (s *CheckoutState) normalize() {
	if _, ok := checkoutStepIndex[s.Step]; !ok {
		s.Step = constants.CheckoutStepIdentification
	}
}

func identificationComplete(state *CheckoutState) bool {
	if state.UserID > 0 {
		return true
	}
	id := state.Identification
	return notBlank(id.Email) && notBlank(id.Name) && notBlank(id.TaxID)
}

func addressComplete(state *CheckoutState) bool {
	addr := state.Address
	return notBlank(addr.Zipcode) &&
		notBlank(addr.Street) &&
		notBlank(addr.Number) &&
		notBlank(addr.Neighborhood) &&
		notBlank(addr.City) &&
		notBlank(addr.State)
}

func shippingSelected(state *CheckoutState) bool {
	return notBlank(state.Shipping.QuoteID)
}

func paymentSelected(state *CheckoutState) bool {
	return notBlank(state.Payment.Method)
}

func notBlank(value string) bool {
	return strings.TrimSpace(value) != ""
}

func normalizeZipcode(zipcode string) string {
	var b strings.Builder
	for _, r := range zipcode {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return strings.TrimSpace(zipcode)
	}
	return b.String()
}
