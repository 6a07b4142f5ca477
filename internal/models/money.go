package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// minorUnitExp 最小货币单位的小数位数（分）
const minorUnitExp = 2

// Money 展示用金额类型（保留 2 位小数），持久化字段统一使用最小货币单位 int64
type Money struct {
	decimal.Decimal
}

// NewMoneyFromMinor 从最小货币单位创建金额
func NewMoneyFromMinor(amount int64) Money {
	return Money{Decimal: decimal.New(amount, -minorUnitExp)}
}

// NewMoneyFromDecimal 从 decimal 创建金额
func NewMoneyFromDecimal(amount decimal.Decimal) Money {
	return Money{Decimal: amount.Round(minorUnitExp)}
}

// Minor 返回最小货币单位金额
func (m Money) Minor() int64 {
	return m.Decimal.Shift(minorUnitExp).Round(0).IntPart()
}

// MarshalJSON 统一输出 2 位小数的字符串
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON 解析金额（字符串或数字）
func (m *Money) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return err
		}
		m.Decimal = d.Round(minorUnitExp)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	m.Decimal = decimal.NewFromFloat(f).Round(minorUnitExp)
	return nil
}

// String 返回 2 位小数格式
func (m Money) String() string {
	return m.Decimal.Round(minorUnitExp).StringFixed(minorUnitExp)
}

// FormatMinor 将最小货币单位格式化为带币种的展示文本
func FormatMinor(currency string, amount int64) string {
	return currency + " " + NewMoneyFromMinor(amount).String()
}
