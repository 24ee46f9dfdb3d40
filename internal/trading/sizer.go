package trading

import (
	"math"

	"github.com/dushixiang/triad/pkg/exchange"
)

const (
	// AtrMultiplier 止损距离相对ATR的倍数，unit risk 按此计算
	AtrMultiplier = 1.5
	// TakeProfitMultiplier 止盈距离相对ATR的倍数
	TakeProfitMultiplier = 3.0

	minUnitRisk = 1e-4

	// 名义价值上限：权益的倍数，空头收紧
	maxNotionalMultiplier = 10.0
	shortNotionalTighten  = 0.8
	absoluteQtyCap        = 1e6

	MinLeverage = 3
	MaxLeverage = 75
)

// SizeInput 仓位计算输入
type SizeInput struct {
	Equity   float64
	RiskPct  float64 // 单笔风险占权益的百分比，如 1.0 表示 1%
	ATR      float64
	Price    float64
	Leverage int
	Side     exchange.PositionSide
	QtyStep  float64
	MinQty   float64
}

// ComputeQty 计算下单数量
// qty = 风险金额 / 单位风险，向下取整到数量步进并满足最小下单量
// 返回 0 表示本周期不值得开仓，不是错误
func ComputeQty(in SizeInput) float64 {
	if in.Equity <= 0 || in.RiskPct <= 0 || in.Price <= 0 || in.ATR <= 0 {
		return 0
	}

	unitRisk := math.Max(in.ATR*AtrMultiplier, minUnitRisk)
	riskAmount := in.Equity * in.RiskPct / 100.0
	qty := riskAmount / unitRisk

	multiplier := maxNotionalMultiplier
	if in.Side == exchange.PositionSideShort {
		multiplier *= shortNotionalTighten
	}
	maxQty := in.Equity * multiplier / in.Price
	qty = math.Min(qty, maxQty)
	qty = math.Min(qty, absoluteQtyCap)

	if in.QtyStep > 0 {
		qty = math.Floor(qty/in.QtyStep) * in.QtyStep
	}

	if qty < in.MinQty {
		if in.MinQty <= maxQty {
			qty = in.MinQty
		} else {
			return 0
		}
	}

	return round8(qty)
}

// ApplyQtyDelta 按模型给出的数量调节因子缩放，因子截断到 [0.25, 2.0]
func ApplyQtyDelta(qty, factor float64) float64 {
	if qty <= 0 {
		return 0
	}
	if factor <= 0 {
		return round8(qty)
	}
	clamped := math.Max(0.25, math.Min(2.0, factor))
	return round8(qty * clamped)
}

// ClampLeverage 杠杆截断到允许区间
func ClampLeverage(leverage int) int {
	if leverage < MinLeverage {
		return MinLeverage
	}
	if leverage > MaxLeverage {
		return MaxLeverage
	}
	return leverage
}

// RoundToStep 数量向下取整到步进
func RoundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return round8(math.Floor(qty/step) * step)
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}
