package trading

import (
	"math"

	"github.com/dushixiang/triad/pkg/exchange"
)

// AtrStopLoss 按ATR倍数计算止损价，方向感知，非法输入返回 0
func AtrStopLoss(entry, atr float64, side exchange.PositionSide) float64 {
	if entry <= 0 || atr <= 0 {
		return 0
	}
	offset := atr * AtrMultiplier
	switch side {
	case exchange.PositionSideShort:
		return entry + offset
	default:
		return math.Max(0, entry-offset)
	}
}

// AtrTakeProfit 按ATR倍数计算止盈价，方向感知，非法输入返回 0
func AtrTakeProfit(entry, atr float64, side exchange.PositionSide) float64 {
	if entry <= 0 || atr <= 0 {
		return 0
	}
	offset := atr * TakeProfitMultiplier
	switch side {
	case exchange.PositionSideShort:
		return math.Max(0, entry-offset)
	default:
		return entry + offset
	}
}

// RealizedPnl 平仓已实现盈亏，方向带符号
func RealizedPnl(entry, exit, qty float64, side exchange.PositionSide) float64 {
	pnl := (exit - entry) * qty
	if side == exchange.PositionSideShort {
		pnl = -pnl
	}
	return pnl
}
