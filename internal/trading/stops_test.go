package trading

import (
	"testing"

	"github.com/dushixiang/triad/pkg/exchange"
	"github.com/stretchr/testify/assert"
)

func TestAtrStops(t *testing.T) {
	entry := 50000.0
	atr := 150.0

	t.Run("Long", func(t *testing.T) {
		assert.Equal(t, 50000-1.5*150, AtrStopLoss(entry, atr, exchange.PositionSideLong))
		assert.Equal(t, 50000+3.0*150, AtrTakeProfit(entry, atr, exchange.PositionSideLong))
	})

	t.Run("Short", func(t *testing.T) {
		assert.Equal(t, 50000+1.5*150, AtrStopLoss(entry, atr, exchange.PositionSideShort))
		assert.Equal(t, 50000-3.0*150, AtrTakeProfit(entry, atr, exchange.PositionSideShort))
	})

	t.Run("InvalidInputs", func(t *testing.T) {
		assert.Equal(t, 0.0, AtrStopLoss(0, atr, exchange.PositionSideLong))
		assert.Equal(t, 0.0, AtrStopLoss(entry, 0, exchange.PositionSideLong))
		assert.Equal(t, 0.0, AtrTakeProfit(-1, atr, exchange.PositionSideShort))
	})

	t.Run("NeverNegative", func(t *testing.T) {
		// ATR larger than the price itself still yields a non-negative stop.
		assert.Equal(t, 0.0, AtrStopLoss(100, 200, exchange.PositionSideLong))
		assert.Equal(t, 0.0, AtrTakeProfit(100, 200, exchange.PositionSideShort))
	})
}

func TestRealizedPnl(t *testing.T) {
	assert.Equal(t, 100.0, RealizedPnl(50000, 50100, 1, exchange.PositionSideLong))
	assert.Equal(t, -100.0, RealizedPnl(50000, 50100, 1, exchange.PositionSideShort))
	assert.Equal(t, 50.0, RealizedPnl(2000, 1900, 0.5, exchange.PositionSideShort))
}
