package service

import (
	"context"
	"testing"
	"time"

	"github.com/dushixiang/triad/internal/ai"
	"github.com/dushixiang/triad/internal/config"
	"github.com/dushixiang/triad/internal/models"
	"github.com/dushixiang/triad/internal/repo"
	"github.com/dushixiang/triad/pkg/exchange"
	"github.com/dushixiang/triad/pkg/locker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type cycleStack struct {
	cycle     *CycleService
	trade     *TradeService
	consensus *ConsensusService
	wallet    *exchange.PaperWallet
	alertRepo *repo.AlertRepo
	locks     *locker.Locker
	db        *gorm.DB
}

func newCycleStack(t *testing.T, providers []ai.Provider, mutate func(*config.Config)) *cycleStack {
	t.Helper()
	db := newTestDB(t)
	conf := config.Config{}.WithDefaults()
	if mutate != nil {
		mutate(&conf)
	}
	logger := zap.NewNop()

	wallet := exchange.NewPaperWallet(nil, conf.Trading.InitialBalance, logger)
	wallet.SetPrice("BTCUSDT", 100)

	alertRepo := repo.NewAlertRepo(db)
	alert := NewAlertService(&conf, nil, alertRepo, logger)
	market := NewMarketService(wallet, logger)
	account := NewAccountService(wallet, logger)
	correlation := NewCorrelationService(&conf, wallet, logger)
	risk := NewRiskService(&conf, wallet, correlation, logger)
	consensus := NewConsensusService(db, &conf, providers, alert, logger)
	trade := NewTradeService(db, wallet, &conf, logger)
	trade.postOnlyWait = 0
	trade.chunkPause = 0
	locks := locker.New()

	return &cycleStack{
		cycle:     NewCycleService(&conf, locks, market, account, consensus, risk, trade, alert, logger),
		trade:     trade,
		consensus: consensus,
		wallet:    wallet,
		alertRepo: alertRepo,
		locks:     locks,
		db:        db,
	}
}

// strongLong 置信度和止损距离都满足开仓条件
func strongLong(name string) *fakeProvider {
	return fixedProvider(name, 1, &ai.Opinion{
		Provider:   name,
		Model:      "fake",
		Action:     ai.ActionLong,
		Confidence: 80,
		Leverage:   30,
		StopLoss:   95,
		TakeProfit: 115,
	})
}

func (s *cycleStack) openLong(t *testing.T) *models.Trade {
	t.Helper()
	trade, err := s.trade.OpenPosition(context.Background(), &OpenRequest{
		CycleID:    "seed-cycle",
		Symbol:     "BTCUSDT",
		Side:       exchange.OrderSideBuy,
		Qty:        0.05,
		Price:      100,
		Leverage:   30,
		StopLoss:   95,
		TakeProfit: 115,
	})
	require.NoError(t, err)
	return trade
}

func (s *cycleStack) alertCodes(t *testing.T) []string {
	t.Helper()
	alerts, err := s.alertRepo.FindRecent(context.Background(), 50)
	require.NoError(t, err)
	codes := make([]string, 0, len(alerts))
	for _, a := range alerts {
		codes = append(codes, a.Code)
	}
	return codes
}

func TestRunCycleOpensPosition(t *testing.T) {
	stack := newCycleStack(t, []ai.Provider{strongLong("alpha"), strongLong("beta")}, nil)
	ctx := context.Background()

	require.NoError(t, stack.cycle.RunCycle(ctx, "BTCUSDT"))

	open, err := stack.trade.TradeRepo.FindOpenBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, string(exchange.PositionSideLong), open[0].Side)
	assert.Equal(t, 30, open[0].Leverage)
	assert.Greater(t, open[0].Quantity, 0.0)

	positions, err := stack.wallet.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, open[0].Quantity, positions[0].Size, 1e-9)
}

func TestRunCycleSkipsLowConfidence(t *testing.T) {
	weak := fixedProvider("alpha", 1, &ai.Opinion{
		Provider: "alpha", Action: ai.ActionLong, Confidence: 40, Leverage: 30, StopLoss: 95, TakeProfit: 115,
	})
	stack := newCycleStack(t, []ai.Provider{weak}, nil)
	ctx := context.Background()

	require.NoError(t, stack.cycle.RunCycle(ctx, "BTCUSDT"))

	open, err := stack.trade.TradeRepo.FindOpenBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRunCycleSkipsNonDirectional(t *testing.T) {
	hold := fixedProvider("alpha", 1, &ai.Opinion{
		Provider: "alpha", Action: ai.ActionHold, Confidence: 70,
	})
	stack := newCycleStack(t, []ai.Provider{hold}, nil)
	ctx := context.Background()

	require.NoError(t, stack.cycle.RunCycle(ctx, "BTCUSDT"))

	open, err := stack.trade.TradeRepo.FindOpenBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRunCycleLockExclusivity(t *testing.T) {
	provider := strongLong("alpha")
	stack := newCycleStack(t, []ai.Provider{provider}, nil)

	// 同一交易对的周期互斥，锁被占时本轮直接跳过
	require.True(t, stack.locks.TryAcquire("cycle:new:BTCUSDT", time.Minute))
	require.NoError(t, stack.cycle.RunCycle(context.Background(), "BTCUSDT"))
	assert.Equal(t, int32(0), provider.calls.Load())

	stack.locks.Release("cycle:new:BTCUSDT")
	require.NoError(t, stack.cycle.RunCycle(context.Background(), "BTCUSDT"))
	assert.Greater(t, provider.calls.Load(), int32(0))
}

func TestRunCycleOneWayBlock(t *testing.T) {
	weakShort := fixedProvider("alpha", 1, &ai.Opinion{
		Provider: "alpha", Action: ai.ActionShort, Confidence: 45, Leverage: 30, StopLoss: 105, TakeProfit: 85,
	})
	stack := newCycleStack(t, []ai.Provider{weakShort}, nil)
	ctx := context.Background()
	stack.openLong(t)

	require.NoError(t, stack.cycle.RunCycle(ctx, "BTCUSDT"))

	// 反向信号不够强，持仓保持不变并告警
	open, err := stack.trade.TradeRepo.FindOpenBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, string(exchange.PositionSideLong), open[0].Side)
	assert.Contains(t, stack.alertCodes(t), CodeOneWayBlock)
}

func TestRunCycleOppositeStrongSignalCloses(t *testing.T) {
	strongShort := fixedProvider("alpha", 1, &ai.Opinion{
		Provider: "alpha", Action: ai.ActionShort, Confidence: 85, Leverage: 30, StopLoss: 105, TakeProfit: 85,
	})
	stack := newCycleStack(t, []ai.Provider{strongShort}, nil)
	ctx := context.Background()
	seeded := stack.openLong(t)

	require.NoError(t, stack.cycle.RunCycle(ctx, "BTCUSDT"))

	open, err := stack.trade.TradeRepo.FindOpenBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)

	closed, err := stack.trade.TradeRepo.FindByOrderLinkID(ctx, seeded.OrderLinkID)
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, models.TradeStatusClosed, closed.Status)
	assert.Equal(t, "signal_reversal", closed.Meta["close_reason"])
}

func TestRunCycleCloseAction(t *testing.T) {
	closer := fixedProvider("alpha", 1, &ai.Opinion{
		Provider: "alpha", Action: ai.ActionClose, Confidence: 70,
	})
	stack := newCycleStack(t, []ai.Provider{closer}, nil)
	ctx := context.Background()
	stack.openLong(t)

	require.NoError(t, stack.cycle.RunCycle(ctx, "BTCUSDT"))

	open, err := stack.trade.TradeRepo.FindOpenBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRunCycleRiskGateDenied(t *testing.T) {
	// 杠杆3要求40%的止损缓冲，5%的止损距离过不了清算缓冲检查
	thin := fixedProvider("alpha", 1, &ai.Opinion{
		Provider: "alpha", Action: ai.ActionLong, Confidence: 80, Leverage: 3, StopLoss: 95, TakeProfit: 115,
	})
	stack := newCycleStack(t, []ai.Provider{thin}, nil)
	ctx := context.Background()

	require.NoError(t, stack.cycle.RunCycle(ctx, "BTCUSDT"))

	open, err := stack.trade.TradeRepo.FindOpenBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Contains(t, stack.alertCodes(t), CodeRiskGateDenied)
}
