package service

import (
	"context"
	"testing"
	"time"

	"github.com/dushixiang/triad/internal/config"
	"github.com/dushixiang/triad/internal/models"
	"github.com/dushixiang/triad/internal/repo"
	"github.com/dushixiang/triad/pkg/exchange"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type reconcileStack struct {
	reconcile *ReconcileService
	trade     *TradeService
	wallet    *exchange.PaperWallet
	alertRepo *repo.AlertRepo
}

func newReconcileStack(t *testing.T) *reconcileStack {
	t.Helper()
	db := newTestDB(t)
	conf := config.Config{}.WithDefaults()
	logger := zap.NewNop()

	wallet := exchange.NewPaperWallet(nil, 10000, logger)
	wallet.SetPrice("BTCUSDT", 100)

	alertRepo := repo.NewAlertRepo(db)
	alert := NewAlertService(&conf, nil, alertRepo, logger)
	market := NewMarketService(wallet, logger)
	trade := NewTradeService(db, wallet, &conf, logger)
	trade.postOnlyWait = 0
	trade.chunkPause = 0

	return &reconcileStack{
		reconcile: NewReconcileService(db, wallet, market, alert, &conf, logger),
		trade:     trade,
		wallet:    wallet,
		alertRepo: alertRepo,
	}
}

func (s *reconcileStack) alertCodes(t *testing.T) []string {
	t.Helper()
	alerts, err := s.alertRepo.FindRecent(context.Background(), 50)
	require.NoError(t, err)
	codes := make([]string, 0, len(alerts))
	for _, a := range alerts {
		codes = append(codes, a.Code)
	}
	return codes
}

func TestReconcileCleanLedger(t *testing.T) {
	stack := newReconcileStack(t)
	ctx := context.Background()

	_, err := stack.trade.OpenPosition(ctx, &OpenRequest{
		CycleID:  "rc-clean",
		Symbol:   "BTCUSDT",
		Side:     exchange.OrderSideBuy,
		Qty:      0.05,
		Price:    100,
		Leverage: 10,
	})
	require.NoError(t, err)

	report, err := stack.reconcile.Reconcile(ctx)
	require.NoError(t, err)

	assert.Empty(t, report.YellowOrphans)
	assert.Empty(t, report.RedOrphans)
	assert.Empty(t, report.FeeDrifts)
}

func TestReconcileYellowOrphan(t *testing.T) {
	stack := newReconcileStack(t)
	ctx := context.Background()

	// 直接在交易所侧成仓，台账不知情
	require.NoError(t, stack.wallet.SetLeverage(ctx, "BTCUSDT", 10))
	_, err := stack.wallet.CreateOrder(ctx, &exchange.OrderRequest{
		Symbol:      "BTCUSDT",
		Side:        exchange.OrderSideBuy,
		OrderType:   exchange.OrderTypeMarket,
		Qty:         0.05,
		TimeInForce: exchange.TimeInForceIOC,
	})
	require.NoError(t, err)

	report, err := stack.reconcile.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT|LONG"}, report.YellowOrphans)

	open, err := stack.reconcile.TradeRepo.FindOpenBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 0.05, open[0].Quantity)
	assert.Equal(t, float64(100), open[0].EntryPrice)
	assert.Equal(t, "reconcile", open[0].Meta["source"])
	assert.Greater(t, open[0].StopLoss, 0.0)
	assert.Contains(t, stack.alertCodes(t), CodeYellowOrphan)

	// 再跑一遍不会重复补录
	report, err = stack.reconcile.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.YellowOrphans)

	open, err = stack.reconcile.TradeRepo.FindOpenBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestReconcileRedOrphan(t *testing.T) {
	stack := newReconcileStack(t)
	ctx := context.Background()

	// 交易所侧留下110的最近成交，但没有持仓
	_, err := stack.wallet.CreateOrder(ctx, &exchange.OrderRequest{
		Symbol:      "BTCUSDT",
		Side:        exchange.OrderSideBuy,
		OrderType:   exchange.OrderTypeMarket,
		Qty:         0.01,
		TimeInForce: exchange.TimeInForceIOC,
	})
	require.NoError(t, err)
	stack.wallet.SetPrice("BTCUSDT", 110)
	_, err = stack.wallet.CreateOrder(ctx, &exchange.OrderRequest{
		Symbol:      "BTCUSDT",
		Side:        exchange.OrderSideSell,
		OrderType:   exchange.OrderTypeMarket,
		Qty:         0.01,
		TimeInForce: exchange.TimeInForceIOC,
		ReduceOnly:  true,
	})
	require.NoError(t, err)

	// 台账残留一条OPEN记录
	orphan := &models.Trade{
		ID:         ulid.Make().String(),
		Symbol:     "BTCUSDT",
		Side:       string(exchange.PositionSideLong),
		Status:     models.TradeStatusOpen,
		Quantity:   0.05,
		EntryPrice: 100,
		Leverage:   10,
		OpenedAt:   time.Now(),
		Meta:       datatypes.JSONMap{},
	}
	require.NoError(t, stack.reconcile.TradeRepo.Create(ctx, orphan))

	report, err := stack.reconcile.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT|LONG"}, report.RedOrphans)

	reloaded := &models.Trade{}
	require.NoError(t, stack.reconcile.TradeRepo.GetDB(ctx).Where("id = ?", orphan.ID).First(reloaded).Error)
	assert.Equal(t, models.TradeStatusClosed, reloaded.Status)
	assert.Equal(t, float64(110), reloaded.ExitPrice)
	assert.InDelta(t, 0.5, reloaded.RealizedPnl, 1e-9) // (110-100) × 0.05
	assert.Contains(t, stack.alertCodes(t), CodeRedOrphan)

	// 幂等：第二次运行不再有红单
	report, err = stack.reconcile.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.RedOrphans)
}

func TestReconcileFeeDrift(t *testing.T) {
	stack := newReconcileStack(t)
	ctx := context.Background()

	trade, err := stack.trade.OpenPosition(ctx, &OpenRequest{
		CycleID:  "rc-fee",
		Symbol:   "BTCUSDT",
		Side:     exchange.OrderSideBuy,
		Qty:      0.05,
		Price:    100,
		Leverage: 10,
	})
	require.NoError(t, err)

	// 台账手续费与交易所成交流水不一致
	trade.Fees = 0.5
	require.NoError(t, stack.trade.TradeRepo.UpdateById(ctx, trade))

	report, err := stack.reconcile.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{trade.ID}, report.FeeDrifts)
	assert.Contains(t, stack.alertCodes(t), CodeFeeDriftCorrected)

	reloaded := &models.Trade{}
	require.NoError(t, stack.reconcile.TradeRepo.GetDB(ctx).Where("id = ?", trade.ID).First(reloaded).Error)
	assert.Equal(t, float64(0), reloaded.Fees)

	// 幂等：修正后不再上报漂移
	report, err = stack.reconcile.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.FeeDrifts)
}
