package service

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/dushixiang/triad/internal/config"
	"github.com/dushixiang/triad/internal/models"
	"github.com/dushixiang/triad/internal/repo"
	"github.com/dushixiang/triad/internal/trading"
	"github.com/dushixiang/triad/internal/xe"
	"github.com/dushixiang/triad/pkg/exchange"
	"github.com/go-orz/orz"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const feeDriftEpsilon = 1e-8

// ReconcileService 台账与交易所持仓对账
// 以 SYMBOL|SIDE 为键做两侧比对：交易所有仓而台账没有的是黄单，
// 补录一条OPEN记录并重挂止损；台账有仓而交易所没有的是红单，
// 按最近成交价把台账记录平掉。手续费漂移按订单号增量修正。
// 对账是幂等的，重复执行不产生新的修正
type ReconcileService struct {
	logger *zap.Logger

	*orz.Service
	*repo.TradeRepo

	client exchange.Exchange
	market *MarketService
	alert  *AlertService
	conf   config.ReconcileConf

	running atomic.Bool
}

// NewReconcileService 创建对账服务
func NewReconcileService(
	db *gorm.DB,
	client exchange.Exchange,
	market *MarketService,
	alert *AlertService,
	conf *config.Config,
	logger *zap.Logger,
) *ReconcileService {
	return &ReconcileService{
		logger:    logger,
		Service:   orz.NewService(db),
		TradeRepo: repo.NewTradeRepo(db),
		client:    client,
		market:    market,
		alert:     alert,
		conf:      conf.Reconcile,
	}
}

// ReconcileReport 一次对账的结果汇总
type ReconcileReport struct {
	Checked       int      `json:"checked"`
	YellowOrphans []string `json:"yellow_orphans"` // 交易所有仓台账缺失
	RedOrphans    []string `json:"red_orphans"`    // 台账有仓交易所缺失
	FeeDrifts     []string `json:"fee_drifts"`     // 修正过手续费的台账ID
}

// Reconcile 执行一轮对账，同一时刻只允许一个对账在跑
func (s *ReconcileService) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, xe.ErrReconcileRunning
	}
	defer s.running.Store(false)

	positions, err := s.client.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load exchange positions: %w", err)
	}
	openTrades, err := s.TradeRepo.FindAllOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load open trades: %w", err)
	}

	exchangeSide := make(map[string]*exchange.Position, len(positions))
	for _, p := range positions {
		key := p.Symbol + "|" + string(exchange.PositionSideFromOrder(p.Side))
		exchangeSide[key] = p
	}
	ledgerSide := make(map[string]*models.Trade, len(openTrades))
	for i := range openTrades {
		ledgerSide[openTrades[i].PositionKey()] = &openTrades[i]
	}

	report := &ReconcileReport{Checked: len(exchangeSide) + len(ledgerSide)}

	for key, position := range exchangeSide {
		if _, tracked := ledgerSide[key]; tracked {
			continue
		}
		if err := s.adoptOrphan(ctx, position); err != nil {
			s.logger.Error("failed to adopt exchange orphan",
				zap.String("position", key),
				zap.Error(err))
			continue
		}
		report.YellowOrphans = append(report.YellowOrphans, key)
	}

	for key, trade := range ledgerSide {
		if _, held := exchangeSide[key]; held {
			if id, corrected := s.correctFees(ctx, trade); corrected {
				report.FeeDrifts = append(report.FeeDrifts, id)
			}
			continue
		}
		if err := s.closeOrphan(ctx, trade); err != nil {
			s.logger.Error("failed to close ledger orphan",
				zap.String("position", key),
				zap.Error(err))
			continue
		}
		report.RedOrphans = append(report.RedOrphans, key)
	}

	if len(report.YellowOrphans) > 0 || len(report.RedOrphans) > 0 || len(report.FeeDrifts) > 0 {
		s.logger.Info("reconcile completed with corrections",
			zap.Strings("yellow", report.YellowOrphans),
			zap.Strings("red", report.RedOrphans),
			zap.Strings("fee_drifts", report.FeeDrifts))
	}
	return report, nil
}

// adoptOrphan 黄单：交易所持仓未入台账，补录OPEN记录并重挂止损
func (s *ReconcileService) adoptOrphan(ctx context.Context, position *exchange.Position) error {
	side := exchange.PositionSideFromOrder(position.Side)

	stopLoss, takeProfit := 0.0, 0.0
	if snapshot, err := s.market.GetSnapshot(ctx, position.Symbol); err == nil {
		stopLoss = trading.AtrStopLoss(position.AvgPrice, snapshot.ATR, side)
		takeProfit = trading.AtrTakeProfit(position.AvgPrice, snapshot.ATR, side)
		if err := s.client.SetTradingStop(ctx, position.Symbol, takeProfit, stopLoss); err != nil {
			s.logger.Warn("failed to attach stops on adopted position",
				zap.String("symbol", position.Symbol),
				zap.Error(err))
		}
	}

	trade := &models.Trade{
		ID:         ulid.Make().String(),
		Symbol:     position.Symbol,
		Side:       string(side),
		Status:     models.TradeStatusOpen,
		Quantity:   position.Size,
		EntryPrice: position.AvgPrice,
		Leverage:   int(position.Leverage),
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		OpenedAt:   time.Now(),
		Meta: datatypes.JSONMap{
			"source": "reconcile",
		},
	}
	if err := s.TradeRepo.Create(ctx, trade); err != nil {
		return err
	}

	s.alert.Send(ctx, AlertWarning, CodeYellowOrphan,
		fmt.Sprintf("交易所存在未入账持仓 %s %s，已补录台账并重挂止损", position.Symbol, side),
		map[string]any{"symbol": position.Symbol, "side": string(side), "qty": position.Size},
		s.alert.DedupKey(CodeYellowOrphan, position.Symbol))
	return nil
}

// closeOrphan 红单：台账持仓在交易所已不存在，按最近成交价结算后关闭
func (s *ReconcileService) closeOrphan(ctx context.Context, trade *models.Trade) error {
	exitPrice := trade.EntryPrice
	executions, err := s.client.GetExecutions(ctx, trade.Symbol, 50)
	if err != nil {
		s.logger.Warn("no executions for ledger orphan, falling back to entry price",
			zap.String("symbol", trade.Symbol),
			zap.Error(err))
	} else if len(executions) > 0 {
		exitPrice = executions[0].ExecPrice
	}

	now := time.Now()
	trade.Status = models.TradeStatusClosed
	trade.ExitPrice = exitPrice
	trade.RealizedPnl = trading.RealizedPnl(trade.EntryPrice, exitPrice, trade.Quantity, exchange.PositionSide(trade.Side))
	trade.ClosedAt = &now
	if trade.Meta == nil {
		trade.Meta = datatypes.JSONMap{}
	}
	trade.Meta["close_reason"] = "reconcile_orphan"
	if err := s.TradeRepo.UpdateById(ctx, trade); err != nil {
		return err
	}

	s.alert.Send(ctx, AlertError, CodeRedOrphan,
		fmt.Sprintf("台账持仓 %s %s 在交易所不存在，已按最近成交价 %.4f 结算关闭", trade.Symbol, trade.Side, exitPrice),
		map[string]any{"symbol": trade.Symbol, "side": trade.Side, "trade_id": trade.ID, "exit_price": exitPrice},
		s.alert.DedupKey(CodeRedOrphan, trade.Symbol))
	return nil
}

// correctFees 按订单号汇总交易所手续费，与台账有出入时增量修正
func (s *ReconcileService) correctFees(ctx context.Context, trade *models.Trade) (string, bool) {
	if trade.OrderID == "" {
		return "", false
	}
	executions, err := s.client.GetExecutions(ctx, trade.Symbol, 100)
	if err != nil {
		return "", false
	}

	actual := 0.0
	matched := false
	for _, e := range executions {
		if e.OrderID == trade.OrderID {
			actual += e.ExecFee
			matched = true
		}
	}
	if !matched || math.Abs(actual-trade.Fees) <= feeDriftEpsilon {
		return "", false
	}

	drift := actual - trade.Fees
	trade.Fees = actual
	if err := s.TradeRepo.UpdateById(ctx, trade); err != nil {
		s.logger.Warn("failed to persist fee correction",
			zap.String("trade_id", trade.ID),
			zap.Error(err))
		return "", false
	}

	s.alert.Send(ctx, AlertInfo, CodeFeeDriftCorrected,
		fmt.Sprintf("台账 %s 手续费修正 %.8f", trade.ID, drift),
		map[string]any{"trade_id": trade.ID, "drift": drift},
		s.alert.DedupKey(CodeFeeDriftCorrected, trade.Symbol))
	return trade.ID, true
}
