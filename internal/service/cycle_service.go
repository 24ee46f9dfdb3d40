package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dushixiang/triad/internal/ai"
	"github.com/dushixiang/triad/internal/config"
	"github.com/dushixiang/triad/internal/models"
	"github.com/dushixiang/triad/internal/trading"
	"github.com/dushixiang/triad/pkg/exchange"
	"github.com/dushixiang/triad/pkg/locker"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// CycleService 决策周期编排
// 每个周期对单个交易对走完 行情采集 → 共识决策 → 风控闸门 → 执行 的完整链路，
// 同一交易对的周期通过本地锁互斥，锁拿不到直接跳过本轮
type CycleService struct {
	logger *zap.Logger

	conf      config.TradingConf
	locks     *locker.Locker
	market    *MarketService
	account   *AccountService
	consensus *ConsensusService
	risk      *RiskService
	trade     *TradeService
	alert     *AlertService
}

// NewCycleService 创建周期编排服务
func NewCycleService(
	conf *config.Config,
	locks *locker.Locker,
	market *MarketService,
	account *AccountService,
	consensus *ConsensusService,
	risk *RiskService,
	trade *TradeService,
	alert *AlertService,
	logger *zap.Logger,
) *CycleService {
	return &CycleService{
		logger:    logger,
		conf:      conf.Trading,
		locks:     locks,
		market:    market,
		account:   account,
		consensus: consensus,
		risk:      risk,
		trade:     trade,
		alert:     alert,
	}
}

// RunCycle 执行一个决策周期，周期内的短路路径不落交易记录
func (s *CycleService) RunCycle(ctx context.Context, symbol string) error {
	lockKey := "cycle:new:" + symbol
	ttl := time.Duration(s.conf.LockTTLSeconds) * time.Second
	if !s.locks.TryAcquire(lockKey, ttl) {
		s.logger.Debug("cycle already running, skipped",
			zap.String("symbol", symbol))
		return nil
	}
	defer s.locks.Release(lockKey)

	cycleID := ulid.Make().String()
	logger := s.logger.With(zap.String("cycle_id", cycleID), zap.String("symbol", symbol))

	snapshot, err := s.market.GetSnapshot(ctx, symbol)
	if err != nil {
		return fmt.Errorf("cycle %s: snapshot for %s: %w", cycleID, symbol, err)
	}
	if snapshot.Price <= 0 {
		logger.Debug("invalid snapshot price, cycle skipped",
			zap.Float64("price", snapshot.Price))
		return nil
	}

	openTrades, err := s.trade.TradeRepo.FindOpenBySymbol(ctx, symbol)
	if err != nil {
		return fmt.Errorf("cycle %s: load open trades: %w", cycleID, err)
	}
	openSide := ""
	if len(openTrades) > 0 {
		openSide = openTrades[0].Side
	}

	equity, err := s.account.GetEquity(ctx)
	if err != nil {
		return fmt.Errorf("cycle %s: load equity: %w", cycleID, err)
	}

	outcome, err := s.consensus.Decide(ctx, ai.Context{
		CycleID:    cycleID,
		Symbol:     symbol,
		Price:      snapshot.Price,
		ATR:        snapshot.ATR,
		Equity:     equity,
		KlineBrief: KlineBrief(snapshot.Klines),
		OpenSide:   openSide,
	})
	if err != nil {
		return fmt.Errorf("cycle %s: consensus: %w", cycleID, err)
	}
	if outcome.BreakerOpen {
		logger.Info("cycle skipped, consensus breaker open")
		return nil
	}

	// 平仓优先于开仓处理
	if len(openTrades) > 0 {
		return s.manageOpen(ctx, logger, outcome, &openTrades[0])
	}

	if !outcome.Action.IsDirectional() {
		logger.Debug("non-directional consensus, cycle skipped",
			zap.String("action", string(outcome.Action)))
		return nil
	}
	if outcome.Confidence < s.conf.MinConfidence {
		logger.Debug("confidence below floor, cycle skipped",
			zap.Float64("confidence", outcome.Confidence),
			zap.Float64("floor", s.conf.MinConfidence))
		return nil
	}

	return s.openNew(ctx, logger, snapshot, outcome, equity)
}

// positionSideOf 共识动作映射到持仓方向，仅对方向性动作有意义
func positionSideOf(action ai.Action) exchange.PositionSide {
	if action == ai.ActionShort {
		return exchange.PositionSideShort
	}
	return exchange.PositionSideLong
}

// manageOpen 已有持仓时只处理平仓信号，反向强信号视同平仓
func (s *CycleService) manageOpen(ctx context.Context, logger *zap.Logger, outcome *ConsensusOutcome, trade *models.Trade) error {
	opposite := outcome.Action.IsDirectional() &&
		string(positionSideOf(outcome.Action)) != trade.Side

	switch {
	case outcome.Action == ai.ActionClose:
		logger.Info("closing position on consensus signal")
		return s.closeManaged(ctx, trade, "consensus_close")
	case opposite && outcome.Confidence >= s.conf.MinConfidence:
		logger.Info("closing position on opposite signal",
			zap.String("signal", string(outcome.Action)),
			zap.Float64("confidence", outcome.Confidence))
		return s.closeManaged(ctx, trade, "signal_reversal")
	case opposite:
		s.alert.Send(ctx, AlertInfo, CodeOneWayBlock,
			fmt.Sprintf("%s 已有 %s 持仓，反向信号置信度不足，保持现状", trade.Symbol, trade.Side),
			map[string]any{"symbol": trade.Symbol, "side": trade.Side, "signal": string(outcome.Action)},
			s.alert.DedupKey(CodeOneWayBlock, trade.Symbol))
		return nil
	default:
		logger.Debug("position unchanged",
			zap.String("action", string(outcome.Action)))
		return nil
	}
}

func (s *CycleService) closeManaged(ctx context.Context, trade *models.Trade, reason string) error {
	if err := s.trade.ClosePosition(ctx, trade, reason); err != nil {
		s.alert.Send(ctx, AlertError, CodeTradeCloseFailed,
			fmt.Sprintf("%s 平仓失败: %v", trade.Symbol, err),
			map[string]any{"symbol": trade.Symbol, "trade_id": trade.ID},
			s.alert.DedupKey(CodeTradeCloseFailed, trade.Symbol))
		return err
	}
	return nil
}

// openNew 风控通过后按共识结论开新仓
func (s *CycleService) openNew(ctx context.Context, logger *zap.Logger, snapshot *Snapshot, outcome *ConsensusOutcome, equity float64) error {
	posSide := positionSideOf(outcome.Action)
	leverage := trading.ClampLeverage(outcome.Leverage)

	stopLoss := outcome.StopLoss
	if stopLoss <= 0 {
		stopLoss = trading.AtrStopLoss(snapshot.Price, snapshot.ATR, posSide)
	}
	takeProfit := outcome.TakeProfit
	if takeProfit <= 0 {
		takeProfit = trading.AtrTakeProfit(snapshot.Price, snapshot.ATR, posSide)
	}

	info, err := s.market.GetInstrumentInfo(ctx, snapshot.Symbol)
	if err != nil {
		return fmt.Errorf("instrument info for %s: %w", snapshot.Symbol, err)
	}

	qty := trading.ComputeQty(trading.SizeInput{
		Equity:   equity,
		RiskPct:  s.conf.RiskPercentPerTrade,
		Price:    snapshot.Price,
		ATR:      snapshot.ATR,
		Leverage: leverage,
		Side:     posSide,
		QtyStep:  info.QtyStep,
		MinQty:   info.MinOrderQty,
	})
	qty = trading.ApplyQtyDelta(qty, 1+outcome.QtyDeltaFactor)
	if info.QtyStep > 0 {
		qty = trading.RoundToStep(qty, info.QtyStep)
	}
	if qty <= 0 {
		logger.Info("sized quantity is zero, cycle skipped")
		return nil
	}

	allOpen, err := s.trade.TradeRepo.FindAllOpen(ctx)
	if err != nil {
		return fmt.Errorf("load open symbols: %w", err)
	}
	openSymbols := make([]string, 0, len(allOpen))
	for _, t := range allOpen {
		openSymbols = append(openSymbols, t.Symbol)
	}

	gate := s.risk.AllowOpen(ctx, OpenCheck{
		Symbol:      snapshot.Symbol,
		Price:       snapshot.Price,
		Side:        posSide,
		Leverage:    leverage,
		StopLoss:    stopLoss,
		OpenSymbols: openSymbols,
	})
	if !gate.OK {
		s.alert.Send(ctx, AlertWarning, CodeRiskGateDenied,
			fmt.Sprintf("%s 风控拒绝开仓: %v", snapshot.Symbol, gate.Reasons),
			map[string]any{"symbol": snapshot.Symbol, "reasons": gate.Reasons, "rho_max": gate.RhoMax},
			s.alert.DedupKey(CodeRiskGateDenied, snapshot.Symbol))
		return nil
	}

	trade, err := s.trade.OpenPosition(ctx, &OpenRequest{
		CycleID:    outcome.CycleID,
		Symbol:     snapshot.Symbol,
		Side:       posSide.ToOrderSide(),
		Qty:        qty,
		Price:      snapshot.Price,
		Leverage:   leverage,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	})
	if err != nil {
		s.alert.Send(ctx, AlertError, CodeTradeOpenFailed,
			fmt.Sprintf("%s 开仓失败: %v", snapshot.Symbol, err),
			map[string]any{"symbol": snapshot.Symbol, "cycle_id": outcome.CycleID},
			s.alert.DedupKey(CodeTradeOpenFailed, snapshot.Symbol))
		return err
	}

	logger.Info("cycle opened position",
		zap.String("trade_id", trade.ID),
		zap.Float64("qty", trade.Quantity),
		zap.Int("leverage", trade.Leverage))
	return nil
}
