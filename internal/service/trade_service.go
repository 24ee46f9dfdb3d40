package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dushixiang/triad/internal/config"
	"github.com/dushixiang/triad/internal/models"
	"github.com/dushixiang/triad/internal/repo"
	"github.com/dushixiang/triad/internal/trading"
	"github.com/dushixiang/triad/pkg/exchange"
	"github.com/go-orz/orz"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 执行路径标签
const (
	AttemptPostOnly  = "post_only"
	AttemptMarketIOC = "market_ioc"
	AttemptTwap      = "twap"
)

const (
	defaultPostOnlyWait = 5 * time.Second
	twapPriceNudge      = 0.001 // 每个切片最多让价0.1%
)

// TradeService 订单执行与持仓台账
// 开仓走执行阶梯：先挂只做Maker的限价单，未成交则撤单改市价IOC；
// 数量明显超过盘口可见量时切换TWAP分片执行
type TradeService struct {
	logger *zap.Logger

	*orz.Service
	*repo.TradeRepo

	client exchange.Exchange
	conf   config.ExecutionConf
	env    string

	postOnlyWait time.Duration
	chunkPause   time.Duration
}

// NewTradeService 创建交易执行服务
func NewTradeService(db *gorm.DB, client exchange.Exchange, conf *config.Config, logger *zap.Logger) *TradeService {
	chunkPause := time.Duration(conf.Execution.TwapDurationSeconds) * time.Second
	if conf.Execution.TwapChunks > 1 {
		chunkPause = chunkPause / time.Duration(conf.Execution.TwapChunks-1)
	}
	return &TradeService{
		logger:       logger,
		Service:      orz.NewService(db),
		TradeRepo:    repo.NewTradeRepo(db),
		client:       client,
		conf:         conf.Execution,
		env:          conf.Trading.Env,
		postOnlyWait: defaultPostOnlyWait,
		chunkPause:   chunkPause,
	}
}

// OpenRequest 开仓请求
type OpenRequest struct {
	CycleID    string
	Symbol     string
	Side       exchange.OrderSide
	Qty        float64
	Price      float64 // 参考价，用于限价挂单和TWAP让价
	Leverage   int
	StopLoss   float64
	TakeProfit float64
}

// fill 执行阶梯的成交汇总
type fill struct {
	attempt  string
	orderID  string
	linkID   string
	qty      float64
	avgPrice float64
	fee      float64
}

// OpenPosition 按执行阶梯开仓，成交后挂TP/SL并落台账
func (s *TradeService) OpenPosition(ctx context.Context, req *OpenRequest) (*models.Trade, error) {
	if req.Qty <= 0 {
		return nil, fmt.Errorf("open %s: qty must be positive", req.Symbol)
	}

	if err := s.client.SetLeverage(ctx, req.Symbol, req.Leverage); err != nil {
		return nil, fmt.Errorf("set leverage for %s: %w", req.Symbol, err)
	}

	var (
		result *fill
		err    error
	)
	if s.shouldTwap(ctx, req) {
		result, err = s.executeTwap(ctx, req)
	} else {
		result, err = s.executeLadder(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if result.qty <= 0 {
		return nil, fmt.Errorf("open %s: nothing filled", req.Symbol)
	}

	if req.TakeProfit > 0 || req.StopLoss > 0 {
		if err := s.client.SetTradingStop(ctx, req.Symbol, req.TakeProfit, req.StopLoss); err != nil {
			s.logger.Error("failed to attach trading stop",
				zap.String("symbol", req.Symbol),
				zap.Error(err))
		}
	}

	trade := &models.Trade{
		ID:          ulid.Make().String(),
		Symbol:      req.Symbol,
		Side:        string(exchange.PositionSideFromOrder(req.Side)),
		Status:      models.TradeStatusOpen,
		Quantity:    result.qty,
		EntryPrice:  result.avgPrice,
		Leverage:    req.Leverage,
		StopLoss:    req.StopLoss,
		TakeProfit:  req.TakeProfit,
		Fees:        result.fee,
		OrderID:     result.orderID,
		OrderLinkID: result.linkID,
		OpenedAt:    time.Now(),
		Meta: datatypes.JSONMap{
			"cycle_id": req.CycleID,
			"attempt":  result.attempt,
			"env":      s.env,
		},
	}
	if err := s.TradeRepo.Create(ctx, trade); err != nil {
		return nil, fmt.Errorf("persist trade for %s: %w", req.Symbol, err)
	}

	s.logger.Info("position opened",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("side", string(trade.Side)),
		zap.Float64("qty", trade.Quantity),
		zap.Float64("entry_price", trade.EntryPrice),
		zap.String("attempt", result.attempt))
	return trade, nil
}

// shouldTwap 数量超过盘口可见量的倍数阈值时启用TWAP
func (s *TradeService) shouldTwap(ctx context.Context, req *OpenRequest) bool {
	ticker, err := s.client.GetTicker(ctx, req.Symbol)
	if err != nil {
		return false
	}
	visible := ticker.Ask1Size
	if req.Side == exchange.OrderSideSell {
		visible = ticker.Bid1Size
	}
	return visible > 0 && req.Qty > s.conf.TwapLiquidityRatio*visible
}

// executeLadder 只做Maker限价单优先，超时未成交撤单后市价IOC补单
func (s *TradeService) executeLadder(ctx context.Context, req *OpenRequest) (*fill, error) {
	result, err := s.tryPostOnly(ctx, req)
	if err != nil {
		s.logger.Warn("post-only attempt failed, falling back to market",
			zap.String("symbol", req.Symbol),
			zap.Error(err))
	}
	if result != nil {
		return result, nil
	}

	order, err := s.client.CreateOrder(ctx, &exchange.OrderRequest{
		Symbol:      req.Symbol,
		Side:        req.Side,
		OrderType:   exchange.OrderTypeMarket,
		Qty:         req.Qty,
		TimeInForce: exchange.TimeInForceIOC,
		TakeProfit:  req.TakeProfit,
		StopLoss:    req.StopLoss,
	})
	if err != nil {
		return nil, fmt.Errorf("market order for %s: %w", req.Symbol, err)
	}
	return fillFromOrder(AttemptMarketIOC, order), nil
}

// tryPostOnly 在盘口被动侧挂限价单，等待窗口内未成交则撤单返回nil
func (s *TradeService) tryPostOnly(ctx context.Context, req *OpenRequest) (*fill, error) {
	ticker, err := s.client.GetTicker(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	price := ticker.Bid1Price
	if req.Side == exchange.OrderSideSell {
		price = ticker.Ask1Price
	}
	if price <= 0 {
		price = req.Price
	}
	if price <= 0 {
		return nil, fmt.Errorf("no reference price for %s", req.Symbol)
	}

	order, err := s.client.CreateOrder(ctx, &exchange.OrderRequest{
		Symbol:      req.Symbol,
		Side:        req.Side,
		OrderType:   exchange.OrderTypeLimit,
		Qty:         req.Qty,
		Price:       price,
		TimeInForce: exchange.TimeInForcePostOnly,
	})
	if err != nil {
		return nil, err
	}

	if err := sleepCtx(ctx, s.postOnlyWait); err != nil {
		return nil, err
	}

	current, err := s.client.GetOrderByLinkID(ctx, req.Symbol, order.OrderLinkID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Status == exchange.OrderStatusFilled {
		return fillFromOrder(AttemptPostOnly, current), nil
	}

	if err := s.client.CancelOrder(ctx, req.Symbol, order.OrderID); err != nil {
		s.logger.Warn("failed to cancel stale post-only order",
			zap.String("symbol", req.Symbol),
			zap.String("order_id", order.OrderID),
			zap.Error(err))
	}
	return nil, nil
}

// executeTwap 把数量均分成若干切片，按时间推进逐步让价执行
func (s *TradeService) executeTwap(ctx context.Context, req *OpenRequest) (*fill, error) {
	chunks := s.conf.TwapChunks
	if chunks < 1 {
		chunks = 1
	}
	step := 0.0
	if info, err := s.client.GetInstrumentInfo(ctx, req.Symbol); err == nil && info.QtyStep > 0 {
		step = info.QtyStep
	}
	chunkQty := req.Qty / float64(chunks)
	if step > 0 {
		chunkQty = trading.RoundToStep(chunkQty, step)
	}
	if chunkQty <= 0 {
		chunkQty = req.Qty / float64(chunks)
	}

	total := &fill{attempt: AttemptTwap}
	notional := 0.0
	// 切片向步进取整会留下零头，余量记账并全部压到最后一片
	remaining := req.Qty
	for i := 0; i < chunks && remaining > 0; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, s.chunkPause); err != nil {
				break
			}
		}

		qty := chunkQty
		if i == chunks-1 || qty > remaining {
			qty = remaining
			if step > 0 {
				qty = trading.RoundToStep(qty, step)
			}
		}
		if qty <= 0 {
			break
		}

		// 越靠后的切片让价越多，保证尾部切片能够成交
		weight := 0.0
		if chunks > 1 {
			weight = float64(i) / float64(chunks-1)
		}
		price := req.Price * (1 + twapPriceNudge*weight)
		if req.Side == exchange.OrderSideSell {
			price = req.Price * (1 - twapPriceNudge*weight)
		}

		order, err := s.client.CreateOrder(ctx, &exchange.OrderRequest{
			Symbol:      req.Symbol,
			Side:        req.Side,
			OrderType:   exchange.OrderTypeLimit,
			Qty:         qty,
			Price:       price,
			TimeInForce: exchange.TimeInForceIOC,
		})
		if err != nil {
			s.logger.Warn("twap chunk failed",
				zap.String("symbol", req.Symbol),
				zap.Int("chunk", i+1),
				zap.Error(err))
			continue
		}
		remaining -= qty

		filled := order.CumExecQty
		if filled <= 0 && order.Status == exchange.OrderStatusFilled {
			filled = order.Qty
		}
		if filled <= 0 {
			continue
		}
		fillPrice := order.AvgPrice
		if fillPrice <= 0 {
			fillPrice = price
		}
		total.qty += filled
		notional += filled * fillPrice
		total.fee += order.CumExecFee
		total.orderID = order.OrderID
		total.linkID = order.OrderLinkID
	}

	if remaining > 0 {
		s.logger.Warn("twap left unsubmitted quantity",
			zap.String("symbol", req.Symbol),
			zap.Float64("requested", req.Qty),
			zap.Float64("unsubmitted", remaining))
	}
	if total.qty > 0 {
		total.avgPrice = notional / total.qty
	}
	return total, nil
}

// ClosePosition 市价只减仓平掉一笔在管持仓并结算台账
func (s *TradeService) ClosePosition(ctx context.Context, trade *models.Trade, reason string) error {
	order, err := s.client.CreateOrder(ctx, &exchange.OrderRequest{
		Symbol:      trade.Symbol,
		Side:        exchange.PositionSide(trade.Side).ToOrderSide().Opposite(),
		OrderType:   exchange.OrderTypeMarket,
		Qty:         trade.Quantity,
		TimeInForce: exchange.TimeInForceIOC,
		ReduceOnly:  true,
	})
	if err != nil {
		return fmt.Errorf("close order for %s: %w", trade.Symbol, err)
	}

	exitPrice := order.AvgPrice
	if exitPrice <= 0 {
		exitPrice = order.Price
	}

	now := time.Now()
	trade.Status = models.TradeStatusClosed
	trade.ExitPrice = exitPrice
	trade.RealizedPnl = trading.RealizedPnl(trade.EntryPrice, exitPrice, trade.Quantity, exchange.PositionSide(trade.Side))
	trade.Fees += order.CumExecFee
	trade.ClosedAt = &now
	if trade.Meta == nil {
		trade.Meta = datatypes.JSONMap{}
	}
	trade.Meta["close_reason"] = reason

	if err := s.TradeRepo.UpdateById(ctx, trade); err != nil {
		return fmt.Errorf("persist close for trade %s: %w", trade.ID, err)
	}

	s.logger.Info("position closed",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("realized_pnl", trade.RealizedPnl),
		zap.String("reason", reason))
	return nil
}

func fillFromOrder(attempt string, order *exchange.OrderResult) *fill {
	qty := order.CumExecQty
	if qty <= 0 {
		qty = order.Qty
	}
	price := order.AvgPrice
	if price <= 0 {
		price = order.Price
	}
	return &fill{
		attempt:  attempt,
		orderID:  order.OrderID,
		linkID:   order.OrderLinkID,
		qty:      qty,
		avgPrice: price,
		fee:      order.CumExecFee,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
