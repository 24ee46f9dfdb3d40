package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PaperWallet 纸钱包（模拟交易）
// 市场数据委托给真实交易所客户端，订单在本地立即成交
type PaperWallet struct {
	market Exchange // 用于获取真实市场数据，可以为 nil（纯离线模式）
	logger *zap.Logger

	// 模拟账户数据
	balance        float64
	initialBalance float64
	positions      map[string]*Position     // symbol -> position
	orders         map[string]*OrderResult  // orderLinkId -> 已提交订单
	executions     []*Execution             // 成交流水，倒序返回
	leverages      map[string]int           // 每个交易对的杠杆设置
	tradingStops   map[string][2]float64    // symbol -> [takeProfit, stopLoss]
	prices         map[string]float64       // 离线模式下的固定价格
	orderSeq       int64
	mu             sync.RWMutex
}

var _ Exchange = (*PaperWallet)(nil)

// NewPaperWallet 创建纸钱包
func NewPaperWallet(market Exchange, initialBalance float64, logger *zap.Logger) *PaperWallet {
	return &PaperWallet{
		market:         market,
		logger:         logger,
		balance:        initialBalance,
		initialBalance: initialBalance,
		positions:      make(map[string]*Position),
		orders:         make(map[string]*OrderResult),
		leverages:      make(map[string]int),
		tradingStops:   make(map[string][2]float64),
		prices:         make(map[string]float64),
		orderSeq:       1000000, // 模拟订单ID起点
	}
}

// SetPrice 设置离线模式下的固定价格（用于测试）
func (p *PaperWallet) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

func (p *PaperWallet) currentPrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.RLock()
	fixed, ok := p.prices[symbol]
	p.mu.RUnlock()
	if ok {
		return fixed, nil
	}
	if p.market == nil {
		return 0, fmt.Errorf("paper wallet: no price for %s", symbol)
	}
	ticker, err := p.market.GetTicker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return ticker.LastPrice, nil
}

// GetServerTime 获取服务器时间
func (p *PaperWallet) GetServerTime(ctx context.Context) (int64, error) {
	if p.market != nil {
		return p.market.GetServerTime(ctx)
	}
	return time.Now().UnixMilli(), nil
}

// GetTicker 获取行情（离线模式下合成）
func (p *PaperWallet) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	p.mu.RLock()
	fixed, ok := p.prices[symbol]
	p.mu.RUnlock()
	if ok {
		return &Ticker{
			Symbol:    symbol,
			LastPrice: fixed,
			Bid1Price: fixed,
			Ask1Price: fixed,
			Bid1Size:  1000,
			Ask1Size:  1000,
		}, nil
	}
	if p.market == nil {
		return nil, fmt.Errorf("paper wallet: no ticker for %s", symbol)
	}
	return p.market.GetTicker(ctx, symbol)
}

// GetKlines 获取K线数据（使用真实数据）
func (p *PaperWallet) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*Kline, error) {
	if p.market == nil {
		return nil, fmt.Errorf("paper wallet: klines unavailable offline")
	}
	return p.market.GetKlines(ctx, symbol, interval, limit)
}

// GetInstrumentInfo 获取交易对元数据
func (p *PaperWallet) GetInstrumentInfo(ctx context.Context, symbol string) (*InstrumentInfo, error) {
	if p.market != nil {
		return p.market.GetInstrumentInfo(ctx, symbol)
	}
	return &InstrumentInfo{
		Symbol:      symbol,
		TickSize:    0.1,
		QtyStep:     0.001,
		MinOrderQty: 0.001,
		MaxLeverage: 100,
	}, nil
}

// GetWalletBalance 获取模拟账户资产
func (p *PaperWallet) GetWalletBalance(ctx context.Context) (*WalletBalance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	unrealised := 0.0
	usedMargin := 0.0
	for _, pos := range p.positions {
		unrealised += pos.UnrealisedPnl
		if pos.Leverage > 0 {
			usedMargin += pos.Size * pos.AvgPrice / pos.Leverage
		}
	}
	total := p.balance + unrealised
	return &WalletBalance{
		TotalEquity:      total,
		AvailableBalance: total - usedMargin,
	}, nil
}

// GetPositions 获取模拟持仓
func (p *PaperWallet) GetPositions(ctx context.Context) ([]*Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*Position, 0, len(p.positions))
	for _, pos := range p.positions {
		dup := *pos
		result = append(result, &dup)
	}
	return result, nil
}

// GetExecutions 获取成交流水，按时间倒序
func (p *PaperWallet) GetExecutions(ctx context.Context, symbol string, limit int) ([]*Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*Execution, 0, len(p.executions))
	for i := len(p.executions) - 1; i >= 0; i-- {
		e := p.executions[i]
		if symbol != "" && e.Symbol != symbol {
			continue
		}
		dup := *e
		result = append(result, &dup)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// SetLeverage 设置杠杆（仅记录）
func (p *PaperWallet) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverages[symbol] = leverage
	return nil
}

// SetTradingStop 设置止盈止损（仅记录，实际触发由循环检查）
func (p *PaperWallet) SetTradingStop(ctx context.Context, symbol string, takeProfit, stopLoss float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.positions[symbol]; !exists {
		return fmt.Errorf("paper wallet: no position for %s", symbol)
	}
	p.tradingStops[symbol] = [2]float64{takeProfit, stopLoss}
	p.logger.Info("paper wallet: trading stop recorded",
		zap.String("symbol", symbol),
		zap.Float64("take_profit", takeProfit),
		zap.Float64("stop_loss", stopLoss))
	return nil
}

// CreateOrder 模拟下单，立即以当前价格成交
// 相同幂等键的重复提交返回首次结果，不会重复成仓
func (p *PaperWallet) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error) {
	if req.OrderLinkID == "" {
		req.OrderLinkID = BuildOrderLinkID(req)
	}

	p.mu.Lock()
	if existing, exists := p.orders[req.OrderLinkID]; exists {
		dup := *existing
		p.mu.Unlock()
		return &dup, nil
	}
	p.mu.Unlock()

	price := req.Price
	if req.OrderType == OrderTypeMarket || price <= 0 {
		var err error
		price, err = p.currentPrice(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("paper wallet: resolve fill price: %w", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.orderSeq++
	orderID := fmt.Sprintf("paper-%d", p.orderSeq)

	if req.ReduceOnly {
		if err := p.reduceLocked(req.Symbol, req.Qty, price); err != nil {
			return nil, err
		}
	} else {
		if err := p.openLocked(req, price); err != nil {
			return nil, err
		}
	}

	p.executions = append(p.executions, &Execution{
		Symbol:      req.Symbol,
		OrderID:     orderID,
		OrderLinkID: req.OrderLinkID,
		Side:        req.Side,
		ExecPrice:   price,
		ExecQty:     req.Qty,
		ExecTime:    time.Now(),
	})

	result := &OrderResult{
		OrderID:     orderID,
		OrderLinkID: req.OrderLinkID,
		Status:      OrderStatusFilled,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Price:       price,
		Qty:         req.Qty,
		AvgPrice:    price,
		CumExecQty:  req.Qty,
	}
	p.orders[req.OrderLinkID] = result

	if req.TakeProfit > 0 || req.StopLoss > 0 {
		p.tradingStops[req.Symbol] = [2]float64{req.TakeProfit, req.StopLoss}
	}

	dup := *result
	return &dup, nil
}

func (p *PaperWallet) openLocked(req *OrderRequest, price float64) error {
	leverage := p.leverages[req.Symbol]
	if leverage <= 0 {
		leverage = 1
	}
	required := price * req.Qty / float64(leverage)
	if required > p.balance {
		return fmt.Errorf("paper wallet: insufficient balance, required %.2f available %.2f", required, p.balance)
	}

	if existing, exists := p.positions[req.Symbol]; exists {
		if existing.Side != req.Side {
			return fmt.Errorf("paper wallet: cannot open %s while holding %s on %s",
				req.Side, existing.Side, req.Symbol)
		}
		totalCost := existing.AvgPrice*existing.Size + price*req.Qty
		existing.Size += req.Qty
		existing.AvgPrice = totalCost / existing.Size
		existing.UpdatedTime = time.Now()
		return nil
	}

	p.positions[req.Symbol] = &Position{
		Symbol:      req.Symbol,
		Side:        req.Side,
		Size:        req.Qty,
		AvgPrice:    price,
		Leverage:    float64(leverage),
		UpdatedTime: time.Now(),
	}
	return nil
}

func (p *PaperWallet) reduceLocked(symbol string, qty, price float64) error {
	pos, exists := p.positions[symbol]
	if !exists {
		return fmt.Errorf("paper wallet: no position to close for %s", symbol)
	}

	pnl := (price - pos.AvgPrice) * qty
	if pos.Side == OrderSideSell {
		pnl = -pnl
	}
	p.balance += pnl

	if qty >= pos.Size {
		delete(p.positions, symbol)
		delete(p.tradingStops, symbol)
		p.logger.Info("paper wallet: position fully closed",
			zap.String("symbol", symbol),
			zap.Float64("pnl", pnl))
	} else {
		pos.Size -= qty
		pos.UpdatedTime = time.Now()
	}
	return nil
}

// CancelOrder 撤单（纸钱包所有订单立即成交，无可撤订单）
func (p *PaperWallet) CancelOrder(ctx context.Context, symbol string, orderID string) error {
	return fmt.Errorf("paper wallet: no pending order %s", orderID)
}

// GetOrderByLinkID 根据幂等键查询订单
func (p *PaperWallet) GetOrderByLinkID(ctx context.Context, symbol string, orderLinkID string) (*OrderResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if result, exists := p.orders[orderLinkID]; exists {
		dup := *result
		return &dup, nil
	}
	return nil, nil
}

// Balance 当前余额（用于测试和调试）
func (p *PaperWallet) Balance() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance
}

// Reset 重置纸钱包到初始状态
func (p *PaperWallet) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = p.initialBalance
	p.positions = make(map[string]*Position)
	p.orders = make(map[string]*OrderResult)
	p.executions = nil
	p.leverages = make(map[string]int)
	p.tradingStops = make(map[string][2]float64)
}
