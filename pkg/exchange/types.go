package exchange

import "time"

// 通用交易类型定义，独立于任何特定交易所
// 字段命名遵循 Bybit v5 合约接口，便于直接映射

// OrderSide 订单方向
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// PositionSide 持仓方向
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit  OrderType = "Limit"  // 限价单
	OrderTypeMarket OrderType = "Market" // 市价单
)

// TimeInForce 订单有效方式
type TimeInForce string

const (
	TimeInForcePostOnly TimeInForce = "PostOnly" // 只做Maker
	TimeInForceIOC      TimeInForce = "IOC"      // 立即成交剩余撤销
	TimeInForceGTC      TimeInForce = "GTC"      // 成交为止
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "New"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCancelled       OrderStatus = "Cancelled"
	OrderStatusRejected        OrderStatus = "Rejected"
)

func (s OrderSide) String() string {
	return string(s)
}

// Opposite 返回反向的订单方向
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

func (s PositionSide) String() string {
	return string(s)
}

// ToOrderSide 开仓时持仓方向对应的订单方向
func (s PositionSide) ToOrderSide() OrderSide {
	if s == PositionSideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// PositionSideFromOrder 订单方向映射到持仓方向（单向持仓模式）
func PositionSideFromOrder(side OrderSide) PositionSide {
	if side == OrderSideSell {
		return PositionSideShort
	}
	return PositionSideLong
}

func (o OrderType) String() string {
	return string(o)
}

func (o OrderStatus) String() string {
	return string(o)
}

// IsFinal 订单是否处于终态
func (o OrderStatus) IsFinal() bool {
	switch o {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Kline K线数据，按时间升序排列
type Kline struct {
	StartTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Turnover  float64
}

// Ticker 行情快照
type Ticker struct {
	Symbol          string
	LastPrice       float64
	Bid1Price       float64
	Bid1Size        float64
	Ask1Price       float64
	Ask1Size        float64
	FundingRate     float64
	NextFundingTime time.Time
}

// InstrumentInfo 交易对元数据
type InstrumentInfo struct {
	Symbol      string
	TickSize    float64
	QtyStep     float64
	MinOrderQty float64
	MaxLeverage float64
}

// WalletBalance 账户资产
type WalletBalance struct {
	TotalEquity      float64
	AvailableBalance float64
}

// Position 交易所持仓
type Position struct {
	Symbol        string
	Side          OrderSide // Buy=多头 Sell=空头
	Size          float64
	AvgPrice      float64
	Leverage      float64
	UnrealisedPnl float64
	LiqPrice      float64
	UpdatedTime   time.Time
}

// Execution 成交记录
type Execution struct {
	Symbol      string
	OrderID     string
	OrderLinkID string
	Side        OrderSide
	ExecPrice   float64
	ExecQty     float64
	ExecFee     float64
	ClosedSize  float64
	ExecTime    time.Time
}

// OrderRequest 下单请求
type OrderRequest struct {
	Symbol      string
	Side        OrderSide
	OrderType   OrderType
	Qty         float64
	Price       float64 // 市价单为 0
	TimeInForce TimeInForce
	ReduceOnly  bool
	TakeProfit  float64
	StopLoss    float64
	OrderLinkID string // 为空时由客户端根据订单意图派生
}

// OrderResult 下单/查单结果
type OrderResult struct {
	OrderID     string
	OrderLinkID string
	Status      OrderStatus
	Symbol      string
	Side        OrderSide
	Price       float64
	Qty         float64
	AvgPrice    float64
	CumExecQty  float64
	CumExecFee  float64
}
