package exchange

import "context"

// Exchange 交易所接口，定义交易核心依赖的全部交易所能力
// 真实实现为 Bybit v5，纸钱包实现用于干跑模式
type Exchange interface {
	// 市场数据
	GetServerTime(ctx context.Context) (int64, error)
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*Kline, error)
	GetInstrumentInfo(ctx context.Context, symbol string) (*InstrumentInfo, error)

	// 账户信息
	GetWalletBalance(ctx context.Context) (*WalletBalance, error)
	GetPositions(ctx context.Context) ([]*Position, error)
	GetExecutions(ctx context.Context, symbol string, limit int) ([]*Execution, error)

	// 交易参数设置
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetTradingStop(ctx context.Context, symbol string, takeProfit, stopLoss float64) error

	// 订单操作
	CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol string, orderID string) error
	GetOrderByLinkID(ctx context.Context, symbol string, orderLinkID string) (*OrderResult, error)
}
