package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TradeStatus 交易状态
type TradeStatus string

const (
	TradeStatusOpen       TradeStatus = "OPEN"
	TradeStatusClosed     TradeStatus = "CLOSED"
	TradeStatusLiquidated TradeStatus = "LIQUIDATED"
	TradeStatusCancelled  TradeStatus = "CANCELLED"
)

// Trade 持仓台账
// 单向持仓模式下每个 (symbol, side) 至多一条 OPEN 记录
type Trade struct {
	ID            string            `gorm:"primaryKey;type:varchar(26)" json:"id"`
	Symbol        string            `gorm:"type:varchar(20);not null;index" json:"symbol"`     // 交易对
	Side          string            `gorm:"type:varchar(10);not null;index" json:"side"`       // LONG/SHORT
	Status        TradeStatus       `gorm:"type:varchar(12);not null;index" json:"status"`     // OPEN/CLOSED/LIQUIDATED/CANCELLED
	Quantity      float64           `gorm:"type:decimal(20,8);not null" json:"quantity"`       // 持仓数量
	EntryPrice    float64           `gorm:"type:decimal(20,8);not null" json:"entry_price"`    // 开仓均价
	ExitPrice     float64           `gorm:"type:decimal(20,8)" json:"exit_price"`              // 平仓均价
	Leverage      int               `gorm:"type:int" json:"leverage"`                          // 杠杆倍数
	StopLoss      float64           `gorm:"type:decimal(20,8)" json:"stop_loss"`               // 止损价
	TakeProfit    float64           `gorm:"type:decimal(20,8)" json:"take_profit"`             // 止盈价
	RealizedPnl   float64           `gorm:"type:decimal(20,8)" json:"realized_pnl"`            // 已实现盈亏
	UnrealizedPnl float64           `gorm:"type:decimal(20,8)" json:"unrealized_pnl"`          // 未实现盈亏
	Fees          float64           `gorm:"type:decimal(20,8)" json:"fees"`                    // 累计手续费
	OrderID       string            `gorm:"type:varchar(64);index" json:"order_id"`            // 交易所订单ID
	OrderLinkID   string            `gorm:"type:varchar(36);index" json:"order_link_id"`       // 幂等键
	OpenedAt      time.Time         `gorm:"not null;index" json:"opened_at"`                   // 开仓时间
	ClosedAt      *time.Time        `json:"closed_at"`                                         // 平仓时间
	Meta          datatypes.JSONMap `gorm:"type:json" json:"meta"`                             // 周期ID、对账来源、分批平仓历史等
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt    `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName 指定表名
func (Trade) TableName() string {
	return "trades"
}

// IsOpen 是否为在管持仓
func (t Trade) IsOpen() bool {
	return t.Status == TradeStatusOpen
}

// PositionKey 对账键 SYMBOL|SIDE
func (t Trade) PositionKey() string {
	return t.Symbol + "|" + t.Side
}
