package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConsensusDecision 每个决策周期一条，由同周期的 AiLog 推导，写入后不再变更
type ConsensusDecision struct {
	ID              string            `gorm:"primaryKey;type:varchar(26)" json:"id"`
	CycleID         string            `gorm:"type:varchar(26);not null;uniqueIndex" json:"cycle_id"` // 决策周期ID
	Symbol          string            `gorm:"type:varchar(20);not null;index" json:"symbol"`         // 交易对
	FinalAction     string            `gorm:"type:varchar(10);not null" json:"final_action"`         // LONG/SHORT/HOLD/CLOSE/NO_TRADE
	FinalConfidence float64           `json:"final_confidence"`                                      // 最终置信度
	StopLoss        float64           `gorm:"type:decimal(20,8)" json:"stop_loss"`                   // 聚合止损价
	TakeProfit      float64           `gorm:"type:decimal(20,8)" json:"take_profit"`                 // 聚合止盈价
	QtyDeltaFactor  float64           `json:"qty_delta_factor"`                                      // 数量调节因子
	MajorityLock    bool              `json:"majority_lock"`                                         // 第二轮全员复确认且无新增否决
	VetoCount       int               `json:"veto_count"`                                            // 本周期否决次数
	Round1          datatypes.JSONMap `gorm:"type:json" json:"round1"`                               // 第一轮意见集
	Round2          datatypes.JSONMap `gorm:"type:json" json:"round2"`                               // 第二轮意见集
	ExecutedAt      time.Time         `gorm:"not null;index" json:"executed_at"`                     // 执行时间
	CreatedAt       time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt    `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName 指定表名
func (ConsensusDecision) TableName() string {
	return "consensus_decisions"
}
