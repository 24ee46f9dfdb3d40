package models

import (
	"time"

	"gorm.io/gorm"
)

// AiLog 模型意见日志，每个模型每轮一条，写入后不可变
type AiLog struct {
	ID         string         `gorm:"primaryKey;type:varchar(26)" json:"id"`
	CycleID    string         `gorm:"type:varchar(26);not null;index" json:"cycle_id"` // 决策周期ID
	Symbol     string         `gorm:"type:varchar(20);not null;index" json:"symbol"`   // 交易对
	Provider   string         `gorm:"type:varchar(20);not null" json:"provider"`       // 模型提供方
	Model      string         `json:"model"`                                           // 使用的AI模型
	Round      int            `gorm:"not null" json:"round"`                           // 轮次 1/2
	Action     string         `gorm:"type:varchar(10)" json:"action"`                  // LONG/SHORT/HOLD/NONE
	Confidence float64        `json:"confidence"`                                      // 置信度 0-100
	Vetoed     bool           `json:"vetoed"`                                          // 本轮是否被否决
	VetoReason string         `gorm:"type:varchar(20)" json:"veto_reason"`             // SCHEMA_FAIL/NONE_VETO/OUT_OF_RANGE/DEV_VETO
	RawOutput  string         `json:"raw_output"`                                      // 模型原始输出
	InputHash  string         `gorm:"type:varchar(16)" json:"input_hash"`              // 输入上下文摘要
	Duration   int64          `json:"duration"`                                        // 请求耗时(毫秒)
	Error      string         `json:"error"`                                           // 错误信息(如果有)
	ExecutedAt time.Time      `gorm:"not null;index" json:"executed_at"`               // 执行时间
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName 指定表名
func (AiLog) TableName() string {
	return "ai_logs"
}
