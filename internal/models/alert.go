package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Alert 告警流水，供运维接口回查
type Alert struct {
	ID        string            `gorm:"primaryKey;type:varchar(26)" json:"id"`
	Level     string            `gorm:"type:varchar(10);not null;index" json:"level"` // debug/info/warning/error/critical
	Code      string            `gorm:"type:varchar(40);not null;index" json:"code"`  // 结构化的告警代码
	Message   string            `json:"message"`
	Context   datatypes.JSONMap `gorm:"type:json" json:"context"`
	DedupKey  string            `gorm:"type:varchar(128);index" json:"dedup_key"`
	CreatedAt time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt    `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName 指定表名
func (Alert) TableName() string {
	return "alerts"
}
