package repo

import (
	"context"

	"github.com/dushixiang/triad/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewAiLogRepo(db *gorm.DB) *AiLogRepo {
	return &AiLogRepo{
		Repository: orz.NewRepository[models.AiLog, string](db),
	}
}

type AiLogRepo struct {
	orz.Repository[models.AiLog, string]
}

// FindByCycleID 查询某个决策周期的全部模型意见
func (r AiLogRepo) FindByCycleID(ctx context.Context, cycleID string) ([]models.AiLog, error) {
	var logs []models.AiLog
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("cycle_id = ?", cycleID).
		Order("round ASC, provider ASC").
		Find(&logs).Error
	return logs, err
}

// FindRecent 获取最近的模型意见日志
func (r AiLogRepo) FindRecent(ctx context.Context, limit int) ([]models.AiLog, error) {
	var logs []models.AiLog
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Order("executed_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
