package repo

import (
	"context"

	"github.com/dushixiang/triad/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewAlertRepo(db *gorm.DB) *AlertRepo {
	return &AlertRepo{
		Repository: orz.NewRepository[models.Alert, string](db),
	}
}

type AlertRepo struct {
	orz.Repository[models.Alert, string]
}

// FindRecent 获取最近的告警记录
func (r AlertRepo) FindRecent(ctx context.Context, limit int) ([]models.Alert, error) {
	var alerts []models.Alert
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Order("created_at DESC").
		Limit(limit).
		Find(&alerts).Error
	return alerts, err
}
