package repo

import (
	"context"
	"errors"

	"github.com/dushixiang/triad/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewConsensusDecisionRepo(db *gorm.DB) *ConsensusDecisionRepo {
	return &ConsensusDecisionRepo{
		Repository: orz.NewRepository[models.ConsensusDecision, string](db),
	}
}

type ConsensusDecisionRepo struct {
	orz.Repository[models.ConsensusDecision, string]
}

// FindByCycleID 按周期ID查询决策，不存在时返回 nil
func (r ConsensusDecisionRepo) FindByCycleID(ctx context.Context, cycleID string) (*models.ConsensusDecision, error) {
	var decision models.ConsensusDecision
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("cycle_id = ?", cycleID).
		First(&decision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &decision, nil
}

// FindRecent 获取最近的共识决策
func (r ConsensusDecisionRepo) FindRecent(ctx context.Context, limit int) ([]models.ConsensusDecision, error) {
	var decisions []models.ConsensusDecision
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Order("executed_at DESC").
		Limit(limit).
		Find(&decisions).Error
	return decisions, err
}
