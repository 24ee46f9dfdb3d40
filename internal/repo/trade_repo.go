package repo

import (
	"context"
	"errors"

	"github.com/dushixiang/triad/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewTradeRepo(db *gorm.DB) *TradeRepo {
	return &TradeRepo{
		Repository: orz.NewRepository[models.Trade, string](db),
	}
}

type TradeRepo struct {
	orz.Repository[models.Trade, string]
}

// FindOpenBySymbolAndSide 查找指定方向的在管持仓，不存在时返回 nil
func (r TradeRepo) FindOpenBySymbolAndSide(ctx context.Context, symbol, side string) (*models.Trade, error) {
	var trade models.Trade
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("symbol = ? AND side = ? AND status = ?", symbol, side, models.TradeStatusOpen).
		First(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

// FindOpenBySymbol 查找任意方向的在管持仓
func (r TradeRepo) FindOpenBySymbol(ctx context.Context, symbol string) ([]models.Trade, error) {
	var trades []models.Trade
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("symbol = ? AND status = ?", symbol, models.TradeStatusOpen).
		Find(&trades).Error
	return trades, err
}

// FindAllOpen 查找全部在管持仓
func (r TradeRepo) FindAllOpen(ctx context.Context) ([]models.Trade, error) {
	var trades []models.Trade
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("status = ?", models.TradeStatusOpen).
		Find(&trades).Error
	return trades, err
}

// FindByOrderLinkID 按幂等键查找交易
func (r TradeRepo) FindByOrderLinkID(ctx context.Context, orderLinkID string) (*models.Trade, error) {
	var trade models.Trade
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("order_link_id = ?", orderLinkID).
		First(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

// FindRecentTrades 获取最近的交易记录
func (r TradeRepo) FindRecentTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Order("opened_at DESC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}
