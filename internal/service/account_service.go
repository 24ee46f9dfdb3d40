package service

import (
	"context"
	"fmt"

	"github.com/dushixiang/triad/pkg/exchange"
	"go.uber.org/zap"
)

// AccountService 账户服务
type AccountService struct {
	client exchange.Exchange
	logger *zap.Logger
}

// NewAccountService 创建账户服务
func NewAccountService(client exchange.Exchange, logger *zap.Logger) *AccountService {
	return &AccountService{
		client: client,
		logger: logger,
	}
}

// GetEquity 获取账户权益（USDT）
func (s *AccountService) GetEquity(ctx context.Context) (float64, error) {
	balance, err := s.client.GetWalletBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("get equity: %w", err)
	}
	if balance.TotalEquity <= 0 {
		s.logger.Warn("account equity is non-positive",
			zap.Float64("total_equity", balance.TotalEquity))
	}
	return balance.TotalEquity, nil
}

// GetBalance 获取账户资产详情
func (s *AccountService) GetBalance(ctx context.Context) (*exchange.WalletBalance, error) {
	return s.client.GetWalletBalance(ctx)
}
