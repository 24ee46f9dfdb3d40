package service

import (
	"context"
	"fmt"

	"github.com/dushixiang/triad/internal/config"
	"github.com/dushixiang/triad/pkg/exchange"
	"github.com/dushixiang/triad/pkg/ta"
	"go.uber.org/zap"
)

// CorrelationService 组合相关性检查
// 基于对数收益率的皮尔逊相关系数，度量候选交易对与现有持仓的联动程度
type CorrelationService struct {
	logger *zap.Logger
	conf   config.RiskConf
	client exchange.Exchange
}

// NewCorrelationService 创建相关性服务
func NewCorrelationService(conf *config.Config, client exchange.Exchange, logger *zap.Logger) *CorrelationService {
	return &CorrelationService{
		logger: logger,
		conf:   conf.Risk,
		client: client,
	}
}

// MaxCorrelation 候选交易对与各持仓交易对的最大相关系数
// 数据不可得的交易对跳过，不阻断检查
func (s *CorrelationService) MaxCorrelation(ctx context.Context, candidate string, openSymbols []string) (float64, error) {
	if len(openSymbols) == 0 {
		return 0, nil
	}

	candidateReturns, err := s.logReturns(ctx, candidate)
	if err != nil {
		return 0, fmt.Errorf("correlation %s: %w", candidate, err)
	}

	rhoMax := 0.0
	for _, symbol := range openSymbols {
		if symbol == candidate {
			continue
		}
		returns, err := s.logReturns(ctx, symbol)
		if err != nil {
			s.logger.Warn("skip correlation pair, data unavailable",
				zap.String("candidate", candidate),
				zap.String("symbol", symbol),
				zap.Error(err))
			continue
		}
		rho := ta.Pearson(candidateReturns, returns)
		if rho < 0 {
			rho = -rho
		}
		if rho > rhoMax {
			rhoMax = rho
		}
	}
	return rhoMax, nil
}

// IsHighlyCorrelated 是否超过相关性阈值
func (s *CorrelationService) IsHighlyCorrelated(ctx context.Context, candidate string, openSymbols []string) (bool, float64, error) {
	rhoMax, err := s.MaxCorrelation(ctx, candidate, openSymbols)
	if err != nil {
		return false, 0, err
	}
	return rhoMax > s.conf.CorrThreshold, rhoMax, nil
}

func (s *CorrelationService) logReturns(ctx context.Context, symbol string) ([]float64, error) {
	klines, err := s.client.GetKlines(ctx, symbol, klineInterval, s.conf.CorrKlineLimit)
	if err != nil {
		return nil, err
	}
	return ta.LogReturns(CloseSeries(klines)), nil
}
