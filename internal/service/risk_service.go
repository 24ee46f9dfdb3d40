package service

import (
	"context"
	"math"
	"time"

	"github.com/dushixiang/triad/internal/config"
	"github.com/dushixiang/triad/pkg/exchange"
	"go.uber.org/zap"
)

// RiskService 开仓前的组合风控闸门
// 所有检查都会执行完，失败原因合并在一次结果里返回；整体可由配置一键关闭
type RiskService struct {
	logger      *zap.Logger
	conf        config.RiskConf
	client      exchange.Exchange
	correlation *CorrelationService
}

// NewRiskService 创建风控服务
func NewRiskService(conf *config.Config, client exchange.Exchange, correlation *CorrelationService, logger *zap.Logger) *RiskService {
	return &RiskService{
		logger:      logger,
		conf:        conf.Risk,
		client:      client,
		correlation: correlation,
	}
}

// OpenCheck 开仓检查请求
type OpenCheck struct {
	Symbol      string
	Price       float64
	Side        exchange.PositionSide
	Leverage    int
	StopLoss    float64
	OpenSymbols []string // 当前持仓的交易对，用于相关性检查
}

// RiskCheckResult 风控检查结果
type RiskCheckResult struct {
	OK          bool     `json:"ok"`
	Reasons     []string `json:"reasons"`
	RhoMax      float64  `json:"rho_max"`
	OpenSymbols []string `json:"open_symbols"`
}

// AllowOpen 开仓前风控检查，收集全部失败原因而不是短路返回
func (s *RiskService) AllowOpen(ctx context.Context, check OpenCheck) *RiskCheckResult {
	result := &RiskCheckResult{
		OK:          true,
		OpenSymbols: check.OpenSymbols,
	}
	if s.conf.Disabled {
		return result
	}

	if reason := s.checkLiquidationBuffer(check); reason != "" {
		result.Reasons = append(result.Reasons, reason)
	}
	if reason := s.checkFundingWindow(ctx, check.Symbol); reason != "" {
		result.Reasons = append(result.Reasons, reason)
	}
	if reason, rhoMax := s.checkCorrelation(ctx, check); reason != "" {
		result.Reasons = append(result.Reasons, reason)
		result.RhoMax = rhoMax
	} else {
		result.RhoMax = rhoMax
	}

	result.OK = len(result.Reasons) == 0
	if !result.OK {
		s.logger.Info("risk gate denied open",
			zap.String("symbol", check.Symbol),
			zap.String("side", string(check.Side)),
			zap.Strings("reasons", result.Reasons),
			zap.Float64("rho_max", result.RhoMax))
	}
	return result
}

// checkLiquidationBuffer 入场价到止损价的距离必须超过 k × (1/杠杆)
func (s *RiskService) checkLiquidationBuffer(check OpenCheck) string {
	if check.Price <= 0 {
		return CodeInvalidEntryPrice
	}
	if check.Leverage <= 0 {
		return CodeInvalidLeverage
	}
	if check.StopLoss <= 0 {
		return CodeLiqBuffer
	}

	distPct := math.Abs(check.Price-check.StopLoss) / check.Price
	required := s.conf.LiqBufferK / float64(check.Leverage)
	if distPct < required {
		return CodeLiqBuffer
	}
	return ""
}

// checkFundingWindow 结算窗口内且资金费率超限时拒绝开仓，数据缺失放行
func (s *RiskService) checkFundingWindow(ctx context.Context, symbol string) string {
	ticker, err := s.client.GetTicker(ctx, symbol)
	if err != nil {
		s.logger.Warn("funding check skipped, ticker unavailable",
			zap.String("symbol", symbol),
			zap.Error(err))
		return ""
	}
	if ticker.NextFundingTime.IsZero() || ticker.NextFundingTime.UnixMilli() <= 0 {
		return ""
	}

	minutesLeft := time.Until(ticker.NextFundingTime).Minutes()
	if minutesLeft < 0 || minutesLeft > float64(s.conf.FundingWindowMinutes) {
		return ""
	}
	if math.Abs(ticker.FundingRate)*10000 > s.conf.FundingLimitBps {
		return CodeFundingWindow
	}
	return ""
}

// checkCorrelation 候选交易对与现有持仓的相关性不得超过阈值
func (s *RiskService) checkCorrelation(ctx context.Context, check OpenCheck) (string, float64) {
	if len(check.OpenSymbols) == 0 {
		return "", 0
	}
	high, rhoMax, err := s.correlation.IsHighlyCorrelated(ctx, check.Symbol, check.OpenSymbols)
	if err != nil {
		s.logger.Warn("correlation check skipped",
			zap.String("symbol", check.Symbol),
			zap.Error(err))
		return "", 0
	}
	if high {
		return CodeCorrelationTooHigh, rhoMax
	}
	return "", rhoMax
}
