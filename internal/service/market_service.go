package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dushixiang/triad/pkg/exchange"
	"github.com/dushixiang/triad/pkg/ta"
	"go.uber.org/zap"
)

const (
	snapshotTTL   = 10 * time.Second
	instrumentTTL = 5 * time.Minute

	klineInterval = "5"
	klineLimit    = 120
	atrPeriod     = 14

	// ATR完全不可得时按价格比例兜底
	fallbackAtrRatio = 0.003
)

// Snapshot 单个交易对的市场快照
type Snapshot struct {
	Symbol    string            `json:"symbol"`
	Price     float64           `json:"price"`
	ATR       float64           `json:"atr"`
	Ticker    *exchange.Ticker  `json:"ticker"`
	Klines    []*exchange.Kline `json:"-"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// MarketService 市场快照服务
// 快照与交易对元数据带短TTL缓存，允许读到略旧的数据
type MarketService struct {
	logger *zap.Logger
	client exchange.Exchange

	mu          sync.Mutex
	snapshots   map[string]*Snapshot
	instruments map[string]*cachedInstrument
}

type cachedInstrument struct {
	info      *exchange.InstrumentInfo
	fetchedAt time.Time
}

// NewMarketService 创建市场快照服务
func NewMarketService(client exchange.Exchange, logger *zap.Logger) *MarketService {
	return &MarketService{
		logger:      logger,
		client:      client,
		snapshots:   make(map[string]*Snapshot),
		instruments: make(map[string]*cachedInstrument),
	}
}

// GetSnapshot 获取市场快照，TTL内直接返回缓存
func (s *MarketService) GetSnapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	s.mu.Lock()
	if cached, ok := s.snapshots[symbol]; ok && time.Since(cached.FetchedAt) < snapshotTTL {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	ticker, err := s.client.GetTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", symbol, err)
	}

	klines, err := s.client.GetKlines(ctx, symbol, klineInterval, klineLimit)
	if err != nil {
		s.logger.Warn("failed to get klines for snapshot",
			zap.String("symbol", symbol),
			zap.Error(err))
		klines = nil
	}

	snapshot := &Snapshot{
		Symbol:    symbol,
		Price:     ticker.LastPrice,
		ATR:       s.resolveATR(klines, ticker.LastPrice),
		Ticker:    ticker,
		Klines:    klines,
		FetchedAt: time.Now(),
	}

	s.mu.Lock()
	s.snapshots[symbol] = snapshot
	s.mu.Unlock()

	s.logger.Debug("market snapshot refreshed",
		zap.String("symbol", symbol),
		zap.Float64("price", snapshot.Price),
		zap.Float64("atr", snapshot.ATR))
	return snapshot, nil
}

// resolveATR ATR(14) 优先，数据不足时退化为真实波幅均值，再退化为价格比例
func (s *MarketService) resolveATR(klines []*exchange.Kline, price float64) float64 {
	if len(klines) > 0 {
		high := make([]float64, len(klines))
		low := make([]float64, len(klines))
		closes := make([]float64, len(klines))
		for i, k := range klines {
			high[i] = k.High
			low[i] = k.Low
			closes[i] = k.Close
		}

		if atr := ta.ATR(high, low, closes, atrPeriod); atr > 0 {
			return atr
		}
		if mean := ta.Mean(ta.TrueRanges(high, low, closes)); mean > 0 {
			return mean
		}
	}
	if price > 0 {
		return price * fallbackAtrRatio
	}
	return 0
}

// GetInstrumentInfo 获取交易对元数据，TTL内直接返回缓存
func (s *MarketService) GetInstrumentInfo(ctx context.Context, symbol string) (*exchange.InstrumentInfo, error) {
	s.mu.Lock()
	if cached, ok := s.instruments[symbol]; ok && time.Since(cached.fetchedAt) < instrumentTTL {
		s.mu.Unlock()
		return cached.info, nil
	}
	s.mu.Unlock()

	info, err := s.client.GetInstrumentInfo(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("instrument info %s: %w", symbol, err)
	}

	s.mu.Lock()
	s.instruments[symbol] = &cachedInstrument{info: info, fetchedAt: time.Now()}
	s.mu.Unlock()
	return info, nil
}

// CloseSeries 提取K线收盘价序列
func CloseSeries(klines []*exchange.Kline) []float64 {
	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}
	return closes
}

// KlineBrief 近期行情的文本摘要，供模型提示词使用
func KlineBrief(klines []*exchange.Kline) string {
	if len(klines) == 0 {
		return ""
	}
	window := klines
	if len(window) > 24 {
		window = window[len(window)-24:]
	}
	high := window[0].High
	low := window[0].Low
	for _, k := range window {
		if k.High > high {
			high = k.High
		}
		if k.Low < low {
			low = k.Low
		}
	}
	first := window[0].Open
	last := window[len(window)-1].Close
	change := 0.0
	if first > 0 {
		change = (last - first) / first * 100
	}
	return fmt.Sprintf("last %d x 5m bars: open %.8g, close %.8g (%+.2f%%), high %.8g, low %.8g",
		len(window), first, last, change, high, low)
}
