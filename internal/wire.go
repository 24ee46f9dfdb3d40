//go:build wireinject
// +build wireinject

package internal

import (
	"context"
	"net/http"
	"time"

	"github.com/dushixiang/triad/pkg/exchange"
	"github.com/dushixiang/triad/pkg/locker"
	"github.com/google/wire"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/dushixiang/triad/internal/ai"
	"github.com/dushixiang/triad/internal/config"
	"github.com/dushixiang/triad/internal/handler"
	"github.com/dushixiang/triad/internal/repo"
	"github.com/dushixiang/triad/internal/service"
	"github.com/dushixiang/triad/internal/telegram"
)

const (
	telegramHTTPTimeout = 10 * time.Second
	providerGemini      = "gemini"
)

var (
	handlerSet = wire.NewSet(
		handler.NewTradingHandler,
	)

	tradingSet = wire.NewSet(
		provideExchange,
		provideProviders,
		provideLocker,
		repo.NewTradeRepo,
		repo.NewConsensusDecisionRepo,
		repo.NewAiLogRepo,
		repo.NewAlertRepo,
		service.NewMarketService,
		service.NewAccountService,
		service.NewAlertService,
		service.NewCorrelationService,
		service.NewRiskService,
		service.NewConsensusService,
		service.NewTradeService,
		service.NewCycleService,
		service.NewReconcileService,
		service.NewTradingLoop,
	)
)

// InitializeApp 初始化应用
func InitializeApp(logger *zap.Logger, db *gorm.DB, conf *config.Config) (*AppComponents, error) {
	wire.Build(
		handlerSet,
		tradingSet,
		provideTelegram,
		wire.Struct(new(AppComponents), "*"),
	)
	return nil, nil
}

// provideTelegram provides telegram instance
func provideTelegram(logger *zap.Logger, conf *config.Config) *telegram.Telegram {
	if !conf.Telegram.Enabled {
		return nil
	}

	httpClient := &http.Client{Timeout: telegramHTTPTimeout}

	tg, err := telegram.NewTelegram(logger, telegram.Settings{
		Token:  conf.Telegram.Token,
		Client: httpClient,
	})
	if err != nil {
		logger.Error("failed to init telegram", zap.Error(err))
		return nil
	}

	return tg
}

// provideExchange provides the trading venue client.
// 实盘模式下直接使用Bybit客户端，否则用纸钱包包一层，行情仍走真实接口。
func provideExchange(conf *config.Config, logger *zap.Logger) exchange.Exchange {
	client := exchange.NewBybitClient(exchange.BybitOptions{
		APIKey:      conf.Bybit.APIKey,
		APISecret:   conf.Bybit.Secret,
		Testnet:     conf.Bybit.Testnet,
		MaxAttempts: conf.Bybit.MaxAttempts,
		RateLimit:   rate.Limit(conf.Bybit.RateLimit),
		RateBurst:   conf.Bybit.RateBurst,
	}, logger)

	if conf.Trading.Enabled {
		if conf.Bybit.APIKey == "" || conf.Bybit.Secret == "" {
			logger.Warn("Bybit API credentials not configured; private endpoints will fail")
		}
		logger.Info("Bybit client initialized",
			zap.Bool("testnet", conf.Bybit.Testnet),
			zap.Bool("has_credentials", conf.Bybit.APIKey != "" && conf.Bybit.Secret != ""),
		)
		return client
	}

	logger.Info("paper wallet initialized",
		zap.Float64("initial_balance", conf.Trading.InitialBalance),
	)
	return exchange.NewPaperWallet(client, conf.Trading.InitialBalance, logger)
}

// provideProviders provides the consensus provider pool
func provideProviders(conf *config.Config, logger *zap.Logger) []ai.Provider {
	providers := make([]ai.Provider, 0, len(conf.Providers))
	for _, pc := range conf.Providers {
		if !pc.Enabled {
			continue
		}

		var (
			p   ai.Provider
			err error
		)
		if pc.Name == providerGemini {
			p, err = ai.NewGeminiProvider(context.Background(), pc, logger)
		} else {
			p, err = ai.NewOpenAIProvider(pc, logger)
		}
		if err != nil {
			logger.Error("failed to init provider, skipping",
				zap.String("provider", pc.Name),
				zap.Error(err),
			)
			continue
		}

		providers = append(providers, ai.RateLimited(p, pc.RPM))
		logger.Info("provider initialized",
			zap.String("provider", pc.Name),
			zap.String("model", pc.Model),
			zap.Float64("weight", pc.Weight),
			zap.Int("rpm", pc.RPM),
		)
	}

	if len(providers) == 0 {
		logger.Warn("no providers configured, consensus will always hold")
	}
	return providers
}

// provideLocker provides the in-process cycle lock
func provideLocker() *locker.Locker {
	return locker.New()
}
