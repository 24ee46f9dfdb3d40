package internal

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dushixiang/triad/internal/config"
	"github.com/dushixiang/triad/internal/handler"
	"github.com/dushixiang/triad/internal/models"
	"github.com/dushixiang/triad/internal/service"
	"github.com/dushixiang/triad/internal/telegram"
	"github.com/dushixiang/triad/pkg/nostd"
	"github.com/go-orz/orz"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

func Run(configPath string) error {
	app := NewTriadApp()

	framework, err := orz.NewFramework(
		orz.WithConfig(configPath),
		orz.WithLoggerFromConfig(),
		orz.WithDatabase(),
		orz.WithHTTP(),
		orz.WithApplication(app),
	)
	if err != nil {
		return err
	}

	return framework.Run()
}

func NewTriadApp() orz.Application {
	return &TriadApp{}
}

var _ orz.Application = (*TriadApp)(nil)

type AppComponents struct {
	TradingHandler *handler.TradingHandler

	// Trading system services
	TradingLoop      *service.TradingLoop
	MarketService    *service.MarketService
	AccountService   *service.AccountService
	ConsensusService *service.ConsensusService
	TradeService     *service.TradeService
	ReconcileService *service.ReconcileService
	AlertService     *service.AlertService

	tg *telegram.Telegram
}

type TriadApp struct {
	components *AppComponents
	conf       *config.Config
}

// GetComponents 获取应用组件
func (r *TriadApp) GetComponents() *AppComponents {
	return r.components
}

func (r *TriadApp) Configure(app *orz.App) error {
	logger := app.Logger()
	e := app.GetEcho()
	db := app.GetDatabase()

	var conf config.Config
	err := app.GetConfig().App.Unmarshal(&conf)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %v", err)
	}
	conf = conf.WithDefaults()

	components, err := InitializeApp(logger, db, &conf)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %v", err)
	}
	r.components = components
	r.conf = &conf

	if err := db.AutoMigrate(
		// Trading system models
		models.Trade{}, models.AiLog{}, models.ConsensusDecision{}, models.Alert{},
	); err != nil {
		logger.Fatal("database auto migrate failed", zap.Error(err))
	}

	if err := r.Init(logger); err != nil {
		logger.Fatal("app init failed", zap.Error(err))
	}

	e.HidePort = true
	e.HideBanner = true

	e.Use(middleware.Gzip())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		Skipper:      middleware.DefaultSkipper,
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			sugar := logger.Sugar()
			sugar.Error(fmt.Sprintf("[PANIC RECOVER] %v %s\n", err, stack))
			return err
		},
	}))
	e.Use(WithErrorHandler(logger))
	customValidator := nostd.CustomValidator{Validator: validator.New()}
	if err := customValidator.TransInit(); err != nil {
		logger.Sugar().Fatal("failed to init custom validator", zap.Error(err))
	}
	e.Validator = &customValidator

	api := e.Group("/api")
	{
		// Trading API routes
		if r.components.TradingHandler != nil {
			r.components.TradingHandler.RegisterRoutes(api)
		}
	}

	return nil
}

func (r *TriadApp) Init(logger *zap.Logger) error {
	logger.Info("=================================================")
	logger.Info("Triad Trading System Starting...")
	logger.Info("=================================================")

	components := r.GetComponents()
	if components == nil {
		return fmt.Errorf("components not initialized")
	}

	if components.TradingLoop == nil {
		return fmt.Errorf("trading loop not available, please check Bybit and provider configuration")
	}

	if r.conf.Trading.Enabled {
		logger.Info("live trading enabled", zap.Bool("testnet", r.conf.Bybit.Testnet))
	} else {
		logger.Info("paper trading mode", zap.Float64("initial_balance", r.conf.Trading.InitialBalance))
	}

	if components.tg != nil {
		r.registerTelegramCommands(components)
		go components.tg.Start()
	}

	logger.Info("Trading loop initialized, starting...")

	go func() {
		if err := components.TradingLoop.Start(context.Background()); err != nil {
			logger.Error("trading loop error", zap.Error(err))
		}
	}()
	return nil
}

func (r *TriadApp) registerTelegramCommands(components *AppComponents) {
	components.tg.Handle("/start", func(c tele.Context) error {
		return c.Send("Triad 多模型共识交易机器人，输入 /help 查看可用命令")
	})
	components.tg.Handle("/help", func(c tele.Context) error {
		return c.Send("/status 交易循环状态\n/positions 在管持仓")
	})
	components.tg.Handle("/status", func(c tele.Context) error {
		status := components.TradingLoop.GetStatus()
		return c.Send(fmt.Sprintf("running: %v\niteration: %v\nelapsed_hours: %.1f",
			status["is_running"], status["iteration"], status["elapsed_hours"]))
	})
	components.tg.Handle("/positions", func(c tele.Context) error {
		ctx := context.Background()
		trades, err := components.TradeService.FindAllOpen(ctx)
		if err != nil {
			return c.Send(fmt.Sprintf("查询失败: %v", err))
		}
		if len(trades) == 0 {
			return c.Send("当前无在管持仓")
		}
		var b strings.Builder
		for _, t := range trades {
			fmt.Fprintf(&b, "%s %s qty=%v entry=%v lev=%v\n",
				t.Symbol, t.Side, t.Quantity, t.EntryPrice, t.Leverage)
		}
		return c.Send(b.String())
	})
}
