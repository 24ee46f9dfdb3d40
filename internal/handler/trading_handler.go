package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dushixiang/triad/internal/repo"
	"github.com/dushixiang/triad/internal/service"
	"github.com/dushixiang/triad/internal/xe"
	"github.com/dushixiang/triad/pkg/exchange"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// TradingHandler 交易系统HTTP处理器
type TradingHandler struct {
	tradingLoop      *service.TradingLoop
	reconcileService *service.ReconcileService
	accountService   *service.AccountService
	client           exchange.Exchange
	tradeRepo        *repo.TradeRepo
	decisionRepo     *repo.ConsensusDecisionRepo
	aiLogRepo        *repo.AiLogRepo
	alertRepo        *repo.AlertRepo
	logger           *zap.Logger
	loopCtx          context.Context
	loopCancel       context.CancelFunc
}

// NewTradingHandler 创建交易处理器
func NewTradingHandler(
	tradingLoop *service.TradingLoop,
	reconcileService *service.ReconcileService,
	accountService *service.AccountService,
	client exchange.Exchange,
	tradeRepo *repo.TradeRepo,
	decisionRepo *repo.ConsensusDecisionRepo,
	aiLogRepo *repo.AiLogRepo,
	alertRepo *repo.AlertRepo,
	logger *zap.Logger,
) *TradingHandler {
	return &TradingHandler{
		tradingLoop:      tradingLoop,
		reconcileService: reconcileService,
		accountService:   accountService,
		client:           client,
		tradeRepo:        tradeRepo,
		decisionRepo:     decisionRepo,
		aiLogRepo:        aiLogRepo,
		alertRepo:        alertRepo,
		logger:           logger,
	}
}

// GetStatus 获取交易状态
// GET /api/trading/status
func (h *TradingHandler) GetStatus(c echo.Context) error {
	ctx := c.Request().Context()

	loopStatus := h.tradingLoop.GetStatus()

	// 获取账户信息
	balance, err := h.accountService.GetBalance(ctx)
	if err != nil {
		h.logger.Error("failed to get wallet balance", zap.Error(err))
		return c.JSON(http.StatusOK, map[string]interface{}{
			"loop": loopStatus,
		})
	}

	// 获取持仓
	positions, err := h.client.GetPositions(ctx)
	if err != nil {
		h.logger.Error("failed to get positions", zap.Error(err))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"loop": loopStatus,
		"account": map[string]interface{}{
			"total_equity":      balance.TotalEquity,
			"available_balance": balance.AvailableBalance,
		},
		"positions": positionsData(positions),
	})
}

// GetPositions 获取持仓列表
// GET /api/trading/positions
func (h *TradingHandler) GetPositions(c echo.Context) error {
	ctx := c.Request().Context()

	positions, err := h.client.GetPositions(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
	}

	open, err := h.tradeRepo.FindAllOpen(ctx)
	if err != nil {
		h.logger.Error("failed to load open trades", zap.Error(err))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":     len(positions),
		"positions": positionsData(positions),
		"ledger":    open,
	})
}

func positionsData(positions []*exchange.Position) []map[string]interface{} {
	data := make([]map[string]interface{}, 0, len(positions))
	for _, pos := range positions {
		data = append(data, map[string]interface{}{
			"symbol":         pos.Symbol,
			"side":           exchange.PositionSideFromOrder(pos.Side),
			"size":           pos.Size,
			"entry_price":    pos.AvgPrice,
			"leverage":       pos.Leverage,
			"unrealized_pnl": pos.UnrealisedPnl,
			"liq_price":      pos.LiqPrice,
			"updated_time":   pos.UpdatedTime,
		})
	}
	return data
}

// GetDecisions 获取共识决策历史
// GET /api/trading/decisions?limit=10
func (h *TradingHandler) GetDecisions(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 10
	if l := c.QueryParam("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}

	decisions, err := h.decisionRepo.FindRecent(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":     len(decisions),
		"decisions": decisions,
	})
}

// GetTrades 获取交易历史
// GET /api/trading/trades?limit=20
func (h *TradingHandler) GetTrades(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 20
	if l := c.QueryParam("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}

	trades, err := h.tradeRepo.FindRecentTrades(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":  len(trades),
		"trades": trades,
	})
}

// GetAiLogs 获取AI调用日志
// GET /api/trading/ai-logs?cycle_id=xxx 或 ?limit=100
func (h *TradingHandler) GetAiLogs(c echo.Context) error {
	ctx := c.Request().Context()

	if cycleID := c.QueryParam("cycle_id"); cycleID != "" {
		logs, err := h.aiLogRepo.FindByCycleID(ctx, cycleID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]interface{}{
				"error": err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"count": len(logs),
			"logs":  logs,
		})
	}

	limit := 100
	if l := c.QueryParam("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}

	logs, err := h.aiLogRepo.FindRecent(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"count": len(logs),
		"logs":  logs,
	})
}

// GetAlerts 获取告警历史
// GET /api/trading/alerts?limit=50
func (h *TradingHandler) GetAlerts(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}

	alerts, err := h.alertRepo.FindRecent(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

// Reconcile 手动触发持仓对账
// POST /api/trading/reconcile
func (h *TradingHandler) Reconcile(c echo.Context) error {
	ctx := c.Request().Context()

	report, err := h.reconcileService.Reconcile(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, report)
}

// TriggerCycle 对单个交易对手动执行一次决策周期
// POST /api/trading/cycle?symbol=BTCUSDT
func (h *TradingHandler) TriggerCycle(c echo.Context) error {
	ctx := c.Request().Context()

	symbol := c.QueryParam("symbol")
	if symbol == "" {
		return xe.ErrInvalidParams
	}

	if err := h.tradingLoop.TriggerSymbol(ctx, symbol); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "cycle executed",
		"symbol":  symbol,
	})
}

// Start 启动交易循环
// POST /api/trading/start
func (h *TradingHandler) Start(c echo.Context) error {
	if h.tradingLoop.IsRunning() {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "trading loop is already running",
		})
	}

	// 创建新的context
	h.loopCtx, h.loopCancel = context.WithCancel(context.Background())

	// 在goroutine中启动
	go func() {
		if err := h.tradingLoop.Start(h.loopCtx); err != nil {
			h.logger.Error("trading loop error", zap.Error(err))
		}
	}()

	h.logger.Info("trading loop started via API")

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "trading loop started",
	})
}

// Stop 停止交易循环
// POST /api/trading/stop
func (h *TradingHandler) Stop(c echo.Context) error {
	if !h.tradingLoop.IsRunning() {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "trading loop is not running",
		})
	}

	h.tradingLoop.Stop()
	if h.loopCancel != nil {
		h.loopCancel()
	}

	h.logger.Info("trading loop stopped via API")

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "trading loop stopped",
	})
}

// RegisterRoutes 注册路由
func (h *TradingHandler) RegisterRoutes(g *echo.Group) {
	trading := g.Group("/trading")

	// 查询接口
	trading.GET("/status", h.GetStatus)
	trading.GET("/positions", h.GetPositions)
	trading.GET("/decisions", h.GetDecisions)
	trading.GET("/trades", h.GetTrades)
	trading.GET("/ai-logs", h.GetAiLogs)
	trading.GET("/alerts", h.GetAlerts)

	// 控制接口
	trading.POST("/start", h.Start)
	trading.POST("/stop", h.Stop)
	trading.POST("/cycle", h.TriggerCycle)
	trading.POST("/reconcile", h.Reconcile)
}
