package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dushixiang/triad/internal/config"
	"github.com/dushixiang/triad/internal/xe"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// TradingLoop 交易循环调度器
// 按固定周期对每个交易对并发执行决策周期，另起独立周期做台账对账
type TradingLoop struct {
	config           config.TradingConf
	reconcileConf    config.ReconcileConf
	cycleService     *CycleService
	reconcileService *ReconcileService
	logger           *zap.Logger

	mu        sync.Mutex
	startTime time.Time
	iteration int
	isRunning bool
	stopChan  chan struct{}
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewTradingLoop 创建交易循环
func NewTradingLoop(
	config *config.Config,
	cycleService *CycleService,
	reconcileService *ReconcileService,
	logger *zap.Logger,
) *TradingLoop {
	return &TradingLoop{
		config:           config.Trading,
		reconcileConf:    config.Reconcile,
		cycleService:     cycleService,
		reconcileService: reconcileService,
		logger:           logger,
		startTime:        time.Now(),
	}
}

// Start 启动交易循环，停止后可以再次启动
func (t *TradingLoop) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return fmt.Errorf("trading loop is already running")
	}
	t.isRunning = true
	t.startTime = time.Now()
	t.stopChan = make(chan struct{})
	t.ctx, t.cancel = context.WithCancel(ctx)
	stopChan := t.stopChan
	t.mu.Unlock()

	// 生成 cron 表达式：每 N 分钟的整点执行
	// 例如 interval=10: "*/10 * * * *" 表示每小时的 0, 10, 20, 30, 40, 50 分执行
	cycleExpr := fmt.Sprintf("*/%d * * * *", t.config.IntervalMinutes)

	t.logger.Info("trading loop started",
		zap.Strings("symbols", t.config.Symbols),
		zap.Int("interval_minutes", t.config.IntervalMinutes),
		zap.String("cron_expression", cycleExpr))

	scheduler := cron.New()

	_, err := scheduler.AddFunc(cycleExpr, func() {
		t.ExecuteCycle(t.ctx)
	})
	if err != nil {
		t.setRunning(false)
		return fmt.Errorf("failed to add cycle cron job: %w", err)
	}

	if !t.reconcileConf.Disabled {
		reconcileExpr := fmt.Sprintf("*/%d * * * *", t.reconcileConf.IntervalMinutes)
		_, err = scheduler.AddFunc(reconcileExpr, func() {
			if _, err := t.reconcileService.Reconcile(t.ctx); err != nil {
				t.logger.Error("reconcile failed", zap.Error(err))
			}
		})
		if err != nil {
			t.setRunning(false)
			return fmt.Errorf("failed to add reconcile cron job: %w", err)
		}
		t.logger.Info("reconcile scheduled",
			zap.Int("interval_minutes", t.reconcileConf.IntervalMinutes))
	}

	t.mu.Lock()
	t.cron = scheduler
	t.mu.Unlock()
	scheduler.Start()

	// 立即执行第一次
	go t.ExecuteCycle(t.ctx)

	// 等待停止信号
	select {
	case <-stopChan:
		t.logger.Info("trading loop stopped by user")
		return nil
	case <-ctx.Done():
		t.logger.Info("trading loop stopped by context")
		return ctx.Err()
	}
}

// Stop 停止交易循环
func (t *TradingLoop) Stop() {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return
	}
	t.isRunning = false
	stopChan := t.stopChan
	scheduler := t.cron
	cancel := t.cancel
	t.mu.Unlock()

	t.logger.Info("stopping trading loop...")

	// 停止 cron 调度器
	if scheduler != nil {
		ctx := scheduler.Stop()
		<-ctx.Done() // 等待所有任务完成
		t.logger.Info("cron scheduler stopped")
	}

	if cancel != nil {
		cancel()
	}

	close(stopChan)
	t.logger.Info("trading loop stopped")
}

func (t *TradingLoop) setRunning(v bool) {
	t.mu.Lock()
	t.isRunning = v
	t.mu.Unlock()
}

// ExecuteCycle 对所有交易对并发执行一轮决策周期
func (t *TradingLoop) ExecuteCycle(ctx context.Context) {
	t.mu.Lock()
	t.iteration++
	iteration := t.iteration
	t.mu.Unlock()
	cycleStart := time.Now()

	t.logger.Info("trading cycle started",
		zap.Int("iteration", iteration),
		zap.Strings("symbols", t.config.Symbols))

	var wg sync.WaitGroup
	for _, symbol := range t.config.Symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			if err := t.cycleService.RunCycle(ctx, symbol); err != nil {
				t.logger.Error("cycle failed",
					zap.String("symbol", symbol),
					zap.Error(err))
			}
		}(symbol)
	}
	wg.Wait()

	t.logger.Info("trading cycle finished",
		zap.Int("iteration", iteration),
		zap.Duration("duration", time.Since(cycleStart)))
}

// TriggerSymbol 对单个交易对手动执行一次决策周期
func (t *TradingLoop) TriggerSymbol(ctx context.Context, symbol string) error {
	if !slices.Contains(t.config.Symbols, symbol) {
		return xe.ErrSymbolNotTracked
	}
	return t.cycleService.RunCycle(ctx, symbol)
}

// IsRunning 检查是否正在运行
func (t *TradingLoop) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isRunning
}

// GetStatus 获取状态信息
func (t *TradingLoop) GetStatus() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]interface{}{
		"is_running":       t.isRunning,
		"iteration":        t.iteration,
		"start_time":       t.startTime,
		"elapsed_hours":    time.Since(t.startTime).Hours(),
		"symbols":          t.config.Symbols,
		"interval_minutes": t.config.IntervalMinutes,
	}
}
