package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dushixiang/triad/internal/config"
	"github.com/dushixiang/triad/internal/models"
	"github.com/dushixiang/triad/internal/repo"
	"github.com/dushixiang/triad/internal/telegram"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertDebug    AlertLevel = "debug"
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertError    AlertLevel = "error"
	AlertCritical AlertLevel = "critical"
)

var alertLevelRank = map[AlertLevel]int{
	AlertDebug:    0,
	AlertInfo:     1,
	AlertWarning:  2,
	AlertError:    3,
	AlertCritical: 4,
}

// 告警代码
const (
	CodeRiskGateDenied      = "RISK_GATE_DENIED"
	CodeOneWayBlock         = "ONE_WAY_BLOCK"
	CodeTradeOpenFailed     = "TRADE_OPEN_FAILED"
	CodeTradeCloseFailed    = "TRADE_CLOSE_FAILED"
	CodeConsensusBreaker    = "CONSENSUS_BREAKER_OPEN"
	CodeYellowOrphan        = "YELLOW_ORPHAN_EXCHANGE"
	CodeRedOrphan           = "RED_ORPHAN_LOCAL"
	CodeFeeDriftCorrected   = "FEE_DRIFT_CORRECTED"
	CodeLiqBuffer           = "LIQ_BUFFER_INSUFFICIENT"
	CodeFundingWindow       = "FUNDING_WINDOW_BLOCK"
	CodeCorrelationTooHigh  = "CORRELATION_TOO_HIGH"
	CodeInvalidEntryPrice   = "INVALID_ENTRY_PRICE"
	CodeInvalidLeverage     = "INVALID_LEVERAGE"
)

var digitsPattern = regexp.MustCompile(`\d+`)

// AlertService 告警分发服务
// 每条告警总是落结构化日志；配置了Telegram时同时推送；告警按去重键在TTL窗口内抑制
type AlertService struct {
	logger    *zap.Logger
	conf      config.Config
	tg        *telegram.Telegram
	alertRepo *repo.AlertRepo

	mu   sync.Mutex
	seen map[string]time.Time // dedupKey -> 过期时间
}

// NewAlertService 创建告警服务
func NewAlertService(conf *config.Config, tg *telegram.Telegram, alertRepo *repo.AlertRepo, logger *zap.Logger) *AlertService {
	return &AlertService{
		logger:    logger,
		conf:      *conf,
		tg:        tg,
		alertRepo: alertRepo,
		seen:      make(map[string]time.Time),
	}
}

// DedupKey 结构化去重键 code:symbol:小时桶:环境
func (s *AlertService) DedupKey(code, symbol string) string {
	bucket := time.Now().UTC().Format("2006-01-02-15")
	return fmt.Sprintf("%s:%s:%s:%s", code, symbol, bucket, s.conf.Trading.Env)
}

// fallbackKey 未显式给键时，按级别、代码和数字归一化后的消息生成
func fallbackKey(level AlertLevel, code, message string) string {
	normalized := digitsPattern.ReplaceAllString(message, "N")
	sum := sha256.Sum256([]byte(string(level) + "|" + code + "|" + normalized))
	return hex.EncodeToString(sum[:])[:16]
}

// Send 分发一条告警
// 返回 true 表示实际发送，false 表示被级别下限或去重抑制
func (s *AlertService) Send(ctx context.Context, level AlertLevel, code, message string, fields map[string]any, dedupKey string) bool {
	if alertLevelRank[level] < alertLevelRank[AlertLevel(s.conf.Alert.MinLevel)] {
		return false
	}
	if dedupKey == "" {
		dedupKey = fallbackKey(level, code, message)
	}

	ttl := time.Duration(s.conf.Alert.DedupTTLSeconds) * time.Second

	s.mu.Lock()
	now := time.Now()
	if expiry, dup := s.seen[dedupKey]; dup && now.Before(expiry) {
		s.mu.Unlock()
		s.logger.Debug("alert suppressed by dedup",
			zap.String("code", code),
			zap.String("dedup_key", dedupKey))
		return false
	}
	s.seen[dedupKey] = now.Add(ttl)
	// 顺带清理过期键，避免长期运行下的无界增长
	for key, expiry := range s.seen {
		if now.After(expiry) {
			delete(s.seen, key)
		}
	}
	s.mu.Unlock()

	logFields := []zap.Field{
		zap.String("code", code),
		zap.String("dedup_key", dedupKey),
	}
	for k, v := range fields {
		logFields = append(logFields, zap.Any(k, v))
	}

	switch level {
	case AlertDebug:
		s.logger.Debug(message, logFields...)
	case AlertInfo:
		s.logger.Info(message, logFields...)
	case AlertWarning:
		s.logger.Warn(message, logFields...)
	default:
		s.logger.Error(message, logFields...)
	}

	if s.alertRepo != nil {
		alert := models.Alert{
			ID:       ulid.Make().String(),
			Level:    string(level),
			Code:     code,
			Message:  message,
			Context:  datatypes.JSONMap(fields),
			DedupKey: dedupKey,
		}
		if err := s.alertRepo.Create(ctx, &alert); err != nil {
			s.logger.Warn("failed to journal alert", zap.Error(err))
		}
	}

	if s.tg != nil && s.conf.Telegram.Enabled {
		text := fmt.Sprintf("[%s] %s\n%s", strings.ToUpper(string(level)), code, message)
		if err := s.tg.Notify(s.conf.Telegram.ChatID, text); err != nil {
			s.logger.Warn("failed to send telegram alert", zap.Error(err))
		}
	}

	return true
}
