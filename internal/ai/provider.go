package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSchema 模型输出无法解析为约定的JSON结构
var ErrSchema = errors.New("ai: output does not match schema")

// Action 模型给出的交易动作
type Action string

const (
	ActionLong    Action = "LONG"
	ActionShort   Action = "SHORT"
	ActionHold    Action = "HOLD"
	ActionClose   Action = "CLOSE"
	ActionNone    Action = "NONE"
	ActionNoTrade Action = "NO_TRADE"
	ActionNoOpen  Action = "NO_OPEN"
)

// NormalizeAction 归一化模型输出的动作别名，未知动作一律视为 HOLD
func NormalizeAction(raw string) Action {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG", "BUY", "OPEN_LONG":
		return ActionLong
	case "SHORT", "SELL", "OPEN_SHORT":
		return ActionShort
	case "CLOSE", "EXIT", "CLOSE_POSITION":
		return ActionClose
	case "NONE":
		return ActionNone
	case "NO_TRADE":
		return ActionNoTrade
	case "NO_OPEN":
		return ActionNoOpen
	case "HOLD", "WAIT", "NEUTRAL":
		return ActionHold
	default:
		return ActionHold
	}
}

// IsDirectional 是否为开仓方向动作
func (a Action) IsDirectional() bool {
	return a == ActionLong || a == ActionShort
}

// Context 单次征询的输入上下文，由上游采集，提供方不自行拉取数据
type Context struct {
	CycleID    string
	Symbol     string
	Price      float64
	ATR        float64
	Equity     float64
	Round      int
	KlineBrief string // 近期行情摘要
	PeerBrief  string // 第二轮重述的第一轮结果
	OpenSide   string // 当前在管持仓方向，空表示无持仓
}

// Opinion 单个模型单轮的意见
type Opinion struct {
	Provider       string
	Model          string
	Action         Action
	Confidence     float64 // 0-100
	Leverage       int
	StopLoss       float64
	TakeProfit     float64
	QtyDeltaFactor float64
	Reason         string
	Raw            string
	Latency        time.Duration
}

// Provider 模型提供方的统一能力接口
type Provider interface {
	Name() string
	Weight() float64
	Propose(ctx context.Context, input Context) (*Opinion, error)
}

// decisionPayload 模型应答的JSON结构
type decisionPayload struct {
	Action         string  `json:"action"`
	Confidence     float64 `json:"confidence"`
	Leverage       int     `json:"leverage"`
	StopLoss       float64 `json:"stop_loss"`
	TakeProfit     float64 `json:"take_profit"`
	QtyDeltaFactor float64 `json:"qty_delta_factor"`
	Reason         string  `json:"reason"`
}

// ParseOpinion 从模型原始输出解析意见，容忍```json围栏和前后缀文本
func ParseOpinion(provider, model, raw string) (*Opinion, error) {
	text := strings.TrimSpace(raw)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var payload decisionPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("%w: provider %s: %v", ErrSchema, provider, err)
	}

	return &Opinion{
		Provider:       provider,
		Model:          model,
		Action:         NormalizeAction(payload.Action),
		Confidence:     payload.Confidence,
		Leverage:       payload.Leverage,
		StopLoss:       payload.StopLoss,
		TakeProfit:     payload.TakeProfit,
		QtyDeltaFactor: payload.QtyDeltaFactor,
		Reason:         payload.Reason,
		Raw:            raw,
	}, nil
}
