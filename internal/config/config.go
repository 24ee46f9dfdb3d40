package config

type Config struct {
	Telegram  TelegramConf   `json:"telegram"`
	Bybit     BybitConf      `json:"bybit"`
	Trading   TradingConf    `json:"trading"`
	Consensus ConsensusConf  `json:"consensus"`
	Risk      RiskConf       `json:"risk"`
	Execution ExecutionConf  `json:"execution"`
	Reconcile ReconcileConf  `json:"reconcile"`
	Alert     AlertConf      `json:"alert"`
	Providers []ProviderConf `json:"providers"`
}

type TelegramConf struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  string `json:"chat_id"`
}

type BybitConf struct {
	APIKey      string  `json:"api_key"`
	Secret      string  `json:"secret"`
	Testnet     bool    `json:"testnet"`      // 是否使用测试网
	MaxAttempts int     `json:"max_attempts"` // 请求最大尝试次数，默认4
	RateLimit   float64 `json:"rate_limit"`   // 每秒请求数限制，0为不限
	RateBurst   int     `json:"rate_burst"`
}

type TradingConf struct {
	Enabled             bool     `json:"enabled"`                // 是否启用真实交易，false时使用纸钱包模式
	Env                 string   `json:"env"`                    // 环境标识，用于告警去重键，如 prod/lab
	Symbols             []string `json:"symbols"`                // 交易币种，如 ["BTCUSDT", "ETHUSDT"]
	IntervalMinutes     int      `json:"interval_minutes"`       // 决策周期（分钟），默认10
	RiskPercentPerTrade float64  `json:"risk_percent_per_trade"` // 单笔交易风险百分比，默认1
	MinConfidence       float64  `json:"min_confidence"`         // 开仓最低置信度，默认60
	LockTTLSeconds      int      `json:"lock_ttl_seconds"`       // 周期锁TTL，默认120
	InitialBalance      float64  `json:"initial_balance"`        // 纸钱包初始余额（USDT）
}

type ConsensusConf struct {
	Quorum                int     `json:"quorum"`                  // 有效票数下限，默认2
	DeviationThreshold    float64 `json:"deviation_threshold"`     // 偏离否决阈值（实盘），默认0.15
	LabDeviationThreshold float64 `json:"lab_deviation_threshold"` // 偏离否决阈值（回测），默认0.20
	Lab                   bool    `json:"lab"`                     // 回测/实验模式
	DynamicThreshold      bool    `json:"dynamic_threshold"`       // 是否按波动率动态调整阈值
	AtrThresholdMult      float64 `json:"atr_threshold_mult"`      // 动态阈值的ATR倍数，默认50
	MaxVetoPerMinute      int     `json:"max_veto_per_minute"`     // 熔断阈值，默认10
	CooldownSeconds       int     `json:"cooldown_seconds"`        // 熔断冷却时间，默认30
	CallTimeoutSeconds    int     `json:"call_timeout_seconds"`    // 单次模型调用超时，默认30
}

type RiskConf struct {
	Disabled             bool    `json:"disabled"`               // 风控默认开启，显式置true才跳过所有检查
	LiqBufferK           float64 `json:"liq_buffer_k"`           // 清算缓冲系数，默认1.2
	FundingWindowMinutes int     `json:"funding_window_minutes"` // 资金费结算窗口（分钟），默认5
	FundingLimitBps      float64 `json:"funding_limit_bps"`      // 资金费率上限（基点），默认30
	CorrThreshold        float64 `json:"corr_threshold"`         // 相关性阈值，默认0.85
	CorrKlineLimit       int     `json:"corr_kline_limit"`       // 相关性计算使用的K线根数，默认100
}

type ExecutionConf struct {
	TwapChunks          int     `json:"twap_chunks"`           // TWAP切片数量，默认5
	TwapDurationSeconds int     `json:"twap_duration_seconds"` // TWAP总时长（秒），默认300
	TwapLiquidityRatio  float64 `json:"twap_liquidity_ratio"`  // 数量超过盘口可见量的倍数时启用TWAP，默认3
}

type ReconcileConf struct {
	Disabled        bool `json:"disabled"`         // 对账默认开启，显式置true才停用
	IntervalMinutes int  `json:"interval_minutes"` // 对账周期（分钟），默认15
}

type AlertConf struct {
	MinLevel        string `json:"min_level"`         // 最低发送级别，默认 info
	DedupTTLSeconds int    `json:"dedup_ttl_seconds"` // 去重窗口（秒），默认120
}

// ProviderConf 模型提供方配置
type ProviderConf struct {
	Name     string  `json:"name"` // openai/grok/deepseek/gemini
	Enabled  bool    `json:"enabled"`
	BaseURL  string  `json:"base_url"` // OpenAI兼容提供方的API地址
	APIKey   string  `json:"api_key"`
	Model    string  `json:"model"`
	Weight   float64 `json:"weight"`    // 共识聚合权重，默认1
	RPM      int     `json:"rpm"`       // 每分钟调用上限，默认6
	ProxyURL string  `json:"proxy_url"` // 代理地址，例如: http://127.0.0.1:7890
}

// WithDefaults 填充未配置项的默认值
func (c Config) WithDefaults() Config {
	if c.Trading.IntervalMinutes <= 0 {
		c.Trading.IntervalMinutes = 10
	}
	if c.Trading.RiskPercentPerTrade <= 0 {
		c.Trading.RiskPercentPerTrade = 1.0
	}
	if c.Trading.MinConfidence <= 0 {
		c.Trading.MinConfidence = 60
	}
	if c.Trading.LockTTLSeconds <= 0 {
		c.Trading.LockTTLSeconds = 120
	}
	if c.Trading.Env == "" {
		c.Trading.Env = "prod"
	}
	if c.Trading.InitialBalance <= 0 {
		c.Trading.InitialBalance = 10000
	}
	if c.Consensus.Quorum <= 0 {
		c.Consensus.Quorum = 2
	}
	if c.Consensus.DeviationThreshold <= 0 {
		c.Consensus.DeviationThreshold = 0.15
	}
	if c.Consensus.LabDeviationThreshold <= 0 {
		c.Consensus.LabDeviationThreshold = 0.20
	}
	if c.Consensus.AtrThresholdMult <= 0 {
		c.Consensus.AtrThresholdMult = 50
	}
	if c.Consensus.MaxVetoPerMinute <= 0 {
		c.Consensus.MaxVetoPerMinute = 10
	}
	if c.Consensus.CooldownSeconds <= 0 {
		c.Consensus.CooldownSeconds = 30
	}
	if c.Consensus.CallTimeoutSeconds <= 0 {
		c.Consensus.CallTimeoutSeconds = 30
	}
	if c.Risk.LiqBufferK <= 0 {
		c.Risk.LiqBufferK = 1.2
	}
	if c.Risk.FundingWindowMinutes <= 0 {
		c.Risk.FundingWindowMinutes = 5
	}
	if c.Risk.FundingLimitBps <= 0 {
		c.Risk.FundingLimitBps = 30
	}
	if c.Risk.CorrThreshold <= 0 {
		c.Risk.CorrThreshold = 0.85
	}
	if c.Risk.CorrKlineLimit <= 0 {
		c.Risk.CorrKlineLimit = 100
	}
	if c.Execution.TwapChunks <= 0 {
		c.Execution.TwapChunks = 5
	}
	if c.Execution.TwapDurationSeconds <= 0 {
		c.Execution.TwapDurationSeconds = 300
	}
	if c.Execution.TwapLiquidityRatio <= 0 {
		c.Execution.TwapLiquidityRatio = 3
	}
	if c.Reconcile.IntervalMinutes <= 0 {
		c.Reconcile.IntervalMinutes = 15
	}
	if c.Alert.MinLevel == "" {
		c.Alert.MinLevel = "info"
	}
	if c.Alert.DedupTTLSeconds <= 0 {
		c.Alert.DedupTTLSeconds = 120
	}
	if c.Bybit.MaxAttempts <= 0 {
		c.Bybit.MaxAttempts = 4
	}
	for i := range c.Providers {
		if c.Providers[i].Weight <= 0 {
			c.Providers[i].Weight = 1
		}
		if c.Providers[i].RPM <= 0 {
			c.Providers[i].RPM = 6
		}
	}
	return c
}

// DeviationThresholdFor 当前模式下的静态偏离阈值
func (c ConsensusConf) DeviationThresholdFor() float64 {
	if c.Lab {
		return c.LabDeviationThreshold
	}
	return c.DeviationThreshold
}
