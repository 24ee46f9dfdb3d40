package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	bybitMainnetURL = "https://api.bybit.com"
	bybitTestnetURL = "https://api-testnet.bybit.com"

	categoryLinear = "linear"

	defaultRecvWindow  = "5000"
	defaultMaxAttempts = 4
	defaultBackoffBase = 500 * time.Millisecond
)

// 可重试的HTTP状态码
var retryableStatuses = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// 可重试的网络错误子串
var retryableErrorParts = []string{
	"timeout",
	"connection refused",
	"network error",
	"temporary failure",
	"rate limit",
	"too many requests",
}

// BybitOptions Bybit客户端配置
type BybitOptions struct {
	APIKey      string
	APISecret   string
	Testnet     bool
	BaseURL     string // 为空时根据 Testnet 选择官方地址
	MaxAttempts int
	BackoffBase time.Duration
	RateLimit   rate.Limit // 每秒请求数，0表示不限制
	RateBurst   int
}

// BybitClient Bybit v5 合约API客户端
type BybitClient struct {
	client      *resty.Client
	apiKey      string
	apiSecret   string
	recvWindow  string
	maxAttempts int
	backoffBase time.Duration
	limiter     *rate.Limiter
	logger      *zap.Logger
}

var _ Exchange = (*BybitClient)(nil)

// NewBybitClient 创建Bybit客户端
func NewBybitClient(opts BybitOptions, logger *zap.Logger) *BybitClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		if opts.Testnet {
			baseURL = bybitTestnetURL
		} else {
			baseURL = bybitMainnetURL
		}
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoffBase := opts.BackoffBase
	if backoffBase <= 0 {
		backoffBase = defaultBackoffBase
	}
	limit := opts.RateLimit
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &BybitClient{
		client:      resty.New().SetBaseURL(baseURL).SetTimeout(15 * time.Second),
		apiKey:      opts.APIKey,
		apiSecret:   opts.APISecret,
		recvWindow:  defaultRecvWindow,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		limiter:     rate.NewLimiter(limit, burst),
		logger:      logger,
	}
}

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// sign 对请求签名：HMAC-SHA256(timestamp + apiKey + recvWindow + payload)
// GET 请求 payload 为查询串，POST 请求为JSON报文
func (b *BybitClient) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(b.apiSecret))
	mac.Write([]byte(timestamp + b.apiKey + b.recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, part := range retryableErrorParts {
		if strings.Contains(msg, part) {
			return true
		}
	}
	return false
}

// backoffDelay 指数退避加随机抖动
func (b *BybitClient) backoffDelay(attempt int) time.Duration {
	delay := b.backoffBase * time.Duration(1<<(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	return delay + jitter
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// doRequest 执行带重试的签名请求
func (b *BybitClient) doRequest(ctx context.Context, method, path string, query url.Values, body map[string]any) (json.RawMessage, error) {
	var lastErr error

	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

		var payload string
		var bodyBytes []byte
		if method == resty.MethodGet {
			payload = query.Encode()
		} else {
			var err error
			bodyBytes, err = json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("marshal request body: %w", err)
			}
			payload = string(bodyBytes)
		}

		req := b.client.R().SetContext(ctx).
			SetHeader("X-BAPI-API-KEY", b.apiKey).
			SetHeader("X-BAPI-SIGN", b.sign(timestamp, payload)).
			SetHeader("X-BAPI-TIMESTAMP", timestamp).
			SetHeader("X-BAPI-RECV-WINDOW", b.recvWindow).
			SetHeader("X-BAPI-SIGN-TYPE", "2")

		var resp *resty.Response
		var err error
		if method == resty.MethodGet {
			resp, err = req.SetQueryParamsFromValues(query).Get(path)
		} else {
			resp, err = req.SetHeader("Content-Type", "application/json").
				SetBody(bodyBytes).Post(path)
		}

		if err != nil {
			lastErr = err
			if isRetryableError(err) && attempt < b.maxAttempts {
				b.logger.Warn("bybit request failed, retrying",
					zap.String("path", path),
					zap.Int("attempt", attempt),
					zap.Error(err))
				if serr := sleepWithContext(ctx, b.backoffDelay(attempt)); serr != nil {
					return nil, serr
				}
				continue
			}
			return nil, fmt.Errorf("bybit request %s %s: %w", method, path, err)
		}

		if retryableStatuses[resp.StatusCode()] {
			lastErr = fmt.Errorf("bybit %s %s: status %d: %s", method, path, resp.StatusCode(), resp.String())
			if attempt < b.maxAttempts {
				delay := b.backoffDelay(attempt)
				if ra := resp.Header().Get("Retry-After"); ra != "" {
					if secs, perr := strconv.Atoi(ra); perr == nil && secs > 0 {
						delay = time.Duration(secs) * time.Second
					}
				}
				b.logger.Warn("bybit returned retryable status",
					zap.String("path", path),
					zap.Int("status", resp.StatusCode()),
					zap.Int("attempt", attempt),
					zap.Duration("delay", delay))
				if serr := sleepWithContext(ctx, delay); serr != nil {
					return nil, serr
				}
				continue
			}
			return nil, lastErr
		}

		var envelope bybitEnvelope
		if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
			return nil, fmt.Errorf("bybit %s %s: decode response: %w", method, path, err)
		}
		if envelope.RetCode != 0 {
			apiErr := fmt.Errorf("bybit %s %s: retCode %d: %s", method, path, envelope.RetCode, envelope.RetMsg)
			if isRetryableError(apiErr) && attempt < b.maxAttempts {
				lastErr = apiErr
				if serr := sleepWithContext(ctx, b.backoffDelay(attempt)); serr != nil {
					return nil, serr
				}
				continue
			}
			return nil, apiErr
		}

		return envelope.Result, nil
	}

	return nil, fmt.Errorf("bybit request exhausted %d attempts: %w", b.maxAttempts, lastErr)
}

func (b *BybitClient) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return b.doRequest(ctx, resty.MethodGet, path, query, nil)
}

func (b *BybitClient) post(ctx context.Context, path string, body map[string]any) (json.RawMessage, error) {
	return b.doRequest(ctx, resty.MethodPost, path, nil, body)
}

// GetServerTime 获取服务器时间（毫秒）
func (b *BybitClient) GetServerTime(ctx context.Context) (int64, error) {
	result, err := b.get(ctx, "/v5/market/time", url.Values{})
	if err != nil {
		return 0, fmt.Errorf("get server time: %w", err)
	}
	var data struct {
		TimeNano string `json:"timeNano"`
	}
	if err := json.Unmarshal(result, &data); err != nil {
		return 0, fmt.Errorf("decode server time: %w", err)
	}
	return cast.ToInt64(data.TimeNano) / int64(time.Millisecond), nil
}

// GetWalletBalance 获取统一账户资产
func (b *BybitClient) GetWalletBalance(ctx context.Context) (*WalletBalance, error) {
	query := url.Values{}
	query.Set("accountType", "UNIFIED")
	result, err := b.get(ctx, "/v5/account/wallet-balance", query)
	if err != nil {
		return nil, fmt.Errorf("get wallet balance: %w", err)
	}
	var data struct {
		List []struct {
			TotalEquity           string `json:"totalEquity"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &data); err != nil {
		return nil, fmt.Errorf("decode wallet balance: %w", err)
	}
	if len(data.List) == 0 {
		return nil, fmt.Errorf("wallet balance: empty account list")
	}
	return &WalletBalance{
		TotalEquity:      cast.ToFloat64(data.List[0].TotalEquity),
		AvailableBalance: cast.ToFloat64(data.List[0].TotalAvailableBalance),
	}, nil
}

// GetTicker 获取行情快照
func (b *BybitClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("symbol", symbol)
	result, err := b.get(ctx, "/v5/market/tickers", query)
	if err != nil {
		return nil, fmt.Errorf("get ticker %s: %w", symbol, err)
	}
	var data struct {
		List []struct {
			Symbol          string `json:"symbol"`
			LastPrice       string `json:"lastPrice"`
			Bid1Price       string `json:"bid1Price"`
			Bid1Size        string `json:"bid1Size"`
			Ask1Price       string `json:"ask1Price"`
			Ask1Size        string `json:"ask1Size"`
			FundingRate     string `json:"fundingRate"`
			NextFundingTime string `json:"nextFundingTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &data); err != nil {
		return nil, fmt.Errorf("decode ticker: %w", err)
	}
	if len(data.List) == 0 {
		return nil, fmt.Errorf("ticker %s: not found", symbol)
	}
	item := data.List[0]
	return &Ticker{
		Symbol:          item.Symbol,
		LastPrice:       cast.ToFloat64(item.LastPrice),
		Bid1Price:       cast.ToFloat64(item.Bid1Price),
		Bid1Size:        cast.ToFloat64(item.Bid1Size),
		Ask1Price:       cast.ToFloat64(item.Ask1Price),
		Ask1Size:        cast.ToFloat64(item.Ask1Size),
		FundingRate:     cast.ToFloat64(item.FundingRate),
		NextFundingTime: time.UnixMilli(cast.ToInt64(item.NextFundingTime)),
	}, nil
}

// GetKlines 获取K线数据，返回按时间升序的序列
func (b *BybitClient) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*Kline, error) {
	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("symbol", symbol)
	query.Set("interval", interval)
	query.Set("limit", strconv.Itoa(limit))
	result, err := b.get(ctx, "/v5/market/kline", query)
	if err != nil {
		return nil, fmt.Errorf("get klines %s: %w", symbol, err)
	}
	var data struct {
		List [][]string `json:"list"`
	}
	if err := json.Unmarshal(result, &data); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	// Bybit 返回按时间倒序，转为升序
	klines := make([]*Kline, 0, len(data.List))
	for i := len(data.List) - 1; i >= 0; i-- {
		row := data.List[i]
		if len(row) < 7 {
			continue
		}
		klines = append(klines, &Kline{
			StartTime: time.UnixMilli(cast.ToInt64(row[0])),
			Open:      cast.ToFloat64(row[1]),
			High:      cast.ToFloat64(row[2]),
			Low:       cast.ToFloat64(row[3]),
			Close:     cast.ToFloat64(row[4]),
			Volume:    cast.ToFloat64(row[5]),
			Turnover:  cast.ToFloat64(row[6]),
		})
	}
	return klines, nil
}

// GetInstrumentInfo 获取交易对元数据
func (b *BybitClient) GetInstrumentInfo(ctx context.Context, symbol string) (*InstrumentInfo, error) {
	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("symbol", symbol)
	result, err := b.get(ctx, "/v5/market/instruments-info", query)
	if err != nil {
		return nil, fmt.Errorf("get instrument info %s: %w", symbol, err)
	}
	var data struct {
		List []struct {
			Symbol         string `json:"symbol"`
			LotSizeFilter  struct {
				QtyStep     string `json:"qtyStep"`
				MinOrderQty string `json:"minOrderQty"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LeverageFilter struct {
				MaxLeverage string `json:"maxLeverage"`
			} `json:"leverageFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &data); err != nil {
		return nil, fmt.Errorf("decode instrument info: %w", err)
	}
	if len(data.List) == 0 {
		return nil, fmt.Errorf("instrument info %s: not found", symbol)
	}
	item := data.List[0]
	return &InstrumentInfo{
		Symbol:      item.Symbol,
		TickSize:    cast.ToFloat64(item.PriceFilter.TickSize),
		QtyStep:     cast.ToFloat64(item.LotSizeFilter.QtyStep),
		MinOrderQty: cast.ToFloat64(item.LotSizeFilter.MinOrderQty),
		MaxLeverage: cast.ToFloat64(item.LeverageFilter.MaxLeverage),
	}, nil
}

// SetLeverage 设置杠杆倍数，单向持仓模式下买卖方向一致
func (b *BybitClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]any{
		"category":     categoryLinear,
		"symbol":       symbol,
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}
	_, err := b.post(ctx, "/v5/position/set-leverage", body)
	if err != nil {
		// 杠杆未变更时 Bybit 返回 110043，视为成功
		if strings.Contains(err.Error(), "110043") {
			return nil
		}
		return fmt.Errorf("set leverage %s: %w", symbol, err)
	}
	return nil
}

// SetTradingStop 设置持仓的止盈止损（整仓模式）
func (b *BybitClient) SetTradingStop(ctx context.Context, symbol string, takeProfit, stopLoss float64) error {
	body := map[string]any{
		"category":    categoryLinear,
		"symbol":      symbol,
		"positionIdx": 0,
		"tpslMode":    "Full",
	}
	if takeProfit > 0 {
		body["takeProfit"] = formatFloat(takeProfit)
	}
	if stopLoss > 0 {
		body["stopLoss"] = formatFloat(stopLoss)
	}
	if _, err := b.post(ctx, "/v5/position/trading-stop", body); err != nil {
		return fmt.Errorf("set trading stop %s: %w", symbol, err)
	}
	return nil
}

// BuildOrderLinkID 根据订单意图派生确定性的幂等键
// 相同的下单意图总是得到相同的键，网络歧义后的重试不会重复开仓
func BuildOrderLinkID(req *OrderRequest) string {
	fields := map[string]any{
		"category":   categoryLinear,
		"symbol":     req.Symbol,
		"side":       string(req.Side),
		"type":       string(req.OrderType),
		"qty":        formatFloat(req.Qty),
		"reduceOnly": req.ReduceOnly,
	}
	if req.Price > 0 {
		fields["price"] = formatFloat(req.Price)
	} else {
		fields["price"] = nil
	}
	tif := req.TimeInForce
	if tif == "" {
		if req.OrderType == OrderTypeLimit {
			tif = TimeInForcePostOnly
		} else {
			tif = TimeInForceIOC
		}
	}
	fields["timeInForce"] = string(tif)
	if req.TakeProfit > 0 {
		fields["takeProfit"] = formatFloat(req.TakeProfit)
	}
	if req.StopLoss > 0 {
		fields["stopLoss"] = formatFloat(req.StopLoss)
	}

	// encoding/json 对 map 键按字典序编码，天然得到规范形式
	encoded, _ := json.Marshal(fields)
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])[:16]
}

// CreateOrder 下单。提交前先按幂等键查询在途订单，命中则直接返回
func (b *BybitClient) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error) {
	if req.OrderLinkID == "" {
		req.OrderLinkID = BuildOrderLinkID(req)
	}
	if req.TimeInForce == "" {
		if req.OrderType == OrderTypeLimit {
			req.TimeInForce = TimeInForcePostOnly
		} else {
			req.TimeInForce = TimeInForceIOC
		}
	}

	if existing, err := b.GetOrderByLinkID(ctx, req.Symbol, req.OrderLinkID); err == nil && existing != nil {
		b.logger.Info("order already submitted, returning existing",
			zap.String("symbol", req.Symbol),
			zap.String("order_link_id", req.OrderLinkID),
			zap.String("order_id", existing.OrderID))
		return existing, nil
	}

	body := map[string]any{
		"category":    categoryLinear,
		"symbol":      req.Symbol,
		"side":        string(req.Side),
		"orderType":   string(req.OrderType),
		"qty":         formatFloat(req.Qty),
		"timeInForce": string(req.TimeInForce),
		"reduceOnly":  req.ReduceOnly,
		"orderLinkId": req.OrderLinkID,
		"positionIdx": 0,
	}
	if req.Price > 0 {
		body["price"] = formatFloat(req.Price)
	}
	if req.TakeProfit > 0 {
		body["takeProfit"] = formatFloat(req.TakeProfit)
	}
	if req.StopLoss > 0 {
		body["stopLoss"] = formatFloat(req.StopLoss)
	}

	result, err := b.post(ctx, "/v5/order/create", body)
	if err != nil {
		return nil, fmt.Errorf("create order %s: %w", req.Symbol, err)
	}
	var data struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(result, &data); err != nil {
		return nil, fmt.Errorf("decode create order: %w", err)
	}
	return &OrderResult{
		OrderID:     data.OrderID,
		OrderLinkID: data.OrderLinkID,
		Status:      OrderStatusNew,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Price:       req.Price,
		Qty:         req.Qty,
	}, nil
}

// CancelOrder 撤单
func (b *BybitClient) CancelOrder(ctx context.Context, symbol string, orderID string) error {
	body := map[string]any{
		"category": categoryLinear,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	if _, err := b.post(ctx, "/v5/order/cancel", body); err != nil {
		return fmt.Errorf("cancel order %s %s: %w", symbol, orderID, err)
	}
	return nil
}

// GetOrderByLinkID 根据幂等键查询订单，不存在时返回 nil
func (b *BybitClient) GetOrderByLinkID(ctx context.Context, symbol string, orderLinkID string) (*OrderResult, error) {
	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("symbol", symbol)
	query.Set("orderLinkId", orderLinkID)
	result, err := b.get(ctx, "/v5/order/realtime", query)
	if err != nil {
		return nil, fmt.Errorf("get order by link id %s: %w", orderLinkID, err)
	}
	var data struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			OrderStatus string `json:"orderStatus"`
			Price       string `json:"price"`
			Qty         string `json:"qty"`
			AvgPrice    string `json:"avgPrice"`
			CumExecQty  string `json:"cumExecQty"`
			CumExecFee  string `json:"cumExecFee"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &data); err != nil {
		return nil, fmt.Errorf("decode order realtime: %w", err)
	}
	if len(data.List) == 0 {
		return nil, nil
	}
	item := data.List[0]
	return &OrderResult{
		OrderID:     item.OrderID,
		OrderLinkID: item.OrderLinkID,
		Status:      OrderStatus(item.OrderStatus),
		Symbol:      item.Symbol,
		Side:        OrderSide(item.Side),
		Price:       cast.ToFloat64(item.Price),
		Qty:         cast.ToFloat64(item.Qty),
		AvgPrice:    cast.ToFloat64(item.AvgPrice),
		CumExecQty:  cast.ToFloat64(item.CumExecQty),
		CumExecFee:  cast.ToFloat64(item.CumExecFee),
	}, nil
}

// GetPositions 获取全部USDT合约持仓，过滤掉空仓
func (b *BybitClient) GetPositions(ctx context.Context) ([]*Position, error) {
	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("settleCoin", "USDT")
	result, err := b.get(ctx, "/v5/position/list", query)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	var data struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			Leverage      string `json:"leverage"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			LiqPrice      string `json:"liqPrice"`
			UpdatedTime   string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &data); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	positions := make([]*Position, 0, len(data.List))
	for _, item := range data.List {
		size := cast.ToFloat64(item.Size)
		if size <= 0 {
			continue
		}
		positions = append(positions, &Position{
			Symbol:        item.Symbol,
			Side:          OrderSide(item.Side),
			Size:          size,
			AvgPrice:      cast.ToFloat64(item.AvgPrice),
			Leverage:      cast.ToFloat64(item.Leverage),
			UnrealisedPnl: cast.ToFloat64(item.UnrealisedPnl),
			LiqPrice:      cast.ToFloat64(item.LiqPrice),
			UpdatedTime:   time.UnixMilli(cast.ToInt64(item.UpdatedTime)),
		})
	}
	return positions, nil
}

// GetExecutions 获取成交记录，按成交时间倒序
func (b *BybitClient) GetExecutions(ctx context.Context, symbol string, limit int) ([]*Execution, error) {
	query := url.Values{}
	query.Set("category", categoryLinear)
	if symbol != "" {
		query.Set("symbol", symbol)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	result, err := b.get(ctx, "/v5/execution/list", query)
	if err != nil {
		return nil, fmt.Errorf("get executions: %w", err)
	}
	var data struct {
		List []struct {
			Symbol      string `json:"symbol"`
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
			Side        string `json:"side"`
			ExecPrice   string `json:"execPrice"`
			ExecQty     string `json:"execQty"`
			ExecFee     string `json:"execFee"`
			ClosedSize  string `json:"closedSize"`
			ExecTime    string `json:"execTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &data); err != nil {
		return nil, fmt.Errorf("decode executions: %w", err)
	}
	executions := make([]*Execution, 0, len(data.List))
	for _, item := range data.List {
		executions = append(executions, &Execution{
			Symbol:      item.Symbol,
			OrderID:     item.OrderID,
			OrderLinkID: item.OrderLinkID,
			Side:        OrderSide(item.Side),
			ExecPrice:   cast.ToFloat64(item.ExecPrice),
			ExecQty:     cast.ToFloat64(item.ExecQty),
			ExecFee:     cast.ToFloat64(item.ExecFee),
			ClosedSize:  cast.ToFloat64(item.ClosedSize),
			ExecTime:    time.UnixMilli(cast.ToInt64(item.ExecTime)),
		})
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].ExecTime.After(executions[j].ExecTime)
	})
	return executions, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
