package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestClient creates a BybitClient pointed at a local test server.
func setupTestClient(t *testing.T, handler http.Handler) (*BybitClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewBybitClient(BybitOptions{
		APIKey:      "test_api_key",
		APISecret:   "test_secret_key",
		BaseURL:     server.URL,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		RateLimit:   rate.Inf,
	}, zap.NewNop())
	return client, server
}

func TestGetServerTime(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		now := time.Now().UnixNano()
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v5/market/time", r.URL.Path)
			fmt.Fprintf(w, `{"retCode":0,"retMsg":"OK","result":{"timeSecond":"%d","timeNano":"%d"}}`, now/1e9, now)
		})
		client, _ := setupTestClient(t, handler)

		ms, err := client.GetServerTime(context.Background())
		require.NoError(t, err)
		assert.Equal(t, now/int64(time.Millisecond), ms)
	})

	t.Run("APIError", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"retCode":10002,"retMsg":"invalid request","result":{}}`)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.GetServerTime(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retCode 10002")
	})
}

func TestSigningHeaders(t *testing.T) {
	var captured http.Header
	var capturedQuery string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Header.Clone()
		capturedQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTCUSDT","lastPrice":"50000","bid1Price":"49999","ask1Price":"50001","bid1Size":"10","ask1Size":"12","fundingRate":"0.0001","nextFundingTime":"1700000000000"}]}}`)
	})
	client, _ := setupTestClient(t, handler)

	ticker, err := client.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, ticker.LastPrice)
	assert.InDelta(t, 0.0001, ticker.FundingRate, 1e-12)

	assert.Equal(t, "test_api_key", captured.Get("X-BAPI-API-KEY"))
	assert.Equal(t, "2", captured.Get("X-BAPI-SIGN-TYPE"))
	assert.Equal(t, "5000", captured.Get("X-BAPI-RECV-WINDOW"))

	// Recompute the signature server-side over timestamp+apiKey+recvWindow+queryString.
	mac := hmac.New(sha256.New, []byte("test_secret_key"))
	mac.Write([]byte(captured.Get("X-BAPI-TIMESTAMP") + "test_api_key" + "5000" + capturedQuery))
	expected := hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, expected, captured.Get("X-BAPI-SIGN"))
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"timeSecond":"1700000000","timeNano":"1700000000000000000"}}`)
	})
	client, _ := setupTestClient(t, handler)

	_, err := client.GetServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetryExhaustion(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	client, _ := setupTestClient(t, handler)

	_, err := client.GetServerTime(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNonRetryableStatusFailsFast(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"retCode":10001,"retMsg":"params error","result":{}}`)
	})
	client, _ := setupTestClient(t, handler)

	_, err := client.GetServerTime(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBuildOrderLinkID(t *testing.T) {
	base := &OrderRequest{
		Symbol:    "BTCUSDT",
		Side:      OrderSideBuy,
		OrderType: OrderTypeLimit,
		Qty:       0.5,
		Price:     50000,
		StopLoss:  49000,
	}

	t.Run("Deterministic", func(t *testing.T) {
		same := *base
		assert.Equal(t, BuildOrderLinkID(base), BuildOrderLinkID(&same))
		assert.Len(t, BuildOrderLinkID(base), 16)
	})

	t.Run("ChangedIntentChangesKey", func(t *testing.T) {
		changedQty := *base
		changedQty.Qty = 0.6
		assert.NotEqual(t, BuildOrderLinkID(base), BuildOrderLinkID(&changedQty))

		changedSide := *base
		changedSide.Side = OrderSideSell
		assert.NotEqual(t, BuildOrderLinkID(base), BuildOrderLinkID(&changedSide))

		market := *base
		market.OrderType = OrderTypeMarket
		market.Price = 0
		assert.NotEqual(t, BuildOrderLinkID(base), BuildOrderLinkID(&market))
	})
}

func TestCreateOrderIdempotentPreCheck(t *testing.T) {
	var postCalls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/order/realtime":
			linkID := r.URL.Query().Get("orderLinkId")
			fmt.Fprintf(w, `{"retCode":0,"retMsg":"OK","result":{"list":[{"orderId":"existing-1","orderLinkId":"%s","symbol":"BTCUSDT","side":"Buy","orderStatus":"New","price":"50000","qty":"0.5"}]}}`, linkID)
		case "/v5/order/create":
			postCalls.Add(1)
			fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"orderId":"new-1","orderLinkId":"x"}}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	client, _ := setupTestClient(t, handler)

	result, err := client.CreateOrder(context.Background(), &OrderRequest{
		Symbol:    "BTCUSDT",
		Side:      OrderSideBuy,
		OrderType: OrderTypeLimit,
		Qty:       0.5,
		Price:     50000,
	})
	require.NoError(t, err)
	assert.Equal(t, "existing-1", result.OrderID)
	assert.Equal(t, int32(0), postCalls.Load(), "duplicate intent must not hit order create")
}

func TestCreateOrderBody(t *testing.T) {
	var body []byte
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/order/realtime":
			fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"list":[]}}`)
		case "/v5/order/create":
			body, _ = io.ReadAll(r.Body)
			fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"orderId":"new-1","orderLinkId":"abc"}}`)
		}
	})
	client, _ := setupTestClient(t, handler)

	result, err := client.CreateOrder(context.Background(), &OrderRequest{
		Symbol:    "ETHUSDT",
		Side:      OrderSideSell,
		OrderType: OrderTypeMarket,
		Qty:       2,
	})
	require.NoError(t, err)
	assert.Equal(t, "new-1", result.OrderID)

	payload := string(body)
	assert.Contains(t, payload, `"symbol":"ETHUSDT"`)
	assert.Contains(t, payload, `"side":"Sell"`)
	assert.Contains(t, payload, `"orderType":"Market"`)
	assert.Contains(t, payload, `"timeInForce":"IOC"`)
	assert.NotContains(t, payload, `"price"`)
}

func TestGetKlinesAscending(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Bybit returns newest first.
		fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"list":[
			["1700000120000","101","102","100","101.5","5","500"],
			["1700000060000","100","101","99","101","4","400"],
			["1700000000000","99","100","98","100","3","300"]
		]}}`)
	})
	client, _ := setupTestClient(t, handler)

	klines, err := client.GetKlines(context.Background(), "BTCUSDT", "5", 3)
	require.NoError(t, err)
	require.Len(t, klines, 3)
	assert.True(t, klines[0].StartTime.Before(klines[1].StartTime))
	assert.Equal(t, 100.0, klines[0].Close)
	assert.Equal(t, 101.5, klines[2].Close)
}

func TestPaperWalletIdempotentOpen(t *testing.T) {
	wallet := NewPaperWallet(nil, 10000, zap.NewNop())
	wallet.SetPrice("BTCUSDT", 50000)
	require.NoError(t, wallet.SetLeverage(context.Background(), "BTCUSDT", 10))

	req := &OrderRequest{
		Symbol:    "BTCUSDT",
		Side:      OrderSideBuy,
		OrderType: OrderTypeMarket,
		Qty:       0.05,
	}
	first, err := wallet.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	again := *req
	again.OrderLinkID = ""
	second, err := wallet.CreateOrder(context.Background(), &again)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)

	positions, err := wallet.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 0.05, positions[0].Size, "same intent submitted twice must not double the position")
}
