package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"trade_ledger/internal/exchange"
	"trade_ledger/internal/models"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "key"
	testSecret = "secret"
	testPass   = "pass"
)

type handlerFunc func(q url.Values) (int, any)

func okData(rows any) any {
	return map[string]any{"code": "0", "msg": "", "data": rows}
}

func newTestClient(t *testing.T, routes map[string]handlerFunc) (*Client, *[]url.Values) {
	t.Helper()
	var seen []url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts := r.Header.Get("OK-ACCESS-TIMESTAMP")
		h := hmac.New(sha256.New, []byte(testSecret))
		h.Write([]byte(ts + r.Method + r.URL.RequestURI()))
		want := base64.StdEncoding.EncodeToString(h.Sum(nil))
		if r.Header.Get("OK-ACCESS-SIGN") != want ||
			r.Header.Get("OK-ACCESS-KEY") != testKey ||
			r.Header.Get("OK-ACCESS-PASSPHRASE") != testPass {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"50113","msg":"Invalid Sign","data":[]}`))
			return
		}
		route, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		seen = append(seen, r.URL.Query())
		status, payload := route(r.URL.Query())
		body, _ := sonic.Marshal(payload)
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		BaseURL:    srv.URL,
		APIKey:     testKey,
		APISecret:  testSecret,
		Passphrase: testPass,
		Timeout:    2 * time.Second,
	}, nil)
	c.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c, &seen
}

func TestSign_KnownVector(t *testing.T) {
	c := NewClient(Config{APISecret: testSecret}, nil)
	h := hmac.New(sha256.New, []byte(testSecret))
	h.Write([]byte("2024-03-01T12:00:00.000ZGET/api/v5/account/positions?instType=SWAP"))
	want := base64.StdEncoding.EncodeToString(h.Sum(nil))

	assert.Equal(t, want, c.sign("2024-03-01T12:00:00.000Z", "get", "/api/v5/account/positions?instType=SWAP", ""))
}

func TestListOpenPositions(t *testing.T) {
	c, _ := newTestClient(t, map[string]handlerFunc{
		"/api/v5/account/positions": func(q url.Values) (int, any) {
			return 200, okData([]map[string]string{
				{"instId": "BTC-USDT-SWAP", "posId": "111", "posSide": "long", "pos": "1", "avgPx": "60000",
					"lever": "10", "upl": "12.5", "markPx": "60125", "cTime": "1709280000000", "uTime": "1709290000000"},
				{"instId": "ETH-USDT-SWAP", "posId": "222", "posSide": "net", "pos": "-3", "avgPx": "3000",
					"lever": "5", "upl": "-1", "markPx": "", "last": "3001", "cTime": "1709280000001", "uTime": "1709290000000"},
				{"instId": "SOL-USDT-SWAP", "posId": "333", "posSide": "net", "pos": "0", "cTime": "1709280000002"},
			})
		},
	})

	got, err := c.ListOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "111:1709280000000", got[0].PositionID)
	assert.Equal(t, models.SideLong, got[0].Side)
	assert.True(t, got[0].EntryPrice.Equal(decimal.RequireFromString("60000")))
	assert.True(t, got[0].UnrealizedPNL.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, time.UnixMilli(1709280000000).UTC(), got[0].OpenedAt)
	assert.NotEmpty(t, got[0].Raw)

	assert.Equal(t, models.SideShort, got[1].Side)
	assert.True(t, got[1].Quantity.Equal(decimal.NewFromInt(3)))
	assert.True(t, got[1].MarkPrice.Equal(decimal.NewFromInt(3001)))
}

func historyPage(n int, startUTime int64) []map[string]string {
	rows := make([]map[string]string, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]string{
			"instId": "BTC-USDT-SWAP", "posId": "other" + strconv.Itoa(i), "type": "2",
			"cTime": "1", "uTime": strconv.FormatInt(startUTime-int64(i), 10),
		})
	}
	return rows
}

func TestFetchClosedPosition_WalksPages(t *testing.T) {
	c, seen := newTestClient(t, map[string]handlerFunc{
		"/api/v5/account/positions-history": func(q url.Values) (int, any) {
			if q.Get("after") == "" {
				return 200, okData(historyPage(100, 1709300000000))
			}
			rows := historyPage(10, 1709200000000)
			rows = append(rows,
				map[string]string{"instId": "BTC-USDT-SWAP", "posId": "111", "type": "1",
					"cTime": "1709280000000", "uTime": "1709199999999"},
				map[string]string{"instId": "BTC-USDT-SWAP", "posId": "111", "type": "2", "direction": "long",
					"openAvgPx": "60000", "closeAvgPx": "60500", "closeTotalPos": "1", "lever": "10",
					"pnl": "50", "fee": "-1", "fundingFee": "-0.2",
					"cTime": "1709280000000", "uTime": "1709199999998"})
			return 200, okData(rows)
		},
	})

	ref := models.PositionRef{Exchange: Name, PositionID: "111:1709280000000", Symbol: "BTC-USDT-SWAP", Side: models.SideLong}
	got, err := c.FetchClosedPosition(context.Background(), ref)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "111:1709280000000", got.PositionID)
	assert.True(t, got.GrossPNL.Equal(decimal.NewFromInt(50)))
	assert.True(t, got.Fee.Equal(decimal.NewFromInt(-1)))
	assert.True(t, got.ExitPrice.Equal(decimal.NewFromInt(60500)))
	assert.Equal(t, time.UnixMilli(1709199999998).UTC(), got.ClosedAt)

	require.Len(t, *seen, 2)
	assert.Equal(t, "BTC-USDT-SWAP", (*seen)[0].Get("instId"))
	assert.Equal(t, strconv.FormatInt(1709300000000-99, 10), (*seen)[1].Get("after"))
}

func TestFetchClosedPosition_NotYetPublished(t *testing.T) {
	c, _ := newTestClient(t, map[string]handlerFunc{
		"/api/v5/account/positions-history": func(q url.Values) (int, any) {
			return 200, okData(historyPage(3, 1709300000000))
		},
	})

	got, err := c.FetchClosedPosition(context.Background(), models.PositionRef{PositionID: "111:1709280000000"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFetchFills_Paginates(t *testing.T) {
	sizes := map[string]int{"": 100, "b99": 100, "b199": 37}
	c, seen := newTestClient(t, map[string]handlerFunc{
		"/api/v5/trade/fills-history": func(q url.Values) (int, any) {
			n := sizes[q.Get("after")]
			base := 0
			if a := q.Get("after"); a != "" {
				base, _ = strconv.Atoi(a[1:])
				base++
			}
			rows := make([]map[string]string, 0, n)
			for i := 0; i < n; i++ {
				rows = append(rows, map[string]string{
					"instId": "BTC-USDT-SWAP", "tradeId": strconv.Itoa(base + i), "billId": "b" + strconv.Itoa(base+i),
					"side": "sell", "fillPx": "60500", "fillSz": "0.01", "fee": "-0.01", "ts": "1709199999998",
				})
			}
			return 200, okData(rows)
		},
	})

	from := time.UnixMilli(1709280000000)
	got, err := c.FetchFills(context.Background(), models.FillQuery{
		PositionID: "111:1709280000000", Symbol: "BTC-USDT-SWAP", From: from, To: from.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Len(t, got, 237)
	assert.Equal(t, "SELL", got[0].Side)
	assert.Equal(t, "111:1709280000000", got[236].PositionID)
	require.Len(t, *seen, 3)
	assert.Equal(t, "1709280000000", (*seen)[0].Get("begin"))
}

func TestFetchFills_KeepsOnlyOwnPosition(t *testing.T) {
	opened := time.UnixMilli(1709280000000).UTC()
	closed := opened.Add(30 * time.Minute)
	ms := func(d time.Duration) string { return strconv.FormatInt(opened.Add(d).UnixMilli(), 10) }

	c, _ := newTestClient(t, map[string]handlerFunc{
		"/api/v5/trade/fills-history": func(q url.Values) (int, any) {
			if q.Get("after") != "" {
				return 200, okData([]map[string]string{})
			}
			return 200, okData([]map[string]string{
				{"instId": "BTC-USDT-SWAP", "tradeId": "1", "billId": "b1", "side": "buy", "posSide": "long",
					"fillPx": "60000", "fillSz": "1", "fee": "-0.3", "ts": ms(0)},
				{"instId": "BTC-USDT-SWAP", "tradeId": "2", "billId": "b2", "side": "sell", "posSide": "short",
					"fillPx": "60010", "fillSz": "2", "fee": "-0.6", "ts": ms(time.Minute)},
				{"instId": "BTC-USDT-SWAP", "tradeId": "3", "billId": "b3", "side": "buy", "posSide": "short",
					"fillPx": "60200", "fillSz": "2", "fee": "-0.6", "ts": ms(20 * time.Minute)},
				{"instId": "BTC-USDT-SWAP", "tradeId": "4", "billId": "b4", "side": "sell", "posSide": "long",
					"fillPx": "60500", "fillSz": "1", "fee": "-0.3", "ts": ms(30 * time.Minute)},
				// та же сторона, но уже следующая позиция внутри lookback
				{"instId": "BTC-USDT-SWAP", "tradeId": "5", "billId": "b5", "side": "buy", "posSide": "long",
					"fillPx": "60600", "fillSz": "1", "fee": "-0.3", "ts": ms(30*time.Minute + 20*time.Second)},
			})
		},
	})

	got, err := c.FetchFills(context.Background(), models.FillQuery{
		PositionID: "111:1709280000000",
		Symbol:     "BTC-USDT-SWAP",
		Side:       models.SideLong,
		From:       opened.Add(-time.Minute),
		To:         closed.Add(time.Minute),
		OpenedAt:   opened,
		ClosedAt:   closed,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].FillID)
	assert.Equal(t, "4", got[1].FillID)
	for _, f := range got {
		assert.Equal(t, "111:1709280000000", f.PositionID)
	}
}

func TestFetchPendingStopOrders(t *testing.T) {
	c, _ := newTestClient(t, map[string]handlerFunc{
		"/api/v5/trade/orders-algo-pending": func(q url.Values) (int, any) {
			if q.Get("ordType") == "oco" {
				return 200, okData([]map[string]string{
					{"algoId": "a1", "instId": "BTC-USDT-SWAP", "posSide": "long", "sz": "1",
						"slTriggerPx": "58000", "tpTriggerPx": "65000"},
					{"algoId": "a2", "instId": "BTC-USDT-SWAP", "posSide": "short", "sz": "1", "slTriggerPx": "70000"},
				})
			}
			return 200, okData([]map[string]string{})
		},
	})

	got, err := c.FetchPendingStopOrders(context.Background(), models.PositionRef{
		PositionID: "111:1", Symbol: "BTC-USDT-SWAP", Side: models.SideLong,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.OrderStopLoss, got[0].Kind)
	assert.True(t, got[0].TriggerPrice.Equal(decimal.NewFromInt(58000)))
	assert.Equal(t, models.OrderTakeProfit, got[1].Kind)
	assert.Equal(t, "111:1", got[1].PositionID)
}

func TestErrorsClassified(t *testing.T) {
	c, _ := newTestClient(t, map[string]handlerFunc{
		"/api/v5/account/positions": func(q url.Values) (int, any) {
			return 429, map[string]any{"code": "50011", "msg": "Too Many Requests"}
		},
		"/api/v5/trade/fills-history": func(q url.Values) (int, any) {
			return 200, map[string]any{"code": "51000", "msg": "Parameter error"}
		},
	})

	_, err := c.ListOpenPositions(context.Background())
	assert.ErrorIs(t, err, exchange.ErrTransient)

	_, err = c.FetchFills(context.Background(), models.FillQuery{})
	var apiErr *exchange.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "51000", apiErr.Code)
	assert.False(t, exchange.IsTransient(err))

	bad := NewClient(Config{BaseURL: c.baseURL, APIKey: testKey, APISecret: "wrong", Passphrase: testPass}, nil)
	_, err = bad.ListOpenPositions(context.Background())
	assert.ErrorIs(t, err, exchange.ErrAuthentication)
}

func TestPositionIDRoundTrip(t *testing.T) {
	posID, cTime := SplitPositionID(PositionID("555", "1700"))
	assert.Equal(t, "555", posID)
	assert.Equal(t, "1700", cTime)

	posID, cTime = SplitPositionID("555")
	assert.Equal(t, "555", posID)
	assert.Empty(t, cTime)
}
