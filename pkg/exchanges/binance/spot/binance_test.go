package spot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-core/pkg/exchanges/common"
)

func TestSubmitOrderSignsAndParsesFill(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/time", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"serverTime": 1700000000000}`))
	})
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		assert.Equal(t, "BTCUSDT", r.PostForm.Get("symbol"))
		assert.Equal(t, "BUY", r.PostForm.Get("side"))
		assert.Equal(t, "MARKET", r.PostForm.Get("type"))
		assert.Equal(t, "0.5", r.PostForm.Get("quantity"))
		assert.NotEmpty(t, r.PostForm.Get("signature"))
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "3")
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"clientOrderId":"c1","status":"FILLED","executedQty":"0.5","cummulativeQuoteQty":"15000.5"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{APIKey: "key", APISecret: "secret", BaseURL: srv.URL}, nil)
	res, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "BTC-USD", Side: common.SideBuy, Qty: decimal.RequireFromString("0.5"), ClientID: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", res.ExchangeOrderID)
	assert.Equal(t, common.StatusFilled, res.Status)
	assert.Equal(t, "30001", res.AvgPrice.String())

	used, _, _ := c.rateLimiter.GetUsage()
	assert.Equal(t, 3, used)
}

func TestSubmitOrderSurfacesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/time" {
			w.Write([]byte(`{"serverTime": 1}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"insufficient balance"}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "key", APISecret: "secret", BaseURL: srv.URL}, nil)
	_, err := c.SubmitOrder(context.Background(), common.OrderRequest{Symbol: "ETHUSDT", Side: common.SideSell, Qty: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestSignedCallsNeedCredentials(t *testing.T) {
	c := New(Config{}, nil)
	_, err := c.SubmitOrder(context.Background(), common.OrderRequest{})
	assert.ErrorIs(t, err, ErrCredentials)
	assert.ErrorIs(t, c.CancelOrder(context.Background(), "BTCUSDT", "1"), ErrCredentials)
}

func TestVenueSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", common.VenueSymbol("BTC-USD"))
	assert.Equal(t, "ETHUSDT", common.VenueSymbol("eth/usdt"))
	assert.Equal(t, "AAPL", common.VenueSymbol("AAPL"))
}
