package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"strategy-core/pkg/exchanges/common"
)

// maxKlines is the largest page /api/v3/klines serves.
const maxKlines = 1000

// Client wraps public REST market data access to Binance.
type Client struct {
	BaseURL     string
	HTTPClient  *http.Client
	rateLimiter *common.RateLimiter
}

// NewClient builds a REST client. An empty baseURL selects production.
func NewClient(baseURL string, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		rateLimiter: common.NewRateLimiter(1200, time.Minute, log.With(zap.String("component", "binance-market"))),
	}
}

// GetKlines fetches the most recent klines, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		if limit > maxKlines {
			limit = maxKlines
		}
		params.Set("limit", strconv.Itoa(limit))
	}

	u := fmt.Sprintf("%s/api/v3/klines?%s", c.BaseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("binance klines %s status %d: %s", symbol, res.StatusCode, strings.TrimSpace(string(body)))
	}

	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	var raw [][]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, item := range raw {
		// Binance returns 12 fields per kline
		if len(item) < 9 {
			continue
		}
		klines = append(klines, Kline{
			Symbol:         symbol,
			OpenTime:       toInt64(item[0]),
			Open:           toDecimal(item[1]),
			High:           toDecimal(item[2]),
			Low:            toDecimal(item[3]),
			Close:          toDecimal(item[4]),
			Volume:         toDecimal(item[5]),
			CloseTime:      toInt64(item[6]),
			QuoteVolume:    toDecimal(item[7]),
			NumberOfTrades: int(toInt64(item[8])),
		})
	}
	return klines, nil
}

func toDecimal(v any) decimal.Decimal {
	switch t := v.(type) {
	case string:
		d, _ := decimal.NewFromString(t)
		return d
	case json.Number:
		d, _ := decimal.NewFromString(t.String())
		return d
	case float64:
		return decimal.NewFromFloat(t)
	default:
		return decimal.Zero
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case json.Number:
		i, _ := t.Int64()
		return i
	default:
		return 0
	}
}
