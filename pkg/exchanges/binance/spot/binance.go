package spot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
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

// ErrCredentials is returned by signed calls on a client without keys.
var ErrCredentials = errors.New("binance: API key/secret required")

// Config holds Binance credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	BaseURL    string // overrides Testnet when set
	RecvWindow int64  // ms
}

// Client is a Binance spot trading client. It satisfies common.Gateway.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	log         *zap.Logger
}

var _ common.Gateway = (*Client)(nil)

func New(cfg Config, log *zap.Logger) *Client {
	base := "https://api.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binance.vision"
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "binance-spot"))
	client := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
	client.timeSync = common.NewTimeSync(client.GetServerTime, log)
	// Rate limiter: 1200 weight/min for spot
	client.rateLimiter = common.NewRateLimiter(1200, time.Minute, log)
	return client
}

// SubmitOrder places an order; market orders are the default.
func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderResult{}, ErrCredentials
	}

	ordType := req.Type
	if ordType == "" {
		ordType = common.OrderTypeMarket
	}
	params := url.Values{}
	params.Set("symbol", common.VenueSymbol(req.Symbol))
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", string(ordType))
	params.Set("quantity", req.Qty.String())
	params.Set("newOrderRespType", "RESULT")
	if ordType == common.OrderTypeLimit {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order response: %w", err)
	}

	result := common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:          mapStatus(resp.Status),
		ClientID:        resp.ClientOrderID,
	}
	result.FilledQty, _ = decimal.NewFromString(resp.ExecutedQty)
	quote, _ := decimal.NewFromString(resp.CummulativeQuoteQty)
	if result.FilledQty.IsPositive() && quote.IsPositive() {
		result.AvgPrice = quote.Div(result.FilledQty)
	}
	c.log.Info("order submitted",
		zap.String("symbol", resp.Symbol),
		zap.String("order_id", result.ExchangeOrderID),
		zap.String("status", string(result.Status)))
	return result, nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return ErrCredentials
	}
	params := url.Values{}
	params.Set("symbol", common.VenueSymbol(symbol))
	if exchangeOrderID != "" {
		params.Set("orderId", exchangeOrderID)
	}
	_, err := c.doSigned(ctx, http.MethodDelete, "/api/v3/order", params)
	return err
}

// doSigned stamps, signs and performs the HTTP request.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.timeSync.Stale() {
		if err := c.timeSync.Sync(ctx); err != nil {
			c.log.Warn("time sync failed, using local clock", zap.Error(err))
		}
	}
	timestamp := time.Now().UnixMilli()
	if c.timeSync.Offset() != 0 {
		timestamp = c.timeSync.Now()
	}
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

	if c.rateLimiter.ShouldDelay() {
		wait := c.rateLimiter.Remaining()
		c.log.Warn("request weight near limit, delaying", zap.Duration("wait", wait))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	var (
		req *http.Request
		err error
	)
	endpoint := c.baseURL + path
	encoded := params.Encode()
	switch method {
	case http.MethodGet, http.MethodDelete:
		// For GET/DELETE Binance expects signed params in query string.
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("binance %s %s status %d: %s", method, path, res.StatusCode, string(body))
	}
	return body, nil
}

// GetServerTime fetches server time (ms).
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/time", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("server time status %d: %s", resp.StatusCode, string(b))
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
