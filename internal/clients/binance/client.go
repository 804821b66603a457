// Package binance provides client functionality for the Binance spot REST API.
package binance

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

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/tillerbot/tiller/internal/domain"
)

const (
	// DefaultBaseURL is the production spot API endpoint.
	DefaultBaseURL = "https://api.binance.com"

	// requestsPerSecond stays well under Binance's 1200 weight/minute limit.
	requestsPerSecond = 10
	maxRetries        = 3
	recvWindow        = 5000
)

// Client for the Binance spot REST API. All endpoints go through a shared
// rate limiter and circuit breaker so a flapping exchange cannot be hammered.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

// NewClient creates a new Binance client. Empty credentials are allowed;
// signed endpoints will fail server-side, public market data still works.
func NewClient(baseURL, apiKey, apiSecret string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	settings := gobreaker.Settings{
		Name:    "binance",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		breaker:    gobreaker.NewCircuitBreaker(settings),
		log:        log.With().Str("client", "binance").Logger(),
	}
}

// apiError is Binance's error envelope.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// retryableError marks transient failures worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// GetPrice returns the latest traded price for a symbol like "BTCUSDC".
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))

	body, err := c.get(ctx, "/api/v3/ticker/price", params, false)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch price for %s: %w", symbol, err)
	}

	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to decode price response: %w", err)
	}

	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q for %s: %w", resp.Price, symbol, err)
	}

	return price, nil
}

// FetchHistoricalData returns klines for [start, end) at the given interval
// (e.g. "1d"), oldest first. Binance caps each page at 1000 candles, which
// covers every lookback this system uses.
func (c *Client) FetchHistoricalData(ctx context.Context, symbol string, start, end time.Time, interval string) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("interval", interval)
	params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	params.Set("limit", "1000")

	body, err := c.get(ctx, "/api/v3/klines", params, false)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
	}

	// Each kline is a mixed-type array:
	// [openTime, open, high, low, close, volume, closeTime, ...].
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode klines response: %w", err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			return nil, fmt.Errorf("malformed kline for %s: %d fields", symbol, len(k))
		}

		var openTime int64
		if err := json.Unmarshal(k[0], &openTime); err != nil {
			return nil, fmt.Errorf("failed to decode kline open time: %w", err)
		}

		fields := make([]float64, 5)
		for i := 1; i <= 5; i++ {
			var s string
			if err := json.Unmarshal(k[i], &s); err != nil {
				return nil, fmt.Errorf("failed to decode kline field %d: %w", i, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid kline value %q: %w", s, err)
			}
			fields[i-1] = v
		}

		candles = append(candles, domain.Candle{
			OpenTime: time.UnixMilli(openTime),
			Open:     fields[0],
			High:     fields[1],
			Low:      fields[2],
			Close:    fields[3],
			Volume:   fields[4],
		})
	}

	return candles, nil
}

// GetBalanceSummary returns non-zero spot balances.
func (c *Client) GetBalanceSummary(ctx context.Context) ([]domain.Balance, error) {
	body, err := c.get(ctx, "/api/v3/account", url.Values{}, true)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}

	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode account response: %w", err)
	}

	balances := make([]domain.Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid free balance for %s: %w", b.Asset, err)
		}
		locked, err := strconv.ParseFloat(b.Locked, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid locked balance for %s: %w", b.Asset, err)
		}
		if free+locked <= 0 {
			continue
		}
		balances = append(balances, domain.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}

	return balances, nil
}

// CreateOrder places a market order and returns the fill. The average
// executed price is derived from cummulativeQuoteQty / executedQty.
func (c *Client) CreateOrder(ctx context.Context, symbol string, side domain.Side, quantity float64) (*domain.OrderFill, error) {
	if side != domain.SideBuy && side != domain.SideSell {
		return nil, fmt.Errorf("invalid order side: %s", side)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("invalid order quantity: %.8f", quantity)
	}

	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', 8, 64))

	body, err := c.post(ctx, "/api/v3/order", params)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s order for %s: %w", side, symbol, err)
	}

	var resp struct {
		OrderID             int64  `json:"orderId"`
		Symbol              string `json:"symbol"`
		Status              string `json:"status"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}

	executed, err := strconv.ParseFloat(resp.ExecutedQty, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid executed quantity %q: %w", resp.ExecutedQty, err)
	}
	quoteQty, err := strconv.ParseFloat(resp.CummulativeQuoteQty, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid quote quantity %q: %w", resp.CummulativeQuoteQty, err)
	}

	fill := &domain.OrderFill{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		Symbol:      resp.Symbol,
		Side:        side,
		ExecutedQty: executed,
		Status:      resp.Status,
	}
	if executed > 0 {
		fill.Price = quoteQty / executed
	}

	c.log.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("status", resp.Status).
		Float64("executed_qty", executed).
		Float64("avg_price", fill.Price).
		Msg("Order placed")

	return fill, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, signed bool) ([]byte, error) {
	return c.request(ctx, http.MethodGet, path, params, signed)
}

func (c *Client) post(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.request(ctx, http.MethodPost, path, params, true)
}

// request applies rate limiting, the circuit breaker, and bounded retries
// around a single API call. 429 and 5xx responses are retried with backoff;
// 4xx responses fail fast.
func (c *Client) request(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 2 * time.Second
			c.log.Warn().
				Str("path", path).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("Retrying request")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.doRequest(ctx, method, path, params, signed)
		})
		if err == nil {
			return result.([]byte), nil
		}

		lastErr = err
		var retryable *retryableError
		if !errors.As(err, &retryable) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.Itoa(recvWindow))
		params.Set("signature", c.sign(params.Encode()))
	}

	endpoint := c.baseURL + path
	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode == http.StatusOK {
		return body, nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	err = fmt.Errorf("binance %s %s: HTTP %d code=%d msg=%s", method, path, resp.StatusCode, apiErr.Code, apiErr.Message)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &retryableError{err: err}
	}
	return nil, err
}

func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ domain.MarketDataProvider = (*Client)(nil)
