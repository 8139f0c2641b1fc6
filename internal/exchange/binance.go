package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wallradar/internal/config"
	"wallradar/internal/domain"
	"wallradar/internal/metrics"
)

const binanceFuturesBaseURL = "https://fapi.binance.com"

// BinanceClient reads the Binance USDⓈ-M futures market endpoints. All
// endpoints used here are public; the API key, when present, only raises the
// request weight allowance.
type BinanceClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	transport  *transport
	log        zerolog.Logger

	mu        sync.RWMutex
	precision map[string]int32
}

// NewBinanceClient builds the adapter. apiKey may be empty.
func NewBinanceClient(cfg config.VenueConfig, apiKey string, reg *metrics.Registry, logger zerolog.Logger) *BinanceClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = binanceFuturesBaseURL
	}
	log := logger.With().Str("venue", "binance").Logger()
	return &BinanceClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    20,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		transport: newTransport("binance", cfg, reg, log),
		log:       log,
		precision: make(map[string]int32),
	}
}

// Name identifies the venue.
func (c *BinanceClient) Name() string { return "binance" }

// get issues one GET through the guard stack and decodes JSON into out.
func (c *BinanceClient) get(ctx context.Context, endpoint, path string, params url.Values, out interface{}) error {
	return c.transport.do(ctx, endpoint, func(ctx context.Context) error {
		u := c.baseURL + path
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		if c.apiKey != "" {
			req.Header.Set("X-MBX-APIKEY", c.apiKey)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return wrapTransport("binance", endpoint, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return wrapTransport("binance", endpoint, err)
		}
		if resp.StatusCode != http.StatusOK {
			return wrapStatus("binance", endpoint, resp.StatusCode,
				fmt.Errorf("body: %.200s", string(body)))
		}
		if err := json.Unmarshal(body, out); err != nil {
			return wrapStatus("binance", endpoint, resp.StatusCode,
				fmt.Errorf("decode: %w", err))
		}
		return nil
	})
}

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol         string `json:"symbol"`
		BaseAsset      string `json:"baseAsset"`
		QuoteAsset     string `json:"quoteAsset"`
		PricePrecision int32  `json:"pricePrecision"`
		Status         string `json:"status"`
		ContractType   string `json:"contractType"`
	} `json:"symbols"`
}

// FuturesSymbols lists perpetual symbols currently trading. Precision is
// cached as a side effect so later PricePrecision calls stay local.
func (c *BinanceClient) FuturesSymbols(ctx context.Context) ([]SymbolInfo, error) {
	var info binanceExchangeInfo
	if err := c.get(ctx, "exchangeInfo", "/fapi/v1/exchangeInfo", nil, &info); err != nil {
		return nil, err
	}
	out := make([]SymbolInfo, 0, len(info.Symbols))
	c.mu.Lock()
	for _, s := range info.Symbols {
		if s.ContractType != "PERPETUAL" {
			continue
		}
		trading := s.Status == "TRADING"
		if trading {
			c.precision[s.Symbol] = s.PricePrecision
		}
		out = append(out, SymbolInfo{
			Symbol:         s.Symbol,
			BaseAsset:      s.BaseAsset,
			QuoteAsset:     s.QuoteAsset,
			PricePrecision: s.PricePrecision,
			Trading:        trading,
		})
	}
	c.mu.Unlock()
	return out, nil
}

type binanceTicker struct {
	Symbol             string `json:"symbol"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
}

// Stats24h returns the 24h rolling ticker for every futures symbol.
func (c *BinanceClient) Stats24h(ctx context.Context) (map[string]Stats24h, error) {
	var tickers []binanceTicker
	if err := c.get(ctx, "ticker24h", "/fapi/v1/ticker/24hr", nil, &tickers); err != nil {
		return nil, err
	}
	out := make(map[string]Stats24h, len(tickers))
	for _, t := range tickers {
		last, err := decimal.NewFromString(t.LastPrice)
		if err != nil {
			c.log.Warn().Str("symbol", t.Symbol).Str("last_price", t.LastPrice).
				Msg("unparseable ticker price, skipping symbol")
			continue
		}
		vol, _ := strconv.ParseFloat(t.Volume, 64)
		qvol, _ := strconv.ParseFloat(t.QuoteVolume, 64)
		change, _ := strconv.ParseFloat(t.PriceChangePercent, 64)
		out[t.Symbol] = Stats24h{
			Symbol:      t.Symbol,
			Volume:      vol,
			QuoteVolume: qvol,
			LastPrice:   last,
			PriceChange: change,
		}
	}
	return out, nil
}

// TopByQuoteVolume ranks symbols by 24h quote volume.
func (c *BinanceClient) TopByQuoteVolume(ctx context.Context, n int) ([]string, error) {
	return RankByQuoteVolume(ctx, c, n)
}

type binanceDepth struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// OrderBook fetches a depth snapshot. Binance only serves fixed depth tiers,
// so the request rounds up and the result is trimmed.
func (c *BinanceClient) OrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(binanceDepthTier(depth)))

	var raw binanceDepth
	if err := c.get(ctx, "depth", "/fapi/v1/depth", params, &raw); err != nil {
		return nil, err
	}
	book := &domain.OrderBook{
		Symbol:       symbol,
		Exchange:     "binance",
		LastUpdateID: raw.LastUpdateID,
		FetchedAt:    time.Now().UTC(),
	}
	var err error
	if book.Asks, err = parseLevels(raw.Asks, depth); err != nil {
		return nil, wrapStatus("binance", "depth", http.StatusOK, err)
	}
	if book.Bids, err = parseLevels(raw.Bids, depth); err != nil {
		return nil, wrapStatus("binance", "depth", http.StatusOK, err)
	}
	return book, nil
}

func binanceDepthTier(depth int) int {
	for _, tier := range []int{5, 10, 20, 50, 100, 500, 1000} {
		if depth <= tier {
			return tier
		}
	}
	return 1000
}

func parseLevels(raw [][2]string, limit int) ([]domain.BookEntry, error) {
	if len(raw) > limit {
		raw = raw[:limit]
	}
	out := make([]domain.BookEntry, 0, len(raw))
	for _, lvl := range raw {
		price, err := decimal.NewFromString(lvl[0])
		if err != nil {
			return nil, fmt.Errorf("parse level price %q: %w", lvl[0], err)
		}
		qty, err := decimal.NewFromString(lvl[1])
		if err != nil {
			return nil, fmt.Errorf("parse level quantity %q: %w", lvl[1], err)
		}
		out = append(out, domain.BookEntry{Price: price, Quantity: qty})
	}
	return out, nil
}

// LastPrice fetches the latest trade price.
func (c *BinanceClient) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var raw struct {
		Price string `json:"price"`
	}
	if err := c.get(ctx, "tickerPrice", "/fapi/v1/ticker/price", params, &raw); err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return decimal.Zero, wrapStatus("binance", "tickerPrice", http.StatusOK,
			fmt.Errorf("parse price %q: %w", raw.Price, err))
	}
	return price, nil
}

// Volatility derives (high-low)/low and close-vs-open change from klines.
// 1h uses 12 five-minute candles, 24h uses 24 one-hour candles.
func (c *BinanceClient) Volatility(ctx context.Context, symbol string, tf Timeframe) (*Volatility, error) {
	interval, limit := "5m", 12
	if tf == Timeframe24h {
		interval, limit = "1h", 24
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var raw [][]interface{}
	if err := c.get(ctx, "klines", "/fapi/v1/klines", params, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, wrapStatus("binance", "klines", http.StatusOK,
			fmt.Errorf("no klines for %s", symbol))
	}
	vol, change, err := volatilityFromKlines(raw)
	if err != nil {
		return nil, wrapStatus("binance", "klines", http.StatusOK, err)
	}
	return &Volatility{
		Symbol:      symbol,
		Timeframe:   tf,
		Volatility:  vol,
		PriceChange: change,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// volatilityFromKlines works over the Binance kline array layout:
// [openTime, open, high, low, close, ...] with numbers encoded as strings.
func volatilityFromKlines(klines [][]interface{}) (volatility, priceChange float64, err error) {
	var high, low, open, closePrice float64
	for i, k := range klines {
		if len(k) < 5 {
			return 0, 0, fmt.Errorf("kline %d too short", i)
		}
		o, err1 := klineField(k, 1)
		h, err2 := klineField(k, 2)
		l, err3 := klineField(k, 3)
		cl, err4 := klineField(k, 4)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return 0, 0, fmt.Errorf("kline %d has non-numeric fields", i)
		}
		if i == 0 {
			open, high, low = o, h, l
		}
		if h > high {
			high = h
		}
		if l < low {
			low = l
		}
		closePrice = cl
	}
	if low <= 0 || open <= 0 {
		return 0, 0, fmt.Errorf("kline window has non-positive prices")
	}
	return (high - low) / low, (closePrice - open) / open * 100, nil
}

func klineField(k []interface{}, idx int) (float64, error) {
	switch v := k[idx].(type) {
	case string:
		return strconv.ParseFloat(v, 64)
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected kline field type %T", v)
	}
}

// PricePrecision serves from the exchangeInfo cache, loading it on first use.
func (c *BinanceClient) PricePrecision(ctx context.Context, symbol string) (int32, error) {
	c.mu.RLock()
	p, ok := c.precision[symbol]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}
	if _, err := c.FuturesSymbols(ctx); err != nil {
		return 0, err
	}
	c.mu.RLock()
	p, ok = c.precision[symbol]
	c.mu.RUnlock()
	if !ok {
		return 0, &VenueError{
			Venue: "binance", Endpoint: "exchangeInfo",
			Kind: ErrPermanentVenue,
			Err:  fmt.Errorf("unknown symbol %s", symbol),
		}
	}
	return p, nil
}
