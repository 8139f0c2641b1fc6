package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wallradar/internal/config"
	"wallradar/internal/domain"
	"wallradar/internal/metrics"
)

const bybitBaseURL = "https://api.bybit.com"

// BybitClient reads the Bybit v5 market endpoints for linear (USDT) perps.
// Retries stay in the shared transport; resty only carries base URL, timeout
// and decoding.
type BybitClient struct {
	http      *resty.Client
	transport *transport
	log       zerolog.Logger

	mu        sync.RWMutex
	precision map[string]int32
}

// NewBybitClient builds the adapter. The market endpoints are public, so no
// credentials are required.
func NewBybitClient(cfg config.VenueConfig, reg *metrics.Registry, logger zerolog.Logger) *BybitClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = bybitBaseURL
	}
	log := logger.With().Str("venue", "bybit").Logger()
	return &BybitClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(cfg.RequestTimeout()),
		transport: newTransport("bybit", cfg, reg, log),
		log:       log,
		precision: make(map[string]int32),
	}
}

// Name identifies the venue.
func (c *BybitClient) Name() string { return "bybit" }

// bybitEnvelope is the uniform v5 response wrapper.
type bybitEnvelope struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

func (c *BybitClient) get(ctx context.Context, endpoint, path string, params map[string]string, out interface{}) error {
	return c.transport.do(ctx, endpoint, func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(out).
			Get(path)
		if err != nil {
			return wrapTransport("bybit", endpoint, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return wrapStatus("bybit", endpoint, resp.StatusCode(),
				fmt.Errorf("body: %.200s", resp.String()))
		}
		if env, ok := out.(interface{ envelope() bybitEnvelope }); ok {
			if e := env.envelope(); e.RetCode != 0 {
				// Bybit signals symbol errors in-band with HTTP 200.
				return wrapStatus("bybit", endpoint, http.StatusBadRequest,
					fmt.Errorf("retCode %d: %s", e.RetCode, e.RetMsg))
			}
		}
		return nil
	})
}

type bybitInstrumentsResponse struct {
	bybitEnvelope
	Result struct {
		List []struct {
			Symbol       string `json:"symbol"`
			BaseCoin     string `json:"baseCoin"`
			QuoteCoin    string `json:"quoteCoin"`
			Status       string `json:"status"`
			ContractType string `json:"contractType"`
			PriceFilter  struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	} `json:"result"`
}

func (r *bybitInstrumentsResponse) envelope() bybitEnvelope { return r.bybitEnvelope }

// FuturesSymbols lists linear perpetuals. Price precision is derived from
// the tick size exponent and cached.
func (c *BybitClient) FuturesSymbols(ctx context.Context) ([]SymbolInfo, error) {
	var resp bybitInstrumentsResponse
	err := c.get(ctx, "instruments", "/v5/market/instruments-info",
		map[string]string{"category": "linear", "limit": "1000"}, &resp)
	if err != nil {
		return nil, err
	}
	out := make([]SymbolInfo, 0, len(resp.Result.List))
	c.mu.Lock()
	for _, s := range resp.Result.List {
		if s.ContractType != "LinearPerpetual" {
			continue
		}
		prec := tickSizePrecision(s.PriceFilter.TickSize)
		trading := s.Status == "Trading"
		if trading {
			c.precision[s.Symbol] = prec
		}
		out = append(out, SymbolInfo{
			Symbol:         s.Symbol,
			BaseAsset:      s.BaseCoin,
			QuoteAsset:     s.QuoteCoin,
			PricePrecision: prec,
			Trading:        trading,
		})
	}
	c.mu.Unlock()
	return out, nil
}

// tickSizePrecision converts a tick size like "0.001" to 3 decimal places.
func tickSizePrecision(tickSize string) int32 {
	d, err := decimal.NewFromString(tickSize)
	if err != nil || d.IsZero() {
		return 8
	}
	if exp := d.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}

type bybitTickersResponse struct {
	bybitEnvelope
	Result struct {
		List []struct {
			Symbol       string `json:"symbol"`
			LastPrice    string `json:"lastPrice"`
			Volume24h    string `json:"volume24h"`
			Turnover24h  string `json:"turnover24h"`
			Price24hPcnt string `json:"price24hPcnt"`
		} `json:"list"`
	} `json:"result"`
}

func (r *bybitTickersResponse) envelope() bybitEnvelope { return r.bybitEnvelope }

// Stats24h returns the 24h ticker for every linear symbol. Turnover is the
// quote volume.
func (c *BybitClient) Stats24h(ctx context.Context) (map[string]Stats24h, error) {
	var resp bybitTickersResponse
	err := c.get(ctx, "tickers", "/v5/market/tickers",
		map[string]string{"category": "linear"}, &resp)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Stats24h, len(resp.Result.List))
	for _, t := range resp.Result.List {
		last, err := decimal.NewFromString(t.LastPrice)
		if err != nil {
			c.log.Warn().Str("symbol", t.Symbol).Str("last_price", t.LastPrice).
				Msg("unparseable ticker price, skipping symbol")
			continue
		}
		vol, _ := strconv.ParseFloat(t.Volume24h, 64)
		qvol, _ := strconv.ParseFloat(t.Turnover24h, 64)
		pcnt, _ := strconv.ParseFloat(t.Price24hPcnt, 64)
		out[t.Symbol] = Stats24h{
			Symbol:      t.Symbol,
			Volume:      vol,
			QuoteVolume: qvol,
			LastPrice:   last,
			PriceChange: pcnt * 100,
		}
	}
	return out, nil
}

// TopByQuoteVolume ranks symbols by 24h turnover.
func (c *BybitClient) TopByQuoteVolume(ctx context.Context, n int) ([]string, error) {
	return RankByQuoteVolume(ctx, c, n)
}

type bybitOrderbookResponse struct {
	bybitEnvelope
	Result struct {
		Symbol   string      `json:"s"`
		Bids     [][2]string `json:"b"`
		Asks     [][2]string `json:"a"`
		UpdateID int64       `json:"u"`
	} `json:"result"`
}

func (r *bybitOrderbookResponse) envelope() bybitEnvelope { return r.bybitEnvelope }

// OrderBook fetches a depth snapshot.
func (c *BybitClient) OrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	var resp bybitOrderbookResponse
	err := c.get(ctx, "orderbook", "/v5/market/orderbook", map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"limit":    strconv.Itoa(depth),
	}, &resp)
	if err != nil {
		return nil, err
	}
	book := &domain.OrderBook{
		Symbol:       symbol,
		Exchange:     "bybit",
		LastUpdateID: resp.Result.UpdateID,
		FetchedAt:    time.Now().UTC(),
	}
	if book.Asks, err = parseLevels(resp.Result.Asks, depth); err != nil {
		return nil, wrapStatus("bybit", "orderbook", http.StatusOK, err)
	}
	if book.Bids, err = parseLevels(resp.Result.Bids, depth); err != nil {
		return nil, wrapStatus("bybit", "orderbook", http.StatusOK, err)
	}
	return book, nil
}

// LastPrice fetches the latest trade price via the single-symbol ticker.
func (c *BybitClient) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var resp bybitTickersResponse
	err := c.get(ctx, "tickers", "/v5/market/tickers", map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}, &resp)
	if err != nil {
		return decimal.Zero, err
	}
	if len(resp.Result.List) == 0 {
		return decimal.Zero, &VenueError{
			Venue: "bybit", Endpoint: "tickers",
			Kind: ErrPermanentVenue,
			Err:  fmt.Errorf("unknown symbol %s", symbol),
		}
	}
	price, err := decimal.NewFromString(resp.Result.List[0].LastPrice)
	if err != nil {
		return decimal.Zero, wrapStatus("bybit", "tickers", http.StatusOK,
			fmt.Errorf("parse price: %w", err))
	}
	return price, nil
}

type bybitKlineResponse struct {
	bybitEnvelope
	Result struct {
		List [][]string `json:"list"` // [start, open, high, low, close, volume, turnover], newest first
	} `json:"result"`
}

func (r *bybitKlineResponse) envelope() bybitEnvelope { return r.bybitEnvelope }

// Volatility derives (high-low)/low over the window from klines.
func (c *BybitClient) Volatility(ctx context.Context, symbol string, tf Timeframe) (*Volatility, error) {
	interval, limit := "5", 12
	if tf == Timeframe24h {
		interval, limit = "60", 24
	}
	var resp bybitKlineResponse
	err := c.get(ctx, "kline", "/v5/market/kline", map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Result.List) == 0 {
		return nil, wrapStatus("bybit", "kline", http.StatusOK,
			fmt.Errorf("no klines for %s", symbol))
	}

	// Bybit returns newest first; the oldest candle carries the window open.
	list := resp.Result.List
	var high, low float64
	open, err1 := strconv.ParseFloat(list[len(list)-1][1], 64)
	closePrice, err2 := strconv.ParseFloat(list[0][4], 64)
	if err1 != nil || err2 != nil {
		return nil, wrapStatus("bybit", "kline", http.StatusOK,
			fmt.Errorf("non-numeric kline fields for %s", symbol))
	}
	for i, k := range list {
		if len(k) < 5 {
			return nil, wrapStatus("bybit", "kline", http.StatusOK,
				fmt.Errorf("kline %d too short", i))
		}
		h, err1 := strconv.ParseFloat(k[2], 64)
		l, err2 := strconv.ParseFloat(k[3], 64)
		if err1 != nil || err2 != nil {
			return nil, wrapStatus("bybit", "kline", http.StatusOK,
				fmt.Errorf("non-numeric kline fields for %s", symbol))
		}
		if i == 0 {
			high, low = h, l
		}
		if h > high {
			high = h
		}
		if l < low {
			low = l
		}
	}
	if low <= 0 || open <= 0 {
		return nil, wrapStatus("bybit", "kline", http.StatusOK,
			fmt.Errorf("kline window has non-positive prices"))
	}
	return &Volatility{
		Symbol:      symbol,
		Timeframe:   tf,
		Volatility:  (high - low) / low,
		PriceChange: (closePrice - open) / open * 100,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// PricePrecision serves from the instruments cache, loading it on first use.
func (c *BybitClient) PricePrecision(ctx context.Context, symbol string) (int32, error) {
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
			Venue: "bybit", Endpoint: "instruments",
			Kind: ErrPermanentVenue,
			Err:  fmt.Errorf("unknown symbol %s", symbol),
		}
	}
	return p, nil
}
