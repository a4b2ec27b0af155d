package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/mtfengine/internal/infrastructure/httpclient"
	"github.com/sawpanic/mtfengine/internal/net/backoff"
	"github.com/sawpanic/mtfengine/internal/net/ratelimit"
	"github.com/sawpanic/mtfengine/internal/net/retry"
)

// ErrNoFunding is returned by PremiumIndex for venues/instruments with
// no perpetual funding concept.
var errNoFunding = fmt.Errorf("venue: no funding rate for this instrument")

// ErrNoFunding is returned by PremiumIndex for venues/instruments with
// no perpetual funding concept.
func ErrNoFunding() error { return errNoFunding }

// BinanceVenue streams USDⓈ-M futures market data over Binance's public
// WebSocket API and polls REST for exchange filters and funding rate,
// mirroring the reference client's binance-connector UMFutures usage.
type BinanceVenue struct {
	wsBase   string
	restBase string
	http     *httpclient.ClientPool
	reconn   backoff.Config
	breaker  *Breaker
	limiter  *ratelimit.Limiter
}

// NewBinanceVenue constructs a BinanceVenue against Binance's production
// USDⓈ-M futures endpoints. Pass overrides for testing against a mock.
func NewBinanceVenue(wsBase, restBase string) *BinanceVenue {
	if wsBase == "" {
		wsBase = "wss://fstream.binance.com/ws"
	}
	if restBase == "" {
		restBase = "https://fapi.binance.com"
	}
	return &BinanceVenue{
		wsBase:   wsBase,
		restBase: restBase,
		// MaxRetries and JitterRange are both zeroed: retry.Do already
		// retries and backs off around each restCall, so the pool's own
		// job is strictly concurrency capping and latency accounting.
		http: httpclient.NewClientPool(httpclient.ClientConfig{
			MaxConcurrency: 8,
			RequestTimeout: 10 * time.Second,
			UserAgent:      "mtfengine/binance-venue",
		}),
		reconn:  backoff.DefaultConfig(),
		breaker: NewBreaker(DefaultBreakerConfig("binance")),
		limiter: ratelimit.NewLimiter(20, 40),
	}
}

// HTTPStats reports the REST client pool's request counters and
// latency percentiles, for the engine's health/monitor surface.
func (b *BinanceVenue) HTTPStats() httpclient.ClientStats {
	return b.http.GetStats()
}

// restCall waits for the venue's rate limiter to admit one request
// against restBase, then runs fn (a retry.Do-wrapped REST round-trip)
// through the circuit breaker, so a sustained run of failures trips
// open and fails fast instead of retrying against a dead endpoint on
// every funding-poll tick and warmup call.
func (b *BinanceVenue) restCall(ctx context.Context, fn func() error) error {
	if err := b.limiter.Wait(ctx, b.restBase); err != nil {
		return err
	}
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (b *BinanceVenue) Name() string { return "binance" }

// Subscribe dials the combined kline/bookTicker/aggTrade stream for symbol
// and runs a reconnecting read loop until ctx is cancelled. The stream's
// channels are backed by Ring[T] so a slow consumer drops rather than
// stalls the socket reader.
func (b *BinanceVenue) Subscribe(ctx context.Context, symbol, interval string) (*Stream, error) {
	lower := strings.ToLower(symbol)
	streamName := fmt.Sprintf("%s@kline_%s/%s@bookTicker/%s@aggTrade", lower, interval, lower, lower)
	url := fmt.Sprintf("%s/stream?streams=%s", b.wsBase, streamName)

	candles := NewRing[Candle](DefaultFillRingCapacity)
	tickers := NewRing[BookTicker](DefaultFillRingCapacity)
	trades := NewRing[Trade](DefaultFillRingCapacity)
	errs := NewRing[error](64)

	go b.runLoop(ctx, url, candles, tickers, trades, errs)

	return &Stream{
		Candles:     candles.Chan(),
		BookTickers: tickers.Chan(),
		Trades:      trades.Chan(),
		Err:         errs.Chan(),
	}, nil
}

func (b *BinanceVenue) runLoop(ctx context.Context, url string, candles *Ring[Candle], tickers *Ring[BookTicker], trades *Ring[Trade], errs *Ring[error]) {
	defer func() {
		candles.Close()
		tickers.Close()
		trades.Close()
		errs.Close()
	}()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			errs.TryPush(fmt.Errorf("binance dial: %w", err))
			if waitErr := backoff.Wait(ctx, b.reconn, attempt); waitErr != nil {
				return
			}
			attempt++
			continue
		}
		attempt = 0
		log.Info().Str("venue", "binance").Str("url", url).Msg("websocket connected")
		b.readUntilError(ctx, conn, candles, tickers, trades, errs)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
	}
}

func (b *BinanceVenue) readUntilError(ctx context.Context, conn *websocket.Conn, candles *Ring[Candle], tickers *Ring[BookTicker], trades *Ring[Trade], errs *Ring[error]) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			errs.TryPush(fmt.Errorf("binance read: %w", err))
			return
		}
		b.dispatch(data, candles, tickers, trades)
	}
}

type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (b *BinanceVenue) dispatch(data []byte, candles *Ring[Candle], tickers *Ring[BookTicker], trades *Ring[Trade]) {
	var env binanceEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	switch {
	case strings.Contains(env.Stream, "@kline_"):
		if c, ok := parseBinanceKline(env.Data); ok {
			candles.TryPush(c)
		}
	case strings.Contains(env.Stream, "@bookTicker"):
		if t, ok := parseBinanceBookTicker(env.Data); ok {
			tickers.TryPush(t)
		}
	case strings.Contains(env.Stream, "@aggTrade"):
		if tr, ok := parseBinanceAggTrade(env.Data); ok {
			trades.TryPush(tr)
		}
	}
}

type binanceKlineMsg struct {
	K struct {
		StartTime int64  `json:"t"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		IsClosed  bool   `json:"x"`
	} `json:"k"`
}

func parseBinanceKline(raw json.RawMessage) (Candle, bool) {
	var m binanceKlineMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return Candle{}, false
	}
	open, _ := strconv.ParseFloat(m.K.Open, 64)
	high, _ := strconv.ParseFloat(m.K.High, 64)
	low, _ := strconv.ParseFloat(m.K.Low, 64)
	closePx, _ := strconv.ParseFloat(m.K.Close, 64)
	vol, _ := strconv.ParseFloat(m.K.Volume, 64)
	return Candle{
		TsMs:   m.K.StartTime,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePx,
		Volume: vol,
		Closed: m.K.IsClosed,
	}, true
}

type binanceBookTickerMsg struct {
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

func parseBinanceBookTicker(raw json.RawMessage) (BookTicker, bool) {
	var m binanceBookTickerMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return BookTicker{}, false
	}
	bid, _ := strconv.ParseFloat(m.BidPrice, 64)
	ask, _ := strconv.ParseFloat(m.AskPrice, 64)
	bidQty, _ := strconv.ParseFloat(m.BidQty, 64)
	askQty, _ := strconv.ParseFloat(m.AskQty, 64)
	return BookTicker{
		TsMs:   time.Now().UTC().UnixMilli(),
		Bid:    bid,
		Ask:    ask,
		BidQty: bidQty,
		AskQty: askQty,
	}, true
}

type binanceAggTradeMsg struct {
	TradeTime int64  `json:"T"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	BuyerMkr  bool   `json:"m"`
}

func parseBinanceAggTrade(raw json.RawMessage) (Trade, bool) {
	var m binanceAggTradeMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return Trade{}, false
	}
	price, _ := strconv.ParseFloat(m.Price, 64)
	qty, _ := strconv.ParseFloat(m.Qty, 64)
	side := "buy"
	if m.BuyerMkr {
		side = "sell"
	}
	return Trade{TsMs: m.TradeTime, Price: price, Size: qty, Side: side}, true
}

// Klines fetches up to limit recent closed candles via REST, for the
// predictor's warmup window.
func (b *BinanceVenue) Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	var out []Candle
	url := fmt.Sprintf("%s/fapi/v1/klines?symbol=%s&interval=%s&limit=%d", b.restBase, strings.ToUpper(symbol), interval, limit)

	err := b.restCall(ctx, func() error { return retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := b.http.Do(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("klines status %d", resp.StatusCode)
		}
		var rows [][]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
			return err
		}
		out = make([]Candle, 0, len(rows))
		for i, r := range rows {
			if len(r) < 6 {
				continue
			}
			ts, _ := r[0].(float64)
			open, _ := strconv.ParseFloat(r[1].(string), 64)
			high, _ := strconv.ParseFloat(r[2].(string), 64)
			low, _ := strconv.ParseFloat(r[3].(string), 64)
			closePx, _ := strconv.ParseFloat(r[4].(string), 64)
			vol, _ := strconv.ParseFloat(r[5].(string), 64)
			out = append(out, Candle{
				TsMs:   int64(ts),
				Open:   open,
				High:   high,
				Low:    low,
				Close:  closePx,
				Volume: vol,
				Closed: i < len(rows)-1,
			})
		}
		return nil
	})
	})
	return out, err
}

// BookTicker polls /fapi/v1/ticker/bookTicker for symbol's current
// top-of-book snapshot.
func (b *BinanceVenue) BookTicker(ctx context.Context, symbol string) (BookTicker, error) {
	var out BookTicker
	url := fmt.Sprintf("%s/fapi/v1/ticker/bookTicker?symbol=%s", b.restBase, strings.ToUpper(symbol))

	err := b.restCall(ctx, func() error { return retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := b.http.Do(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("bookTicker status %d", resp.StatusCode)
		}
		var body struct {
			BidPrice string `json:"bidPrice"`
			BidQty   string `json:"bidQty"`
			AskPrice string `json:"askPrice"`
			AskQty   string `json:"askQty"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return err
		}
		bid, _ := strconv.ParseFloat(body.BidPrice, 64)
		ask, _ := strconv.ParseFloat(body.AskPrice, 64)
		bidQty, _ := strconv.ParseFloat(body.BidQty, 64)
		askQty, _ := strconv.ParseFloat(body.AskQty, 64)
		out = BookTicker{TsMs: time.Now().UTC().UnixMilli(), Bid: bid, Ask: ask, BidQty: bidQty, AskQty: askQty}
		return nil
	})
	})
	return out, err
}

// NewOrder is unimplemented for the paper-trading engine; the domain-side
// executor never calls it. It exists so a live backend has a fixed place
// to hang order entry without widening the Venue interface.
func (b *BinanceVenue) NewOrder(ctx context.Context, symbol string, qty float64, side string) (OrderAck, error) {
	return OrderAck{}, fmt.Errorf("binance venue: live order entry not enabled (paper mode only)")
}

// ExchangeInfo polls /fapi/v1/exchangeInfo for symbol's LOT_SIZE, PRICE_FILTER
// and MIN_NOTIONAL filters.
func (b *BinanceVenue) ExchangeInfo(ctx context.Context, symbol string) (Filters, error) {
	var filters Filters
	url := fmt.Sprintf("%s/fapi/v1/exchangeInfo?symbol=%s", b.restBase, strings.ToUpper(symbol))

	err := b.restCall(ctx, func() error { return retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := b.http.Do(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("exchangeInfo status %d", resp.StatusCode)
		}
		var body struct {
			Symbols []struct {
				Symbol  string `json:"symbol"`
				Filters []struct {
					FilterType  string `json:"filterType"`
					StepSize    string `json:"stepSize"`
					TickSize    string `json:"tickSize"`
					MinQty      string `json:"minQty"`
					Notional    string `json:"notional"`
					MinNotional string `json:"minNotional"`
				} `json:"filters"`
			} `json:"symbols"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return err
		}
		for _, s := range body.Symbols {
			if !strings.EqualFold(s.Symbol, symbol) {
				continue
			}
			for _, f := range s.Filters {
				switch f.FilterType {
				case "LOT_SIZE":
					filters.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
					filters.MinQty, _ = strconv.ParseFloat(f.MinQty, 64)
				case "PRICE_FILTER":
					filters.TickSize, _ = strconv.ParseFloat(f.TickSize, 64)
				case "MIN_NOTIONAL":
					filters.MinNotional, _ = strconv.ParseFloat(f.Notional, 64)
					if filters.MinNotional == 0 {
						filters.MinNotional, _ = strconv.ParseFloat(f.MinNotional, 64)
					}
				}
			}
			return nil
		}
		return fmt.Errorf("symbol %s not found in exchangeInfo", symbol)
	})
	})
	return filters, err
}

// PremiumIndex polls /fapi/v1/premiumIndex for symbol's current funding
// rate, mirroring the reference client's futures premium index lookup.
func (b *BinanceVenue) PremiumIndex(ctx context.Context, symbol string) (FundingUpdate, error) {
	var update FundingUpdate
	url := fmt.Sprintf("%s/fapi/v1/premiumIndex?symbol=%s", b.restBase, strings.ToUpper(symbol))

	err := b.restCall(ctx, func() error { return retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := b.http.Do(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("premiumIndex status %d", resp.StatusCode)
		}
		var body struct {
			LastFundingRate string `json:"lastFundingRate"`
			Time            int64  `json:"time"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return err
		}
		rate, err := strconv.ParseFloat(body.LastFundingRate, 64)
		if err != nil {
			return err
		}
		update = FundingUpdate{TsMs: body.Time, FundingRate: rate}
		return nil
	})
	})
	return update, err
}
