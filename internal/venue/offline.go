package venue

import (
	"context"
	"fmt"
)

// OfflineVenue replays a fixed, pre-loaded sequence of candles/tickers/
// trades instead of dialing a real exchange, for backtest replay and the
// selftest CLI command where the driver must run deterministically with
// no network access.
type OfflineVenue struct {
	name     string
	candles  []Candle
	tickers  []BookTicker
	trades   []Trade
	filters  Filters
	funding  FundingUpdate
}

// NewOfflineVenue constructs an OfflineVenue from pre-recorded fixture
// data. Any of the slices/values may be left zero-valued if a scenario
// doesn't exercise that stream.
func NewOfflineVenue(name string, candles []Candle, tickers []BookTicker, trades []Trade, filters Filters, funding FundingUpdate) *OfflineVenue {
	return &OfflineVenue{name: name, candles: candles, tickers: tickers, trades: trades, filters: filters, funding: funding}
}

func (o *OfflineVenue) Name() string { return o.name }

// Subscribe pushes the entire pre-loaded fixture onto the returned Stream
// in one pass, then closes it; there is no live reconnect loop to run.
func (o *OfflineVenue) Subscribe(ctx context.Context, symbol, interval string) (*Stream, error) {
	candles := NewRing[Candle](len(o.candles) + 1)
	tickers := NewRing[BookTicker](len(o.tickers) + 1)
	trades := NewRing[Trade](len(o.trades) + 1)
	errs := NewRing[error](1)

	go func() {
		defer candles.Close()
		defer tickers.Close()
		defer trades.Close()
		defer errs.Close()
		for _, c := range o.candles {
			if ctx.Err() != nil {
				return
			}
			candles.TryPush(c)
		}
		for _, t := range o.tickers {
			if ctx.Err() != nil {
				return
			}
			tickers.TryPush(t)
		}
		for _, tr := range o.trades {
			if ctx.Err() != nil {
				return
			}
			trades.TryPush(tr)
		}
	}()

	return &Stream{Candles: candles.Chan(), BookTickers: tickers.Chan(), Trades: trades.Chan(), Err: errs.Chan()}, nil
}

// Klines returns up to limit candles from the end of the pre-loaded
// fixture, mirroring a real venue's "most recent N" warmup semantics.
func (o *OfflineVenue) Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if limit <= 0 || limit >= len(o.candles) {
		out := make([]Candle, len(o.candles))
		copy(out, o.candles)
		return out, nil
	}
	start := len(o.candles) - limit
	out := make([]Candle, limit)
	copy(out, o.candles[start:])
	return out, nil
}

// BookTicker returns the last pre-loaded ticker snapshot.
func (o *OfflineVenue) BookTicker(ctx context.Context, symbol string) (BookTicker, error) {
	if len(o.tickers) == 0 {
		return BookTicker{}, fmt.Errorf("offline venue %s: no ticker fixture loaded", o.name)
	}
	return o.tickers[len(o.tickers)-1], nil
}

// NewOrder always succeeds with a synthetic ack; offline replay has no
// real order book to fill against, and the domain-side paper executor is
// what actually models fills.
func (o *OfflineVenue) NewOrder(ctx context.Context, symbol string, qty float64, side string) (OrderAck, error) {
	return OrderAck{OrderID: "offline-synthetic", Filled: true}, nil
}

func (o *OfflineVenue) ExchangeInfo(ctx context.Context, symbol string) (Filters, error) {
	return o.filters, nil
}

func (o *OfflineVenue) PremiumIndex(ctx context.Context, symbol string) (FundingUpdate, error) {
	return o.funding, nil
}
