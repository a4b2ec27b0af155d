// Package venue defines the exchange-facing boundary: a normalized
// Venue interface plus concrete WebSocket and offline/deterministic
// backends, so the driver loop never depends on a specific exchange's
// wire format.
package venue

import "context"

// Candle is one OHLCV print for a symbol/interval, already normalized
// out of whichever venue emitted it.
type Candle struct {
	TsMs   int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Closed bool // false for an in-progress (unclosed) bar update
}

// BookTicker is a normalized top-of-book snapshot.
type BookTicker struct {
	TsMs  int64
	Bid   float64
	Ask   float64
	BidQty float64
	AskQty float64
}

// Trade is a normalized tape print, tagged by the venue-reported side.
type Trade struct {
	TsMs  int64
	Price float64
	Size  float64
	Side  string // "buy" or "sell" as reported by the venue, best-effort
}

// FundingUpdate is a normalized perpetual-swap funding rate sample.
type FundingUpdate struct {
	TsMs        int64
	FundingRate float64
}

// OrderAck is the venue's acknowledgement of a NewOrder call. The engine
// runs paper execution internally (internal/domain/risk); NewOrder exists
// on the interface so a live-trading backend has a real place to hang
// order entry without changing the interface shape.
type OrderAck struct {
	OrderID string
	TsMs    int64
	Filled  bool
}

// Venue is the normalized market-data, precision and order-entry boundary
// every driver instance talks to, replacing hasattr-style dynamic dispatch
// against a particular exchange SDK with one fixed set of capabilities.
// Implementations translate their own wire formats into the
// Candle/BookTicker/Trade/FundingUpdate types above.
type Venue interface {
	// Name identifies the venue for logging and circuit breaker keying.
	Name() string

	// Subscribe starts streaming market data for symbol on the given
	// interval, pushing normalized updates onto the returned Stream
	// until ctx is cancelled or the subscription fails.
	Subscribe(ctx context.Context, symbol, interval string) (*Stream, error)

	// Klines fetches up to limit recent closed candles for warmup.
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// BookTicker polls the current top-of-book snapshot over REST, for
	// callers that don't hold an active Subscribe stream.
	BookTicker(ctx context.Context, symbol string) (BookTicker, error)

	// NewOrder places an order. Paper-trading callers never invoke this;
	// it exists for a live backend's order entry.
	NewOrder(ctx context.Context, symbol string, qty float64, side string) (OrderAck, error)

	// ExchangeInfo loads the symbol's exchange precision filters (step
	// size, tick size, min qty, min notional). A zero-value Filters
	// return is not an error; venues that expose no filters leave
	// precision enforcement to the caller's defaults.
	ExchangeInfo(ctx context.Context, symbol string) (Filters, error)

	// PremiumIndex polls the current funding rate for a perpetual
	// symbol. Venues with no funding concept (spot only) return
	// ErrNoFunding.
	PremiumIndex(ctx context.Context, symbol string) (FundingUpdate, error)
}

// Filters mirrors risk.ExchangeFilters without importing the risk
// package, so venue stays independent of sizing/execution concerns.
type Filters struct {
	StepSize    float64
	TickSize    float64
	MinQty      float64
	MinNotional float64
}

// Stream is the set of channels a Subscribe call returns. Consumers
// range over whichever channels they care about; a closed channel
// signals the subscription ended (context cancellation or terminal
// error, reported via Err).
type Stream struct {
	Candles     <-chan Candle
	BookTickers <-chan BookTicker
	Trades      <-chan Trade
	Err         <-chan error
}
